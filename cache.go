package respcache

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	c "github.com/unkn0wn-root/respcache/codec"
	"github.com/unkn0wn-root/respcache/internal/keys"
	"github.com/unkn0wn-root/respcache/internal/wire"
	pr "github.com/unkn0wn-root/respcache/provider"
)

const defaultTTL = 60 * time.Second

type cache[V any] struct {
	ns     string
	entity string
	keyFn  func(id string) string

	provider pr.Provider
	codec    c.Codec[V]
	log      Logger
	hooks    Hooks

	enabled    bool
	ttl        time.Duration
	readPolicy ReadPolicy
	setCost    SetCostFunc

	flight *singleflight.Group // nil unless Coalesce
}

func newCache[V any](opts Options[V]) (*cache[V], error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("respcache: provider is required")
	}
	if opts.Codec == nil {
		return nil, fmt.Errorf("respcache: codec is required")
	}
	if opts.Namespace == "" {
		return nil, fmt.Errorf("respcache: namespace is required")
	}
	if opts.Entity == "" && opts.Key == nil {
		return nil, fmt.Errorf("respcache: entity is required unless Key is set")
	}

	c := &cache[V]{
		ns:         opts.Namespace,
		entity:     opts.Entity,
		keyFn:      opts.Key,
		provider:   opts.Provider,
		codec:      opts.Codec,
		enabled:    !opts.Disabled,
		readPolicy: opts.ReadPolicy,
	}

	// defaults
	c.log = coalesce[Logger](opts.Logger, NopLogger{})
	c.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	c.ttl = coalesce[time.Duration](opts.DefaultTTL, defaultTTL)

	if opts.ComputeSetCost != nil {
		c.setCost = opts.ComputeSetCost
	} else {
		c.setCost = func(_ string, _ []byte) int64 { return 1 }
	}

	if opts.Coalesce {
		c.flight = &singleflight.Group{}
	}

	return c, nil
}

func (c *cache[V]) Enabled() bool { return c.enabled }

func (c *cache[V]) Close(ctx context.Context) error {
	if c.provider != nil {
		return c.provider.Close(ctx)
	}
	return nil
}

func (c *cache[V]) Get(ctx context.Context, id string) (V, bool, error) {
	var zero V
	if !c.enabled {
		return zero, false, nil
	}
	k := c.entryKey(id)
	v, ok, err := c.read(ctx, k)
	if err != nil {
		if c.readPolicy == ReadFailClosed {
			return zero, false, &ReadError{Key: k, Err: err}
		}
		c.hooks.ReadDegraded(k, err)
		c.log.Warn("read degraded to miss", Fields{"key": k, "err": err})
		return zero, false, nil
	}
	return v, ok, nil
}

func (c *cache[V]) Set(ctx context.Context, id string, value V, ttl time.Duration) error {
	if !c.enabled {
		return nil
	}
	if ttl == 0 {
		ttl = c.ttl
	}
	return c.write(ctx, c.entryKey(id), value, ttl)
}

func (c *cache[V]) GetOrFetch(ctx context.Context, id string, fetch Fetcher[V]) (V, error) {
	var zero V
	if !c.enabled {
		return fetch(ctx, id)
	}

	k := c.entryKey(id)
	if v, ok, err := c.read(ctx, k); err != nil {
		if c.readPolicy == ReadFailClosed {
			return zero, &ReadError{Key: k, Err: err}
		}
		c.hooks.ReadDegraded(k, err)
		c.log.Warn("read degraded to miss", Fields{"key": k, "err": err})
	} else if ok {
		return v, nil
	}

	c.hooks.Miss(k)

	if c.flight == nil {
		return c.fetchAndStore(ctx, k, id, fetch)
	}

	// Coalesce concurrent misses for the same key into one fetch.
	// Duplicate callers share the leader's value and error.
	res, err, _ := c.flight.Do(k, func() (any, error) {
		return c.fetchAndStore(ctx, k, id, fetch)
	})
	v, _ := res.(V)
	return v, err
}

func (c *cache[V]) fetchAndStore(ctx context.Context, storageKey, id string, fetch Fetcher[V]) (V, error) {
	var zero V
	v, err := fetch(ctx, id)
	if err != nil {
		// domain errors pass through untouched and are never cached
		return zero, err
	}
	if err := c.write(ctx, storageKey, v, c.ttl); err != nil {
		// fail-loud: the value exists, but the caller must learn the cache
		// layer is broken. v is still returned for callers that choose to
		// serve it anyway.
		return v, err
	}
	return v, nil
}

func (c *cache[V]) Wrap(fetch Fetcher[V]) Fetcher[V] {
	return func(ctx context.Context, id string) (V, error) {
		return c.GetOrFetch(ctx, id, fetch)
	}
}

func (c *cache[V]) Invalidate(ctx context.Context, id string) error {
	if !c.enabled {
		return nil
	}
	k := c.entryKey(id)
	if err := c.provider.Del(ctx, k); err != nil {
		return err
	}
	c.log.Debug("invalidated key", Fields{"key": k})
	return nil
}

// read probes the store and decodes the envelope. Corrupt or undecodable
// entries are deleted (self-heal) and reported as a miss.
func (c *cache[V]) read(ctx context.Context, storageKey string) (V, bool, error) {
	var zero V
	raw, ok, err := c.provider.Get(ctx, storageKey)
	if err != nil || !ok {
		return zero, false, err
	}
	storedAt, payload, err := wire.Decode(raw)
	if err != nil {
		_ = c.provider.Del(ctx, storageKey)
		c.hooks.SelfHeal(storageKey, "corrupt")
		return zero, false, nil
	}
	v, err := c.codec.Decode(payload)
	if err != nil {
		_ = c.provider.Del(ctx, storageKey)
		c.hooks.SelfHeal(storageKey, "value_decode")
		return zero, false, nil
	}
	c.hooks.Hit(storageKey, time.Since(storedAt))
	return v, true, nil
}

func (c *cache[V]) write(ctx context.Context, storageKey string, value V, ttl time.Duration) error {
	payload, err := c.codec.Encode(value)
	if err != nil {
		c.hooks.WriteFailed(storageKey, err)
		return &WriteError{Key: storageKey, Err: err}
	}
	wireb := wire.Encode(time.Now(), payload)
	ok, err := c.provider.Set(ctx, storageKey, wireb, c.setCost(storageKey, wireb), ttl)
	if err != nil {
		c.hooks.WriteFailed(storageKey, err)
		return &WriteError{Key: storageKey, Err: err}
	}
	if !ok {
		c.hooks.WriteRejected(storageKey)
		c.log.Debug("Set rejected by provider (pressure)", Fields{"key": storageKey})
	}
	return nil
}

func (c *cache[V]) entryKey(id string) string {
	if c.keyFn != nil {
		return c.keyFn(id)
	}
	return keys.Entry(c.ns, c.entity, id)
}
