package respcache

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/respcache/codec"
	pr "github.com/unkn0wn-root/respcache/provider"
)

// Fetcher produces the value for one identifying argument. It is the
// function being decorated: idempotent, side-effect-free with respect to
// caching, and the sole owner of domain errors (e.g. not-found).
type Fetcher[V any] func(ctx context.Context, id string) (V, error)

type SetCostFunc func(key string, raw []byte) int64

// ReadPolicy decides what a store read failure means to callers.
type ReadPolicy int

const (
	// ReadFailOpen treats a failed store read as a miss: the fetcher runs
	// and the caller is served. The failure is reported via Hooks and logs.
	ReadFailOpen ReadPolicy = iota
	// ReadFailClosed surfaces a failed store read as *ReadError without
	// invoking the fetcher.
	ReadFailClosed
)

// Cache is the high-level, provider-agnostic cache-aside API.
// V is the caller's value type. Serialization is handled by a pluggable Codec[V].
type Cache[V any] interface {
	Enabled() bool
	Close(context.Context) error

	// Get probes the store directly. Corrupt entries are deleted and
	// reported as a miss.
	Get(ctx context.Context, id string) (v V, ok bool, err error)
	// Set encodes and stores a value under the derived key. ttl == 0 uses
	// the configured default.
	Set(ctx context.Context, id string, value V, ttl time.Duration) error
	// GetOrFetch is the cache-aside operation: hit short-circuits fetch;
	// miss runs fetch, writes back, and returns. A fetch error passes
	// through unchanged and is never cached. A write failure returns the
	// fetched value together with a *WriteError.
	GetOrFetch(ctx context.Context, id string, fetch Fetcher[V]) (V, error)
	// Wrap returns a fetcher with an identical signature that routes every
	// call through GetOrFetch.
	Wrap(fetch Fetcher[V]) Fetcher[V]
	// Invalidate removes the entry for id (best-effort).
	Invalidate(ctx context.Context, id string) error
}

// Options tune the behavior of the cache-aside wrapper.
// Namespace, Entity, Provider and Codec are required; others have defaults.
type Options[V any] struct {
	// Required
	Namespace string // scopes keys to one deployment/dataset, e.g. "main"
	Entity    string // fixed key tag naming the record kind, e.g. "user"
	Provider  pr.Provider
	Codec     c.Codec[V]

	Logger         Logger        // if nil, NopLogger is used
	Hooks          Hooks         // if nil, NopHooks is used
	DefaultTTL     time.Duration // 0 => 60s
	ReadPolicy     ReadPolicy    // default ReadFailOpen
	Coalesce       bool          // opt-in per-process single-flight on misses
	Disabled       bool          // default false (enabled)
	ComputeSetCost SetCostFunc   // default 1

	// Key overrides key derivation entirely. When nil, keys are
	// Namespace + ":" + Entity + ":" + id (with long ids fingerprinted).
	Key func(id string) string
}

func New[V any](opts Options[V]) (Cache[V], error) {
	return newCache[V](opts)
}
