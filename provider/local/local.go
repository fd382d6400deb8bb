package local

import (
	"context"
	"sync"
	"time"

	pr "github.com/unkn0wn-root/respcache/provider"
)

type entry struct {
	value []byte
	exp   time.Time // zero => no expiry
}

// Provider keeps entries in-process behind a mutex-guarded map with an
// optional sweep loop pruning expired entries. Intended for development,
// tests and single-replica deployments that do not want external
// infrastructure; expired entries are also filtered lazily on Get.
type Provider struct {
	mu      sync.RWMutex
	entries map[string]entry

	ticker *time.Ticker
	stopCh chan struct{}
	wg     sync.WaitGroup
	once   sync.Once

	now func() time.Time
}

var _ pr.Provider = (*Provider)(nil)

// New constructs a local provider. sweepInterval <= 0 disables the
// background sweep; TTLs are still honored lazily on Get.
func New(sweepInterval time.Duration) *Provider {
	p := &Provider{
		entries: make(map[string]entry),
		now:     time.Now,
	}
	if sweepInterval > 0 {
		p.ticker = time.NewTicker(sweepInterval)
		p.stopCh = make(chan struct{})
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-p.ticker.C:
					p.sweep()
				case <-p.stopCh:
					return
				}
			}
		}()
	}
	return p
}

func (p *Provider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.RLock()
	e, ok := p.entries[key]
	p.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && p.now().After(e.exp) {
		p.mu.Lock()
		if cur, ok := p.entries[key]; ok && cur.exp.Equal(e.exp) {
			delete(p.entries, key)
		}
		p.mu.Unlock()
		return nil, false, nil
	}
	return e.value, true, nil
}

func (p *Provider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = p.now().Add(ttl)
	}
	p.mu.Lock()
	p.entries[key] = entry{value: value, exp: exp}
	p.mu.Unlock()
	return true, nil
}

func (p *Provider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.entries, key)
	p.mu.Unlock()
	return nil
}

func (p *Provider) Close(_ context.Context) error {
	p.once.Do(func() {
		if p.stopCh != nil {
			close(p.stopCh)
			p.ticker.Stop() // stop ticker before waiting
			p.wg.Wait()
		}
	})
	return nil
}

func (p *Provider) sweep() {
	cutoff := p.now()

	p.mu.Lock()
	for k, e := range p.entries {
		if !e.exp.IsZero() && e.exp.Before(cutoff) {
			delete(p.entries, k)
		}
	}
	p.mu.Unlock()
}
