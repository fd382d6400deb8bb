// usage:
//
// import (
//
//	"log/slog"
//
//	"github.com/unkn0wn-root/respcache"
//	"github.com/unkn0wn-root/respcache/hooks/async"
//	"github.com/unkn0wn-root/respcache/sloghooks"
//
// )
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{
//	    HitEvery:  100, // sample logs: ~every 100th hit
//	    MissEvery: 1,   // log every miss
//	})
//
// hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
// defer hooks.Close()
//
//	cache, _ := respcache.New[User](respcache.Options[User]{
//	    Namespace: "main",
//	    Entity:    "user",
//	    Provider:  provider,
//	    Codec:     codec.JSON[User]{},
//	    Hooks:     hooks, // or `raw` if you don’t want async
//	})
package asynchook

import (
	"sync"
	"time"

	"github.com/unkn0wn-root/respcache"
)

type Hooks struct {
	inner respcache.Hooks
	q     chan func()
	wg    sync.WaitGroup
	once  sync.Once
}

var _ respcache.Hooks = (*Hooks)(nil)

func New(inner respcache.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

func (h *Hooks) try(f func()) {
	select {
	case h.q <- f:
	default: // drop
	}
}

func (h *Hooks) Hit(k string, age time.Duration) { h.try(func() { h.inner.Hit(k, age) }) }
func (h *Hooks) Miss(k string)                   { h.try(func() { h.inner.Miss(k) }) }
func (h *Hooks) SelfHeal(k, reason string)       { h.try(func() { h.inner.SelfHeal(k, reason) }) }
func (h *Hooks) WriteRejected(k string)          { h.try(func() { h.inner.WriteRejected(k) }) }
func (h *Hooks) ReadDegraded(k string, err error) {
	h.try(func() { h.inner.ReadDegraded(k, err) })
}
func (h *Hooks) WriteFailed(k string, err error) {
	h.try(func() { h.inner.WriteFailed(k, err) })
}
