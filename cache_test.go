package respcache

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	c "github.com/unkn0wn-root/respcache/codec"
	pr "github.com/unkn0wn-root/respcache/provider"
)

type memEntry struct {
	v   []byte
	exp time.Time // zero => no TTL
}

type memProvider struct {
	mu  sync.Mutex
	m   map[string]memEntry
	now func() time.Time
}

var _ pr.Provider = (*memProvider)(nil)

func newMemProvider() *memProvider {
	return &memProvider{m: make(map[string]memEntry), now: time.Now}
}

func (p *memProvider) Get(_ context.Context, key string) ([]byte, bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.m[key]
	if !ok {
		return nil, false, nil
	}
	if !e.exp.IsZero() && p.now().After(e.exp) {
		delete(p.m, key)
		return nil, false, nil
	}
	return e.v, true, nil
}

func (p *memProvider) Set(_ context.Context, key string, value []byte, _ int64, ttl time.Duration) (bool, error) {
	var exp time.Time
	if ttl > 0 {
		exp = p.now().Add(ttl)
	}
	p.mu.Lock()
	p.m[key] = memEntry{v: value, exp: exp}
	p.mu.Unlock()
	return true, nil
}

func (p *memProvider) Del(_ context.Context, key string) error {
	p.mu.Lock()
	delete(p.m, key)
	p.mu.Unlock()
	return nil
}

func (p *memProvider) Close(_ context.Context) error { return nil }

func (p *memProvider) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.m)
}

type getErrProvider struct {
	*memProvider
	err error
}

func (p *getErrProvider) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, p.err
}

type setErrProvider struct {
	*memProvider
	err error
}

func (p *setErrProvider) Set(context.Context, string, []byte, int64, time.Duration) (bool, error) {
	return false, p.err
}

type setRejectProvider struct {
	*memProvider
}

func (p *setRejectProvider) Set(context.Context, string, []byte, int64, time.Duration) (bool, error) {
	return false, nil
}

type user struct {
	ID    int    `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Age   int    `json:"age"`
}

var errNoUser = errors.New("user not found")

// spyFetcher counts invocations and serves from a fixed dataset.
type spyFetcher struct {
	mu    sync.Mutex
	calls int
	data  map[string]user
}

func (s *spyFetcher) fetch(_ context.Context, id string) (user, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	u, ok := s.data[id]
	if !ok {
		return user{}, errNoUser
	}
	return u, nil
}

func (s *spyFetcher) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newSpy() *spyFetcher {
	return &spyFetcher{data: map[string]user{
		"1": {ID: 1, Name: "Manas", Email: "manas@example.com", Age: 25},
		"2": {ID: 2, Name: "omkar", Email: "omkar@example.com", Age: 29},
	}}
}

func newTestCache(t *testing.T, mp pr.Provider, optsOpt func(*Options[user])) Cache[user] {
	t.Helper()
	opts := Options[user]{
		Namespace: "main",
		Entity:    "user",
		Provider:  mp,
		Codec:     c.JSON[user]{},
	}
	if optsOpt != nil {
		optsOpt(&opts)
	}
	cc, err := New[user](opts)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return cc
}

func mustImpl(t *testing.T, cc Cache[user]) *cache[user] {
	t.Helper()
	impl, ok := cc.(*cache[user])
	if !ok {
		t.Fatalf("unexpected concrete type for Cache")
	}
	return impl
}

// ==============================
// Cache-aside flow
// ==============================

// TestColdThenWarm verifies the core property: the first call invokes the
// fetcher, the second call within the TTL window does not.
func TestColdThenWarm(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache(t, mp, nil)
	defer cc.Close(ctx)

	spy := newSpy()
	want := spy.data["1"]

	got, err := cc.GetOrFetch(ctx, "1", spy.fetch)
	if err != nil {
		t.Fatalf("cold GetOrFetch: %v", err)
	}
	if got != want {
		t.Fatalf("cold GetOrFetch: got %+v want %+v", got, want)
	}
	if spy.count() != 1 {
		t.Fatalf("cold call should fetch once, got %d", spy.count())
	}

	got2, err := cc.GetOrFetch(ctx, "1", spy.fetch)
	if err != nil {
		t.Fatalf("warm GetOrFetch: %v", err)
	}
	if got2 != want {
		t.Fatalf("warm GetOrFetch: got %+v want %+v", got2, want)
	}
	if spy.count() != 1 {
		t.Fatalf("warm call must not re-fetch, got %d calls", spy.count())
	}
}

func TestWrapComposition(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache(t, mp, nil)
	defer cc.Close(ctx)

	spy := newSpy()
	fetch := cc.Wrap(spy.fetch)

	for i := 0; i < 3; i++ {
		u, err := fetch(ctx, "2")
		if err != nil {
			t.Fatalf("wrapped fetch #%d: %v", i, err)
		}
		if u != spy.data["2"] {
			t.Fatalf("wrapped fetch #%d: got %+v", i, u)
		}
	}
	if spy.count() != 1 {
		t.Fatalf("wrapped fetcher should run once, got %d", spy.count())
	}
}

// Domain errors pass through unchanged and nothing is ever written.
func TestNotFoundNeverCached(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache(t, mp, nil)
	defer cc.Close(ctx)

	spy := newSpy()
	for i := 1; i <= 3; i++ {
		if _, err := cc.GetOrFetch(ctx, "99", spy.fetch); !errors.Is(err, errNoUser) {
			t.Fatalf("call %d: expected errNoUser, got %v", i, err)
		}
		if spy.count() != i {
			t.Fatalf("call %d: not-found must re-fetch every time, got %d", i, spy.count())
		}
	}
	if mp.len() != 0 {
		t.Fatalf("not-found must never write to the store, found %d entries", mp.len())
	}
}

// After the TTL elapses the store misses and the fetcher runs again.
func TestExpiryRefetches(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	base := time.Now()
	mp.now = func() time.Time { return base }

	cc := newTestCache(t, mp, func(o *Options[user]) {
		o.DefaultTTL = time.Minute
	})
	defer cc.Close(ctx)

	spy := newSpy()
	if _, err := cc.GetOrFetch(ctx, "1", spy.fetch); err != nil {
		t.Fatalf("cold: %v", err)
	}
	if _, err := cc.GetOrFetch(ctx, "1", spy.fetch); err != nil {
		t.Fatalf("warm: %v", err)
	}
	if spy.count() != 1 {
		t.Fatalf("expected 1 fetch before expiry, got %d", spy.count())
	}

	mp.now = func() time.Time { return base.Add(2 * time.Minute) }
	if _, err := cc.GetOrFetch(ctx, "1", spy.fetch); err != nil {
		t.Fatalf("post-expiry: %v", err)
	}
	if spy.count() != 2 {
		t.Fatalf("expected re-fetch after expiry, got %d fetches", spy.count())
	}
}

// ==============================
// Failure policies
// ==============================

// A failed store write is fail-loud: the fetcher completed, but the caller
// sees *WriteError carrying the cause.
func TestWriteFailureSurfaced(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("store down")
	mp := &setErrProvider{memProvider: newMemProvider(), err: cause}
	cc := newTestCache(t, mp, nil)
	defer cc.Close(ctx)

	spy := newSpy()
	v, err := cc.GetOrFetch(ctx, "1", spy.fetch)
	if spy.count() != 1 {
		t.Fatalf("fetch should have completed, got %d calls", spy.count())
	}
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("expected *WriteError, got %T: %v", err, err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("WriteError should unwrap to the cause")
	}
	// The computed value travels with the error for callers that serve anyway.
	if v != spy.data["1"] {
		t.Fatalf("expected fetched value alongside WriteError, got %+v", v)
	}
}

// ok=false from the provider is backpressure, not an error.
func TestWriteRejectedIsNotAnError(t *testing.T) {
	ctx := context.Background()
	mp := &setRejectProvider{memProvider: newMemProvider()}
	cc := newTestCache(t, mp, nil)
	defer cc.Close(ctx)

	spy := newSpy()
	if _, err := cc.GetOrFetch(ctx, "1", spy.fetch); err != nil {
		t.Fatalf("rejected write must not error: %v", err)
	}
}

func TestReadFailOpenDegradesToMiss(t *testing.T) {
	ctx := context.Background()
	mp := &getErrProvider{memProvider: newMemProvider(), err: errors.New("read timeout")}
	cc := newTestCache(t, mp, nil) // ReadFailOpen is the default
	defer cc.Close(ctx)

	spy := newSpy()
	v, err := cc.GetOrFetch(ctx, "1", spy.fetch)
	if err != nil {
		t.Fatalf("fail-open read must serve the caller: %v", err)
	}
	if v != spy.data["1"] || spy.count() != 1 {
		t.Fatalf("expected fetch fallback, v=%+v calls=%d", v, spy.count())
	}
}

func TestReadFailClosedSurfacesReadError(t *testing.T) {
	ctx := context.Background()
	cause := errors.New("read timeout")
	mp := &getErrProvider{memProvider: newMemProvider(), err: cause}
	cc := newTestCache(t, mp, func(o *Options[user]) {
		o.ReadPolicy = ReadFailClosed
	})
	defer cc.Close(ctx)

	spy := newSpy()
	_, err := cc.GetOrFetch(ctx, "1", spy.fetch)
	var re *ReadError
	if !errors.As(err, &re) {
		t.Fatalf("expected *ReadError, got %T: %v", err, err)
	}
	if !errors.Is(err, cause) {
		t.Fatalf("ReadError should unwrap to the cause")
	}
	if spy.count() != 0 {
		t.Fatalf("fail-closed read must not invoke the fetcher")
	}
}

// ==============================
// Entry hygiene
// ==============================

// Corrupt provider bytes are deleted on read and treated as a miss.
func TestSelfHealOnCorrupt(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache(t, mp, nil)
	defer cc.Close(ctx)

	impl := mustImpl(t, cc)
	storageKey := impl.entryKey("1")

	if ok, err := mp.Set(ctx, storageKey, []byte("not-wire-format"), 1, time.Minute); err != nil || !ok {
		t.Fatalf("inject corrupt: ok=%v err=%v", ok, err)
	}

	if _, ok, err := cc.Get(ctx, "1"); err != nil || ok {
		t.Fatalf("Get on corrupt should miss, ok=%v err=%v", ok, err)
	}
	if _, ok, _ := mp.Get(ctx, storageKey); ok {
		t.Fatalf("corrupt entry was not deleted by self-heal")
	}

	// And GetOrFetch recovers by re-fetching and repopulating.
	spy := newSpy()
	if _, err := cc.GetOrFetch(ctx, "1", spy.fetch); err != nil {
		t.Fatalf("GetOrFetch after self-heal: %v", err)
	}
	if spy.count() != 1 {
		t.Fatalf("expected one recovery fetch, got %d", spy.count())
	}
}

func TestInvalidateForcesRefetch(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache(t, mp, nil)
	defer cc.Close(ctx)

	spy := newSpy()
	if _, err := cc.GetOrFetch(ctx, "1", spy.fetch); err != nil {
		t.Fatalf("cold: %v", err)
	}
	if err := cc.Invalidate(ctx, "1"); err != nil {
		t.Fatalf("Invalidate: %v", err)
	}
	if _, err := cc.GetOrFetch(ctx, "1", spy.fetch); err != nil {
		t.Fatalf("post-invalidate: %v", err)
	}
	if spy.count() != 2 {
		t.Fatalf("expected re-fetch after invalidate, got %d", spy.count())
	}
}

// ==============================
// Options behavior
// ==============================

func TestDisabledAlwaysFetches(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache(t, mp, func(o *Options[user]) {
		o.Disabled = true
	})
	defer cc.Close(ctx)

	spy := newSpy()
	for i := 1; i <= 2; i++ {
		if _, err := cc.GetOrFetch(ctx, "1", spy.fetch); err != nil {
			t.Fatalf("disabled GetOrFetch: %v", err)
		}
	}
	if spy.count() != 2 {
		t.Fatalf("disabled cache must fetch every call, got %d", spy.count())
	}
	if mp.len() != 0 {
		t.Fatalf("disabled cache must not write, found %d entries", mp.len())
	}
}

func TestKeyComposition(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache(t, mp, nil)
	defer cc.Close(ctx)

	spy := newSpy()
	if _, err := cc.GetOrFetch(ctx, "1", spy.fetch); err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()
	if _, ok := mp.m["main:user:1"]; !ok {
		keys := make([]string, 0, len(mp.m))
		for k := range mp.m {
			keys = append(keys, k)
		}
		t.Fatalf("expected key main:user:1, found %v", keys)
	}
}

func TestKeyOverride(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache(t, mp, func(o *Options[user]) {
		o.Key = func(id string) string { return "custom|" + id }
	})
	defer cc.Close(ctx)

	spy := newSpy()
	if _, err := cc.GetOrFetch(ctx, "1", spy.fetch); err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	mp.mu.Lock()
	_, ok := mp.m["custom|1"]
	mp.mu.Unlock()
	if !ok {
		t.Fatalf("injected key derivation was not used")
	}
}

func TestNewValidation(t *testing.T) {
	mp := newMemProvider()
	cases := map[string]Options[user]{
		"missing provider":  {Namespace: "main", Entity: "user", Codec: c.JSON[user]{}},
		"missing codec":     {Namespace: "main", Entity: "user", Provider: mp},
		"missing namespace": {Entity: "user", Provider: mp, Codec: c.JSON[user]{}},
		"missing entity":    {Namespace: "main", Provider: mp, Codec: c.JSON[user]{}},
	}
	for name, opts := range cases {
		if _, err := New[user](opts); err == nil {
			t.Fatalf("%s: New should fail", name)
		}
	}

	// Entity may be omitted when Key is injected.
	if _, err := New[user](Options[user]{
		Namespace: "main",
		Provider:  mp,
		Codec:     c.JSON[user]{},
		Key:       func(id string) string { return "k:" + id },
	}); err != nil {
		t.Fatalf("New with Key override: %v", err)
	}
}

// ==============================
// Opt-in coalescing
// ==============================

// With Coalesce enabled, concurrent misses for one key share a single fetch.
func TestCoalesceSharesOneFetch(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache(t, mp, func(o *Options[user]) {
		o.Coalesce = true
	})
	defer cc.Close(ctx)

	var calls int
	var mu sync.Mutex
	entered := make(chan struct{})
	release := make(chan struct{})

	fetch := func(_ context.Context, id string) (user, error) {
		mu.Lock()
		calls++
		if calls == 1 {
			close(entered)
		}
		mu.Unlock()
		<-release
		return user{ID: 1, Name: "Manas", Email: "manas@example.com", Age: 25}, nil
	}

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func(i int) {
			defer wg.Done()
			_, errs[i] = cc.GetOrFetch(ctx, "1", fetch)
		}(i)
	}

	<-entered
	time.Sleep(20 * time.Millisecond) // let the rest queue up on the flight
	close(release)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Fatalf("caller %d: %v", i, err)
		}
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Fatalf("coalesced misses should fetch once, got %d", calls)
	}
}

// ==============================
// Serialization round-trip
// ==============================

// Spec property: a record written to the store decodes to an equal record.
func TestRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache(t, mp, nil)
	defer cc.Close(ctx)

	want := user{ID: 3, Name: "anand", Email: "anand@example.com", Age: 27}
	if err := cc.Set(ctx, "3", want, 0); err != nil {
		t.Fatalf("Set: %v", err)
	}
	got, ok, err := cc.Get(ctx, "3")
	if err != nil || !ok {
		t.Fatalf("Get: ok=%v err=%v", ok, err)
	}
	if got != want {
		t.Fatalf("round-trip mismatch: got %+v want %+v", got, want)
	}
}

func TestLongIDFingerprinted(t *testing.T) {
	ctx := context.Background()
	mp := newMemProvider()
	cc := newTestCache(t, mp, nil)
	defer cc.Close(ctx)

	longID := strings.Repeat("x", 1024)
	spy := &spyFetcher{data: map[string]user{
		longID: {ID: 7, Name: "long", Email: "long@example.com", Age: 1},
	}}

	if _, err := cc.GetOrFetch(ctx, longID, spy.fetch); err != nil {
		t.Fatalf("GetOrFetch: %v", err)
	}
	if _, err := cc.GetOrFetch(ctx, longID, spy.fetch); err != nil {
		t.Fatalf("warm GetOrFetch: %v", err)
	}
	if spy.count() != 1 {
		t.Fatalf("fingerprinted id should still hit, got %d fetches", spy.count())
	}

	mp.mu.Lock()
	defer mp.mu.Unlock()
	for k := range mp.m {
		if len(k) > len("main:user:")+64 {
			t.Fatalf("store key not fingerprinted: %q", k)
		}
	}
}
