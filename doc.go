// Package respcache implements a provider-agnostic cache-aside wrapper for
// response-shaped values. A wrapped fetcher first probes the byte store; on a
// hit the stored entry is decoded and returned without invoking the fetcher,
// on a miss the fetcher runs and its result is written back with a TTL.
//
// Components:
//   - Provider: byte store with TTL (e.g. Redis, BigCache, Ristretto, local).
//   - Codec[V]: (de)serializes V <-> []byte.
//   - internal/wire: versioned envelope around the encoded payload; corrupt
//     entries are deleted on read and treated as misses.
//
// Keys:
//
//	<namespace>:<entity>:<id>  - one entry per logical input
//
// Cache-aside pattern:
//
//	fetch := cache.Wrap(func(ctx context.Context, id string) (User, error) {
//	    return store.User(ctx, id) // runs only on a miss
//	})
//	u, err := fetch(ctx, "1")
//
// Error policy: a fetcher error passes through unchanged and is never cached.
// A store write failure after a successful fetch is surfaced as *WriteError
// (fail-loud). A store read failure degrades to a miss under the default
// ReadFailOpen policy, or is surfaced as *ReadError under ReadFailClosed.
//
// No stampede protection is applied by default: concurrent misses for the
// same key may each run the fetcher. Options.Coalesce enables per-process
// single-flight coalescing for callers that want it.
package respcache
