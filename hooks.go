package respcache

import "time"

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking.
// The cache calls them on hot paths.
type Hooks interface {
	// A valid entry was served without invoking the fetcher.
	// age is time since the entry was written.
	Hit(storageKey string, age time.Duration)

	// No usable entry; the fetcher is about to run.
	Miss(storageKey string)

	// A single entry was deleted by the cache on read.
	// reason ∈ {"corrupt", "value_decode"}
	SelfHeal(storageKey, reason string)

	// A store read failed and was downgraded to a miss (ReadFailOpen).
	ReadDegraded(storageKey string, err error)

	// Provider returned ok=false on Set (backpressure/eviction).
	WriteRejected(storageKey string)

	// Provider returned an error on Set; the caller sees *WriteError.
	WriteFailed(storageKey string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Hit(string, time.Duration)  {}
func (NopHooks) Miss(string)                {}
func (NopHooks) SelfHeal(string, string)    {}
func (NopHooks) ReadDegraded(string, error) {}
func (NopHooks) WriteRejected(string)       {}
func (NopHooks) WriteFailed(string, error)  {}
