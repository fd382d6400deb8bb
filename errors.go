package respcache

import "fmt"

// WriteError reports a failed store write after the fetcher already produced
// a value. Surfaced instead of being swallowed so cache outages are visible
// to callers (fail-loud policy).
type WriteError struct {
	Key string
	Err error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("respcache: write %q failed: %v", e.Key, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ReadError reports a failed store read under ReadFailClosed.
// Under ReadFailOpen (default) read failures degrade to misses instead.
type ReadError struct {
	Key string
	Err error
}

func (e *ReadError) Error() string {
	return fmt.Sprintf("respcache: read %q failed: %v", e.Key, e.Err)
}

func (e *ReadError) Unwrap() error { return e.Err }
