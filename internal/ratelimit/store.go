package ratelimit

import (
	"context"
	"time"
)

// SlideResult is the outcome of one sliding-window counter operation.
type SlideResult struct {
	// Count is the number of entries inside the trailing window after the
	// current request's entry was added.
	Count int

	// Marker identifies the entry added for this request so it can be
	// discounted later (decrement-on-skip). Unique per call.
	Marker string

	// WindowStart is the timestamp of the oldest entry still inside the
	// window; the zero value means the current entry is the only one.
	WindowStart time.Time
}

// CounterStore tracks keyed occurrence counts under a trailing time window.
// The shared implementation is Redis; a per-process fallback takes over when
// the store is unreachable. Implementations must make expire-then-insert-
// then-count atomic per key, or accept the bounded miscount documented in
// the local fallback.
type CounterStore interface {
	// Slide removes entries older than now-window, adds an entry for the
	// current request, and returns the resulting count.
	Slide(ctx context.Context, key string, window time.Duration) (SlideResult, error)

	// Forget removes exactly the entry identified by marker, if it is
	// still inside the window, and reports whether an entry was removed.
	// Removing an expired or unknown marker is a no-op. The removed flag
	// lets callers chase a marker into another store: an entry issued
	// during a store outage lives in the fallback, not the shared store.
	Forget(ctx context.Context, key, marker string) (bool, error)
}
