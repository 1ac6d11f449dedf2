package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"security-service/internal/util"
)

type localEntry struct {
	at     time.Time
	marker string
}

// LocalWindow is the per-process fallback counter used when the shared store
// is unreachable. Consistent only within one process: under fallback the
// effective limits are per-instance, not global.
type LocalWindow struct {
	mu      sync.Mutex
	entries map[string][]localEntry
	now     func() time.Time
	seq     atomic.Uint64

	stopOnce sync.Once
	stop     chan struct{}
}

func NewLocalWindow() *LocalWindow {
	return &LocalWindow{
		entries: make(map[string][]localEntry),
		now:     time.Now,
		stop:    make(chan struct{}),
	}
}

var _ CounterStore = (*LocalWindow)(nil)

// Slide prunes expired entries for key, appends one for this request, and
// returns the count. Never fails.
func (w *LocalWindow) Slide(_ context.Context, key string, window time.Duration) (SlideResult, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	now := w.now()
	cutoff := now.Add(-window)

	kept := w.entries[key][:0]
	for _, e := range w.entries[key] {
		if e.at.After(cutoff) {
			kept = append(kept, e)
		}
	}

	marker := fmt.Sprintf("local-%d-%d", now.UnixNano(), w.seq.Add(1))
	kept = append(kept, localEntry{at: now, marker: marker})
	w.entries[key] = kept

	return SlideResult{
		Count:       len(kept),
		Marker:      marker,
		WindowStart: kept[0].at,
	}, nil
}

// Forget removes exactly the entry with the given marker for key.
func (w *LocalWindow) Forget(_ context.Context, key, marker string) (bool, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	entries := w.entries[key]
	for i, e := range entries {
		if e.marker == marker {
			w.entries[key] = append(entries[:i], entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

// StartReaper prunes fully expired keys on a low-priority interval so idle
// keys do not accumulate. maxWindow should be the longest configured window.
func (w *LocalWindow) StartReaper(interval, maxWindow time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				w.reap(maxWindow)
			case <-w.stop:
				return
			}
		}
	}()
}

// Stop halts the reaper. There is no in-flight work to cancel.
func (w *LocalWindow) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

func (w *LocalWindow) reap(maxWindow time.Duration) {
	w.mu.Lock()
	defer w.mu.Unlock()

	cutoff := w.now().Add(-maxWindow)
	removed := 0
	for key, entries := range w.entries {
		kept := entries[:0]
		for _, e := range entries {
			if e.at.After(cutoff) {
				kept = append(kept, e)
			}
		}
		if len(kept) == 0 {
			delete(w.entries, key)
			removed++
		} else {
			w.entries[key] = kept
		}
	}

	if removed > 0 {
		util.Debug("Local fallback window reaped", zap.Int("keys_removed", removed))
	}
}

// Len reports the number of tracked keys; used by tests and shutdown logging.
func (w *LocalWindow) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.entries)
}
