package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalWindowSlideCountsWithinWindow(t *testing.T) {
	w := NewLocalWindow()
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := w.Slide(ctx, "auth:10.0.0.1", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, i, res.Count)
		clock = clock.Add(time.Second)
	}
}

func TestLocalWindowSlidesOutOldEntries(t *testing.T) {
	w := NewLocalWindow()
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	ctx := context.Background()

	res, err := w.Slide(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Count)

	// Just inside the window: the first entry still counts.
	clock = clock.Add(59 * time.Second)
	res, err = w.Slide(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)

	// The first entry ages out; only the second and third remain.
	clock = clock.Add(2 * time.Second)
	res, err = w.Slide(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count)
}

func TestLocalWindowWindowStartTracksOldestEntry(t *testing.T) {
	w := NewLocalWindow()
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	first := clock
	_, err := w.Slide(context.Background(), "k", time.Minute)
	require.NoError(t, err)

	clock = clock.Add(10 * time.Second)
	res, err := w.Slide(context.Background(), "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, first, res.WindowStart)
}

func TestLocalWindowForgetRemovesExactlyOneEntry(t *testing.T) {
	w := NewLocalWindow()
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	ctx := context.Background()

	first, err := w.Slide(ctx, "k", time.Minute)
	require.NoError(t, err)
	_, err = w.Slide(ctx, "k", time.Minute)
	require.NoError(t, err)

	removed, err := w.Forget(ctx, "k", first.Marker)
	require.NoError(t, err)
	assert.True(t, removed)

	res, err := w.Slide(ctx, "k", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Count, "one of the two prior entries should be gone")

	// Forgetting an unknown marker is a no-op, not an error.
	removed, err = w.Forget(ctx, "k", "no-such-marker")
	require.NoError(t, err)
	assert.False(t, removed)

	removed, err = w.Forget(ctx, "missing-key", first.Marker)
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestLocalWindowMarkersAreUnique(t *testing.T) {
	w := NewLocalWindow()
	fixed := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return fixed }

	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		res, err := w.Slide(context.Background(), "k", time.Minute)
		require.NoError(t, err)
		assert.False(t, seen[res.Marker], "marker %q repeated", res.Marker)
		seen[res.Marker] = true
	}
}

func TestLocalWindowReapDropsExpiredKeys(t *testing.T) {
	w := NewLocalWindow()
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	w.now = func() time.Time { return clock }

	_, err := w.Slide(context.Background(), "stale", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, w.Len())

	clock = clock.Add(2 * time.Minute)
	w.reap(time.Minute)
	assert.Equal(t, 0, w.Len())
}

func TestLocalWindowStopIsIdempotent(t *testing.T) {
	w := NewLocalWindow()
	w.StartReaper(time.Hour, time.Hour)
	w.Stop()
	w.Stop()
}
