package ratelimit

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-service/internal/config"
	"security-service/internal/models"
)

// failingStore simulates an unreachable shared counter store.
type failingStore struct{}

func (failingStore) Slide(context.Context, string, time.Duration) (SlideResult, error) {
	return SlideResult{}, fmt.Errorf("connection refused")
}

func (failingStore) Forget(context.Context, string, string) (bool, error) {
	return false, fmt.Errorf("connection refused")
}

// blindStore simulates a store that was down when the entry was added but
// has recovered by the time it is forgotten: Slide fails, Forget succeeds
// without finding the marker.
type blindStore struct{}

func (blindStore) Slide(context.Context, string, time.Duration) (SlideResult, error) {
	return SlideResult{}, fmt.Errorf("connection refused")
}

func (blindStore) Forget(context.Context, string, string) (bool, error) {
	return false, nil
}

// capturingSink records denial events for assertions.
type capturingSink struct {
	events []*models.SecurityEvent
}

func (s *capturingSink) Record(_ context.Context, event *models.SecurityEvent) (string, error) {
	s.events = append(s.events, event)
	return event.ID, nil
}

func testPolicies() map[string]config.NamespacePolicy {
	return map[string]config.NamespacePolicy{
		"auth": {Window: time.Minute, Max: 3, SkipSuccess: true},
		"api":  {Window: time.Minute, Max: 5, BurstWindow: 10 * time.Second, BurstMax: 2},
	}
}

func newTestLimiter(sink EventSink) *Limiter {
	return NewLimiter(testPolicies(), nil, NewLocalWindow(), sink)
}

func TestLimiterAllowsUpToLimit(t *testing.T) {
	l := newTestLimiter(nil)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		d, err := l.Check(ctx, "auth", "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d should be allowed", i)
		assert.Equal(t, 3, d.Limit)
		assert.Equal(t, i, d.Count)
		assert.Equal(t, 3-i, d.Remaining)
		assert.NotEmpty(t, d.Marker)
	}

	d, err := l.Check(ctx, "auth", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.GreaterOrEqual(t, d.RetryAfter, time.Duration(0))
}

func TestLimiterKeysAreIndependent(t *testing.T) {
	l := newTestLimiter(nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, "auth", "10.0.0.1")
		require.NoError(t, err)
	}

	d, err := l.Check(ctx, "auth", "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a different identifier has its own budget")

	d, err = l.Check(ctx, "api", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a different namespace has its own budget")
}

func TestLimiterResetsAfterWindow(t *testing.T) {
	fallback := NewLocalWindow()
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	fallback.now = func() time.Time { return clock }

	l := NewLimiter(testPolicies(), nil, fallback, nil)
	l.now = fallback.now
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, "auth", "10.0.0.1")
		require.NoError(t, err)
	}
	d, err := l.Check(ctx, "auth", "10.0.0.1")
	require.NoError(t, err)
	require.False(t, d.Allowed)

	clock = clock.Add(time.Minute + time.Second)

	d, err = l.Check(ctx, "auth", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "budget should be restored after the window passes")
	assert.Equal(t, 1, d.Count)
}

func TestLimiterUnknownNamespace(t *testing.T) {
	l := newTestLimiter(nil)

	_, err := l.Check(context.Background(), "nope", "10.0.0.1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown rate limit namespace")
}

func TestLimiterRejectsMalformedKeys(t *testing.T) {
	l := newTestLimiter(nil)

	_, err := l.Check(context.Background(), "auth", "")
	require.Error(t, err)

	_, err = l.Check(context.Background(), "auth", "bad key with spaces")
	require.Error(t, err)
}

func TestLimiterSkipDiscountsExactlyOneRequest(t *testing.T) {
	l := newTestLimiter(nil)
	ctx := context.Background()

	first, err := l.Check(ctx, "auth", "10.0.0.1")
	require.NoError(t, err)
	_, err = l.Check(ctx, "auth", "10.0.0.1")
	require.NoError(t, err)

	require.NoError(t, l.Skip(ctx, "auth", "10.0.0.1", first.Marker))

	d, err := l.Check(ctx, "auth", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Count, "skip should have removed one prior entry")
}

func TestLimiterSkipWrongKeyLeavesCountsAlone(t *testing.T) {
	l := newTestLimiter(nil)
	ctx := context.Background()

	first, err := l.Check(ctx, "auth", "10.0.0.1")
	require.NoError(t, err)
	_, err = l.Check(ctx, "auth", "10.0.0.2")
	require.NoError(t, err)

	// Marker belongs to 10.0.0.1; skipping it under 10.0.0.2 must not
	// decrement either counter's remaining entries.
	require.NoError(t, l.Skip(ctx, "auth", "10.0.0.2", first.Marker))

	d, err := l.Check(ctx, "auth", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Count)

	d, err = l.Check(ctx, "auth", "10.0.0.2")
	require.NoError(t, err)
	assert.Equal(t, 2, d.Count)
}

func TestLimiterSkipRequiresMarker(t *testing.T) {
	l := newTestLimiter(nil)
	err := l.Skip(context.Background(), "auth", "10.0.0.1", "")
	require.Error(t, err)
}

func TestLimiterFailsOpenWhenStoreUnavailable(t *testing.T) {
	l := NewLimiter(testPolicies(), failingStore{}, NewLocalWindow(), nil)
	ctx := context.Background()

	d, err := l.Check(ctx, "auth", "10.0.0.1")
	require.NoError(t, err, "store outage must not turn into a request error")
	assert.True(t, d.Allowed)
	assert.True(t, d.Fallback)

	// The fallback still enforces the limit per process.
	for i := 0; i < 2; i++ {
		_, err := l.Check(ctx, "auth", "10.0.0.1")
		require.NoError(t, err)
	}
	d, err = l.Check(ctx, "auth", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}

func TestLimiterSkipFallsBackWhenStoreUnavailable(t *testing.T) {
	l := NewLimiter(testPolicies(), failingStore{}, NewLocalWindow(), nil)
	ctx := context.Background()

	first, err := l.Check(ctx, "auth", "10.0.0.1")
	require.NoError(t, err)

	// The marker was issued by the local fallback, so Forget must reach it
	// there after the shared store fails.
	require.NoError(t, l.Skip(ctx, "auth", "10.0.0.1", first.Marker))

	d, err := l.Check(ctx, "auth", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Count)
}

func TestLimiterSkipChasesFallbackMarkerAfterStoreRecovers(t *testing.T) {
	l := NewLimiter(testPolicies(), blindStore{}, NewLocalWindow(), nil)
	ctx := context.Background()

	// The entry lands in the local fallback because the store is down.
	first, err := l.Check(ctx, "auth", "10.0.0.1")
	require.NoError(t, err)
	require.True(t, first.Fallback)

	// The recovered store removes nothing for this marker; the skip must
	// still reach the fallback entry instead of silently succeeding.
	require.NoError(t, l.Skip(ctx, "auth", "10.0.0.1", first.Marker))

	d, err := l.Check(ctx, "auth", "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, 1, d.Count, "the fallback entry should have been discounted")
}

func TestLimiterWithoutStoreMarksDecisionsAsFallback(t *testing.T) {
	l := newTestLimiter(nil)

	d, err := l.Check(context.Background(), "auth", "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Fallback, "per-process decisions carry the degradation flag")
}

func TestLimiterBurstDeniesSpikes(t *testing.T) {
	l := newTestLimiter(nil)
	ctx := context.Background()

	// Under the long-window budget of 5 but over the burst budget of 2.
	for i := 1; i <= 2; i++ {
		d, err := l.Check(ctx, "api", "10.0.0.9")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
	}

	d, err := l.Check(ctx, "api", "10.0.0.9")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.True(t, d.BurstExceeded)
}

func TestLimiterDenialEmitsSecurityEvent(t *testing.T) {
	sink := &capturingSink{}
	l := newTestLimiter(sink)
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		_, err := l.Check(ctx, "auth", "user42:10.0.0.1")
		require.NoError(t, err)
	}

	require.Len(t, sink.events, 1)
	event := sink.events[0]
	assert.Equal(t, models.EventRateLimitExceeded, event.Type)
	assert.Equal(t, models.SeverityMedium, event.Severity)
	assert.Equal(t, "10.0.0.1", event.Origin, "origin extracted from composite identifier")
	assert.Equal(t, "auth", event.Details["namespace"])
	assert.Equal(t, 3, event.Details["limit"])
	assert.True(t, event.HasThreat("rate_limit_abuse"))
}

func TestLimiterAllowedChecksEmitNoEvents(t *testing.T) {
	sink := &capturingSink{}
	l := newTestLimiter(sink)

	_, err := l.Check(context.Background(), "auth", "10.0.0.1")
	require.NoError(t, err)
	assert.Empty(t, sink.events)
}

func TestLimiterCustomKeyFunc(t *testing.T) {
	l := newTestLimiter(nil)
	l.SetKeyFunc("auth", func(namespace, identifier string) string {
		return namespace + ":custom:" + identifier
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := l.Check(ctx, "auth", "10.0.0.1")
		require.NoError(t, err)
	}
	d, err := l.Check(ctx, "auth", "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed, "custom key must still accumulate per identity")
}

func TestOriginFromIdentifier(t *testing.T) {
	assert.Equal(t, "10.0.0.1", originFromIdentifier("user42:10.0.0.1"))
	assert.Equal(t, "10.0.0.1", originFromIdentifier("10.0.0.1"))
	assert.Equal(t, "plain", originFromIdentifier("plain"))
}
