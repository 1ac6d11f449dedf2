package escalation

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-service/internal/models"
)

func TestRulesCacheServesCachedWithinTTL(t *testing.T) {
	source := &staticRules{rules: testRules()}
	cache := newRulesCache(source, 5*time.Minute)
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	ctx := context.Background()
	first := cache.Get(ctx)
	require.NotNil(t, first)
	assert.Equal(t, 1, source.calls)

	clock = clock.Add(time.Minute)
	second := cache.Get(ctx)
	assert.Same(t, first, second)
	assert.Equal(t, 1, source.calls, "within TTL no refetch happens")
}

func TestRulesCacheRefetchesAfterTTL(t *testing.T) {
	source := &staticRules{rules: testRules()}
	cache := newRulesCache(source, 5*time.Minute)
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	ctx := context.Background()
	cache.Get(ctx)

	clock = clock.Add(6 * time.Minute)
	cache.Get(ctx)
	assert.Equal(t, 2, source.calls)
}

func TestRulesCacheInvalidateForcesRefetch(t *testing.T) {
	source := &staticRules{rules: testRules()}
	cache := newRulesCache(source, time.Hour)
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	ctx := context.Background()
	cache.Get(ctx)
	cache.Invalidate()
	cache.Get(ctx)
	assert.Equal(t, 2, source.calls)
}

func TestRulesCacheKeepsLastGoodOnFetchFailure(t *testing.T) {
	source := &staticRules{rules: testRules()}
	cache := newRulesCache(source, time.Minute)
	clock := time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)
	cache.now = func() time.Time { return clock }

	ctx := context.Background()
	good := cache.Get(ctx)
	require.NotNil(t, good)

	source.err = fmt.Errorf("scylla unreachable")
	clock = clock.Add(2 * time.Minute)

	degraded := cache.Get(ctx)
	assert.Same(t, good, degraded, "fetch failure serves the last good rule set")
}

func TestRulesCacheDefaultsWhenNeverFetched(t *testing.T) {
	source := &staticRules{err: fmt.Errorf("scylla unreachable")}
	cache := newRulesCache(source, time.Minute)

	rules := cache.Get(context.Background())
	require.NotNil(t, rules)
	assert.Equal(t, models.DefaultEscalationRules(), rules)
	assert.True(t, rules.Enabled)
}
