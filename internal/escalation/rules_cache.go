package escalation

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"security-service/internal/models"
	"security-service/internal/util"
)

// RuleSource fetches the escalation rule set from the config store.
type RuleSource interface {
	FetchRules(ctx context.Context) (*models.EscalationRules, error)
}

// rulesCache holds the rule set behind a TTL. On fetch failure it serves the
// last successfully cached rules, or the hardcoded defaults if nothing was
// ever fetched. Concurrent expiry refreshes collapse into one fetch.
type rulesCache struct {
	source RuleSource
	ttl    time.Duration
	now    func() time.Time

	mu        sync.RWMutex
	cached    *models.EscalationRules
	fetchedAt time.Time

	group singleflight.Group
}

func newRulesCache(source RuleSource, ttl time.Duration) *rulesCache {
	return &rulesCache{
		source: source,
		ttl:    ttl,
		now:    time.Now,
	}
}

// Get returns the current rule set. Never fails: degradation paths return
// last-good or default rules and log loudly.
func (c *rulesCache) Get(ctx context.Context) *models.EscalationRules {
	c.mu.RLock()
	cached, fetchedAt := c.cached, c.fetchedAt
	c.mu.RUnlock()

	if cached != nil && c.now().Sub(fetchedAt) < c.ttl {
		return cached
	}

	fresh, _, _ := c.group.Do("rules", func() (interface{}, error) {
		rules, err := c.source.FetchRules(ctx)
		if err != nil {
			c.mu.RLock()
			lastGood := c.cached
			c.mu.RUnlock()

			if lastGood != nil {
				util.Warn("Escalation rule fetch failed; keeping last cached rules",
					zap.Error(err))
				return lastGood, nil
			}
			util.Warn("Escalation rule fetch failed with no cached rules; using defaults",
				zap.Error(err))
			return models.DefaultEscalationRules(), nil
		}

		c.mu.Lock()
		c.cached = rules
		c.fetchedAt = c.now()
		c.mu.Unlock()
		return rules, nil
	})

	return fresh.(*models.EscalationRules)
}

// Invalidate forces the next Get to hit the config store.
func (c *rulesCache) Invalidate() {
	c.mu.Lock()
	c.fetchedAt = time.Time{}
	c.mu.Unlock()
}
