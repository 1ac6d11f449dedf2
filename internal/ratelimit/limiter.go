package ratelimit

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"security-service/internal/config"
	"security-service/internal/metrics"
	"security-service/internal/models"
	"security-service/internal/util"
)

const burstKeyPrefix = "burst:"

// EventSink receives the security events the limiter emits on denials.
// Implemented by the event log service; kept as an interface so the limiter
// stays testable without a ClickHouse connection.
type EventSink interface {
	Record(ctx context.Context, event *models.SecurityEvent) (string, error)
}

// KeyFunc derives the counter key for a namespace/identifier pair. Callers
// may override per namespace to key by composites such as origin+purpose.
type KeyFunc func(namespace, identifier string) string

func defaultKey(namespace, identifier string) string {
	return namespace + ":" + identifier
}

// Limiter wraps the windowed counter with per-namespace policy and produces
// allow/deny decisions plus standard rate-limit metadata.
//
// The limiter fails open: when the shared counter store errors, it degrades
// to the per-process LocalWindow rather than rejecting traffic. Availability
// of the protected service wins over perfect global counting during store
// outages; every degraded check is logged and reflected in metrics.
type Limiter struct {
	policies map[string]config.NamespacePolicy
	shared   CounterStore // nil when no store is configured
	fallback *LocalWindow
	events   EventSink
	keyFuncs map[string]KeyFunc
	now      func() time.Time
}

func NewLimiter(policies map[string]config.NamespacePolicy, shared CounterStore, fallback *LocalWindow, events EventSink) *Limiter {
	if fallback == nil {
		fallback = NewLocalWindow()
	}
	if shared == nil {
		util.Warn("No shared counter store configured; rate limits are per-instance only")
		metrics.CounterStoreFallback.Set(1)
	}
	return &Limiter{
		policies: policies,
		shared:   shared,
		fallback: fallback,
		events:   events,
		keyFuncs: make(map[string]KeyFunc),
		now:      time.Now,
	}
}

// SetKeyFunc overrides key derivation for one namespace.
func (l *Limiter) SetKeyFunc(namespace string, fn KeyFunc) {
	l.keyFuncs[namespace] = fn
}

// Check counts the current request against the namespace policy and returns
// the decision. A denied check synchronously records a rate_limit_exceeded
// event; the decision itself is returned regardless of event log health.
func (l *Limiter) Check(ctx context.Context, namespace, identifier string) (models.Decision, error) {
	if err := models.ValidateRateLimitKey(namespace, identifier); err != nil {
		return models.Decision{}, err
	}
	policy, ok := l.policies[namespace]
	if !ok {
		return models.Decision{}, fmt.Errorf("unknown rate limit namespace: %q", namespace)
	}

	key := l.deriveKey(namespace, identifier)

	res, fellBack := l.slide(ctx, key, policy.Window)

	decision := models.Decision{
		Allowed:   res.Count <= policy.Max,
		Limit:     policy.Max,
		Count:     res.Count,
		Remaining: policy.Max - res.Count,
		Marker:    res.Marker,
		Fallback:  fellBack,
	}
	if decision.Remaining < 0 {
		decision.Remaining = 0
	}
	decision.ResetAt = l.resetAt(res, policy.Window)

	// The burst window catches sudden spikes independent of the long
	// window, so a key can be denied here while still under its budget.
	if decision.Allowed && policy.BurstMax > 0 {
		burstRes, burstFellBack := l.slide(ctx, burstKeyPrefix+key, policy.BurstWindow)
		if burstRes.Count > policy.BurstMax {
			decision.Allowed = false
			decision.BurstExceeded = true
			decision.ResetAt = l.resetAt(burstRes, policy.BurstWindow)
		}
		decision.Fallback = decision.Fallback || burstFellBack
	}

	if decision.Allowed {
		metrics.RateLimitChecks.WithLabelValues(namespace, "allowed").Inc()
		return decision, nil
	}

	decision.RetryAfter = decision.ResetAt.Sub(l.now())
	if decision.RetryAfter < 0 {
		decision.RetryAfter = 0
	}
	metrics.RateLimitChecks.WithLabelValues(namespace, "denied").Inc()

	l.recordDenial(ctx, namespace, identifier, policy, decision)

	return decision, nil
}

// Skip discounts the entry added by a previous Check for this request, for
// policies where the outcome decides whether the request counts (e.g. a
// successful login must not count toward the failed-attempts budget).
// Removes only the entry identified by marker, never an arbitrary one.
func (l *Limiter) Skip(ctx context.Context, namespace, identifier, marker string) error {
	if err := models.ValidateRateLimitKey(namespace, identifier); err != nil {
		return err
	}
	if marker == "" {
		return fmt.Errorf("skip marker is required")
	}

	key := l.deriveKey(namespace, identifier)

	// A marker issued during a store outage lives in the local fallback,
	// so a shared Forget that removed nothing is not the end of the search.
	if l.shared != nil {
		removed, err := l.shared.Forget(ctx, key, marker)
		if err != nil {
			util.Warn("Shared store forget failed; trying local fallback",
				zap.String("key", key),
				zap.Error(err))
		} else if removed {
			return nil
		}
	}
	_, err := l.fallback.Forget(ctx, key, marker)
	return err
}

// Close stops the fallback reaper.
func (l *Limiter) Close() {
	l.fallback.Stop()
	if n := l.fallback.Len(); n > 0 {
		util.Info("Discarding per-process fallback counters", zap.Int("keys", n))
	}
}

func (l *Limiter) deriveKey(namespace, identifier string) string {
	if fn, ok := l.keyFuncs[namespace]; ok {
		return fn(namespace, identifier)
	}
	return defaultKey(namespace, identifier)
}

// slide prefers the shared store and silently degrades to the local window.
func (l *Limiter) slide(ctx context.Context, key string, window time.Duration) (SlideResult, bool) {
	if l.shared != nil {
		res, err := l.shared.Slide(ctx, key, window)
		if err == nil {
			metrics.CounterStoreFallback.Set(0)
			return res, false
		}
		util.Warn("Counter store unreachable; serving from per-process fallback",
			zap.String("key", key),
			zap.Error(err))
	}
	metrics.CounterStoreFallback.Set(1)
	res, _ := l.fallback.Slide(ctx, key, window) // LocalWindow never fails
	return res, true
}

func (l *Limiter) resetAt(res SlideResult, window time.Duration) time.Time {
	if res.WindowStart.IsZero() {
		return l.now().Add(window)
	}
	return res.WindowStart.Add(window)
}

func (l *Limiter) recordDenial(ctx context.Context, namespace, identifier string, policy config.NamespacePolicy, decision models.Decision) {
	if l.events == nil {
		return
	}

	severity := models.SeverityMedium
	if decision.BurstExceeded {
		severity = models.SeverityHigh
	}

	event := models.NewSecurityEvent(models.EventRateLimitExceeded, severity, originFromIdentifier(identifier))
	event.Threats = []string{"rate_limit_abuse"}
	event.Details = map[string]interface{}{
		"namespace":      namespace,
		"identifier":     identifier,
		"count":          decision.Count,
		"limit":          decision.Limit,
		"window_ms":      policy.Window.Milliseconds(),
		"burst_exceeded": decision.BurstExceeded,
	}

	if _, err := l.events.Record(ctx, event); err != nil {
		// Event log trouble must not affect the decision path.
		util.Warn("Failed to record rate limit denial event",
			zap.String("namespace", namespace),
			zap.String("identifier", identifier),
			zap.Error(err))
	}
}

// originFromIdentifier extracts the network origin from composite
// identifiers such as "user42:10.0.0.9"; plain identifiers pass through.
func originFromIdentifier(identifier string) string {
	for i := len(identifier) - 1; i >= 0; i-- {
		if identifier[i] == ':' {
			candidate := identifier[i+1:]
			if candidate != "" {
				return candidate
			}
			break
		}
	}
	return identifier
}
