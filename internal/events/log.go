package events

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"security-service/internal/bucketing"
	"security-service/internal/metrics"
	"security-service/internal/models"
	"security-service/internal/util"
)

// Escalator lets the log forward freshly recorded events into the escalation
// engine without a hard package dependency.
type Escalator interface {
	Process(ctx context.Context, event *models.SecurityEvent) (models.EscalationResult, error)
}

// Log is the append-only security event log. ClickHouse is authoritative;
// the search index is a best-effort secondary for operator lookups.
type Log struct {
	store     Store
	search    SearchIndex // may be nil
	buckets   *bucketing.Manager
	escalator Escalator // may be nil; set via SetEscalator after wiring
}

func NewLog(store Store, search SearchIndex, buckets *bucketing.Manager) *Log {
	return &Log{
		store:   store,
		search:  search,
		buckets: buckets,
	}
}

// SetEscalator wires automatic escalation of recorded events. Called once
// during startup; not safe to call concurrently with Record.
func (l *Log) SetEscalator(e Escalator) {
	l.escalator = e
}

// Record validates and persists an event, then feeds it through escalation
// when an escalator is wired. The event id is returned on success. Search
// index failures are logged and swallowed; the ClickHouse insert alone
// decides success.
func (l *Log) Record(ctx context.Context, event *models.SecurityEvent) (string, error) {
	if err := event.Validate(); err != nil {
		return "", fmt.Errorf("invalid security event: %w", err)
	}
	if event.EventBucket == 0 {
		event.EventBucket = l.buckets.EventBucket(event.ID)
	}

	if err := l.store.Insert(ctx, event); err != nil {
		return "", fmt.Errorf("failed to record security event: %w", err)
	}
	metrics.EventsRecorded.WithLabelValues(string(event.Type), string(event.Severity)).Inc()

	if l.search != nil {
		if err := l.search.Index(ctx, event.ID, event); err != nil {
			util.Warn("Failed to index security event for search",
				zap.String("event_id", event.ID),
				zap.Error(err))
		}
	}

	if l.escalator != nil {
		if _, err := l.escalator.Process(ctx, event); err != nil {
			util.Warn("Automatic escalation failed",
				zap.String("event_id", event.ID),
				zap.String("event_type", string(event.Type)),
				zap.Error(err))
		}
	}

	util.Debug("Security event recorded",
		zap.String("event_id", event.ID),
		zap.String("event_type", string(event.Type)),
		zap.String("severity", string(event.Severity)),
		zap.String("origin", event.Origin))

	return event.ID, nil
}

// CountByTypeAndOrigin counts matching events since the given time.
func (l *Log) CountByTypeAndOrigin(ctx context.Context, eventType models.EventType, origin string, since time.Time) (int, error) {
	return l.store.CountByTypeAndOrigin(ctx, eventType, origin, since)
}

// RecentByTypes returns the most recent events of the given types.
func (l *Log) RecentByTypes(ctx context.Context, types []models.EventType, limit int) ([]*models.SecurityEvent, error) {
	return l.store.RecentByTypes(ctx, types, limit)
}

// Metrics aggregates event activity over a time range, fanning the three
// analytical queries out in parallel.
func (l *Log) Metrics(ctx context.Context, from, to time.Time) (*SecurityMetrics, error) {
	if !to.After(from) {
		return nil, fmt.Errorf("invalid time range: from %s to %s", from, to)
	}

	result := &SecurityMetrics{From: from, To: to}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		bySeverity, err := l.store.CountBySeverity(gctx, from, to)
		if err != nil {
			return err
		}
		result.BySeverity = bySeverity
		return nil
	})
	g.Go(func() error {
		byType, err := l.store.CountByType(gctx, from, to)
		if err != nil {
			return err
		}
		result.ByType = byType
		return nil
	})
	g.Go(func() error {
		top, err := l.store.TopOrigins(gctx, from, to, 10)
		if err != nil {
			return err
		}
		result.TopOrigins = top
		return nil
	})

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("failed to compute security metrics: %w", err)
	}

	for _, n := range result.BySeverity {
		result.TotalEvents += n
	}
	return result, nil
}
