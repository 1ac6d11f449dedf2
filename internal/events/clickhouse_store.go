package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"security-service/internal/client"
	"security-service/internal/models"
)

// ClickHouseStore persists events to the security_events table.
//
// Table sketch:
//   security_events(event_bucket Int32, event_date Date, event_time DateTime64(3),
//     event_id String, event_type LowCardinality(String), severity LowCardinality(String),
//     actor_id String, origin String, threats Array(String), details String)
//   ORDER BY (event_bucket, event_date, event_time)
type ClickHouseStore struct {
	ch *client.ClickHouseClient
}

func NewClickHouseStore(ch *client.ClickHouseClient) *ClickHouseStore {
	return &ClickHouseStore{ch: ch}
}

var _ Store = (*ClickHouseStore)(nil)

func (s *ClickHouseStore) Insert(ctx context.Context, event *models.SecurityEvent) error {
	details := "{}"
	if len(event.Details) > 0 {
		raw, err := json.Marshal(event.Details)
		if err != nil {
			return fmt.Errorf("failed to marshal event details: %w", err)
		}
		details = string(raw)
	}

	err := s.ch.Exec(ctx, `
        INSERT INTO security_events
            (event_bucket, event_date, event_time, event_id, event_type, severity, actor_id, origin, threats, details)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.EventBucket,
		event.Timestamp.UTC().Format("2006-01-02"),
		event.Timestamp,
		event.ID,
		string(event.Type),
		string(event.Severity),
		event.ActorID,
		event.Origin,
		event.Threats,
		details,
	)
	if err != nil {
		return fmt.Errorf("failed to insert security event: %w", err)
	}
	return nil
}

func (s *ClickHouseStore) CountByTypeAndOrigin(ctx context.Context, eventType models.EventType, origin string, since time.Time) (int, error) {
	var count uint64
	row := s.ch.QueryRow(ctx, `
        SELECT count() FROM security_events
        WHERE event_type = ? AND origin = ? AND event_time >= ?`,
		string(eventType), origin, since)
	if err := row.Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count events: %w", err)
	}
	return int(count), nil
}

func (s *ClickHouseStore) RecentByTypes(ctx context.Context, types []models.EventType, limit int) ([]*models.SecurityEvent, error) {
	typeStrs := make([]string, len(types))
	for i, t := range types {
		typeStrs[i] = string(t)
	}

	rows, err := s.ch.QueryRows(ctx, `
        SELECT event_id, event_time, event_type, severity, actor_id, origin, threats, details
        FROM security_events
        WHERE event_type IN (?)
        ORDER BY event_time DESC
        LIMIT ?`,
		typeStrs, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent events: %w", err)
	}
	defer rows.Close()

	var out []*models.SecurityEvent
	for rows.Next() {
		var (
			ev         models.SecurityEvent
			eventType  string
			severity   string
			detailsRaw string
		)
		if err := rows.Scan(&ev.ID, &ev.Timestamp, &eventType, &severity, &ev.ActorID, &ev.Origin, &ev.Threats, &detailsRaw); err != nil {
			return nil, fmt.Errorf("failed to scan event row: %w", err)
		}
		ev.Type = models.EventType(eventType)
		ev.Severity = models.Severity(severity)
		if detailsRaw != "" && detailsRaw != "{}" {
			_ = json.Unmarshal([]byte(detailsRaw), &ev.Details)
		}
		out = append(out, &ev)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) CountBySeverity(ctx context.Context, from, to time.Time) (map[string]int, error) {
	return s.groupCount(ctx, "severity", from, to)
}

func (s *ClickHouseStore) CountByType(ctx context.Context, from, to time.Time) (map[string]int, error) {
	return s.groupCount(ctx, "event_type", from, to)
}

func (s *ClickHouseStore) groupCount(ctx context.Context, column string, from, to time.Time) (map[string]int, error) {
	// column is one of two fixed identifiers, never user input.
	rows, err := s.ch.QueryRows(ctx, fmt.Sprintf(`
        SELECT %s, count() FROM security_events
        WHERE event_time >= ? AND event_time < ?
        GROUP BY %s`, column, column),
		from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to group events by %s: %w", column, err)
	}
	defer rows.Close()

	out := make(map[string]int)
	for rows.Next() {
		var (
			key   string
			count uint64
		)
		if err := rows.Scan(&key, &count); err != nil {
			return nil, fmt.Errorf("failed to scan group row: %w", err)
		}
		out[key] = int(count)
	}
	return out, rows.Err()
}

func (s *ClickHouseStore) TopOrigins(ctx context.Context, from, to time.Time, limit int) ([]OriginCount, error) {
	rows, err := s.ch.QueryRows(ctx, `
        SELECT origin, count() AS c FROM security_events
        WHERE event_time >= ? AND event_time < ?
        GROUP BY origin
        ORDER BY c DESC
        LIMIT ?`,
		from, to, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query top origins: %w", err)
	}
	defer rows.Close()

	var out []OriginCount
	for rows.Next() {
		var (
			origin string
			count  uint64
		)
		if err := rows.Scan(&origin, &count); err != nil {
			return nil, fmt.Errorf("failed to scan origin row: %w", err)
		}
		out = append(out, OriginCount{Origin: origin, Count: int(count)})
	}
	return out, rows.Err()
}
