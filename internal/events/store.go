package events

import (
	"context"
	"time"

	"security-service/internal/models"
)

// OriginCount pairs a network origin with its event count.
type OriginCount struct {
	Origin string `json:"origin"`
	Count  int    `json:"count"`
}

// SecurityMetrics summarizes event activity over a time range.
type SecurityMetrics struct {
	From        time.Time      `json:"from"`
	To          time.Time      `json:"to"`
	BySeverity  map[string]int `json:"by_severity"`
	ByType      map[string]int `json:"by_type"`
	TopOrigins  []OriginCount  `json:"top_origins"`
	TotalEvents int            `json:"total_events"`
}

// Store is the append-only persistence behind the security event log.
type Store interface {
	Insert(ctx context.Context, event *models.SecurityEvent) error
	CountByTypeAndOrigin(ctx context.Context, eventType models.EventType, origin string, since time.Time) (int, error)
	RecentByTypes(ctx context.Context, types []models.EventType, limit int) ([]*models.SecurityEvent, error)
	CountBySeverity(ctx context.Context, from, to time.Time) (map[string]int, error)
	CountByType(ctx context.Context, from, to time.Time) (map[string]int, error)
	TopOrigins(ctx context.Context, from, to time.Time, limit int) ([]OriginCount, error)
}

// SearchIndex is the best-effort secondary index for operator lookups.
type SearchIndex interface {
	Index(ctx context.Context, docID string, document interface{}) error
}
