package scylla

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"security-service/internal/bucketing"
	"security-service/internal/escalation"
	"security-service/internal/models"
	"security-service/internal/util"
)

// IncidentRepository persists incidents.
//
// Table sketch:
//   incidents(incident_type text, source text, detection_time timestamp,
//     incident_id text, bucket int, severity text, status text, title text,
//     description text, source_event_id text, affected_users list<text>,
//     affected_systems list<text>, metadata text,
//     PRIMARY KEY ((incident_type, source), detection_time, incident_id))
//   WITH CLUSTERING ORDER BY (detection_time DESC)
//
// Partitioning by (type, source) makes the deduplication lookup a
// single-partition slice.
type IncidentRepository struct {
	client  *ScyllaClient
	buckets *bucketing.Manager
}

func NewIncidentRepository(client *ScyllaClient, buckets *bucketing.Manager) *IncidentRepository {
	return &IncidentRepository{client: client, buckets: buckets}
}

var _ escalation.IncidentStore = (*IncidentRepository)(nil)

func (r *IncidentRepository) Insert(ctx context.Context, incident *models.Incident) error {
	if incident.Bucket == 0 {
		incident.Bucket = r.buckets.IncidentBucket(incident.IncidentID)
	}

	metadata := "{}"
	if len(incident.Metadata) > 0 {
		raw, err := json.Marshal(incident.Metadata)
		if err != nil {
			return fmt.Errorf("failed to marshal incident metadata: %w", err)
		}
		metadata = string(raw)
	}

	err := r.client.Session.Query(`
        INSERT INTO incidents
            (incident_type, source, detection_time, incident_id, bucket, severity, status,
             title, description, source_event_id, affected_users, affected_systems, metadata)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		incident.Type,
		incident.Source,
		incident.DetectionTime,
		incident.IncidentID,
		incident.Bucket,
		string(incident.Severity),
		string(incident.Status),
		incident.Title,
		incident.Description,
		incident.SourceEventID,
		incident.AffectedUsers,
		incident.AffectedSystems,
		metadata,
	).WithContext(ctx).Exec()
	if err != nil {
		util.Error("Failed to insert incident",
			zap.String("incident_id", incident.IncidentID),
			zap.Error(err))
		return fmt.Errorf("failed to insert incident: %w", err)
	}

	return nil
}

func (r *IncidentRepository) FindRecent(ctx context.Context, incidentType, source string, since time.Time) (*models.Incident, error) {
	var (
		incident    models.Incident
		severity    string
		status      string
		metadataRaw string
	)

	err := r.client.Session.Query(`
        SELECT incident_id, detection_time, severity, status, title, description,
               source_event_id, affected_users, affected_systems, metadata
        FROM incidents
        WHERE incident_type = ? AND source = ? AND detection_time >= ?
        LIMIT 1`,
		incidentType, source, since,
	).WithContext(ctx).Scan(
		&incident.IncidentID,
		&incident.DetectionTime,
		&severity,
		&status,
		&incident.Title,
		&incident.Description,
		&incident.SourceEventID,
		&incident.AffectedUsers,
		&incident.AffectedSystems,
		&metadataRaw,
	)
	if err == gocql.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query recent incidents: %w", err)
	}

	incident.Type = incidentType
	incident.Source = source
	incident.Severity = models.Severity(severity)
	incident.Status = models.IncidentStatus(status)
	if metadataRaw != "" && metadataRaw != "{}" {
		_ = json.Unmarshal([]byte(metadataRaw), &incident.Metadata)
	}

	return &incident, nil
}
