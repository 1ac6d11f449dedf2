package models

import "time"

// IncidentStatus is the lifecycle state of a tracked incident. This
// subsystem only ever sets StatusDetected; acknowledgement and resolution
// happen in the operator tooling.
type IncidentStatus string

const (
	StatusDetected     IncidentStatus = "detected"
	StatusAcknowledged IncidentStatus = "acknowledged"
	StatusResolved     IncidentStatus = "resolved"
)

// IncidentSource tags who created an incident; used for deduplication so the
// monitor only suppresses its own duplicates.
const IncidentSourceMonitor = "security_monitor"

// EscalationResult reports what the escalation engine decided for an event.
type EscalationResult struct {
	Escalated  bool   `json:"escalated"`
	IncidentID string `json:"incident_id,omitempty"`
	Reason     string `json:"reason"`
}

// Incident is the tracked record derived from an escalated security event.
// Incidents are never merged; duplicates are suppressed before creation.
type Incident struct {
	IncidentID      string                 `json:"incident_id" db:"incident_id"`
	Bucket          int                    `json:"-" db:"bucket"`
	Type            string                 `json:"type" db:"incident_type"` // "security." + event type
	Severity        Severity               `json:"severity" db:"severity"`
	Status          IncidentStatus         `json:"status" db:"status"`
	Source          string                 `json:"source" db:"source"`
	Title           string                 `json:"title" db:"title"`
	Description     string                 `json:"description" db:"description"`
	SourceEventID   string                 `json:"source_event_id" db:"source_event_id"`
	DetectionTime   time.Time              `json:"detection_time" db:"detection_time"`
	AffectedUsers   []string               `json:"affected_users,omitempty" db:"affected_users"`
	AffectedSystems []string               `json:"affected_systems,omitempty" db:"affected_systems"`
	Metadata        map[string]interface{} `json:"metadata,omitempty" db:"metadata"`
}
