package models

import (
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Severity levels for security events, ordered from least to most severe.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// EventType identifies the classified kind of a security event. The set is
// extensible; these are the types the pipeline itself emits or reacts to.
type EventType string

const (
	EventRateLimitExceeded  EventType = "rate_limit_exceeded"
	EventFailedLogin        EventType = "failed_login"
	EventSQLInjection       EventType = "sql_injection_attempt"
	EventXSSAttempt         EventType = "xss_attempt"
	EventPathTraversal      EventType = "path_traversal_attempt"
	EventSuspiciousActivity EventType = "suspicious_activity"
	EventIPBlocked          EventType = "ip_blocked"
	EventIPBlockFailed      EventType = "ip_block_failed"
	EventManualIPBlock      EventType = "manual_ip_block"
	EventManualIPUnblock    EventType = "manual_ip_unblock"
)

// SecurityEvent is an immutable classified record of an anomalous action.
// Never mutated after creation; the escalation engine and firewall
// integration only read it.
type SecurityEvent struct {
	ID          string                 `json:"id" db:"event_id"`
	EventBucket int                    `json:"-" db:"event_bucket"`
	Timestamp   time.Time              `json:"timestamp" db:"event_time"`
	Type        EventType              `json:"type" db:"event_type"`
	Severity    Severity               `json:"severity" db:"severity"`
	ActorID     string                 `json:"actor_id,omitempty" db:"actor_id"` // empty when unauthenticated
	Origin      string                 `json:"origin" db:"origin"`               // network address
	Threats     []string               `json:"threats,omitempty" db:"threats"`
	Details     map[string]interface{} `json:"details,omitempty" db:"details"`
}

// NewSecurityEvent builds an event with a fresh id and timestamp.
func NewSecurityEvent(eventType EventType, severity Severity, origin string) *SecurityEvent {
	return &SecurityEvent{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      eventType,
		Severity:  severity,
		Origin:    origin,
	}
}

// Validate rejects malformed events synchronously; values are never coerced.
func (e *SecurityEvent) Validate() error {
	if e == nil {
		return fmt.Errorf("security event is nil")
	}
	if strings.TrimSpace(string(e.Type)) == "" {
		return fmt.Errorf("event type is required")
	}
	if !ValidSeverity(e.Severity) {
		return fmt.Errorf("invalid severity: %q", e.Severity)
	}
	if strings.TrimSpace(e.Origin) == "" {
		return fmt.Errorf("event origin is required")
	}
	if host, _, err := net.SplitHostPort(e.Origin); err == nil {
		if net.ParseIP(host) == nil {
			return fmt.Errorf("invalid origin address: %q", e.Origin)
		}
	} else if net.ParseIP(e.Origin) == nil {
		return fmt.Errorf("invalid origin address: %q", e.Origin)
	}
	return nil
}

// HasThreat reports whether the event carries the given threat tag.
func (e *SecurityEvent) HasThreat(tag string) bool {
	for _, t := range e.Threats {
		if t == tag {
			return true
		}
	}
	return false
}

// ValidSeverity reports whether s is a known severity level.
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}
