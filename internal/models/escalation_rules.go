package models

import "time"

// EscalationRules is the cached, reloadable rule set driving incident
// escalation decisions. Loaded from the config store with a TTL; the engine
// falls back to DefaultEscalationRules when the store is unavailable and no
// previously cached rules exist.
type EscalationRules struct {
	Enabled                    bool        `json:"enabled" db:"enabled"`
	EscalationSeverities       []Severity  `json:"escalation_severities" db:"escalation_severities"`
	AlwaysEscalateTypes        []EventType `json:"always_escalate_types" db:"always_escalate_types"`
	EscalationThreats          []string    `json:"escalation_threats" db:"escalation_threats"`
	DeduplicationWindowMinutes int         `json:"deduplication_window_minutes" db:"dedup_window_minutes"`
	UpdatedAt                  time.Time   `json:"updated_at" db:"updated_at"`
}

// DedupWindow returns the deduplication window as a duration.
func (r *EscalationRules) DedupWindow() time.Duration {
	return time.Duration(r.DeduplicationWindowMinutes) * time.Minute
}

// SeverityEscalates reports whether s is in the always-escalate severities.
func (r *EscalationRules) SeverityEscalates(s Severity) bool {
	for _, sev := range r.EscalationSeverities {
		if sev == s {
			return true
		}
	}
	return false
}

// TypeEscalates reports whether t is in the always-escalate types.
func (r *EscalationRules) TypeEscalates(t EventType) bool {
	for _, et := range r.AlwaysEscalateTypes {
		if et == t {
			return true
		}
	}
	return false
}

// ThreatEscalates reports whether any of the tags forces escalation.
func (r *EscalationRules) ThreatEscalates(tags []string) bool {
	for _, tag := range tags {
		for _, t := range r.EscalationThreats {
			if t == tag {
				return true
			}
		}
	}
	return false
}

// DefaultEscalationRules is the conservative hardcoded fallback used when the
// config store has never been reachable. The always-escalate type list is a
// tunable default, not a verified security requirement.
func DefaultEscalationRules() *EscalationRules {
	return &EscalationRules{
		Enabled:              true,
		EscalationSeverities: []Severity{SeverityHigh, SeverityCritical},
		AlwaysEscalateTypes: []EventType{
			EventSQLInjection,
			EventPathTraversal,
			EventIPBlocked,
			EventManualIPBlock,
		},
		EscalationThreats: []string{
			"sql_injection_attempt",
			"command_injection_attempt",
			"path_traversal_attempt",
		},
		DeduplicationWindowMinutes: 30,
	}
}
