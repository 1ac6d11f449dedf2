package models

import (
	"fmt"
	"time"
)

// FirewallAction is the outcome of a firewall evaluation or command.
type FirewallAction string

const (
	ActionIPBlocked       FirewallAction = "ip_blocked"
	ActionIPUnblocked     FirewallAction = "ip_unblocked"
	ActionMonitored       FirewallAction = "monitored"
	ActionBlockFailed     FirewallAction = "block_failed"
	ActionProcessingError FirewallAction = "processing_error"
	ActionDisabled        FirewallAction = "firewall_disabled"
)

// FirewallOutcome is returned by Integration.Evaluate and the manual
// block/unblock operations.
type FirewallOutcome struct {
	Action  FirewallAction         `json:"action"`
	Origin  string                 `json:"origin"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// FirewallThresholds controls when repeated failures trigger an automatic
// block. Mutable at runtime through the administrative surface.
type FirewallThresholds struct {
	FailedLoginAttempts int `json:"failed_login_attempts" db:"failed_login_attempts"`
	TimeWindowMinutes   int `json:"time_window_minutes" db:"time_window_minutes"`
	SuspiciousActivity  int `json:"suspicious_activity" db:"suspicious_activity"`
}

// Validate rejects threshold updates that would disable enforcement by
// accident.
func (t FirewallThresholds) Validate() error {
	if t.FailedLoginAttempts < 1 {
		return fmt.Errorf("failed_login_attempts must be >= 1")
	}
	if t.TimeWindowMinutes < 1 {
		return fmt.Errorf("time_window_minutes must be >= 1")
	}
	if t.SuspiciousActivity < 1 {
		return fmt.Errorf("suspicious_activity must be >= 1")
	}
	return nil
}

// Window returns the failure-counting window as a duration.
func (t FirewallThresholds) Window() time.Duration {
	return time.Duration(t.TimeWindowMinutes) * time.Minute
}

// DefaultFirewallThresholds are the starting thresholds before any runtime
// override.
func DefaultFirewallThresholds() FirewallThresholds {
	return FirewallThresholds{
		FailedLoginAttempts: 5,
		TimeWindowMinutes:   15,
		SuspiciousActivity:  10,
	}
}

// FirewallStatus is the operator-facing view of the integration. The blocked
// set is sourced live from the enforcement point, which is authoritative.
type FirewallStatus struct {
	Enabled        bool               `json:"enabled"`
	BlockedOrigins []string           `json:"blocked_origins"`
	Thresholds     FirewallThresholds `json:"thresholds"`
	RecentActions  []*SecurityEvent   `json:"recent_actions"`
	CheckedAt      time.Time          `json:"checked_at"`
}
