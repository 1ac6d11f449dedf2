package scylla

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"

	"security-service/internal/escalation"
	"security-service/internal/models"
)

// Single-row config tables keyed by a fixed name, so reload is one
// partition read.
const configRowName = "default"

// ConfigRepository is the backing config store for the escalation rule set
// and the firewall thresholds.
//
// Table sketch:
//   escalation_rules(name text PRIMARY KEY, enabled boolean,
//     escalation_severities list<text>, always_escalate_types list<text>,
//     escalation_threats list<text>, dedup_window_minutes int, updated_at timestamp)
//   firewall_thresholds(name text PRIMARY KEY, failed_login_attempts int,
//     time_window_minutes int, suspicious_activity int, updated_at timestamp)
type ConfigRepository struct {
	client *ScyllaClient
}

func NewConfigRepository(client *ScyllaClient) *ConfigRepository {
	return &ConfigRepository{client: client}
}

var _ escalation.RuleSource = (*ConfigRepository)(nil)

func (r *ConfigRepository) FetchRules(ctx context.Context) (*models.EscalationRules, error) {
	var (
		rules      models.EscalationRules
		severities []string
		types      []string
	)

	err := r.client.Session.Query(`
        SELECT enabled, escalation_severities, always_escalate_types,
               escalation_threats, dedup_window_minutes, updated_at
        FROM escalation_rules WHERE name = ?`,
		configRowName,
	).WithContext(ctx).Scan(
		&rules.Enabled,
		&severities,
		&types,
		&rules.EscalationThreats,
		&rules.DeduplicationWindowMinutes,
		&rules.UpdatedAt,
	)
	if err == gocql.ErrNotFound {
		return nil, fmt.Errorf("escalation rules row not found")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to fetch escalation rules: %w", err)
	}

	rules.EscalationSeverities = make([]models.Severity, 0, len(severities))
	for _, s := range severities {
		sev := models.Severity(s)
		if !models.ValidSeverity(sev) {
			return nil, fmt.Errorf("stored escalation rules contain invalid severity: %q", s)
		}
		rules.EscalationSeverities = append(rules.EscalationSeverities, sev)
	}
	rules.AlwaysEscalateTypes = make([]models.EventType, 0, len(types))
	for _, t := range types {
		rules.AlwaysEscalateTypes = append(rules.AlwaysEscalateTypes, models.EventType(t))
	}
	if rules.DeduplicationWindowMinutes < 1 {
		return nil, fmt.Errorf("stored escalation rules have invalid dedup window: %d", rules.DeduplicationWindowMinutes)
	}

	return &rules, nil
}

// FetchThresholds returns the persisted firewall thresholds, or ErrNotFound
// mapped to the provided defaults.
func (r *ConfigRepository) FetchThresholds(ctx context.Context, defaults models.FirewallThresholds) (models.FirewallThresholds, error) {
	var t models.FirewallThresholds

	err := r.client.Session.Query(`
        SELECT failed_login_attempts, time_window_minutes, suspicious_activity
        FROM firewall_thresholds WHERE name = ?`,
		configRowName,
	).WithContext(ctx).Scan(
		&t.FailedLoginAttempts,
		&t.TimeWindowMinutes,
		&t.SuspiciousActivity,
	)
	if err == gocql.ErrNotFound {
		return defaults, nil
	}
	if err != nil {
		return defaults, fmt.Errorf("failed to fetch firewall thresholds: %w", err)
	}
	if err := t.Validate(); err != nil {
		return defaults, fmt.Errorf("stored firewall thresholds invalid: %w", err)
	}
	return t, nil
}

// SaveThresholds persists a runtime threshold update.
func (r *ConfigRepository) SaveThresholds(ctx context.Context, t models.FirewallThresholds) error {
	if err := t.Validate(); err != nil {
		return err
	}
	err := r.client.Session.Query(`
        INSERT INTO firewall_thresholds (name, failed_login_attempts, time_window_minutes, suspicious_activity, updated_at)
        VALUES (?, ?, ?, ?, ?)`,
		configRowName,
		t.FailedLoginAttempts,
		t.TimeWindowMinutes,
		t.SuspiciousActivity,
		time.Now().UTC(),
	).WithContext(ctx).Exec()
	if err != nil {
		return fmt.Errorf("failed to save firewall thresholds: %w", err)
	}
	return nil
}
