package escalation

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"security-service/internal/metrics"
	"security-service/internal/models"
	"security-service/internal/util"
)

const incidentTypePrefix = "security."

// IncidentStore persists incidents and answers the deduplication query.
type IncidentStore interface {
	Insert(ctx context.Context, incident *models.Incident) error
	// FindRecent returns the newest incident of the given type and source
	// detected at or after since, or nil when none exists.
	FindRecent(ctx context.Context, incidentType, source string, since time.Time) (*models.Incident, error)
}

// Notifier dispatches a created incident to the paging channel. Delivery is
// best-effort; failures never roll back incident creation.
type Notifier interface {
	Notify(ctx context.Context, incident *models.Incident) error
}

// Engine consumes classified security events and decides whether they
// warrant escalation to a tracked incident.
type Engine struct {
	rules     *rulesCache
	incidents IncidentStore
	notifier  Notifier // may be nil

	serviceName string
	now         func() time.Time
	newID       func(time.Time) string
}

func NewEngine(source RuleSource, incidents IncidentStore, notifier Notifier, ruleTTL time.Duration, serviceName string) *Engine {
	return &Engine{
		rules:       newRulesCache(source, ruleTTL),
		incidents:   incidents,
		notifier:    notifier,
		serviceName: serviceName,
		now:         time.Now,
		newID:       newIncidentID,
	}
}

// newIncidentID generates a time-sortable incident identifier.
func newIncidentID(ts time.Time) string {
	return fmt.Sprintf("INC-%d-%s", ts.UnixMilli(), uuid.New().String()[:8])
}

// ReloadRules invalidates the cached rule set.
func (e *Engine) ReloadRules() {
	e.rules.Invalidate()
}

// Process applies the escalation rules to one event. The decision is
// deterministic for a fixed rule set and event; only deduplication depends
// on prior state.
func (e *Engine) Process(ctx context.Context, event *models.SecurityEvent) (models.EscalationResult, error) {
	if err := event.Validate(); err != nil {
		return models.EscalationResult{}, fmt.Errorf("invalid security event: %w", err)
	}

	rules := e.rules.Get(ctx)

	escalate, why := decide(rules, event)
	if !escalate {
		return models.EscalationResult{Escalated: false, Reason: why}, nil
	}

	incidentType := incidentTypePrefix + string(event.Type)

	// Suppress duplicates from a sustained single-source attack producing
	// one event per request.
	since := e.now().Add(-rules.DedupWindow())
	existing, err := e.incidents.FindRecent(ctx, incidentType, models.IncidentSourceMonitor, since)
	if err != nil {
		return models.EscalationResult{}, fmt.Errorf("failed to check for duplicate incidents: %w", err)
	}
	if existing != nil {
		metrics.IncidentsDeduplicated.Inc()
		util.Info("Escalation suppressed as duplicate",
			zap.String("incident_type", incidentType),
			zap.String("existing_incident", existing.IncidentID),
			zap.String("event_id", event.ID))
		return models.EscalationResult{Escalated: false, Reason: "duplicate within window"}, nil
	}

	incident := e.synthesize(event, why)
	if err := e.incidents.Insert(ctx, incident); err != nil {
		return models.EscalationResult{}, fmt.Errorf("failed to create incident: %w", err)
	}
	metrics.IncidentsCreated.Inc()

	util.Info("Incident created",
		zap.String("incident_id", incident.IncidentID),
		zap.String("incident_type", incident.Type),
		zap.String("severity", string(incident.Severity)),
		zap.String("source_event", event.ID))

	// Incident creation is authoritative; delivery is best-effort.
	if e.notifier != nil {
		if err := e.notifier.Notify(ctx, incident); err != nil {
			metrics.NotificationFailures.Inc()
			util.Warn("Incident notification failed",
				zap.String("incident_id", incident.IncidentID),
				zap.Error(err))
		}
	}

	return models.EscalationResult{
		Escalated:  true,
		IncidentID: incident.IncidentID,
		Reason:     why,
	}, nil
}

// decide evaluates the rule set in fixed order and returns the decision plus
// the matching reason.
func decide(rules *models.EscalationRules, event *models.SecurityEvent) (bool, string) {
	if !rules.Enabled {
		return false, "escalation disabled"
	}
	if rules.SeverityEscalates(event.Severity) {
		return true, fmt.Sprintf("severity %s requires escalation", event.Severity)
	}
	if rules.TypeEscalates(event.Type) {
		return true, fmt.Sprintf("event type %s always escalates", event.Type)
	}
	if rules.ThreatEscalates(event.Threats) {
		return true, "threat tag requires escalation"
	}
	return false, "no escalation rule matched"
}

// synthesize builds the incident deterministically from the event, so the
// same event always yields the same title, description, and derived fields.
func (e *Engine) synthesize(event *models.SecurityEvent, reason string) *models.Incident {
	detectionTime := e.now().UTC()

	var title string
	if len(event.Threats) > 0 {
		threats := append([]string(nil), event.Threats...)
		sort.Strings(threats)
		title = "Security threat detected: " + strings.Join(threats, ", ")
	} else {
		title = "Security incident: " + string(event.Type)
	}

	var desc strings.Builder
	fmt.Fprintf(&desc, "Event %s of type %s with severity %s from origin %s.",
		event.ID, event.Type, event.Severity, event.Origin)
	if endpoint, ok := detailString(event.Details, "endpoint"); ok {
		fmt.Fprintf(&desc, " Targeted endpoint: %s.", endpoint)
	}
	if attack, ok := detailString(event.Details, "attack_details"); ok {
		fmt.Fprintf(&desc, " Attack details: %s.", attack)
	}

	affectedUsers := make([]string, 0, 2)
	if event.ActorID != "" {
		affectedUsers = append(affectedUsers, event.ActorID)
	}
	if userID, ok := detailString(event.Details, "user_id"); ok && userID != event.ActorID {
		affectedUsers = append(affectedUsers, userID)
	}

	affectedSystems := []string{e.serviceName}
	if endpoint, ok := detailString(event.Details, "endpoint"); ok {
		affectedSystems = append(affectedSystems, endpoint)
	}

	return &models.Incident{
		IncidentID:      e.newID(detectionTime),
		Type:            incidentTypePrefix + string(event.Type),
		Severity:        event.Severity,
		Status:          models.StatusDetected,
		Source:          models.IncidentSourceMonitor,
		Title:           title,
		Description:     desc.String(),
		SourceEventID:   event.ID,
		DetectionTime:   detectionTime,
		AffectedUsers:   affectedUsers,
		AffectedSystems: affectedSystems,
		Metadata: map[string]interface{}{
			"source_event":         event,
			"escalation_rationale": reason,
		},
	}
}

func detailString(details map[string]interface{}, key string) (string, bool) {
	if details == nil {
		return "", false
	}
	v, ok := details[key]
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}
