package firewall

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"security-service/internal/metrics"
	"security-service/internal/models"
	"security-service/internal/util"
)

// EventLog is the slice of the event log the integration needs. Satisfied by
// events.Log.
type EventLog interface {
	Record(ctx context.Context, event *models.SecurityEvent) (string, error)
	CountByTypeAndOrigin(ctx context.Context, eventType models.EventType, origin string, since time.Time) (int, error)
	RecentByTypes(ctx context.Context, types []models.EventType, limit int) ([]*models.SecurityEvent, error)
}

// ThresholdStore persists runtime threshold updates. Satisfied by the scylla
// config repository.
type ThresholdStore interface {
	SaveThresholds(ctx context.Context, t models.FirewallThresholds) error
}

// Integration consumes repeated-failure signals per network origin and,
// above the configured threshold, issues a block command to the enforcement
// point. Block actions are recorded as high-severity events which feed back
// into the escalation engine via the event log.
type Integration struct {
	enforcer   Enforcer
	events     EventLog
	thresholds models.FirewallThresholds
	store      ThresholdStore // may be nil
	mu         sync.RWMutex

	// blockedCache bounds repeat ListBlocked calls so evaluating an
	// already-blocked origin stays an enforcement no-op.
	blockedCache    map[string]struct{}
	blockedFetched  time.Time
	blockedCacheTTL time.Duration

	now func() time.Time
}

func NewIntegration(enforcer Enforcer, events EventLog, thresholds models.FirewallThresholds, store ThresholdStore, blockedCacheTTL time.Duration) *Integration {
	if blockedCacheTTL <= 0 {
		blockedCacheTTL = 30 * time.Second
	}
	if !enforcer.Enabled() {
		util.Warn("Firewall integration disabled: enforcement point credentials not configured")
	}
	return &Integration{
		enforcer:        enforcer,
		events:          events,
		thresholds:      thresholds,
		store:           store,
		blockedCacheTTL: blockedCacheTTL,
		now:             time.Now,
	}
}

// Thresholds returns the current runtime thresholds.
func (i *Integration) Thresholds() models.FirewallThresholds {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.thresholds
}

// SetThresholds validates, persists, and applies a threshold update.
func (i *Integration) SetThresholds(ctx context.Context, t models.FirewallThresholds) error {
	if err := t.Validate(); err != nil {
		return fmt.Errorf("invalid firewall thresholds: %w", err)
	}
	if i.store != nil {
		if err := i.store.SaveThresholds(ctx, t); err != nil {
			return err
		}
	}
	i.mu.Lock()
	i.thresholds = t
	i.mu.Unlock()

	util.Info("Firewall thresholds updated",
		zap.Int("failed_login_attempts", t.FailedLoginAttempts),
		zap.Int("time_window_minutes", t.TimeWindowMinutes),
		zap.Int("suspicious_activity", t.SuspiciousActivity))
	return nil
}

// Evaluate checks the failed-login pressure from origin and blocks it at the
// enforcement point once the threshold is met. Enforcement failures are
// returned as block_failed without in-call retry; the next evaluation cycle
// retries naturally.
func (i *Integration) Evaluate(ctx context.Context, origin string) (models.FirewallOutcome, error) {
	if err := validateOrigin(origin); err != nil {
		return models.FirewallOutcome{}, err
	}
	if !i.enforcer.Enabled() {
		util.Debug("Firewall evaluation skipped: integration disabled", zap.String("origin", origin))
		return i.outcome(models.ActionDisabled, origin, nil), nil
	}

	thresholds := i.Thresholds()
	since := i.now().Add(-thresholds.Window())

	count, err := i.events.CountByTypeAndOrigin(ctx, models.EventFailedLogin, origin, since)
	if err != nil {
		util.Error("Failed to count failed logins for firewall evaluation",
			zap.String("origin", origin),
			zap.Error(err))
		return i.outcome(models.ActionProcessingError, origin, map[string]interface{}{
			"error": err.Error(),
		}), nil
	}

	if count < thresholds.FailedLoginAttempts {
		return i.outcome(models.ActionMonitored, origin, map[string]interface{}{
			"failed_logins": count,
			"threshold":     thresholds.FailedLoginAttempts,
		}), nil
	}

	// Idempotent blocking: a still-blocked origin gets no second
	// enforcement call within the cache interval.
	if i.isBlocked(ctx, origin) {
		return i.outcome(models.ActionMonitored, origin, map[string]interface{}{
			"failed_logins":   count,
			"threshold":       thresholds.FailedLoginAttempts,
			"already_blocked": true,
		}), nil
	}

	reason := fmt.Sprintf("automatic block: %d failed logins within %d minutes", count, thresholds.TimeWindowMinutes)
	if err := i.enforcer.Block(ctx, origin, reason); err != nil {
		i.recordAction(ctx, models.EventIPBlockFailed, models.SeverityHigh, origin, "", map[string]interface{}{
			"reason": reason,
			"error":  err.Error(),
		})
		util.Error("Enforcement point block failed",
			zap.String("origin", origin),
			zap.Error(err))
		return i.outcome(models.ActionBlockFailed, origin, map[string]interface{}{
			"reason": reason,
			"error":  err.Error(),
		}), nil
	}

	i.markBlocked(origin)

	// The block itself becomes a high-severity event; recording it feeds
	// the escalation engine so a corresponding incident is tracked.
	i.recordAction(ctx, models.EventIPBlocked, models.SeverityHigh, origin, "", map[string]interface{}{
		"reason":        reason,
		"failed_logins": count,
		"threshold":     thresholds.FailedLoginAttempts,
	})

	util.Info("Origin blocked at enforcement point",
		zap.String("origin", origin),
		zap.Int("failed_logins", count))

	return i.outcome(models.ActionIPBlocked, origin, map[string]interface{}{
		"reason":        reason,
		"failed_logins": count,
	}), nil
}

// ManualBlock bypasses the threshold check and always audits the attempt.
func (i *Integration) ManualBlock(ctx context.Context, origin, reason, actorID string) (models.FirewallOutcome, error) {
	return i.manualCommand(ctx, origin, reason, actorID, false)
}

// ManualUnblock bypasses the threshold check and always audits the attempt.
func (i *Integration) ManualUnblock(ctx context.Context, origin, reason, actorID string) (models.FirewallOutcome, error) {
	return i.manualCommand(ctx, origin, reason, actorID, true)
}

func (i *Integration) manualCommand(ctx context.Context, origin, reason, actorID string, unblock bool) (models.FirewallOutcome, error) {
	if err := validateOrigin(origin); err != nil {
		return models.FirewallOutcome{}, err
	}
	if strings.TrimSpace(reason) == "" {
		return models.FirewallOutcome{}, fmt.Errorf("a reason is required for manual firewall commands")
	}

	auditType := models.EventManualIPBlock
	action := models.ActionIPBlocked
	command := i.enforcer.Block
	if unblock {
		auditType = models.EventManualIPUnblock
		action = models.ActionIPUnblocked
		command = i.enforcer.Unblock
	}

	details := map[string]interface{}{
		"reason":   reason,
		"actor_id": actorID,
	}

	if !i.enforcer.Enabled() {
		details["outcome"] = string(models.ActionDisabled)
		i.recordAction(ctx, auditType, models.SeverityMedium, origin, actorID, details)
		return i.outcome(models.ActionDisabled, origin, details), nil
	}

	cmdErr := command(ctx, origin, reason)
	if cmdErr != nil {
		details["outcome"] = "failed"
		details["error"] = cmdErr.Error()
	} else {
		details["outcome"] = "succeeded"
		if unblock {
			i.unmarkBlocked(origin)
		} else {
			i.markBlocked(origin)
		}
	}

	// Audit regardless of outcome.
	i.recordAction(ctx, auditType, models.SeverityMedium, origin, actorID, details)

	if cmdErr != nil {
		util.Error("Manual firewall command failed",
			zap.String("origin", origin),
			zap.Bool("unblock", unblock),
			zap.Error(cmdErr))
		return i.outcome(models.ActionBlockFailed, origin, details), nil
	}

	util.Info("Manual firewall command applied",
		zap.String("origin", origin),
		zap.Bool("unblock", unblock),
		zap.String("actor_id", actorID))
	return i.outcome(action, origin, details), nil
}

// Status reports the integration state. The blocked set comes live from the
// enforcement point, which is authoritative; local caches are only an
// optimization for Evaluate.
func (i *Integration) Status(ctx context.Context) (*models.FirewallStatus, error) {
	status := &models.FirewallStatus{
		Enabled:    i.enforcer.Enabled(),
		Thresholds: i.Thresholds(),
		CheckedAt:  i.now().UTC(),
	}

	if status.Enabled {
		blocked, err := i.enforcer.ListBlocked(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to fetch blocked origins: %w", err)
		}
		status.BlockedOrigins = blocked
	}

	recent, err := i.events.RecentByTypes(ctx, []models.EventType{
		models.EventIPBlocked,
		models.EventIPBlockFailed,
		models.EventManualIPBlock,
		models.EventManualIPUnblock,
	}, 20)
	if err != nil {
		util.Warn("Failed to load recent firewall events", zap.Error(err))
	} else {
		status.RecentActions = recent
	}

	return status, nil
}

func (i *Integration) outcome(action models.FirewallAction, origin string, details map[string]interface{}) models.FirewallOutcome {
	metrics.FirewallActions.WithLabelValues(string(action)).Inc()
	return models.FirewallOutcome{Action: action, Origin: origin, Details: details}
}

func (i *Integration) recordAction(ctx context.Context, eventType models.EventType, severity models.Severity, origin, actorID string, details map[string]interface{}) {
	event := models.NewSecurityEvent(eventType, severity, origin)
	event.ActorID = actorID
	event.Details = details

	if _, err := i.events.Record(ctx, event); err != nil {
		util.Warn("Failed to record firewall action event",
			zap.String("event_type", string(eventType)),
			zap.String("origin", origin),
			zap.Error(err))
	}
}

func (i *Integration) isBlocked(ctx context.Context, origin string) bool {
	i.mu.RLock()
	fresh := i.now().Sub(i.blockedFetched) < i.blockedCacheTTL && i.blockedCache != nil
	if fresh {
		_, ok := i.blockedCache[origin]
		i.mu.RUnlock()
		return ok
	}
	i.mu.RUnlock()

	blocked, err := i.enforcer.ListBlocked(ctx)
	if err != nil {
		util.Warn("Failed to refresh blocked origin set", zap.Error(err))
		return false
	}

	set := make(map[string]struct{}, len(blocked))
	for _, b := range blocked {
		set[b] = struct{}{}
	}

	i.mu.Lock()
	i.blockedCache = set
	i.blockedFetched = i.now()
	i.mu.Unlock()

	_, ok := set[origin]
	return ok
}

func (i *Integration) markBlocked(origin string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.blockedCache == nil {
		i.blockedCache = make(map[string]struct{})
	}
	i.blockedCache[origin] = struct{}{}
}

func (i *Integration) unmarkBlocked(origin string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	delete(i.blockedCache, origin)
}

func validateOrigin(origin string) error {
	if strings.TrimSpace(origin) == "" {
		return fmt.Errorf("origin is required")
	}
	if net.ParseIP(origin) == nil {
		return fmt.Errorf("invalid origin address: %q", origin)
	}
	return nil
}
