package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"security-service/internal/escalation"
	"security-service/internal/events"
	"security-service/internal/firewall"
	"security-service/internal/models"
	"security-service/internal/ratelimit"
)

// SecurityService is the programmatic surface the rest of the system calls.
// One instance is constructed at startup and passed by injection; there is
// no module-level shared state.
type SecurityService struct {
	limiter  *ratelimit.Limiter
	log      *events.Log
	engine   *escalation.Engine
	firewall *firewall.Integration
	logger   *zap.Logger
}

func NewSecurityService(
	limiter *ratelimit.Limiter,
	log *events.Log,
	engine *escalation.Engine,
	fw *firewall.Integration,
	logger *zap.Logger,
) *SecurityService {
	return &SecurityService{
		limiter:  limiter,
		log:      log,
		engine:   engine,
		firewall: fw,
		logger:   logger,
	}
}

// CheckRateLimit counts the request against its namespace policy.
func (s *SecurityService) CheckRateLimit(ctx context.Context, namespace, identifier string) (models.Decision, error) {
	return s.limiter.Check(ctx, namespace, identifier)
}

// MarkRequestSkipped discounts a previously counted request, e.g. after a
// successful login on a failures-only namespace.
func (s *SecurityService) MarkRequestSkipped(ctx context.Context, namespace, identifier, marker string) error {
	return s.limiter.Skip(ctx, namespace, identifier, marker)
}

// RecordSecurityEvent appends an event to the log; escalation runs
// automatically for recorded events.
func (s *SecurityService) RecordSecurityEvent(ctx context.Context, event *models.SecurityEvent) (string, error) {
	return s.log.Record(ctx, event)
}

// ProcessSecurityEvent runs the escalation decision for an event directly,
// without recording it first.
func (s *SecurityService) ProcessSecurityEvent(ctx context.Context, event *models.SecurityEvent) (models.EscalationResult, error) {
	return s.engine.Process(ctx, event)
}

// EvaluateOrigin runs the firewall threshold evaluation for one origin.
func (s *SecurityService) EvaluateOrigin(ctx context.Context, origin string) (models.FirewallOutcome, error) {
	return s.firewall.Evaluate(ctx, origin)
}

// BlockOrigin issues a manual enforcement block.
func (s *SecurityService) BlockOrigin(ctx context.Context, origin, reason, actorID string) (models.FirewallOutcome, error) {
	return s.firewall.ManualBlock(ctx, origin, reason, actorID)
}

// UnblockOrigin issues a manual enforcement unblock.
func (s *SecurityService) UnblockOrigin(ctx context.Context, origin, reason, actorID string) (models.FirewallOutcome, error) {
	return s.firewall.ManualUnblock(ctx, origin, reason, actorID)
}

// GetFirewallStatus reports the live firewall state.
func (s *SecurityService) GetFirewallStatus(ctx context.Context) (*models.FirewallStatus, error) {
	return s.firewall.Status(ctx)
}

// SetFirewallThresholds applies a runtime threshold update.
func (s *SecurityService) SetFirewallThresholds(ctx context.Context, t models.FirewallThresholds) error {
	return s.firewall.SetThresholds(ctx, t)
}

// GetSecurityMetrics aggregates event activity over a time range.
func (s *SecurityService) GetSecurityMetrics(ctx context.Context, from, to time.Time) (*events.SecurityMetrics, error) {
	return s.log.Metrics(ctx, from, to)
}

// ReloadEscalationRules invalidates the cached escalation rule set.
func (s *SecurityService) ReloadEscalationRules() {
	s.engine.ReloadRules()
}

// Cleanup releases limiter resources.
func (s *SecurityService) Cleanup() {
	s.limiter.Close()
}
