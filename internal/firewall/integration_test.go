package firewall

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"security-service/internal/models"
)

type fakeEnforcer struct {
	enabled    bool
	blocked    map[string]bool
	blockErr   error
	unblockErr error
	listErr    error

	blockCalls   int
	unblockCalls int
}

func newFakeEnforcer() *fakeEnforcer {
	return &fakeEnforcer{enabled: true, blocked: map[string]bool{}}
}

func (f *fakeEnforcer) Enabled() bool { return f.enabled }

func (f *fakeEnforcer) Block(_ context.Context, origin, _ string) error {
	f.blockCalls++
	if f.blockErr != nil {
		return f.blockErr
	}
	f.blocked[origin] = true
	return nil
}

func (f *fakeEnforcer) Unblock(_ context.Context, origin, _ string) error {
	f.unblockCalls++
	if f.unblockErr != nil {
		return f.unblockErr
	}
	delete(f.blocked, origin)
	return nil
}

func (f *fakeEnforcer) ListBlocked(context.Context) ([]string, error) {
	if f.listErr != nil {
		return nil, f.listErr
	}
	out := make([]string, 0, len(f.blocked))
	for o := range f.blocked {
		out = append(out, o)
	}
	return out, nil
}

type fakeEventLog struct {
	recorded    []*models.SecurityEvent
	failedCount int
	countErr    error
}

func (f *fakeEventLog) Record(_ context.Context, event *models.SecurityEvent) (string, error) {
	f.recorded = append(f.recorded, event)
	return event.ID, nil
}

func (f *fakeEventLog) CountByTypeAndOrigin(_ context.Context, eventType models.EventType, _ string, _ time.Time) (int, error) {
	if f.countErr != nil {
		return 0, f.countErr
	}
	if eventType == models.EventFailedLogin {
		return f.failedCount, nil
	}
	return 0, nil
}

func (f *fakeEventLog) RecentByTypes(context.Context, []models.EventType, int) ([]*models.SecurityEvent, error) {
	return f.recorded, nil
}

func (f *fakeEventLog) typesRecorded() []models.EventType {
	out := make([]models.EventType, 0, len(f.recorded))
	for _, e := range f.recorded {
		out = append(out, e.Type)
	}
	return out
}

func testThresholds() models.FirewallThresholds {
	return models.FirewallThresholds{
		FailedLoginAttempts: 5,
		TimeWindowMinutes:   15,
		SuspiciousActivity:  10,
	}
}

func newTestIntegration(enforcer Enforcer, log EventLog) *Integration {
	return NewIntegration(enforcer, log, testThresholds(), nil, 30*time.Second)
}

func TestEvaluateBelowThresholdMonitors(t *testing.T) {
	enforcer := newFakeEnforcer()
	log := &fakeEventLog{failedCount: 4}
	i := newTestIntegration(enforcer, log)

	outcome, err := i.Evaluate(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionMonitored, outcome.Action)
	assert.Equal(t, 4, outcome.Details["failed_logins"])
	assert.Equal(t, 0, enforcer.blockCalls)
	assert.Empty(t, log.recorded)
}

func TestEvaluateAtThresholdBlocks(t *testing.T) {
	enforcer := newFakeEnforcer()
	log := &fakeEventLog{failedCount: 5}
	i := newTestIntegration(enforcer, log)

	outcome, err := i.Evaluate(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionIPBlocked, outcome.Action)
	assert.Equal(t, 1, enforcer.blockCalls)
	assert.True(t, enforcer.blocked["10.0.0.1"])

	// The block is itself recorded as a high-severity event.
	require.Len(t, log.recorded, 1)
	assert.Equal(t, models.EventIPBlocked, log.recorded[0].Type)
	assert.Equal(t, models.SeverityHigh, log.recorded[0].Severity)
	assert.Equal(t, "10.0.0.1", log.recorded[0].Origin)
}

func TestEvaluateAlreadyBlockedIsNoOp(t *testing.T) {
	enforcer := newFakeEnforcer()
	log := &fakeEventLog{failedCount: 10}
	i := newTestIntegration(enforcer, log)

	first, err := i.Evaluate(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	require.Equal(t, models.ActionIPBlocked, first.Action)

	second, err := i.Evaluate(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionMonitored, second.Action)
	assert.Equal(t, true, second.Details["already_blocked"])
	assert.Equal(t, 1, enforcer.blockCalls, "no second enforcement call for a blocked origin")
	assert.Len(t, log.recorded, 1, "no duplicate block event")
}

func TestEvaluateBlockFailure(t *testing.T) {
	enforcer := newFakeEnforcer()
	enforcer.blockErr = fmt.Errorf("control plane 502")
	log := &fakeEventLog{failedCount: 9}
	i := newTestIntegration(enforcer, log)

	outcome, err := i.Evaluate(context.Background(), "10.0.0.1")
	require.NoError(t, err, "enforcement failure is an outcome, not a call error")
	assert.Equal(t, models.ActionBlockFailed, outcome.Action)

	require.Len(t, log.recorded, 1)
	assert.Equal(t, models.EventIPBlockFailed, log.recorded[0].Type)
	assert.Equal(t, models.SeverityHigh, log.recorded[0].Severity)
}

func TestEvaluateRetriesOnNextCycleAfterFailure(t *testing.T) {
	enforcer := newFakeEnforcer()
	enforcer.blockErr = fmt.Errorf("control plane 502")
	log := &fakeEventLog{failedCount: 9}
	i := newTestIntegration(enforcer, log)

	_, err := i.Evaluate(context.Background(), "10.0.0.1")
	require.NoError(t, err)

	enforcer.blockErr = nil
	outcome, err := i.Evaluate(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionIPBlocked, outcome.Action)
	assert.Equal(t, 2, enforcer.blockCalls)
}

func TestEvaluateCountQueryError(t *testing.T) {
	enforcer := newFakeEnforcer()
	log := &fakeEventLog{countErr: fmt.Errorf("clickhouse down")}
	i := newTestIntegration(enforcer, log)

	outcome, err := i.Evaluate(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionProcessingError, outcome.Action)
	assert.Equal(t, 0, enforcer.blockCalls)
}

func TestEvaluateDisabledIntegration(t *testing.T) {
	enforcer := newFakeEnforcer()
	enforcer.enabled = false
	log := &fakeEventLog{failedCount: 50}
	i := newTestIntegration(enforcer, log)

	outcome, err := i.Evaluate(context.Background(), "10.0.0.1")
	require.NoError(t, err)
	assert.Equal(t, models.ActionDisabled, outcome.Action)
	assert.Equal(t, 0, enforcer.blockCalls)
}

func TestEvaluateRejectsInvalidOrigin(t *testing.T) {
	i := newTestIntegration(newFakeEnforcer(), &fakeEventLog{})

	_, err := i.Evaluate(context.Background(), "not-an-ip")
	require.Error(t, err)

	_, err = i.Evaluate(context.Background(), "")
	require.Error(t, err)
}

func TestManualBlockAudits(t *testing.T) {
	enforcer := newFakeEnforcer()
	log := &fakeEventLog{}
	i := newTestIntegration(enforcer, log)

	outcome, err := i.ManualBlock(context.Background(), "10.0.0.1", "abuse report 4417", "admin-3")
	require.NoError(t, err)
	assert.Equal(t, models.ActionIPBlocked, outcome.Action)

	require.Len(t, log.recorded, 1)
	audit := log.recorded[0]
	assert.Equal(t, models.EventManualIPBlock, audit.Type)
	assert.Equal(t, "admin-3", audit.ActorID)
	assert.Equal(t, "succeeded", audit.Details["outcome"])
}

func TestManualBlockAuditsEvenWhenEnforcementFails(t *testing.T) {
	enforcer := newFakeEnforcer()
	enforcer.blockErr = fmt.Errorf("control plane 502")
	log := &fakeEventLog{}
	i := newTestIntegration(enforcer, log)

	outcome, err := i.ManualBlock(context.Background(), "10.0.0.1", "abuse report", "admin-3")
	require.NoError(t, err)
	assert.Equal(t, models.ActionBlockFailed, outcome.Action)

	require.Len(t, log.recorded, 1)
	assert.Equal(t, "failed", log.recorded[0].Details["outcome"])
}

func TestManualBlockRequiresReason(t *testing.T) {
	i := newTestIntegration(newFakeEnforcer(), &fakeEventLog{})

	_, err := i.ManualBlock(context.Background(), "10.0.0.1", "  ", "admin-3")
	require.Error(t, err)
}

func TestManualUnblock(t *testing.T) {
	enforcer := newFakeEnforcer()
	enforcer.blocked["10.0.0.1"] = true
	log := &fakeEventLog{}
	i := newTestIntegration(enforcer, log)

	outcome, err := i.ManualUnblock(context.Background(), "10.0.0.1", "false positive", "admin-3")
	require.NoError(t, err)
	assert.Equal(t, models.ActionIPUnblocked, outcome.Action)
	assert.False(t, enforcer.blocked["10.0.0.1"])
	assert.Equal(t, []models.EventType{models.EventManualIPUnblock}, log.typesRecorded())
}

func TestManualCommandDisabledStillAudits(t *testing.T) {
	enforcer := newFakeEnforcer()
	enforcer.enabled = false
	log := &fakeEventLog{}
	i := newTestIntegration(enforcer, log)

	outcome, err := i.ManualBlock(context.Background(), "10.0.0.1", "abuse report", "admin-3")
	require.NoError(t, err)
	assert.Equal(t, models.ActionDisabled, outcome.Action)
	assert.Equal(t, 0, enforcer.blockCalls)
	require.Len(t, log.recorded, 1, "disabled manual commands are still audited")
}

func TestStatusReportsLiveBlockedSet(t *testing.T) {
	enforcer := newFakeEnforcer()
	enforcer.blocked["10.0.0.1"] = true
	i := newTestIntegration(enforcer, &fakeEventLog{})

	status, err := i.Status(context.Background())
	require.NoError(t, err)
	assert.True(t, status.Enabled)
	assert.Equal(t, []string{"10.0.0.1"}, status.BlockedOrigins)
	assert.Equal(t, testThresholds(), status.Thresholds)
}

func TestStatusPropagatesEnforcementError(t *testing.T) {
	enforcer := newFakeEnforcer()
	enforcer.listErr = fmt.Errorf("control plane down")
	i := newTestIntegration(enforcer, &fakeEventLog{})

	_, err := i.Status(context.Background())
	require.Error(t, err)
}

type savingStore struct {
	saved []models.FirewallThresholds
	err   error
}

func (s *savingStore) SaveThresholds(_ context.Context, t models.FirewallThresholds) error {
	if s.err != nil {
		return s.err
	}
	s.saved = append(s.saved, t)
	return nil
}

func TestSetThresholdsPersistsAndApplies(t *testing.T) {
	store := &savingStore{}
	i := NewIntegration(newFakeEnforcer(), &fakeEventLog{}, testThresholds(), store, 30*time.Second)

	updated := models.FirewallThresholds{FailedLoginAttempts: 3, TimeWindowMinutes: 5, SuspiciousActivity: 8}
	require.NoError(t, i.SetThresholds(context.Background(), updated))
	assert.Equal(t, updated, i.Thresholds())
	assert.Equal(t, []models.FirewallThresholds{updated}, store.saved)
}

func TestSetThresholdsRejectsInvalid(t *testing.T) {
	i := newTestIntegration(newFakeEnforcer(), &fakeEventLog{})

	err := i.SetThresholds(context.Background(), models.FirewallThresholds{})
	require.Error(t, err)
	assert.Equal(t, testThresholds(), i.Thresholds(), "invalid update leaves thresholds unchanged")
}

func TestSetThresholdsStoreFailureDoesNotApply(t *testing.T) {
	store := &savingStore{err: fmt.Errorf("scylla down")}
	i := NewIntegration(newFakeEnforcer(), &fakeEventLog{}, testThresholds(), store, 30*time.Second)

	updated := models.FirewallThresholds{FailedLoginAttempts: 3, TimeWindowMinutes: 5, SuspiciousActivity: 8}
	err := i.SetThresholds(context.Background(), updated)
	require.Error(t, err)
	assert.Equal(t, testThresholds(), i.Thresholds())
}
