package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfigDefaults(t *testing.T) {
	cfg := LoadConfig()

	assert.Equal(t, "development", cfg.Environment)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "0.0.0.0:8080", cfg.GetServerAddress())
	assert.Equal(t, "security", cfg.Clickhouse.Database)
	assert.Equal(t, []string{"localhost:9042"}, cfg.Scylla.Nodes)
	assert.Equal(t, "security-incidents", cfg.Kafka.IncidentTopic)
	assert.Equal(t, 5*time.Minute, cfg.Escalation.RuleCacheTTL)
	assert.Equal(t, 5, cfg.Firewall.FailedLoginAttempts)

	// Memoized: a second load returns the same instance.
	assert.Same(t, cfg, LoadConfig())
	assert.Same(t, cfg, Get())
}

func TestDefaultNamespacePolicies(t *testing.T) {
	namespaces := defaultNamespaces()

	auth, ok := namespaces["auth"]
	require.True(t, ok)
	assert.Equal(t, time.Minute, auth.Window)
	assert.Equal(t, 5, auth.Max)
	assert.True(t, auth.SkipSuccess, "auth counts failures only")
	assert.Equal(t, 3, auth.BurstMax)

	reset, ok := namespaces["password-reset"]
	require.True(t, ok)
	assert.Equal(t, time.Hour, reset.Window)
	assert.Equal(t, 3, reset.Max)

	admin, ok := namespaces["admin"]
	require.True(t, ok)
	assert.True(t, admin.PerUser)

	for name, p := range namespaces {
		assert.Positive(t, p.Max, "namespace %q", name)
		assert.Positive(t, p.Window, "namespace %q", name)
	}
}

func TestApplyNamespaceOverrides(t *testing.T) {
	t.Setenv("RATELIMIT_AUTH_MAX", "12")
	t.Setenv("RATELIMIT_PASSWORD_RESET_WINDOW_MS", "120000")

	namespaces := defaultNamespaces()
	applyNamespaceOverrides(namespaces)

	assert.Equal(t, 12, namespaces["auth"].Max)
	assert.Equal(t, 2*time.Minute, namespaces["password-reset"].Window)
	assert.Equal(t, 60, namespaces["api"].Max, "untouched namespaces keep defaults")
}

func TestValidateRejectsBadPolicies(t *testing.T) {
	base := func() *Config {
		return &Config{
			Server: ServerConfig{Port: 8080},
			RateLimit: RateLimitConfig{
				Namespaces: defaultNamespaces(),
			},
			Escalation: EscalationConfig{
				RuleCacheTTL:       time.Minute,
				SeverityThreshold:  "high",
				DedupWindowMinutes: 30,
			},
			Firewall: FirewallConfig{
				FailedLoginAttempts: 5,
				TimeWindowMinutes:   15,
			},
		}
	}

	require.NoError(t, base().Validate())

	cfg := base()
	cfg.Server.Port = 0
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.RateLimit.Namespaces["auth"] = NamespacePolicy{Window: time.Minute, Max: 0}
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.RateLimit.Namespaces["auth"] = NamespacePolicy{Window: 0, Max: 5}
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.RateLimit.Namespaces["auth"] = NamespacePolicy{Window: time.Minute, Max: 5, BurstMax: 3}
	assert.Error(t, cfg.Validate(), "burst max without burst window")

	cfg = base()
	cfg.Escalation.SeverityThreshold = "urgent"
	assert.Error(t, cfg.Validate())

	cfg = base()
	cfg.Firewall.TimeWindowMinutes = 0
	assert.Error(t, cfg.Validate())
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_INT_BAD", "not-a-number")
	t.Setenv("TEST_DUR", "150ms")
	t.Setenv("TEST_LIST", "a, b ,c")

	assert.Equal(t, "value", getEnv("TEST_STR", "fallback"))
	assert.Equal(t, "fallback", getEnv("TEST_MISSING", "fallback"))
	assert.Equal(t, 42, getEnvInt("TEST_INT", 1))
	assert.Equal(t, 1, getEnvInt("TEST_INT_BAD", 1))
	assert.Equal(t, 150*time.Millisecond, getEnvDuration("TEST_DUR", time.Second))
	assert.Equal(t, time.Second, getEnvDuration("TEST_MISSING", time.Second))
	assert.Equal(t, []string{"a", "b", "c"}, getEnvList("TEST_LIST", nil))
	assert.Equal(t, []string{"x"}, getEnvList("TEST_MISSING", []string{"x"}))
}

func TestEnvironmentPredicates(t *testing.T) {
	cfg := &Config{Environment: "production"}
	assert.True(t, cfg.IsProduction())
	assert.False(t, cfg.IsDevelopment())

	cfg.Environment = "development"
	assert.False(t, cfg.IsProduction())
	assert.True(t, cfg.IsDevelopment())
}
