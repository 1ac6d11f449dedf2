package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Pipeline-level counters. Every degradation path increments something here
// so drift into fallback mode is visible on dashboards, not just in logs.
var (
	RateLimitChecks = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "security",
		Subsystem: "ratelimit",
		Name:      "checks_total",
		Help:      "Rate limit checks by namespace and result.",
	}, []string{"namespace", "result"})

	CounterStoreFallback = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "security",
		Subsystem: "ratelimit",
		Name:      "counter_store_fallback",
		Help:      "1 while the limiter is serving from the per-process fallback counter.",
	})

	EventsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "security",
		Subsystem: "events",
		Name:      "recorded_total",
		Help:      "Security events recorded by type and severity.",
	}, []string{"type", "severity"})

	IncidentsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "security",
		Subsystem: "escalation",
		Name:      "incidents_created_total",
		Help:      "Incidents created by the escalation engine.",
	})

	IncidentsDeduplicated = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "security",
		Subsystem: "escalation",
		Name:      "incidents_deduplicated_total",
		Help:      "Escalations suppressed as duplicates within the dedup window.",
	})

	NotificationFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "security",
		Subsystem: "escalation",
		Name:      "notification_failures_total",
		Help:      "Best-effort incident notifications that failed delivery.",
	})

	FirewallActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "security",
		Subsystem: "firewall",
		Name:      "actions_total",
		Help:      "Firewall evaluation outcomes by action.",
	}, []string{"action"})
)
