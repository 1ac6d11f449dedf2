package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config is the typed configuration for the whole service, validated once at
// load time with explicit defaults for every field.
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Clickhouse    ClickhouseConfig
	Elasticsearch ElasticsearchConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	RateLimit     RateLimitConfig
	Escalation    EscalationConfig
	Firewall      FirewallConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	// URL empty means no shared counter store is configured; the limiter
	// runs in permanent per-process fallback mode (logged at startup).
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type ElasticsearchConfig struct {
	URL      string
	Username string
	Password string
	Index    string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
}

type KafkaConfig struct {
	Brokers       []string
	IncidentTopic string
}

// NamespacePolicy is one rate-limit policy: a long sliding window plus a
// short burst window that catches sudden spikes independently.
type NamespacePolicy struct {
	Window      time.Duration
	Max         int
	BurstWindow time.Duration
	BurstMax    int
	// SkipSuccess marks namespaces where successful outcomes are
	// discounted after the fact (e.g. auth counts failures only).
	SkipSuccess bool
	// PerUser keys the namespace by user id (optionally combined with
	// origin) instead of origin alone.
	PerUser bool
}

type RateLimitConfig struct {
	Namespaces map[string]NamespacePolicy
}

type EscalationConfig struct {
	RuleCacheTTL         time.Duration
	SeverityThreshold    string
	DedupWindowMinutes   int
	ProtectedServiceName string
}

type FirewallConfig struct {
	// EndpointURL and APIToken are the enforcement-point credentials.
	// Absence of either makes the integration a logged no-op.
	EndpointURL    string
	APIToken       string
	RequestTimeout time.Duration

	FailedLoginAttempts int
	TimeWindowMinutes   int
	SuspiciousActivity  int

	// BlockedSetCacheTTL bounds how often the live blocked set is
	// re-fetched during evaluation, keeping repeat evaluations of an
	// already-blocked origin from issuing duplicate enforcement calls.
	BlockedSetCacheTTL time.Duration
}

var globalConfig *Config

// LoadConfig reads the environment (including a .env file when present),
// applies defaults, validates, and memoizes the result.
func LoadConfig() *Config {
	if globalConfig != nil {
		return globalConfig
	}

	_ = godotenv.Load() // optional in containerized deployments

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnvInt("SERVER_PORT", 8080),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Redis: RedisConfig{
			URL:      getEnv("REDIS_URL", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", "localhost:9000"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "security"),
		},
		Elasticsearch: ElasticsearchConfig{
			URL:      getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
			Username: getEnv("ELASTICSEARCH_USERNAME", ""),
			Password: getEnv("ELASTICSEARCH_PASSWORD", ""),
			Index:    getEnv("ELASTICSEARCH_INDEX", "security-events"),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", []string{"localhost:9042"}),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "security"),
		},
		Kafka: KafkaConfig{
			Brokers:       getEnvList("KAFKA_BROKERS", []string{"localhost:9092"}),
			IncidentTopic: getEnv("KAFKA_INCIDENT_TOPIC", "security-incidents"),
		},
		RateLimit: RateLimitConfig{
			Namespaces: defaultNamespaces(),
		},
		Escalation: EscalationConfig{
			RuleCacheTTL:         getEnvDuration("ESCALATION_RULE_CACHE_TTL", 5*time.Minute),
			SeverityThreshold:    getEnv("ESCALATION_SEVERITY_THRESHOLD", "high"),
			DedupWindowMinutes:   getEnvInt("ESCALATION_DEDUP_WINDOW_MINUTES", 30),
			ProtectedServiceName: getEnv("PROTECTED_SERVICE_NAME", "security-service"),
		},
		Firewall: FirewallConfig{
			EndpointURL:         getEnv("FIREWALL_ENDPOINT_URL", ""),
			APIToken:            getEnv("FIREWALL_API_TOKEN", ""),
			RequestTimeout:      getEnvDuration("FIREWALL_REQUEST_TIMEOUT", 5*time.Second),
			FailedLoginAttempts: getEnvInt("FIREWALL_FAILED_LOGIN_ATTEMPTS", 5),
			TimeWindowMinutes:   getEnvInt("FIREWALL_TIME_WINDOW_MINUTES", 15),
			SuspiciousActivity:  getEnvInt("FIREWALL_SUSPICIOUS_ACTIVITY", 10),
			BlockedSetCacheTTL:  getEnvDuration("FIREWALL_BLOCKED_SET_CACHE_TTL", 30*time.Second),
		},
	}

	applyNamespaceOverrides(cfg.RateLimit.Namespaces)

	if err := cfg.Validate(); err != nil {
		panic("invalid configuration: " + err.Error())
	}

	globalConfig = cfg
	return cfg
}

// Get returns the memoized config, loading it on first use.
func Get() *Config {
	if globalConfig == nil {
		return LoadConfig()
	}
	return globalConfig
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// Validate checks cross-field invariants once at load time.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server port out of range: %d", c.Server.Port)
	}
	for name, p := range c.RateLimit.Namespaces {
		if p.Max < 1 {
			return fmt.Errorf("namespace %q: max must be >= 1", name)
		}
		if p.Window <= 0 {
			return fmt.Errorf("namespace %q: window must be positive", name)
		}
		if p.BurstMax > 0 && p.BurstWindow <= 0 {
			return fmt.Errorf("namespace %q: burst window must be positive", name)
		}
	}
	if c.Firewall.FailedLoginAttempts < 1 {
		return fmt.Errorf("firewall failed_login_attempts must be >= 1")
	}
	if c.Firewall.TimeWindowMinutes < 1 {
		return fmt.Errorf("firewall time_window_minutes must be >= 1")
	}
	if c.Escalation.DedupWindowMinutes < 1 {
		return fmt.Errorf("escalation dedup window must be >= 1 minute")
	}
	if c.Escalation.RuleCacheTTL <= 0 {
		return fmt.Errorf("escalation rule cache TTL must be positive")
	}
	switch c.Escalation.SeverityThreshold {
	case "low", "medium", "high", "critical":
	default:
		return fmt.Errorf("invalid escalation severity threshold: %q", c.Escalation.SeverityThreshold)
	}
	return nil
}

// defaultNamespaces holds the per-namespace policies. The burst defaults
// (10 in 60s) are tunable parameters pending product input, not verified
// security requirements.
func defaultNamespaces() map[string]NamespacePolicy {
	burst := func(p NamespacePolicy) NamespacePolicy {
		p.BurstWindow = 60 * time.Second
		p.BurstMax = 10
		return p
	}
	return map[string]NamespacePolicy{
		"auth":           {Window: time.Minute, Max: 5, BurstWindow: 10 * time.Second, BurstMax: 3, SkipSuccess: true},
		"api":            burst(NamespacePolicy{Window: time.Minute, Max: 60}),
		"admin":          burst(NamespacePolicy{Window: time.Minute, Max: 30, PerUser: true}),
		"upload":         burst(NamespacePolicy{Window: 5 * time.Minute, Max: 20, PerUser: true}),
		"password-reset": {Window: time.Hour, Max: 3, BurstWindow: 60 * time.Second, BurstMax: 2},
		"email":          burst(NamespacePolicy{Window: 10 * time.Minute, Max: 15, PerUser: true}),
		"webhook":        burst(NamespacePolicy{Window: time.Minute, Max: 120}),
	}
}

// applyNamespaceOverrides reads RATELIMIT_<NS>_WINDOW_MS / RATELIMIT_<NS>_MAX
// overrides from the environment, e.g. RATELIMIT_AUTH_MAX=10.
func applyNamespaceOverrides(namespaces map[string]NamespacePolicy) {
	for name, p := range namespaces {
		envName := strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
		if ms := getEnvInt("RATELIMIT_"+envName+"_WINDOW_MS", 0); ms > 0 {
			p.Window = time.Duration(ms) * time.Millisecond
		}
		if max := getEnvInt("RATELIMIT_"+envName+"_MAX", 0); max > 0 {
			p.Max = max
		}
		namespaces[name] = p
	}
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		out := make([]string, 0, len(parts))
		for _, p := range parts {
			if s := strings.TrimSpace(p); s != "" {
				out = append(out, s)
			}
		}
		if len(out) > 0 {
			return out
		}
	}
	return defaultValue
}
