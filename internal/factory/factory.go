package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"security-service/internal/bucketing"
	"security-service/internal/client"
	"security-service/internal/config"
	"security-service/internal/escalation"
	"security-service/internal/events"
	"security-service/internal/firewall"
	"security-service/internal/models"
	"security-service/internal/ratelimit"
	redisrepo "security-service/internal/repository/redis"
	"security-service/internal/repository/scylla"
	"security-service/internal/service"
	"security-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config *config.Config

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	bucketingManager *bucketing.Manager

	// Pipeline
	sharedStore     *redisrepo.CounterStore
	limiter         *ratelimit.Limiter
	eventLog        *events.Log
	engine          *escalation.Engine
	firewall        *firewall.Integration
	securityService *service.SecurityService

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializePipeline(); err != nil {
		factory.Close()
		return nil, fmt.Errorf("failed to initialize pipeline: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("shared_counter_store", factory.redisClient != nil),
		util.Bool("notifications_enabled", factory.kafkaProducer != nil),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health
// checks. ClickHouse and ScyllaDB are required; Redis, Kafka, and
// Elasticsearch are optional and their absence degrades the corresponding
// feature instead of failing startup.
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// ClickHouse (authoritative event log)
	if ch, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = ch
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	// ScyllaDB (incidents and runtime config)
	if sc, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = sc
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		} else {
			util.Info("ScyllaDB client initialized and healthy")
		}
	}

	// Redis (shared rate-limit counters). Without it the limiter runs on
	// the per-process window, which is warned about at construction.
	if f.config.Redis.URL == "" {
		util.Warn("REDIS_URL not set - rate limiting will be per-instance only")
	} else if rc, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		util.Warn("Redis initialization failed - rate limiting will be per-instance only", util.ErrorField(err))
	} else if err := rc.HealthCheck(ctx); err != nil {
		util.Warn("Redis health check failed - rate limiting will be per-instance only", util.ErrorField(err))
		rc.Close()
	} else {
		f.redisClient = rc
		util.Info("Redis client initialized and healthy")
	}

	// Kafka (incident notifications)
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without notifications", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch (secondary search index)
	if es, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		util.Warn("Elasticsearch initialization failed - proceeding without search index", util.ErrorField(err))
	} else if err := es.HealthCheck(); err != nil {
		util.Warn("Elasticsearch health check failed - proceeding without search index", util.ErrorField(err))
		es.Close()
	} else {
		f.esClient = es
		util.Info("Elasticsearch client initialized and healthy")
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializePipeline wires stores, limiter, event log, escalation engine,
// firewall integration, and the service facade.
func (f *Factory) initializePipeline() error {
	f.bucketingManager = bucketing.NewManager(64, 16)

	// Rate limiter. Counter keys self-expire via PEXPIRE; the reaper only
	// clears keys that drifted out of that contract.
	var counterStore ratelimit.CounterStore
	if f.redisClient != nil {
		f.sharedStore = redisrepo.NewCounterStore(f.redisClient)
		f.sharedStore.StartReaper(10 * time.Minute)
		counterStore = f.sharedStore
	}
	fallback := ratelimit.NewLocalWindow()
	fallback.StartReaper(time.Minute, maxConfiguredWindow(f.config))

	// Event log
	eventStore := events.NewClickHouseStore(f.clickhouseClient)
	var search events.SearchIndex
	if f.esClient != nil {
		search = f.esClient
	}
	f.eventLog = events.NewLog(eventStore, search, f.bucketingManager)

	f.limiter = ratelimit.NewLimiter(f.config.RateLimit.Namespaces, counterStore, fallback, f.eventLog)

	// Escalation engine
	incidentRepo := scylla.NewIncidentRepository(f.scyllaClient, f.bucketingManager)
	configRepo := scylla.NewConfigRepository(f.scyllaClient)

	var notifier escalation.Notifier
	if f.kafkaProducer != nil {
		notifier = escalation.NewKafkaNotifier(f.kafkaProducer, f.config.Kafka.IncidentTopic)
	}
	f.engine = escalation.NewEngine(
		configRepo,
		incidentRepo,
		notifier,
		f.config.Escalation.RuleCacheTTL,
		f.config.Escalation.ProtectedServiceName,
	)

	// Recorded events feed the engine automatically.
	f.eventLog.SetEscalator(f.engine)

	// Firewall integration, seeded with persisted thresholds when present.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	defaults := models.FirewallThresholds{
		FailedLoginAttempts: f.config.Firewall.FailedLoginAttempts,
		TimeWindowMinutes:   f.config.Firewall.TimeWindowMinutes,
		SuspiciousActivity:  f.config.Firewall.SuspiciousActivity,
	}
	thresholds, err := configRepo.FetchThresholds(ctx, defaults)
	if err != nil {
		util.Warn("Failed to load persisted firewall thresholds, using configured defaults", util.ErrorField(err))
		thresholds = defaults
	}

	enforcer := firewall.NewHTTPEnforcer(f.config.Firewall)
	f.firewall = firewall.NewIntegration(enforcer, f.eventLog, thresholds, configRepo, f.config.Firewall.BlockedSetCacheTTL)

	f.securityService = service.NewSecurityService(f.limiter, f.eventLog, f.engine, f.firewall, util.Get())

	return nil
}

// maxConfiguredWindow returns the longest window across all namespace
// policies; the fallback reaper uses it to bound retained entries.
func maxConfiguredWindow(cfg *config.Config) time.Duration {
	max := time.Minute
	for _, p := range cfg.RateLimit.Namespaces {
		if p.Window > max {
			max = p.Window
		}
		if p.BurstWindow > max {
			max = p.BurstWindow
		}
	}
	return max
}

// ==============================
// Health Checks
// ==============================

func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	}

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	return len(f.HealthCheck(ctx)) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.securityService != nil {
			f.securityService.Cleanup()
			util.Info("Security service cleaned up")
		}

		if f.sharedStore != nil {
			f.sharedStore.Stop()
			util.Info("Counter store reaper stopped")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
			util.Info("ScyllaDB client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) SecurityService() *service.SecurityService {
	return f.securityService
}

func (f *Factory) BucketingManager() *bucketing.Manager {
	return f.bucketingManager
}
