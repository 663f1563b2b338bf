package observability

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/alerting"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/config"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/health"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/logging"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/metrics"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/resilience"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/tracing"
)

// Service owns the logger, metrics, tracing, health checks and alert sinks
// of the admin process
type Service struct {
	logger  *logging.Logger
	zap     *zap.Logger
	metrics *metrics.Metrics
	health  *health.Service
	tracing *tracing.TracingService
	config  *config.Config

	sinks   []resilience.AlertSink
	history alerting.History
	redis   *redis.Client
	db      *sqlx.DB
}

// NewService creates a new observability service from the application config
func NewService(cfg *config.Config, version string) (*Service, error) {
	logger, err := logging.NewLogger(&logging.Config{
		Level:       cfg.Logging.Level,
		Format:      cfg.Logging.Format,
		Output:      cfg.Logging.Output,
		ServiceName: cfg.Tracing.ServiceName,
		Version:     version,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		return nil, fmt.Errorf("failed to initialize zap logger: %w", err)
	}

	metricsService := metrics.NewMetrics(&metrics.Config{
		Namespace:         cfg.Metrics.Namespace,
		Enabled:           cfg.Metrics.Enabled,
		RuntimeCollectors: true,
	})

	healthService := health.NewService(logger, &health.Config{
		Timeout: 5 * time.Second,
		Metadata: map[string]string{
			"service":     cfg.Tracing.ServiceName,
			"version":     version,
			"environment": cfg.Tracing.Environment,
		},
	})

	tracingService, err := tracing.NewTracingService(&tracing.Config{
		ServiceName:    cfg.Tracing.ServiceName,
		ServiceVersion: version,
		Environment:    cfg.Tracing.Environment,
		JaegerEndpoint: cfg.Tracing.JaegerEndpoint,
		SamplingRate:   cfg.Tracing.SamplingRate,
		Enabled:        cfg.Tracing.Enabled,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}

	return &Service{
		logger:  logger,
		zap:     zapLogger,
		metrics: metricsService,
		health:  healthService,
		tracing: tracingService,
		config:  cfg,
	}, nil
}

// Logger returns the logger instance
func (s *Service) Logger() *logging.Logger {
	return s.logger
}

// Metrics returns the metrics instance
func (s *Service) Metrics() *metrics.Metrics {
	return s.metrics
}

// Health returns the health service instance
func (s *Service) Health() *health.Service {
	return s.health
}

// Tracing returns the tracing service instance
func (s *Service) Tracing() *tracing.TracingService {
	return s.tracing
}

// Sinks returns the alert sinks built by SetupAlertSinks
func (s *Service) Sinks() []resilience.AlertSink {
	return s.sinks
}

// History returns the sink that keeps delivered alerts, or nil
func (s *Service) History() alerting.History {
	return s.history
}

// Redis returns the Redis client opened by SetupAlertSinks, or nil
func (s *Service) Redis() *redis.Client {
	return s.redis
}

// SetupAlertSinks builds the configured alert sinks. The logging sink is
// always present. Redis is preferred over Postgres as alert history.
func (s *Service) SetupAlertSinks(ctx context.Context) error {
	cfg := s.config
	s.sinks = []resilience.AlertSink{resilience.NewLoggingSink(s.logger)}

	if cfg.Alerting.WebhookURL != "" {
		s.sinks = append(s.sinks, alerting.NewWebhookSink(cfg.Alerting.WebhookURL, cfg.Alerting.WebhookTimeout, nil))
	}

	if cfg.Alerting.SlackWebhookURL != "" {
		s.sinks = append(s.sinks, alerting.NewSlackSink(cfg.Alerting.SlackWebhookURL, cfg.Alerting.SlackChannel, s.zap))
	}

	if cfg.Alerting.RedisEnabled {
		client, err := alerting.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		s.redis = client

		redisSink := alerting.NewRedisSink(client, cfg.Alerting.RedisListKey, cfg.Alerting.RedisMaxLength)
		s.sinks = append(s.sinks, redisSink)
		s.history = redisSink
		s.logger.Info("Redis alert sink enabled", "addr", cfg.RedisAddr())
	}

	if cfg.Alerting.PostgresEnabled {
		db, err := alerting.OpenPostgres(ctx, cfg.Database)
		if err != nil {
			return err
		}
		s.db = db

		postgresSink := alerting.NewPostgresSink(db)
		if err := postgresSink.EnsureSchema(ctx); err != nil {
			return err
		}
		s.sinks = append(s.sinks, postgresSink)
		if s.history == nil {
			s.history = postgresSink
		}
		s.logger.Info("Postgres alert sink enabled", "host", cfg.Database.Host)
	}

	return nil
}

// SetupHealthChecks registers the breaker check and a check per open connection
func (s *Service) SetupHealthChecks(handler *resilience.ErrorHandler) {
	s.health.RegisterChecker("circuit_breakers", health.NewBreakerChecker(handler))

	if s.redis != nil {
		s.health.RegisterChecker("redis", health.NewRedisChecker(s.redis, "Redis"))
	}

	if s.db != nil {
		s.health.RegisterChecker("database", health.NewDatabaseChecker(s.db, "PostgreSQL"))
	}

	s.health.RegisterChecker("alert_queue", health.NewCustomChecker(
		"alert_queue",
		func(ctx context.Context) (health.Status, string, error) {
			pending := handler.Stats().PendingAlerts
			if pending > 100 {
				return health.StatusDegraded, fmt.Sprintf("%d alerts waiting for delivery", pending), nil
			}
			return health.StatusHealthy, "Alert queue is draining", nil
		},
	))
}

// Shutdown flushes tracing and closes the connections opened by SetupAlertSinks
func (s *Service) Shutdown(ctx context.Context) error {
	var firstErr error
	if err := s.tracing.Shutdown(ctx); err != nil {
		firstErr = fmt.Errorf("failed to shut down tracing: %w", err)
	}
	if s.redis != nil {
		if err := s.redis.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close redis: %w", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("failed to close database: %w", err)
		}
	}
	_ = s.zap.Sync()
	return firstErr
}
