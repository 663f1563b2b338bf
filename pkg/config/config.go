package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	Resilience ResilienceConfig `json:"resilience"`
	Admin      AdminConfig      `json:"admin"`
	Logging    LoggingConfig    `json:"logging"`
	Metrics    MetricsConfig    `json:"metrics"`
	Tracing    TracingConfig    `json:"tracing"`
	Alerting   AlertingConfig   `json:"alerting"`
	Redis      RedisConfig      `json:"redis"`
	Database   DatabaseConfig   `json:"database"`
}

// ResilienceConfig holds the defaults of the error handler
type ResilienceConfig struct {
	BreakerThreshold        int           `json:"breaker_threshold"`
	BreakerTimeout          time.Duration `json:"breaker_timeout"`
	BreakerSuccessThreshold int           `json:"breaker_success_threshold"`
	RetryMaxRetries         int           `json:"retry_max_retries"`
	RetryBaseDelay          time.Duration `json:"retry_base_delay"`
	RetryMaxDelay           time.Duration `json:"retry_max_delay"`
	RetryBackoffMultiplier  float64       `json:"retry_backoff_multiplier"`
	RetryJitter             bool          `json:"retry_jitter"`
	RetryJitterFraction     float64       `json:"retry_jitter_fraction"`
	RetryableErrors         []string      `json:"retryable_errors"`
	AggregationWindow       time.Duration `json:"aggregation_window"`
	AlertingThreshold       int           `json:"alerting_threshold"`
	AlertDrainInterval      time.Duration `json:"alert_drain_interval"`
}

// AdminConfig contains the admin HTTP server configuration
type AdminConfig struct {
	Host         string        `json:"host"`
	Port         int           `json:"port"`
	ReadTimeout  time.Duration `json:"read_timeout"`
	WriteTimeout time.Duration `json:"write_timeout"`
	IdleTimeout  time.Duration `json:"idle_timeout"`
	JWTSecret    string        `json:"jwt_secret"`
	CORSOrigins  []string      `json:"cors_origins"`

	// RateLimit is the number of requests a client may make per
	// RateLimitWindow. Zero disables limiting.
	RateLimit       int           `json:"rate_limit"`
	RateLimitWindow time.Duration `json:"rate_limit_window"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `json:"level"`
	Format string `json:"format"`
	Output string `json:"output"`
}

// MetricsConfig contains Prometheus configuration
type MetricsConfig struct {
	Enabled   bool   `json:"enabled"`
	Namespace string `json:"namespace"`
}

// TracingConfig contains OpenTelemetry configuration
type TracingConfig struct {
	Enabled        bool    `json:"enabled"`
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
}

// AlertingConfig selects the alert sinks
type AlertingConfig struct {
	WebhookURL      string        `json:"webhook_url"`
	WebhookTimeout  time.Duration `json:"webhook_timeout"`
	SlackWebhookURL string        `json:"slack_webhook_url"`
	SlackChannel    string        `json:"slack_channel"`
	RedisEnabled    bool          `json:"redis_enabled"`
	RedisListKey    string        `json:"redis_list_key"`
	RedisMaxLength  int64         `json:"redis_max_length"`
	PostgresEnabled bool          `json:"postgres_enabled"`
}

// RedisConfig contains Redis connection configuration
type RedisConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Password string `json:"password"`
	DB       int    `json:"db"`
	PoolSize int    `json:"pool_size"`
}

// DatabaseConfig contains database connection configuration
type DatabaseConfig struct {
	Host            string        `json:"host"`
	Port            int           `json:"port"`
	Name            string        `json:"name"`
	User            string        `json:"user"`
	Password        string        `json:"password"`
	SSLMode         string        `json:"ssl_mode"`
	MaxOpenConns    int           `json:"max_open_conns"`
	MaxIdleConns    int           `json:"max_idle_conns"`
	ConnMaxLifetime time.Duration `json:"conn_max_lifetime"`
}

// Load loads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	config := &Config{
		Resilience: ResilienceConfig{
			BreakerThreshold:        getEnvInt("RESILIENCE_BREAKER_THRESHOLD", 5),
			BreakerTimeout:          getEnvDuration("RESILIENCE_BREAKER_TIMEOUT", 60*time.Second),
			BreakerSuccessThreshold: getEnvInt("RESILIENCE_BREAKER_SUCCESS_THRESHOLD", 3),
			RetryMaxRetries:         getEnvInt("RESILIENCE_RETRY_MAX_RETRIES", 3),
			RetryBaseDelay:          getEnvDuration("RESILIENCE_RETRY_BASE_DELAY", time.Second),
			RetryMaxDelay:           getEnvDuration("RESILIENCE_RETRY_MAX_DELAY", 30*time.Second),
			RetryBackoffMultiplier:  getEnvFloat("RESILIENCE_RETRY_BACKOFF_MULTIPLIER", 2.0),
			RetryJitter:             getEnvBool("RESILIENCE_RETRY_JITTER", true),
			RetryJitterFraction:     getEnvFloat("RESILIENCE_RETRY_JITTER_FRACTION", 0.1),
			RetryableErrors:         getEnvList("RESILIENCE_RETRYABLE_ERRORS", []string{"NetworkError", "TimeoutError", "ECONNRESET", "ECONNREFUSED", "ETIMEDOUT"}),
			AggregationWindow:       getEnvDuration("RESILIENCE_AGGREGATION_WINDOW", 60*time.Second),
			AlertingThreshold:       getEnvInt("RESILIENCE_ALERTING_THRESHOLD", 10),
			AlertDrainInterval:      getEnvDuration("RESILIENCE_ALERT_DRAIN_INTERVAL", 5*time.Second),
		},
		Admin: AdminConfig{
			Host:            getEnvString("ADMIN_HOST", "0.0.0.0"),
			Port:            getEnvInt("ADMIN_PORT", 8090),
			ReadTimeout:     getEnvDuration("ADMIN_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getEnvDuration("ADMIN_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:     getEnvDuration("ADMIN_IDLE_TIMEOUT", 120*time.Second),
			JWTSecret:       getEnvString("ADMIN_JWT_SECRET", ""),
			CORSOrigins:     getEnvList("ADMIN_CORS_ORIGINS", []string{"*"}),
			RateLimit:       getEnvInt("ADMIN_RATE_LIMIT", 120),
			RateLimitWindow: getEnvDuration("ADMIN_RATE_LIMIT_WINDOW", time.Minute),
		},
		Logging: LoggingConfig{
			Level:  getEnvString("LOG_LEVEL", "info"),
			Format: getEnvString("LOG_FORMAT", "json"),
			Output: getEnvString("LOG_OUTPUT", "stdout"),
		},
		Metrics: MetricsConfig{
			Enabled:   getEnvBool("METRICS_ENABLED", true),
			Namespace: getEnvString("METRICS_NAMESPACE", "resilience"),
		},
		Tracing: TracingConfig{
			Enabled:        getEnvBool("TRACING_ENABLED", false),
			ServiceName:    getEnvString("TRACING_SERVICE_NAME", "resilience"),
			ServiceVersion: getEnvString("TRACING_SERVICE_VERSION", "1.0.0"),
			Environment:    getEnvString("TRACING_ENVIRONMENT", "development"),
			JaegerEndpoint: getEnvString("TRACING_JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
			SamplingRate:   getEnvFloat("TRACING_SAMPLING_RATE", 1.0),
		},
		Alerting: AlertingConfig{
			WebhookURL:      getEnvString("ALERT_WEBHOOK_URL", ""),
			WebhookTimeout:  getEnvDuration("ALERT_WEBHOOK_TIMEOUT", 10*time.Second),
			SlackWebhookURL: getEnvString("ALERT_SLACK_WEBHOOK_URL", ""),
			SlackChannel:    getEnvString("ALERT_SLACK_CHANNEL", ""),
			RedisEnabled:    getEnvBool("ALERT_REDIS_ENABLED", false),
			RedisListKey:    getEnvString("ALERT_REDIS_LIST_KEY", "resilience:alerts"),
			RedisMaxLength:  int64(getEnvInt("ALERT_REDIS_MAX_LENGTH", 10000)),
			PostgresEnabled: getEnvBool("ALERT_POSTGRES_ENABLED", false),
		},
		Redis: RedisConfig{
			Host:     getEnvString("REDIS_HOST", "localhost"),
			Port:     getEnvInt("REDIS_PORT", 6379),
			Password: getEnvString("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
			PoolSize: getEnvInt("REDIS_POOL_SIZE", 10),
		},
		Database: DatabaseConfig{
			Host:            getEnvString("DB_HOST", "localhost"),
			Port:            getEnvInt("DB_PORT", 5432),
			Name:            getEnvString("DB_NAME", "resilience"),
			User:            getEnvString("DB_USER", "resilience"),
			Password:        getEnvString("DB_PASSWORD", ""),
			SSLMode:         getEnvString("DB_SSL_MODE", "disable"),
			MaxOpenConns:    getEnvInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvInt("DB_MAX_IDLE_CONNS", 2),
			ConnMaxLifetime: getEnvDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return config, nil
}

// Validate validates the configuration
func (c *Config) Validate() error {
	r := c.Resilience
	if r.BreakerThreshold < 1 {
		return fmt.Errorf("breaker threshold must be at least 1")
	}
	if r.BreakerTimeout <= 0 {
		return fmt.Errorf("breaker timeout must be positive")
	}
	if r.BreakerSuccessThreshold < 1 {
		return fmt.Errorf("breaker success threshold must be at least 1")
	}
	if r.RetryMaxRetries < 0 {
		return fmt.Errorf("retry max retries cannot be negative")
	}
	if r.RetryBackoffMultiplier < 1 {
		return fmt.Errorf("retry backoff multiplier must be at least 1")
	}
	if r.RetryJitterFraction < 0 || r.RetryJitterFraction > 1 {
		return fmt.Errorf("retry jitter fraction must be within [0, 1]")
	}
	if r.RetryJitter && r.RetryJitterFraction == 0 {
		return fmt.Errorf("retry jitter fraction must be positive when jitter is enabled")
	}
	if r.AggregationWindow <= 0 {
		return fmt.Errorf("aggregation window must be positive")
	}
	if r.AlertingThreshold < 1 {
		return fmt.Errorf("alerting threshold must be at least 1")
	}
	if r.AlertDrainInterval <= 0 {
		return fmt.Errorf("alert drain interval must be positive")
	}

	if c.Admin.RateLimit < 0 {
		return fmt.Errorf("admin rate limit cannot be negative")
	}
	if c.Admin.RateLimit > 0 && c.Admin.RateLimitWindow <= 0 {
		return fmt.Errorf("admin rate limit window must be positive")
	}

	if c.Alerting.PostgresEnabled && c.Database.Password == "" {
		return fmt.Errorf("database password is required when the postgres alert sink is enabled")
	}

	return nil
}

// DSN returns the lib/pq connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s connect_timeout=10",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
	)
}

// RedisAddr returns the Redis host:port address
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// AdminAddr returns the admin server listen address
func (c *Config) AdminAddr() string {
	return fmt.Sprintf("%s:%d", c.Admin.Host, c.Admin.Port)
}

// Helper functions for environment variable parsing
func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	if len(items) == 0 {
		return defaultValue
	}
	return items
}
