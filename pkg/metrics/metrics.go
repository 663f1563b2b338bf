package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	registry *prometheus.Registry

	// Error handling metrics
	ErrorsTotal     *prometheus.CounterVec
	RecoveryActions *prometheus.CounterVec
	ReportsStored   prometheus.Gauge
	ReportsPruned   prometheus.Counter

	// Circuit breaker metrics
	CircuitBreakerState       *prometheus.GaugeVec
	CircuitBreakerTransitions *prometheus.CounterVec
	CircuitBreakerRejections  *prometheus.CounterVec

	// Retry metrics
	RetryAttempts *prometheus.CounterVec
	RetryDelay    *prometheus.HistogramVec

	// Alert metrics
	AlertsQueued    *prometheus.CounterVec
	AlertDeliveries *prometheus.CounterVec

	// Admin HTTP metrics
	HTTPRequestsTotal    *prometheus.CounterVec
	HTTPRequestDuration  *prometheus.HistogramVec
	HTTPRequestsInFlight *prometheus.GaugeVec
}

// Config holds metrics configuration
type Config struct {
	Namespace string `json:"namespace"`
	Subsystem string `json:"subsystem"`
	Enabled   bool   `json:"enabled"`
	// Registry receives every collector. A private registry is created when nil.
	Registry *prometheus.Registry `json:"-"`
	// RuntimeCollectors adds the Go runtime and process collectors
	RuntimeCollectors bool `json:"runtime_collectors"`
}

// DefaultConfig returns default metrics configuration
func DefaultConfig() *Config {
	return &Config{
		Namespace: "resilience",
		Subsystem: "",
		Enabled:   true,
	}
}

// Circuit breaker state values exported by the state gauge
const (
	BreakerClosed   float64 = 0
	BreakerHalfOpen float64 = 1
	BreakerOpen     float64 = 2
)

// NewMetrics creates and registers all Prometheus metrics
func NewMetrics(config *Config) *Metrics {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &Metrics{}
	}

	registry := config.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}

	m := &Metrics{
		registry: registry,

		ErrorsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "errors_total",
				Help:      "Total number of handled errors",
			},
			[]string{"component", "category", "severity"},
		),
		RecoveryActions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "recovery_actions_total",
				Help:      "Recovery actions derived for handled errors",
			},
			[]string{"action"},
		),
		ReportsStored: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "error_reports_stored",
				Help:      "Number of error reports currently retained",
			},
		),
		ReportsPruned: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "error_reports_pruned_total",
				Help:      "Total number of error reports removed by cleanup",
			},
		),

		CircuitBreakerState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_state",
				Help:      "Circuit breaker state (0=closed, 1=half-open, 2=open)",
			},
			[]string{"breaker"},
		),
		CircuitBreakerTransitions: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_transitions_total",
				Help:      "Total number of circuit breaker state transitions",
			},
			[]string{"breaker", "from", "to"},
		),
		CircuitBreakerRejections: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "circuit_breaker_rejections_total",
				Help:      "Calls rejected because the circuit was open",
			},
			[]string{"breaker"},
		),

		RetryAttempts: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "retry_attempts_total",
				Help:      "Attempts made by the retrier by outcome",
			},
			[]string{"operation", "outcome"},
		),
		RetryDelay: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "retry_delay_seconds",
				Help:      "Delay slept before a retry attempt",
				Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 4, 8, 16, 30},
			},
			[]string{"operation"},
		),

		AlertsQueued: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "alerts_queued_total",
				Help:      "Alerts enqueued for delivery by escalation reason",
			},
			[]string{"reason"},
		),
		AlertDeliveries: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "alert_deliveries_total",
				Help:      "Alert deliveries by sink and status",
			},
			[]string{"sink", "status"},
		),

		HTTPRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_total",
				Help:      "Total number of admin HTTP requests",
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_request_duration_seconds",
				Help:      "Admin HTTP request duration in seconds",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path", "status_code"},
		),
		HTTPRequestsInFlight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: config.Namespace,
				Subsystem: config.Subsystem,
				Name:      "http_requests_in_flight",
				Help:      "Number of admin HTTP requests currently being processed",
			},
			[]string{"method", "path"},
		),
	}

	registry.MustRegister(
		m.ErrorsTotal,
		m.RecoveryActions,
		m.ReportsStored,
		m.ReportsPruned,
		m.CircuitBreakerState,
		m.CircuitBreakerTransitions,
		m.CircuitBreakerRejections,
		m.RetryAttempts,
		m.RetryDelay,
		m.AlertsQueued,
		m.AlertDeliveries,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.HTTPRequestsInFlight,
	)

	if config.RuntimeCollectors {
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}

	return m
}

// Registry returns the registry the metrics are registered with
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// RecordError records a handled error
func (m *Metrics) RecordError(component, category, severity string) {
	if m == nil || m.ErrorsTotal == nil {
		return
	}

	m.ErrorsTotal.WithLabelValues(component, category, severity).Inc()
}

// RecordRecoveryAction records the recovery action derived for a report
func (m *Metrics) RecordRecoveryAction(action string) {
	if m == nil || m.RecoveryActions == nil {
		return
	}

	m.RecoveryActions.WithLabelValues(action).Inc()
}

// UpdateReportsStored sets the number of retained reports
func (m *Metrics) UpdateReportsStored(count int) {
	if m == nil || m.ReportsStored == nil {
		return
	}

	m.ReportsStored.Set(float64(count))
}

// RecordReportsPruned records reports removed by a cleanup pass
func (m *Metrics) RecordReportsPruned(count int) {
	if m == nil || m.ReportsPruned == nil || count <= 0 {
		return
	}

	m.ReportsPruned.Add(float64(count))
}

// RecordBreakerTransition records a state change and updates the state gauge
func (m *Metrics) RecordBreakerTransition(breaker, from, to string, value float64) {
	if m == nil || m.CircuitBreakerTransitions == nil {
		return
	}

	m.CircuitBreakerTransitions.WithLabelValues(breaker, from, to).Inc()
	m.CircuitBreakerState.WithLabelValues(breaker).Set(value)
}

// UpdateBreakerState sets the state gauge without counting a transition
func (m *Metrics) UpdateBreakerState(breaker string, value float64) {
	if m == nil || m.CircuitBreakerState == nil {
		return
	}

	m.CircuitBreakerState.WithLabelValues(breaker).Set(value)
}

// RecordBreakerRejection records a call rejected by an open breaker
func (m *Metrics) RecordBreakerRejection(breaker string) {
	if m == nil || m.CircuitBreakerRejections == nil {
		return
	}

	m.CircuitBreakerRejections.WithLabelValues(breaker).Inc()
}

// RecordRetryAttempt records the outcome of one retrier attempt
func (m *Metrics) RecordRetryAttempt(operation, outcome string) {
	if m == nil || m.RetryAttempts == nil {
		return
	}

	m.RetryAttempts.WithLabelValues(operation, outcome).Inc()
}

// RecordRetryDelay records the delay slept before a retry
func (m *Metrics) RecordRetryDelay(operation string, delay time.Duration) {
	if m == nil || m.RetryDelay == nil {
		return
	}

	m.RetryDelay.WithLabelValues(operation).Observe(delay.Seconds())
}

// RecordAlertQueued records an alert placed on the dispatch queue
func (m *Metrics) RecordAlertQueued(reason string) {
	if m == nil || m.AlertsQueued == nil {
		return
	}

	m.AlertsQueued.WithLabelValues(reason).Inc()
}

// RecordAlertDelivery records the outcome of forwarding an alert to a sink
func (m *Metrics) RecordAlertDelivery(sink string, err error) {
	if m == nil || m.AlertDeliveries == nil {
		return
	}

	status := "success"
	if err != nil {
		status = "failure"
	}
	m.AlertDeliveries.WithLabelValues(sink, status).Inc()
}

// RecordHTTPRequest records HTTP request metrics
func (m *Metrics) RecordHTTPRequest(method, path string, statusCode int, duration time.Duration) {
	if m == nil || m.HTTPRequestsTotal == nil {
		return
	}

	statusStr := strconv.Itoa(statusCode)
	m.HTTPRequestsTotal.WithLabelValues(method, path, statusStr).Inc()
	m.HTTPRequestDuration.WithLabelValues(method, path, statusStr).Observe(duration.Seconds())
}

// PrometheusMiddleware creates a middleware for Prometheus metrics collection
func (m *Metrics) PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if m == nil || m.HTTPRequestsInFlight == nil {
			c.Next()
			return
		}

		path := c.FullPath()
		m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, path).Inc()
		defer m.HTTPRequestsInFlight.WithLabelValues(c.Request.Method, path).Dec()

		start := time.Now()
		c.Next()
		duration := time.Since(start)

		m.RecordHTTPRequest(c.Request.Method, path, c.Writer.Status(), duration)
	}
}

// Handler returns the Prometheus metrics HTTP handler
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
