package resilience

import (
	"context"
	"time"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/config"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/errors"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/logging"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/metrics"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/tracing"
)

// Config holds the defaults of an ErrorHandler
type Config struct {
	Breaker            CircuitBreakerConfig
	Retry              RetryConfig
	AggregationWindow  time.Duration
	AlertingThreshold  int
	AlertDrainInterval time.Duration
}

// DefaultConfig returns the default handler configuration
func DefaultConfig() Config {
	return Config{
		Breaker:            DefaultCircuitBreakerConfig(),
		Retry:              DefaultRetryConfig(),
		AggregationWindow:  60 * time.Second,
		AlertingThreshold:  10,
		AlertDrainInterval: 5 * time.Second,
	}
}

// ConfigFromSettings maps the environment configuration onto a handler Config
func ConfigFromSettings(settings config.ResilienceConfig) Config {
	return Config{
		Breaker: CircuitBreakerConfig{
			Threshold:        settings.BreakerThreshold,
			Timeout:          settings.BreakerTimeout,
			SuccessThreshold: settings.BreakerSuccessThreshold,
		},
		Retry: RetryConfig{
			MaxRetries:        settings.RetryMaxRetries,
			BaseDelay:         settings.RetryBaseDelay,
			MaxDelay:          settings.RetryMaxDelay,
			BackoffMultiplier: settings.RetryBackoffMultiplier,
			Jitter:            settings.RetryJitter,
			JitterFraction:    settings.RetryJitterFraction,
			RetryableErrors:   settings.RetryableErrors,
		},
		AggregationWindow:  settings.AggregationWindow,
		AlertingThreshold:  settings.AlertingThreshold,
		AlertDrainInterval: settings.AlertDrainInterval,
	}
}

// Option configures an ErrorHandler
type Option func(*ErrorHandler)

// WithLogger sets the structured logger
func WithLogger(logger Logger) Option {
	return func(h *ErrorHandler) { h.logger = logger }
}

// WithIDGenerator sets the correlation and report ID generator
func WithIDGenerator(ids IDGenerator) Option {
	return func(h *ErrorHandler) { h.ids = ids }
}

// WithAlertSinks sets the alert sinks. Without sinks alerts are logged.
func WithAlertSinks(sinks ...AlertSink) Option {
	return func(h *ErrorHandler) { h.sinks = append(h.sinks, sinks...) }
}

// WithMetrics enables Prometheus metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(h *ErrorHandler) { h.metrics = m }
}

// WithTracer wraps protected calls in spans
func WithTracer(tracer *tracing.TracingService) Option {
	return func(h *ErrorHandler) { h.tracer = tracer }
}

// WithClock overrides time.Now for breakers and reports
func WithClock(clock Clock) Option {
	return func(h *ErrorHandler) { h.now = clock }
}

// WithRetrierOptions passes options to every retrier the handler builds
func WithRetrierOptions(opts ...RetrierOption) Option {
	return func(h *ErrorHandler) { h.retrierOpts = append(h.retrierOpts, opts...) }
}

// ErrorHandler classifies, records and escalates failures, and guards
// operations with retries and per-name circuit breakers. Build one at
// startup and share it.
type ErrorHandler struct {
	config      Config
	logger      Logger
	ids         IDGenerator
	now         Clock
	metrics     *metrics.Metrics
	tracer      *tracing.TracingService
	sinks       []AlertSink
	retrierOpts []RetrierOption

	breakers   *BreakerRegistry
	retrier    *Retrier
	store      *ReportStore
	dispatcher *AlertDispatcher
	scheduler  *Scheduler
}

// Stats summarizes the handler's state
type Stats struct {
	TotalReports      int                     `json:"total_reports"`
	UnresolvedReports int                     `json:"unresolved_reports"`
	ByCategory        map[errors.Category]int `json:"by_category"`
	BySeverity        map[errors.Severity]int `json:"by_severity"`
	ByName            map[string]int          `json:"by_name"`
	PendingAlerts     int                     `json:"pending_alerts"`
	AlertSinks        []string                `json:"alert_sinks"`
	CircuitBreakers   []CircuitBreakerState   `json:"circuit_breakers"`
}

// NewErrorHandler creates a handler. Call Start to run alert draining and
// report cleanup in the background.
func NewErrorHandler(cfg Config, opts ...Option) *ErrorHandler {
	defaults := DefaultConfig()
	if cfg.AggregationWindow <= 0 {
		cfg.AggregationWindow = defaults.AggregationWindow
	}
	if cfg.AlertingThreshold <= 0 {
		cfg.AlertingThreshold = defaults.AlertingThreshold
	}
	if cfg.AlertDrainInterval <= 0 {
		cfg.AlertDrainInterval = defaults.AlertDrainInterval
	}

	h := &ErrorHandler{
		config: cfg,
		ids:    UUIDGenerator{},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger == nil {
		h.logger = logging.GetLogger()
	}
	if len(h.sinks) == 0 {
		h.sinks = []AlertSink{NewLoggingSink(h.logger)}
	}

	breaker := cfg.Breaker
	breaker.Clock = h.now
	breaker.Logger = h.logger
	userHook := breaker.OnStateChange
	breaker.OnStateChange = func(name string, from, to CircuitState) {
		h.metrics.RecordBreakerTransition(name, from.String(), to.String(), breakerGaugeValue(to))
		if userHook != nil {
			userHook(name, from, to)
		}
	}

	h.breakers = NewBreakerRegistry(breaker)
	h.retrier = NewRetrier(cfg.Retry, h.retrierOptions()...)
	h.store = NewReportStore(cfg.AggregationWindow)
	h.dispatcher = NewAlertDispatcher(h.logger, h.metrics, h.tracer, h.sinks...)

	h.scheduler = NewScheduler(h.logger)
	h.scheduler.Add(ScheduledTask{
		Name:     "alert-drain",
		Interval: cfg.AlertDrainInterval,
		Run:      h.traced("resilience.alert_drain", func(ctx context.Context) { h.dispatcher.Drain(ctx) }),
	})
	h.scheduler.Add(ScheduledTask{
		Name:     "report-cleanup",
		Interval: cfg.AggregationWindow,
		Run:      h.traced("resilience.report_cleanup", func(ctx context.Context) { h.CleanupReports(ctx) }),
	})

	return h
}

func (h *ErrorHandler) retrierOptions() []RetrierOption {
	opts := []RetrierOption{WithRetryLogger(h.logger), WithRetryMetrics(h.metrics), WithRetryTracer(h.tracer)}
	return append(opts, h.retrierOpts...)
}

// traced runs a background task inside its own span
func (h *ErrorHandler) traced(name string, run func(ctx context.Context)) func(ctx context.Context) {
	return func(ctx context.Context) {
		_ = h.tracer.TraceableFunction(ctx, name, func(ctx context.Context) error {
			run(ctx)
			return nil
		})
	}
}

func breakerGaugeValue(state CircuitState) float64 {
	switch state {
	case StateOpen:
		return metrics.BreakerOpen
	case StateHalfOpen:
		return metrics.BreakerHalfOpen
	default:
		return metrics.BreakerClosed
	}
}

// Start runs the background tasks until Stop is called or ctx is done
func (h *ErrorHandler) Start(ctx context.Context) {
	h.scheduler.Start(ctx)
}

// Stop halts the background tasks. Queued alerts stay queued; call
// FlushAlerts to deliver them.
func (h *ErrorHandler) Stop() {
	h.scheduler.Stop()
}

// FlushAlerts delivers every queued alert now
func (h *ErrorHandler) FlushAlerts(ctx context.Context) int {
	return h.dispatcher.Drain(ctx)
}

// CleanupReports drops reports older than ten aggregation windows
func (h *ErrorHandler) CleanupReports(ctx context.Context) int {
	removed := h.store.Cleanup(h.now())
	h.metrics.RecordReportsPruned(removed)
	h.metrics.UpdateReportsStored(h.store.Len())
	if removed > 0 {
		h.logger.Log(ctx, logging.LevelDebug, "Expired error reports removed", logging.Fields{
			"removed":   removed,
			"remaining": h.store.Len(),
		})
	}
	return removed
}

// HandleError classifies err, records a report, queues an alert when the
// report escalates and logs it. The report is always returned; the caller
// decides whether to propagate err. A nil err yields a zero report.
func (h *ErrorHandler) HandleError(ctx context.Context, err error, opCtx OperationContext) ErrorReport {
	if err == nil {
		return ErrorReport{}
	}

	classified := Classify(err, opCtx.Metadata)
	opCtx = h.completeContext(ctx, opCtx)
	now := h.now()

	report := ErrorReport{
		ID:             h.ids.NewID(),
		Error:          classified,
		Context:        opCtx,
		RecoveryAction: DeriveRecoveryAction(classified),
		Timestamp:      now,
	}
	h.store.Record(report)

	h.metrics.RecordError(opCtx.Component, string(classified.Category), string(classified.Severity))
	h.metrics.RecordRecoveryAction(string(report.RecoveryAction))
	h.metrics.UpdateReportsStored(h.store.Len())

	recent := h.store.CountSince(classified.FailureName(), now.Add(-h.config.AggregationWindow))
	reason, escalate := EscalationReason(report, recent, h.config.AlertingThreshold)
	if escalate {
		h.dispatcher.Enqueue(NewAlertPayload(report, reason))
	}

	logCtx := logging.WithCorrelationID(ctx, opCtx.CorrelationID)
	h.logger.Log(logCtx, severityLevel(classified.Severity), classified.Message, logging.Fields{
		"report_id":       report.ID,
		"error_name":      classified.Name,
		"error_code":      classified.Code,
		"severity":        classified.Severity,
		"category":        classified.Category,
		"retryable":       classified.Retryable,
		"recoverable":     classified.Recoverable,
		"recovery_action": report.RecoveryAction,
		"component":       opCtx.Component,
		"operation":       opCtx.Operation,
		"retry_count":     opCtx.RetryCount,
		"alerted":         escalate,
	})

	return report
}

func severityLevel(severity errors.Severity) logging.Level {
	switch severity {
	case errors.SeverityLow:
		return logging.LevelInfo
	case errors.SeverityMedium:
		return logging.LevelWarn
	case errors.SeverityHigh:
		return logging.LevelError
	default:
		return logging.LevelFatal
	}
}

func (h *ErrorHandler) completeContext(ctx context.Context, opCtx OperationContext) OperationContext {
	if opCtx.CorrelationID == "" {
		opCtx.CorrelationID = logging.GetCorrelationID(ctx)
	}
	if opCtx.CorrelationID == "" {
		opCtx.CorrelationID = h.ids.NewID()
	}
	if opCtx.Component == "" {
		opCtx.Component = logging.GetComponent(ctx)
	}
	if opCtx.Timestamp.IsZero() {
		opCtx.Timestamp = h.now()
	}
	return opCtx
}

// WithRetry runs op with the handler's retry policy, or cfg when given. The
// final failure is recorded with HandleError and returned.
func (h *ErrorHandler) WithRetry(ctx context.Context, op Operation, opCtx OperationContext, cfg ...RetryConfig) (interface{}, error) {
	retrier := h.retrierFor(cfg)

	ctx, end := h.startSpan(ctx, "retry", opCtx)
	result, err := retrier.Execute(ctx, opCtx.Operation, op)
	end(err)

	if err != nil {
		h.HandleError(ctx, err, withRetryCount(opCtx, err))
		return nil, err
	}
	return result, nil
}

// WithCircuitBreaker runs op through the breaker called name. Any failure,
// including a rejection by an open breaker, is recorded and returned.
func (h *ErrorHandler) WithCircuitBreaker(ctx context.Context, name string, op Operation, opCtx OperationContext) (interface{}, error) {
	if opCtx.Operation == "" {
		opCtx.Operation = name
	}
	cb := h.breakers.Get(name)

	ctx, end := h.startSpan(ctx, "circuit_breaker", opCtx)
	result, err := cb.Execute(ctx, op)
	end(err)

	if err != nil {
		if errors.IsCircuitOpen(err) {
			h.metrics.RecordBreakerRejection(name)
		}
		h.HandleError(ctx, err, opCtx)
		return nil, err
	}
	return result, nil
}

// WithFullProtection runs op with retries inside the breaker called name.
// The breaker sees one outcome per call: a failure only once every retry is
// exhausted. One report is recorded per failed call.
func (h *ErrorHandler) WithFullProtection(ctx context.Context, name string, op Operation, opCtx OperationContext, cfg ...RetryConfig) (interface{}, error) {
	if opCtx.Operation == "" {
		opCtx.Operation = name
	}
	cb := h.breakers.Get(name)
	retrier := h.retrierFor(cfg)

	ctx, end := h.startSpan(ctx, "full_protection", opCtx)
	result, err := cb.Execute(ctx, func(ctx context.Context) (interface{}, error) {
		return retrier.Execute(ctx, name, op)
	})
	end(err)

	if err != nil {
		if errors.IsCircuitOpen(err) {
			h.metrics.RecordBreakerRejection(name)
		}
		h.HandleError(ctx, err, withRetryCount(opCtx, err))
		return nil, err
	}
	return result, nil
}

func (h *ErrorHandler) retrierFor(cfg []RetryConfig) *Retrier {
	if len(cfg) == 0 {
		return h.retrier
	}
	return NewRetrier(cfg[0], h.retrierOptions()...)
}

func withRetryCount(opCtx OperationContext, err error) OperationContext {
	classified, ok := errors.AsClassified(err)
	if !ok || classified.Name != errors.NameRetryExhausted {
		return opCtx
	}
	if attempts, ok := classified.Context["attempts"].(int); ok && attempts > 0 {
		opCtx.RetryCount = attempts - 1
	}
	return opCtx
}

func (h *ErrorHandler) startSpan(ctx context.Context, mode string, opCtx OperationContext) (context.Context, func(error)) {
	if h.tracer == nil {
		return ctx, func(error) {}
	}

	ctx, span := h.tracer.StartOperationSpan(ctx, mode, opCtx.Component, opCtx.Operation)
	ctx = tracing.WithTraceContext(ctx)
	return ctx, func(err error) {
		if err != nil {
			h.tracer.RecordError(span, err)
		}
		span.End()
	}
}

// CreateUserError returns text that is safe to show an end user. It has no
// side effects. Security and system failures never expose their message.
func (h *ErrorHandler) CreateUserError(err error, opCtx OperationContext) UserError {
	if err == nil {
		return UserError{}
	}

	classified := Classify(err, nil)

	message := classified.UserMessage
	switch classified.Category {
	case errors.CategorySecurity:
		message = errors.UserMessageSecurity
	case errors.CategorySystem:
		message = errors.UserMessageSystem
	case errors.CategoryValidation, errors.CategoryBusiness:
		if message == "" {
			message = classified.Message
		}
	}
	if message == "" {
		message = errors.UserMessageDefault
	}

	errorID := opCtx.CorrelationID
	if errorID == "" {
		errorID = h.ids.NewID()
	}

	return UserError{
		Message:     message,
		IsRetryable: classified.Retryable,
		ErrorID:     errorID,
	}
}

// Stats returns report totals, pending alerts and every breaker's state
func (h *ErrorHandler) Stats() Stats {
	stats := Stats{
		ByCategory:      make(map[errors.Category]int),
		BySeverity:      make(map[errors.Severity]int),
		ByName:          make(map[string]int),
		PendingAlerts:   h.dispatcher.Pending(),
		AlertSinks:      h.dispatcher.Sinks(),
		CircuitBreakers: h.breakers.Snapshots(),
	}

	for _, report := range h.store.List() {
		stats.TotalReports++
		if !report.Resolved {
			stats.UnresolvedReports++
		}
		stats.ByCategory[report.Error.Category]++
		stats.BySeverity[report.Error.Severity]++
		stats.ByName[report.Error.FailureName()]++
	}
	return stats
}

// CircuitBreaker returns the snapshot of the named breaker
func (h *ErrorHandler) CircuitBreaker(name string) (CircuitBreakerState, bool) {
	cb, ok := h.breakers.Lookup(name)
	if !ok {
		return CircuitBreakerState{}, false
	}
	return cb.Snapshot(), true
}

// ResetCircuitBreaker forces the named breaker closed. It reports false
// when no breaker with that name exists.
func (h *ErrorHandler) ResetCircuitBreaker(ctx context.Context, name string) bool {
	if !h.breakers.Reset(ctx, name) {
		return false
	}
	h.metrics.UpdateBreakerState(name, metrics.BreakerClosed)
	h.logger.Log(ctx, logging.LevelInfo, "Circuit breaker reset", logging.Fields{"breaker": name})
	return true
}

// Report returns a stored report
func (h *ErrorHandler) Report(id string) (ErrorReport, bool) {
	return h.store.Get(id)
}

// Reports returns every stored report, newest first
func (h *ErrorHandler) Reports() []ErrorReport {
	return h.store.List()
}

// ResolveReport marks a stored report resolved
func (h *ErrorHandler) ResolveReport(ctx context.Context, id string) (ErrorReport, bool) {
	report, ok := h.store.Resolve(id)
	if ok {
		h.logger.Log(ctx, logging.LevelInfo, "Error report resolved", logging.Fields{"report_id": id})
	}
	return report, ok
}
