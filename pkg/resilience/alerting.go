package resilience

import (
	"context"
	"fmt"
	"sync"
	"time"

	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/errors"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/logging"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/metrics"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/tracing"
)

// AlertReason explains why a report was escalated
type AlertReason string

const (
	ReasonCritical  AlertReason = "critical_severity"
	ReasonSecurity  AlertReason = "security_category"
	ReasonFrequency AlertReason = "frequency_threshold"
)

// AlertPayload is what sinks receive for every escalated report
type AlertPayload struct {
	ReportID       string                 `json:"report_id"`
	Name           string                 `json:"name"`
	Code           string                 `json:"code"`
	Severity       errors.Severity        `json:"severity"`
	Category       errors.Category        `json:"category"`
	Message        string                 `json:"message"`
	Reason         AlertReason            `json:"reason"`
	RecoveryAction RecoveryAction         `json:"recovery_action"`
	Context        OperationContext       `json:"context"`
	Hint           map[string]interface{} `json:"hint,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`
}

// Title is a one-line summary for chat-style sinks
func (p AlertPayload) Title() string {
	return fmt.Sprintf("[%s] %s in %s/%s", p.Severity, p.Name, p.Context.Component, p.Context.Operation)
}

// NewAlertPayload builds the payload for a report
func NewAlertPayload(report ErrorReport, reason AlertReason) AlertPayload {
	return AlertPayload{
		ReportID:       report.ID,
		Name:           report.Error.Name,
		Code:           report.Error.Code,
		Severity:       report.Error.Severity,
		Category:       report.Error.Category,
		Message:        report.Error.Message,
		Reason:         reason,
		RecoveryAction: report.RecoveryAction,
		Context:        report.Context,
		Hint:           report.Error.Context,
		Timestamp:      report.Timestamp,
	}
}

// EscalationReason returns why a newly recorded report should alert.
// recent is the number of reports with the same failure name inside the
// aggregation window, the new one included.
func EscalationReason(report ErrorReport, recent, threshold int) (AlertReason, bool) {
	switch {
	case report.Error.Severity == errors.SeverityCritical:
		return ReasonCritical, true
	case report.Error.Category == errors.CategorySecurity:
		return ReasonSecurity, true
	case threshold > 0 && recent >= threshold:
		return ReasonFrequency, true
	default:
		return "", false
	}
}

// AlertSink delivers alerts to an external system
type AlertSink interface {
	Deliver(ctx context.Context, alert AlertPayload) error
	Name() string
}

// LoggingSink writes alerts to the structured logger
type LoggingSink struct {
	logger Logger
}

// NewLoggingSink creates a new logging sink
func NewLoggingSink(logger Logger) *LoggingSink {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &LoggingSink{logger: logger}
}

// Deliver logs the alert
func (s *LoggingSink) Deliver(ctx context.Context, alert AlertPayload) error {
	level := logging.LevelWarn
	title := "ALERT: " + alert.Title()
	if alert.Severity == errors.SeverityCritical {
		level = logging.LevelError
		title = "CRITICAL ALERT: " + alert.Title()
	}

	s.logger.Log(ctx, level, title, logging.Fields{
		"report_id":      alert.ReportID,
		"severity":       alert.Severity,
		"category":       alert.Category,
		"reason":         alert.Reason,
		"correlation_id": alert.Context.CorrelationID,
		"description":    alert.Message,
	})
	return nil
}

// Name returns the name of the sink
func (s *LoggingSink) Name() string {
	return "logging"
}

// AlertDispatcher queues escalated reports and forwards them to every sink
// when drained. Delivery failures are logged and dropped.
type AlertDispatcher struct {
	mutex sync.Mutex
	queue []AlertPayload

	sinksMutex sync.RWMutex
	sinks      []AlertSink

	logger  Logger
	metrics *metrics.Metrics
	tracer  *tracing.TracingService
}

// NewAlertDispatcher creates a dispatcher with the given sinks
func NewAlertDispatcher(logger Logger, m *metrics.Metrics, tracer *tracing.TracingService, sinks ...AlertSink) *AlertDispatcher {
	if logger == nil {
		logger = logging.GetLogger()
	}
	return &AlertDispatcher{
		sinks:   sinks,
		logger:  logger,
		metrics: m,
		tracer:  tracer,
	}
}

// AddSink registers another sink
func (d *AlertDispatcher) AddSink(sink AlertSink) {
	d.sinksMutex.Lock()
	defer d.sinksMutex.Unlock()

	d.sinks = append(d.sinks, sink)
}

// Sinks returns the names of the registered sinks
func (d *AlertDispatcher) Sinks() []string {
	d.sinksMutex.RLock()
	defer d.sinksMutex.RUnlock()

	names := make([]string, 0, len(d.sinks))
	for _, sink := range d.sinks {
		names = append(names, sink.Name())
	}
	return names
}

// Enqueue appends an alert to the queue
func (d *AlertDispatcher) Enqueue(alert AlertPayload) {
	d.mutex.Lock()
	d.queue = append(d.queue, alert)
	d.mutex.Unlock()

	d.metrics.RecordAlertQueued(string(alert.Reason))
}

// Pending returns the number of queued alerts
func (d *AlertDispatcher) Pending() int {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	return len(d.queue)
}

// Drain empties the queue and forwards every alert to every sink. It
// returns the number of alerts drained.
func (d *AlertDispatcher) Drain(ctx context.Context) int {
	d.mutex.Lock()
	batch := d.queue
	d.queue = nil
	d.mutex.Unlock()

	if len(batch) == 0 {
		return 0
	}

	d.sinksMutex.RLock()
	sinks := make([]AlertSink, len(d.sinks))
	copy(sinks, d.sinks)
	d.sinksMutex.RUnlock()

	for _, alert := range batch {
		for _, sink := range sinks {
			d.deliver(ctx, sink, alert)
		}
	}

	d.logger.Log(ctx, logging.LevelDebug, "Alert queue drained", logging.Fields{
		"alerts": len(batch),
		"sinks":  len(sinks),
	})
	return len(batch)
}

func (d *AlertDispatcher) deliver(ctx context.Context, sink AlertSink, alert AlertPayload) {
	var span oteltrace.Span
	if d.tracer != nil {
		ctx, span = d.tracer.StartSinkSpan(ctx, sink.Name(), alert.ReportID)
		defer span.End()
	}

	err := sink.Deliver(ctx, alert)
	d.metrics.RecordAlertDelivery(sink.Name(), err)
	if err != nil {
		if span != nil {
			d.tracer.RecordError(span, err)
		}
		d.logger.Log(ctx, logging.LevelError, "Alert sink failed", logging.Fields{
			"sink":      sink.Name(),
			"report_id": alert.ReportID,
			"error":     err.Error(),
		})
	}
}
