package tracing

import (
	"context"
	"fmt"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/jaeger"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/logging"
)

// Config holds tracing configuration
type Config struct {
	ServiceName    string  `json:"service_name"`
	ServiceVersion string  `json:"service_version"`
	Environment    string  `json:"environment"`
	JaegerEndpoint string  `json:"jaeger_endpoint"`
	SamplingRate   float64 `json:"sampling_rate"`
	Enabled        bool    `json:"enabled"`
}

// DefaultConfig returns default tracing configuration
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "resilience",
		ServiceVersion: "1.0.0",
		Environment:    "development",
		JaegerEndpoint: "http://localhost:14268/api/traces",
		SamplingRate:   1.0,
		Enabled:        false,
	}
}

// TracingService manages distributed tracing
type TracingService struct {
	tracer     oteltrace.Tracer
	config     *Config
	provider   *trace.TracerProvider
	propagator propagation.TextMapPropagator
}

// NewTracingService creates a new tracing service
func NewTracingService(config *Config) (*TracingService, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if !config.Enabled {
		return &TracingService{
			tracer:     noop.NewTracerProvider().Tracer("noop"),
			config:     config,
			propagator: otel.GetTextMapPropagator(),
		}, nil
	}

	exporter, err := jaeger.New(jaeger.WithCollectorEndpoint(jaeger.WithEndpoint(config.JaegerEndpoint)))
	if err != nil {
		return nil, fmt.Errorf("failed to create Jaeger exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(config.ServiceName),
			semconv.ServiceVersion(config.ServiceVersion),
			semconv.DeploymentEnvironment(config.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	tp := trace.NewTracerProvider(
		trace.WithBatcher(exporter),
		trace.WithResource(res),
		trace.WithSampler(trace.TraceIDRatioBased(config.SamplingRate)),
	)

	ts := NewTracingServiceWithProvider(config, tp)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(ts.propagator)

	return ts, nil
}

// NewTracingServiceWithProvider builds a service on an existing provider.
// Tests use it with an in-memory span recorder.
func NewTracingServiceWithProvider(config *Config, tp *trace.TracerProvider) *TracingService {
	if config == nil {
		config = DefaultConfig()
	}
	cfg := *config
	cfg.Enabled = true

	return &TracingService{
		tracer:   tp.Tracer(cfg.ServiceName),
		config:   &cfg,
		provider: tp,
		propagator: propagation.NewCompositeTextMapPropagator(
			propagation.TraceContext{},
			propagation.Baggage{},
		),
	}
}

// Enabled reports whether spans are exported
func (ts *TracingService) Enabled() bool {
	return ts != nil && ts.config.Enabled
}

// Shutdown shuts down the tracing service
func (ts *TracingService) Shutdown(ctx context.Context) error {
	if ts != nil && ts.provider != nil {
		return ts.provider.Shutdown(ctx)
	}
	return nil
}

// StartSpan starts a new span
func (ts *TracingService) StartSpan(ctx context.Context, name string, opts ...oteltrace.SpanStartOption) (context.Context, oteltrace.Span) {
	return ts.tracer.Start(ctx, name, opts...)
}

// StartHTTPSpan starts a span for HTTP requests
func (ts *TracingService) StartHTTPSpan(ctx context.Context, method, path string) (context.Context, oteltrace.Span) {
	return ts.tracer.Start(ctx, fmt.Sprintf("%s %s", method, path),
		oteltrace.WithSpanKind(oteltrace.SpanKindServer),
		oteltrace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("http.route", path),
		),
	)
}

// StartOperationSpan starts a span around a protected operation
func (ts *TracingService) StartOperationSpan(ctx context.Context, mode, component, operation string) (context.Context, oteltrace.Span) {
	return ts.tracer.Start(ctx, fmt.Sprintf("resilience.%s", mode),
		oteltrace.WithSpanKind(oteltrace.SpanKindInternal),
		oteltrace.WithAttributes(
			attribute.String("resilience.mode", mode),
			attribute.String("resilience.component", component),
			attribute.String("resilience.operation", operation),
		),
	)
}

// StartSinkSpan starts a span for an alert delivery
func (ts *TracingService) StartSinkSpan(ctx context.Context, sink, reportID string) (context.Context, oteltrace.Span) {
	return ts.tracer.Start(ctx, fmt.Sprintf("alert.%s", sink),
		oteltrace.WithSpanKind(oteltrace.SpanKindClient),
		oteltrace.WithAttributes(
			attribute.String("alert.sink", sink),
			attribute.String("alert.report_id", reportID),
		),
	)
}

// AddSpanEvent adds an event to the span carried by ctx. It is a no-op
// without a tracing service or a recording span.
func (ts *TracingService) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	if ts == nil {
		return
	}
	span := oteltrace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, oteltrace.WithAttributes(attrs...))
}

// RecordError records an error in the current span
func (ts *TracingService) RecordError(span oteltrace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// SetSpanStatus sets the status of the current span
func (ts *TracingService) SetSpanStatus(span oteltrace.Span, code codes.Code, description string) {
	span.SetStatus(code, description)
}

// TracingMiddleware creates a middleware for distributed tracing
func (ts *TracingService) TracingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !ts.Enabled() {
			c.Next()
			return
		}

		ctx := ts.propagator.Extract(c.Request.Context(), propagation.HeaderCarrier(c.Request.Header))

		ctx, span := ts.StartHTTPSpan(ctx, c.Request.Method, c.FullPath())
		defer span.End()

		span.SetAttributes(
			attribute.String("url.full", c.Request.URL.String()),
			attribute.String("user_agent.original", c.Request.UserAgent()),
			attribute.String("client.address", c.ClientIP()),
		)

		c.Request = c.Request.WithContext(WithTraceContext(ctx))
		ts.propagator.Inject(ctx, propagation.HeaderCarrier(c.Writer.Header()))

		c.Next()

		span.SetAttributes(attribute.Int("http.response.status_code", c.Writer.Status()))
		if c.Writer.Status() >= 400 {
			span.SetStatus(codes.Error, fmt.Sprintf("HTTP %d", c.Writer.Status()))
		} else {
			span.SetStatus(codes.Ok, "")
		}

		for _, err := range c.Errors {
			ts.RecordError(span, err.Err)
		}
	}
}

// TraceableFunction wraps a function with tracing. Without a tracing
// service fn runs untraced.
func (ts *TracingService) TraceableFunction(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	if ts == nil {
		return fn(ctx)
	}

	ctx, span := ts.StartSpan(ctx, name)
	defer span.End()

	if err := fn(ctx); err != nil {
		ts.RecordError(span, err)
		return err
	}

	ts.SetSpanStatus(span, codes.Ok, "")
	return nil
}

// GetTraceID returns the trace ID from the context
func GetTraceID(ctx context.Context) string {
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// GetSpanID returns the span ID from the context
func GetSpanID(ctx context.Context) string {
	span := oteltrace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().SpanID().String()
	}
	return ""
}

// WithTraceContext copies trace and span IDs into the logging context
func WithTraceContext(ctx context.Context) context.Context {
	if traceID := GetTraceID(ctx); traceID != "" {
		ctx = logging.WithTraceID(ctx, traceID)
	}
	if spanID := GetSpanID(ctx); spanID != "" {
		ctx = logging.WithSpanID(ctx, spanID)
	}
	return ctx
}
