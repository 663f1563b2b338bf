package tracing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/logging"
)

func newRecordingService(t *testing.T) (*TracingService, *tracetest.SpanRecorder) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	return NewTracingServiceWithProvider(DefaultConfig(), tp), recorder
}

func TestNewTracingService_Disabled(t *testing.T) {
	ts, err := NewTracingService(&Config{Enabled: false})
	require.NoError(t, err)
	assert.False(t, ts.Enabled())

	_, span := ts.StartOperationSpan(context.Background(), "retry", "users", "fetchUser")
	assert.False(t, span.SpanContext().IsValid())
	span.End()

	assert.NoError(t, ts.Shutdown(context.Background()))
}

func TestStartOperationSpan(t *testing.T) {
	ts, recorder := newRecordingService(t)

	ctx, span := ts.StartOperationSpan(context.Background(), "full_protection", "users", "fetchUser")
	assert.NotEmpty(t, GetTraceID(ctx))
	assert.NotEmpty(t, GetSpanID(ctx))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	assert.Equal(t, "resilience.full_protection", ended[0].Name())

	attrs := map[string]string{}
	for _, kv := range ended[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsString()
	}
	assert.Equal(t, "users", attrs["resilience.component"])
	assert.Equal(t, "fetchUser", attrs["resilience.operation"])
}

func TestTraceableFunction(t *testing.T) {
	ts, recorder := newRecordingService(t)

	err := ts.TraceableFunction(context.Background(), "ok", func(ctx context.Context) error { return nil })
	require.NoError(t, err)

	err = ts.TraceableFunction(context.Background(), "fails", func(ctx context.Context) error { return assert.AnError })
	require.ErrorIs(t, err, assert.AnError)

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
	assert.Equal(t, codes.Error, ended[1].Status().Code)
	assert.Len(t, ended[1].Events(), 1)
}

func TestAddSpanEvent(t *testing.T) {
	ts, recorder := newRecordingService(t)

	ts.AddSpanEvent(context.Background(), "ignored")

	ctx, span := ts.StartSpan(context.Background(), "retry")
	ts.AddSpanEvent(ctx, "retry.attempt", attribute.Int("retry.attempt", 2))
	span.End()

	ended := recorder.Ended()
	require.Len(t, ended, 1)
	require.Len(t, ended[0].Events(), 1)
	assert.Equal(t, "retry.attempt", ended[0].Events()[0].Name)
}

func TestNilServiceIsSafe(t *testing.T) {
	var ts *TracingService

	ts.AddSpanEvent(context.Background(), "noop")
	called := false
	err := ts.TraceableFunction(context.Background(), "untraced", func(ctx context.Context) error {
		called = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)
}

func TestWithTraceContext(t *testing.T) {
	ts, _ := newRecordingService(t)

	ctx, span := ts.StartSpan(context.Background(), "outer")
	defer span.End()

	ctx = WithTraceContext(ctx)
	assert.Equal(t, GetTraceID(ctx), ctx.Value(logging.TraceIDKey))
	assert.Equal(t, GetSpanID(ctx), ctx.Value(logging.SpanIDKey))

	assert.Equal(t, context.Background(), WithTraceContext(context.Background()))
}

func TestTracingMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	ts, recorder := newRecordingService(t)

	router := gin.New()
	router.Use(ts.TracingMiddleware())
	router.GET("/stats", func(c *gin.Context) { c.Status(http.StatusOK) })
	router.GET("/fail", func(c *gin.Context) { c.Status(http.StatusInternalServerError) })

	for _, path := range []string{"/stats", "/fail"} {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.NotEmpty(t, rec.Header().Get("traceparent"))
	}

	ended := recorder.Ended()
	require.Len(t, ended, 2)
	assert.Equal(t, "GET /stats", ended[0].Name())
	assert.Equal(t, codes.Ok, ended[0].Status().Code)
	assert.Equal(t, codes.Error, ended[1].Status().Code)
}
