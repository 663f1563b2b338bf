package resilience

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/errors"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/logging"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/metrics"
)

// flakyService fails until healthy is set
type flakyService struct {
	healthy atomic.Bool
	calls   atomic.Int32
}

func (s *flakyService) Fetch(ctx context.Context) (interface{}, error) {
	s.calls.Add(1)
	if !s.healthy.Load() {
		return nil, errors.NewNetworkError("upstream unavailable", 503)
	}
	return map[string]string{"id": "u-1"}, nil
}

func newJSONLogger(t *testing.T) (*logging.Logger, *bytes.Buffer) {
	t.Helper()

	logger, err := logging.NewLogger(&logging.Config{
		Level:       "debug",
		Format:      "json",
		Output:      "stdout",
		ServiceName: "resilience-test",
		Version:     "test",
	})
	require.NoError(t, err)

	buf := &bytes.Buffer{}
	logger.SetOutput(&lockedWriter{buf: buf})
	return logger, buf
}

type lockedWriter struct {
	mu  sync.Mutex
	buf *bytes.Buffer
}

func (w *lockedWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.buf.Write(p)
}

func logLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()

	var lines []map[string]interface{}
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		var line map[string]interface{}
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &line))
		lines = append(lines, line)
	}
	return lines
}

func TestIntegration_OutageAndRecovery(t *testing.T) {
	logger, buf := newJSONLogger(t)
	m := metrics.NewMetrics(metrics.DefaultConfig())
	clock := newFakeClock()
	sink := &recordingSink{name: "pager"}

	cfg := DefaultConfig()
	cfg.Breaker = CircuitBreakerConfig{Threshold: 3, Timeout: 30 * time.Second}
	cfg.Retry = RetryConfig{MaxRetries: 2, BaseDelay: 10 * time.Millisecond, MaxDelay: time.Second, BackoffMultiplier: 2}
	cfg.AlertingThreshold = 3

	handler := NewErrorHandler(cfg,
		WithLogger(logger),
		WithMetrics(m),
		WithClock(clock.Now),
		WithAlertSinks(sink),
		WithRetrierOptions(WithSleeper((&sleepRecorder{}).Sleep)),
	)

	service := &flakyService{}
	ctx := logging.WithCorrelationID(context.Background(), "req-42")
	op := OperationContext{Component: "profile"}

	for i := 0; i < 3; i++ {
		_, err := handler.WithFullProtection(ctx, "profile.fetch", service.Fetch, op)
		require.Error(t, err)
		assert.False(t, errors.IsCircuitOpen(err))
	}
	assert.Equal(t, int32(9), service.calls.Load())

	_, err := handler.WithFullProtection(ctx, "profile.fetch", service.Fetch, op)
	require.True(t, errors.IsCircuitOpen(err))
	assert.Equal(t, int32(9), service.calls.Load())

	userErr := handler.CreateUserError(err, OperationContext{CorrelationID: "req-42"})
	assert.Equal(t, errors.UserMessageSystem, userErr.Message)
	assert.Equal(t, "req-42", userErr.ErrorID)

	stats := handler.Stats()
	assert.Equal(t, 4, stats.TotalReports)
	assert.Equal(t, 3, stats.ByName[errors.NameNetwork])
	assert.Equal(t, 1, stats.PendingAlerts, "third exhausted retry reaches the frequency threshold")

	service.healthy.Store(true)
	clock.Advance(30 * time.Second)
	for i := 0; i < 3; i++ {
		result, err := handler.WithFullProtection(ctx, "profile.fetch", service.Fetch, op)
		require.NoError(t, err)
		assert.Equal(t, "u-1", result.(map[string]string)["id"])
	}

	snap, ok := handler.CircuitBreaker("profile.fetch")
	require.True(t, ok)
	assert.Equal(t, StateClosed, snap.State)

	assert.Equal(t, 1, handler.FlushAlerts(ctx))
	require.Len(t, sink.delivered(), 1)
	assert.Equal(t, ReasonFrequency, sink.delivered()[0].Reason)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerTransitions.WithLabelValues("profile.fetch", "CLOSED", "OPEN")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerTransitions.WithLabelValues("profile.fetch", "HALF_OPEN", "CLOSED")))
	assert.Equal(t, float64(metrics.BreakerClosed), testutil.ToFloat64(m.CircuitBreakerState.WithLabelValues("profile.fetch")))

	var sawStateChange, sawCorrelated bool
	for _, line := range logLines(t, buf) {
		if line["message"] == "Circuit breaker state changed" {
			sawStateChange = true
		}
		if line["report_id"] != nil && line["correlation_id"] == "req-42" {
			sawCorrelated = true
			assert.Equal(t, "resilience-test", line["service"])
		}
	}
	assert.True(t, sawStateChange)
	assert.True(t, sawCorrelated)
}

func TestIntegration_ConcurrentCallersShareBreakers(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Breaker = CircuitBreakerConfig{Threshold: 1000, Timeout: time.Minute}
	handler := NewErrorHandler(cfg, WithLogger(&recordingLogger{}), WithAlertSinks(&recordingSink{}))
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				if (i+j)%2 == 0 {
					_, _ = handler.WithCircuitBreaker(ctx, "shared", failing(stderrors.New("boom")), OperationContext{})
				} else {
					_, _ = handler.WithCircuitBreaker(ctx, "shared", succeeding(j), OperationContext{})
				}
				handler.Stats()
			}
		}(i)
	}
	wg.Wait()

	stats := handler.Stats()
	require.Len(t, stats.CircuitBreakers, 1)
	assert.Equal(t, "shared", stats.CircuitBreakers[0].Name)
	assert.Equal(t, 100, stats.TotalReports)
}

func TestIntegration_StopWaitsForBackgroundWork(t *testing.T) {
	cfg := DefaultConfig()
	cfg.AlertDrainInterval = time.Millisecond
	sink := &recordingSink{}
	handler := NewErrorHandler(cfg, WithLogger(&recordingLogger{}), WithAlertSinks(sink))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	handler.Start(ctx)

	for i := 0; i < 5; i++ {
		handler.HandleError(ctx, errors.NewSecurityError("forged token"), OperationContext{Component: "auth"})
	}

	assert.Eventually(t, func() bool { return len(sink.delivered()) == 5 }, time.Second, time.Millisecond)
	handler.Stop()

	handler.HandleError(ctx, errors.NewSecurityError("forged token"), OperationContext{Component: "auth"})
	time.Sleep(10 * time.Millisecond)
	assert.Len(t, sink.delivered(), 5)
	assert.Equal(t, 1, handler.FlushAlerts(context.Background()))
}
