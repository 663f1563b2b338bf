package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"syscall"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/errors"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/metrics"
)

func newTestRetrier(config RetryConfig) (*Retrier, *sleepRecorder) {
	sleeper := &sleepRecorder{}
	return NewRetrier(config,
		WithRetryLogger(&recordingLogger{}),
		WithSleeper(sleeper.Sleep),
		WithRandSource(fixedRand(0.5)),
	), sleeper
}

func TestRetrier_SuccessOnFirstAttempt(t *testing.T) {
	retrier, sleeper := newTestRetrier(DefaultRetryConfig())

	op, calls := countingOp(0, nil)
	result, err := retrier.Execute(context.Background(), "op", op)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, int32(1), *calls)
	assert.Empty(t, sleeper.recorded())
}

func TestRetrier_SuccessAfterRetries(t *testing.T) {
	retrier, sleeper := newTestRetrier(DefaultRetryConfig())

	op, calls := countingOp(2, errors.NewNetworkError("flaky", 503))
	result, err := retrier.Execute(context.Background(), "op", op)

	require.NoError(t, err)
	assert.Equal(t, "ok", result)
	assert.Equal(t, int32(3), *calls)
	assert.Len(t, sleeper.recorded(), 2)
}

func TestRetrier_ExhaustsAfterMaxRetriesPlusOne(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxRetries = 3
	retrier, _ := newTestRetrier(config)

	var calls int
	var lastErr error
	_, err := retrier.Execute(context.Background(), "op", func(ctx context.Context) (interface{}, error) {
		calls++
		lastErr = errors.NewNetworkError(fmt.Sprintf("attempt %d", calls), 0)
		return nil, lastErr
	})

	require.Error(t, err)
	assert.Equal(t, 4, calls)

	classified, ok := errors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, errors.NameRetryExhausted, classified.Name)
	assert.False(t, classified.Retryable)
	assert.Same(t, lastErr, classified.Cause)
	assert.Contains(t, classified.Cause.Error(), "attempt 4")
	assert.Equal(t, 4, classified.Context["attempts"])
}

func TestRetrier_NonRetryableHaltsAfterOneAttempt(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxRetries = 10
	retrier, sleeper := newTestRetrier(config)

	validation := errors.NewValidationError("email", "Invalid format")
	op, calls := countingOp(100, validation)

	_, err := retrier.Execute(context.Background(), "op", op)

	require.Error(t, err)
	assert.Equal(t, int32(1), *calls)
	assert.Empty(t, sleeper.recorded())
	assert.ErrorIs(t, err, validation)
	assert.False(t, errors.IsRetryable(err))
}

func TestRetrier_ContextCancellationDuringSleep(t *testing.T) {
	retrier := NewRetrier(RetryConfig{MaxRetries: 5, BaseDelay: time.Hour, MaxDelay: time.Hour},
		WithRetryLogger(&recordingLogger{}))

	ctx, cancel := context.WithCancel(context.Background())
	upstream := errors.NewNetworkError("upstream down", 503)
	op, calls := countingOp(100, upstream)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := retrier.Execute(ctx, "op", op)
	require.Error(t, err)
	assert.ErrorIs(t, err, upstream)
	assert.Equal(t, int32(1), *calls)

	classified, ok := errors.AsClassified(err)
	require.True(t, ok)
	assert.Equal(t, "RETRY_EXHAUSTED", classified.Code)
	assert.Equal(t, 1, classified.Context["attempts"])
	assert.Equal(t, context.Canceled.Error(), classified.Context["interrupted"])
	assert.Equal(t, errors.NameNetwork, classified.FailureName())
}

func TestRetrier_RetryableIdentifiers(t *testing.T) {
	tests := []struct {
		name      string
		listed    []string
		err       error
		retryable bool
	}{
		{"listed errno", []string{"ECONNRESET"}, fmt.Errorf("read: %w", syscall.ECONNRESET), true},
		{"network classification", nil, errors.NewNetworkError("x", 0), true},
		{"listed name overrides classification", []string{"QuotaError"}, namedError{"QuotaError"}, true},
		{"listed code", []string{"INSUFFICIENT_FUNDS"}, errors.NewBusinessError("INSUFFICIENT_FUNDS", "no"), true},
		{"explicit flag", nil, flaggedError{retryable: true}, true},
		{"plain error", nil, stderrors.New("nope"), false},
		{"security never retried", []string{errors.NameSecurity}, errors.NewSecurityError("forged"), false},
		{"wrapped classified cause", nil, fmt.Errorf("outer: %w", errors.NewSystemError("db")), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retrier, _ := newTestRetrier(RetryConfig{RetryableErrors: tt.listed})
			assert.Equal(t, tt.retryable, retrier.IsRetryable(tt.err))
		})
	}
}

func TestRetrier_OnRetryCallback(t *testing.T) {
	config := DefaultRetryConfig()
	config.MaxRetries = 2
	config.Jitter = false

	var attempts []int
	var delays []time.Duration
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
		delays = append(delays, delay)
		assert.Error(t, err)
	}
	retrier, _ := newTestRetrier(config)

	op, _ := countingOp(100, errors.NewNetworkError("down", 0))
	_, _ = retrier.Execute(context.Background(), "op", op)

	assert.Equal(t, []int{2, 3}, attempts)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, delays)
}

func TestRetrier_ExponentialBackoffWithoutJitter(t *testing.T) {
	retrier, sleeper := newTestRetrier(RetryConfig{
		MaxRetries:        5,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2,
		Jitter:            false,
	})

	op, calls := countingOp(100, errors.NewNetworkError("down", 0))
	_, err := retrier.Execute(context.Background(), "op", op)

	require.Error(t, err)
	assert.Equal(t, int32(6), *calls)
	assert.Equal(t, []time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
	}, sleeper.recorded())
	assert.Equal(t, 30*time.Second, retrier.CalculateDelay(7))
	assert.Equal(t, 30*time.Second, retrier.CalculateDelay(50))
	assert.Zero(t, retrier.CalculateDelay(1))
}

func TestRetrier_SymmetricJitter(t *testing.T) {
	config := RetryConfig{BaseDelay: time.Second, MaxDelay: time.Minute, BackoffMultiplier: 2, Jitter: true, JitterFraction: 0.1}

	low := NewRetrier(config, WithRandSource(fixedRand(0)))
	mid := NewRetrier(config, WithRandSource(fixedRand(0.5)))
	high := NewRetrier(config, WithRandSource(fixedRand(0.999999)))

	assert.Equal(t, 1800*time.Millisecond, low.CalculateDelay(3))
	assert.Equal(t, 2*time.Second, mid.CalculateDelay(3))
	assert.InDelta(t, float64(2200*time.Millisecond), float64(high.CalculateDelay(3)), float64(time.Millisecond))
}

func TestRetrier_JitterFractionDefaultsWhenUnset(t *testing.T) {
	assert.Equal(t, 0.1, NewRetrier(RetryConfig{Jitter: true}).Config().JitterFraction)
	assert.Zero(t, NewRetrier(RetryConfig{Jitter: false}).Config().JitterFraction)
}

func TestRetrier_JitterFractionClampedToOne(t *testing.T) {
	retrier := NewRetrier(RetryConfig{BaseDelay: time.Second, Jitter: true, JitterFraction: 3}, WithRandSource(fixedRand(0)))
	assert.Equal(t, 1.0, retrier.Config().JitterFraction)
	assert.Zero(t, retrier.CalculateDelay(2))
}

func TestRetrier_ZeroRetries(t *testing.T) {
	retrier, sleeper := newTestRetrier(RetryConfig{MaxRetries: -3})

	op, calls := countingOp(100, errors.NewNetworkError("down", 0))
	_, err := retrier.Execute(context.Background(), "op", op)

	require.Error(t, err)
	assert.Equal(t, int32(1), *calls)
	assert.Empty(t, sleeper.recorded())
}

func TestRetrier_Metrics(t *testing.T) {
	m := metrics.NewMetrics(metrics.DefaultConfig())
	sleeper := &sleepRecorder{}
	retrier := NewRetrier(RetryConfig{MaxRetries: 2},
		WithRetryLogger(&recordingLogger{}),
		WithSleeper(sleeper.Sleep),
		WithRetryMetrics(m),
	)

	op, _ := countingOp(100, errors.NewNetworkError("down", 0))
	_, _ = retrier.Execute(context.Background(), "sync", op)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RetryAttempts.WithLabelValues("sync", "retry")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetryAttempts.WithLabelValues("sync", "exhausted")))
}

type namedError struct{ name string }

func (e namedError) Error() string { return "named failure" }
func (e namedError) Name() string  { return e.name }

type flaggedError struct{ retryable bool }

func (e flaggedError) Error() string   { return "flagged failure" }
func (e flaggedError) Retryable() bool { return e.retryable }
