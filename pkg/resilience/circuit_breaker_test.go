package resilience

import (
	"context"
	stderrors "errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/errors"
)

var errBoom = stderrors.New("boom")

func newTestBreaker(clock *fakeClock, threshold int) (*CircuitBreaker, *recordingLogger) {
	logger := &recordingLogger{}
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:      "test-cb",
		Threshold: threshold,
		Timeout:   60 * time.Second,
		Clock:     clock.Now,
		Logger:    logger,
	})
	return cb, logger
}

func TestCircuitBreaker_DefaultBehavior(t *testing.T) {
	cb, _ := newTestBreaker(newFakeClock(), 5)

	assert.Equal(t, StateClosed, cb.State())

	for i := 0; i < 5; i++ {
		result, err := cb.Execute(context.Background(), succeeding("success"))
		require.NoError(t, err)
		assert.Equal(t, "success", result)
		assert.Equal(t, StateClosed, cb.State())
	}

	snap := cb.Snapshot()
	assert.Equal(t, 0, snap.FailureCount)
	assert.Equal(t, 5, snap.Threshold)
	assert.Equal(t, 60*time.Second, snap.Timeout)
}

func TestCircuitBreaker_DefaultsApplied(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{Name: "defaults", Logger: &recordingLogger{}})
	snap := cb.Snapshot()
	assert.Equal(t, 5, snap.Threshold)
	assert.Equal(t, 60*time.Second, snap.Timeout)
}

func TestCircuitBreaker_TripsOnThreshold(t *testing.T) {
	clock := newFakeClock()
	cb, logger := newTestBreaker(clock, 5)

	for i := 0; i < 4; i++ {
		_, err := cb.Execute(context.Background(), failing(errBoom))
		require.ErrorIs(t, err, errBoom)
		assert.Equal(t, StateClosed, cb.State())
	}

	_, err := cb.Execute(context.Background(), failing(errBoom))
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, cb.State())

	snap := cb.Snapshot()
	assert.Equal(t, 5, snap.FailureCount)
	assert.Equal(t, clock.Now(), snap.LastFailureTime)
	assert.Equal(t, clock.Now().Add(60*time.Second), snap.NextAttemptTime)
	assert.Equal(t, 1, logger.count("Circuit breaker state changed"))
}

func TestCircuitBreaker_OpenRejectsWithoutInvoking(t *testing.T) {
	cb, _ := newTestBreaker(newFakeClock(), 1)

	_, _ = cb.Execute(context.Background(), failing(errBoom))
	require.Equal(t, StateOpen, cb.State())

	invoked := false
	_, err := cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
		invoked = true
		return nil, nil
	})

	require.Error(t, err)
	assert.False(t, invoked)
	assert.True(t, errors.IsCircuitOpen(err))

	var openErr *errors.CircuitOpenError
	require.ErrorAs(t, err, &openErr)
	assert.Equal(t, "test-cb", openErr.Name)
}

func TestCircuitBreaker_SuccessDecaysFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(newFakeClock(), 3)
	ctx := context.Background()

	_, _ = cb.Execute(ctx, failing(errBoom))
	_, _ = cb.Execute(ctx, failing(errBoom))
	assert.Equal(t, 2, cb.Snapshot().FailureCount)

	_, _ = cb.Execute(ctx, succeeding(nil))
	assert.Equal(t, 1, cb.Snapshot().FailureCount)

	_, _ = cb.Execute(ctx, succeeding(nil))
	_, _ = cb.Execute(ctx, succeeding(nil))
	assert.Equal(t, 0, cb.Snapshot().FailureCount, "failure count never goes negative")

	// fail, fail, success, fail leaves the count at 2, below the threshold
	_, _ = cb.Execute(ctx, failing(errBoom))
	_, _ = cb.Execute(ctx, failing(errBoom))
	_, _ = cb.Execute(ctx, succeeding(nil))
	_, _ = cb.Execute(ctx, failing(errBoom))
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 2, cb.Snapshot().FailureCount)
}

func TestCircuitBreaker_HalfOpenAfterTimeout(t *testing.T) {
	clock := newFakeClock()
	cb, _ := newTestBreaker(clock, 1)
	ctx := context.Background()

	_, _ = cb.Execute(ctx, failing(errBoom))
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(59 * time.Second)
	_, err := cb.Execute(ctx, succeeding(nil))
	assert.True(t, errors.IsCircuitOpen(err))

	// State does not perform the lazy check
	clock.Advance(time.Second)
	assert.Equal(t, StateOpen, cb.State())

	_, err = cb.Execute(ctx, succeeding(nil))
	require.NoError(t, err)
	assert.Equal(t, StateHalfOpen, cb.State())
	assert.Equal(t, 1, cb.Snapshot().SuccessCount)
}

func TestCircuitBreaker_HalfOpenClosesAfterThreeSuccesses(t *testing.T) {
	clock := newFakeClock()
	cb, _ := newTestBreaker(clock, 2)
	ctx := context.Background()

	_, _ = cb.Execute(ctx, failing(errBoom))
	_, _ = cb.Execute(ctx, failing(errBoom))
	require.Equal(t, StateOpen, cb.State())

	clock.Advance(time.Minute)
	for i := 0; i < 2; i++ {
		_, err := cb.Execute(ctx, succeeding(nil))
		require.NoError(t, err)
		assert.Equal(t, StateHalfOpen, cb.State())
	}

	_, err := cb.Execute(ctx, succeeding(nil))
	require.NoError(t, err)
	assert.Equal(t, StateClosed, cb.State())
	assert.Equal(t, 0, cb.Snapshot().FailureCount)
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	clock := newFakeClock()
	cb, _ := newTestBreaker(clock, 1)
	ctx := context.Background()

	_, _ = cb.Execute(ctx, failing(errBoom))
	clock.Advance(time.Minute)

	_, _ = cb.Execute(ctx, succeeding(nil))
	_, _ = cb.Execute(ctx, succeeding(nil))
	require.Equal(t, StateHalfOpen, cb.State())

	_, err := cb.Execute(ctx, failing(errBoom))
	require.ErrorIs(t, err, errBoom)
	assert.Equal(t, StateOpen, cb.State())

	snap := cb.Snapshot()
	assert.Equal(t, 0, snap.SuccessCount)
	assert.Equal(t, clock.Now().Add(60*time.Second), snap.NextAttemptTime)
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	clock := newFakeClock()
	var transitions []string

	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:      "hooked",
		Threshold: 1,
		Timeout:   time.Second,
		Clock:     clock.Now,
		Logger:    &recordingLogger{},
		OnStateChange: func(name string, from, to CircuitState) {
			transitions = append(transitions, name+":"+from.String()+"->"+to.String())
		},
	})

	ctx := context.Background()
	_, _ = cb.Execute(ctx, failing(errBoom))
	clock.Advance(time.Second)
	for i := 0; i < 3; i++ {
		_, _ = cb.Execute(ctx, succeeding(nil))
	}

	assert.Equal(t, []string{
		"hooked:CLOSED->OPEN",
		"hooked:OPEN->HALF_OPEN",
		"hooked:HALF_OPEN->CLOSED",
	}, transitions)
}

func TestCircuitBreaker_Reset(t *testing.T) {
	cb, _ := newTestBreaker(newFakeClock(), 1)

	_, _ = cb.Execute(context.Background(), failing(errBoom))
	require.Equal(t, StateOpen, cb.State())

	cb.Reset(context.Background())

	snap := cb.Snapshot()
	assert.Equal(t, StateClosed, snap.State)
	assert.Zero(t, snap.FailureCount)
	assert.True(t, snap.NextAttemptTime.IsZero())

	_, err := cb.Execute(context.Background(), succeeding(nil))
	assert.NoError(t, err)
}

func TestCircuitBreaker_Panic(t *testing.T) {
	cb, _ := newTestBreaker(newFakeClock(), 1)

	assert.Panics(t, func() {
		_, _ = cb.Execute(context.Background(), func(ctx context.Context) (interface{}, error) {
			panic("test panic")
		})
	})

	assert.Equal(t, StateOpen, cb.State())
}

func TestCircuitBreaker_ConcurrentFailuresTripOnce(t *testing.T) {
	var transitions int32
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:      "concurrent",
		Threshold: 10,
		Timeout:   time.Hour,
		Logger:    &recordingLogger{},
		OnStateChange: func(name string, from, to CircuitState) {
			atomic.AddInt32(&transitions, 1)
		},
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = cb.Execute(context.Background(), failing(errBoom))
		}()
	}
	wg.Wait()

	assert.Equal(t, StateOpen, cb.State())
	assert.Equal(t, int32(1), atomic.LoadInt32(&transitions))
}

func TestCircuitState_String(t *testing.T) {
	assert.Equal(t, "CLOSED", StateClosed.String())
	assert.Equal(t, "OPEN", StateOpen.String())
	assert.Equal(t, "HALF_OPEN", StateHalfOpen.String())
	assert.Equal(t, "UNKNOWN", CircuitState(42).String())

	text, err := StateHalfOpen.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "HALF_OPEN", string(text))
}
