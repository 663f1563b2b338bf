package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/errors"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/logging"
)

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - circuit is closed, requests are allowed
	StateClosed CircuitState = iota
	// StateOpen - circuit is open, requests are rejected
	StateOpen
	// StateHalfOpen - circuit is probing whether the dependency recovered
	StateHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state by name
func (s CircuitState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CircuitBreakerConfig holds configuration for the circuit breaker
type CircuitBreakerConfig struct {
	// Name of the circuit breaker for logging/metrics
	Name string
	// Threshold is the failure count that opens a closed circuit
	Threshold int
	// Timeout is the period of the open state,
	// after which the next call moves the circuit to half-open
	Timeout time.Duration
	// SuccessThreshold is the number of half-open successes that close the circuit
	SuccessThreshold int
	// OnStateChange is called whenever the state of the circuit breaker changes
	OnStateChange func(name string, from CircuitState, to CircuitState)
	// Clock overrides time.Now
	Clock Clock
	// Logger receives transition events. Defaults to the global logger.
	Logger Logger
}

// DefaultCircuitBreakerConfig returns the default breaker configuration
func DefaultCircuitBreakerConfig() CircuitBreakerConfig {
	return CircuitBreakerConfig{
		Threshold:        5,
		Timeout:          60 * time.Second,
		SuccessThreshold: 3,
	}
}

// CircuitBreakerState is a point-in-time snapshot of a breaker
type CircuitBreakerState struct {
	Name            string        `json:"name"`
	State           CircuitState  `json:"state"`
	FailureCount    int           `json:"failure_count"`
	SuccessCount    int           `json:"success_count"`
	LastFailureTime time.Time     `json:"last_failure_time"`
	NextAttemptTime time.Time     `json:"next_attempt_time"`
	Threshold       int           `json:"threshold"`
	Timeout         time.Duration `json:"timeout"`
}

// CircuitBreaker is a state machine to prevent sending requests that are likely to fail
type CircuitBreaker struct {
	name             string
	threshold        int
	timeout          time.Duration
	successThreshold int
	onStateChange    func(name string, from CircuitState, to CircuitState)
	now              Clock
	logger           Logger

	mutex           sync.Mutex
	state           CircuitState
	failureCount    int
	successCount    int
	lastFailureTime time.Time
	nextAttemptTime time.Time
}

// NewCircuitBreaker creates a new circuit breaker with the given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	defaults := DefaultCircuitBreakerConfig()
	if config.Threshold <= 0 {
		config.Threshold = defaults.Threshold
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = defaults.SuccessThreshold
	}
	if config.Clock == nil {
		config.Clock = time.Now
	}
	if config.Logger == nil {
		config.Logger = logging.GetLogger()
	}

	return &CircuitBreaker{
		name:             config.Name,
		threshold:        config.Threshold,
		timeout:          config.Timeout,
		successThreshold: config.SuccessThreshold,
		onStateChange:    config.OnStateChange,
		now:              config.Clock,
		logger:           config.Logger,
		state:            StateClosed,
	}
}

// Execute runs the given request if the circuit breaker accepts it.
// A rejected call returns *errors.CircuitOpenError and never invokes req.
func (cb *CircuitBreaker) Execute(ctx context.Context, req Operation) (interface{}, error) {
	if err := cb.beforeRequest(ctx); err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterRequest(ctx, false)
			panic(r)
		}
	}()

	result, err := req(ctx)
	cb.afterRequest(ctx, err == nil)
	return result, err
}

// State returns the current state of the circuit breaker. It does not
// perform the open to half-open check, which only happens on Execute.
func (cb *CircuitBreaker) State() CircuitState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return cb.state
}

// Snapshot returns a copy of the breaker's state
func (cb *CircuitBreaker) Snapshot() CircuitBreakerState {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	return CircuitBreakerState{
		Name:            cb.name,
		State:           cb.state,
		FailureCount:    cb.failureCount,
		SuccessCount:    cb.successCount,
		LastFailureTime: cb.lastFailureTime,
		NextAttemptTime: cb.nextAttemptTime,
		Threshold:       cb.threshold,
		Timeout:         cb.timeout,
	}
}

// Name returns the name of the circuit breaker
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// Reset forces the breaker closed and clears its counters
func (cb *CircuitBreaker) Reset(ctx context.Context) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.setState(ctx, StateClosed)
	cb.failureCount = 0
	cb.successCount = 0
	cb.lastFailureTime = time.Time{}
	cb.nextAttemptTime = time.Time{}
}

func (cb *CircuitBreaker) beforeRequest(ctx context.Context) error {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if cb.state == StateOpen && !cb.now().Before(cb.nextAttemptTime) {
		cb.successCount = 0
		cb.setState(ctx, StateHalfOpen)
	}

	if cb.state == StateOpen {
		return &errors.CircuitOpenError{Name: cb.name, NextAttempt: cb.nextAttemptTime}
	}
	return nil
}

func (cb *CircuitBreaker) afterRequest(ctx context.Context, success bool) {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	if success {
		cb.onSuccess(ctx)
	} else {
		cb.onFailure(ctx)
	}
}

func (cb *CircuitBreaker) onSuccess(ctx context.Context) {
	switch cb.state {
	case StateHalfOpen:
		cb.successCount++
		if cb.successCount >= cb.successThreshold {
			cb.failureCount = 0
			cb.setState(ctx, StateClosed)
		}
	case StateClosed:
		if cb.failureCount > 0 {
			cb.failureCount--
		}
	}
}

func (cb *CircuitBreaker) onFailure(ctx context.Context) {
	now := cb.now()
	cb.failureCount++
	cb.lastFailureTime = now

	switch cb.state {
	case StateClosed:
		if cb.failureCount >= cb.threshold {
			cb.nextAttemptTime = now.Add(cb.timeout)
			cb.setState(ctx, StateOpen)
		}
	case StateHalfOpen:
		cb.successCount = 0
		cb.nextAttemptTime = now.Add(cb.timeout)
		cb.setState(ctx, StateOpen)
	}
}

func (cb *CircuitBreaker) setState(ctx context.Context, state CircuitState) {
	if cb.state == state {
		return
	}

	prev := cb.state
	cb.state = state

	if cb.onStateChange != nil {
		cb.onStateChange(cb.name, prev, state)
	}

	level := logging.LevelInfo
	if state == StateOpen {
		level = logging.LevelWarn
	}
	cb.logger.Log(ctx, level, "Circuit breaker state changed", logging.Fields{
		"breaker":       cb.name,
		"from":          prev.String(),
		"to":            state.String(),
		"failure_count": cb.failureCount,
		"success_count": cb.successCount,
	})
}
