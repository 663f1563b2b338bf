package resilience

import (
	"context"
	stderrors "errors"
	"math"
	"math/rand"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/errors"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/logging"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/metrics"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/tracing"
)

// RetryConfig holds configuration for retry logic
type RetryConfig struct {
	// MaxRetries is the number of retries after the first attempt
	MaxRetries int
	// BaseDelay is the delay before the first retry
	BaseDelay time.Duration
	// MaxDelay caps the un-jittered delay between retries
	MaxDelay time.Duration
	// BackoffMultiplier is the multiplier for exponential backoff
	BackoffMultiplier float64
	// Jitter adds a symmetric random offset to delay to avoid thundering herd
	Jitter bool
	// JitterFraction bounds the offset as a fraction of the delay. Left at
	// zero with Jitter on, it defaults to 0.1; values above 1 are clamped.
	JitterFraction float64
	// RetryableErrors lists failure names or codes that are always retried
	RetryableErrors []string
	// OnRetry is called before each retry attempt
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		BaseDelay:         time.Second,
		MaxDelay:          30 * time.Second,
		BackoffMultiplier: 2.0,
		Jitter:            true,
		JitterFraction:    0.1,
		RetryableErrors: []string{
			errors.NameNetwork,
			"TimeoutError",
			"ECONNRESET",
			"ECONNREFUSED",
			"ETIMEDOUT",
		},
	}
}

// RandSource provides random numbers in [0.0, 1.0) for jitter
type RandSource interface {
	Float64() float64
}

type mathRandSource struct{}

func (mathRandSource) Float64() float64 {
	return rand.Float64()
}

// Sleeper suspends the calling goroutine for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// RetrierOption configures a Retrier
type RetrierOption func(*Retrier)

// WithRetryLogger sets the logger
func WithRetryLogger(logger Logger) RetrierOption {
	return func(r *Retrier) { r.logger = logger }
}

// WithRandSource sets the jitter source
func WithRandSource(source RandSource) RetrierOption {
	return func(r *Retrier) { r.rand = source }
}

// WithSleeper replaces the inter-attempt sleep
func WithSleeper(sleep Sleeper) RetrierOption {
	return func(r *Retrier) { r.sleep = sleep }
}

// WithRetryMetrics records attempts and delays
func WithRetryMetrics(m *metrics.Metrics) RetrierOption {
	return func(r *Retrier) { r.metrics = m }
}

// WithRetryTracer adds a span event per retry to the span in the caller's
// context
func WithRetryTracer(tracer *tracing.TracingService) RetrierOption {
	return func(r *Retrier) { r.tracer = tracer }
}

// Retrier handles retry logic with exponential backoff. It keeps no state
// between calls to Execute.
type Retrier struct {
	config    RetryConfig
	retryable map[string]struct{}
	logger    Logger
	rand      RandSource
	sleep     Sleeper
	metrics   *metrics.Metrics
	tracer    *tracing.TracingService
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(config RetryConfig, opts ...RetrierOption) *Retrier {
	defaults := DefaultRetryConfig()
	if config.MaxRetries < 0 {
		config.MaxRetries = 0
	}
	if config.BaseDelay <= 0 {
		config.BaseDelay = defaults.BaseDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.BackoffMultiplier <= 0 {
		config.BackoffMultiplier = defaults.BackoffMultiplier
	}
	if config.Jitter && config.JitterFraction <= 0 {
		config.JitterFraction = defaults.JitterFraction
	}
	if config.JitterFraction > 1 {
		config.JitterFraction = 1
	}

	r := &Retrier{
		config:    config,
		retryable: make(map[string]struct{}, len(config.RetryableErrors)),
		logger:    logging.GetLogger(),
		rand:      mathRandSource{},
		sleep:     sleepContext,
	}
	for _, id := range config.RetryableErrors {
		r.retryable[id] = struct{}{}
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Config returns the normalized configuration
func (r *Retrier) Config() RetryConfig {
	return r.config
}

// Execute runs operation up to MaxRetries+1 times. On success the result is
// returned at once. When attempts run out, or a failure is not retryable,
// the last failure is wrapped in a non-retryable RETRY_EXHAUSTED error.
// Cancelling ctx interrupts the sleep between attempts; the last failure is
// then returned in the same wrapper with the interruption noted in its context.
func (r *Retrier) Execute(ctx context.Context, name string, operation Operation) (interface{}, error) {
	maxAttempts := r.config.MaxRetries + 1

	var last *errors.ClassifiedError
	attempts := 0

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			delay := r.CalculateDelay(attempt)

			r.logger.Log(ctx, logging.LevelWarn, "Operation failed, retrying", logging.Fields{
				"operation":    name,
				"attempt":      attempt,
				"max_attempts": maxAttempts,
				"delay":        delay.String(),
				"error":        last.Error(),
			})
			if r.config.OnRetry != nil {
				r.config.OnRetry(attempt, last, delay)
			}
			r.metrics.RecordRetryDelay(name, delay)
			r.tracer.AddSpanEvent(ctx, "retry",
				attribute.Int("retry.attempt", attempt),
				attribute.String("retry.delay", delay.String()),
				attribute.String("error.name", last.Name),
			)

			if err := r.sleep(ctx, delay); err != nil {
				r.logger.Log(ctx, logging.LevelWarn, "Retry interrupted", logging.Fields{
					"operation": name,
					"attempts":  attempts,
					"reason":    err.Error(),
				})
				return nil, errors.NewRetryExhaustedError(attempts, last).
					WithContext("interrupted", err.Error())
			}
		}

		attempts = attempt
		result, err := operation(ctx)
		if err == nil {
			r.metrics.RecordRetryAttempt(name, "success")
			if attempt > 1 {
				r.logger.Log(ctx, logging.LevelInfo, "Operation succeeded after retry", logging.Fields{
					"operation": name,
					"attempt":   attempt,
				})
			}
			return result, nil
		}

		last = Classify(err, nil)

		if !r.IsRetryable(err) {
			r.metrics.RecordRetryAttempt(name, "non_retryable")
			r.logger.Log(ctx, logging.LevelDebug, "Error is not retryable, stopping", logging.Fields{
				"operation": name,
				"attempt":   attempt,
				"error":     err.Error(),
			})
			break
		}

		if attempt == maxAttempts {
			r.metrics.RecordRetryAttempt(name, "exhausted")
		} else {
			r.metrics.RecordRetryAttempt(name, "retry")
		}
	}

	r.logger.Log(ctx, logging.LevelError, "Operation failed after all retry attempts", logging.Fields{
		"operation": name,
		"attempts":  attempts,
		"error":     last.Error(),
	})

	return nil, errors.NewRetryExhaustedError(attempts, last)
}

// IsRetryable reports whether err may be attempted again: its name, code or
// errno is listed in RetryableErrors, or its classification says so.
func (r *Retrier) IsRetryable(err error) bool {
	classified := Classify(err, nil)
	if classified.Category == errors.CategorySecurity {
		return false
	}

	if r.listed(classified.Name) || r.listed(classified.Code) {
		return true
	}
	for errno, id := range networkErrnos {
		if r.listed(id) && stderrors.Is(err, errno) {
			return true
		}
	}
	return classified.Retryable
}

func (r *Retrier) listed(id string) bool {
	_, ok := r.retryable[id]
	return ok
}

// CalculateDelay returns the delay slept before attempt (1-based). The first
// attempt has no delay.
func (r *Retrier) CalculateDelay(attempt int) time.Duration {
	if attempt <= 1 {
		return 0
	}

	delay := float64(r.config.BaseDelay) * math.Pow(r.config.BackoffMultiplier, float64(attempt-2))
	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	if r.config.Jitter {
		offset := (r.rand.Float64()*2 - 1) * r.config.JitterFraction * delay
		delay += offset
	}

	if delay < 0 {
		delay = 0
	}
	return time.Duration(delay)
}
