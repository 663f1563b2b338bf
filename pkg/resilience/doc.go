// Package resilience classifies failures and protects fallible operations
// with retries, per-operation circuit breakers and alert escalation.
//
// # Error Handler
//
// ErrorHandler is the entry point. Build one at startup, start its
// background tasks and pass it to the code that needs it.
//
//	handler := resilience.NewErrorHandler(resilience.DefaultConfig(),
//		resilience.WithLogger(logger),
//		resilience.WithMetrics(m),
//		resilience.WithAlertSinks(webhookSink),
//	)
//	handler.Start(ctx)
//	defer handler.Stop()
//
// # Circuit Breaker Pattern
//
// Every operation name gets its own breaker, created on first use. After
// Threshold failures the breaker opens and rejects calls with
// *errors.CircuitOpenError without running them. Once Timeout has passed the
// next call probes in the half-open state; three successes close the
// breaker and any failure opens it again.
//
//	user, err := handler.WithCircuitBreaker(ctx, "fetchUser", func(ctx context.Context) (interface{}, error) {
//		return client.FetchUser(ctx, id)
//	}, resilience.OperationContext{Component: "users"})
//
// # Retry with Exponential Backoff
//
// The retrier makes up to MaxRetries+1 attempts. The delay before attempt a
// is min(BaseDelay * BackoffMultiplier^(a-2), MaxDelay), shifted by a
// symmetric jitter of up to JitterFraction of itself. Non-retryable failures
// stop at once. The final failure is wrapped in a RETRY_EXHAUSTED error.
//
//	result, err := handler.WithRetry(ctx, op, resilience.OperationContext{Operation: "sync"})
//
// # Combined Usage
//
// WithFullProtection runs the retry sequence inside the breaker, so the
// breaker counts one outcome per call.
//
//	result, err := handler.WithFullProtection(ctx, "fetchUser", op, opCtx)
//
// # Alerting
//
// Every handled failure becomes an ErrorReport. CRITICAL and SECURITY
// reports, and failure names that reach AlertingThreshold reports within the
// aggregation window, are queued and delivered to the AlertSinks on every
// drain tick.
package resilience
