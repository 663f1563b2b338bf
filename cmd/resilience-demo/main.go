package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/errors"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/logging"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/resilience"
)

// resilience-demo walks through the protection modes against a flaky
// in-process dependency.
func main() {
	logger, err := logging.NewLogger(&logging.Config{
		Level:       "warn",
		Format:      "text",
		Output:      "stdout",
		ServiceName: "resilience-demo",
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	cfg := resilience.DefaultConfig()
	cfg.Breaker = resilience.CircuitBreakerConfig{Threshold: 5, Timeout: 500 * time.Millisecond}
	cfg.Retry = resilience.RetryConfig{
		MaxRetries:        3,
		BaseDelay:         20 * time.Millisecond,
		MaxDelay:          200 * time.Millisecond,
		BackoffMultiplier: 2,
		Jitter:            true,
		JitterFraction:    0.1,
	}

	handler := resilience.NewErrorHandler(cfg, resilience.WithLogger(logger))
	ctx := logging.WithCorrelationID(context.Background(), logging.NewCorrelationID())

	breakerTrips(ctx, handler)
	retryRecovers(ctx, handler)
	retryExhausts(ctx, handler)
	userMessages(handler)
	fullProtection(ctx, handler)

	fmt.Println("\n== Alerts ==")
	fmt.Printf("delivered %d alert(s)\n", handler.FlushAlerts(ctx))

	stats := handler.Stats()
	fmt.Printf("\n%d report(s), %d unresolved\n", stats.TotalReports, stats.UnresolvedReports)
	for _, cb := range stats.CircuitBreakers {
		fmt.Printf("  breaker %-10s %-9s failures=%d\n", cb.Name, cb.State, cb.FailureCount)
	}
}

// flaky fails the first n calls with err and then succeeds
func flaky(n int, err error) resilience.Operation {
	calls := 0
	return func(ctx context.Context) (interface{}, error) {
		calls++
		if calls <= n {
			return nil, err
		}
		return fmt.Sprintf("ok after %d call(s)", calls), nil
	}
}

func breakerTrips(ctx context.Context, handler *resilience.ErrorHandler) {
	fmt.Println("== Circuit breaker ==")
	op := flaky(1000, errors.NewNetworkError("connection refused", 0))
	opCtx := resilience.OperationContext{Component: "inventory"}

	for i := 1; i <= 6; i++ {
		_, err := handler.WithCircuitBreaker(ctx, "inventory", op, opCtx)
		fmt.Printf("call %d: circuit_open=%t\n", i, errors.IsCircuitOpen(err))
	}

	time.Sleep(600 * time.Millisecond)
	handler.ResetCircuitBreaker(ctx, "inventory")
	state, _ := handler.CircuitBreaker("inventory")
	fmt.Printf("after reset: %s\n", state.State)
}

func retryRecovers(ctx context.Context, handler *resilience.ErrorHandler) {
	fmt.Println("\n== Retry ==")
	start := time.Now()
	result, err := handler.WithRetry(ctx, flaky(2, errors.NewNetworkError("quote service unavailable", 503)),
		resilience.OperationContext{Component: "pricing", Operation: "quote"})
	fmt.Printf("result=%v err=%v elapsed=%s\n", result, err, time.Since(start).Round(time.Millisecond))
}

func retryExhausts(ctx context.Context, handler *resilience.ErrorHandler) {
	_, err := handler.WithRetry(ctx, flaky(10, errors.NewNetworkError("gateway timeout", 504)),
		resilience.OperationContext{Component: "pricing", Operation: "quote"})
	fmt.Printf("exhausted: %v\n", err)
}

func userMessages(handler *resilience.ErrorHandler) {
	fmt.Println("\n== User messages ==")
	for _, err := range []error{
		errors.NewValidationError("email", "Invalid email format"),
		errors.NewSecurityError("token signature mismatch"),
		errors.NewSystemError("disk full"),
		fmt.Errorf("unexpected"),
	} {
		userErr := handler.CreateUserError(err, resilience.OperationContext{})
		fmt.Printf("%-45q retryable=%t\n", userErr.Message, userErr.IsRetryable)
	}
}

func fullProtection(ctx context.Context, handler *resilience.ErrorHandler) {
	fmt.Println("\n== Full protection ==")
	result, err := handler.WithFullProtection(ctx, "payments", flaky(2, errors.NewNetworkError("connection reset", 0)),
		resilience.OperationContext{Component: "billing", Operation: "charge"})
	state, _ := handler.CircuitBreaker("payments")
	fmt.Printf("result=%v err=%v breaker=%s failures=%d\n", result, err, state.State, state.FailureCount)
}
