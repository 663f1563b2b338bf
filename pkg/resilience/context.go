package resilience

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/errors"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/logging"
)

// Operation is a unit of work guarded by the resilience layer
type Operation func(ctx context.Context) (interface{}, error)

// Clock returns the current time
type Clock func() time.Time

// Logger is the structured sink used for transitions, retries and alerts.
// *logging.Logger satisfies it.
type Logger interface {
	Log(ctx context.Context, level logging.Level, message string, fields logging.Fields)
}

// IDGenerator produces correlation and report identifiers
type IDGenerator interface {
	NewID() string
}

// IDGeneratorFunc adapts a function to IDGenerator
type IDGeneratorFunc func() string

// NewID implements IDGenerator
func (f IDGeneratorFunc) NewID() string {
	return f()
}

// UUIDGenerator generates random UUIDs
type UUIDGenerator struct{}

// NewID implements IDGenerator
func (UUIDGenerator) NewID() string {
	return uuid.NewString()
}

// OperationContext describes the call a failure belongs to
type OperationContext struct {
	CorrelationID string                 `json:"correlation_id"`
	Component     string                 `json:"component"`
	Operation     string                 `json:"operation"`
	RetryCount    int                    `json:"retry_count"`
	Timestamp     time.Time              `json:"timestamp"`
	Metadata      map[string]interface{} `json:"metadata,omitempty"`
}

// RecoveryAction is the informational action suggested for a report
type RecoveryAction string

const (
	RecoveryEscalate     RecoveryAction = "ESCALATE"
	RecoveryRetry        RecoveryAction = "RETRY"
	RecoveryFallback     RecoveryAction = "FALLBACK"
	RecoveryCircuitBreak RecoveryAction = "CIRCUIT_BREAK"
	RecoveryIgnore       RecoveryAction = "IGNORE"
)

// DeriveRecoveryAction picks the recovery action for a classified failure.
// The first matching rule wins.
func DeriveRecoveryAction(err *errors.ClassifiedError) RecoveryAction {
	switch {
	case err.Severity == errors.SeverityCritical:
		return RecoveryEscalate
	case err.Retryable:
		return RecoveryRetry
	case err.Recoverable:
		return RecoveryFallback
	case err.Category == errors.CategoryNetwork || err.Category == errors.CategorySystem:
		return RecoveryCircuitBreak
	default:
		return RecoveryIgnore
	}
}

// ErrorReport is the record kept for every handled failure
type ErrorReport struct {
	ID             string                  `json:"id"`
	Error          *errors.ClassifiedError `json:"error"`
	Context        OperationContext        `json:"context"`
	RecoveryAction RecoveryAction          `json:"recovery_action"`
	Resolved       bool                    `json:"resolved"`
	Timestamp      time.Time               `json:"timestamp"`
}

// UserError is the safe view of a failure for end users
type UserError struct {
	Message     string `json:"message"`
	IsRetryable bool   `json:"is_retryable"`
	ErrorID     string `json:"error_id"`
}
