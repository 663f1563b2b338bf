package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Severity represents how urgent a failure is
type Severity string

const (
	SeverityLow      Severity = "LOW"
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

// Category represents the kind of failure
type Category string

const (
	CategoryNetwork     Category = "NETWORK"
	CategoryValidation  Category = "VALIDATION"
	CategoryBusiness    Category = "BUSINESS"
	CategorySystem      Category = "SYSTEM"
	CategorySecurity    Category = "SECURITY"
	CategoryPerformance Category = "PERFORMANCE"
)

// Failure names of the canonical subtypes
const (
	NameValidation     = "ValidationError"
	NameBusiness       = "BusinessError"
	NameNetwork        = "NetworkError"
	NameSecurity       = "SecurityError"
	NameSystem         = "SystemError"
	NameCircuitOpen    = "CircuitBreakerOpenError"
	NameRetryExhausted = "RetryExhaustedError"
)

// Safe messages shown to end users for categories whose text may leak internals
const (
	UserMessageNetwork  = "Network error occurred. Please check your connection and try again."
	UserMessageSecurity = "Access denied. Please contact support if you believe this is an error."
	UserMessageSystem   = "A system error occurred. Please try again later."
	UserMessageDefault  = "An unexpected error occurred. Please try again later."
)

// ClassifiedError is a failure tagged with the resilience taxonomy.
// Values are built once by the constructors in this package or by the
// classifier and are never modified afterwards.
type ClassifiedError struct {
	Name        string                 `json:"name"`
	Code        string                 `json:"code"`
	Message     string                 `json:"message"`
	Severity    Severity               `json:"severity"`
	Category    Category               `json:"category"`
	Recoverable bool                   `json:"recoverable"`
	Retryable   bool                   `json:"retryable"`
	UserMessage string                 `json:"user_message"`
	Context     map[string]interface{} `json:"context,omitempty"`
	StatusCode  int                    `json:"status_code,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Cause       error                  `json:"-"`
}

// Error implements the error interface
func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *ClassifiedError) Unwrap() error {
	return e.Cause
}

// FailureName returns the name of the failure behind a retry-exhaustion
// wrapper, or Name for any other error.
func (e *ClassifiedError) FailureName() string {
	if e.Name == NameRetryExhausted {
		if last, ok := e.Cause.(*ClassifiedError); ok {
			return last.FailureName()
		}
	}
	return e.Name
}

// NewClassifiedError creates a classified error with an empty context
func NewClassifiedError(name, code, message string, severity Severity, category Category) *ClassifiedError {
	return &ClassifiedError{
		Name:      name,
		Code:      code,
		Message:   message,
		Severity:  severity,
		Category:  category,
		Context:   make(map[string]interface{}),
		Timestamp: time.Now(),
	}
}

// WithCause sets the cause. Only call it while constructing the error.
func (e *ClassifiedError) WithCause(cause error) *ClassifiedError {
	e.Cause = cause
	return e
}

// WithContext adds a context hint. Only call it while constructing the error.
func (e *ClassifiedError) WithContext(key string, value interface{}) *ClassifiedError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithFlags sets the recoverable and retryable flags
func (e *ClassifiedError) WithFlags(recoverable, retryable bool) *ClassifiedError {
	e.Recoverable = recoverable
	e.Retryable = retryable
	return e
}

// WithUserMessage sets the end-user message
func (e *ClassifiedError) WithUserMessage(message string) *ClassifiedError {
	e.UserMessage = message
	return e
}

// WithStatusCode sets the status code
func (e *ClassifiedError) WithStatusCode(statusCode int) *ClassifiedError {
	e.StatusCode = statusCode
	return e
}

// NewValidationError reports invalid user input for a field
func NewValidationError(field, message string) *ClassifiedError {
	err := NewClassifiedError(NameValidation, "VALIDATION_ERROR", message, SeverityLow, CategoryValidation).
		WithFlags(false, false).
		WithUserMessage("Validation failed: " + message)
	if field != "" {
		err.WithContext("field", field)
	}
	return err
}

// NewBusinessError reports a violated business rule
func NewBusinessError(code, message string) *ClassifiedError {
	if code == "" {
		code = "BUSINESS_ERROR"
	}
	return NewClassifiedError(NameBusiness, code, message, SeverityMedium, CategoryBusiness).
		WithFlags(true, false).
		WithUserMessage(message)
}

// NewNetworkError reports a failed remote call. A status code of 500 or more
// raises the severity to HIGH.
func NewNetworkError(message string, statusCode int) *ClassifiedError {
	severity := SeverityMedium
	if statusCode >= 500 {
		severity = SeverityHigh
	}
	return NewClassifiedError(NameNetwork, "NETWORK_ERROR", message, severity, CategoryNetwork).
		WithFlags(true, true).
		WithStatusCode(statusCode).
		WithUserMessage(UserMessageNetwork)
}

// NewSecurityError reports an access violation
func NewSecurityError(message string) *ClassifiedError {
	return NewClassifiedError(NameSecurity, "SECURITY_ERROR", message, SeverityCritical, CategorySecurity).
		WithFlags(false, false).
		WithUserMessage(UserMessageSecurity)
}

// NewSystemError reports an internal fault
func NewSystemError(message string) *ClassifiedError {
	return NewClassifiedError(NameSystem, "SYSTEM_ERROR", message, SeverityCritical, CategorySystem).
		WithFlags(true, true).
		WithUserMessage(UserMessageSystem)
}

// NewRetryExhaustedError wraps the last failure of a retry sequence. The
// wrapper inherits the taxonomy of the last failure but is never retryable.
func NewRetryExhaustedError(attempts int, last *ClassifiedError) *ClassifiedError {
	return NewClassifiedError(
		NameRetryExhausted,
		"RETRY_EXHAUSTED",
		fmt.Sprintf("operation failed after %d attempts", attempts),
		last.Severity,
		last.Category,
	).
		WithFlags(last.Recoverable, false).
		WithUserMessage(last.UserMessage).
		WithStatusCode(last.StatusCode).
		WithContext("attempts", attempts).
		WithContext("last_error", last.Name).
		WithCause(last)
}

// ErrCircuitOpen matches every CircuitOpenError with errors.Is
var ErrCircuitOpen = stderrors.New("circuit breaker is open")

// CircuitOpenError is returned when a breaker rejects a call without running it
type CircuitOpenError struct {
	Name        string
	NextAttempt time.Time
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit breaker '%s' is OPEN until %s", e.Name, e.NextAttempt.Format(time.RFC3339))
}

// Is reports whether target is ErrCircuitOpen
func (e *CircuitOpenError) Is(target error) bool {
	return target == ErrCircuitOpen
}

// IsCircuitOpen checks if an error is a circuit open rejection
func IsCircuitOpen(err error) bool {
	return stderrors.Is(err, ErrCircuitOpen)
}

// AsClassified returns the first ClassifiedError in the chain
func AsClassified(err error) (*ClassifiedError, bool) {
	var classified *ClassifiedError
	if stderrors.As(err, &classified) {
		return classified, true
	}
	return nil, false
}

// IsCategory checks if the error is classified with a specific category
func IsCategory(err error, category Category) bool {
	if classified, ok := AsClassified(err); ok {
		return classified.Category == category
	}
	return false
}

// IsRetryable checks if the error is classified as retryable
func IsRetryable(err error) bool {
	if classified, ok := AsClassified(err); ok {
		return classified.Retryable
	}
	return false
}

// GetCategory returns the category if the error is classified
func GetCategory(err error) Category {
	if classified, ok := AsClassified(err); ok {
		return classified.Category
	}
	return CategorySystem
}

// GetSeverity returns the severity if the error is classified
func GetSeverity(err error) Severity {
	if classified, ok := AsClassified(err); ok {
		return classified.Severity
	}
	return SeverityMedium
}

// GetCode returns the error code if the error is classified
func GetCode(err error) string {
	if classified, ok := AsClassified(err); ok {
		return classified.Code
	}
	return "UNKNOWN_ERROR"
}
