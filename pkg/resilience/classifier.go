package resilience

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/errors"
)

var networkErrnos = map[syscall.Errno]string{
	syscall.ECONNREFUSED: "ECONNREFUSED",
	syscall.ECONNRESET:   "ECONNRESET",
	syscall.ETIMEDOUT:    "ETIMEDOUT",
	syscall.EHOSTUNREACH: "EHOSTUNREACH",
	syscall.ENETUNREACH:  "ENETUNREACH",
	syscall.EPIPE:        "EPIPE",
}

// Classify maps an arbitrary failure onto the taxonomy. A failure that is
// already classified anywhere in its chain is returned unchanged and hint is
// ignored; otherwise hint is copied into the new error's context.
func Classify(err error, hint map[string]interface{}) *errors.ClassifiedError {
	if err == nil {
		return nil
	}

	if classified, ok := errors.AsClassified(err); ok {
		return classified
	}

	name := errorName(err)
	lowerName := strings.ToLower(name)
	lowerMsg := strings.ToLower(err.Error())

	var classified *errors.ClassifiedError
	var circuitErr *errors.CircuitOpenError

	switch {
	case stderrors.As(err, &circuitErr):
		classified = errors.NewClassifiedError(errors.NameCircuitOpen, "CIRCUIT_OPEN", err.Error(), errors.SeverityHigh, errors.CategorySystem).
			WithFlags(true, false).
			WithUserMessage(errors.UserMessageSystem).
			WithContext("breaker", circuitErr.Name)

	// DeadlineExceeded also satisfies net.Error
	case stderrors.Is(err, context.DeadlineExceeded):
		classified = errors.NewClassifiedError("TimeoutError", "TIMEOUT", err.Error(), errors.SeverityMedium, errors.CategoryPerformance).
			WithFlags(true, true).
			WithUserMessage(errors.UserMessageDefault)

	case strings.Contains(lowerName, "network") || strings.Contains(lowerMsg, "network") || isNetworkFailure(err):
		classified = errors.NewClassifiedError(name, "NETWORK_ERROR", err.Error(), errors.SeverityMedium, errors.CategoryNetwork).
			WithFlags(true, true).
			WithUserMessage(errors.UserMessageNetwork)

	case strings.Contains(lowerName, "validation") || strings.Contains(lowerMsg, "validation"):
		classified = errors.NewClassifiedError(name, "VALIDATION_ERROR", err.Error(), errors.SeverityLow, errors.CategoryValidation).
			WithFlags(false, false).
			WithUserMessage("Validation failed: " + err.Error())

	case strings.Contains(lowerName, "permission") || strings.Contains(lowerName, "auth") || stderrors.Is(err, os.ErrPermission):
		classified = errors.NewClassifiedError(name, "SECURITY_ERROR", err.Error(), errors.SeverityHigh, errors.CategorySecurity).
			WithFlags(false, false).
			WithUserMessage(errors.UserMessageSecurity)

	case statusCode(err) >= 500:
		classified = errors.NewClassifiedError(name, "SYSTEM_ERROR", err.Error(), errors.SeverityHigh, errors.CategorySystem).
			WithFlags(true, true).
			WithUserMessage(errors.UserMessageSystem)

	default:
		classified = errors.NewClassifiedError(name, "UNKNOWN_ERROR", err.Error(), errors.SeverityMedium, errors.CategorySystem).
			WithFlags(false, false).
			WithUserMessage(errors.UserMessageDefault)
	}

	if code := statusCode(err); code != 0 {
		classified.WithStatusCode(code)
	}
	if classified.Category != errors.CategorySecurity && explicitlyRetryable(err) {
		classified.Retryable = true
	}
	for k, v := range hint {
		classified.WithContext(k, v)
	}

	return classified.WithCause(err)
}

// errorName returns the failure-type name: Name() when the error provides
// one, otherwise the unqualified dynamic type name.
func errorName(err error) string {
	if named, ok := err.(interface{ Name() string }); ok && named.Name() != "" {
		return named.Name()
	}

	name := strings.TrimLeft(fmt.Sprintf("%T", err), "*")
	if i := strings.LastIndex(name, "."); i >= 0 {
		name = name[i+1:]
	}
	return name
}

func isNetworkFailure(err error) bool {
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}

	for errno := range networkErrnos {
		if stderrors.Is(err, errno) {
			return true
		}
	}
	return false
}

func statusCode(err error) int {
	var coded interface{ StatusCode() int }
	if stderrors.As(err, &coded) {
		return coded.StatusCode()
	}
	return 0
}

func explicitlyRetryable(err error) bool {
	var flagged interface{ Retryable() bool }
	if stderrors.As(err, &flagged) {
		return flagged.Retryable()
	}
	return false
}
