// Package alerting holds the external alert sinks of the resilience layer:
// a generic JSON webhook, Slack, a capped Redis list and a Postgres archive.
// Every sink implements resilience.AlertSink.
package alerting

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/errors"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/resilience"
)

// History is implemented by sinks that keep delivered alerts
type History interface {
	Recent(ctx context.Context, limit int) ([]resilience.AlertPayload, error)
}

// DefaultTimeout bounds a single HTTP delivery
const DefaultTimeout = 10 * time.Second

// newHTTPClient returns a resty client for one delivery attempt per alert.
// Retrying is left to the next drain.
func newHTTPClient(timeout time.Duration) *resty.Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return resty.New().
		SetTimeout(timeout).
		SetRetryCount(0).
		SetHeader("Content-Type", "application/json").
		SetHeader("User-Agent", "resilience-alerts/1.0")
}

// colorForSeverity returns the attachment color of a severity
func colorForSeverity(severity errors.Severity) string {
	switch severity {
	case errors.SeverityLow:
		return "#36a64f" // green
	case errors.SeverityMedium:
		return "#ff9500" // orange
	case errors.SeverityHigh:
		return "#ff0000" // red
	case errors.SeverityCritical:
		return "#8b0000" // dark red
	default:
		return "#808080" // gray
	}
}

// formatHint renders hint values in key order
func formatHint(hint map[string]interface{}) string {
	if len(hint) == 0 {
		return ""
	}

	keys := make([]string, 0, len(hint))
	for k := range hint {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := ""
	for _, k := range keys {
		out += fmt.Sprintf("• %s: %v\n", k, hint[k])
	}
	return out
}

func maskURL(url string) string {
	if len(url) < 20 {
		return "***"
	}
	return url[:20] + "***"
}
