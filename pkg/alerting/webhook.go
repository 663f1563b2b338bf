package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/resilience"
)

// WebhookSink posts every alert as JSON to a URL
type WebhookSink struct {
	url    string
	client *resty.Client
}

// NewWebhookSink creates a webhook sink. headers are sent with every request.
func NewWebhookSink(url string, timeout time.Duration, headers map[string]string) *WebhookSink {
	client := newHTTPClient(timeout)
	for k, v := range headers {
		client.SetHeader(k, v)
	}
	return &WebhookSink{url: url, client: client}
}

// Name returns the sink name
func (s *WebhookSink) Name() string {
	return "webhook"
}

// Deliver posts the alert
func (s *WebhookSink) Deliver(ctx context.Context, alert resilience.AlertPayload) error {
	resp, err := s.client.R().
		SetContext(ctx).
		SetHeader("X-Alert-Reason", string(alert.Reason)).
		SetBody(alert).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("failed to send webhook alert: %w", err)
	}

	if resp.IsError() {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode())
	}
	return nil
}
