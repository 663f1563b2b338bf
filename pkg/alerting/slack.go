package alerting

import (
	"context"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"

	"github.com/NikhilSetiya/agentscan-resilience/pkg/errors"
	"github.com/NikhilSetiya/agentscan-resilience/pkg/resilience"
)

// SlackMessage represents a Slack message payload
type SlackMessage struct {
	Text        string            `json:"text,omitempty"`
	Username    string            `json:"username,omitempty"`
	Channel     string            `json:"channel,omitempty"`
	IconEmoji   string            `json:"icon_emoji,omitempty"`
	Attachments []SlackAttachment `json:"attachments,omitempty"`
}

// SlackAttachment represents a Slack message attachment
type SlackAttachment struct {
	Color     string       `json:"color,omitempty"`
	Title     string       `json:"title,omitempty"`
	Text      string       `json:"text,omitempty"`
	Fields    []SlackField `json:"fields,omitempty"`
	Footer    string       `json:"footer,omitempty"`
	Timestamp int64        `json:"ts,omitempty"`
}

// SlackField represents a field in a Slack attachment
type SlackField struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// SlackSink posts alerts to a Slack incoming webhook
type SlackSink struct {
	webhookURL string
	channel    string
	username   string
	client     *resty.Client
	logger     *zap.Logger
}

// NewSlackSink creates a Slack sink
func NewSlackSink(webhookURL, channel string, logger *zap.Logger) *SlackSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SlackSink{
		webhookURL: webhookURL,
		channel:    channel,
		username:   "Resilience",
		client:     newHTTPClient(DefaultTimeout),
		logger:     logger,
	}
}

// Name returns the sink name
func (s *SlackSink) Name() string {
	return "slack"
}

// Deliver sends the alert to Slack
func (s *SlackSink) Deliver(ctx context.Context, alert resilience.AlertPayload) error {
	if s.webhookURL == "" {
		return fmt.Errorf("slack webhook URL not configured")
	}

	resp, err := s.client.R().
		SetContext(ctx).
		SetBody(s.buildMessage(alert)).
		Post(s.webhookURL)
	if err != nil {
		return fmt.Errorf("failed to send slack message: %w", err)
	}
	if resp.StatusCode() != 200 {
		return fmt.Errorf("slack API returned status %d", resp.StatusCode())
	}

	s.logger.Info("Successfully sent Slack alert",
		zap.String("report_id", alert.ReportID),
		zap.String("reason", string(alert.Reason)),
		zap.String("webhook_url", maskURL(s.webhookURL)))

	return nil
}

func (s *SlackSink) buildMessage(alert resilience.AlertPayload) SlackMessage {
	icon := ":warning:"
	switch {
	case alert.Severity == errors.SeverityCritical:
		icon = ":rotating_light:"
	case alert.Category == errors.CategorySecurity:
		icon = ":shield:"
	}

	text := alert.Message
	if hint := formatHint(alert.Hint); hint != "" {
		text += "\n" + hint
	}

	fields := []SlackField{
		{Title: "Category", Value: string(alert.Category), Short: true},
		{Title: "Reason", Value: string(alert.Reason), Short: true},
		{Title: "Recovery", Value: string(alert.RecoveryAction), Short: true},
		{Title: "Report", Value: alert.ReportID, Short: true},
	}
	if alert.Context.CorrelationID != "" {
		fields = append(fields, SlackField{Title: "Correlation ID", Value: alert.Context.CorrelationID, Short: false})
	}

	timestamp := alert.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	return SlackMessage{
		Text:      alert.Title(),
		Username:  s.username,
		Channel:   s.channel,
		IconEmoji: icon,
		Attachments: []SlackAttachment{{
			Color:     colorForSeverity(alert.Severity),
			Title:     fmt.Sprintf("%s (%s)", alert.Name, alert.Code),
			Text:      text,
			Fields:    fields,
			Footer:    "Resilience",
			Timestamp: timestamp.Unix(),
		}},
	}
}
