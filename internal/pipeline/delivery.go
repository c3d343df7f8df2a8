package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/ajitpratap0/openclaw-briefing/internal/models"
)

// Deliverer hands a persisted briefing to a delivery channel. Rendering and
// sending belong to the channel; the pipeline only reads the outcome.
type Deliverer interface {
	Deliver(ctx context.Context, b models.Briefing, channel string) models.DeliveryAttempt
}

// LogDeliverer writes briefings to the log. It is the default when no
// delivery endpoint is configured.
type LogDeliverer struct {
	logger *slog.Logger
}

// NewLogDeliverer creates a log-only deliverer.
func NewLogDeliverer(logger *slog.Logger) *LogDeliverer {
	return &LogDeliverer{logger: logger}
}

// Deliver logs each item and reports it sent.
func (d *LogDeliverer) Deliver(_ context.Context, b models.Briefing, channel string) models.DeliveryAttempt {
	d.logger.Info("briefing delivered", "briefing_id", b.ID, "user_id", b.UserID, "channel", channel, "items", len(b.Items))
	for _, it := range b.Items {
		d.logger.Info("briefing item",
			"briefing_id", b.ID,
			"number", it.ItemNumber,
			"label", it.ReasonLabel,
			"topic", it.Topic,
			"source_url", it.SourceURL,
		)
	}
	return models.DeliveryAttempt{Status: models.DeliverySent, Channel: channel}
}

// WebhookDeliverer POSTs briefings as JSON to an HTTP endpoint.
type WebhookDeliverer struct {
	url    string
	client *http.Client
	logger *slog.Logger
}

// NewWebhookDeliverer creates a webhook deliverer.
func NewWebhookDeliverer(url string, logger *slog.Logger) *WebhookDeliverer {
	return &WebhookDeliverer{url: url, client: &http.Client{Timeout: 15 * time.Second}, logger: logger}
}

type webhookPayload struct {
	Channel  string          `json:"channel"`
	Briefing models.Briefing `json:"briefing"`
}

// Deliver posts the briefing. Any non-2xx reply is a failed attempt.
func (d *WebhookDeliverer) Deliver(ctx context.Context, b models.Briefing, channel string) models.DeliveryAttempt {
	fail := func(err error) models.DeliveryAttempt {
		d.logger.Warn("webhook delivery failed", "briefing_id", b.ID, "error", err)
		return models.DeliveryAttempt{Status: models.DeliveryFailed, Channel: channel, ErrorMessage: err.Error()}
	}
	body, err := json.Marshal(webhookPayload{Channel: channel, Briefing: b})
	if err != nil {
		return fail(fmt.Errorf("marshaling briefing: %w", err))
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return fail(fmt.Errorf("creating request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return fail(fmt.Errorf("posting briefing: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fail(fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, bytes.TrimSpace(msg)))
	}
	d.logger.Info("briefing delivered", "briefing_id", b.ID, "user_id", b.UserID, "channel", channel)
	return models.DeliveryAttempt{Status: models.DeliverySent, Channel: channel}
}
