package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/canopy-network/collatorx/pkg/retry"
	"github.com/canopy-network/collatorx/pkg/utils"
	"go.uber.org/zap"
)

// webhookPayload carries a ready-to-display "text" field, which chat webhooks
// (Slack, Mattermost, Discord via /slack) render directly, next to the message.
type webhookPayload struct {
	Text string `json:"text"`
	Message
}

// WebhookSink POSTs messages as JSON, retrying with backoff.
type WebhookSink struct {
	url    string
	client *http.Client
	retry  retry.Config
	logger *zap.Logger
}

func NewWebhookSink(url string, client *http.Client, cfg retry.Config, logger *zap.Logger) *WebhookSink {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebhookSink{url: url, client: client, retry: cfg, logger: logger}
}

func (s *WebhookSink) Notify(ctx context.Context, msg Message) error {
	body, err := json.Marshal(webhookPayload{Text: msg.String(), Message: msg})
	if err != nil {
		return fmt.Errorf("marshal notification: %w", err)
	}
	return retry.WithBackoff(ctx, s.retry, s.logger, "webhook notify", func() error {
		return s.post(ctx, body)
	})
}

func (s *WebhookSink) post(ctx context.Context, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	res, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = utils.DrainAndClose(res.Body) }()

	if res.StatusCode >= 300 {
		snippet, _ := io.ReadAll(io.LimitReader(res.Body, 256))
		return fmt.Errorf("webhook returned %d: %s", res.StatusCode, bytes.TrimSpace(snippet))
	}
	return nil
}
