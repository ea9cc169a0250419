package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// SlackPostedMarker is recorded for webhook deliveries, which return no message id.
const SlackPostedMarker = "posted"

// SlackNotifier posts to a Slack incoming webhook.
type SlackNotifier struct {
	webhookURL string
	client     *http.Client
}

// NewSlackNotifier returns nil when webhookURL is empty.
func NewSlackNotifier(webhookURL string) *SlackNotifier {
	if webhookURL == "" {
		return nil
	}
	return &SlackNotifier{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

// Name returns "slack".
func (s *SlackNotifier) Name() string { return "slack" }

// SlackText formats msg as webhook text.
func SlackText(msg *Message) string {
	return fmt.Sprintf("*RivalOps update*: %s\n\n%s\n\n<%s|Open in RivalOps>", msg.Title, msg.Summary, msg.Link)
}

// Send posts msg to the webhook.
func (s *SlackNotifier) Send(ctx context.Context, msg *Message) (string, error) {
	payload, err := json.Marshal(map[string]string{"text": SlackText(msg)})
	if err != nil {
		return "", fmt.Errorf("failed to encode slack payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.webhookURL, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("failed to create slack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("slack webhook request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return "", fmt.Errorf("slack webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return SlackPostedMarker, nil
}
