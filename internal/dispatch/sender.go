package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Sender delivers a rendered message to its destination. Send should return
// once ctx is done; the Dispatcher stops waiting at that point regardless and
// counts the group as failed.
type Sender interface {
	Send(ctx context.Context, msg Message) error
}

// LogSender only logs messages. It is used when no integration endpoint is
// configured.
type LogSender struct{}

func (LogSender) Send(ctx context.Context, msg Message) error {
	slog.Info("Invoice request message",
		"to", msg.To,
		"subject", msg.Subject,
		"cost_item_ids", msg.CostItemIDs,
	)
	return nil
}

// WebhookSender posts messages as JSON to the mail integration endpoint.
type WebhookSender struct {
	url    string
	client *http.Client
}

// NewWebhookSender creates a sender for url. The per-group dispatch timeout
// bounds each request through its context.
func NewWebhookSender(url string) *WebhookSender {
	return &WebhookSender{url: url, client: &http.Client{Timeout: 60 * time.Second}}
}

func (s *WebhookSender) Send(ctx context.Context, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("integration endpoint returned status %d: %s", resp.StatusCode, bytes.TrimSpace(respBody))
	}
	return nil
}
