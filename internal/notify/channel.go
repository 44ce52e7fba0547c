// Package notify delivers promoted insights and digest reports to a chat
// channel, recording every attempt in the idempotent notification ledger so a
// crash-and-retry never produces a duplicate message.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Channel posts one rendered message to a delivery target.
type Channel interface {
	Send(ctx context.Context, target, text string) error
}

// Message is the webhook payload shape.
type message struct {
	Target string `json:"target"`
	Text   string `json:"text"`
}

// WebhookChannel delivers messages to a chat system's incoming webhook.
type WebhookChannel struct {
	url        string
	httpClient *http.Client
}

// NewWebhookChannel constructs a channel posting to the given webhook URL.
func NewWebhookChannel(url string, timeout time.Duration) *WebhookChannel {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &WebhookChannel{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Send posts the message. Non-2xx responses are delivery failures.
func (c *WebhookChannel) Send(ctx context.Context, target, text string) error {
	if c.url == "" {
		return fmt.Errorf("webhook URL not configured")
	}
	body, err := json.Marshal(message{Target: target, Text: text})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}
