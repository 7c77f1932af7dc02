// Package webhook posts dispatch notices as JSON to an HTTP endpoint.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/couchcryptid/traffic-alerts-service/internal/domain"
)

// Notifier implements dispatch.Notifier over HTTP POST.
type Notifier struct {
	url        string
	httpClient *http.Client
}

// NewNotifier creates a webhook notifier with a per-request timeout.
func NewNotifier(url string, timeout time.Duration) *Notifier {
	return &Notifier{url: url, httpClient: &http.Client{Timeout: timeout}}
}

func (n *Notifier) Name() string { return "webhook" }

// Notify POSTs the notice. Any non-2xx status is an error.
func (n *Notifier) Notify(ctx context.Context, notice domain.DispatchNotice) error {
	body, err := json.Marshal(payload{DispatchNotice: notice, Text: notice.Summary()})
	if err != nil {
		return fmt.Errorf("marshal notice: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", notice.IncidentID)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return fmt.Errorf("webhook returned status %d: %s", resp.StatusCode, snippet)
	}
	return nil
}

// payload adds a chat-friendly text line, which Slack-style incoming webhooks
// render directly.
type payload struct {
	domain.DispatchNotice
	Text string `json:"text"`
}
