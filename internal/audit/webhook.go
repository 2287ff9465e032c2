package audit

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/credverify/internal/model"
)

// Webhook posts each event as JSON to a URL.
type Webhook struct {
	url    string
	client *http.Client
}

// NewWebhook creates a Webhook. A nil client gets a 10s timeout.
func NewWebhook(url string, client *http.Client) *Webhook {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &Webhook{url: url, client: client}
}

// Record implements Sink.
func (w *Webhook) Record(ctx context.Context, ev model.AuditEvent) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return eris.Wrap(err, "audit: marshal event")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(payload))
	if err != nil {
		return eris.Wrap(err, "audit: create webhook request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := w.client.Do(req)
	if err != nil {
		return eris.Wrap(err, "audit: webhook request")
	}
	defer resp.Body.Close() //nolint:errcheck

	if resp.StatusCode >= 400 {
		return eris.Errorf("audit: webhook returned status %d", resp.StatusCode)
	}
	return nil
}
