package export

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// WebhookSink posts batches as JSON to an HTTP endpoint
type WebhookSink struct {
	url    string
	apiKey string
	client *retryablehttp.Client
}

// NewWebhookSink creates a sink that authenticates with a bearer API key when
// one is given.
func NewWebhookSink(url, apiKey string) *WebhookSink {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 500 * time.Millisecond
	c.RetryWaitMax = 5 * time.Second
	c.HTTPClient.Timeout = 10 * time.Second
	c.Logger = nil

	return &WebhookSink{url: url, apiKey: apiKey, client: c}
}

// Name identifies the sink in logs and status
func (w *WebhookSink) Name() string { return "webhook" }

type webhookBody struct {
	Records    []Record `json:"records"`
	ExportTime string   `json:"export_time"`
	Count      int      `json:"count"`
}

// Export posts the batch in one request
func (w *WebhookSink) Export(ctx context.Context, records []Record) error {
	jsonData, err := json.Marshal(webhookBody{
		Records:    records,
		ExportTime: time.Now().UTC().Format(time.RFC3339),
		Count:      len(records),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal records: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned error status: %d", resp.StatusCode)
	}
	return nil
}
