package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

const webhookQueueSize = 64

// WebhookProvider posts events as JSON to an HTTP endpoint. As a Listener it
// queues events without blocking; Run delivers them.
type WebhookProvider struct {
	url     string
	method  string
	headers map[string]string
	client  *http.Client
	queue   chan Event
}

// NewWebhook creates a new webhook provider.
func NewWebhook(url, method string, headers map[string]string) *WebhookProvider {
	if method == "" {
		method = http.MethodPost
	}
	return &WebhookProvider{
		url:     url,
		method:  method,
		headers: headers,
		client:  &http.Client{Timeout: 10 * time.Second},
		queue:   make(chan Event, webhookQueueSize),
	}
}

func (w *WebhookProvider) Name() string { return "webhook" }

// Notify enqueues e, dropping it when the queue is full.
func (w *WebhookProvider) Notify(e Event) {
	select {
	case w.queue <- e:
	default:
		slog.Warn("webhook queue full, dropping event", "kind", e.Kind)
	}
}

// Run delivers queued events until ctx is cancelled.
func (w *WebhookProvider) Run(ctx context.Context) error {
	slog.Info("webhook forwarder started", "url", w.url)
	for {
		select {
		case <-ctx.Done():
			slog.Info("webhook forwarder stopped")
			return ctx.Err()
		case e := <-w.queue:
			if err := w.Send(ctx, e); err != nil {
				slog.Error("webhook delivery failed", "kind", e.Kind, "error", err)
			}
		}
	}
}

func (w *WebhookProvider) Send(ctx context.Context, e Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("webhook: marshal: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, w.method, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("webhook: build request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for k, v := range w.headers {
		req.Header.Set(k, v)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook: send: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook: unexpected status %d", resp.StatusCode)
	}
	return nil
}
