package alerts

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"
)

type WebhookOptions struct {
	URLs          []string
	Timeout       time.Duration
	SkipTLSVerify bool
	Logger        *slog.Logger
}

// WebhookDispatcher POSTs a JSON document per notification to each configured URL.
type WebhookDispatcher struct {
	urls   []string
	client *http.Client
	log    *slog.Logger
}

type webhookPayload struct {
	Kind      string            `json:"kind"`
	SubjectID string            `json:"subject_id"`
	Subject   string            `json:"subject"`
	Status    string            `json:"status"`
	Previous  string            `json:"previous"`
	Resolved  bool              `json:"resolved"`
	Message   string            `json:"message"`
	Details   string            `json:"details,omitempty"`
	RouteTo   []string          `json:"route_to,omitempty"`
	Officers  bool              `json:"officers"`
	Labels    map[string]string `json:"labels,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}

func NewWebhookDispatcher(opts WebhookOptions) *WebhookDispatcher {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: opts.SkipTLSVerify}, // #nosec G402
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &WebhookDispatcher{
		urls:   opts.URLs,
		client: &http.Client{Timeout: timeout, Transport: transport},
		log:    logger.With("component", "alert_webhook_dispatcher"),
	}
}

// Dispatch implements Dispatcher.
func (d *WebhookDispatcher) Dispatch(ctx context.Context, n Notification) error {
	if len(d.urls) == 0 {
		return nil
	}
	body, err := json.Marshal(webhookPayload{
		Kind:      string(n.Kind),
		SubjectID: n.SubjectID,
		Subject:   n.Subject,
		Status:    n.Status.String(),
		Previous:  n.Previous.String(),
		Resolved:  n.Resolved(),
		Message:   n.Message,
		Details:   n.Details,
		RouteTo:   n.RouteTo,
		Officers:  n.Officers,
		Labels:    n.Labels,
		Timestamp: n.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	var errs []string
	for _, url := range d.urls {
		if err := d.post(ctx, url, body); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", url, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("webhook delivery failed: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (d *WebhookDispatcher) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	_ = resp.Body.Close()
	if resp.StatusCode >= http.StatusOK && resp.StatusCode < http.StatusMultipleChoices {
		return nil
	}
	if readErr != nil {
		return fmt.Errorf("status %d (body read error: %v)", resp.StatusCode, readErr)
	}
	trimmed := strings.TrimSpace(string(respBody))
	if trimmed == "" {
		trimmed = resp.Status
	}
	return fmt.Errorf("status %d (%s)", resp.StatusCode, trimmed)
}
