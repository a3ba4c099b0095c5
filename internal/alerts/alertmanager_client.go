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

// AlertPayload is one entry of an Alertmanager /api/v2/alerts request.
type AlertPayload struct {
	Labels       map[string]string `json:"labels"`
	Annotations  map[string]string `json:"annotations,omitempty"`
	StartsAt     time.Time         `json:"startsAt"`
	EndsAt       *time.Time        `json:"endsAt,omitempty"`
	GeneratorURL string            `json:"generatorURL,omitempty"`
}

// AlertmanagerOptions configures the Alertmanager dispatcher.
type AlertmanagerOptions struct {
	BaseURL       string
	Timeout       time.Duration
	SkipTLSVerify bool
	Headers       http.Header
	MaxRetries    int           // retries after the first attempt (default: 2)
	RetryDelay    time.Duration // initial backoff (default: 500ms)
	GeneratorURL  string
	Logger        *slog.Logger
}

// AlertmanagerDispatcher posts notifications to an Alertmanager instance, retrying
// transport errors and 5xx responses with exponential backoff.
type AlertmanagerDispatcher struct {
	alertsURL    string
	statusURL    string
	generatorURL string
	client       *http.Client
	headers      http.Header
	maxRetries   int
	retryDelay   time.Duration
	log          *slog.Logger
}

// NewAlertmanagerDispatcher validates the base URL and applies defaults.
func NewAlertmanagerDispatcher(opts AlertmanagerOptions) (*AlertmanagerDispatcher, error) {
	base := strings.TrimSuffix(strings.TrimSpace(opts.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("alertmanager base URL is required")
	}
	base = strings.TrimSuffix(base, "/api/v2/alerts")

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if opts.SkipTLSVerify {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
	}

	maxRetries := opts.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 2
	}
	retryDelay := opts.RetryDelay
	if retryDelay <= 0 {
		retryDelay = 500 * time.Millisecond
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &AlertmanagerDispatcher{
		alertsURL:    base + "/api/v2/alerts",
		statusURL:    base + "/api/v2/status",
		generatorURL: opts.GeneratorURL,
		client:       &http.Client{Timeout: timeout, Transport: transport},
		headers:      opts.Headers.Clone(),
		maxRetries:   maxRetries,
		retryDelay:   retryDelay,
		log:          logger.With("component", "alertmanager_dispatcher"),
	}, nil
}

// Dispatch implements Dispatcher. Recoveries are sent with EndsAt set so Alertmanager
// resolves the alert.
func (a *AlertmanagerDispatcher) Dispatch(ctx context.Context, n Notification) error {
	return a.Send(ctx, []AlertPayload{a.payload(n)})
}

func (a *AlertmanagerDispatcher) payload(n Notification) AlertPayload {
	labels := map[string]string{
		"alertname": n.Subject,
		"kind":      string(n.Kind),
		"subject":   n.SubjectID,
		"severity":  strings.ToLower(n.Status.String()),
	}
	if n.Resolved() {
		labels["severity"] = strings.ToLower(n.Previous.String())
	}
	if n.Officers {
		labels["officers"] = "true"
	}
	for k, v := range n.Labels {
		labels[k] = v
	}

	annotations := map[string]string{"summary": n.Message}
	if n.Details != "" {
		annotations["description"] = n.Details
	}
	if len(n.RouteTo) > 0 {
		annotations["route_to"] = strings.Join(n.RouteTo, ",")
	}

	p := AlertPayload{
		Labels:       labels,
		Annotations:  annotations,
		StartsAt:     n.Timestamp,
		GeneratorURL: a.generatorURL,
	}
	if n.Resolved() {
		ends := n.Timestamp
		p.EndsAt = &ends
	}
	return p
}

// Send posts alerts, retrying on transport errors and server errors. Client errors are
// returned immediately.
func (a *AlertmanagerDispatcher) Send(ctx context.Context, alerts []AlertPayload) error {
	if len(alerts) == 0 {
		return nil
	}
	body, err := json.Marshal(alerts)
	if err != nil {
		return fmt.Errorf("failed to marshal alert payload: %w", err)
	}

	var lastErr error
	for attempt := 0; attempt <= a.maxRetries; attempt++ {
		if attempt > 0 {
			delay := a.retryDelay * time.Duration(1<<uint(attempt-1))
			a.log.Warn("retrying alertmanager request", "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return fmt.Errorf("context cancelled during retry: %w", ctx.Err())
			}
		}

		status, respBody, err := a.do(ctx, http.MethodPost, a.alertsURL, body)
		switch {
		case err != nil:
			lastErr = fmt.Errorf("failed to send alerts to alertmanager: %w", err)
		case status >= 200 && status < 300:
			return nil
		case status >= 500:
			lastErr = fmt.Errorf("alertmanager returned server error %d: %s", status, respBody)
		default:
			return fmt.Errorf("alertmanager returned status %d: %s", status, respBody)
		}
	}
	return fmt.Errorf("alertmanager request failed after %d retries: %w", a.maxRetries, lastErr)
}

// Ping checks that Alertmanager answers on its status endpoint.
func (a *AlertmanagerDispatcher) Ping(ctx context.Context) error {
	status, respBody, err := a.do(ctx, http.MethodGet, a.statusURL, nil)
	if err != nil {
		return fmt.Errorf("failed to connect to alertmanager: %w", err)
	}
	if status < 200 || status >= 300 {
		return fmt.Errorf("alertmanager health check failed with status %d: %s", status, respBody)
	}
	return nil
}

func (a *AlertmanagerDispatcher) do(ctx context.Context, method, url string, body []byte) (int, string, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, "", err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, values := range a.headers {
		for _, v := range values {
			req.Header.Add(k, v)
		}
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
	return resp.StatusCode, strings.TrimSpace(string(respBody)), nil
}
