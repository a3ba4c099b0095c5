// Package client provides the HTTP client the CLI uses to talk to a running checkchef
// server.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mr-karan/checkchef/pkg/models"
)

// Options configures a Client.
type Options struct {
	URL     string
	Timeout time.Duration
}

// Client is the checkchef API client
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New creates a new API client
func New(opts Options) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("server URL is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimSuffix(opts.URL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}, nil
}

// RequestOptions describes one API call.
type RequestOptions struct {
	Method string
	Path   string
	Query  url.Values
	Body   any
}

// APIError represents an error response from the API
type APIError struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	ErrorType  string `json:"error_type,omitempty"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.ErrorType != "" {
		return fmt.Sprintf("%s: %s", e.ErrorType, e.Message)
	}
	return e.Message
}

// envelope is the success wrapper every endpoint returns.
type envelope[T any] struct {
	Status string `json:"status"`
	Data   T      `json:"data"`
}

// Do performs an HTTP request to the API
func (c *Client) Do(ctx context.Context, opts RequestOptions) (*http.Response, error) {
	reqURL, err := url.Parse(c.baseURL + opts.Path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if opts.Query != nil {
		reqURL.RawQuery = opts.Query.Encode()
	}

	var body io.Reader
	if opts.Body != nil {
		data, err := json.Marshal(opts.Body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, opts.Method, reqURL.String(), body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "checkchef-cli/1.0")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	return resp, nil
}

// DoJSON performs a request and decodes the JSON response
func (c *Client) DoJSON(ctx context.Context, opts RequestOptions, result any) error {
	resp, err := c.Do(ctx, opts)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr APIError
		if err := json.Unmarshal(respBody, &apiErr); err != nil || apiErr.Message == "" {
			return &APIError{
				Status:     "error",
				Message:    strings.TrimSpace(string(respBody)),
				StatusCode: resp.StatusCode,
			}
		}
		apiErr.StatusCode = resp.StatusCode
		return &apiErr
	}

	if result != nil {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// --- API Methods ---

// CheckStatus is a check's debounced status and last result.
type CheckStatus struct {
	models.CheckState
	Name       string              `json:"name"`
	LastResult *models.CheckResult `json:"last_result,omitempty"`
}

// ServiceStatus is a service roll-up with the state of each of its checks.
type ServiceStatus struct {
	models.ServiceState
	Checks []models.CheckState `json:"checks"`
}

func (c *Client) CheckStatus(ctx context.Context, checkID string) (*CheckStatus, error) {
	var resp envelope[*CheckStatus]
	err := c.DoJSON(ctx, RequestOptions{
		Method: http.MethodGet,
		Path:   "/api/v1/checks/" + url.PathEscape(checkID) + "/status",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) ServiceStatus(ctx context.Context, serviceID string) (*ServiceStatus, error) {
	var resp envelope[*ServiceStatus]
	err := c.DoJSON(ctx, RequestOptions{
		Method: http.MethodGet,
		Path:   "/api/v1/services/" + url.PathEscape(serviceID) + "/status",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

func (c *Client) ListServices(ctx context.Context) ([]models.ServiceState, error) {
	var resp envelope[[]models.ServiceState]
	err := c.DoJSON(ctx, RequestOptions{
		Method: http.MethodGet,
		Path:   "/api/v1/services",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// RunCheck asks the server to evaluate a check now.
func (c *Client) RunCheck(ctx context.Context, checkID string) (*models.CheckResult, error) {
	var resp envelope[*models.CheckResult]
	err := c.DoJSON(ctx, RequestOptions{
		Method: http.MethodPost,
		Path:   "/api/v1/checks/" + url.PathEscape(checkID) + "/run",
	}, &resp)
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}
