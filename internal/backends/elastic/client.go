// Package elastic implements backends.StoreClient over the Elasticsearch multi-search API.
package elastic

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mr-karan/checkchef/internal/backends"
)

var _ backends.StoreClient = (*Client)(nil)

// Client talks to one Elasticsearch-compatible endpoint.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	password   string
	log        *slog.Logger
}

type ClientOptions struct {
	URL      string
	Username string
	Password string
	Timeout  time.Duration
}

func NewClient(opts ClientOptions, log *slog.Logger) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("store URL is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = backends.DefaultTimeout
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(opts.URL, "/"),
		username:   opts.Username,
		password:   opts.Password,
		log:        log.With("component", "elastic_client", "url", opts.URL),
	}, nil
}

// NewFactory adapts NewClient to a registry factory.
func NewFactory(log *slog.Logger) backends.Factory {
	return func(src backends.Source) (backends.StoreClient, error) {
		return NewClient(ClientOptions{
			URL:      src.URL,
			Username: src.Username,
			Password: src.Password,
			Timeout:  src.EffectiveTimeout(),
		}, log)
	}
}

func (c *Client) Search(ctx context.Context, index string, body map[string]any) (*backends.Response, error) {
	responses, err := c.MultiSearch(ctx, index, []map[string]any{body})
	if err != nil {
		return nil, err
	}
	return responses[0], nil
}

// MultiSearch sends every body in a single _msearch request, each preceded by a header
// line naming the index.
func (c *Client) MultiSearch(ctx context.Context, index string, bodies []map[string]any) ([]*backends.Response, error) {
	if len(bodies) == 0 {
		return nil, nil
	}

	payload, err := encodeMultiSearch(index, bodies)
	if err != nil {
		return nil, err
	}

	resp, err := c.do(ctx, http.MethodPost, "/_msearch", "application/x-ndjson", payload)
	if err != nil {
		return nil, fmt.Errorf("%w: multi-search request failed: %v", backends.ErrStore, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("%w: multi-search failed with status %d: %s", backends.ErrStore, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	out, err := parseMultiSearch(resp.Body, len(bodies))
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (c *Client) Ping(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/", "", nil)
	if err != nil {
		return fmt.Errorf("%w: ping failed: %v", backends.ErrStore, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: ping returned status %d", backends.ErrStore, resp.StatusCode)
	}
	return nil
}

func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) do(ctx context.Context, method, path, contentType string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if c.username != "" {
		req.SetBasicAuth(c.username, c.password)
	}

	c.log.Debug("executing store request", "method", method, "path", path, "bytes", len(body))
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("timed out: %w", err)
		}
		return nil, err
	}
	return resp, nil
}

func encodeMultiSearch(index string, bodies []map[string]any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	header := map[string]any{}
	if index != "" {
		header["index"] = index
	}
	for i, body := range bodies {
		if err := enc.Encode(header); err != nil {
			return nil, fmt.Errorf("encoding header %d: %w", i, err)
		}
		if err := enc.Encode(body); err != nil {
			return nil, fmt.Errorf("encoding query %d: %w", i, err)
		}
	}
	return buf.Bytes(), nil
}
