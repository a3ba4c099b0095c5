// Package builds reads job status from a Jenkins-compatible CI server.
package builds

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// ErrJobNotFound is returned when the CI server does not know the job.
var ErrJobNotFound = errors.New("build job not found")

type ClientOptions struct {
	URL      string
	Username string
	Token    string
	Timeout  time.Duration
}

// Client queries job status over the CI server's JSON API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	username   string
	token      string
	log        *slog.Logger
}

func NewClient(opts ClientOptions, log *slog.Logger) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("build server URL is required")
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	if log == nil {
		log = slog.Default()
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(opts.URL, "/"),
		username:   opts.Username,
		token:      opts.Token,
		log:        log.With("component", "build_client"),
	}, nil
}

type buildRef struct {
	Number int `json:"number"`
}

type jobStatus struct {
	LastCompletedBuild  *buildRef `json:"lastCompletedBuild"`
	LastSuccessfulBuild *buildRef `json:"lastSuccessfulBuild"`
}

// ConsecutiveFailures returns how many completed builds of job have failed since its last
// successful build. A job that never succeeded counts every completed build.
func (c *Client) ConsecutiveFailures(ctx context.Context, job string) (int, error) {
	status, err := c.job(ctx, job)
	if err != nil {
		return 0, err
	}
	if status.LastCompletedBuild == nil {
		return 0, nil
	}
	succeeded := 0
	if status.LastSuccessfulBuild != nil {
		succeeded = status.LastSuccessfulBuild.Number
	}
	return max(status.LastCompletedBuild.Number-succeeded, 0), nil
}

func (c *Client) job(ctx context.Context, job string) (*jobStatus, error) {
	endpoint := c.baseURL + jobPath(job) + "/api/json?tree=lastCompletedBuild[number],lastSuccessfulBuild[number]"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.username != "" || c.token != "" {
		req.SetBasicAuth(c.username, c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("build status request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: %s", ErrJobNotFound, job)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("build status request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var status jobStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("parsing build status for %s: %w", job, err)
	}
	c.log.Debug("fetched build status", "job", job)
	return &status, nil
}

// jobPath maps "folder/name" to "/job/folder/job/name".
func jobPath(job string) string {
	var b strings.Builder
	for _, part := range strings.Split(strings.Trim(job, "/"), "/") {
		if part == "" {
			continue
		}
		b.WriteString("/job/")
		b.WriteString(url.PathEscape(part))
	}
	return b.String()
}
