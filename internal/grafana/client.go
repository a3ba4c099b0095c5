// Package grafana fetches panel definitions from the upstream dashboard API.
package grafana

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/mr-karan/checkchef/pkg/models"
)

// ErrNotFound is returned when the dashboard or the panel no longer exists.
var ErrNotFound = errors.New("dashboard or panel not found")

type ClientOptions struct {
	URL     string
	APIKey  string
	Timeout time.Duration
}

// Client is a read-only dashboard API client.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiKey     string
	log        *slog.Logger
}

func NewClient(opts ClientOptions, log *slog.Logger) (*Client, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("dashboard API URL is required")
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
		apiKey:     opts.APIKey,
		log:        log.With("component", "grafana_client"),
	}, nil
}

type dashboardResponse struct {
	Dashboard struct {
		UID        string  `json:"uid"`
		Title      string  `json:"title"`
		Panels     []panel `json:"panels"`
		Templating struct {
			List []templateVar `json:"list"`
		} `json:"templating"`
	} `json:"dashboard"`
	Meta struct {
		Updated time.Time `json:"updated"`
		URL     string    `json:"url"`
	} `json:"meta"`
}

type panel struct {
	ID         int                       `json:"id"`
	Title      string                    `json:"title"`
	Type       string                    `json:"type"`
	Datasource json.RawMessage           `json:"datasource"`
	Targets    []models.SeriesDefinition `json:"targets"`
	Panels     []panel                   `json:"panels"`
}

type templateVar struct {
	Name    string `json:"name"`
	Current struct {
		Value any `json:"value"`
	} `json:"current"`
}

// GetDefinition fetches one panel of a dashboard together with the dashboard's current
// template variable values.
func (c *Client) GetDefinition(ctx context.Context, uid string, panelID int) (*models.PanelDefinition, error) {
	dash, err := c.dashboard(ctx, uid)
	if err != nil {
		return nil, err
	}

	p, ok := findPanel(dash.Dashboard.Panels, panelID)
	if !ok {
		return nil, fmt.Errorf("%w: panel %d on dashboard %s", ErrNotFound, panelID, uid)
	}

	templating := make(map[string]any, len(dash.Dashboard.Templating.List))
	for _, v := range dash.Dashboard.Templating.List {
		if v.Name != "" {
			templating[v.Name] = v.Current.Value
		}
	}

	def := &models.PanelDefinition{
		DashboardUID: dash.Dashboard.UID,
		DashboardURL: dash.Meta.URL,
		PanelID:      p.ID,
		Title:        p.Title,
		Datasource:   datasourceName(p.Datasource),
		Targets:      p.Targets,
		Templating:   templating,
		Updated:      dash.Meta.Updated,
	}
	if def.DashboardUID == "" {
		def.DashboardUID = uid
	}
	return def, nil
}

// GetLastModified returns when the dashboard was last saved.
func (c *Client) GetLastModified(ctx context.Context, uid string) (time.Time, error) {
	dash, err := c.dashboard(ctx, uid)
	if err != nil {
		return time.Time{}, err
	}
	return dash.Meta.Updated, nil
}

func (c *Client) dashboard(ctx context.Context, uid string) (*dashboardResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/dashboards/uid/"+uid, nil)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("dashboard request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: dashboard %s", ErrNotFound, uid)
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 8<<10))
		return nil, fmt.Errorf("dashboard request failed with status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var dash dashboardResponse
	if err := json.NewDecoder(resp.Body).Decode(&dash); err != nil {
		return nil, fmt.Errorf("parsing dashboard %s: %w", uid, err)
	}
	c.log.Debug("fetched dashboard", "uid", uid, "updated", dash.Meta.Updated)
	return &dash, nil
}

// findPanel searches top-level panels and panels nested inside collapsed rows.
func findPanel(panels []panel, id int) (panel, bool) {
	queue := append([]panel(nil), panels...)
	for len(queue) > 0 {
		p := queue[0]
		queue = queue[1:]
		if p.ID == id && p.Type != "row" {
			return p, true
		}
		queue = append(queue, p.Panels...)
	}
	return panel{}, false
}

// datasourceName accepts both the legacy string form and the {"uid": ...} object form.
func datasourceName(raw json.RawMessage) string {
	if len(raw) == 0 || string(raw) == "null" {
		return ""
	}
	var name string
	if err := json.Unmarshal(raw, &name); err == nil {
		return name
	}
	var ref struct {
		UID  string `json:"uid"`
		Name string `json:"name"`
	}
	if err := json.Unmarshal(raw, &ref); err == nil {
		if ref.Name != "" {
			return ref.Name
		}
		return ref.UID
	}
	return ""
}
