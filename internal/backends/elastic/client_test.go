package elastic

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-karan/checkchef/internal/backends"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestMultiSearch(t *testing.T) {
	var lines []map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/_msearch", r.URL.Path)
		assert.Equal(t, "application/x-ndjson", r.Header.Get("Content-Type"))
		user, pass, ok := r.BasicAuth()
		assert.True(t, ok)
		assert.Equal(t, "reader", user)
		assert.Equal(t, "secret", pass)

		sc := bufio.NewScanner(r.Body)
		for sc.Scan() {
			var line map[string]any
			assert.NoError(t, json.Unmarshal(sc.Bytes(), &line))
			lines = append(lines, line)
		}
		_, _ = io.WriteString(w, `{"took": 9, "responses": [
		  {"took": 3, "timed_out": false, "status": 200, "hits": {"total": {"value": 42}},
		   "aggregations": {"agg": {"buckets": [{"key": 1, "avg": {"value": 1.5}}]}}},
		  {"took": 4, "status": 200, "hits": {"total": 7}, "aggregations": {"agg": {"buckets": []}}}
		]}`)
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{URL: srv.URL + "/", Username: "reader", Password: "secret"}, quiet)
	require.NoError(t, err)

	out, err := c.MultiSearch(context.Background(), "logs-*", []map[string]any{
		{"size": 0, "q": 1},
		{"size": 0, "q": 2},
	})
	require.NoError(t, err)
	require.Len(t, out, 2)

	require.Len(t, lines, 4)
	assert.Equal(t, "logs-*", lines[0]["index"])
	assert.Equal(t, float64(1), lines[1]["q"])
	assert.Equal(t, float64(2), lines[3]["q"])

	assert.Equal(t, int64(42), out[0].Hits)
	assert.Equal(t, int64(7), out[1].Hits)
	assert.Contains(t, out[0].Aggregations, "agg")
}

func TestSearchErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		errSub string
	}{
		{"http error", http.StatusBadGateway, "upstream down", "status 502"},
		{"per query error", http.StatusOK, `{"responses": [{"status": 400, "error": {"type": "parsing_exception", "reason": "unknown agg"}}]}`, "parsing_exception: unknown agg"},
		{"count mismatch", http.StatusOK, `{"responses": []}`, "expected 1 responses"},
		{"garbage", http.StatusOK, `not json`, "parsing multi-search response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			c, err := NewClient(ClientOptions{URL: srv.URL}, quiet)
			require.NoError(t, err)
			_, err = c.Search(context.Background(), "idx", map[string]any{"size": 0})
			require.Error(t, err)
			assert.True(t, errors.Is(err, backends.ErrStore))
			assert.Contains(t, err.Error(), tt.errSub)
		})
	}
}

func TestSearchTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-time.After(2 * time.Second):
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{URL: srv.URL, Timeout: 50 * time.Millisecond}, quiet)
	require.NoError(t, err)
	_, err = c.Search(context.Background(), "idx", map[string]any{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, backends.ErrStore))
}

func TestPingAndFactory(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/", r.URL.Path)
		_, _ = io.WriteString(w, `{"version": {"number": "8.13.0"}}`)
	}))
	defer srv.Close()

	client, err := NewFactory(quiet)(backends.Source{Name: "logs", URL: srv.URL})
	require.NoError(t, err)
	require.NoError(t, client.Ping(context.Background()))
	require.NoError(t, client.Close())

	_, err = NewClient(ClientOptions{}, quiet)
	assert.Error(t, err)
}
