package client

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-karan/checkchef/pkg/models"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"valid", "https://example.com", false},
		{"trailing slash", "https://example.com/", false},
		{"missing url", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := New(Options{URL: tt.url})
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, "https://example.com", c.baseURL)
		})
	}
}

func TestCheckStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/checks/errors/status", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": "success",
			"data": map[string]any{
				"check_id": "errors", "active": true, "status": "failing", "severity": "critical",
				"name": "5xx rate",
			},
		})
	}))
	defer srv.Close()

	c, err := New(Options{URL: srv.URL})
	require.NoError(t, err)
	st, err := c.CheckStatus(context.Background(), "errors")
	require.NoError(t, err)
	assert.Equal(t, models.CheckFailing, st.Status)
	assert.Equal(t, models.SeverityCritical, st.Severity)
	assert.Equal(t, "5xx rate", st.Name)
	assert.Nil(t, st.LastResult)
}

func TestAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/checks/busy/run":
			assert.Equal(t, http.MethodPost, r.Method)
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"status":"error","message":"check evaluation already in flight","error_type":"ConflictError"}`))
		default:
			http.Error(w, "gateway down", http.StatusBadGateway)
		}
	}))
	defer srv.Close()

	c, err := New(Options{URL: srv.URL})
	require.NoError(t, err)

	_, err = c.RunCheck(context.Background(), "busy")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Equal(t, "ConflictError: check evaluation already in flight", apiErr.Error())

	_, err = c.ListServices(context.Background())
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusBadGateway, apiErr.StatusCode)
	assert.Equal(t, "gateway down", apiErr.Message)
}
