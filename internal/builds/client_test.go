package builds

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestConsecutiveFailures(t *testing.T) {
	responses := map[string]string{
		"/job/deploy":                `{"lastCompletedBuild":{"number":42},"lastSuccessfulBuild":{"number":40}}`,
		"/job/green":                 `{"lastCompletedBuild":{"number":7},"lastSuccessfulBuild":{"number":7}}`,
		"/job/team/job/never-passed": `{"lastCompletedBuild":{"number":3},"lastSuccessfulBuild":null}`,
		"/job/new":                   `{"lastCompletedBuild":null,"lastSuccessfulBuild":null}`,
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if user, pass, ok := r.BasicAuth(); !ok || user != "ci" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		const suffix = "/api/json"
		path := r.URL.Path
		if len(path) <= len(suffix) || path[len(path)-len(suffix):] != suffix {
			http.NotFound(w, r)
			return
		}
		body, ok := responses[path[:len(path)-len(suffix)]]
		if !ok {
			http.NotFound(w, r)
			return
		}
		fmt.Fprint(w, body)
	}))
	defer srv.Close()

	c, err := NewClient(ClientOptions{URL: srv.URL + "/", Username: "ci", Token: "secret"}, nil)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}

	tests := []struct {
		job  string
		want int
	}{
		{"deploy", 2},
		{"green", 0},
		{"team/never-passed", 3},
		{"new", 0},
	}
	for _, tt := range tests {
		t.Run(tt.job, func(t *testing.T) {
			got, err := c.ConsecutiveFailures(context.Background(), tt.job)
			if err != nil {
				t.Fatalf("ConsecutiveFailures() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("ConsecutiveFailures() = %d, want %d", got, tt.want)
			}
		})
	}

	_, err = c.ConsecutiveFailures(context.Background(), "missing")
	if !errors.Is(err, ErrJobNotFound) {
		t.Errorf("expected ErrJobNotFound, got %v", err)
	}
}

func TestJobPath(t *testing.T) {
	if got := jobPath("/a/b c/"); got != "/job/a/job/b%20c" {
		t.Errorf("jobPath() = %q", got)
	}
}
