// Package backends provides the metrics-store client interface used by check evaluation
// and a registry that shares one client per store endpoint.
package backends

import (
	"context"
	"errors"
	"time"
)

// ErrStore marks transport errors, timeouts and non-2xx responses from a metrics store.
var ErrStore = errors.New("metrics store error")

// Response is one aggregation query result.
type Response struct {
	// Aggregations is the raw nested aggregations object, ready for flattening.
	Aggregations map[string]any `json:"aggregations"`
	TookMillis   int64          `json:"took"`
	TimedOut     bool           `json:"timed_out"`
	Hits         int64          `json:"hits"`
}

// StoreClient executes aggregation queries against a metrics store.
// Implementations must be safe for concurrent use.
type StoreClient interface {
	// Search runs one query against index.
	Search(ctx context.Context, index string, body map[string]any) (*Response, error)

	// MultiSearch runs several queries in one round-trip. Responses are returned in
	// submission order. A failure of any single query fails the whole batch.
	MultiSearch(ctx context.Context, index string, bodies []map[string]any) ([]*Response, error)

	// Ping checks connectivity to the store.
	Ping(ctx context.Context) error

	// Close releases any resources held by the client.
	Close() error
}

// Source binds a data-source name, as dashboards refer to it, to a store endpoint.
type Source struct {
	Name     string        `koanf:"name" validate:"required"`
	URL      string        `koanf:"url" validate:"required,url"`
	Index    string        `koanf:"index"`
	Timeout  time.Duration `koanf:"timeout"`
	Username string        `koanf:"username"`
	Password string        `koanf:"password"`
}

// DefaultTimeout bounds a store round-trip when a source does not set its own.
const DefaultTimeout = 30 * time.Second

// EffectiveTimeout returns the source's timeout or the default.
func (s Source) EffectiveTimeout() time.Duration {
	if s.Timeout > 0 {
		return s.Timeout
	}
	return DefaultTimeout
}

// Health is the outcome of a connectivity check.
type Health struct {
	Source      string    `json:"source"`
	Healthy     bool      `json:"healthy"`
	Error       string    `json:"error,omitempty"`
	LastChecked time.Time `json:"last_checked"`
}
