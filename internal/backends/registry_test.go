package backends

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubClient struct {
	pingErr error
	closed  atomic.Bool
}

func (s *stubClient) Search(context.Context, string, map[string]any) (*Response, error) {
	return &Response{}, nil
}

func (s *stubClient) MultiSearch(_ context.Context, _ string, bodies []map[string]any) ([]*Response, error) {
	return make([]*Response, len(bodies)), nil
}

func (s *stubClient) Ping(context.Context) error { return s.pingErr }

func (s *stubClient) Close() error {
	s.closed.Store(true)
	return nil
}

func newTestRegistry(created *atomic.Int32) *Registry {
	return NewRegistry(func(src Source) (StoreClient, error) {
		created.Add(1)
		if src.Name == "broken" {
			return &stubClient{pingErr: errors.New("connection refused")}, nil
		}
		return &stubClient{}, nil
	}, slog.New(slog.NewTextHandler(io.Discard, nil)))
}

func TestRegistrySharesClientsPerEndpoint(t *testing.T) {
	var created atomic.Int32
	r := newTestRegistry(&created)

	require.NoError(t, r.AddSource(Source{Name: "logs", URL: "http://es:9200"}))
	require.NoError(t, r.AddSource(Source{Name: "logs-alias", URL: "http://es:9200", Index: "other-*"}))
	require.NoError(t, r.AddSource(Source{Name: "logs-slow", URL: "http://es:9200", Timeout: time.Minute}))
	require.Error(t, r.AddSource(Source{Name: "no-url"}))

	var wg sync.WaitGroup
	for i := 0; i < 32; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := r.Client("logs")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), created.Load(), "one client per endpoint and timeout")

	a, _, err := r.Client("logs")
	require.NoError(t, err)
	b, src, err := r.Client("logs-alias")
	require.NoError(t, err)
	assert.Same(t, a, b)
	assert.Equal(t, "other-*", src.Index)

	c, _, err := r.Client("logs-slow")
	require.NoError(t, err)
	assert.NotSame(t, a, c)
	assert.Equal(t, int32(2), created.Load())

	_, _, err = r.Client("missing")
	assert.Error(t, err)
	assert.True(t, r.HasSource("logs"))
	assert.False(t, r.HasSource("missing"))
}

func TestRegistryHealthAndClose(t *testing.T) {
	var created atomic.Int32
	r := newTestRegistry(&created)
	require.NoError(t, r.AddSource(Source{Name: "ok", URL: "http://a:9200"}))
	require.NoError(t, r.AddSource(Source{Name: "broken", URL: "http://b:9200"}))

	health := r.Health(context.Background())
	require.Len(t, health, 2)
	assert.Equal(t, "broken", health[0].Source)
	assert.False(t, health[0].Healthy)
	assert.Equal(t, "connection refused", health[0].Error)
	assert.True(t, health[1].Healthy)

	client, _, err := r.Client("ok")
	require.NoError(t, err)
	require.NoError(t, r.Close())
	assert.True(t, client.(*stubClient).closed.Load())
}
