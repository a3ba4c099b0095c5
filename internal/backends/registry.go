package backends

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Factory creates a client for a source. It is called at most once per endpoint and
// timeout combination.
type Factory func(Source) (StoreClient, error)

type clientKey struct {
	url      string
	username string
	timeout  time.Duration
}

// Registry owns the process's store clients. Sources are registered up front; clients are
// created lazily on first use and shared by every source with the same endpoint.
type Registry struct {
	mu      sync.RWMutex
	sources map[string]Source
	clients map[clientKey]StoreClient
	factory Factory
	log     *slog.Logger
}

func NewRegistry(factory Factory, log *slog.Logger) *Registry {
	return &Registry{
		sources: make(map[string]Source),
		clients: make(map[clientKey]StoreClient),
		factory: factory,
		log:     log.With("component", "backend_registry"),
	}
}

// AddSource registers or replaces a source binding.
func (r *Registry) AddSource(src Source) error {
	if src.Name == "" || src.URL == "" {
		return fmt.Errorf("source name and url are required")
	}
	r.mu.Lock()
	r.sources[src.Name] = src
	r.mu.Unlock()
	return nil
}

// HasSource reports whether name is a known binding.
func (r *Registry) HasSource(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sources[name]
	return ok
}

// Source returns the binding for name.
func (r *Registry) Source(name string) (Source, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[name]
	return src, ok
}

// SourceNames lists registered sources in name order.
func (r *Registry) SourceNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.sources))
	for name := range r.sources {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Client returns the shared client for a source, creating it on first use.
func (r *Registry) Client(name string) (StoreClient, Source, error) {
	src, ok := r.Source(name)
	if !ok {
		return nil, Source{}, fmt.Errorf("source %q not registered", name)
	}
	key := clientKey{url: src.URL, username: src.Username, timeout: src.EffectiveTimeout()}

	r.mu.RLock()
	client, ok := r.clients[key]
	r.mu.RUnlock()
	if ok {
		return client, src, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if client, ok := r.clients[key]; ok {
		return client, src, nil
	}
	client, err := r.factory(src)
	if err != nil {
		return nil, Source{}, fmt.Errorf("failed to create client for source %q: %w", name, err)
	}
	r.clients[key] = client
	r.log.Info("created store client", "source", name, "url", src.URL, "timeout", key.timeout)
	return client, src, nil
}

// Health pings every registered source's store.
func (r *Registry) Health(ctx context.Context) []Health {
	names := r.SourceNames()
	out := make([]Health, 0, len(names))
	for _, name := range names {
		h := Health{Source: name, LastChecked: time.Now()}
		client, _, err := r.Client(name)
		if err == nil {
			err = client.Ping(ctx)
		}
		if err != nil {
			h.Error = err.Error()
			r.log.Warn("store health check failed", "source", name, "error", err)
		} else {
			h.Healthy = true
		}
		out = append(out, h)
	}
	return out
}

// Close closes every client created so far.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var lastErr error
	for key, client := range r.clients {
		if err := client.Close(); err != nil {
			lastErr = err
		}
		delete(r.clients, key)
	}
	return lastErr
}
