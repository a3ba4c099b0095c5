package engine

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-karan/checkchef/internal/alerts"
	"github.com/mr-karan/checkchef/internal/rollup"
	"github.com/mr-karan/checkchef/pkg/models"
)

type memStore struct {
	mu       sync.Mutex
	checks   map[string]models.CheckDefinition
	results  []models.CheckResult
	pruned   map[string]int
	services map[string]models.ServiceState
}

func newMemStore(checks ...models.CheckDefinition) *memStore {
	s := &memStore{
		checks:   make(map[string]models.CheckDefinition),
		pruned:   make(map[string]int),
		services: make(map[string]models.ServiceState),
	}
	for _, c := range checks {
		s.checks[c.ID] = c
	}
	return s
}

func (s *memStore) ListActiveChecks(context.Context) ([]models.CheckDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.CheckDefinition
	for _, c := range s.checks {
		if c.Active {
			out = append(out, c)
		}
	}
	return out, nil
}

func (s *memStore) GetCheck(_ context.Context, id string) (*models.CheckDefinition, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.checks[id]
	if !ok {
		return nil, errors.New("check not found")
	}
	return &c, nil
}

func (s *memStore) InsertResult(_ context.Context, r *models.CheckResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, *r)
	return nil
}

func (s *memStore) PruneResults(_ context.Context, id string, keep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pruned[id] = keep
	return 0, nil
}

func (s *memStore) ServicesForCheck(_ context.Context, id string) ([]models.ServiceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.ServiceState
	for _, svc := range s.services {
		for _, cid := range svc.CheckIDs {
			if cid == id {
				out = append(out, svc)
				break
			}
		}
	}
	return out, nil
}

func (s *memStore) GetService(_ context.Context, id string) (*models.ServiceState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	svc, ok := s.services[id]
	if !ok {
		return nil, errors.New("service not found")
	}
	return &svc, nil
}

func (s *memStore) SaveServiceState(_ context.Context, st models.ServiceState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services[st.ID] = st
	return nil
}

func (s *memStore) service(id string) models.ServiceState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.services[id]
}

// scriptedEngine returns canned results and states.
type scriptedEngine struct {
	mu     sync.Mutex
	result models.CheckResult
	states map[string]models.CheckState
	calls  []string
}

func (e *scriptedEngine) Evaluate(_ context.Context, c Check) models.CheckResult {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = append(e.calls, c.Definition().ID)
	r := e.result
	r.CheckID = c.Definition().ID
	return r
}

func (e *scriptedEngine) Recompute(_ context.Context, id string) (models.CheckState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.states[id]
	if !ok {
		return models.CheckState{}, errors.New("unknown check")
	}
	return st, nil
}

type captureDispatcher struct {
	mu      sync.Mutex
	got     []alerts.Notification
	fail    bool
	failAll bool
}

func (c *captureDispatcher) Dispatch(_ context.Context, n alerts.Notification) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.got = append(c.got, n)
	if c.failAll {
		return errors.New("all routes down")
	}
	if c.fail && !n.Officers {
		return errors.New("smtp down")
	}
	return nil
}

func activeBuild(id string, freq int) models.CheckDefinition {
	return models.CheckDefinition{
		ID: id, Name: id, Kind: models.CheckKindBuild, Active: true,
		FrequencySeconds: freq,
		Build:            &models.BuildCheckSpec{Job: id},
	}
}

func TestTickSubmitsDueChecks(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := newMemStore(activeBuild("fast", 30), activeBuild("slow", 300))
	inactive := activeBuild("off", 30)
	inactive.Active = false
	store.checks["off"] = inactive

	eng := &scriptedEngine{result: models.CheckResult{Succeeded: true}}
	s := NewScheduler(SchedulerOptions{
		Store:  store,
		Engine: eng,
		Logger: quiet,
		Now:    func() time.Time { return now },
	})
	// workers not started: Submit only queues

	assert.Equal(t, 2, s.Tick(context.Background()))
	assert.Equal(t, 0, s.Tick(context.Background()), "already queued and not yet due")

	// drain the queue by hand
	for len(s.pool.queue) > 0 {
		c := <-s.pool.queue
		s.pool.release(c.Definition().ID)
	}

	now = now.Add(45 * time.Second)
	assert.Equal(t, 1, s.Tick(context.Background()), "only the 30s check is due")
}

func TestHandleResultRollsUpAndAlerts(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := newMemStore(activeBuild("a", 60), activeBuild("b", 60))
	store.services["payments"] = models.ServiceState{
		ServiceDefinition: models.ServiceDefinition{
			ID: "payments", Name: "Payments", CheckIDs: []string{"a", "b"},
			Subscribers: []string{"team@example.com"},
		},
	}

	eng := &scriptedEngine{
		result: models.CheckResult{Severity: models.SeverityCritical},
		states: map[string]models.CheckState{
			"a": {CheckID: "a", Active: true, Status: models.CheckFailing, Severity: models.SeverityCritical},
			"b": {CheckID: "b", Active: true, Status: models.CheckPassing},
		},
	}
	disp := &captureDispatcher{fail: true}
	s := NewScheduler(SchedulerOptions{
		Store:        store,
		Engine:       eng,
		Dispatcher:   disp,
		Logger:       quiet,
		HistoryLimit: 25,
		Policy: rollup.Policy{
			AlertInterval:    time.Hour,
			DutyOfficers:     []string{"duty@example.com"},
			FallbackOfficers: []string{"fallback@example.com"},
		},
		Now: func() time.Time { return now },
	})

	res, err := s.RunNow(context.Background(), "a")
	require.NoError(t, err)
	assert.Equal(t, "a", res.CheckID)

	require.Len(t, store.results, 1)
	assert.Equal(t, 25, store.pruned["a"])

	svc := store.service("payments")
	assert.Equal(t, models.StatusCritical, svc.Current)
	assert.Equal(t, models.StatusPassing, svc.Previous)
	require.NotNil(t, svc.LastAlertAt)

	require.Len(t, disp.got, 2, "primary attempt plus the fallback retry")
	first := disp.got[0]
	assert.Equal(t, alerts.KindService, first.Kind)
	assert.Equal(t, "Payments is CRITICAL (was PASSING)", first.Message)
	assert.Equal(t, "a: CRITICAL", first.Details)
	assert.Equal(t, []string{"team@example.com", "duty@example.com", "fallback@example.com"}, first.RouteTo)
	assert.Equal(t, []string{"fallback@example.com"}, disp.got[1].RouteTo)

	// same status inside the alert interval stays quiet
	now = now.Add(time.Minute)
	_, err = s.RunNow(context.Background(), "b")
	require.NoError(t, err)
	assert.Len(t, disp.got, 2)
	assert.Equal(t, models.StatusCritical, store.service("payments").Previous)
}

func TestRollupSkipsUnknownChecks(t *testing.T) {
	store := newMemStore()
	eng := &scriptedEngine{states: map[string]models.CheckState{}}
	disp := &captureDispatcher{}
	s := NewScheduler(SchedulerOptions{Store: store, Engine: eng, Dispatcher: disp, Logger: quiet})

	store.services["svc"] = models.ServiceState{ServiceDefinition: models.ServiceDefinition{ID: "svc", Name: "Svc", CheckIDs: []string{"gone"}}}
	require.NoError(t, s.RollupService(context.Background(), "svc"))
	assert.Equal(t, models.StatusPassing, store.service("svc").Current)
	assert.Empty(t, disp.got)

	assert.Error(t, s.RollupService(context.Background(), "missing"))
}

// lockstepStore holds every ServicesForCheck caller until all of them have read.
type lockstepStore struct {
	*memStore
	arrived sync.WaitGroup
}

func (l *lockstepStore) ServicesForCheck(ctx context.Context, id string) ([]models.ServiceState, error) {
	out, err := l.memStore.ServicesForCheck(ctx, id)
	l.arrived.Done()
	l.arrived.Wait()
	return out, err
}

func TestConcurrentResultsAlertOncePerTransition(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := &lockstepStore{memStore: newMemStore(activeBuild("a", 60), activeBuild("b", 60))}
	store.arrived.Add(2)
	store.services["payments"] = models.ServiceState{
		ServiceDefinition: models.ServiceDefinition{ID: "payments", Name: "Payments", CheckIDs: []string{"a", "b"}},
	}

	eng := &scriptedEngine{states: map[string]models.CheckState{
		"a": {CheckID: "a", Active: true, Status: models.CheckFailing, Severity: models.SeverityError},
		"b": {CheckID: "b", Active: true, Status: models.CheckFailing, Severity: models.SeverityError},
	}}
	disp := &captureDispatcher{}
	s := NewScheduler(SchedulerOptions{
		Store:      store,
		Engine:     eng,
		Dispatcher: disp,
		Logger:     quiet,
		Policy:     rollup.Policy{AlertInterval: time.Hour},
		Now:        func() time.Time { return now },
	})

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b"} {
		check, err := FromDefinition(store.checks[id])
		require.NoError(t, err)
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.HandleResult(context.Background(), check, models.CheckResult{CheckID: check.Definition().ID, Severity: models.SeverityError})
		}()
	}
	wg.Wait()

	assert.Len(t, disp.got, 1, "one PASSING->ERROR transition alerts once")
	svc := store.service("payments")
	assert.Equal(t, models.StatusError, svc.Current)
	assert.Equal(t, models.StatusError, svc.Previous, "second cycle starts from the first cycle's saved state")
}

func TestUndeliveredAlertIsNotStamped(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	store := newMemStore(activeBuild("a", 60))
	earlier := now.Add(-10 * time.Minute)
	store.services["payments"] = models.ServiceState{
		ServiceDefinition: models.ServiceDefinition{ID: "payments", Name: "Payments", CheckIDs: []string{"a"}},
		Current:           models.StatusWarning,
		LastAlertAt:       &earlier,
	}
	eng := &scriptedEngine{states: map[string]models.CheckState{
		"a": {CheckID: "a", Active: true, Status: models.CheckFailing, Severity: models.SeverityError},
	}}
	disp := &captureDispatcher{failAll: true}
	s := NewScheduler(SchedulerOptions{
		Store:      store,
		Engine:     eng,
		Dispatcher: disp,
		Logger:     quiet,
		Policy:     rollup.Policy{AlertInterval: time.Hour, FallbackOfficers: []string{"fallback@example.com"}},
		Now:        func() time.Time { return now },
	})

	require.Error(t, s.RollupService(context.Background(), "payments"))
	svc := store.service("payments")
	assert.Equal(t, models.StatusError, svc.Current, "status is saved even when delivery fails")
	assert.Nil(t, svc.LastAlertAt)
	require.Len(t, disp.got, 2)

	// next cycle retries instead of treating the failed alert as sent
	now = now.Add(time.Minute)
	disp.failAll = false
	require.NoError(t, s.RollupService(context.Background(), "payments"))
	require.Len(t, disp.got, 3)
	require.NotNil(t, store.service("payments").LastAlertAt)
	assert.Equal(t, now, *store.service("payments").LastAlertAt)
}

func TestRunNowUnknownCheck(t *testing.T) {
	s := NewScheduler(SchedulerOptions{Store: newMemStore(), Engine: &scriptedEngine{}, Logger: quiet})
	_, err := s.RunNow(context.Background(), "nope")
	assert.Error(t, err)
}

func TestSchedulerStartStop(t *testing.T) {
	store := newMemStore(activeBuild("a", 60))
	eng := &scriptedEngine{result: models.CheckResult{Succeeded: true}}
	s := NewScheduler(SchedulerOptions{Store: store, Engine: eng, Logger: quiet, TickInterval: time.Hour})

	s.Start(context.Background())
	assert.Eventually(t, func() bool {
		store.mu.Lock()
		defer store.mu.Unlock()
		return len(store.results) == 1
	}, time.Second, 5*time.Millisecond, "initial tick runs immediately")
	s.Stop()
}
