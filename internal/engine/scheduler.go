package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/mr-karan/checkchef/internal/alerts"
	"github.com/mr-karan/checkchef/internal/definitions"
	"github.com/mr-karan/checkchef/internal/metrics"
	"github.com/mr-karan/checkchef/internal/rollup"
	"github.com/mr-karan/checkchef/pkg/models"
)

// Store is the persistence the scheduler needs.
type Store interface {
	ListActiveChecks(ctx context.Context) ([]models.CheckDefinition, error)
	GetCheck(ctx context.Context, id string) (*models.CheckDefinition, error)
	InsertResult(ctx context.Context, result *models.CheckResult) error
	PruneResults(ctx context.Context, checkID string, keep int) (int64, error)
	ServicesForCheck(ctx context.Context, checkID string) ([]models.ServiceState, error)
	GetService(ctx context.Context, id string) (*models.ServiceState, error)
	SaveServiceState(ctx context.Context, state models.ServiceState) error
}

// CheckEngine evaluates checks and derives their debounced state.
type CheckEngine interface {
	Evaluator
	Recompute(ctx context.Context, checkID string) (models.CheckState, error)
}

// SchedulerOptions encapsulates the dependencies of a Scheduler.
type SchedulerOptions struct {
	Store      Store
	Engine     CheckEngine
	Dispatcher alerts.Dispatcher
	Policy     rollup.Policy
	Logger     *slog.Logger

	Workers      int
	QueueSize    int
	TickInterval time.Duration
	HistoryLimit int
	Now          func() time.Time
}

// Scheduler submits due checks to a worker pool, persists results and rolls each result
// up into the services the check belongs to.
type Scheduler struct {
	store        Store
	engine       CheckEngine
	dispatcher   alerts.Dispatcher
	policy       rollup.Policy
	log          *slog.Logger
	pool         *Pool
	interval     time.Duration
	historyLimit int
	now          func() time.Time

	mu      sync.Mutex
	lastRun map[string]time.Time

	// one roll-up at a time so service state read-modify-writes do not interleave
	rollupMu sync.Mutex

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewScheduler constructs a scheduler and its worker pool.
func NewScheduler(opts SchedulerOptions) *Scheduler {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = alerts.NewLogDispatcher(logger)
	}
	interval := opts.TickInterval
	if interval <= 0 {
		interval = 10 * time.Second
	}
	historyLimit := opts.HistoryLimit
	if historyLimit <= 0 {
		historyLimit = 100
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	s := &Scheduler{
		store:        opts.Store,
		engine:       opts.Engine,
		dispatcher:   dispatcher,
		policy:       opts.Policy,
		log:          logger.With("component", "scheduler"),
		interval:     interval,
		historyLimit: historyLimit,
		now:          now,
		lastRun:      make(map[string]time.Time),
		stop:         make(chan struct{}),
	}
	s.pool = NewPool(PoolOptions{
		Evaluator: opts.Engine,
		OnResult:  s.HandleResult,
		Workers:   opts.Workers,
		QueueSize: opts.QueueSize,
		Logger:    logger,
	})
	return s
}

// Start launches the pool and the scheduling loop.
func (s *Scheduler) Start(ctx context.Context) {
	s.pool.Start(ctx)
	s.log.Info("starting scheduler", "interval", s.interval)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		s.Tick(ctx)

		for {
			select {
			case <-ticker.C:
				s.Tick(ctx)
			case <-s.stop:
				s.log.Info("scheduler stopping")
				return
			case <-ctx.Done():
				s.log.Info("scheduler context cancelled")
				return
			}
		}
	}()
}

// Stop ends the scheduling loop and waits for running evaluations to finish.
func (s *Scheduler) Stop() {
	close(s.stop)
	s.wg.Wait()
	s.pool.Stop()
}

// Tick submits every active check whose frequency has elapsed. It returns how many checks
// were submitted.
func (s *Scheduler) Tick(ctx context.Context) int {
	checks, err := s.store.ListActiveChecks(ctx)
	if err != nil {
		s.log.Error("failed to list active checks", "error", err)
		return 0
	}

	now := s.now()
	active := make(map[string]bool, len(checks))
	submitted := 0
	for _, def := range checks {
		active[def.ID] = true
		if !s.due(def, now) {
			continue
		}
		check, err := FromDefinition(def)
		if err != nil {
			s.log.Error("skipping invalid check", "check_id", def.ID, "error", err)
			continue
		}
		if s.pool.Submit(check) {
			s.markRun(def.ID, now)
			submitted++
		}
	}
	s.forgetInactive(active)

	if submitted > 0 {
		s.log.Debug("submitted due checks", "count", submitted, "active", len(checks))
	}
	return submitted
}

func (s *Scheduler) due(def models.CheckDefinition, now time.Time) bool {
	freq := def.FrequencySeconds
	if freq <= 0 {
		freq = definitions.DefaultFrequencySeconds
	}
	s.mu.Lock()
	last, ok := s.lastRun[def.ID]
	s.mu.Unlock()
	return !ok || now.Sub(last) >= time.Duration(freq)*time.Second
}

func (s *Scheduler) markRun(id string, at time.Time) {
	s.mu.Lock()
	s.lastRun[id] = at
	s.mu.Unlock()
}

func (s *Scheduler) forgetInactive(active map[string]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id := range s.lastRun {
		if !active[id] {
			delete(s.lastRun, id)
		}
	}
}

// RunNow evaluates a check immediately, regardless of its schedule or active flag.
func (s *Scheduler) RunNow(ctx context.Context, checkID string) (models.CheckResult, error) {
	def, err := s.store.GetCheck(ctx, checkID)
	if err != nil {
		return models.CheckResult{}, err
	}
	check, err := FromDefinition(*def)
	if err != nil {
		return models.CheckResult{}, err
	}
	result, err := s.pool.Run(ctx, check)
	if err != nil {
		return models.CheckResult{}, err
	}
	s.markRun(checkID, s.now())
	return result, nil
}

// HandleResult persists a result, trims the check's history and rolls the services the
// check belongs to.
func (s *Scheduler) HandleResult(ctx context.Context, check Check, result models.CheckResult) {
	id := check.Definition().ID
	if err := s.store.InsertResult(ctx, &result); err != nil {
		s.log.Error("failed to store check result", "check_id", id, "error", err)
		return
	}
	if n, err := s.store.PruneResults(ctx, id, s.historyLimit); err != nil {
		s.log.Warn("failed to prune check results", "check_id", id, "error", err)
	} else if n > 0 {
		s.log.Debug("pruned check results", "check_id", id, "removed", n)
	}

	services, err := s.store.ServicesForCheck(ctx, id)
	if err != nil {
		s.log.Error("failed to list services for check", "check_id", id, "error", err)
		return
	}
	for _, svc := range services {
		if err := s.RollupService(ctx, svc.ID); err != nil {
			s.log.Error("service roll-up failed", "service_id", svc.ID, "error", err)
		}
	}
}

// RollupService recomputes every check of a service, updates the stored service status and
// dispatches an alert when the decision calls for one. The service row is read under the
// roll-up lock so each cycle starts from the previous cycle's saved state.
func (s *Scheduler) RollupService(ctx context.Context, serviceID string) error {
	s.rollupMu.Lock()
	defer s.rollupMu.Unlock()

	stored, err := s.store.GetService(ctx, serviceID)
	if err != nil {
		return fmt.Errorf("loading service %s: %w", serviceID, err)
	}
	svc := *stored

	states := make([]models.CheckState, 0, len(svc.CheckIDs))
	for _, checkID := range svc.CheckIDs {
		state, err := s.engine.Recompute(ctx, checkID)
		if err != nil {
			s.log.Warn("failed to recompute check status", "service_id", svc.ID, "check_id", checkID, "error", err)
			continue
		}
		states = append(states, state)
	}

	now := s.now()
	decision := rollup.Update(&svc, states, now, s.policy)
	if decision.Previous != decision.Status {
		metrics.RecordStatusTransition(decision.Previous.String(), decision.Status.String())
		s.log.Info("service status changed", "service_id", svc.ID, "from", decision.Previous, "to", decision.Status, "reason", decision.Reason)
	}

	var alertErr error
	if decision.Alert {
		alertErr = s.alert(ctx, svc, decision, states, now)
		if alertErr == nil {
			rollup.MarkAlerted(&svc, now)
		} else {
			// retried on the next cycle
			svc.LastAlertAt = nil
		}
	}
	if err := s.store.SaveServiceState(ctx, svc); err != nil {
		return fmt.Errorf("saving service state: %w", err)
	}
	return alertErr
}

func (s *Scheduler) alert(ctx context.Context, svc models.ServiceState, decision rollup.Decision, states []models.CheckState, now time.Time) error {
	n := alerts.Notification{
		Kind:      alerts.KindService,
		SubjectID: svc.ID,
		Subject:   svc.Name,
		Status:    decision.Status,
		Previous:  decision.Previous,
		Message:   decision.Message(svc.Name),
		Details:   failingDetails(states),
		RouteTo:   decision.Recipients,
		Officers:  decision.RouteOfficers,
		Labels:    map[string]string{"reason": string(decision.Reason)},
		Timestamp: now,
	}
	usedFallback, err := alerts.DispatchWithFallback(ctx, s.dispatcher, n, decision.Fallback)
	route := "primary"
	if usedFallback {
		route = "fallback"
	}
	metrics.RecordAlert(route, err)
	if err != nil {
		return fmt.Errorf("dispatching service alert: %w", err)
	}
	return nil
}

func failingDetails(states []models.CheckState) string {
	var lines []string
	for _, st := range states {
		if st.Active && st.Status == models.CheckFailing {
			sev := st.Severity
			if !sev.Valid() {
				sev = models.SeverityError
			}
			lines = append(lines, fmt.Sprintf("%s: %s", st.CheckID, sev))
		}
	}
	sort.Strings(lines)
	return strings.Join(lines, "\n")
}

// Recompute returns a check's debounced state.
func (s *Scheduler) Recompute(ctx context.Context, checkID string) (models.CheckState, error) {
	return s.engine.Recompute(ctx, checkID)
}
