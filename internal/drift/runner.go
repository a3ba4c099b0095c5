package drift

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/mr-karan/checkchef/internal/alerts"
	"github.com/mr-karan/checkchef/internal/grafana"
	"github.com/mr-karan/checkchef/internal/metrics"
	"github.com/mr-karan/checkchef/pkg/models"
)

// CheckStore is the slice of the definitions store the runner needs.
type CheckStore interface {
	ListLinkedChecks(ctx context.Context) ([]models.CheckDefinition, error)
	UpdateCheckDefinition(ctx context.Context, def models.CheckDefinition) error
	SetCheckActive(ctx context.Context, id string, active bool) error
}

// Dashboards fetches upstream panel definitions.
type Dashboards interface {
	GetLastModified(ctx context.Context, uid string) (time.Time, error)
	GetDefinition(ctx context.Context, uid string, panelID int) (*models.PanelDefinition, error)
}

// RunnerOptions encapsulates the dependencies of a Runner.
type RunnerOptions struct {
	Store      CheckStore
	Dashboards Dashboards
	Sources    SourceResolver
	Dispatcher alerts.Dispatcher
	Logger     *slog.Logger

	// Interval between drift cycles.
	Interval time.Duration
	// RecencyWindow limits comparisons to dashboards saved within this long of now.
	RecencyWindow   time.Duration
	DefaultInterval string
	Now             func() time.Time
}

// Runner periodically compares linked checks against their dashboards.
type Runner struct {
	opts RunnerOptions
	log  *slog.Logger
	now  func() time.Time

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewRunner constructs a drift runner.
func NewRunner(opts RunnerOptions) *Runner {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	if opts.Dispatcher == nil {
		opts.Dispatcher = alerts.NewLogDispatcher(logger)
	}
	return &Runner{
		opts: opts,
		log:  logger.With("component", "drift_runner"),
		now:  now,
		stop: make(chan struct{}),
	}
}

// Start launches the drift loop.
func (r *Runner) Start(ctx context.Context) {
	interval := r.opts.Interval
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	r.log.Info("starting drift runner", "interval", interval, "recency_window", r.opts.RecencyWindow)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		r.RunOnce(ctx)

		for {
			select {
			case <-ticker.C:
				r.RunOnce(ctx)
			case <-r.stop:
				r.log.Info("drift runner stopping")
				return
			case <-ctx.Done():
				r.log.Info("drift runner context cancelled")
				return
			}
		}
	}()
}

// Stop signals the runner to stop and waits for the current cycle.
func (r *Runner) Stop() {
	close(r.stop)
	r.wg.Wait()
}

// RunOnce runs one drift cycle over every linked check and returns the reports of checks
// that were compared.
func (r *Runner) RunOnce(ctx context.Context) []Report {
	checks, err := r.opts.Store.ListLinkedChecks(ctx)
	if err != nil {
		r.log.Error("failed to list linked checks", "error", err)
		return nil
	}

	var reports []Report
	modified := map[string]time.Time{}
	for _, check := range checks {
		if !check.Active || check.Metrics == nil || check.Metrics.Upstream == nil {
			continue
		}
		uid := check.Metrics.Upstream.DashboardUID

		last, ok := modified[uid]
		if !ok {
			last, err = r.opts.Dashboards.GetLastModified(ctx, uid)
			if err != nil && !errors.Is(err, grafana.ErrNotFound) {
				r.log.Warn("failed to fetch dashboard last-modified", "dashboard", uid, "error", err)
				continue
			}
			modified[uid] = last
		}
		if !ShouldRefetch(last, r.now(), r.opts.RecencyWindow) {
			continue
		}

		report, err := r.checkOne(ctx, check)
		if err != nil && !errors.Is(err, ErrUnresolvable) {
			r.log.Warn("drift check failed", "check_id", check.ID, "error", err)
		}
		reports = append(reports, report)
	}
	return reports
}

func (r *Runner) checkOne(ctx context.Context, check models.CheckDefinition) (Report, error) {
	link := check.Metrics.Upstream
	panel, err := r.opts.Dashboards.GetDefinition(ctx, link.DashboardUID, link.PanelID)
	if err != nil {
		if !errors.Is(err, grafana.ErrNotFound) {
			return Report{CheckID: check.ID, CheckName: check.Name, Action: ActionNone}, err
		}
		panel = nil
	}

	report, detectErr := Detect(check, panel, r.opts.Sources, Options{DefaultInterval: r.opts.DefaultInterval})
	metrics.RecordDrift(string(report.Action))
	if !report.Drifted() {
		return report, detectErr
	}

	switch report.Action {
	case ActionApply:
		updated := check
		spec := *check.Metrics
		updated.Metrics = &spec
		report.Apply(&updated)
		if err := r.opts.Store.UpdateCheckDefinition(ctx, updated); err != nil {
			return report, fmt.Errorf("applying drift to check %s: %w", check.ID, err)
		}
		r.log.Info("applied upstream change", "check_id", check.ID, "kinds", report.Kinds)
	case ActionDeactivate:
		if err := r.opts.Store.SetCheckActive(ctx, check.ID, false); err != nil {
			return report, fmt.Errorf("deactivating check %s: %w", check.ID, err)
		}
		r.log.Warn("deactivated check with unresolvable drift", "check_id", check.ID, "error", detectErr)
	case ActionNeedsHuman:
		r.log.Warn("check drifted and needs manual update", "check_id", check.ID, "kinds", report.Kinds)
	}

	r.notify(ctx, check, report)
	return report, detectErr
}

func (r *Runner) notify(ctx context.Context, check models.CheckDefinition, report Report) {
	status := models.StatusWarning
	if report.Action == ActionDeactivate {
		status = models.StatusError
	}
	n := alerts.Notification{
		Kind:      alerts.KindDrift,
		SubjectID: check.ID,
		Subject:   check.Name,
		Status:    status,
		Message:   fmt.Sprintf("Check %s drifted from its dashboard (%s)", check.Name, report.Action),
		Details:   report.Text(),
		Labels:    map[string]string{"action": string(report.Action)},
		Timestamp: r.now(),
	}
	if check.Owner != "" {
		n.RouteTo = []string{check.Owner}
	}
	err := r.opts.Dispatcher.Dispatch(ctx, n)
	metrics.RecordAlert("owner", err)
	if err != nil {
		r.log.Error("failed to notify check owner", "check_id", check.ID, "error", err)
	}
}
