// Package engine evaluates checks and schedules them onto a bounded worker pool.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mr-karan/checkchef/internal/backends"
	"github.com/mr-karan/checkchef/internal/debounce"
	"github.com/mr-karan/checkchef/internal/flatten"
	"github.com/mr-karan/checkchef/internal/metrics"
	"github.com/mr-karan/checkchef/internal/query"
	"github.com/mr-karan/checkchef/internal/snapshot"
	"github.com/mr-karan/checkchef/internal/threshold"
	"github.com/mr-karan/checkchef/pkg/models"
)

// Sources resolves a data-source name to a shared store client.
type Sources interface {
	Client(name string) (backends.StoreClient, backends.Source, error)
}

// BuildStatus reports consecutive failed builds of a CI job.
type BuildStatus interface {
	ConsecutiveFailures(ctx context.Context, job string) (int, error)
}

// History reads stored definitions and results.
type History interface {
	GetCheck(ctx context.Context, id string) (*models.CheckDefinition, error)
	RecentResults(ctx context.Context, checkID string, limit int) ([]models.CheckResult, error)
}

// Options encapsulates the dependencies of an Engine.
type Options struct {
	Sources Sources
	Builds  BuildStatus
	History History
	Codec   *snapshot.Codec
	Logger  *slog.Logger

	StoreTimeout     time.Duration
	IncompleteWindow time.Duration
	DefaultInterval  string
	Now              func() time.Time
}

// Engine runs the query, flatten and threshold pipeline for one check at a time. It holds
// no per-check state and is safe for concurrent use.
type Engine struct {
	sources          Sources
	builds           BuildStatus
	history          History
	codec            *snapshot.Codec
	log              *slog.Logger
	storeTimeout     time.Duration
	incompleteWindow time.Duration
	defaultInterval  string
	now              func() time.Time
}

// New constructs an engine.
func New(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	storeTimeout := opts.StoreTimeout
	if storeTimeout <= 0 {
		storeTimeout = backends.DefaultTimeout
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		sources:          opts.Sources,
		builds:           opts.Builds,
		history:          opts.History,
		codec:            opts.Codec,
		log:              logger.With("component", "engine"),
		storeTimeout:     storeTimeout,
		incompleteWindow: opts.IncompleteWindow,
		defaultInterval:  opts.DefaultInterval,
		now:              now,
	}
}

// Evaluate runs one check and returns its result. It never returns an error: invalid
// queries, store failures and timeouts all become failed results.
func (e *Engine) Evaluate(ctx context.Context, check Check) (result models.CheckResult) {
	def := check.Definition()
	result = models.CheckResult{
		ID:        uuid.NewString(),
		CheckID:   def.ID,
		StartedAt: e.now(),
	}

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("check evaluation panicked", "check_id", def.ID, "panic", r)
			result.Succeeded = false
			result.Severity = models.SeverityError
			result.Error = fmt.Sprintf("evaluation panicked: %v", r)
		}
		result.CompletedAt = e.now()
		metrics.RecordEvaluation(string(def.Kind), result.Succeeded, result.Duration())
	}()

	out := check.evaluate(ctx, e)
	result.Succeeded = out.succeeded
	result.Error = out.message
	result.RawData = out.rawData
	if !out.succeeded {
		result.Severity = out.severity
		e.log.Debug("check failed", "check_id", def.ID, "severity", out.severity, "message", out.message)
	}
	return result
}

func (c MetricsCheck) evaluate(ctx context.Context, e *Engine) outcome {
	spec := c.def.Metrics
	if e.sources == nil {
		return failed(errors.New("no metrics sources configured"))
	}

	bodies, err := e.queriesFor(*spec)
	if err != nil {
		return failed(err)
	}

	client, src, err := e.sources.Client(spec.Source)
	if err != nil {
		return failed(err)
	}
	index := spec.Index
	if index == "" {
		index = src.Index
	}

	storeCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	timer := metrics.StartStoreQuery(spec.Source)
	var responses []*backends.Response
	if len(bodies) == 1 {
		var resp *backends.Response
		resp, err = client.Search(storeCtx, index, bodies[0])
		responses = []*backends.Response{resp}
	} else {
		responses, err = client.MultiSearch(storeCtx, index, bodies)
	}
	timer.Finish(err)
	if err != nil {
		if errors.Is(storeCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("%w: query timed out after %s", backends.ErrStore, e.storeTimeout)
		}
		return failed(err)
	}

	series := e.flattenAll(responses, *spec)
	verdict := threshold.Evaluate(series, spec.Threshold)

	out := outcome{succeeded: !verdict.Failed, severity: verdict.Severity, message: verdict.Message}
	if e.codec != nil {
		raw, err := e.codec.Encode(threshold.WithThresholds(series, spec.Threshold))
		if err != nil {
			e.log.Warn("failed to encode raw data snapshot", "check_id", c.def.ID, "error", err)
		}
		out.rawData = raw
	}
	return out
}

// queriesFor returns the stored queries, or queries built from the series when none are
// stored, re-bounded to the check's time range and validated.
func (e *Engine) queriesFor(spec models.MetricsCheckSpec) ([]map[string]any, error) {
	minTime := query.MinTimeFor(spec.TimeRangeMinutes)

	stored := spec.Queries
	if len(stored) == 0 {
		for _, s := range spec.Series {
			body, err := query.Build(s, query.Options{
				MinTime:         minTime,
				DefaultInterval: e.defaultInterval,
				Templating:      spec.Templating,
			})
			if err != nil {
				return nil, fmt.Errorf("series %s: %w", s.RefID, err)
			}
			stored = append(stored, body)
		}
	}
	if len(stored) == 0 {
		return nil, fmt.Errorf("%w: check has no queries", query.ErrValidation)
	}

	out := make([]map[string]any, 0, len(stored))
	for i, q := range stored {
		body := query.Rebound(q, query.TimeField(q), minTime)
		if err := query.Validate(body); err != nil {
			return nil, fmt.Errorf("query %d: %w", i, err)
		}
		out = append(out, body)
	}
	return out, nil
}

// flattenAll flattens every response. With several queries the series of each are
// prefixed by their series reference id.
func (e *Engine) flattenAll(responses []*backends.Response, spec models.MetricsCheckSpec) []models.TimeSeries {
	now := e.now()
	opts := flatten.Options{
		Now:              now,
		TimeRange:        time.Duration(spec.TimeRangeMinutes) * time.Minute,
		IncompleteWindow: e.incompleteWindow,
	}

	var out []models.TimeSeries
	for i, resp := range responses {
		if resp == nil {
			continue
		}
		for _, s := range flatten.Flatten(resp.Aggregations, opts) {
			if s.Name == models.NoDataSeriesName {
				continue
			}
			if len(responses) > 1 && i < len(spec.Series) && spec.Series[i].RefID != "" {
				s.Name = spec.Series[i].RefID + "." + s.Name
			}
			out = append(out, s)
		}
	}
	if len(out) == 0 {
		return []models.TimeSeries{flatten.NoData(now)}
	}
	return out
}

func (c BuildCheck) evaluate(ctx context.Context, e *Engine) outcome {
	spec := c.def.Build
	if e.builds == nil {
		return failed(errors.New("no build server configured"))
	}

	reqCtx, cancel := context.WithTimeout(ctx, e.storeTimeout)
	defer cancel()

	failures, err := e.builds.ConsecutiveFailures(reqCtx, spec.Job)
	if err != nil {
		return failed(fmt.Errorf("build status of %s: %w", spec.Job, err))
	}

	severity := spec.Severity
	if !severity.Valid() {
		severity = models.SeverityError
	}
	if debounce.FromConsecutiveFailures(failures, spec.MaxAllowedFailures) == models.CheckPassing {
		return outcome{succeeded: true}
	}
	return outcome{
		severity: severity,
		message:  fmt.Sprintf("%s %s: %d consecutive failed builds, at most %d allowed", severity, spec.Job, failures, spec.MaxAllowedFailures),
	}
}

// Recompute derives a check's calculated status from its stored result history. It is
// called after every persisted result.
func (e *Engine) Recompute(ctx context.Context, checkID string) (models.CheckState, error) {
	if e.history == nil {
		return models.CheckState{}, errors.New("no result history configured")
	}
	def, err := e.history.GetCheck(ctx, checkID)
	if err != nil {
		return models.CheckState{}, err
	}

	// Build checks already count failures upstream.
	window := def.Debounce
	if def.Kind == models.CheckKindBuild {
		window = 0
	}

	results, err := e.history.RecentResults(ctx, checkID, debounce.Window(window))
	if err != nil {
		return models.CheckState{}, err
	}

	state := models.CheckState{
		CheckID: checkID,
		Active:  def.Active,
		Status:  debounce.Calculate(results, window),
	}
	if state.Status == models.CheckFailing {
		if latest, ok := debounce.LatestFailure(results, window); ok {
			state.Severity = latest.Severity
		}
	}
	return state, nil
}
