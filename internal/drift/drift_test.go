package drift

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-karan/checkchef/internal/query"
	"github.com/mr-karan/checkchef/pkg/models"
)

type knownSources map[string]bool

func (k knownSources) HasSource(name string) bool { return k[name] }

func errorsTarget(refID, q string) models.SeriesDefinition {
	return models.SeriesDefinition{
		RefID:      refID,
		Query:      q,
		TimeField:  "@timestamp",
		BucketAggs: []models.BucketAgg{{ID: "2", Type: "date_histogram", Settings: map[string]any{"interval": "auto"}}},
		Metrics:    []models.MetricAgg{{ID: "1", Type: "count"}},
	}
}

// linkedCheck returns a check whose stored query was built from target with a different
// time range than the check's own, as happens when the panel was created on a wider view.
func linkedCheck(t *testing.T, target models.SeriesDefinition) models.CheckDefinition {
	t.Helper()
	body, err := query.Build(target, query.Options{MinTime: "now-6h"})
	require.NoError(t, err)
	stored, err := query.Normalize(body)
	require.NoError(t, err)

	return models.CheckDefinition{
		ID:     "api-errors",
		Name:   "API errors",
		Kind:   models.CheckKindMetrics,
		Owner:  "owner@example.com",
		Active: true,
		Metrics: &models.MetricsCheckSpec{
			Source:           "logs-prod",
			TimeRangeMinutes: 30,
			Series:           []models.SeriesDefinition{target},
			Queries:          []map[string]any{stored},
			Upstream:         &models.UpstreamLink{DashboardUID: "api", PanelID: 1, SeriesIDs: []string{"A"}},
		},
	}
}

func panelWith(datasource string, targets ...models.SeriesDefinition) *models.PanelDefinition {
	return &models.PanelDefinition{DashboardUID: "api", PanelID: 1, Datasource: datasource, Targets: targets}
}

func TestDetectNoDrift(t *testing.T) {
	target := errorsTarget("A", "status:500")
	check := linkedCheck(t, target)

	report, err := Detect(check, panelWith("logs-prod", target), knownSources{"logs-prod": true}, Options{})
	require.NoError(t, err)
	assert.Equal(t, ActionNone, report.Action)
	assert.Empty(t, report.Changes, "a different time range alone is not drift")
	assert.False(t, report.Drifted())
}

func TestDetectQueryChanged(t *testing.T) {
	check := linkedCheck(t, errorsTarget("A", "status:500"))
	upstream := errorsTarget("A", "status:503")

	report, err := Detect(check, panelWith("logs-prod", upstream), knownSources{"logs-prod": true}, Options{})
	require.NoError(t, err)
	assert.Equal(t, ActionApply, report.Action)
	assert.True(t, report.Has(KindQueryChanged))
	require.Len(t, report.Changes, 1)
	assert.Equal(t, "queries[0].query.bool.must[0].query_string.query", report.Changes[0].Field)
	assert.Equal(t, "status:500", report.Changes[0].Old)
	assert.Equal(t, "status:503", report.Changes[0].New)
	require.Len(t, report.NewQueries, 1)

	report.Apply(&check)
	assert.Equal(t, report.NewQueries, check.Metrics.Queries)
	assert.Equal(t, "status:503", check.Metrics.Series[0].Query)
	assert.Contains(t, report.Text(), `"status:500" -> "status:503"`)
}

func TestDetectQueryChangedListsVariables(t *testing.T) {
	check := linkedCheck(t, errorsTarget("A", "status:500"))
	upstream := errorsTarget("A", "status:500 AND env:$env AND host:$host AND region:$env")

	report, err := Detect(check, panelWith("logs-prod", upstream), knownSources{"logs-prod": true}, Options{})
	require.NoError(t, err)
	require.True(t, report.Has(KindQueryChanged))
	assert.Equal(t, []string{"env", "host"}, report.Variables)
	assert.Contains(t, report.Text(), "The new queries use dashboard variables: $env, $host")
}

func TestDetectSource(t *testing.T) {
	target := errorsTarget("A", "status:500")

	t.Run("known source is applied", func(t *testing.T) {
		check := linkedCheck(t, target)
		report, err := Detect(check, panelWith("logs-eu", target), knownSources{"logs-prod": true, "logs-eu": true}, Options{})
		require.NoError(t, err)
		assert.Equal(t, ActionApply, report.Action)
		assert.True(t, report.Has(KindSourceChanged))
		assert.Equal(t, "logs-eu", report.NewSource)

		report.Apply(&check)
		assert.Equal(t, "logs-eu", check.Metrics.Source)
	})

	t.Run("unknown source deactivates", func(t *testing.T) {
		check := linkedCheck(t, target)
		report, err := Detect(check, panelWith("renamed", target), knownSources{"logs-prod": true}, Options{})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrUnresolvable))
		assert.Equal(t, ActionDeactivate, report.Action)
	})
}

func TestDetectSeriesChanged(t *testing.T) {
	target := errorsTarget("A", "status:500")
	check := linkedCheck(t, target)

	hidden := target
	hidden.Hide = true
	panel := panelWith("logs-prod", hidden, errorsTarget("B", "status:404"))

	report, err := Detect(check, panel, knownSources{"logs-prod": true}, Options{})
	require.NoError(t, err)
	assert.Equal(t, ActionNeedsHuman, report.Action)
	assert.True(t, report.Has(KindSeriesChanged))
	assert.Nil(t, report.NewQueries)

	before := check.Metrics.Queries
	report.Apply(&check)
	assert.Equal(t, before, check.Metrics.Queries, "series changes are never applied")
}

func TestDetectMissingPanel(t *testing.T) {
	check := linkedCheck(t, errorsTarget("A", "status:500"))
	report, err := Detect(check, nil, knownSources{}, Options{})
	assert.True(t, errors.Is(err, ErrUnresolvable))
	assert.Equal(t, ActionDeactivate, report.Action)
	assert.True(t, strings.Contains(report.Text(), "deactivated"))
}

func TestDetectUnbuildableUpstream(t *testing.T) {
	check := linkedCheck(t, errorsTarget("A", "status:500"))
	broken := errorsTarget("A", "status:500")
	broken.BucketAggs = append(broken.BucketAggs, models.BucketAgg{ID: "3", Type: "terms", Field: "host"})

	report, err := Detect(check, panelWith("logs-prod", broken), knownSources{"logs-prod": true}, Options{})
	require.Error(t, err)
	assert.True(t, errors.Is(err, query.ErrValidation))
	assert.Equal(t, ActionNeedsHuman, report.Action)
}

func TestShouldRefetch(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name     string
		modified time.Time
		window   time.Duration
		want     bool
	}{
		{"recent", now.Add(-5 * time.Minute), time.Hour, true},
		{"stale", now.Add(-2 * time.Hour), time.Hour, false},
		{"unknown modification time", time.Time{}, time.Hour, true},
		{"no window", now.Add(-48 * time.Hour), 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldRefetch(tt.modified, now, tt.window))
		})
	}
}

func TestDiff(t *testing.T) {
	old := map[string]any{"a": map[string]any{"b": 1.0, "c": []any{"x", "y"}}, "gone": true}
	updated := map[string]any{"a": map[string]any{"b": 2.0, "c": []any{"x"}}}

	changes := Diff("", old, updated)
	require.Len(t, changes, 3)
	assert.Equal(t, FieldChange{Field: "a.b", Old: 1.0, New: 2.0}, changes[0])
	assert.Equal(t, FieldChange{Field: "a.c[1]", Old: "y", New: nil}, changes[1])
	assert.Equal(t, FieldChange{Field: "gone", Old: true, New: nil}, changes[2])
}
