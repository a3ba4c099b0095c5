package models

import "time"

// Comparator is the relation a healthy value must satisfy against its threshold.
type Comparator string

const (
	ComparatorLessThan           Comparator = "<"
	ComparatorLessThanOrEqual    Comparator = "<="
	ComparatorGreaterThan        Comparator = ">"
	ComparatorGreaterThanOrEqual Comparator = ">="
	ComparatorEqual              Comparator = "=="
)

// ThresholdSpec configures how flattened series are judged.
type ThresholdSpec struct {
	Comparator        Comparator `json:"comparator" yaml:"comparator" validate:"required,oneof=< <= > >= =="`
	Warning           *float64   `json:"warning_value,omitempty" yaml:"warning_value" validate:"required_without=HighAlert"`
	HighAlert         *float64   `json:"high_alert_value,omitempty" yaml:"high_alert_value" validate:"required_without=Warning"`
	HighAlertSeverity Severity   `json:"high_alert_severity,omitempty" yaml:"high_alert_severity"`
	ConsecutivePoints int        `json:"consecutive_points" yaml:"consecutive_points" validate:"gte=1"`
}

// CheckKind tags the variant carried by a CheckDefinition.
type CheckKind string

const (
	CheckKindMetrics CheckKind = "metrics"
	CheckKindBuild   CheckKind = "build"
)

// BucketAgg is one bucket aggregation of a panel series definition.
type BucketAgg struct {
	ID       string         `json:"id" yaml:"id"`
	Type     string         `json:"type" yaml:"type"`
	Field    string         `json:"field,omitempty" yaml:"field"`
	Settings map[string]any `json:"settings,omitempty" yaml:"settings"`
}

// MetricAgg is one metric aggregation of a panel series definition.
type MetricAgg struct {
	ID       string         `json:"id" yaml:"id"`
	Type     string         `json:"type" yaml:"type"`
	Field    string         `json:"field,omitempty" yaml:"field"`
	Settings map[string]any `json:"settings,omitempty" yaml:"settings"`
}

// SeriesDefinition is the declarative description of one panel series (a "target").
type SeriesDefinition struct {
	RefID      string      `json:"refId" yaml:"ref_id"`
	Query      string      `json:"query" yaml:"query"`
	TimeField  string      `json:"timeField" yaml:"time_field"`
	BucketAggs []BucketAgg `json:"bucketAggs" yaml:"bucket_aggs"`
	Metrics    []MetricAgg `json:"metrics" yaml:"metrics"`
	Hide       bool        `json:"hide,omitempty" yaml:"hide"`
}

// UpstreamLink ties a metrics check to the dashboard panel it was created from.
type UpstreamLink struct {
	DashboardUID string   `json:"dashboard_uid" yaml:"dashboard_uid" validate:"required"`
	PanelID      int      `json:"panel_id" yaml:"panel_id" validate:"gt=0"`
	SeriesIDs    []string `json:"series_ids" yaml:"series_ids" validate:"min=1"`
}

// MetricsCheckSpec is the variant data of an aggregation-query check.
type MetricsCheckSpec struct {
	Source           string             `json:"source" yaml:"source" validate:"required"`
	Index            string             `json:"index,omitempty" yaml:"index"`
	TimeRangeMinutes int                `json:"time_range_minutes" yaml:"time_range_minutes" validate:"gt=0"`
	Series           []SeriesDefinition `json:"series,omitempty" yaml:"series"`
	Templating       map[string]any     `json:"templating,omitempty" yaml:"templating"`
	Queries          []map[string]any   `json:"queries,omitempty" yaml:"queries"`
	Threshold        ThresholdSpec      `json:"threshold" yaml:"threshold"`
	Upstream         *UpstreamLink      `json:"upstream,omitempty" yaml:"upstream"`
}

// BuildCheckSpec is the variant data of a build-status check.
type BuildCheckSpec struct {
	Job                string   `json:"job" yaml:"job" validate:"required"`
	MaxAllowedFailures int      `json:"max_allowed_failures" yaml:"max_allowed_failures" validate:"gte=0"`
	Severity           Severity `json:"severity,omitempty" yaml:"severity"`
}

// CheckDefinition is the stored form of a check. Exactly one variant is set, matching Kind.
type CheckDefinition struct {
	ID               string            `json:"id" yaml:"id" validate:"required"`
	Name             string            `json:"name" yaml:"name" validate:"required"`
	Kind             CheckKind         `json:"kind" yaml:"kind" validate:"required,oneof=metrics build"`
	Owner            string            `json:"owner,omitempty" yaml:"owner" validate:"omitempty,email"`
	Debounce         int               `json:"debounce" yaml:"debounce" validate:"gte=0"`
	FrequencySeconds int               `json:"frequency_seconds" yaml:"frequency_seconds" validate:"gte=0"`
	Active           bool              `json:"active" yaml:"-"`
	Metrics          *MetricsCheckSpec `json:"metrics,omitempty" yaml:"metrics" validate:"required_if=Kind metrics"`
	Build            *BuildCheckSpec   `json:"build,omitempty" yaml:"build" validate:"required_if=Kind build"`
	UpdatedAt        time.Time         `json:"updated_at" yaml:"-"`
}

// CheckResult is the immutable outcome of one check execution.
type CheckResult struct {
	ID          string    `json:"id"`
	CheckID     string    `json:"check_id"`
	Succeeded   bool      `json:"succeeded"`
	Error       string    `json:"error,omitempty"`
	Severity    Severity  `json:"severity,omitempty"`
	RawData     []byte    `json:"-"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
}

// Duration returns how long the execution took.
func (r CheckResult) Duration() time.Duration {
	return r.CompletedAt.Sub(r.StartedAt)
}
