package query

import (
	"strings"

	"github.com/mr-karan/checkchef/internal/template"
	"github.com/mr-karan/checkchef/pkg/models"
)

// Options carries the evaluation-time inputs of a build.
type Options struct {
	// MinTime is the lower time bound, e.g. "now-60m".
	MinTime string
	// DefaultInterval replaces an "auto" date_histogram interval.
	DefaultInterval string
	// Templating maps dashboard variable names to their current raw values.
	Templating map[string]any
}

// unsupportedBuckets are bucket types dashboards offer but the flattener cannot name.
var unsupportedBuckets = map[string]struct{}{
	"filter":       {},
	"filters":      {},
	"geohash_grid": {},
}

// Build turns a series definition into an aggregation query. The bucket list must end in
// exactly one date_histogram; anything else fails with ErrValidation.
func Build(def models.SeriesDefinition, opts Options) (Body, error) {
	vars := template.Resolve(opts.Templating)

	minTime := opts.MinTime
	if minTime == "" {
		minTime = DefaultMinTime
	}
	interval := opts.DefaultInterval
	if interval == "" {
		interval = DefaultInterval
	}

	freeText := strings.TrimSpace(template.Apply(def.Query, vars))
	if freeText == "" {
		freeText = "*"
	}
	timeField := strings.TrimSpace(template.Apply(def.TimeField, vars))
	if timeField == "" {
		return nil, validationErr("time field is required")
	}

	if err := checkBucketOrder(def.BucketAggs); err != nil {
		return nil, err
	}

	metricTypes := make(map[string]string, len(def.Metrics))
	for _, m := range def.Metrics {
		metricTypes[m.ID] = m.Type
	}
	metrics, err := buildMetrics(def.Metrics, metricTypes, timeField, vars)
	if err != nil {
		return nil, err
	}

	// Nest innermost first: the date_histogram carries the metrics, every bucket above it
	// wraps the level below under "agg".
	last := def.BucketAggs[len(def.BucketAggs)-1]
	inner := map[string]any{
		BucketDateHistogram: dateHistogram(last, timeField, minTime, interval, vars),
		"aggs":              metrics,
	}
	for i := len(def.BucketAggs) - 2; i >= 0; i-- {
		terms, err := termsAgg(def.BucketAggs[i], metricTypes, vars)
		if err != nil {
			return nil, err
		}
		inner = map[string]any{
			BucketTerms: terms,
			"aggs":      map[string]any{NestedAggName: inner},
		}
	}

	return Body{
		"size": 0,
		"query": map[string]any{
			"bool": map[string]any{
				"must": []any{
					map[string]any{
						"query_string": map[string]any{
							"query":            freeText,
							"analyze_wildcard": true,
						},
					},
					map[string]any{
						"range": map[string]any{
							timeField: map[string]any{"gte": minTime},
						},
					},
				},
			},
		},
		"aggs": map[string]any{NestedAggName: inner},
	}, nil
}

// checkBucketOrder enforces the terminal date_histogram contract before anything is built,
// so the first offending aggregation is the one reported.
func checkBucketOrder(aggs []models.BucketAgg) error {
	if len(aggs) == 0 {
		return validationErr("at least one bucket aggregation is required and the last must be %s", BucketDateHistogram)
	}
	last := len(aggs) - 1
	for i, agg := range aggs {
		if _, bad := unsupportedBuckets[agg.Type]; bad {
			return validationErr("bucket aggregation %q is not supported", agg.Type)
		}
		if _, ok := supportedBuckets[agg.Type]; !ok {
			return validationErr("unknown bucket aggregation %q", agg.Type)
		}
		if agg.Type == BucketDateHistogram && i != last {
			return validationErr("%s must be the last bucket aggregation, found %q after it", BucketDateHistogram, aggs[i+1].Type)
		}
	}
	if aggs[last].Type != BucketDateHistogram {
		return validationErr("last bucket aggregation must be %s, got %q", BucketDateHistogram, aggs[last].Type)
	}
	return nil
}

func termsAgg(agg models.BucketAgg, metricTypes map[string]string, vars map[string]string) (map[string]any, error) {
	field := strings.TrimSpace(template.Apply(agg.Field, vars))
	if field == "" {
		return nil, validationErr("terms aggregation %q requires a field", agg.ID)
	}
	out := map[string]any{"field": field}
	settings, _ := template.ApplyAny(agg.Settings, vars).(map[string]any)

	// A size of zero means "no limit", which is expressed by omitting the setting.
	if size, ok := toInt(settings["size"]); ok && size > 0 {
		out["size"] = size
	}
	if minDocs, ok := toInt(settings["min_doc_count"]); ok {
		out["min_doc_count"] = minDocs
	}

	order := toString(settings["order"])
	orderBy := toString(settings["orderBy"])
	if order != "" || orderBy != "" {
		if order == "" {
			order = "desc"
		}
		if orderBy == "" {
			orderBy = "_term"
		}
		if metricType, ok := metricTypes[orderBy]; ok {
			orderBy = metricName(metricType)
			if metricType == MetricCount {
				orderBy = "_count"
			}
		}
		out["order"] = map[string]any{orderBy: order}
	}
	return out, nil
}

func dateHistogram(agg models.BucketAgg, timeField, minTime, defaultInterval string, vars map[string]string) map[string]any {
	field := strings.TrimSpace(template.Apply(agg.Field, vars))
	if field == "" {
		field = timeField
	}
	settings, _ := template.ApplyAny(agg.Settings, vars).(map[string]any)

	interval := strings.TrimSpace(toString(settings["interval"]))
	if interval == "" || interval == "auto" {
		interval = defaultInterval
	}
	minDocs, ok := toInt(settings["min_doc_count"])
	if !ok {
		minDocs = 0
	}
	return map[string]any{
		"field":         field,
		"interval":      interval,
		"min_doc_count": minDocs,
		"format":        "epoch_millis",
		"extended_bounds": map[string]any{
			"min": minTime,
			"max": "now",
		},
	}
}

// metricName is the aggregation name a metric is emitted under. It always equals the
// emitted type.
func metricName(metricType string) string {
	if metricType == MetricCount {
		return MetricValueCount
	}
	return metricType
}

func buildMetrics(metrics []models.MetricAgg, metricTypes map[string]string, timeField string, vars map[string]string) (map[string]any, error) {
	if len(metrics) == 0 {
		return nil, validationErr("at least one metric aggregation is required")
	}
	out := make(map[string]any, len(metrics))
	for _, m := range metrics {
		name := metricName(m.Type)
		if m.Type != MetricCount && !IsSupportedMetric(m.Type) {
			return nil, validationErr("metric aggregation %q is not supported", m.Type)
		}
		if _, dup := out[name]; dup {
			return nil, validationErr("duplicate metric aggregation %q", name)
		}

		field := strings.TrimSpace(template.Apply(m.Field, vars))
		settings, _ := template.ApplyAny(m.Settings, vars).(map[string]any)
		body := map[string]any{}

		switch {
		case m.Type == MetricCount:
			// The time field is present on every document, so counting it counts documents.
			body["field"] = timeField
		case isPipeline(m.Type):
			if field == "" {
				return nil, validationErr("%s requires the id of the metric it derives from", m.Type)
			}
			path := field
			if refType, ok := metricTypes[field]; ok {
				path = metricName(refType)
				if refType == MetricCount {
					path = "_count"
				}
			}
			body["buckets_path"] = path
			for k, v := range settings {
				if _, set := body[k]; !set {
					body[k] = v
				}
			}
		default:
			if field == "" {
				return nil, validationErr("metric aggregation %q requires a field", m.Type)
			}
			body["field"] = field
			if m.Type == "percentiles" {
				if percents, ok := parsePercents(settings["percents"]); ok {
					body["percents"] = percents
				}
			}
		}
		out[name] = map[string]any{name: body}
	}
	return out, nil
}

func isPipeline(metricType string) bool {
	_, ok := pipelineMetrics[metricType]
	return ok
}

func parsePercents(v any) ([]any, bool) {
	var raw []any
	switch t := v.(type) {
	case []any:
		raw = t
	case []string:
		for _, s := range t {
			raw = append(raw, s)
		}
	case []float64:
		for _, f := range t {
			raw = append(raw, f)
		}
	default:
		return nil, false
	}
	out := make([]any, 0, len(raw))
	for _, item := range raw {
		if f, ok := toFloat(item); ok {
			out = append(out, f)
		}
	}
	return out, len(out) > 0
}
