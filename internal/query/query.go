// Package query turns panel series definitions into aggregation queries for the metrics
// store and validates stored queries against the shape the flattener relies on.
package query

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ErrValidation marks a malformed or unsupported query definition. Such queries are never
// executed; the error is surfaced to whoever authored the definition.
var ErrValidation = errors.New("invalid query definition")

// Body is a JSON-encodable aggregation query.
type Body map[string]any

const (
	// NestedAggName is the name every bucket aggregation is nested under.
	NestedAggName = "agg"

	BucketTerms         = "terms"
	BucketDateHistogram = "date_histogram"

	// MetricCount is the synthetic document count, emitted as value_count on the time field.
	MetricCount      = "count"
	MetricValueCount = "value_count"

	// DefaultMinTime is used when the caller does not supply a lower time bound.
	DefaultMinTime = "now-60m"
	// DefaultInterval replaces an "auto" histogram interval when no default is supplied.
	DefaultInterval = "1m"
)

var supportedMetrics = map[string]struct{}{
	"min":         {},
	"max":         {},
	"avg":         {},
	"sum":         {},
	"cardinality": {},
	"moving_avg":  {},
	"derivative":  {},
	"percentiles": {},
	"value_count": {},
}

var pipelineMetrics = map[string]struct{}{
	"moving_avg": {},
	"derivative": {},
}

var supportedBuckets = map[string]struct{}{
	BucketTerms:         {},
	BucketDateHistogram: {},
}

// IsSupportedMetric reports whether t may appear as a metric aggregation type.
func IsSupportedMetric(t string) bool {
	_, ok := supportedMetrics[t]
	return ok
}

// MinTimeFor renders a relative lower bound covering the given number of minutes.
func MinTimeFor(minutes int) string {
	if minutes <= 0 {
		return DefaultMinTime
	}
	return fmt.Sprintf("now-%dm", minutes)
}

func validationErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Normalize round-trips the body through JSON so bodies built in memory compare equal to
// bodies decoded from storage (numbers become float64, slices become []any).
func Normalize(b Body) (Body, error) {
	raw, err := json.Marshal(b)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal query: %w", err)
	}
	var out Body
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal query: %w", err)
	}
	return out, nil
}

// Clone returns a deep copy of b.
func Clone(b Body) Body {
	if b == nil {
		return nil
	}
	return Body(cloneValue(map[string]any(b)).(map[string]any))
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case Body:
		return cloneValue(map[string]any(t))
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	default:
		return v
	}
}

// asMap accepts both Body and plain maps, which appear interchangeably after decoding.
func asMap(v any) (map[string]any, bool) {
	switch t := v.(type) {
	case map[string]any:
		return t, true
	case Body:
		return map[string]any(t), true
	default:
		return nil, false
	}
}

func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int64:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}

func toFloat(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}

func toString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	default:
		return fmt.Sprintf("%v", t)
	}
}
