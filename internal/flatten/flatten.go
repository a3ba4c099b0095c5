// Package flatten turns a nested bucket-aggregation response into flat named time series.
package flatten

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/mr-karan/checkchef/pkg/models"
)

const (
	nestedKey  = "agg"
	bucketsKey = "buckets"

	// DefaultIncompleteWindow is how recent a bucket must be for the store to still be
	// filling it.
	DefaultIncompleteWindow = time.Minute
)

// Options control point filtering. Zero values disable the respective filter, except Now
// which defaults to the wall clock.
type Options struct {
	Now time.Time
	// TimeRange discards points older than Now - TimeRange.
	TimeRange time.Duration
	// IncompleteWindow drops a series' latest point when it is younger than this.
	IncompleteWindow time.Duration
}

type frame struct {
	node   map[string]any
	prefix string
}

// Flatten walks the response's aggregations object and returns one series per leaf path,
// sorted by name. A response that yields no points at all produces a single zero-valued
// no-data series stamped at Now, so callers always have something to evaluate.
func Flatten(aggregations map[string]any, opts Options) []models.TimeSeries {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	grouped := make(map[string][]models.SeriesPoint)
	stack := []frame{{node: aggregations}}

	for len(stack) > 0 {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for _, bucket := range bucketsOf(f.node) {
			if _, nested := bucket[nestedKey]; nested {
				stack = append(stack, frame{node: bucket, prefix: join(f.prefix, keyString(bucket["key"]))})
				continue
			}
			emit(bucket, f.prefix, grouped)
		}
	}

	series := make([]models.TimeSeries, 0, len(grouped))
	for name, points := range grouped {
		sort.SliceStable(points, func(i, j int) bool { return points[i].Timestamp < points[j].Timestamp })
		points = trim(points, now, opts)
		if len(points) == 0 {
			continue
		}
		series = append(series, models.TimeSeries{Name: name, Points: points})
	}
	sort.Slice(series, func(i, j int) bool { return series[i].Name < series[j].Name })

	if len(series) == 0 {
		return []models.TimeSeries{NoData(now)}
	}
	return series
}

// NoData is the synthetic series standing in for an empty response.
func NoData(now time.Time) models.TimeSeries {
	return models.TimeSeries{
		Name:   models.NoDataSeriesName,
		Points: []models.SeriesPoint{{Timestamp: now.Unix(), Value: 0}},
	}
}

func bucketsOf(node map[string]any) []map[string]any {
	agg, ok := node[nestedKey].(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := agg[bucketsKey].([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, item := range raw {
		if b, ok := item.(map[string]any); ok {
			out = append(out, b)
		}
	}
	return out
}

// emit records every metric value of a date_histogram bucket.
func emit(bucket map[string]any, prefix string, grouped map[string][]models.SeriesPoint) {
	keyMillis, ok := number(bucket["key"])
	if !ok {
		return
	}
	ts := int64(keyMillis / 1000)

	for field, raw := range bucket {
		if isMeta(field) {
			continue
		}
		metric, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		name := join(prefix, field)

		if v, present := metric["value"]; present {
			if value, ok := number(v); ok {
				grouped[name] = append(grouped[name], models.SeriesPoint{Timestamp: ts, Value: value})
			}
			continue
		}
		values, ok := metric["values"].(map[string]any)
		if !ok {
			continue
		}
		for sub, v := range values {
			if isMeta(sub) {
				continue
			}
			if value, ok := number(v); ok {
				subName := join(name, sub)
				grouped[subName] = append(grouped[subName], models.SeriesPoint{Timestamp: ts, Value: value})
			}
		}
	}
}

func trim(points []models.SeriesPoint, now time.Time, opts Options) []models.SeriesPoint {
	if opts.IncompleteWindow > 0 && len(points) > 0 {
		latest := points[len(points)-1]
		if now.Unix()-latest.Timestamp < int64(opts.IncompleteWindow/time.Second) {
			points = points[:len(points)-1]
		}
	}
	if opts.TimeRange > 0 {
		cutoff := now.Add(-opts.TimeRange).Unix()
		kept := points[:0]
		for _, p := range points {
			if p.Timestamp >= cutoff {
				kept = append(kept, p)
			}
		}
		points = kept
	}
	return points
}

func isMeta(field string) bool {
	switch field {
	case "key", "doc_count", nestedKey:
		return true
	}
	return strings.HasPrefix(field, "_") || strings.HasSuffix(field, "_as_string")
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	if name == "" {
		return prefix
	}
	return prefix + "." + name
}

func keyString(key any) string {
	switch k := key.(type) {
	case nil:
		return ""
	case string:
		return k
	case float64:
		return strconv.FormatFloat(k, 'f', -1, 64)
	case int:
		return strconv.Itoa(k)
	case int64:
		return strconv.FormatInt(k, 10)
	case bool:
		return strconv.FormatBool(k)
	default:
		return ""
	}
}

// number accepts decoded JSON numbers; null and NaN are reported as absent.
func number(v any) (float64, bool) {
	var f float64
	switch n := v.(type) {
	case float64:
		f = n
	case int:
		f = float64(n)
	case int64:
		f = float64(n)
	case string:
		parsed, err := strconv.ParseFloat(n, 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}
