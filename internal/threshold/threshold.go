// Package threshold judges flattened series against a check's warning and high-alert
// thresholds using a consecutive-point run-length rule.
package threshold

import (
	"fmt"
	"math"

	"github.com/mr-karan/checkchef/pkg/models"
)

const (
	// WarningSeriesName and HighAlertSeriesName name the constant threshold lines added to
	// the raw data snapshot.
	WarningSeriesName   = "alert.warning_threshold"
	HighAlertSeriesName = "alert.high_alert_threshold"

	equalityEpsilon = 1e-9
)

// Outcome is the verdict of one evaluation. The zero value is a pass.
type Outcome struct {
	Failed    bool
	Severity  models.Severity
	Series    string
	Value     float64
	Threshold float64
	// Points is the length of the failing run that triggered the outcome.
	Points  int
	Message string
}

// Holds reports whether value satisfies the comparator against threshold. A point fails
// when it does not hold.
func Holds(cmp models.Comparator, value, threshold float64) bool {
	switch cmp {
	case models.ComparatorLessThan:
		return value < threshold
	case models.ComparatorLessThanOrEqual:
		return value <= threshold
	case models.ComparatorGreaterThan:
		return value > threshold
	case models.ComparatorGreaterThanOrEqual:
		return value >= threshold
	case models.ComparatorEqual:
		return math.Abs(value-threshold) < equalityEpsilon
	default:
		return false
	}
}

// HighAlertSeverity returns the configured high-alert severity, defaulting to error.
func HighAlertSeverity(spec models.ThresholdSpec) models.Severity {
	if spec.HighAlertSeverity.Valid() {
		return spec.HighAlertSeverity
	}
	return models.SeverityError
}

// Evaluate scans series for a breach. The high-alert threshold is checked across every
// series first; the warning threshold is only consulted when no high-alert run is found.
func Evaluate(series []models.TimeSeries, spec models.ThresholdSpec) Outcome {
	required := spec.ConsecutivePoints
	if required < 1 {
		required = 1
	}

	if spec.HighAlert != nil {
		if out, ok := scan(series, spec.Comparator, *spec.HighAlert, required, HighAlertSeverity(spec)); ok {
			return out
		}
	}
	if spec.Warning != nil {
		if out, ok := scan(series, spec.Comparator, *spec.Warning, required, models.SeverityWarning); ok {
			return out
		}
	}
	return Outcome{}
}

// scan returns the first series, in order, whose failing run reaches required points.
func scan(series []models.TimeSeries, cmp models.Comparator, threshold float64, required int, sev models.Severity) (Outcome, bool) {
	for _, s := range series {
		run := 0
		for _, p := range s.Points {
			if Holds(cmp, p.Value, threshold) {
				run = 0
				continue
			}
			run++
			if run == required {
				out := Outcome{
					Failed:    true,
					Severity:  sev,
					Series:    s.Name,
					Value:     p.Value,
					Threshold: threshold,
					Points:    run,
				}
				out.Message = message(out, cmp)
				return out, true
			}
		}
	}
	return Outcome{}, false
}

func message(o Outcome, cmp models.Comparator) string {
	if o.Points > 1 {
		return fmt.Sprintf("%s %s: %d consecutive points not %s %.1f", o.Severity, o.Series, o.Points, cmp, o.Threshold)
	}
	return fmt.Sprintf("%s %s: %.1f not %s %.1f", o.Severity, o.Series, o.Value, cmp, o.Threshold)
}

// WithThresholds returns a copy of series plus one constant series per configured
// threshold, spanning the data's time range. The input is left untouched.
func WithThresholds(series []models.TimeSeries, spec models.ThresholdSpec) []models.TimeSeries {
	out := make([]models.TimeSeries, 0, len(series)+2)
	var (
		first, last int64
		seen        bool
	)
	for _, s := range series {
		out = append(out, s.Clone())
		for _, p := range s.Points {
			if !seen || p.Timestamp < first {
				first = p.Timestamp
			}
			if !seen || p.Timestamp > last {
				last = p.Timestamp
			}
			seen = true
		}
	}
	if !seen {
		return out
	}

	line := func(name string, v float64) models.TimeSeries {
		points := []models.SeriesPoint{{Timestamp: first, Value: v}}
		if last != first {
			points = append(points, models.SeriesPoint{Timestamp: last, Value: v})
		}
		return models.TimeSeries{Name: name, Points: points}
	}
	if spec.Warning != nil {
		out = append(out, line(WarningSeriesName, *spec.Warning))
	}
	if spec.HighAlert != nil {
		out = append(out, line(HighAlertSeriesName, *spec.HighAlert))
	}
	return out
}
