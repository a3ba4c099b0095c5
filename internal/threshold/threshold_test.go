package threshold

import (
	"reflect"
	"testing"

	"github.com/mr-karan/checkchef/pkg/models"
)

func f(v float64) *float64 { return &v }

func series(name string, values ...float64) models.TimeSeries {
	s := models.TimeSeries{Name: name}
	for i, v := range values {
		s.Points = append(s.Points, models.SeriesPoint{Timestamp: int64(1000 + i*60), Value: v})
	}
	return s
}

func TestHolds(t *testing.T) {
	tests := []struct {
		cmp   models.Comparator
		value float64
		thr   float64
		want  bool
	}{
		{models.ComparatorLessThan, 49, 50, true},
		{models.ComparatorLessThan, 50, 50, false},
		{models.ComparatorLessThanOrEqual, 50, 50, true},
		{models.ComparatorGreaterThan, 50, 50, false},
		{models.ComparatorGreaterThanOrEqual, 50, 50, true},
		{models.ComparatorEqual, 0.1 + 0.2, 0.3, true},
		{models.ComparatorEqual, 1, 2, false},
		{"!=", 1, 2, false},
	}
	for _, tt := range tests {
		if got := Holds(tt.cmp, tt.value, tt.thr); got != tt.want {
			t.Errorf("Holds(%v %s %v) = %v, want %v", tt.value, tt.cmp, tt.thr, got, tt.want)
		}
	}
}

func TestEvaluateScenario(t *testing.T) {
	s := models.TimeSeries{Name: "seriesname", Points: []models.SeriesPoint{
		{Timestamp: -60, Value: 9.2},
		{Timestamp: -1, Value: 9.7},
	}}
	spec := models.ThresholdSpec{Comparator: "<=", Warning: f(9.0), ConsecutivePoints: 1}

	got := Evaluate([]models.TimeSeries{s}, spec)
	if !got.Failed || got.Severity != models.SeverityWarning {
		t.Fatalf("Evaluate() = %+v, want warning failure", got)
	}
	// The comparator is the passing condition, so the message negates it. The bare
	// "WARNING seriesname: 9.2 <= 9.0" form is not produced.
	if got.Message != "WARNING seriesname: 9.2 not <= 9.0" {
		t.Errorf("Message = %q", got.Message)
	}
	if got.Value != 9.2 {
		t.Errorf("failure reported at %v, want the first point scanned", got.Value)
	}
}

func TestEvaluateConsecutiveBoundary(t *testing.T) {
	spec := models.ThresholdSpec{Comparator: "<", Warning: f(50), ConsecutivePoints: 3}

	// N-1 failing points then a pass
	if got := Evaluate([]models.TimeSeries{series("a", 60, 70, 10, 60, 70)}, spec); got.Failed {
		t.Errorf("N-1 failures should pass, got %+v", got)
	}

	// exactly N failing points, reported at the N-th
	got := Evaluate([]models.TimeSeries{series("a", 10, 60, 70, 80, 90)}, spec)
	if !got.Failed {
		t.Fatal("N consecutive failures should fail")
	}
	if got.Value != 80 || got.Points != 3 {
		t.Errorf("reported at value %v after %d points, want 80 after 3", got.Value, got.Points)
	}
	if got.Message != "WARNING a: 3 consecutive points not < 50.0" {
		t.Errorf("Message = %q", got.Message)
	}

	// a failing value equal to the threshold counts
	got = Evaluate([]models.TimeSeries{series("b", 50, 50, 50)}, spec)
	if !got.Failed {
		t.Error("values equal to a strict threshold must fail")
	}
}

func TestEvaluatePrecedence(t *testing.T) {
	spec := models.ThresholdSpec{
		Comparator:        "<",
		Warning:           f(50),
		HighAlert:         f(90),
		HighAlertSeverity: models.SeverityCritical,
		ConsecutivePoints: 1,
	}

	// the first series only breaches warning; the second breaches both
	got := Evaluate([]models.TimeSeries{
		series("only-warning", 60),
		series("both", 95),
	}, spec)
	if got.Severity != models.SeverityCritical || got.Series != "both" {
		t.Errorf("Evaluate() = %+v, want critical on series both", got)
	}
	if got.Message != "CRITICAL both: 95.0 not < 90.0" {
		t.Errorf("Message = %q", got.Message)
	}

	got = Evaluate([]models.TimeSeries{series("only-warning", 60)}, spec)
	if got.Severity != models.SeverityWarning || got.Series != "only-warning" {
		t.Errorf("Evaluate() = %+v, want warning", got)
	}

	if got := Evaluate([]models.TimeSeries{series("ok", 10, 20)}, spec); got.Failed {
		t.Errorf("Evaluate() = %+v, want pass", got)
	}
}

func TestEvaluateDefaultHighAlertSeverity(t *testing.T) {
	spec := models.ThresholdSpec{Comparator: ">", HighAlert: f(0), ConsecutivePoints: 1}
	got := Evaluate([]models.TimeSeries{series(models.NoDataSeriesName, 0)}, spec)
	if got.Severity != models.SeverityError {
		t.Errorf("Severity = %v, want ERROR", got.Severity)
	}
}

func TestWithThresholds(t *testing.T) {
	in := []models.TimeSeries{series("a", 1, 2, 3)}
	spec := models.ThresholdSpec{Comparator: "<", Warning: f(5), HighAlert: f(9)}

	got := WithThresholds(in, spec)
	if len(got) != 3 {
		t.Fatalf("got %d series, want 3", len(got))
	}
	wantWarn := models.TimeSeries{Name: WarningSeriesName, Points: []models.SeriesPoint{
		{Timestamp: 1000, Value: 5}, {Timestamp: 1120, Value: 5},
	}}
	if !reflect.DeepEqual(got[1], wantWarn) {
		t.Errorf("warning line = %+v, want %+v", got[1], wantWarn)
	}
	if got[2].Name != HighAlertSeriesName {
		t.Errorf("high alert line = %+v", got[2])
	}

	got[0].Points[0].Value = 100
	if in[0].Points[0].Value != 1 {
		t.Error("WithThresholds must not share points with its input")
	}
}
