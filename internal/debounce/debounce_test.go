package debounce

import (
	"testing"

	"github.com/mr-karan/checkchef/pkg/models"
)

// history builds a newest-first result list; true means the execution succeeded.
func history(outcomes ...bool) []models.CheckResult {
	out := make([]models.CheckResult, len(outcomes))
	for i, ok := range outcomes {
		out[i] = models.CheckResult{Succeeded: ok}
	}
	return out
}

func TestCalculate(t *testing.T) {
	const pass, fail = true, false

	tests := []struct {
		name     string
		results  []models.CheckResult
		debounce int
		want     models.CheckStatus
	}{
		{"no history", nil, 0, models.CheckPassing},
		{"d0 single failure", history(fail), 0, models.CheckFailing},
		{"d0 latest passed", history(pass, fail, fail), 0, models.CheckPassing},
		{"d1 two failures", history(fail, fail), 1, models.CheckFailing},
		{"d1 older passed", history(fail, pass), 1, models.CheckPassing},
		{"d1 new check", history(fail), 1, models.CheckPassing},
		{"d2 pass outside window ignored", history(fail, fail, fail, pass), 2, models.CheckFailing},
		{"d2 pass at window edge", history(fail, fail, pass), 2, models.CheckPassing},
		{"negative debounce", history(fail), -3, models.CheckFailing},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Calculate(tt.results, tt.debounce); got != tt.want {
				t.Errorf("Calculate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFromConsecutiveFailures(t *testing.T) {
	tests := []struct {
		failures, max int
		want          models.CheckStatus
	}{
		{0, 0, models.CheckPassing},
		{1, 0, models.CheckFailing},
		{2, 2, models.CheckPassing},
		{3, 2, models.CheckFailing},
	}
	for _, tt := range tests {
		if got := FromConsecutiveFailures(tt.failures, tt.max); got != tt.want {
			t.Errorf("FromConsecutiveFailures(%d, %d) = %v, want %v", tt.failures, tt.max, got, tt.want)
		}
	}
}

func TestLatestFailure(t *testing.T) {
	h := []models.CheckResult{
		{ID: "3", Succeeded: false, Severity: models.SeverityCritical},
		{ID: "2", Succeeded: false, Severity: models.SeverityWarning},
		{ID: "1", Succeeded: true},
		{ID: "0", Succeeded: false},
	}
	r, ok := LatestFailure(h, 1)
	if !ok || r.ID != "3" {
		t.Errorf("LatestFailure() = %+v, %v", r, ok)
	}
	if _, ok := LatestFailure(h[2:3], 0); ok {
		t.Error("LatestFailure() on a passing window should report none")
	}
}
