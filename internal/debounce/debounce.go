// Package debounce folds a check's recent executions into one calculated status.
package debounce

import "github.com/mr-karan/checkchef/pkg/models"

// Window is how many of the most recent results Calculate needs for a given debounce.
func Window(debounce int) int {
	if debounce < 0 {
		debounce = 0
	}
	return debounce + 1
}

// Calculate returns failing only if every one of the latest debounce+1 results failed.
// Results must be ordered newest first. A check with fewer results than the window is
// still passing.
func Calculate(newestFirst []models.CheckResult, debounce int) models.CheckStatus {
	window := Window(debounce)
	if len(newestFirst) < window {
		return models.CheckPassing
	}
	for _, r := range newestFirst[:window] {
		if r.Succeeded {
			return models.CheckPassing
		}
	}
	return models.CheckFailing
}

// FromConsecutiveFailures applies the same rule to an externally counted run of failures,
// as build checks report them. It fails once the run exceeds maxAllowed.
func FromConsecutiveFailures(failures, maxAllowed int) models.CheckStatus {
	if maxAllowed < 0 {
		maxAllowed = 0
	}
	if failures > maxAllowed {
		return models.CheckFailing
	}
	return models.CheckPassing
}

// LatestFailure returns the newest failed result within the debounce window, if any.
func LatestFailure(newestFirst []models.CheckResult, debounce int) (models.CheckResult, bool) {
	window := Window(debounce)
	if len(newestFirst) < window {
		window = len(newestFirst)
	}
	for _, r := range newestFirst[:window] {
		if !r.Succeeded {
			return r, true
		}
	}
	return models.CheckResult{}, false
}
