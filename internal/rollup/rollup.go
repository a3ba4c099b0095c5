// Package rollup folds check statuses into a service status and decides whether a
// service's status warrants an alert this cycle.
package rollup

import (
	"fmt"
	"time"

	"github.com/mr-karan/checkchef/pkg/models"
)

// Policy holds the repeat intervals and officer routing.
type Policy struct {
	// AlertInterval is the repeat interval for an ongoing error or critical status.
	AlertInterval time.Duration
	// NotificationInterval is the repeat interval for an ongoing warning.
	NotificationInterval time.Duration
	// DutyOfficers are paged on every transition into critical.
	DutyOfficers []string
	// FallbackOfficers are paged alongside duty officers, and are the retry route when
	// delivery to the primary route fails.
	FallbackOfficers []string
}

// Reason describes why a decision alerts, or why it does not.
type Reason string

const (
	ReasonNone             Reason = "unchanged"
	ReasonNew              Reason = "new"
	ReasonEscalated        Reason = "escalated"
	ReasonDeescalated      Reason = "deescalated"
	ReasonRecovered        Reason = "recovered"
	ReasonWarningRecovered Reason = "warning_recovered"
	ReasonRepeat           Reason = "repeat"
	ReasonSuppressed       Reason = "suppressed"
)

// Decision is the outcome of one roll-up cycle for a service.
type Decision struct {
	Alert    bool
	Reason   Reason
	Previous models.ServiceStatus
	Status   models.ServiceStatus
	// RouteOfficers is set on a transition into critical.
	RouteOfficers bool
	// Recipients is the primary route: subscribers, plus officers when RouteOfficers is set.
	Recipients []string
	// Fallback is the route to retry once if delivery to Recipients fails.
	Fallback []string
}

// Message renders the decision as a one-line alert summary.
func (d Decision) Message(service string) string {
	switch d.Reason {
	case ReasonRecovered:
		return fmt.Sprintf("%s recovered (was %s)", service, d.Previous)
	case ReasonRepeat:
		return fmt.Sprintf("%s is still %s", service, d.Status)
	default:
		return fmt.Sprintf("%s is %s (was %s)", service, d.Status, d.Previous)
	}
}

// Overall returns the worst severity among active, failing checks.
func Overall(checks []models.CheckState) models.ServiceStatus {
	status := models.StatusPassing
	for _, c := range checks {
		if !c.Active || c.Status != models.CheckFailing {
			continue
		}
		sev := c.Severity
		if !sev.Valid() {
			sev = models.SeverityError
		}
		if s := sev.Status(); s > status {
			status = s
		}
	}
	return status
}

// Decide applies the transition and suppression rules to a previous/current pair.
func Decide(prev, cur models.ServiceStatus, lastAlertAt *time.Time, now time.Time, p Policy) Decision {
	d := Decision{Previous: prev, Status: cur}

	if cur != prev {
		switch {
		case prev == models.StatusWarning && cur == models.StatusPassing:
			d.Reason = ReasonWarningRecovered
			return d
		case cur == models.StatusPassing:
			d.Reason = ReasonRecovered
		case prev == models.StatusPassing:
			d.Reason = ReasonNew
		case cur > prev:
			d.Reason = ReasonEscalated
		default:
			d.Reason = ReasonDeescalated
		}
		d.Alert = true
		d.RouteOfficers = cur == models.StatusCritical
		return d
	}

	if cur == models.StatusPassing {
		d.Reason = ReasonNone
		return d
	}

	interval := p.NotificationInterval
	if cur >= models.StatusError {
		interval = p.AlertInterval
	}
	switch {
	case lastAlertAt == nil:
		d.Alert, d.Reason = true, ReasonRepeat
	case interval > 0 && now.Sub(*lastAlertAt) > interval:
		d.Alert, d.Reason = true, ReasonRepeat
	default:
		d.Reason = ReasonSuppressed
	}
	return d
}

// Update runs one cycle against state: it computes the current status, decides and shifts
// Current into Previous. LastAlertAt is left alone; callers stamp it with MarkAlerted once
// the alert was delivered.
func Update(state *models.ServiceState, checks []models.CheckState, now time.Time, p Policy) Decision {
	cur := Overall(checks)
	d := Decide(state.Current, cur, state.LastAlertAt, now, p)

	state.Previous = state.Current
	state.Current = cur
	if d.Alert {
		d.Recipients = recipients(state.Subscribers, d.RouteOfficers, p)
		d.Fallback = append([]string(nil), p.FallbackOfficers...)
	}
	return d
}

// MarkAlerted records a delivered alert so repeats are suppressed from at onwards.
func MarkAlerted(state *models.ServiceState, at time.Time) {
	state.LastAlertAt = &at
}

func recipients(subscribers []string, officers bool, p Policy) []string {
	seen := make(map[string]bool)
	var out []string
	add := func(list []string) {
		for _, r := range list {
			if r != "" && !seen[r] {
				seen[r] = true
				out = append(out, r)
			}
		}
	}
	add(subscribers)
	if officers {
		add(p.DutyOfficers)
		add(p.FallbackOfficers)
	}
	return out
}
