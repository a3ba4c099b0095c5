package models

import "time"

// ServiceDefinition groups checks whose failures roll up into one status.
type ServiceDefinition struct {
	ID          string   `json:"id" yaml:"id" validate:"required"`
	Name        string   `json:"name" yaml:"name" validate:"required"`
	CheckIDs    []string `json:"check_ids" yaml:"check_ids" validate:"min=1,dive,required"`
	Subscribers []string `json:"subscribers,omitempty" yaml:"subscribers"`
}

// ServiceState is a service plus the status values retained between evaluation cycles.
type ServiceState struct {
	ServiceDefinition
	Current     ServiceStatus `json:"current"`
	Previous    ServiceStatus `json:"previous"`
	LastAlertAt *time.Time    `json:"last_alert_at,omitempty"`
}

// CheckState is the input the service roll-up needs from each attached check.
type CheckState struct {
	CheckID  string      `json:"check_id"`
	Active   bool        `json:"active"`
	Status   CheckStatus `json:"status"`
	Severity Severity    `json:"severity,omitempty"`
}
