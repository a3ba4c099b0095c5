package models

import (
	"fmt"
	"strings"
)

// Severity is the importance of a failing check. The zero value is not a valid severity.
type Severity int

const (
	SeverityWarning Severity = iota + 1
	SeverityError
	SeverityCritical
)

// String returns the upper-case label used in alert messages.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "WARNING"
	case SeverityError:
		return "ERROR"
	case SeverityCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("SEVERITY(%d)", int(s))
	}
}

// Valid reports whether s is one of the known severities.
func (s Severity) Valid() bool {
	return s >= SeverityWarning && s <= SeverityCritical
}

// ParseSeverity accepts the case-insensitive labels "warning", "error" and "critical".
func ParseSeverity(v string) (Severity, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "warning":
		return SeverityWarning, nil
	case "error":
		return SeverityError, nil
	case "critical":
		return SeverityCritical, nil
	default:
		return 0, fmt.Errorf("invalid severity %q", v)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Severity) MarshalText() ([]byte, error) {
	if !s.Valid() {
		return nil, fmt.Errorf("invalid severity %d", int(s))
	}
	return []byte(strings.ToLower(s.String())), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Severity) UnmarshalText(b []byte) error {
	parsed, err := ParseSeverity(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalYAML lets definition files use the same labels as JSON.
func (s *Severity) UnmarshalYAML(unmarshal func(any) error) error {
	var raw string
	if err := unmarshal(&raw); err != nil {
		return err
	}
	return s.UnmarshalText([]byte(raw))
}

// Status converts a severity into the service status it rolls up to.
func (s Severity) Status() ServiceStatus {
	return ServiceStatus(s)
}

// ServiceStatus is the rolled-up status of a service. Ordering is significant.
type ServiceStatus int

const (
	StatusPassing ServiceStatus = iota
	StatusWarning
	StatusError
	StatusCritical
)

func (s ServiceStatus) String() string {
	switch s {
	case StatusPassing:
		return "PASSING"
	case StatusWarning:
		return "WARNING"
	case StatusError:
		return "ERROR"
	case StatusCritical:
		return "CRITICAL"
	default:
		return fmt.Sprintf("STATUS(%d)", int(s))
	}
}

// ParseServiceStatus is the inverse of String, case-insensitive.
func ParseServiceStatus(v string) (ServiceStatus, error) {
	switch strings.ToUpper(strings.TrimSpace(v)) {
	case "PASSING", "":
		return StatusPassing, nil
	case "WARNING":
		return StatusWarning, nil
	case "ERROR":
		return StatusError, nil
	case "CRITICAL":
		return StatusCritical, nil
	default:
		return 0, fmt.Errorf("invalid service status %q", v)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s ServiceStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *ServiceStatus) UnmarshalText(b []byte) error {
	parsed, err := ParseServiceStatus(string(b))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// CheckStatus is the debounced status calculated from a check's recent results.
type CheckStatus string

const (
	CheckPassing CheckStatus = "passing"
	CheckFailing CheckStatus = "failing"
)
