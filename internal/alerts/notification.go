package alerts

import (
	"context"
	"fmt"
	"time"

	"github.com/mr-karan/checkchef/pkg/models"
)

// Kind is what a notification is about.
type Kind string

const (
	KindService Kind = "service"
	KindCheck   Kind = "check"
	KindDrift   Kind = "drift"
)

// Notification is a fully resolved alert ready for delivery. RouteTo lists subscriber and
// officer addresses. Formatting beyond Message and Details is left to each dispatcher.
type Notification struct {
	Kind      Kind                 `json:"kind"`
	SubjectID string               `json:"subject_id"`
	Subject   string               `json:"subject"`
	Status    models.ServiceStatus `json:"status"`
	Previous  models.ServiceStatus `json:"previous"`
	Message   string               `json:"message"`
	Details   string               `json:"details,omitempty"`
	RouteTo   []string             `json:"route_to,omitempty"`
	Officers  bool                 `json:"officers,omitempty"`
	Labels    map[string]string    `json:"labels,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Resolved reports whether the notification announces a recovery.
func (n Notification) Resolved() bool {
	return n.Kind == KindService && n.Status == models.StatusPassing
}

// Dispatcher abstracts the delivery mechanism for notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// DispatchWithFallback delivers n to its route and, if that fails, retries exactly once
// with the route replaced by fallback. The primary error is returned only when the retry
// also fails or there is no fallback to try.
func DispatchWithFallback(ctx context.Context, d Dispatcher, n Notification, fallback []string) (usedFallback bool, err error) {
	primaryErr := d.Dispatch(ctx, n)
	if primaryErr == nil {
		return false, nil
	}
	if len(fallback) == 0 {
		return false, primaryErr
	}
	retry := n
	retry.RouteTo = append([]string(nil), fallback...)
	retry.Officers = true
	if err := d.Dispatch(ctx, retry); err != nil {
		return true, fmt.Errorf("primary route: %v; fallback route: %w", primaryErr, err)
	}
	return true, nil
}
