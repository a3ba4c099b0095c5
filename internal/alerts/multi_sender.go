package alerts

import (
	"context"
	"fmt"
	"strings"
)

// MultiDispatcher fans a notification out to every configured dispatcher. Delivery is
// attempted on all of them even if one fails.
type MultiDispatcher struct {
	dispatchers []Dispatcher
}

// NewMultiDispatcher drops nil entries. With a single dispatcher left it is returned as is.
func NewMultiDispatcher(dispatchers ...Dispatcher) Dispatcher {
	filtered := make([]Dispatcher, 0, len(dispatchers))
	for _, d := range dispatchers {
		if d == nil {
			continue
		}
		filtered = append(filtered, d)
	}
	if len(filtered) == 1 {
		return filtered[0]
	}
	return MultiDispatcher{dispatchers: filtered}
}

// Dispatch implements Dispatcher.
func (m MultiDispatcher) Dispatch(ctx context.Context, n Notification) error {
	var errs []string
	for _, d := range m.dispatchers {
		if err := d.Dispatch(ctx, n); err != nil {
			errs = append(errs, err.Error())
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("notification delivery failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
