package alerts

import (
	"context"
	"io"
	"log/slog"
	"strings"
)

// LogDispatcher writes notifications to the log. It is the default when no delivery
// channel is configured.
type LogDispatcher struct {
	log *slog.Logger
}

// NewLogDispatcher returns a dispatcher that logs every notification at info level.
func NewLogDispatcher(log *slog.Logger) *LogDispatcher {
	if log == nil {
		log = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &LogDispatcher{log: log.With("component", "alert_log_dispatcher")}
}

// Dispatch implements Dispatcher.
func (d *LogDispatcher) Dispatch(_ context.Context, n Notification) error {
	d.log.Info("notification",
		"kind", n.Kind,
		"subject_id", n.SubjectID,
		"subject", n.Subject,
		"status", n.Status.String(),
		"previous", n.Previous.String(),
		"route_to", strings.Join(n.RouteTo, ","),
		"officers", n.Officers,
		"message", n.Message,
	)
	if n.Details != "" {
		d.log.Debug("notification details", "subject_id", n.SubjectID, "details", n.Details)
	}
	return nil
}
