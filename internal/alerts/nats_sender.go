package alerts

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// DefaultNATSSubject is used when no subject is configured.
const DefaultNATSSubject = "checkchef.notifications"

type publisher interface {
	Publish(subject string, data []byte) error
}

// NATSDispatcher publishes every notification as JSON on a subject for downstream
// consumers (paging bridges, chat bots) to pick up.
type NATSDispatcher struct {
	conn    *nats.Conn
	pub     publisher
	subject string
	log     *slog.Logger
}

// NewNATSDispatcher connects to url. Close must be called to drain the connection.
func NewNATSDispatcher(url, subject string, log *slog.Logger) (*NATSDispatcher, error) {
	conn, err := nats.Connect(url, nats.Name("checkchef"))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to nats: %w", err)
	}
	d := newNATSDispatcher(conn, subject, log)
	d.conn = conn
	return d, nil
}

func newNATSDispatcher(pub publisher, subject string, log *slog.Logger) *NATSDispatcher {
	if subject == "" {
		subject = DefaultNATSSubject
	}
	if log == nil {
		log = slog.Default()
	}
	return &NATSDispatcher{
		pub:     pub,
		subject: subject,
		log:     log.With("component", "alert_nats_dispatcher"),
	}
}

// Dispatch implements Dispatcher.
func (d *NATSDispatcher) Dispatch(_ context.Context, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return fmt.Errorf("failed to marshal notification: %w", err)
	}
	if err := d.pub.Publish(d.subject, data); err != nil {
		return fmt.Errorf("failed to publish notification: %w", err)
	}
	d.log.Debug("notification published", "subject", d.subject, "subject_id", n.SubjectID)
	return nil
}

// Close drains and closes the connection.
func (d *NATSDispatcher) Close() {
	if d.conn != nil {
		_ = d.conn.Drain()
		d.conn.Close()
	}
}
