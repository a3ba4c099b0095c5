package alerts

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mr-karan/checkchef/pkg/models"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

func serviceNotification(status, previous models.ServiceStatus) Notification {
	return Notification{
		Kind:      KindService,
		SubjectID: "payments",
		Subject:   "Payments",
		Status:    status,
		Previous:  previous,
		Message:   "Payments is CRITICAL (was WARNING)",
		RouteTo:   []string{"team@example.com", "oncall"},
		Timestamp: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}
}

type recordingDispatcher struct {
	mu    sync.Mutex
	got   []Notification
	errOn func(Notification) error
}

func (r *recordingDispatcher) Dispatch(_ context.Context, n Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, n)
	if r.errOn != nil {
		return r.errOn(n)
	}
	return nil
}

func TestDispatchWithFallback(t *testing.T) {
	primaryDown := func(n Notification) error {
		if !n.Officers {
			return errors.New("primary down")
		}
		return nil
	}

	t.Run("primary succeeds", func(t *testing.T) {
		rec := &recordingDispatcher{}
		used, err := DispatchWithFallback(context.Background(), rec, serviceNotification(models.StatusError, models.StatusPassing), []string{"fallback"})
		require.NoError(t, err)
		assert.False(t, used)
		assert.Len(t, rec.got, 1)
	})

	t.Run("retries once on fallback", func(t *testing.T) {
		rec := &recordingDispatcher{errOn: primaryDown}
		used, err := DispatchWithFallback(context.Background(), rec, serviceNotification(models.StatusError, models.StatusPassing), []string{"fallback"})
		require.NoError(t, err)
		assert.True(t, used)
		require.Len(t, rec.got, 2)
		assert.Equal(t, []string{"fallback"}, rec.got[1].RouteTo)
	})

	t.Run("both fail", func(t *testing.T) {
		rec := &recordingDispatcher{errOn: func(Notification) error { return errors.New("down") }}
		_, err := DispatchWithFallback(context.Background(), rec, serviceNotification(models.StatusError, models.StatusPassing), []string{"fallback"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "fallback route")
		assert.Len(t, rec.got, 2)
	})

	t.Run("no fallback", func(t *testing.T) {
		rec := &recordingDispatcher{errOn: primaryDown}
		_, err := DispatchWithFallback(context.Background(), rec, serviceNotification(models.StatusError, models.StatusPassing), nil)
		require.Error(t, err)
		assert.Len(t, rec.got, 1)
	})
}

func TestMultiDispatcher(t *testing.T) {
	a := &recordingDispatcher{}
	b := &recordingDispatcher{errOn: func(Notification) error { return errors.New("b failed") }}
	c := &recordingDispatcher{}

	m := NewMultiDispatcher(a, nil, b, c)
	err := m.Dispatch(context.Background(), serviceNotification(models.StatusWarning, models.StatusPassing))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b failed")
	assert.Len(t, a.got, 1)
	assert.Len(t, c.got, 1)

	single := NewMultiDispatcher(nil, a)
	assert.Same(t, a, single)
}

func TestWebhookDispatcher(t *testing.T) {
	var received webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "nope", http.StatusBadRequest)
	}))
	defer failing.Close()

	d := NewWebhookDispatcher(WebhookOptions{URLs: []string{srv.URL}, Logger: quiet})
	require.NoError(t, d.Dispatch(context.Background(), serviceNotification(models.StatusPassing, models.StatusError)))
	assert.Equal(t, "payments", received.SubjectID)
	assert.Equal(t, "PASSING", received.Status)
	assert.True(t, received.Resolved)

	d = NewWebhookDispatcher(WebhookOptions{URLs: []string{failing.URL}, Logger: quiet})
	err := d.Dispatch(context.Background(), serviceNotification(models.StatusError, models.StatusPassing))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400 (nope)")
}

func TestAlertmanagerDispatcherRetries(t *testing.T) {
	var calls atomic.Int32
	var got []AlertPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/v2/status" {
			w.WriteHeader(http.StatusOK)
			return
		}
		assert.Equal(t, "/api/v2/alerts", r.URL.Path)
		if calls.Add(1) == 1 {
			http.Error(w, "busy", http.StatusServiceUnavailable)
			return
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	d, err := NewAlertmanagerDispatcher(AlertmanagerOptions{BaseURL: srv.URL + "/", RetryDelay: time.Millisecond, Logger: quiet})
	require.NoError(t, err)
	require.NoError(t, d.Ping(context.Background()))

	n := serviceNotification(models.StatusPassing, models.StatusCritical)
	require.NoError(t, d.Dispatch(context.Background(), n))
	assert.Equal(t, int32(2), calls.Load())
	require.Len(t, got, 1)
	assert.Equal(t, "critical", got[0].Labels["severity"])
	assert.Equal(t, "Payments", got[0].Labels["alertname"])
	require.NotNil(t, got[0].EndsAt, "recoveries resolve the alert")
}

func TestAlertmanagerDispatcherClientError(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		http.Error(w, "bad labels", http.StatusBadRequest)
	}))
	defer srv.Close()

	d, err := NewAlertmanagerDispatcher(AlertmanagerOptions{BaseURL: srv.URL, RetryDelay: time.Millisecond, Logger: quiet})
	require.NoError(t, err)
	err = d.Dispatch(context.Background(), serviceNotification(models.StatusError, models.StatusPassing))
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load(), "4xx responses are not retried")

	_, err = NewAlertmanagerDispatcher(AlertmanagerOptions{})
	assert.Error(t, err)
}

type fakePublisher struct {
	subject string
	data    []byte
}

func (f *fakePublisher) Publish(subject string, data []byte) error {
	f.subject, f.data = subject, data
	return nil
}

func TestNATSDispatcher(t *testing.T) {
	pub := &fakePublisher{}
	d := newNATSDispatcher(pub, "", quiet)
	require.NoError(t, d.Dispatch(context.Background(), serviceNotification(models.StatusCritical, models.StatusWarning)))
	assert.Equal(t, DefaultNATSSubject, pub.subject)

	var decoded Notification
	require.NoError(t, json.Unmarshal(pub.data, &decoded))
	assert.Equal(t, models.StatusCritical, decoded.Status)
	assert.Equal(t, "payments", decoded.SubjectID)
}

func TestEmailRecipientsAndBody(t *testing.T) {
	got := emailRecipients([]string{" a@example.com", "oncall", "a@example.com", "b@example.com"})
	assert.Equal(t, []string{"a@example.com", "b@example.com"}, got)

	n := serviceNotification(models.StatusCritical, models.StatusWarning)
	assert.Equal(t, "[checkchef] Payments CRITICAL", emailSubject(n))
	body := emailBody(n)
	assert.True(t, strings.HasPrefix(body, n.Message))
	assert.Contains(t, body, "Previous: WARNING")

	// nothing to mail and no smtp configured is not an error
	d := NewEmailDispatcher(EmailOptions{Logger: quiet})
	n.RouteTo = []string{"oncall"}
	assert.NoError(t, d.Dispatch(context.Background(), n))
}
