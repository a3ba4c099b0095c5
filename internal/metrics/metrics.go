// Package metrics exposes the engine's Prometheus metrics.
package metrics

import (
	"fmt"
	"io"
	"time"

	"github.com/VictoriaMetrics/metrics"
)

// RecordEvaluation counts one check execution and its duration.
func RecordEvaluation(kind string, succeeded bool, took time.Duration) {
	outcome := "success"
	if !succeeded {
		outcome = "failure"
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`checkchef_evaluations_total{kind=%q,outcome=%q}`, kind, outcome)).Inc()
	metrics.GetOrCreateHistogram(fmt.Sprintf(`checkchef_evaluation_duration_seconds{kind=%q}`, kind)).Update(took.Seconds())
}

// StoreQuery tracks one round-trip to a metrics store.
type StoreQuery struct {
	source string
	start  time.Time
}

// StartStoreQuery begins timing a store round-trip for source.
func StartStoreQuery(source string) *StoreQuery {
	return &StoreQuery{source: source, start: time.Now()}
}

// Finish records the round-trip's latency and whether it failed.
func (q *StoreQuery) Finish(err error) {
	metrics.GetOrCreateHistogram(fmt.Sprintf(`checkchef_store_query_duration_seconds{source=%q}`, q.source)).UpdateDuration(q.start)
	if err != nil {
		metrics.GetOrCreateCounter(fmt.Sprintf(`checkchef_store_errors_total{source=%q}`, q.source)).Inc()
	}
}

// RecordStatusTransition counts a service moving between roll-up statuses.
func RecordStatusTransition(from, to string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`checkchef_service_transitions_total{from=%q,to=%q}`, from, to)).Inc()
}

// RecordAlert counts an alert dispatch attempt on a route.
func RecordAlert(route string, err error) {
	outcome := "delivered"
	if err != nil {
		outcome = "failed"
	}
	metrics.GetOrCreateCounter(fmt.Sprintf(`checkchef_alerts_total{route=%q,outcome=%q}`, route, outcome)).Inc()
}

// RecordDrift counts a drift detection outcome.
func RecordDrift(action string) {
	metrics.GetOrCreateCounter(fmt.Sprintf(`checkchef_drift_total{action=%q}`, action)).Inc()
}

// SetQueueDepth reports how many evaluations are waiting for a worker.
func SetQueueDepth(n int) {
	metrics.GetOrCreateGauge("checkchef_pool_queue_depth", nil).Set(float64(max(n, 0)))
}

// WritePrometheus writes all registered metrics, including process metrics, to w.
func WritePrometheus(w io.Writer) {
	metrics.WritePrometheus(w, true)
}
