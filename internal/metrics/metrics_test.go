package metrics

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"
)

func TestWritePrometheus(t *testing.T) {
	RecordEvaluation("metrics", false, 250*time.Millisecond)
	StartStoreQuery("logs").Finish(errors.New("timeout"))
	RecordAlert("primary", nil)
	RecordDrift("apply")
	SetQueueDepth(3)

	var buf bytes.Buffer
	WritePrometheus(&buf)
	out := buf.String()

	for _, want := range []string{
		`checkchef_evaluations_total{kind="metrics",outcome="failure"} 1`,
		`checkchef_store_errors_total{source="logs"} 1`,
		`checkchef_alerts_total{route="primary",outcome="delivered"} 1`,
		`checkchef_drift_total{action="apply"} 1`,
		`checkchef_pool_queue_depth 3`,
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q", want)
		}
	}
}
