package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestHandlerExposesCounters(t *testing.T) {
	t.Parallel()
	m := New(func() int { return 42 })
	m.ObserveCycle(120*time.Millisecond, false)
	m.Decision("publish")
	m.Publish("ok")
	m.Publish("auth")
	m.RejectedFeatures(2)
	m.StorageError()

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	out := string(body)

	for _, want := range []string{
		`quakebot_cycles_total{result="ok"} 1`,
		`quakebot_events_total{decision="publish"} 1`,
		`quakebot_publish_total{result="auth"} 1`,
		`quakebot_feed_rejected_features_total 2`,
		`quakebot_storage_errors_total 1`,
		`quakebot_dedup_ids 42`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	t.Parallel()
	var m *Metrics
	m.ObserveCycle(time.Second, true)
	m.Decision("publish")
	m.Publish("ok")
	m.RejectedFeatures(1)
	m.StorageError()
	if m.Registry() != nil {
		t.Fatal("nil metrics should have no registry")
	}
}
