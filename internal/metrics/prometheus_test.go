package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestPrometheusHandler_ExposesCounters(t *testing.T) {
	m := New()
	m.Inc(AuthFailure)
	m.Inc(AuthFailure)
	m.ObserveOperation("publish_offer", "", 5*time.Millisecond)
	m.ObserveOperation("publish_answer", "offer_mismatch", time.Millisecond)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()

	PrometheusHandler(m).ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusOK)
	}

	body := rr.Body.String()
	for _, want := range []string{
		"# TYPE aero_signal_hub_events_total counter",
		`aero_signal_hub_events_total{event="auth_failure"} 2`,
		`aero_signal_hub_operations_total{op="publish_offer",result="ok"} 1`,
		`aero_signal_hub_operations_total{op="publish_answer",result="offer_mismatch"} 1`,
		"aero_signal_hub_operation_duration_seconds_bucket",
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("missing %q in:\n%s", want, body)
		}
	}
}

func TestWatcherGauge(t *testing.T) {
	m := New()
	m.WatcherAdded()
	m.WatcherAdded()
	m.WatcherRemoved()

	if got := testutil.ToFloat64(m.watchers); got != 1 {
		t.Fatalf("watchers=%v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Inc(RateLimited)
	m.ObserveOperation("get", "", time.Millisecond)
	m.WatcherAdded()
	m.WatcherRemoved()
	if m.Registry() != nil {
		t.Fatalf("nil metrics returned a registry")
	}

	rr := httptest.NewRecorder()
	PrometheusHandler(m).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status=%d, want %d", rr.Code, http.StatusInternalServerError)
	}
}
