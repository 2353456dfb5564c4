package metrics

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetrics_is_noop(t *testing.T) {
	var m *Metrics
	m.IncManifestFailures("r")
	m.AddSegmentsEnqueued("r", 3)
	m.SegmentMerged("r", 10)
	m.AddDownloadsInFlight("r", 1)
	m.SetActiveSessions(2)
}

func TestSegmentMerged_counts_bytes(t *testing.T) {
	m := New()
	m.SegmentMerged("room1", 100)
	m.SegmentMerged("room1", 50)

	if got := testutil.ToFloat64(m.segmentsMerged.WithLabelValues("room1")); got != 2 {
		t.Errorf("expected 2 merged segments, got %v", got)
	}
	if got := testutil.ToFloat64(m.bytesWritten.WithLabelValues("room1")); got != 150 {
		t.Errorf("expected 150 bytes, got %v", got)
	}
}

func TestHandler_serves_and_updates_gauges(t *testing.T) {
	m := New()
	m.IncRotations("room1")

	called := false
	h := m.Handler(func() {
		called = true
		m.SetActiveSessions(4)
	})

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if !called {
		t.Error("updateGauges should run before scrape")
	}
	body := rec.Body.String()
	if !strings.Contains(body, "recorder_active_sessions 4") {
		t.Errorf("expected active sessions gauge in output: %s", body)
	}
	if !strings.Contains(body, `recorder_output_rotations_total{room="room1"} 1`) {
		t.Errorf("expected rotation counter in output: %s", body)
	}
}

func TestRequestMiddleware(t *testing.T) {
	m := New()
	r := chi.NewRouter()
	r.Use(RequestMiddleware(m))
	r.Get("/sessions/{room}", func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "room") == "missing" {
			w.WriteHeader(http.StatusNotFound)
		}
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions/a", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/sessions/missing", nil))
	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues(http.MethodGet, "/sessions/{room}")); got != 2 {
		t.Errorf("expected 2 routed requests, got %v", got)
	}
	if got := testutil.ToFloat64(m.requestsTotal.WithLabelValues(http.MethodGet, "unmatched")); got != 1 {
		t.Errorf("expected 1 unmatched request, got %v", got)
	}
	if got := testutil.ToFloat64(m.errorsTotal); got != 2 {
		t.Errorf("expected 2 errors, got %v", got)
	}
}
