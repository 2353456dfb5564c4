package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds Prometheus collectors for the recorder. A nil *Metrics is
// valid and records nothing, so components can run without instrumentation.
type Metrics struct {
	registry *prometheus.Registry

	requestsTotal *prometheus.CounterVec
	errorsTotal   prometheus.Counter

	manifestFailures   *prometheus.CounterVec
	segmentsEnqueued   *prometheus.CounterVec
	segmentsDownloaded *prometheus.CounterVec
	downloadFailures   *prometheus.CounterVec
	segmentsMerged     *prometheus.CounterVec
	segmentsStale      *prometheus.CounterVec
	segmentsUnordered  *prometheus.CounterVec
	rotations          *prometheus.CounterVec
	bytesWritten       *prometheus.CounterVec
	downloadsInFlight  *prometheus.GaugeVec
	activeSessions     prometheus.Gauge
}

// New creates and registers Prometheus metrics on a private registry.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	room := []string{"room"}

	m := &Metrics{
		registry: registry,
		requestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_http_requests_total",
			Help: "Total number of status API requests received",
		}, []string{"method", "route"}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "recorder_http_errors_total",
			Help: "Total number of status API responses with error status (4xx or 5xx)",
		}),
		manifestFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_manifest_failures_total",
			Help: "Manifest fetches that failed (bad status, transport or parse error)",
		}, room),
		segmentsEnqueued: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_segments_enqueued_total",
			Help: "New segments discovered in the manifest and queued for download",
		}, room),
		segmentsDownloaded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_segments_downloaded_total",
			Help: "Segments downloaded successfully",
		}, room),
		downloadFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_segment_download_failures_total",
			Help: "Segments dropped after exhausting download retries",
		}, room),
		segmentsMerged: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_segments_merged_total",
			Help: "Segments appended to an output file in sequence order",
		}, room),
		segmentsStale: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_segments_stale_total",
			Help: "Segments discarded because the merge cursor had already passed them",
		}, room),
		segmentsUnordered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_segments_unordered_total",
			Help: "Segments without a parseable sequence number",
		}, room),
		rotations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_output_rotations_total",
			Help: "Output files rotated because a sequence gap could not be closed",
		}, room),
		bytesWritten: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "recorder_output_bytes_total",
			Help: "Bytes appended to output files",
		}, room),
		downloadsInFlight: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "recorder_downloads_in_flight",
			Help: "Segment downloads currently running",
		}, room),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "recorder_active_sessions",
			Help: "Capture sessions currently recording",
		}),
	}

	registry.MustRegister(
		m.requestsTotal,
		m.errorsTotal,
		m.manifestFailures,
		m.segmentsEnqueued,
		m.segmentsDownloaded,
		m.downloadFailures,
		m.segmentsMerged,
		m.segmentsStale,
		m.segmentsUnordered,
		m.rotations,
		m.bytesWritten,
		m.downloadsInFlight,
		m.activeSessions,
	)

	return m
}

// Registry exposes the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// IncRequests increments the request counter for method and route.
func (m *Metrics) IncRequests(method, route string) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route).Inc()
}

// IncErrors increments the errors counter.
func (m *Metrics) IncErrors() {
	if m == nil {
		return
	}
	m.errorsTotal.Inc()
}

func (m *Metrics) IncManifestFailures(room string) {
	if m == nil {
		return
	}
	m.manifestFailures.WithLabelValues(room).Inc()
}

func (m *Metrics) AddSegmentsEnqueued(room string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.segmentsEnqueued.WithLabelValues(room).Add(float64(n))
}

func (m *Metrics) IncSegmentsDownloaded(room string) {
	if m == nil {
		return
	}
	m.segmentsDownloaded.WithLabelValues(room).Inc()
}

func (m *Metrics) IncDownloadFailures(room string) {
	if m == nil {
		return
	}
	m.downloadFailures.WithLabelValues(room).Inc()
}

// SegmentMerged records one merged segment of size bytes.
func (m *Metrics) SegmentMerged(room string, size int) {
	if m == nil {
		return
	}
	m.segmentsMerged.WithLabelValues(room).Inc()
	m.bytesWritten.WithLabelValues(room).Add(float64(size))
}

func (m *Metrics) IncSegmentsStale(room string) {
	if m == nil {
		return
	}
	m.segmentsStale.WithLabelValues(room).Inc()
}

func (m *Metrics) IncSegmentsUnordered(room string) {
	if m == nil {
		return
	}
	m.segmentsUnordered.WithLabelValues(room).Inc()
}

func (m *Metrics) IncRotations(room string) {
	if m == nil {
		return
	}
	m.rotations.WithLabelValues(room).Inc()
}

// AddDownloadsInFlight adjusts the in-flight gauge by delta (+1 on start, -1 on finish).
func (m *Metrics) AddDownloadsInFlight(room string, delta int) {
	if m == nil {
		return
	}
	m.downloadsInFlight.WithLabelValues(room).Add(float64(delta))
}

// SetActiveSessions sets the active sessions gauge.
func (m *Metrics) SetActiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}

// Handler returns an http.Handler that serves Prometheus metrics.
// updateGauges is called before each scrape to refresh gauge values (e.g. active sessions).
func (m *Metrics) Handler(updateGauges func()) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if updateGauges != nil {
			updateGauges()
		}
		promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}).ServeHTTP(w, r)
	})
}
