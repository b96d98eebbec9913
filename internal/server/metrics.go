// Package server: metrics.go registers all Prometheus metrics for the HTTP
// server and the ingestion pipeline, and exposes helpers used by handlers and
// middleware.
package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/54b3r/sitechat-go/internal/ingestion"
)

// Metric label values shared across registrations.
const (
	// labelHandler is the "handler" label value used to partition metrics by
	// the logical endpoint name rather than the raw URL path.
	labelHandler = "handler"

	// namespace prefixes every metric name.
	namespace = "sitechat"
)

// Metrics holds all Prometheus collectors owned by sitechat. One instance is
// shared by the server and, through ObservePage, the ingestion pipeline so
// tests can inject a fresh prometheus.Registry without polluting the default.
type Metrics struct {
	// chatRequestsTotal counts completed /api/chat requests, partitioned by
	// outcome: ok, invalid, unavailable, error, timeout or client_gone.
	chatRequestsTotal *prometheus.CounterVec

	// chatDurationSeconds records the wall-clock duration of each /api/chat
	// request from first byte received to stream completion.
	chatDurationSeconds *prometheus.HistogramVec

	// chatActiveStreams is the number of /api/chat SSE streams currently open.
	chatActiveStreams prometheus.Gauge

	// httpRequestsTotal counts all HTTP requests handled by the mux,
	// partitioned by method, handler name, and status code.
	httpRequestsTotal *prometheus.CounterVec

	// httpDurationSeconds records the latency of all HTTP requests.
	httpDurationSeconds *prometheus.HistogramVec

	// ingestPagesTotal counts pages handled by the pipeline, by outcome.
	ingestPagesTotal *prometheus.CounterVec

	// ingestChunksTotal counts chunks written to the vector store.
	ingestChunksTotal prometheus.Counter

	// ingestPrunedTotal counts stale chunks deleted.
	ingestPrunedTotal prometheus.Counter

	// ingestPageSeconds records the time spent on one page.
	ingestPageSeconds prometheus.Histogram

	// ingestRunsTotal counts /ingest invocations, by outcome: ok or error.
	ingestRunsTotal *prometheus.CounterVec
}

var _ ingestion.Observer = (*Metrics)(nil)

// NewMetrics registers all metrics against reg and returns the populated
// Metrics. promauto.With(reg) is used so that each call registers into the
// provided registry rather than the global default, keeping unit tests
// hermetic.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		chatRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "requests_total",
			Help:      "Total number of /api/chat requests completed, partitioned by outcome.",
		}, []string{"outcome"}),

		chatDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "duration_seconds",
			Help:      "Wall-clock duration of /api/chat requests from receipt to stream completion.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 30, 60},
		}, []string{"outcome"}),

		chatActiveStreams: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "chat",
			Name:      "active_streams",
			Help:      "Number of /api/chat SSE streams currently open.",
		}),

		httpRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled by the server, partitioned by method, handler, and status code.",
		}, []string{"method", labelHandler, "code"}),

		httpDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "duration_seconds",
			Help:      "Latency of HTTP requests handled by the server.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", labelHandler}),

		ingestPagesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "pages_total",
			Help:      "Pages handled by the ingestion pipeline, partitioned by outcome.",
		}, []string{"outcome"}),

		ingestChunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Chunks upserted into the vector store.",
		}),

		ingestPrunedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "pruned_total",
			Help:      "Stale chunks deleted after a page was re-ingested.",
		}),

		ingestPageSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "page_duration_seconds",
			Help:      "Time spent fetching, embedding and writing one page.",
			Buckets:   []float64{0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),

		ingestRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "runs_total",
			Help:      "Ingestion invocations, partitioned by outcome.",
		}, []string{"outcome"}),
	}
}

// ObservePage records one page handled by the ingestion pipeline.
func (m *Metrics) ObservePage(res ingestion.PageResult) {
	m.ingestPagesTotal.WithLabelValues(string(res.Outcome)).Inc()
	m.ingestChunksTotal.Add(float64(res.Chunks))
	m.ingestPrunedTotal.Add(float64(res.Pruned))
	m.ingestPageSeconds.Observe(res.Took.Seconds())
}

// observeRun records one ingestion invocation.
func (m *Metrics) observeRun(err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.ingestRunsTotal.WithLabelValues(outcome).Inc()
}

// instrument wraps next so every request is counted and timed under the
// logical handler name.
func (m *Metrics) instrument(handler string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rw := statusRecorder(w)
		start := time.Now()
		next.ServeHTTP(rw, r)
		m.httpDurationSeconds.WithLabelValues(r.Method, handler).Observe(time.Since(start).Seconds())
		m.httpRequestsTotal.WithLabelValues(r.Method, handler, strconv.Itoa(rw.status)).Inc()
	})
}
