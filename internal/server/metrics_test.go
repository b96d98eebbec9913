package server

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/sitechat-go/internal/ingestion"
)

// newMetricsTestServer builds a Server backed by a fresh isolated registry so
// tests do not pollute prometheus.DefaultRegisterer.
func newMetricsTestServer(t *testing.T) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	s := newTestServer()
	s.cfg.MetricsRegistry = reg
	s.cfg.MetricsGatherer = reg
	s.metrics = NewMetrics(reg)
	return s, reg
}

// counterValue returns the value of the named counter with the given label
// pair, or -1 if it was not gathered.
func counterValue(t *testing.T, reg *prometheus.Registry, name, label, value string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if label == "" {
				return m.GetCounter().GetValue()
			}
			for _, lp := range m.GetLabel() {
				if lp.GetName() == label && lp.GetValue() == value {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return -1
}

func Test_Metrics_EndpointReturns200(t *testing.T) {
	t.Parallel()
	_, reg := newMetricsTestServer(t)

	srv := httptest.NewServer(promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	t.Cleanup(srv.Close)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodGet, srv.URL+"/metrics", nil)
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /metrics: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("want 200, got %d", resp.StatusCode)
	}
	ct := resp.Header.Get("Content-Type")
	if !strings.HasPrefix(ct, "text/plain") {
		t.Errorf("want text/plain content-type, got %q", ct)
	}
}

func Test_Metrics_ChatCounterIncremented(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	// Simulate a successful chat request via the counter directly.
	s.metrics.chatRequestsTotal.WithLabelValues("ok").Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	found := false
	for _, mf := range mfs {
		if mf.GetName() == "sitechat_chat_requests_total" {
			for _, m := range mf.GetMetric() {
				for _, lp := range m.GetLabel() {
					if lp.GetName() == "outcome" && lp.GetValue() == "ok" {
						if m.GetCounter().GetValue() != 1 {
							t.Errorf("want counter=1, got %v", m.GetCounter().GetValue())
						}
						found = true
					}
				}
			}
		}
	}
	if !found {
		t.Error("sitechat_chat_requests_total{outcome=\"ok\"} not found in gathered metrics")
	}
}

func Test_Metrics_ActiveStreamsGauge(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	s.metrics.chatActiveStreams.Inc()
	s.metrics.chatActiveStreams.Inc()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}

	for _, mf := range mfs {
		if mf.GetName() == "sitechat_chat_active_streams" {
			v := mf.GetMetric()[0].GetGauge().GetValue()
			if v != 2 {
				t.Errorf("want active_streams=2, got %v", v)
			}
			return
		}
	}
	t.Error("sitechat_chat_active_streams not found in gathered metrics")
}

func Test_Metrics_ChatOutcomeRecordedByHandler(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)
	s.deps.Chat = &fakeAnswerer{fragments: []string{"ok"}}

	req := httptest.NewRequest(http.MethodPost, "/api/chat", strings.NewReader(`{"message":"hi"}`))
	s.handleChat(httptest.NewRecorder(), req)

	if v := counterValue(t, reg, "sitechat_chat_requests_total", "outcome", "ok"); v != 1 {
		t.Errorf("want ok=1, got %v", v)
	}
}

func Test_Metrics_ObservePage(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)

	s.metrics.ObservePage(ingestion.PageResult{Outcome: ingestion.OutcomeIngested, Chunks: 3, Pruned: 1, Took: time.Second})
	s.metrics.ObservePage(ingestion.PageResult{Outcome: ingestion.OutcomeSkipped})

	if v := counterValue(t, reg, "sitechat_ingest_pages_total", "outcome", "ingested"); v != 1 {
		t.Errorf("ingested pages = %v", v)
	}
	if v := counterValue(t, reg, "sitechat_ingest_pages_total", "outcome", "skipped"); v != 1 {
		t.Errorf("skipped pages = %v", v)
	}
	if v := counterValue(t, reg, "sitechat_ingest_chunks_total", "", ""); v != 3 {
		t.Errorf("chunks = %v", v)
	}
	if v := counterValue(t, reg, "sitechat_ingest_pruned_total", "", ""); v != 1 {
		t.Errorf("pruned = %v", v)
	}
}

func Test_Metrics_IngestRunsCounted(t *testing.T) {
	t.Parallel()
	s, reg := newMetricsTestServer(t)
	s.deps.Ingester = &fakeIngester{err: errors.New("boom")}

	s.handleIngest(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/ingest", nil))

	if v := counterValue(t, reg, "sitechat_ingest_runs_total", "outcome", "error"); v != 1 {
		t.Errorf("error runs = %v", v)
	}
}
