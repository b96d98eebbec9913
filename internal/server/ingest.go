package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/54b3r/sitechat-go/internal/ingestion"
	"github.com/54b3r/sitechat-go/internal/logging"
	"github.com/54b3r/sitechat-go/internal/store"
)

const (
	defaultRunsLimit = 20
	maxRunsLimit     = 100
)

// handleIngest handles GET /ingest: it runs one paginated ingestion window
// and reports counters plus the offset of the next window.
//
// Query parameters: only (comma-separated sections), limit (1..50, default
// 10), offset (default 0) and url (ingest exactly that page).
func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.deps.Ingester == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "ingestion is not configured"})
		return
	}
	log := logging.FromContext(r.Context())
	q := r.URL.Query()

	only := strings.TrimSpace(q.Get("only"))
	sections, err := ingestion.ParseSections(only)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}

	req := ingestion.Request{
		Sections: sections,
		Limit:    queryInt(q.Get("limit"), ingestion.DefaultLimit),
		Offset:   max(queryInt(q.Get("offset"), 0), 0),
		URL:      strings.TrimSpace(q.Get("url")),
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.IngestTimeout)
	defer cancel()

	started := time.Now()
	stats, err := s.deps.Ingester.Run(ctx, req)
	s.metrics.observeRun(err)
	s.recordRun(r.Context(), req, stats, err, started)

	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ingestion.ErrForeignHost) || errors.Is(err, ingestion.ErrInvalidURL) {
			status = http.StatusBadRequest
		}
		log.Error("ingest: run failed",
			slog.String("error", err.Error()),
			slog.Int("processed", stats.Processed),
			slog.Int("chunks", stats.Chunks),
		)
		writeJSON(w, status, errorResponse{Error: err.Error()})
		return
	}

	resp := ingestResponse{
		OK:         true,
		URLs:       len(stats.URLs),
		Selected:   stats.URLs,
		Processed:  stats.Processed,
		Skipped:    stats.Skipped,
		Chunks:     stats.Chunks,
		Pruned:     stats.Pruned,
		Limit:      stats.Limit,
		Offset:     stats.Offset,
		Total:      stats.Total,
		NextOffset: stats.NextOffset,
	}
	if resp.Selected == nil {
		resp.Selected = []string{}
	}
	if len(sections) > 0 {
		joined := ingestion.JoinSections(sections)
		resp.Only = &joined
	}
	log.Info("ingest: run completed",
		slog.Int("processed", stats.Processed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("chunks", stats.Chunks),
		slog.Bool("done", stats.Done()),
	)
	writeJSON(w, http.StatusOK, resp)
}

// handleRuns handles GET /api/ingest/runs, listing the newest ledger entries.
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	if s.deps.Runs == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "run ledger is disabled"})
		return
	}
	n := min(max(queryInt(r.URL.Query().Get("limit"), defaultRunsLimit), 1), maxRunsLimit)
	runs, err := s.deps.Runs.Recent(r.Context(), n)
	if err != nil {
		logging.FromContext(r.Context()).Error("runs: list failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not list runs"})
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runsResponse{Runs: runs})
}

// recordRun appends the run to the ledger. Failures are logged only.
func (s *Server) recordRun(ctx context.Context, req ingestion.Request, stats ingestion.Stats, runErr error, started time.Time) {
	if s.deps.Runs == nil {
		return
	}
	run := store.FromStats(store.TriggerHTTP, s.cfg.Site, req, stats, runErr, started)
	if _, err := s.deps.Runs.Record(context.WithoutCancel(ctx), run); err != nil {
		logging.FromContext(ctx).Warn("ingest: could not record run", slog.String("error", err.Error()))
	}
}

// queryInt parses a query value, returning def when it is absent or not a number.
func queryInt(v string, def int) int {
	n, err := strconv.Atoi(strings.TrimSpace(v))
	if err != nil {
		return def
	}
	return n
}
