package server

import (
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/54b3r/sitechat-go/internal/ingestion"
	"github.com/54b3r/sitechat-go/internal/logging"
	"github.com/54b3r/sitechat-go/internal/sitemap"
)

const (
	debugTitleRunes   = 120
	debugSnippetRunes = 400
)

// handleFetchDebug handles GET /api/fetchdebug?url=. It fetches one page the
// way ingestion would and reports status, timing, size and a preview of the
// extracted text, so operators can see why a page was skipped.
func (s *Server) handleFetchDebug(w http.ResponseWriter, r *http.Request) {
	if s.deps.Fetcher == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "fetcher is not configured"})
		return
	}
	log := logging.FromContext(r.Context())

	raw := strings.TrimSpace(r.URL.Query().Get("url"))
	target, err := url.Parse(raw)
	if raw == "" || err != nil || (target.Scheme != "http" && target.Scheme != "https") || target.Host == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "url must be an absolute http(s) URL"})
		return
	}
	if s.cfg.Site != "" {
		base, err := sitemap.ParseBase(s.cfg.Site)
		if err == nil && !sitemap.SameHost(target, base) {
			writeJSON(w, http.StatusBadRequest, errorResponse{Error: "url is not on the site host"})
			return
		}
	}

	res, err := s.deps.Fetcher.Fetch(r.Context(), target.String())
	if err != nil {
		log.Warn("fetchdebug: fetch failed", slog.String("url", target.String()), slog.String("error", err.Error()))
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: err.Error()})
		return
	}

	title, text := ingestion.Extract(string(res.Body))
	writeJSON(w, http.StatusOK, fetchDebugResponse{
		OK:      res.OK(),
		Status:  res.StatusCode,
		TookMS:  res.Took.Milliseconds(),
		Bytes:   len(res.Body),
		Title:   truncateRunes(title, debugTitleRunes),
		Snippet: truncateRunes(text, debugSnippetRunes),
	})
}

// truncateRunes returns at most n runes of s.
func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
