// Package server implements the HTTP surface of sitechat: the SSE chat
// endpoint, the token-guarded ingestion trigger and the operational health endpoints.
// The server is started by the `sitechat serve` CLI command.
package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/sitechat-go/internal/chat"
	"github.com/54b3r/sitechat-go/internal/logging"
)

const (
	defaultChatTimeout   = 60 * time.Second
	defaultIngestTimeout = 5 * time.Minute
)

// New constructs a Server from its dependencies and config.
func New(deps Deps, cfg *Config) (*Server, error) {
	if deps.Chat == nil {
		return nil, errors.New("server: chat streamer must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.ChatTimeout == 0 {
		cfg.ChatTimeout = defaultChatTimeout
	}
	if cfg.IngestTimeout == 0 {
		cfg.IngestTimeout = defaultIngestTimeout
	}
	if cfg.WriteTimeout == 0 {
		// Must outlive the slowest streamed reply and ingest window.
		cfg.WriteTimeout = max(cfg.ChatTimeout, cfg.IngestTimeout) + 10*time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.New()
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	m := cfg.Metrics
	if m == nil {
		m = NewMetrics(cfg.MetricsRegistry)
	}

	s := &Server{
		deps:    deps,
		cfg:     cfg,
		log:     cfg.Logger,
		pingers: cfg.Pingers,
		metrics: m,
	}

	if cfg.APIKey == "" {
		s.log.Warn("server: SITECHAT_API_KEY not set, chat endpoint is public")
	}
	if cfg.IngestToken == "" {
		s.log.Warn("server: INGEST_TOKEN not set, ingest and debug endpoints reject all requests")
	}

	rl, stop := newRateLimiter(cfg.RateLimit, cfg.RateBurst, cfg.TrustProxy, s.log)
	s.stopRL = stop

	chatHandler := rl.middleware(authMiddleware(cfg.APIKey, http.HandlerFunc(s.handleChat)))
	ingestHandler := rl.middleware(tokenMiddleware(cfg.IngestToken, http.HandlerFunc(s.handleIngest)))

	mux := http.NewServeMux()
	mux.Handle("POST /api/chat", s.metrics.instrument("chat", chatHandler))
	mux.Handle("POST /chat", s.metrics.instrument("chat", chatHandler))
	mux.Handle("GET /api/ingest", s.metrics.instrument("ingest", ingestHandler))
	mux.Handle("GET /ingest", s.metrics.instrument("ingest", ingestHandler))
	mux.Handle("GET /api/ingest/runs", s.metrics.instrument("runs",
		tokenMiddleware(cfg.IngestToken, http.HandlerFunc(s.handleRuns))))
	mux.Handle("GET /api/fetchdebug", s.metrics.instrument("fetchdebug",
		rl.middleware(tokenMiddleware(cfg.IngestToken, http.HandlerFunc(s.handleFetchDebug)))))
	mux.Handle("GET /api/ping", s.metrics.instrument("ping", http.HandlerFunc(s.handlePing)))
	mux.Handle("GET /api/health", s.metrics.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.metrics.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      requestLogger(s.log, corsMiddleware(cfg.AllowedOrigins, mux)),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return s, nil
}

// Handler returns the root handler with all middleware applied.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopRL()
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server: listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		s.log.Info("server: stopped")
		return nil
	}
}

// errInvalidChatBody is the strict-mode 400 message. Decoder details stay in
// the log.
const errInvalidChatBody = "request body must be a JSON object with a non-empty message"

// handleChat handles POST /api/chat. The reply is streamed as Server-Sent
// Events, one `data: {"output_text": ...}` frame per generated fragment, and
// the stream simply ends when the answer is complete.
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	req, decodeErr := chat.DecodeRequest(r.Body)
	if s.cfg.StrictValidation {
		if decodeErr == nil {
			decodeErr = req.Validate()
		}
		if decodeErr != nil {
			s.metrics.chatRequestsTotal.WithLabelValues("invalid").Inc()
			log.Info("chat: request rejected", slog.String("error", decodeErr.Error()))
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": errInvalidChatBody})
			return
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache, no-transform")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	sink := &sseWriter{ctx: r.Context(), w: w, flusher: flusher}

	s.metrics.chatActiveStreams.Inc()
	defer s.metrics.chatActiveStreams.Dec()

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.ChatTimeout)
	defer cancel()
	if req.SessionID != "" {
		ctx = logging.With(ctx, slog.String("session_id", req.SessionID))
	}

	var res chat.Result
	if decodeErr != nil {
		res = s.deps.Chat.StreamInvalid(sink, decodeErr)
	} else {
		res = s.deps.Chat.Stream(ctx, req, sink)
	}

	outcome := res.Outcome()
	if outcome == "error" && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		outcome = "timeout"
	}
	s.metrics.chatRequestsTotal.WithLabelValues(outcome).Inc()
	s.metrics.chatDurationSeconds.WithLabelValues(outcome).Observe(res.Took.Seconds())

	attrs := []any{
		slog.String("outcome", outcome),
		slog.String("state", res.State.String()),
		slog.Int("events", res.Events),
		slog.Int("hits", res.Hits),
		slog.Duration("took", res.Took),
	}
	if res.Err != nil {
		attrs = append(attrs, slog.String("error", res.Err.Error()))
	}
	log.Info("chat: request completed", attrs...)
}

// handleHealth handles GET /api/health for liveness checks.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handlePing handles GET /api/ping with the server's clock in milliseconds.
func (s *Server) handlePing(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, pingResponse{OK: true, TS: time.Now().UnixMilli()})
}

// sseWriter is a chat.Sink that frames each fragment as an SSE data event.
type sseWriter struct {
	// ctx is the request context; once it is done the client is gone.
	ctx context.Context

	// w is the underlying response writer.
	w http.ResponseWriter

	// flusher flushes buffered data to the client after each event.
	flusher http.Flusher
}

// sseEvent is the JSON payload of one data frame.
type sseEvent struct {
	OutputText string `json:"output_text"`
}

// Send writes text as one `data:` frame and flushes it. JSON encoding keeps
// newlines inside the payload, so a fragment never splits the frame.
func (s *sseWriter) Send(text string) error {
	if err := s.ctx.Err(); err != nil {
		return err
	}
	payload, err := marshalNoEscape(sseEvent{OutputText: text})
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", payload); err != nil {
		return err
	}
	s.flusher.Flush()
	return nil
}

// writeJSON sets the content type, writes status and encodes v.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// marshalNoEscape encodes v as JSON without HTML escaping or a trailing newline.
func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
