package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/sitechat-go/internal/chat"
	"github.com/54b3r/sitechat-go/internal/ingestion"
	"github.com/54b3r/sitechat-go/internal/store"
	"github.com/54b3r/sitechat-go/internal/webfetch"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// ChatTimeout bounds one /api/chat request end to end. Defaults to 60s.
	ChatTimeout time.Duration
	// IngestTimeout bounds one /ingest request. Defaults to 5m.
	IngestTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [logging.New] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency checks run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained request rate allowed per IP on rate-limited
	// endpoints (requests/second). Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the maximum instantaneous burst per IP. Defaults to 20 if zero.
	RateBurst int
	// TrustProxy makes the rate limiter key on the first X-Forwarded-For hop.
	// Enable only behind a proxy that overwrites the header.
	TrustProxy bool
	// APIKey is the Bearer token required on the chat routes.
	// If empty, chat is public.
	APIKey string
	// IngestToken guards /ingest, /api/fetchdebug and /api/ingest/runs.
	// If empty, those routes reject every request.
	IngestToken string
	// AllowedOrigins is the CORS allow-list. Empty allows any origin.
	AllowedOrigins []string
	// StrictValidation answers a missing message with 400 instead of a
	// streamed prompt.
	StrictValidation bool
	// Site is the indexed site origin recorded in the run ledger and used to
	// restrict /api/fetchdebug to the site's host.
	Site string
	// MetricsRegistry receives the server's collectors. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer backs GET /metrics. Defaults to prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
	// Metrics, when set, is used instead of registering a new Metrics on
	// MetricsRegistry. Share it with the ingestion pipeline's Observer.
	Metrics *Metrics
}

// answerer streams chat replies. *chat.Streamer satisfies it.
type answerer interface {
	Stream(ctx context.Context, req chat.Request, sink chat.Sink) chat.Result
	StreamInvalid(sink chat.Sink, decodeErr error) chat.Result
}

// ingester runs one paginated ingestion window. *ingestion.Pipeline satisfies it.
type ingester interface {
	Run(ctx context.Context, req ingestion.Request) (ingestion.Stats, error)
}

// pageFetcher retrieves one page for /api/fetchdebug. *webfetch.Fetcher satisfies it.
type pageFetcher interface {
	Fetch(ctx context.Context, rawURL string) (*webfetch.Result, error)
}

// Deps are the components the server routes requests to. Chat is required;
// a nil Ingester, Fetcher or Runs disables the routes that need it.
type Deps struct {
	Chat     answerer
	Ingester ingester
	Fetcher  pageFetcher
	Runs     store.RunLog
}

// Server is the HTTP server that fronts the chat streamer and ingestion pipeline.
type Server struct {
	// deps holds the request handlers' collaborators.
	deps Deps
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency checks for GET /api/ready.
	pingers []Pinger
	// metrics holds the Prometheus collectors for this server.
	metrics *Metrics
	// stopRL stops the rate limiter's background eviction goroutine on shutdown.
	stopRL func()
}

// ingestResponse is the JSON body returned by GET /ingest.
type ingestResponse struct {
	OK bool `json:"ok"`
	// URLs is the number of URLs considered in this window.
	URLs int `json:"urls"`
	// Selected lists those URLs in processing order.
	Selected   []string `json:"selected"`
	Processed  int      `json:"processed"`
	Skipped    int      `json:"skipped"`
	Chunks     int      `json:"chunks"`
	Pruned     int      `json:"pruned"`
	Limit      int      `json:"limit"`
	Offset     int      `json:"offset"`
	Only       *string  `json:"only"`
	Total      int      `json:"total"`
	NextOffset *int     `json:"next_offset"`
}

// errorResponse is the JSON body for failed ingest, fetchdebug and runs calls.
type errorResponse struct {
	OK    bool   `json:"ok"`
	Error string `json:"error"`
}

// fetchDebugResponse is the JSON body returned by GET /api/fetchdebug.
type fetchDebugResponse struct {
	OK      bool   `json:"ok"`
	Status  int    `json:"status"`
	TookMS  int64  `json:"took_ms"`
	Bytes   int    `json:"bytes"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// pingResponse is the JSON body returned by GET /api/ping.
type pingResponse struct {
	OK bool  `json:"ok"`
	TS int64 `json:"ts"`
}

// runsResponse is the JSON body returned by GET /api/ingest/runs.
type runsResponse struct {
	Runs []store.Run `json:"runs"`
}
