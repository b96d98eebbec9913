package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/sitechat-go/internal/config"
	"github.com/54b3r/sitechat-go/internal/logging"
	"github.com/54b3r/sitechat-go/internal/server"
	"github.com/54b3r/sitechat-go/internal/tracing"
)

// NewServeCmd constructs the `sitechat serve` command, which starts the chat
// and ingestion HTTP server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the sitechat HTTP server",
		Long: `Start the sitechat HTTP server.

The server answers POST /api/chat with a Server-Sent Events stream, runs
paginated ingestion windows on GET /ingest?token=..., and exposes
/api/health, /api/ready and /metrics.

Examples:
  sitechat serve
  sitechat serve --port 9090
  VECTOR_STORE=postgres DATABASE_URL=postgres://... sitechat serve`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			// Flags win over SITECHAT_HOST/SITECHAT_PORT, which are only
			// readable once the .env and YAML files have been applied.
			if !cmd.Flags().Changed("host") {
				host = config.String("SITECHAT_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = config.Int("SITECHAT_PORT", port)
			}

			flush, ok := tracing.Setup(tracing.FromEnv())
			defer flush()
			if ok {
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			vs, backend, err := buildVectorStore(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = vs.Close() }()

			streamer, providerCfg, err := buildStreamer(ctx, log, vs)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			// One collector set is shared by the handlers and the pipeline observer.
			metrics := server.NewMetrics(prometheus.DefaultRegisterer)

			fetcher := buildFetcher()
			deps := server.Deps{Chat: streamer, Fetcher: fetcher}

			pipeline, err := buildPipeline(ctx, log, vs, fetcher, metrics)
			if err != nil {
				log.Warn("ingest disabled", slog.Any("error", err))
			} else {
				deps.Ingester = pipeline
			}

			// An invalid SITE_BASE_URL already disabled ingest above.
			site, _ := siteURL()

			runs := openRunLog(log)
			if runs != nil {
				defer func() { _ = runs.Close() }()
				deps.Runs = runs
			}

			srv, err := server.New(deps, &server.Config{
				Host:             host,
				Port:             port,
				Logger:           log,
				Pingers:          buildPingers(vs, backend, runs, providerCfg),
				TrustProxy:       config.Bool("SITECHAT_TRUST_PROXY", false),
				APIKey:           config.String("SITECHAT_API_KEY", ""),
				IngestToken:      config.String("INGEST_TOKEN", ""),
				AllowedOrigins:   config.List("CORS_ALLOWED_ORIGINS"),
				StrictValidation: config.Bool("CHAT_STRICT_VALIDATION", false),
				ChatTimeout:      config.Duration("CHAT_TIMEOUT", 0),
				IngestTimeout:    config.Duration("INGEST_TIMEOUT", 0),
				Site:             site,
				Metrics:          metrics,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
