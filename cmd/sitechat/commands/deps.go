package commands

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/sitechat-go/internal/chat"
	"github.com/54b3r/sitechat-go/internal/config"
	"github.com/54b3r/sitechat-go/internal/embedder"
	"github.com/54b3r/sitechat-go/internal/ingestion"
	"github.com/54b3r/sitechat-go/internal/provider"
	"github.com/54b3r/sitechat-go/internal/rag"
	"github.com/54b3r/sitechat-go/internal/server"
	"github.com/54b3r/sitechat-go/internal/sitemap"
	"github.com/54b3r/sitechat-go/internal/store"
	"github.com/54b3r/sitechat-go/internal/version"
	"github.com/54b3r/sitechat-go/internal/webfetch"
)

// Vector store backends selectable with VECTOR_STORE.
const (
	storeQdrant   = "qdrant"
	storePostgres = "postgres"
)

// runsDisabled is the SITECHAT_RUNS_DB value that turns the run ledger off.
const runsDisabled = "disabled"

// siteURL returns SITE_BASE_URL or an error naming it.
func siteURL() (string, error) {
	base := config.String("SITE_BASE_URL", "")
	if _, err := sitemap.ParseBase(base); err != nil {
		return "", err
	}
	return strings.TrimRight(base, "/"), nil
}

// buildFetcher constructs the shared page fetcher.
func buildFetcher() *webfetch.Fetcher {
	return webfetch.New(webfetch.Config{
		UserAgent: version.UserAgent(),
		Timeout:   config.Duration("FETCH_TIMEOUT", webfetch.DefaultTimeout),
	})
}

// buildVectorStore opens the store selected by VECTOR_STORE with a vector
// size matching the embedding backend.
func buildVectorStore(ctx context.Context, log *slog.Logger) (rag.VectorStore, string, error) {
	backend := strings.ToLower(config.String("VECTOR_STORE", storeQdrant))
	dims := embedder.DefaultDimensions(embedder.Backend())

	switch backend {
	case storeQdrant:
		cfg := &rag.QdrantConfig{
			Host:       config.String("QDRANT_HOST", "localhost"),
			Port:       config.Int("QDRANT_PORT", 6334),
			Collection: config.String("QDRANT_COLLECTION", "web_chunks"),
			VectorSize: uint64(dims), //nolint:gosec // dimensions are bounded
			APIKey:     config.String("QDRANT_API_KEY", ""),
			UseTLS:     config.Bool("QDRANT_TLS", false),
		}
		s, err := rag.NewQdrantStore(ctx, cfg)
		if err != nil {
			return nil, "", fmt.Errorf("connect to Qdrant at %s:%d: %w", cfg.Host, cfg.Port, err)
		}
		log.Info("vector store ready",
			slog.String("backend", backend),
			slog.String("host", cfg.Host),
			slog.String("collection", cfg.Collection),
			slog.Int("dimensions", dims),
		)
		return s, backend, nil

	case storePostgres:
		cfg := &rag.PostgresConfig{
			DSN:         config.String("DATABASE_URL", ""),
			Table:       config.String("POSTGRES_TABLE", "web_chunks"),
			VectorSize:  dims,
			SkipMigrate: config.Bool("POSTGRES_SKIP_MIGRATE", false),
		}
		s, err := rag.NewPostgresStore(ctx, cfg)
		if err != nil {
			return nil, "", fmt.Errorf("connect to Postgres: %w", err)
		}
		log.Info("vector store ready",
			slog.String("backend", backend),
			slog.String("table", cfg.Table),
			slog.Int("dimensions", dims),
		)
		return s, backend, nil

	default:
		return nil, "", fmt.Errorf("unknown VECTOR_STORE %q (valid: %s, %s)", backend, storeQdrant, storePostgres)
	}
}

// buildPipeline wires the sitemap resolver, fetcher, embedder and store into
// an ingestion pipeline.
func buildPipeline(ctx context.Context, log *slog.Logger, vs rag.VectorStore, fetcher *webfetch.Fetcher, observer ingestion.Observer) (*ingestion.Pipeline, error) {
	base, err := siteURL()
	if err != nil {
		return nil, err
	}
	if err := embedder.Validate(log); err != nil {
		return nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, fmt.Errorf("initialise embedder: %w", err)
	}

	resolver, err := sitemap.NewResolver(fetcher, sitemap.Config{
		BaseURL:     base,
		Path:        config.String("SITEMAP_PATH", sitemap.DefaultPath),
		Prefixes:    config.List("SITEMAP_PREFIXES"),
		MaxSitemaps: config.Int("SITEMAP_MAX_DOCUMENTS", sitemap.DefaultMaxSitemaps),
	})
	if err != nil {
		return nil, err
	}

	return ingestion.NewPipeline(emb, vs, resolver, fetcher, ingestion.Config{
		ChunkMaxChars: config.Int("CHUNK_MAX_CHARS", ingestion.DefaultChunkMaxChars),
		BatchSize:     config.Int("EMBED_BATCH_SIZE", ingestion.DefaultBatchSize),
		Delay:         config.Duration("INGEST_DELAY", ingestion.DefaultDelay),
		PruneStale:    config.Bool("INGEST_PRUNE_STALE", false),
		Observer:      observer,
	})
}

// buildStreamer wires the embedder, ranker and chat model into a chat.Streamer.
func buildStreamer(ctx context.Context, log *slog.Logger, vs rag.VectorStore) (*chat.Streamer, *provider.Config, error) {
	providerCfg := provider.FromEnv()
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise model provider: %w", err)
	}
	log.Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)

	if err := embedder.Validate(log); err != nil {
		return nil, nil, err
	}
	emb, err := embedder.NewFromEnv(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("initialise embedder: %w", err)
	}

	ranker, err := rag.NewRanker(vs, rag.RankerConfig{
		MatchCount:          config.Int("RAG_MATCH_COUNT", rag.DefaultMatchCount),
		SimilarityThreshold: config.Float32("RAG_SIMILARITY_THRESHOLD", rag.DefaultSimilarityThreshold),
		MaxPerURL:           config.Int("RAG_MAX_PER_URL", rag.DefaultMaxPerURL),
		MaxTotal:            config.Int("RAG_MAX_TOTAL", rag.DefaultMaxTotal),
		SearchTimeout:       config.Duration("RAG_SEARCH_TIMEOUT", rag.DefaultSearchTimeout),
	})
	if err != nil {
		return nil, nil, err
	}

	streamer, err := chat.NewStreamer(emb, ranker, chatModel, chat.Config{
		SystemPrompt:     config.String("CHAT_SYSTEM_PROMPT", ""),
		TopK:             config.Int("RAG_MAX_TOTAL", rag.DefaultMaxTotal),
		MaxContextTokens: config.Int("CHAT_CONTEXT_TOKENS", 0),
	})
	if err != nil {
		return nil, nil, err
	}
	return streamer, providerCfg, nil
}

// openRunLog opens the ingest run ledger. SITECHAT_RUNS_DB overrides the
// default path (~/.sitechat/runs.db); "disabled" turns it off. A ledger that
// cannot be opened is logged and disabled rather than failing the command.
func openRunLog(log *slog.Logger) *store.SQLiteRunLog {
	dbPath := config.String("SITECHAT_RUNS_DB", "")
	if dbPath == runsDisabled {
		log.Info("runs: ledger disabled via SITECHAT_RUNS_DB=disabled")
		return nil
	}
	if dbPath == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			log.Warn("runs: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
		dbPath = p
	}
	rl, err := store.Open(dbPath)
	if err != nil {
		log.Warn("runs: failed to open ledger, disabling", slog.Any("error", err))
		return nil
	}
	log.Debug("runs: ledger opened", slog.String("path", dbPath))
	return rl
}

// buildPingers returns the readiness checks for serve: the vector store, the
// run ledger when open, and the Ollama daemon when it backs generation.
func buildPingers(vs rag.VectorStore, backend string, runs *store.SQLiteRunLog, providerCfg *provider.Config) []server.Pinger {
	pingers := []server.Pinger{server.NewStorePinger(backend, vs)}
	if runs != nil {
		pingers = append(pingers, server.NewStorePinger("runs", runs))
	}
	if providerCfg.Backend == provider.BackendOllama {
		host := strings.TrimRight(providerCfg.Ollama.Host, "/")
		pingers = append(pingers, server.NewHTTPPinger("ollama", host+"/api/tags"))
	}
	return pingers
}
