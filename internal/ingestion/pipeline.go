// Package ingestion implements the site ingestion pipeline.
// It resolves page URLs from the sitemap, fetches each page, extracts its
// visible text, splits it into sentence-aligned chunks, embeds the chunks and
// upserts them into the vector store keyed by content hash.
// This pipeline is invoked by the `sitechat ingest` CLI command and the
// /ingest HTTP endpoint.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/54b3r/sitechat-go/internal/logging"
	"github.com/54b3r/sitechat-go/internal/rag"
	"github.com/54b3r/sitechat-go/internal/sitemap"
	"github.com/54b3r/sitechat-go/internal/webfetch"
)

const (
	// DefaultBatchSize is the number of chunks sent per embedding call.
	DefaultBatchSize = 16
	// DefaultDelay is the minimum spacing between page fetches.
	DefaultDelay = 150 * time.Millisecond
	// DefaultLimit is the page count processed when Request.Limit is zero.
	DefaultLimit = 10
	// MaxLimit is the largest page count one Run processes.
	MaxLimit = 50
)

// ErrForeignHost is returned when an explicit URL is not on the indexed site.
var ErrForeignHost = errors.New("ingestion: url is not on the site host")

// ErrInvalidURL is returned when an explicit URL is not an absolute http(s) URL.
var ErrInvalidURL = errors.New("ingestion: invalid url")

// URLSource yields the candidate page URLs of the site. *sitemap.Resolver
// satisfies it.
type URLSource interface {
	Resolve(ctx context.Context) ([]string, error)
	Base() *url.URL
}

// Fetcher retrieves one page. *webfetch.Fetcher satisfies it.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (*webfetch.Result, error)
}

// Outcome classifies what happened to one page.
type Outcome string

const (
	// OutcomeIngested means at least one chunk was written.
	OutcomeIngested Outcome = "ingested"
	// OutcomeSkipped means the page was unreachable or had no text.
	OutcomeSkipped Outcome = "skipped"
	// OutcomeFailed means embedding or storage failed and the run aborted.
	OutcomeFailed Outcome = "failed"
)

// PageResult reports the processing of one page to an Observer.
type PageResult struct {
	URL     string
	Outcome Outcome
	Chunks  int
	Pruned  int
	Took    time.Duration
	Err     error
}

// Observer receives per-page results. Implementations must not block.
type Observer interface {
	ObservePage(PageResult)
}

// Config holds the configuration for the ingestion pipeline.
type Config struct {
	// ChunkMaxChars is the soft maximum characters per chunk.
	// Defaults to DefaultChunkMaxChars if zero.
	ChunkMaxChars int

	// BatchSize is the number of chunks per embedding request.
	// Defaults to DefaultBatchSize if zero.
	BatchSize int

	// Delay is the minimum interval between page fetches.
	// Defaults to DefaultDelay if zero; negative disables pacing.
	Delay time.Duration

	// PruneStale deletes rows of a re-ingested URL whose hash was not
	// rewritten in this run.
	PruneStale bool

	// Observer, when non-nil, is notified after every page.
	Observer Observer
}

// Request selects the pages one Run processes.
type Request struct {
	// Sections restricts resolved URLs to these sections. Empty means all.
	Sections []Section

	// Limit is the number of URLs processed, clamped to 1..MaxLimit.
	Limit int

	// Offset is the index of the first URL in the sorted resolved set.
	Offset int

	// URL, when set, bypasses sitemap resolution and ingests exactly this page.
	URL string
}

// Stats summarises one Run.
type Stats struct {
	// URLs are the page URLs selected for this run.
	URLs []string `json:"urls"`
	// Total is the size of the resolved URL set before pagination.
	Total int `json:"total"`
	// Processed counts pages with at least one chunk written.
	Processed int `json:"processed"`
	// Skipped counts pages that were unreachable or had no text.
	Skipped int `json:"skipped"`
	// Chunks counts chunks written.
	Chunks int `json:"chunks"`
	// Pruned counts stale rows deleted.
	Pruned int `json:"pruned"`
	// Limit and Offset echo the effective pagination window.
	Limit  int `json:"limit"`
	Offset int `json:"offset"`
	// NextOffset is the offset of the following page window, or nil when done.
	NextOffset *int `json:"next_offset"`
}

// Done reports whether the run reached the end of the resolved set.
func (s Stats) Done() bool {
	return s.NextOffset == nil
}

// Pipeline orchestrates the resolve → fetch → extract → chunk → embed → upsert
// flow. A Pipeline is safe for sequential reuse; concurrent Runs share the
// fetch limiter.
type Pipeline struct {
	// embedder converts chunk text into dense vectors.
	embedder rag.Embedder

	// store persists the embedded chunks.
	store rag.VectorStore

	// urls resolves the candidate page set.
	urls URLSource

	// fetcher downloads pages.
	fetcher Fetcher

	// limiter paces page fetches; nil when pacing is disabled.
	limiter *rate.Limiter

	// cfg holds the resolved pipeline configuration.
	cfg Config

	// now is the clock used for FetchedAt. Overridden in tests.
	now func() time.Time
}

// NewPipeline constructs a Pipeline from the provided dependencies and config.
func NewPipeline(embedder rag.Embedder, store rag.VectorStore, urls URLSource, fetcher Fetcher, cfg Config) (*Pipeline, error) {
	if embedder == nil {
		return nil, fmt.Errorf("ingestion: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("ingestion: store must not be nil")
	}
	if urls == nil {
		return nil, fmt.Errorf("ingestion: url source must not be nil")
	}
	if fetcher == nil {
		return nil, fmt.Errorf("ingestion: fetcher must not be nil")
	}
	if cfg.ChunkMaxChars <= 0 {
		cfg.ChunkMaxChars = DefaultChunkMaxChars
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	if cfg.Delay == 0 {
		cfg.Delay = DefaultDelay
	}

	var limiter *rate.Limiter
	if cfg.Delay > 0 {
		limiter = rate.NewLimiter(rate.Every(cfg.Delay), 1)
	}

	return &Pipeline{
		embedder: embedder,
		store:    store,
		urls:     urls,
		fetcher:  fetcher,
		limiter:  limiter,
		cfg:      cfg,
		now:      time.Now,
	}, nil
}

// ClampLimit bounds a requested page count to 1..MaxLimit, mapping zero or
// negative values to DefaultLimit.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultLimit
	case limit > MaxLimit:
		return MaxLimit
	default:
		return limit
	}
}

// Run ingests the pages selected by req. Pages that cannot be fetched or have
// no text are skipped. An embedding or storage failure aborts the run and
// returns the stats gathered so far together with the error; chunks already
// upserted remain in the store.
func (p *Pipeline) Run(ctx context.Context, req Request) (Stats, error) {
	log := logging.FromContext(ctx)

	stats := Stats{Limit: ClampLimit(req.Limit), Offset: max(req.Offset, 0)}

	if req.URL != "" {
		target, err := p.explicitURL(req.URL)
		if err != nil {
			return stats, err
		}
		stats.URLs = []string{target}
		stats.Total = 1
		stats.Limit = 1
		stats.Offset = 0
	} else {
		all, err := p.urls.Resolve(ctx)
		if err != nil {
			return stats, fmt.Errorf("ingestion: resolve sitemap: %w", err)
		}
		if len(req.Sections) > 0 {
			all = FilterBySection(all, req.Sections)
		}
		stats.Total = len(all)
		start := min(stats.Offset, len(all))
		end := min(start+stats.Limit, len(all))
		stats.URLs = all[start:end]
		if end < len(all) {
			next := end
			stats.NextOffset = &next
		}
	}

	log.Info("ingestion: run started",
		slog.Int("total", stats.Total),
		slog.Int("selected", len(stats.URLs)),
		slog.Int("offset", stats.Offset),
	)

	for _, pageURL := range stats.URLs {
		res := p.ingestPage(ctx, pageURL)
		p.observe(res)

		switch res.Outcome {
		case OutcomeIngested:
			stats.Processed++
			stats.Chunks += res.Chunks
			stats.Pruned += res.Pruned
		case OutcomeSkipped:
			stats.Skipped++
			if res.Err != nil && ctx.Err() != nil {
				return stats, ctx.Err()
			}
		case OutcomeFailed:
			// Batches upserted before the failure stay in the store.
			if res.Chunks > 0 {
				stats.Processed++
			}
			stats.Chunks += res.Chunks
			return stats, res.Err
		}
	}

	log.Info("ingestion: run finished",
		slog.Int("processed", stats.Processed),
		slog.Int("skipped", stats.Skipped),
		slog.Int("chunks", stats.Chunks),
		slog.Int("pruned", stats.Pruned),
	)
	return stats, nil
}

// explicitURL validates a single-page request against the site host.
func (p *Pipeline) explicitURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return "", fmt.Errorf("%w %q", ErrInvalidURL, raw)
	}
	if !sitemap.SameHost(u, p.urls.Base()) {
		return "", fmt.Errorf("%w: %s", ErrForeignHost, u.Host)
	}
	u.Fragment = ""
	u.RawFragment = ""
	return u.String(), nil
}

// ingestPage runs one page through fetch, extract, chunk, embed and upsert.
func (p *Pipeline) ingestPage(ctx context.Context, pageURL string) PageResult {
	log := logging.FromContext(ctx).With(slog.String("url", pageURL))
	start := time.Now()
	res := PageResult{URL: pageURL}
	done := func(o Outcome, err error) PageResult {
		res.Outcome = o
		res.Err = err
		res.Took = time.Since(start)
		return res
	}

	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return done(OutcomeSkipped, err)
		}
	}

	page, err := p.fetcher.Fetch(ctx, pageURL)
	if err != nil {
		log.Warn("ingestion: fetch failed", slog.String("error", err.Error()))
		return done(OutcomeSkipped, err)
	}
	if !page.OK() || len(page.Body) == 0 {
		log.Warn("ingestion: page skipped", slog.Int("status", page.StatusCode), slog.Int("bytes", len(page.Body)))
		return done(OutcomeSkipped, nil)
	}

	title, text := Extract(string(page.Body))
	if text == "" {
		log.Warn("ingestion: page has no text")
		return done(OutcomeSkipped, nil)
	}

	pieces := Chunk(text, p.cfg.ChunkMaxChars)
	if len(pieces) == 0 {
		return done(OutcomeSkipped, nil)
	}

	fetchedAt := p.now().UTC()
	section := string(InferSection(pageURL))
	written := make([]string, 0, len(pieces))

	for lo := 0; lo < len(pieces); lo += p.cfg.BatchSize {
		hi := min(lo+p.cfg.BatchSize, len(pieces))
		batch := pieces[lo:hi]

		vectors, err := p.embedder.Embed(ctx, batch)
		if err != nil {
			log.Warn("ingestion: embed failed",
				slog.Int("batch_start", lo),
				slog.Bool("temporary", temporary(err)),
				slog.String("error", err.Error()),
			)
			return done(OutcomeFailed, fmt.Errorf("ingestion: embed %s: %w", pageURL, err))
		}
		if len(vectors) != len(batch) {
			return done(OutcomeFailed, fmt.Errorf("ingestion: embed %s: got %d vectors for %d chunks", pageURL, len(vectors), len(batch)))
		}

		chunks := make([]rag.Chunk, len(batch))
		for i, content := range batch {
			hash := rag.ContentHash(pageURL, content)
			chunks[i] = rag.Chunk{
				URL:         pageURL,
				Title:       title,
				Content:     content,
				ContentHash: hash,
				Section:     section,
				FetchedAt:   fetchedAt,
				Embedding:   vectors[i],
			}
		}
		if err := p.store.Upsert(ctx, chunks); err != nil {
			return done(OutcomeFailed, fmt.Errorf("ingestion: upsert %s: %w", pageURL, err))
		}
		for _, c := range chunks {
			written = append(written, c.ContentHash)
		}
		res.Chunks += len(chunks)
	}

	if p.cfg.PruneStale {
		n, err := p.store.DeleteStale(ctx, pageURL, written)
		if err != nil {
			log.Warn("ingestion: prune failed", slog.String("error", err.Error()))
		}
		res.Pruned = n
	}

	log.Debug("ingestion: page ingested", slog.Int("chunks", res.Chunks), slog.Int("pruned", res.Pruned))
	return done(OutcomeIngested, nil)
}

// temporary reports whether err, or an error it wraps, says that retrying
// later may succeed. Provider errors such as embedder.UpstreamError carry
// this for rate limits and 5xx answers.
func temporary(err error) bool {
	var t interface{ Temporary() bool }
	return errors.As(err, &t) && t.Temporary()
}

// observe forwards res to the configured Observer, if any.
func (p *Pipeline) observe(res PageResult) {
	if p.cfg.Observer != nil {
		p.cfg.Observer.ObservePage(res)
	}
}
