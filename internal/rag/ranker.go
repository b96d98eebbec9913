package rag

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sort"
	"time"

	"github.com/54b3r/sitechat-go/internal/logging"
)

// Ranker defaults.
const (
	DefaultMatchCount          = 12
	DefaultSimilarityThreshold = 0.05
	DefaultMaxPerURL           = 1
	DefaultMaxTotal            = 5
	DefaultSearchTimeout       = 5 * time.Second
)

// RankerConfig tunes retrieval. Zero values select the package defaults.
type RankerConfig struct {
	// MatchCount is the over-fetch count requested from the store. It is
	// raised to k when a caller asks for more.
	MatchCount int

	// SimilarityThreshold drops hits scoring below it.
	SimilarityThreshold float32

	// MaxPerURL caps hits kept per distinct page URL.
	MaxPerURL int

	// MaxTotal caps the number of hits returned when the caller passes k <= 0.
	MaxTotal int

	// SearchTimeout bounds the store search.
	SearchTimeout time.Duration
}

// Ranker turns a query vector into a short, page-diverse list of hits.
// It is stateless between calls and safe for concurrent use.
type Ranker struct {
	store VectorStore
	cfg   RankerConfig
}

// NewRanker constructs a Ranker over store, applying defaults to cfg.
func NewRanker(store VectorStore, cfg RankerConfig) (*Ranker, error) {
	if store == nil {
		return nil, errors.New("rag: store must not be nil")
	}
	if cfg.MatchCount <= 0 {
		cfg.MatchCount = DefaultMatchCount
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.MaxPerURL <= 0 {
		cfg.MaxPerURL = DefaultMaxPerURL
	}
	if cfg.MaxTotal <= 0 {
		cfg.MaxTotal = DefaultMaxTotal
	}
	if cfg.SearchTimeout <= 0 {
		cfg.SearchTimeout = DefaultSearchTimeout
	}
	return &Ranker{store: store, cfg: cfg}, nil
}

// Retrieve searches the store with queryEmbedding, moves hits on the
// current page to the front and applies the per-URL cap, returning at most
// k hits (MaxTotal when k <= 0). A failed or timed-out search yields no hits.
func (r *Ranker) Retrieve(ctx context.Context, queryEmbedding []float32, currentPageURL string, k int) []Hit {
	if k <= 0 {
		k = r.cfg.MaxTotal
	}
	matchCount := max(r.cfg.MatchCount, k)

	searchCtx, cancel := context.WithTimeout(ctx, r.cfg.SearchTimeout)
	defer cancel()

	start := time.Now()
	hits, err := r.store.Search(searchCtx, queryEmbedding, matchCount, r.cfg.SimilarityThreshold)
	if err != nil {
		logging.FromContext(ctx).Warn("rag: search failed, continuing without context",
			slog.String("error", err.Error()),
			slog.Duration("elapsed", time.Since(start)),
		)
		return nil
	}

	ranked := DiversityCap(PrioritizeCurrentPage(hits, currentPageURL), r.cfg.MaxPerURL, k)

	logging.FromContext(ctx).Debug("rag: retrieved",
		slog.Int("candidates", len(hits)),
		slog.Int("kept", len(ranked)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return ranked
}

// PrioritizeCurrentPage returns a copy of hits where every hit whose URL path
// equals the path of pageURL precedes every other hit. Relative order is
// otherwise preserved. An empty or unparseable pageURL leaves the order as is.
func PrioritizeCurrentPage(hits []Hit, pageURL string) []Hit {
	out := make([]Hit, len(hits))
	copy(out, hits)
	if pageURL == "" {
		return out
	}
	target, err := url.Parse(pageURL)
	if err != nil {
		return out
	}

	onPage := func(h Hit) bool {
		u, err := url.Parse(h.URL)
		return err == nil && u.Path == target.Path
	}
	sort.SliceStable(out, func(i, j int) bool {
		return onPage(out[i]) && !onPage(out[j])
	})
	return out
}

// DiversityCap walks hits in order keeping at most maxPerURL per distinct
// URL and stops after maxTotal. Hits without a URL are dropped.
func DiversityCap(hits []Hit, maxPerURL, maxTotal int) []Hit {
	if maxPerURL <= 0 || maxTotal <= 0 {
		return nil
	}
	seen := make(map[string]int)
	out := make([]Hit, 0, min(len(hits), maxTotal))
	for _, h := range hits {
		if h.URL == "" || seen[h.URL] >= maxPerURL {
			continue
		}
		seen[h.URL]++
		out = append(out, h)
		if len(out) >= maxTotal {
			break
		}
	}
	return out
}
