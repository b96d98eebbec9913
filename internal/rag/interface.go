// Package rag defines the storage and retrieval types for site chunks:
// the vector store contract, the embedder contract and the ranker that turns
// raw similarity hits into the context passed to generation.
// Concrete stores (Qdrant, Postgres/pgvector) satisfy VectorStore so the
// ingestion and chat layers never depend on a specific backend.
package rag

import (
	"context"
	"time"
)

// Chunk is one indexed piece of page text. ContentHash is the upsert key:
// writing a chunk whose hash already exists overwrites that row.
type Chunk struct {
	// URL is the canonical page URL the chunk was cut from.
	URL string

	// Title is the page title at ingestion time.
	Title string

	// Content is the chunk text.
	Content string

	// ContentHash is hex(sha256(URL + "|" + Content)); see ContentHash.
	ContentHash string

	// Section is the page category (pages, policies, blogs, collections, products).
	Section string

	// FetchedAt is when the page was fetched.
	FetchedAt time.Time

	// Embedding is the dense vector for Content. Empty on search results.
	Embedding []float32
}

// Hit is a chunk returned by similarity search.
type Hit struct {
	Chunk

	// Similarity is the store's score for the query; higher is closer.
	Similarity float32
}

// VectorStore persists chunks and answers similarity queries.
// Implementations must be safe to call from multiple goroutines.
type VectorStore interface {
	// Upsert inserts or overwrites chunks keyed by ContentHash. Every chunk
	// must carry its embedding.
	Upsert(ctx context.Context, chunks []Chunk) error

	// Search returns at most matchCount hits whose similarity is at least
	// threshold, ordered by descending similarity.
	Search(ctx context.Context, queryEmbedding []float32, matchCount int, threshold float32) ([]Hit, error)

	// DeleteStale removes chunks of url whose hash is not in keep and returns
	// the number removed.
	DeleteStale(ctx context.Context, url string, keep []string) (int, error)

	// Ping checks connectivity to the backend.
	Ping(ctx context.Context) error

	// Close releases any resources held by the store.
	Close() error
}

// Embedder is the interface for converting text into dense vector embeddings.
// Implementations must be safe to call from multiple goroutines.
type Embedder interface {
	// Embed converts a batch of texts into their corresponding embeddings.
	// The returned slice is parallel to the input slice.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
