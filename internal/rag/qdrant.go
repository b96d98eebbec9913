package rag

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
)

// Payload keys written on every Qdrant point.
const (
	payloadURL         = "url"
	payloadTitle       = "title"
	payloadContent     = "content"
	payloadContentHash = "content_hash"
	payloadSection     = "section"
	payloadFetchedAt   = "fetched_at"
)

// pointNamespace seeds the deterministic point IDs derived from content hashes.
var pointNamespace = uuid.MustParse("6f1c2b0e-8a1d-5c4e-9b7a-3d2e1f0a9c8b")

// QdrantConfig holds connection parameters for a Qdrant vector store instance.
type QdrantConfig struct {
	// Host is the Qdrant server hostname (default: localhost).
	Host string

	// Port is the Qdrant gRPC port (default: 6334).
	Port int

	// Collection is the Qdrant collection name to use (default: web_chunks).
	Collection string

	// VectorSize is the dimensionality of the embeddings stored in this collection.
	VectorSize uint64

	// APIKey is the optional Qdrant API key for authenticated clusters.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool
}

// QdrantStore implements VectorStore backed by a Qdrant instance.
type QdrantStore struct {
	// client is the underlying Qdrant gRPC client.
	client *qdrant.Client

	// cfg holds the resolved configuration for this store.
	cfg *QdrantConfig
}

// NewQdrantStore creates a new QdrantStore, ensuring the target collection
// exists (creating it if necessary), and returns a ready-to-use VectorStore.
func NewQdrantStore(ctx context.Context, cfg *QdrantConfig) (*QdrantStore, error) {
	if cfg.Host == "" {
		cfg.Host = "localhost"
	}
	if cfg.Port == 0 {
		cfg.Port = 6334
	}
	if cfg.Collection == "" {
		cfg.Collection = "web_chunks"
	}
	if cfg.VectorSize == 0 {
		return nil, errors.New("qdrant: vector size must be set")
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   cfg.Host,
		Port:   cfg.Port,
		APIKey: cfg.APIKey,
		UseTLS: cfg.UseTLS,
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: failed to create client: %w", err)
	}

	store := &QdrantStore{client: client, cfg: cfg}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	return store, nil
}

// ensureCollection creates the collection and its url index if the
// collection does not already exist.
func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	exists, err := s.client.CollectionExists(ctx, s.cfg.Collection)
	if err != nil {
		return fmt.Errorf("qdrant: failed to check collection existence: %w", err)
	}
	if exists {
		return nil
	}

	err = s.client.CreateCollection(ctx, &qdrant.CreateCollection{
		CollectionName: s.cfg.Collection,
		VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
			Size:     s.cfg.VectorSize,
			Distance: qdrant.Distance_Cosine,
		}),
	})
	if err != nil {
		return fmt.Errorf("qdrant: failed to create collection %q: %w", s.cfg.Collection, err)
	}

	for _, field := range []string{payloadURL, payloadContentHash} {
		_, err = s.client.CreateFieldIndex(ctx, &qdrant.CreateFieldIndexCollection{
			CollectionName: s.cfg.Collection,
			FieldName:      field,
			FieldType:      qdrant.FieldType_FieldTypeKeyword.Enum(),
		})
		if err != nil {
			return fmt.Errorf("qdrant: failed to index %q: %w", field, err)
		}
	}

	return nil
}

// PointID maps a content hash to the deterministic UUID used as the point ID,
// so re-upserting the same chunk overwrites its point.
func PointID(contentHash string) string {
	return uuid.NewSHA1(pointNamespace, []byte(contentHash)).String()
}

// Upsert writes chunks as points keyed by PointID(ContentHash) and waits for
// the write to be applied.
func (s *QdrantStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	points := make([]*qdrant.PointStruct, 0, len(chunks))
	for _, c := range chunks {
		if c.ContentHash == "" {
			return fmt.Errorf("qdrant: chunk of %s has no content hash", c.URL)
		}
		if len(c.Embedding) == 0 {
			return fmt.Errorf("qdrant: chunk %s has no embedding", c.ContentHash)
		}
		fetched := c.FetchedAt
		if fetched.IsZero() {
			fetched = time.Now()
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(PointID(c.ContentHash)),
			Vectors: qdrant.NewVectors(c.Embedding...),
			Payload: qdrant.NewValueMap(map[string]any{
				payloadURL:         c.URL,
				payloadTitle:       c.Title,
				payloadContent:     c.Content,
				payloadContentHash: c.ContentHash,
				payloadSection:     c.Section,
				payloadFetchedAt:   fetched.UTC().Format(time.RFC3339),
			}),
		})
	}

	wait := true
	_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points:         points,
	})
	if err != nil {
		return fmt.Errorf("qdrant: upsert failed: %w", err)
	}

	return nil
}

// Search performs a cosine similarity search with a score threshold.
func (s *QdrantStore) Search(ctx context.Context, queryEmbedding []float32, matchCount int, threshold float32) ([]Hit, error) {
	limit := uint64(max(matchCount, 1))
	results, err := s.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: s.cfg.Collection,
		Query:          qdrant.NewQuery(queryEmbedding...),
		Limit:          &limit,
		ScoreThreshold: &threshold,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, fmt.Errorf("qdrant: search failed: %w", err)
	}

	hits := make([]Hit, 0, len(results))
	for _, r := range results {
		h := Hit{Similarity: r.Score}
		if p := r.Payload; p != nil {
			h.URL = p[payloadURL].GetStringValue()
			h.Title = p[payloadTitle].GetStringValue()
			h.Content = p[payloadContent].GetStringValue()
			h.ContentHash = p[payloadContentHash].GetStringValue()
			h.Section = p[payloadSection].GetStringValue()
			if ts, err := time.Parse(time.RFC3339, p[payloadFetchedAt].GetStringValue()); err == nil {
				h.FetchedAt = ts
			}
		}
		hits = append(hits, h)
	}

	return hits, nil
}

// DeleteStale removes points of url whose content hash is not in keep.
func (s *QdrantStore) DeleteStale(ctx context.Context, url string, keep []string) (int, error) {
	filter := &qdrant.Filter{
		Must: []*qdrant.Condition{qdrant.NewMatch(payloadURL, url)},
	}
	if len(keep) > 0 {
		filter.MustNot = []*qdrant.Condition{qdrant.NewMatchKeywords(payloadContentHash, keep...)}
	}

	exact := true
	n, err := s.client.Count(ctx, &qdrant.CountPoints{
		CollectionName: s.cfg.Collection,
		Filter:         filter,
		Exact:          &exact,
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: count stale failed: %w", err)
	}
	if n == 0 {
		return 0, nil
	}

	wait := true
	_, err = s.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: s.cfg.Collection,
		Wait:           &wait,
		Points:         qdrant.NewPointsSelectorFilter(filter),
	})
	if err != nil {
		return 0, fmt.Errorf("qdrant: delete stale failed: %w", err)
	}

	return int(n), nil
}

// Ping checks that the Qdrant server is reachable.
func (s *QdrantStore) Ping(ctx context.Context) error {
	if _, err := s.client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("qdrant: health check failed: %w", err)
	}
	return nil
}

// Close closes the underlying Qdrant gRPC connection.
func (s *QdrantStore) Close() error {
	return s.client.Close()
}
