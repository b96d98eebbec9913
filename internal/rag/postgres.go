package rag

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
)

// identPattern restricts table names interpolated into DDL.
var identPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// PostgresConfig holds connection parameters for a Postgres/pgvector store.
type PostgresConfig struct {
	// DSN is the lib/pq connection string.
	DSN string

	// Table is the chunk table name (default: web_chunks). The search function
	// is named match_<table>.
	Table string

	// VectorSize is the embedding dimensionality of the vector column.
	VectorSize int

	// SkipMigrate leaves schema management to the operator.
	SkipMigrate bool
}

// PostgresStore implements VectorStore on Postgres with the pgvector
// extension. Similarity search runs through a SQL function so the same
// schema can serve other clients over RPC.
type PostgresStore struct {
	db      *sql.DB
	table   string
	matchFn string
}

// NewPostgresStore opens the database, verifies connectivity and applies the
// schema unless cfg.SkipMigrate is set.
func NewPostgresStore(ctx context.Context, cfg *PostgresConfig) (*PostgresStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("postgres: DSN is required (DATABASE_URL)")
	}
	if cfg.Table == "" {
		cfg.Table = "web_chunks"
	}
	if !identPattern.MatchString(cfg.Table) {
		return nil, fmt.Errorf("postgres: invalid table name %q", cfg.Table)
	}
	if cfg.VectorSize <= 0 && !cfg.SkipMigrate {
		return nil, errors.New("postgres: vector size must be set")
	}

	db, err := sql.Open("postgres", cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}

	s := &PostgresStore{db: db, table: cfg.Table, matchFn: "match_" + cfg.Table}
	if !cfg.SkipMigrate {
		if err := s.migrate(ctx, cfg.VectorSize); err != nil {
			_ = db.Close()
			return nil, err
		}
	}
	return s, nil
}

// migrate creates the extension, table, index and search function.
func (s *PostgresStore) migrate(ctx context.Context, dims int) error {
	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %[1]s (
	id           BIGSERIAL PRIMARY KEY,
	url          TEXT NOT NULL,
	title        TEXT NOT NULL DEFAULT '',
	content      TEXT NOT NULL,
	content_hash TEXT NOT NULL UNIQUE,
	section      TEXT NOT NULL DEFAULT '',
	fetched_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	embedding    vector(%[2]d) NOT NULL
)`, s.table, dims),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %[1]s_url_idx ON %[1]s (url)`, s.table),
		fmt.Sprintf(`CREATE OR REPLACE FUNCTION %[1]s(
	query_embedding vector(%[3]d),
	match_count INT,
	similarity_threshold FLOAT
) RETURNS TABLE (
	url TEXT, title TEXT, content TEXT, content_hash TEXT, section TEXT,
	fetched_at TIMESTAMPTZ, similarity FLOAT
) LANGUAGE sql STABLE AS $$
	SELECT c.url, c.title, c.content, c.content_hash, c.section, c.fetched_at,
	       1 - (c.embedding <=> query_embedding) AS similarity
	FROM %[2]s c
	WHERE 1 - (c.embedding <=> query_embedding) >= similarity_threshold
	ORDER BY c.embedding <=> query_embedding
	LIMIT match_count
$$`, s.matchFn, s.table, dims),
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("postgres: migrate: %w", err)
		}
	}
	return nil
}

// Upsert writes chunks in one transaction, overwriting rows with the same
// content hash.
func (s *PostgresStore) Upsert(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("postgres: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
INSERT INTO %s (url, title, content, content_hash, section, fetched_at, embedding)
VALUES ($1, $2, $3, $4, $5, $6, $7)
ON CONFLICT (content_hash) DO UPDATE SET
	url = EXCLUDED.url,
	title = EXCLUDED.title,
	content = EXCLUDED.content,
	section = EXCLUDED.section,
	fetched_at = EXCLUDED.fetched_at,
	embedding = EXCLUDED.embedding`, s.table))
	if err != nil {
		return fmt.Errorf("postgres: prepare upsert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		if c.ContentHash == "" {
			return fmt.Errorf("postgres: chunk of %s has no content hash", c.URL)
		}
		if len(c.Embedding) == 0 {
			return fmt.Errorf("postgres: chunk %s has no embedding", c.ContentHash)
		}
		fetched := c.FetchedAt
		if fetched.IsZero() {
			fetched = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, c.URL, c.Title, c.Content, c.ContentHash, c.Section, fetched.UTC(), pgvector.NewVector(c.Embedding)); err != nil {
			return fmt.Errorf("postgres: upsert %s: %w", c.ContentHash, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("postgres: commit: %w", err)
	}
	return nil
}

// Search calls match_<table>(query_embedding, match_count, similarity_threshold).
func (s *PostgresStore) Search(ctx context.Context, queryEmbedding []float32, matchCount int, threshold float32) ([]Hit, error) {
	rows, err := s.db.QueryContext(ctx,
		fmt.Sprintf(`SELECT url, title, content, content_hash, section, fetched_at, similarity FROM %s($1, $2, $3)`, s.matchFn),
		pgvector.NewVector(queryEmbedding), max(matchCount, 1), threshold,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: search: %w", err)
	}
	defer rows.Close()

	var hits []Hit
	for rows.Next() {
		var (
			h   Hit
			sim float64
		)
		if err := rows.Scan(&h.URL, &h.Title, &h.Content, &h.ContentHash, &h.Section, &h.FetchedAt, &sim); err != nil {
			return nil, fmt.Errorf("postgres: scan hit: %w", err)
		}
		h.Similarity = float32(sim)
		hits = append(hits, h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate hits: %w", err)
	}
	return hits, nil
}

// DeleteStale removes rows of url whose content hash is not in keep.
func (s *PostgresStore) DeleteStale(ctx context.Context, url string, keep []string) (int, error) {
	if keep == nil {
		keep = []string{}
	}
	res, err := s.db.ExecContext(ctx,
		fmt.Sprintf(`DELETE FROM %s WHERE url = $1 AND NOT (content_hash = ANY($2))`, s.table),
		url, pq.Array(keep),
	)
	if err != nil {
		return 0, fmt.Errorf("postgres: delete stale: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("postgres: delete stale: %w", err)
	}
	return int(n), nil
}

// Ping checks database connectivity.
func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres: ping: %w", err)
	}
	return nil
}

// Close closes the connection pool.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
