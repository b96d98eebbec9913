// Package store provides a SQLite-backed ledger of ingestion runs. Each call
// to the ingestion pipeline, from the CLI or the HTTP endpoint, is recorded
// with its pagination window and counters so operators can audit coverage
// and `sitechat ingest --resume` can continue from the last offset.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/54b3r/sitechat-go/internal/ingestion"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Trigger identifies what started a run.
type Trigger string

const (
	// TriggerCLI is a run started by `sitechat ingest`.
	TriggerCLI Trigger = "cli"
	// TriggerHTTP is a run started through the /ingest endpoint.
	TriggerHTTP Trigger = "http"
)

// Run is one recorded ingestion invocation.
type Run struct {
	ID        int64   `json:"id"`
	Trigger   Trigger `json:"trigger"`
	Site      string  `json:"site"`
	Sections  string  `json:"sections"`
	URL       string  `json:"url,omitempty"`
	Offset    int     `json:"offset"`
	Limit     int     `json:"limit"`
	Total     int     `json:"total"`
	Processed int     `json:"processed"`
	Skipped   int     `json:"skipped"`
	Chunks    int     `json:"chunks"`
	Pruned    int     `json:"pruned"`
	// NextOffset is nil when the run reached the end of the URL set.
	NextOffset *int      `json:"next_offset"`
	Error      string    `json:"error,omitempty"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
}

// RunLog persists and lists ingestion runs. Implementations must be safe for
// concurrent use.
type RunLog interface {
	// Record persists run and returns its assigned ID.
	Record(ctx context.Context, run Run) (int64, error)
	// Recent returns the most recent n runs, newest first.
	Recent(ctx context.Context, n int) ([]Run, error)
	// LastRun returns the newest successful sitemap run for site and sections.
	// ok is false when no such run exists.
	LastRun(ctx context.Context, site, sections string) (run Run, ok bool, err error)
	// Close releases any resources held by the log.
	Close() error
}

// SQLiteRunLog is a RunLog backed by a local SQLite database.
type SQLiteRunLog struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

var _ RunLog = (*SQLiteRunLog)(nil)

// Ping checks that the database is reachable.
func (s *SQLiteRunLog) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// DefaultDBPath returns the default path for the run ledger database.
// It resolves to ~/.sitechat/runs.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("store: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".sitechat")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("store: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "runs.db"), nil
}

// Open opens (or creates) a SQLiteRunLog at the given path and runs the
// schema migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteRunLog, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteRunLog{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteRunLog) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS ingest_runs (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    run_trigger  TEXT    NOT NULL CHECK(run_trigger IN ('cli','http')),
    site         TEXT    NOT NULL,
    sections     TEXT    NOT NULL DEFAULT '',
    url          TEXT    NOT NULL DEFAULT '',
    page_offset  INTEGER NOT NULL,
    page_limit   INTEGER NOT NULL,
    total        INTEGER NOT NULL,
    processed    INTEGER NOT NULL,
    skipped      INTEGER NOT NULL,
    chunks       INTEGER NOT NULL,
    pruned       INTEGER NOT NULL DEFAULT 0,
    next_offset  INTEGER,            -- NULL when the run reached the end
    error        TEXT    NOT NULL DEFAULT '',
    started_at   INTEGER NOT NULL,   -- Unix milliseconds
    finished_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_ingest_runs_site_started
    ON ingest_runs (site, sections, started_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Record persists run and returns its assigned ID.
func (s *SQLiteRunLog) Record(ctx context.Context, run Run) (int64, error) {
	const q = `
INSERT INTO ingest_runs
    (run_trigger, site, sections, url, page_offset, page_limit, total, processed,
     skipped, chunks, pruned, next_offset, error, started_at, finished_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var next sql.NullInt64
	if run.NextOffset != nil {
		next = sql.NullInt64{Int64: int64(*run.NextOffset), Valid: true}
	}
	if run.Trigger == "" {
		run.Trigger = TriggerCLI
	}
	if run.FinishedAt.IsZero() {
		run.FinishedAt = time.Now()
	}
	if run.StartedAt.IsZero() {
		run.StartedAt = run.FinishedAt
	}

	res, err := s.db.ExecContext(ctx, q,
		string(run.Trigger), run.Site, run.Sections, run.URL,
		run.Offset, run.Limit, run.Total, run.Processed,
		run.Skipped, run.Chunks, run.Pruned, next, run.Error,
		run.StartedAt.UnixMilli(), run.FinishedAt.UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("store: record: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: record id: %w", err)
	}
	return id, nil
}

const selectRun = `
SELECT id, run_trigger, site, sections, url, page_offset, page_limit, total,
       processed, skipped, chunks, pruned, next_offset, error, started_at, finished_at
FROM   ingest_runs`

// Recent returns the most recent n runs, newest first.
func (s *SQLiteRunLog) Recent(ctx context.Context, n int) ([]Run, error) {
	rows, err := s.db.QueryContext(ctx, selectRun+` ORDER BY started_at DESC, id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return runs, nil
}

// LastRun returns the newest successful sitemap run (no explicit URL, no
// error) for site and sections.
func (s *SQLiteRunLog) LastRun(ctx context.Context, site, sections string) (Run, bool, error) {
	row := s.db.QueryRowContext(ctx, selectRun+`
WHERE  site = ? AND sections = ? AND url = '' AND error = ''
ORDER  BY started_at DESC, id DESC LIMIT 1`, site, sections)

	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Run{}, false, nil
	}
	if err != nil {
		return Run{}, false, fmt.Errorf("store: last run: %w", err)
	}
	return r, true, nil
}

// Close releases the database connection pool.
func (s *SQLiteRunLog) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanRun reads one ingest_runs row.
func scanRun(sc scanner) (Run, error) {
	var (
		r               Run
		trigger         string
		next            sql.NullInt64
		started, finish int64
	)
	if err := sc.Scan(&r.ID, &trigger, &r.Site, &r.Sections, &r.URL, &r.Offset, &r.Limit,
		&r.Total, &r.Processed, &r.Skipped, &r.Chunks, &r.Pruned, &next, &r.Error,
		&started, &finish); err != nil {
		return Run{}, err
	}
	r.Trigger = Trigger(trigger)
	if next.Valid {
		n := int(next.Int64)
		r.NextOffset = &n
	}
	r.StartedAt = time.UnixMilli(started)
	r.FinishedAt = time.UnixMilli(finish)
	return r, nil
}

// FromStats builds the ledger row for one finished ingestion run.
func FromStats(trigger Trigger, site string, req ingestion.Request, stats ingestion.Stats, runErr error, started time.Time) Run {
	run := Run{
		Trigger:    trigger,
		Site:       site,
		Sections:   ingestion.JoinSections(req.Sections),
		URL:        req.URL,
		Offset:     stats.Offset,
		Limit:      stats.Limit,
		Total:      stats.Total,
		Processed:  stats.Processed,
		Skipped:    stats.Skipped,
		Chunks:     stats.Chunks,
		Pruned:     stats.Pruned,
		NextOffset: stats.NextOffset,
		StartedAt:  started,
		FinishedAt: time.Now(),
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}
	return run
}
