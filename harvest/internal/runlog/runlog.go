// Package runlog persists run and per-link outcome rows to SQLite, giving
// operators a queryable history across runs (the CSV index only covers one).
package runlog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/hazyhaar/recolte/dbopen"
	"github.com/hazyhaar/recolte/idgen"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          TEXT PRIMARY KEY,
	portal_url  TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	success     INTEGER NOT NULL DEFAULT 0,
	skipped     INTEGER NOT NULL DEFAULT 0,
	failed      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS outcomes (
	id           TEXT PRIMARY KEY,
	run_id       TEXT NOT NULL REFERENCES runs(id),
	url          TEXT NOT NULL,
	year         TEXT NOT NULL,
	category     TEXT NOT NULL,
	file_name    TEXT NOT NULL,
	status       TEXT NOT NULL,
	error_kind   TEXT NOT NULL DEFAULT '',
	note         TEXT NOT NULL DEFAULT '',
	size_kb      REAL NOT NULL DEFAULT 0,
	content_hash TEXT NOT NULL DEFAULT '',
	recorded_at  INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_outcomes_run ON outcomes(run_id);
`

// Outcome is one per-link row.
type Outcome struct {
	URL         string
	Year        string
	Category    string
	FileName    string
	Status      string
	ErrorKind   string
	Note        string
	SizeKB      float64
	ContentHash string
}

// Store wraps the run-log database.
type Store struct {
	db    *sql.DB
	newID idgen.Generator
}

// Open opens (and migrates) the run-log database at path, creating parent
// directories as needed.
func Open(path string) (*Store, error) {
	db, err := dbopen.Open(path, dbopen.WithMkdirAll(), dbopen.WithSchema(schema))
	if err != nil {
		return nil, fmt.Errorf("runlog: %w", err)
	}
	return &Store{db: db, newID: idgen.Prefixed("out_", idgen.Default)}, nil
}

// NewStore wraps an already-opened database (tests).
func NewStore(db *sql.DB) (*Store, error) {
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("runlog: schema: %w", err)
	}
	return &Store{db: db, newID: idgen.Prefixed("out_", idgen.Default)}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// BeginRun inserts the run row and returns its ID.
func (s *Store) BeginRun(ctx context.Context, portalURL string, startedAt time.Time) (string, error) {
	id := idgen.Prefixed("run_", idgen.Default)()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, portal_url, started_at) VALUES (?, ?, ?)`,
		id, portalURL, startedAt.UnixMilli())
	if err != nil {
		return "", fmt.Errorf("runlog: begin run: %w", err)
	}
	return id, nil
}

// RecordOutcome appends one per-link outcome row.
func (s *Store) RecordOutcome(ctx context.Context, runID string, o *Outcome) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO outcomes (id, run_id, url, year, category, file_name,
		status, error_kind, note, size_kb, content_hash, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.newID(), runID, o.URL, o.Year, o.Category, o.FileName,
		o.Status, o.ErrorKind, o.Note, o.SizeKB, o.ContentHash,
		time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("runlog: record outcome: %w", err)
	}
	return nil
}

// FinishRun stamps the run row with its end time and tallies.
func (s *Store) FinishRun(ctx context.Context, runID string, success, skipped, failed int) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, success = ?, skipped = ?, failed = ?
		WHERE id = ?`,
		time.Now().UnixMilli(), success, skipped, failed, runID)
	if err != nil {
		return fmt.Errorf("runlog: finish run: %w", err)
	}
	return nil
}

// RunOutcomes returns the outcome rows of one run in insertion order.
func (s *Store) RunOutcomes(ctx context.Context, runID string) ([]*Outcome, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT url, year, category, file_name, status, error_kind, note,
		size_kb, content_hash
		FROM outcomes WHERE run_id = ? ORDER BY id`, runID)
	if err != nil {
		return nil, fmt.Errorf("runlog: query outcomes: %w", err)
	}
	defer rows.Close()

	var result []*Outcome
	for rows.Next() {
		var o Outcome
		if err := rows.Scan(&o.URL, &o.Year, &o.Category, &o.FileName,
			&o.Status, &o.ErrorKind, &o.Note, &o.SizeKB, &o.ContentHash); err != nil {
			return nil, fmt.Errorf("runlog: scan outcome: %w", err)
		}
		result = append(result, &o)
	}
	return result, rows.Err()
}
