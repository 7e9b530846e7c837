// Package history records task runs and per-database results in a local
// SQLite database, so an operator can see what the last scheduled run did
// without digging through log files.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the SQLite history database.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the history database at path and runs
// migrations.
func Open(path string) (*Store, error) {
	// WAL keeps a concurrent reader (e.g. an operator's sqlite3 shell)
	// from blocking the writer; busy_timeout covers the overlap window
	// when a previous instance is still finishing its final write.
	connStr := path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate history database: %w", err)
	}
	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			started_at TIMESTAMP NOT NULL,
			finished_at TIMESTAMP,
			total INTEGER NOT NULL DEFAULT 0,
			succeeded INTEGER NOT NULL DEFAULT 0,
			failed INTEGER NOT NULL DEFAULT 0,
			bytes INTEGER NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS unit_results (
			id TEXT PRIMARY KEY,
			run_id TEXT NOT NULL REFERENCES runs(id),
			name TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT NOT NULL DEFAULT '',
			bytes INTEGER NOT NULL DEFAULT 0,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_unit_results_run ON unit_results(run_id)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_task_started ON runs(task, started_at)`,
	}
	for _, m := range migrations {
		if _, err := db.Exec(m); err != nil {
			return err
		}
	}
	return nil
}

// Run is one recorded task invocation.
type Run struct {
	ID         string
	Task       string
	StartedAt  time.Time
	FinishedAt *time.Time
	Total      int
	Succeeded  int
	Failed     int
	Bytes      int64
}

// UnitStatus values for RecordUnit.
const (
	UnitOK     = "ok"
	UnitFailed = "failed"
)

// StartRun inserts a new run row and returns its id.
func (s *Store) StartRun(ctx context.Context, task string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (id, task, started_at) VALUES (?, ?, ?)`,
		id, task, time.Now().UTC())
	if err != nil {
		return "", fmt.Errorf("recording run start: %w", err)
	}
	return id, nil
}

// FinishRun stores the final counters for a run.
func (s *Store) FinishRun(ctx context.Context, id string, total, succeeded, failed int, bytes int64) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, total = ?, succeeded = ?, failed = ?, bytes = ? WHERE id = ?`,
		time.Now().UTC(), total, succeeded, failed, bytes, id)
	if err != nil {
		return fmt.Errorf("recording run finish: %w", err)
	}
	return nil
}

// RecordUnit stores the outcome of a single unit (one database dump, one
// swept file batch) within a run.
func (s *Store) RecordUnit(ctx context.Context, runID, name, status, message string, bytes int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO unit_results (id, run_id, name, status, message, bytes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), runID, name, status, message, bytes, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("recording unit result: %w", err)
	}
	return nil
}

// LastRun returns the most recently started completed run for task, or
// sql.ErrNoRows if the task has never completed a run.
func (s *Store) LastRun(ctx context.Context, task string) (*Run, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, task, started_at, finished_at, total, succeeded, failed, bytes
		 FROM runs WHERE task = ? AND finished_at IS NOT NULL
		 ORDER BY started_at DESC LIMIT 1`, task)

	var r Run
	var finished sql.NullTime
	if err := row.Scan(&r.ID, &r.Task, &r.StartedAt, &finished, &r.Total, &r.Succeeded, &r.Failed, &r.Bytes); err != nil {
		return nil, err
	}
	if finished.Valid {
		t := finished.Time
		r.FinishedAt = &t
	}
	return &r, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}
