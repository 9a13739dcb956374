// Package seqcounter implements the shared sequence counter store behind
// Fieldline's live update fan-out.
//
// Every mutation to a job bumps two counters: one keyed by the job and one
// keyed by the owning manager. Stream sessions — possibly on other server
// processes — poll these counters and re-push when a value advances. The
// counter is the cheapest cross-process "something changed" signal: it avoids
// both an in-process pub/sub (which cannot cross instances) and re-reading
// the full job record on every check.
//
// Counters live in a SQLite table in the shared WAL database, so all server
// processes observe the same values. Increment is a single upsert statement,
// atomic under concurrent writers.
package seqcounter

import (
	"context"
	"database/sql"
	"fmt"
)

// Schema defines the sequence counter table. Idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS sequence_counters (
    key        TEXT PRIMARY KEY,
    value      INTEGER NOT NULL DEFAULT 0,
    updated_at INTEGER NOT NULL DEFAULT (strftime('%s', 'now'))
);
`

// JobKey returns the counter key for a job identifier.
func JobKey(jobID string) string { return "job:" + jobID }

// OwnerKey returns the counter key for an owner identifier.
func OwnerKey(ownerID string) string { return "owner:" + ownerID }

// Store reads and increments sequence counters. Safe for concurrent use from
// any number of goroutines and server processes.
type Store struct {
	db *sql.DB
}

// New creates a Store over the shared database. Call Init once at startup.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the counter table if it does not exist.
func (s *Store) Init() error {
	if _, err := s.db.Exec(Schema); err != nil {
		return fmt.Errorf("seqcounter: init: %w", err)
	}
	return nil
}

// Increment atomically bumps the counter for key, creating it at 1 if absent.
func (s *Store) Increment(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sequence_counters (key, value, updated_at)
		VALUES (?, 1, strftime('%s', 'now'))
		ON CONFLICT(key) DO UPDATE SET
			value = value + 1,
			updated_at = strftime('%s', 'now')`, key)
	if err != nil {
		return fmt.Errorf("seqcounter: increment %s: %w", key, err)
	}
	return nil
}

// Read returns the current counter value for key. A never-incremented key
// reads as 0, not an error. Callers polling for changes must treat a read
// error as "no change yet" — a degraded counter store affects fan-out
// liveness only, never the authoritative job record.
func (s *Store) Read(ctx context.Context, key string) (int64, error) {
	var v int64
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE((SELECT value FROM sequence_counters WHERE key = ?), 0)`, key).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("seqcounter: read %s: %w", key, err)
	}
	return v, nil
}
