// Package rundb records a history of VM runs (instance identity, start and
// finish time, outcome, fault kind) in a small local SQLite database, so a host can answer "what
// has this device been running and how did it end" without its own
// bookkeeping.
package rundb

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/robey/mwrt/vm"
)

// DB wraps a SQLite-backed run history.
type DB struct {
	sql *sql.DB
}

// Open opens (creating if necessary) the run-history database at path.
// Passing ":memory:" is useful for tests and short-lived tooling.
func Open(path string) (*DB, error) {
	sqlDB, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("rundb: opening %s: %w", path, err)
	}
	if _, err := sqlDB.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("rundb: setting busy_timeout: %w", err)
	}
	if _, err := sqlDB.Exec(schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("rundb: creating schema: %w", err)
	}
	return &DB{sql: sqlDB}, nil
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	instance_id  TEXT PRIMARY KEY,
	started_at   DATETIME NOT NULL,
	finished_at  DATETIME,
	status       TEXT,
	fault_kind   TEXT,
	instructions INTEGER
)`

// Close closes the underlying database handle.
func (d *DB) Close() error {
	return d.sql.Close()
}

// RecordStart inserts a row for a newly constructed VM.
func (d *DB) RecordStart(ctx context.Context, instanceID string, startedAt time.Time) error {
	_, err := d.sql.ExecContext(ctx,
		`INSERT INTO runs (instance_id, started_at) VALUES (?, ?)`,
		instanceID, startedAt)
	return err
}

// RecordResult updates a run's row with its terminal Run/Resume outcome.
// It is safe to call multiple times across a Cancelled/CpuExhausted
// suspend-and-resume sequence; only the latest outcome is retained.
func (d *DB) RecordResult(ctx context.Context, instanceID string, finishedAt time.Time, result vm.Result) error {
	var faultKind string
	if result.Status == vm.StatusFaulted && result.Fault != nil {
		faultKind = result.Fault.Kind.String()
	}
	_, err := d.sql.ExecContext(ctx,
		`UPDATE runs SET finished_at = ?, status = ?, fault_kind = ? WHERE instance_id = ?`,
		finishedAt, result.Status.String(), faultKind, instanceID)
	return err
}

// Run is one recorded run-history row.
type Run struct {
	InstanceID string
	StartedAt  time.Time
	FinishedAt sql.NullTime
	Status     sql.NullString
	FaultKind  sql.NullString
}

// Recent returns the most recently started runs, newest first.
func (d *DB) Recent(ctx context.Context, limit int) ([]Run, error) {
	rows, err := d.sql.QueryContext(ctx,
		`SELECT instance_id, started_at, finished_at, status, fault_kind
		 FROM runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.InstanceID, &r.StartedAt, &r.FinishedAt, &r.Status, &r.FaultKind); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
