// Package ledger records which pipeline stages completed for which
// participant, so an interrupted run can resume without redoing work.
package ledger

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schema string

// Status is the state of one (participant, stage) pair.
type Status string

// Stage statuses.
const (
	StatusNone    Status = ""
	StatusStarted Status = "started"
	StatusDone    Status = "done"
	StatusFailed  Status = "failed"
)

// Ledger is a SQLite-backed stage ledger.
type Ledger struct {
	db *sql.DB
}

// Open opens or creates the ledger at path. Use ":memory:" in tests.
func Open(ctx context.Context, path string) (*Ledger, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("mkdir: %w: %w", ErrLedger, err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w: %w", path, ErrLedger, err)
	}
	// A single connection keeps ":memory:" databases alive and serializes writes.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("%s: %w: %w", pragma, ErrLedger, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("schema: %w: %w", ErrLedger, err)
	}
	return &Ledger{db: db}, nil
}

// Close closes the database.
func (l *Ledger) Close() error {
	return l.db.Close()
}

// BeginRun registers a run.
func (l *Ledger) BeginRun(ctx context.Context, runID, command string) error {
	_, err := l.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, command) VALUES (?, ?)`, runID, command)
	return wrap("begin run", err)
}

// FinishRun records the final status of a run.
func (l *Ledger) FinishRun(ctx context.Context, runID string, status Status) error {
	_, err := l.db.ExecContext(ctx,
		`UPDATE runs SET status = ?, finished_at = CURRENT_TIMESTAMP WHERE run_id = ?`, string(status), runID)
	return wrap("finish run", err)
}

// State returns the status of participant's stage, or StatusNone.
func (l *Ledger) State(ctx context.Context, participant, stage string) (Status, error) {
	var s string
	err := l.db.QueryRowContext(ctx,
		`SELECT status FROM stages WHERE participant_id = ? AND stage = ?`, participant, stage).Scan(&s)
	if errors.Is(err, sql.ErrNoRows) {
		return StatusNone, nil
	}
	if err != nil {
		return StatusNone, wrap("state", err)
	}
	return Status(s), nil
}

// Start marks participant's stage as in progress.
func (l *Ledger) Start(ctx context.Context, runID, participant, stage string) error {
	return l.set(ctx, runID, participant, stage, StatusStarted, "")
}

// Done marks participant's stage as complete.
func (l *Ledger) Done(ctx context.Context, runID, participant, stage string) error {
	return l.set(ctx, runID, participant, stage, StatusDone, "")
}

// Fail marks participant's stage as failed with the error text.
func (l *Ledger) Fail(ctx context.Context, runID, participant, stage string, cause error) error {
	detail := ""
	if cause != nil {
		detail = cause.Error()
	}
	return l.set(ctx, runID, participant, stage, StatusFailed, detail)
}

func (l *Ledger) set(ctx context.Context, runID, participant, stage string, s Status, detail string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO stages (participant_id, stage, status, run_id, detail)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (participant_id, stage) DO UPDATE SET
			status = excluded.status,
			run_id = excluded.run_id,
			detail = excluded.detail,
			updated_at = CURRENT_TIMESTAMP`,
		participant, stage, string(s), runID, detail)
	return wrap("set "+stage, err)
}

// Counts returns, per stage, how many participants are in each status.
func (l *Ledger) Counts(ctx context.Context) (map[string]map[Status]int, error) {
	rows, err := l.db.QueryContext(ctx,
		`SELECT stage, status, COUNT(*) FROM stages GROUP BY stage, status`)
	if err != nil {
		return nil, wrap("counts", err)
	}
	defer func() { _ = rows.Close() }()

	out := map[string]map[Status]int{}
	for rows.Next() {
		var stage, status string
		var n int
		if err := rows.Scan(&stage, &status, &n); err != nil {
			return nil, wrap("counts", err)
		}
		if out[stage] == nil {
			out[stage] = map[Status]int{}
		}
		out[stage][Status(status)] = n
	}
	return out, wrap("counts", rows.Err())
}

// Reset forgets every stage record. Runs are kept for history.
func (l *Ledger) Reset(ctx context.Context) error {
	_, err := l.db.ExecContext(ctx, `DELETE FROM stages`)
	return wrap("reset", err)
}

func wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, ErrLedger, err)
}
