// Package store persists run history in a single sqlite file. It backs the
// scheduler's once-per-day guard across restarts and keeps recovery attempts
// around for diagnosing flaky steps.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/xkilldash9x/magpie-cli/api/schemas"
)

// Store wraps the run-history database. Safe for concurrent use; sqlite is
// single-writer, so the pool is pinned to one connection.
type Store struct {
	db  *sql.DB
	loc *time.Location
	log *zap.Logger
}

// RunRecord is one persisted run row.
type RunRecord struct {
	RunID      string
	ProfileKey string
	Day        string
	StartedAt  time.Time
	FinishedAt time.Time
	FinalState schemas.SessionState
	Collected  bool
	Error      string
}

// New opens the database at path, creating the file and its directory when
// missing. Days are keyed in loc, the schedule window's timezone.
func New(ctx context.Context, path string, loc *time.Location, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loc == nil {
		loc = time.Local
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening run history: %w", err)
	}
	db.SetMaxOpenConns(1)

	s := &Store{db: db, loc: loc, log: logger.Named("store")}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		profile TEXT NOT NULL,
		run_day TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		finished_at DATETIME NOT NULL,
		final_state TEXT NOT NULL,
		collected BOOLEAN NOT NULL,
		error TEXT NOT NULL DEFAULT '',
		UNIQUE(run_day, profile)
	);

	CREATE TABLE IF NOT EXISTS recovery_attempts (
		run_id TEXT NOT NULL REFERENCES runs(id),
		step TEXT NOT NULL,
		attempt INTEGER NOT NULL,
		cause TEXT NOT NULL,
		strategy TEXT NOT NULL,
		detail TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_profile_started ON runs(profile, started_at);
	CREATE INDEX IF NOT EXISTS idx_attempts_run ON recovery_attempts(run_id);
	`
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("migrating run history: %w", err)
	}
	return nil
}

// RecordRun writes the run and its recovery attempts in one transaction.
// The table holds one row per day and profile: a retry after a failed run
// replaces the day's record, attempts included.
func (s *Store) RecordRun(ctx context.Context, report *schemas.RunReport) error {
	day := report.Day(s.loc)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	defer func() {
		if rerr := tx.Rollback(); rerr != nil && !errors.Is(rerr, sql.ErrTxDone) {
			s.log.Error("run record rollback failed", zap.Error(rerr))
		}
	}()

	var oldID string
	err = tx.QueryRowContext(ctx,
		`SELECT id FROM runs WHERE run_day = ? AND profile = ?`,
		day, report.ProfileKey).Scan(&oldID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("recording run: %w", err)
	}

	// OR REPLACE also clears the old row when the same report is recorded
	// twice, where a plain conflict-target upsert would trip the id key.
	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO runs
			(id, profile, run_day, started_at, finished_at, final_state, collected, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		report.RunID, report.ProfileKey, day,
		report.StartedAt.UTC(), report.FinishedAt.UTC(),
		string(report.FinalState), report.Collected, report.Error)
	if err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	if oldID != "" && oldID != report.RunID {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM recovery_attempts WHERE run_id = ?`, oldID); err != nil {
			return fmt.Errorf("recording run: %w", err)
		}
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM recovery_attempts WHERE run_id = ?`, report.RunID); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}

	for _, step := range report.Steps {
		for _, a := range step.Attempts {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO recovery_attempts (run_id, step, attempt, cause, strategy, detail)
				VALUES (?, ?, ?, ?, ?, ?)`,
				report.RunID, step.Step, a.Number,
				string(a.Cause), string(a.Strategy), a.Detail); err != nil {
				return fmt.Errorf("recording recovery attempts: %w", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("recording run: %w", err)
	}
	s.log.Debug("run recorded",
		zap.String("run_id", report.RunID),
		zap.String("day", day),
		zap.Bool("collected", report.Collected))
	return nil
}

// RanOn reports whether a collected run exists for the day. Failed runs do
// not count; the scheduler may retry them after a restart.
func (s *Store) RanOn(ctx context.Context, day, profileKey string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM runs WHERE run_day = ? AND profile = ? AND collected = 1)`,
		day, profileKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("checking run history: %w", err)
	}
	return exists, nil
}

const selectRun = `
	SELECT id, profile, run_day, started_at, finished_at, final_state, collected, error
	FROM runs `

// LastRun returns the most recent run for the profile, nil when none exists.
func (s *Store) LastRun(ctx context.Context, profileKey string) (*RunRecord, error) {
	row := s.db.QueryRowContext(ctx,
		selectRun+`WHERE profile = ? ORDER BY started_at DESC LIMIT 1`, profileKey)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading last run: %w", err)
	}
	return &rec, nil
}

// History lists runs newest first, across profiles.
func (s *Store) History(ctx context.Context, limit int) ([]RunRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		selectRun+`ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("reading run history: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("reading run history: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading run history: %w", err)
	}
	return records, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (RunRecord, error) {
	var rec RunRecord
	var state string
	err := row.Scan(&rec.RunID, &rec.ProfileKey, &rec.Day,
		&rec.StartedAt, &rec.FinishedAt, &state, &rec.Collected, &rec.Error)
	if err != nil {
		return RunRecord{}, err
	}
	rec.FinalState = schemas.SessionState(state)
	return rec, nil
}
