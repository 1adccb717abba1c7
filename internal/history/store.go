// Package history records every target run and its step results in a
// SQLite database so `eccs-e2e history` can show past runs.
package history

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration

	"github.com/majorcontext/eccs-e2e/internal/scenario"
)

// ErrNotFound is returned when a run doesn't exist.
var ErrNotFound = errors.New("run not found")

// StatusError marks a run that failed before or outside the scenario,
// e.g. missing admin credentials or a server that never came up.
const StatusError scenario.Status = "error"

// Run is one scenario execution against one target.
type Run struct {
	ID       string          `json:"id"`
	Target   string          `json:"target"`
	Contract string          `json:"contract"`
	Binary   string          `json:"binary"`
	Endpoint string          `json:"endpoint"`
	Status   scenario.Status `json:"status"`
	Error    string          `json:"error,omitempty"`
	Started  time.Time       `json:"started"`
	Finished time.Time       `json:"finished"`
	Passed   int             `json:"passed"`
	Failed   int             `json:"failed"`
	Skipped  int             `json:"skipped"`

	Steps []scenario.StepResult `json:"steps,omitempty"`
}

// Duration is how long the run took.
func (r *Run) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// FromReport fills the outcome fields of r from rep and runErr. A nil rep
// with an error marks the run as StatusError.
func (r *Run) FromReport(rep *scenario.Report, runErr error) {
	if runErr != nil {
		r.Error = runErr.Error()
	}
	if rep == nil {
		r.Status = StatusError
		if r.Finished.IsZero() {
			r.Finished = time.Now()
		}
		return
	}
	r.Status = rep.Status
	r.Started = rep.Started
	r.Finished = rep.Finished
	r.Steps = rep.Steps
	r.Passed = rep.Count(scenario.StatusPassed)
	r.Failed = rep.Count(scenario.StatusFailed)
	r.Skipped = rep.Count(scenario.StatusSkipped)
}

// Store is the history database.
type Store struct {
	db *sql.DB
	mu sync.Mutex
}

// tsLayout is fixed width so timestamps sort as text.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

// Path returns the database location under base.
func Path(base string) string {
	return filepath.Join(base, "history.db")
}

// Open opens or creates the database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := createTables(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating tables: %w", err)
	}
	return &Store{db: db}, nil
}

func createTables(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id       TEXT PRIMARY KEY,
			target   TEXT NOT NULL,
			contract TEXT NOT NULL,
			binary_path TEXT NOT NULL,
			endpoint TEXT NOT NULL,
			status   TEXT NOT NULL,
			error    TEXT NOT NULL DEFAULT '',
			started  TEXT NOT NULL,
			finished TEXT NOT NULL,
			passed   INTEGER NOT NULL,
			failed   INTEGER NOT NULL,
			skipped  INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started);
		CREATE TABLE IF NOT EXISTS steps (
			run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
			seq         INTEGER NOT NULL,
			name        TEXT NOT NULL,
			status      TEXT NOT NULL,
			detail      TEXT NOT NULL,
			duration_ns INTEGER NOT NULL,
			PRIMARY KEY (run_id, seq)
		);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Record inserts run and its steps in one transaction.
func (s *Store) Record(run Run) error {
	if run.ID == "" {
		return fmt.Errorf("run has no ID")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.Exec(`
		INSERT INTO runs (id, target, contract, binary_path, endpoint, status, error, started, finished, passed, failed, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Target, run.Contract, run.Binary, run.Endpoint, string(run.Status), run.Error,
		run.Started.UTC().Format(tsLayout), run.Finished.UTC().Format(tsLayout),
		run.Passed, run.Failed, run.Skipped)
	if err != nil {
		return fmt.Errorf("inserting run %s: %w", run.ID, err)
	}
	for i, st := range run.Steps {
		_, err := tx.Exec(`
			INSERT INTO steps (run_id, seq, name, status, detail, duration_ns)
			VALUES (?, ?, ?, ?, ?, ?)
		`, run.ID, i, st.Name, string(st.Status), st.Detail, int64(st.Duration))
		if err != nil {
			return fmt.Errorf("inserting step %s: %w", st.Name, err)
		}
	}
	return tx.Commit()
}

const runColumns = `id, target, contract, binary_path, endpoint, status, error, started, finished, passed, failed, skipped`

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(row scanner) (*Run, error) {
	var r Run
	var status, started, finished string
	err := row.Scan(&r.ID, &r.Target, &r.Contract, &r.Binary, &r.Endpoint, &status, &r.Error,
		&started, &finished, &r.Passed, &r.Failed, &r.Skipped)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scanning run: %w", err)
	}
	r.Status = scenario.Status(status)
	r.Started, _ = time.Parse(tsLayout, started)
	r.Finished, _ = time.Parse(tsLayout, finished)
	return &r, nil
}

// Get returns the run with id, including its steps.
func (s *Store) Get(id string) (*Run, error) {
	r, err := scanRun(s.db.QueryRow(`SELECT `+runColumns+` FROM runs WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}

	rows, err := s.db.Query(`
		SELECT name, status, detail, duration_ns FROM steps WHERE run_id = ? ORDER BY seq
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying steps: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var st scenario.StepResult
		var status string
		var ns int64
		if err := rows.Scan(&st.Name, &status, &st.Detail, &ns); err != nil {
			return nil, fmt.Errorf("scanning step: %w", err)
		}
		st.Status = scenario.Status(status)
		st.Duration = time.Duration(ns)
		r.Steps = append(r.Steps, st)
	}
	return r, rows.Err()
}

// List returns up to limit runs, newest first, without steps. A limit of
// zero or less returns every run.
func (s *Store) List(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM runs ORDER BY started DESC, id LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

// Count returns the total number of runs.
func (s *Store) Count() (int, error) {
	var n int
	if err := s.db.QueryRow(`SELECT COUNT(*) FROM runs`).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting runs: %w", err)
	}
	return n, nil
}

// Prune deletes runs that started before cutoff and returns how many were
// removed.
func (s *Store) Prune(cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	ts := cutoff.UTC().Format(tsLayout)
	if _, err := tx.Exec(`DELETE FROM steps WHERE run_id IN (SELECT id FROM runs WHERE started < ?)`, ts); err != nil {
		return 0, fmt.Errorf("pruning steps: %w", err)
	}
	res, err := tx.Exec(`DELETE FROM runs WHERE started < ?`, ts)
	if err != nil {
		return 0, fmt.Errorf("pruning runs: %w", err)
	}
	n, _ := res.RowsAffected()
	return n, tx.Commit()
}
