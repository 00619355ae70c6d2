package store

import (
	"database/sql"
	"errors"
	"time"
)

// Action run statuses.
const (
	StatusRunning = "running"
	StatusOK      = "ok"
	StatusFailed  = "failed"
)

// ActionRun records one dispatched action.
type ActionRun struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	State      string     `json:"state"`
	Action     string     `json:"action"`
	Status     string     `json:"status"`
	Error      string     `json:"error,omitempty"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// ActionRunRepository provides access to action runs.
type ActionRunRepository struct {
	db *sql.DB
}

// ActionRuns returns the action run repository for this store.
func (s *Store) ActionRuns() *ActionRunRepository {
	return &ActionRunRepository{db: s.db}
}

// Create inserts a run in the running status.
func (r *ActionRunRepository) Create(run *ActionRun) error {
	if run.StartedAt.IsZero() {
		run.StartedAt = time.Now()
	}
	run.Status = StatusRunning
	_, err := r.db.Exec(
		`INSERT INTO action_runs (id, session_id, state, action, status, started_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.SessionID, run.State, run.Action, run.Status, run.StartedAt,
	)
	return err
}

// Finish records the outcome of a run. A nil runErr marks it ok.
func (r *ActionRunRepository) Finish(id string, runErr error, finishedAt time.Time) error {
	status, msg := StatusOK, ""
	if runErr != nil {
		status, msg = StatusFailed, runErr.Error()
	}

	result, err := r.db.Exec(
		`UPDATE action_runs SET status = ?, error = ?, finished_at = ? WHERE id = ?`,
		status, msg, finishedAt, id,
	)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID retrieves a run by its ID.
func (r *ActionRunRepository) GetByID(id string) (*ActionRun, error) {
	row := r.db.QueryRow(
		`SELECT id, session_id, state, action, status, error, started_at, finished_at
		 FROM action_runs WHERE id = ?`, id)
	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return run, err
}

// List returns the most recent runs, newest first.
func (r *ActionRunRepository) List(limit int) ([]*ActionRun, error) {
	rows, err := r.db.Query(
		`SELECT id, session_id, state, action, status, error, started_at, finished_at
		 FROM action_runs ORDER BY started_at DESC LIMIT ?`, clampLimit(limit))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*ActionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRun(s scanner) (*ActionRun, error) {
	run := &ActionRun{}
	var finished sql.NullTime
	if err := s.Scan(&run.ID, &run.SessionID, &run.State, &run.Action, &run.Status, &run.Error, &run.StartedAt, &finished); err != nil {
		return nil, err
	}
	if finished.Valid {
		run.FinishedAt = &finished.Time
	}
	return run, nil
}
