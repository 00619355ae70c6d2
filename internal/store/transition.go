package store

import (
	"database/sql"
	"time"
)

// Transition is a persisted state change.
type Transition struct {
	ID         int64     `json:"id"`
	SessionID  string    `json:"session_id"`
	From       string    `json:"from"`
	To         string    `json:"state"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Reason     string    `json:"reason"`
	CreatedAt  time.Time `json:"created_at"`
}

// TransitionRepository provides access to transitions.
type TransitionRepository struct {
	db *sql.DB
}

// Transitions returns the transition repository for this store.
func (s *Store) Transitions() *TransitionRepository {
	return &TransitionRepository{db: s.db}
}

// Create inserts a transition and sets its ID.
func (r *TransitionRepository) Create(t *Transition) error {
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	result, err := r.db.Exec(
		`INSERT INTO transitions (session_id, from_state, to_state, label, confidence, reason, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.SessionID, t.From, t.To, t.Label, t.Confidence, t.Reason, t.CreatedAt,
	)
	if err != nil {
		return err
	}
	t.ID, err = result.LastInsertId()
	return err
}

// List returns the most recent transitions, newest first.
func (r *TransitionRepository) List(limit int) ([]*Transition, error) {
	return r.query(
		`SELECT id, session_id, from_state, to_state, label, confidence, reason, created_at
		 FROM transitions ORDER BY id DESC LIMIT ?`, clampLimit(limit))
}

// ListBySession returns a session's transitions in the order they happened.
func (r *TransitionRepository) ListBySession(sessionID string) ([]*Transition, error) {
	return r.query(
		`SELECT id, session_id, from_state, to_state, label, confidence, reason, created_at
		 FROM transitions WHERE session_id = ? ORDER BY id ASC`, sessionID)
}

func (r *TransitionRepository) query(q string, args ...any) ([]*Transition, error) {
	rows, err := r.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*Transition
	for rows.Next() {
		t := &Transition{}
		if err := rows.Scan(&t.ID, &t.SessionID, &t.From, &t.To, &t.Label, &t.Confidence, &t.Reason, &t.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
