package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newTestSession(t *testing.T, s *Store, id string) *Session {
	t.Helper()
	sess := &Session{ID: id, Source: "mock", Width: 640, Height: 480}
	if err := s.Sessions().Create(sess); err != nil {
		t.Fatalf("Create session: %v", err)
	}
	return sess
}

func TestNewStore_CreatesDatabase(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")

	if _, err := os.Stat(dbPath); !os.IsNotExist(err) {
		t.Fatal("database file should not exist before creating store")
	}

	s, err := New(dbPath)
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	defer s.Close()

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		t.Fatal("database file should exist after creating store")
	}
	if s.Path() != dbPath {
		t.Errorf("Path() = %q", s.Path())
	}
}

func TestNewStore_RunsMigrations(t *testing.T) {
	s := newTestStore(t)

	for _, kind := range []struct{ typ, name string }{
		{"table", "sessions"},
		{"table", "transitions"},
		{"table", "action_runs"},
		{"index", "idx_transitions_session_id"},
		{"index", "idx_action_runs_session_id"},
	} {
		var name string
		err := s.DB().QueryRow(
			"SELECT name FROM sqlite_master WHERE type=? AND name=?", kind.typ, kind.name,
		).Scan(&name)
		if err != nil {
			t.Errorf("%s %q should exist after migrations: %v", kind.typ, kind.name, err)
		}
	}
}

func TestNewStore_ReopenIsIdempotent(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "test.db")
	for i := 0; i < 2; i++ {
		s, err := New(dbPath)
		if err != nil {
			t.Fatalf("open %d: %v", i, err)
		}
		s.Close()
	}
}

func TestStore_Close(t *testing.T) {
	s, err := New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}

	if err := s.Close(); err != nil {
		t.Errorf("close should not return error: %v", err)
	}
	if _, err := s.DB().Exec("SELECT 1"); err == nil {
		t.Error("DB operations should fail after close")
	}
}

func TestStore_ForeignKeysEnabled(t *testing.T) {
	s := newTestStore(t)

	var fkEnabled int
	if err := s.DB().QueryRow("PRAGMA foreign_keys").Scan(&fkEnabled); err != nil {
		t.Fatalf("failed to check foreign keys pragma: %v", err)
	}
	if fkEnabled != 1 {
		t.Error("foreign keys should be enabled")
	}

	err := s.Transitions().Create(&Transition{SessionID: "missing", From: "Empty", To: "Victory"})
	if err == nil {
		t.Error("transition for an unknown session should violate the foreign key")
	}
}

func TestSessions(t *testing.T) {
	s := newTestStore(t)
	newTestSession(t, s, "s1")

	got, err := s.Sessions().GetByID("s1")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if got.Width != 640 || got.Height != 480 || got.EndedAt != nil {
		t.Errorf("session = %+v", got)
	}

	if err := s.Sessions().End("s1", time.Now()); err != nil {
		t.Fatalf("End() error = %v", err)
	}
	got, _ = s.Sessions().GetByID("s1")
	if got.EndedAt == nil {
		t.Error("EndedAt should be set")
	}

	if _, err := s.Sessions().GetByID("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
	if err := s.Sessions().End("nope", time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("End() error = %v, want ErrNotFound", err)
	}
}

func TestTransitions(t *testing.T) {
	s := newTestStore(t)
	newTestSession(t, s, "s1")
	repo := s.Transitions()

	states := []string{"Victory", "ThumbUp", "Empty"}
	from := "Empty"
	for _, to := range states {
		tr := &Transition{SessionID: "s1", From: from, To: to, Label: to, Confidence: 0.9, Reason: "switch"}
		if err := repo.Create(tr); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
		if tr.ID == 0 {
			t.Error("Create() should set ID")
		}
		from = to
	}

	recent, err := repo.List(2)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(recent) != 2 || recent[0].To != "Empty" || recent[1].To != "ThumbUp" {
		t.Errorf("List(2) = %v", recent)
	}

	all, err := repo.ListBySession("s1")
	if err != nil {
		t.Fatalf("ListBySession() error = %v", err)
	}
	if len(all) != 3 || all[0].From != "Empty" || all[0].To != "Victory" {
		t.Errorf("ListBySession() = %v", all)
	}
}

func TestActionRuns(t *testing.T) {
	s := newTestStore(t)
	newTestSession(t, s, "s1")
	repo := s.ActionRuns()

	start := time.Now()
	for i, action := range []string{"Heart", "StandUp"} {
		run := &ActionRun{
			ID:        fmt.Sprintf("run-%d", i),
			SessionID: "s1",
			State:     "Victory",
			Action:    action,
			StartedAt: start.Add(time.Duration(i) * time.Second),
		}
		if err := repo.Create(run); err != nil {
			t.Fatalf("Create() error = %v", err)
		}
	}

	run, err := repo.GetByID("run-0")
	if err != nil {
		t.Fatalf("GetByID() error = %v", err)
	}
	if run.Status != StatusRunning || run.FinishedAt != nil {
		t.Errorf("new run = %+v", run)
	}

	if err := repo.Finish("run-0", nil, time.Now()); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}
	if err := repo.Finish("run-1", errors.New("robot fell over"), time.Now()); err != nil {
		t.Fatalf("Finish() error = %v", err)
	}

	ok, _ := repo.GetByID("run-0")
	if ok.Status != StatusOK || ok.FinishedAt == nil || ok.Error != "" {
		t.Errorf("ok run = %+v", ok)
	}
	failed, _ := repo.GetByID("run-1")
	if failed.Status != StatusFailed || failed.Error != "robot fell over" {
		t.Errorf("failed run = %+v", failed)
	}

	runs, err := repo.List(10)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(runs) != 2 || runs[0].ID != "run-1" {
		t.Errorf("List() should be newest first, got %v", runs)
	}

	if _, err := repo.GetByID("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetByID() error = %v, want ErrNotFound", err)
	}
	if err := repo.Finish("nope", nil, time.Now()); !errors.Is(err, ErrNotFound) {
		t.Errorf("Finish() error = %v, want ErrNotFound", err)
	}
}

func TestClampLimit(t *testing.T) {
	tests := map[int]int{0: 100, -1: 100, 5: 5, 1000: 1000, 5000: 100}
	for in, want := range tests {
		if got := clampLimit(in); got != want {
			t.Errorf("clampLimit(%d) = %d, want %d", in, got, want)
		}
	}
}
