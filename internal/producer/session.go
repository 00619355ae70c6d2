package producer

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/ayusman/gesturedog/internal/dispatch"
	"github.com/ayusman/gesturedog/internal/frameslot"
	"github.com/ayusman/gesturedog/internal/gesture"
)

// BatterySource reports the robot's state of charge, -1 when unknown.
type BatterySource interface {
	Battery() int
}

// Session owns everything that lives for one capture run at a fixed frame
// size: the state machine, the frame slot and the dispatcher.
type Session struct {
	ID        string
	StartedAt time.Time
	Width     int
	Height    int

	Machine    *gesture.StateMachine
	Slot       *frameslot.Writer
	Dispatcher *dispatch.Dispatcher
	Battery    BatterySource

	relay *relay

	frames      atomic.Int64
	errors      atomic.Int64
	transitions atomic.Int64
	dispatched  atomic.Int64
	dropped     atomic.Int64
	missed      atomic.Int64
}

func newSession(width, height int) *Session {
	return &Session{
		ID:        uuid.NewString(),
		StartedAt: time.Now(),
		Width:     width,
		Height:    height,
	}
}

// Stats are per-session counters.
type Stats struct {
	Frames      int64 `json:"frames"`
	Errors      int64 `json:"errors"`
	Transitions int64 `json:"transitions"`
	Dispatched  int64 `json:"dispatched"`
	Dropped     int64 `json:"dropped"`

	// Missed counts transitions listeners never saw because they fell
	// too far behind.
	Missed int64 `json:"missed"`
}

// Stats returns a snapshot of the session counters.
func (s *Session) Stats() Stats {
	return Stats{
		Frames:      s.frames.Load(),
		Errors:      s.errors.Load(),
		Transitions: s.transitions.Load(),
		Dispatched:  s.dispatched.Load(),
		Dropped:     s.dropped.Load(),
		Missed:      s.missed.Load(),
	}
}

// State returns the session's current gesture state.
func (s *Session) State() gesture.DogState {
	return s.Machine.State()
}

// BatteryLevel returns the battery reading, -1 without a source.
func (s *Session) BatteryLevel() int {
	if s.Battery == nil {
		return -1
	}
	return s.Battery.Battery()
}

func (s *Session) close() error {
	if s.Slot == nil {
		return nil
	}
	return s.Slot.Close()
}
