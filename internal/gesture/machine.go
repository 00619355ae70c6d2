package gesture

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// DefaultThreshold is the confidence a classification must exceed to move
// the machine into a gesture state.
const DefaultThreshold = 0.50

// Observation is one classifier result for a single frame.
type Observation struct {
	Label      Label
	Confidence float64
	// Hands is the classifier's landmark payload, carried through untouched.
	Hands any
}

// miss reports whether o counts as "nothing seen this frame".
func (o *Observation) miss() bool {
	return o == nil || !o.Label.Recognized()
}

// MissPolicy controls the cool-down back to StateEmpty.
type MissPolicy struct {
	// Consecutive is how many frames in a row without an observation reset
	// the state. Values below 1 are treated as 1.
	Consecutive int
}

// Reason says which rule produced a transition.
type Reason string

const (
	ReasonFirst    Reason = "first"
	ReasonSwitch   Reason = "switch"
	ReasonNone     Reason = "none"
	ReasonCooldown Reason = "cooldown"
)

// Transition describes one accepted state change.
type Transition struct {
	From       DogState  `json:"from"`
	To         DogState  `json:"state"`
	Label      string    `json:"label"`
	Confidence float64   `json:"confidence"`
	Reason     Reason    `json:"reason"`
	At         time.Time `json:"at"`
}

// Config holds StateMachine options.
type Config struct {
	// Threshold defaults to DefaultThreshold when zero.
	Threshold float64
	Miss      MissPolicy
	Logger    *zap.Logger
	// Now is used to stamp transitions; defaults to time.Now.
	Now func() time.Time
}

// StateMachine applies hysteresis to per-frame observations. Observe must be
// called from a single goroutine; State and LastGesture may be read from any.
type StateMachine struct {
	threshold float64
	missLimit int
	logger    *zap.Logger
	now       func() time.Time

	mu          sync.RWMutex
	state       DogState
	lastGesture string
	misses      int
}

// NewStateMachine returns a machine in StateEmpty.
func NewStateMachine(cfg Config) *StateMachine {
	threshold := cfg.Threshold
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	limit := cfg.Miss.Consecutive
	if limit < 1 {
		limit = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &StateMachine{
		threshold: threshold,
		missLimit: limit,
		logger:    logger.Named("gesture"),
		now:       now,
		state:     StateEmpty,
	}
}

// Observe feeds one frame's result into the machine. A nil observation means
// the classifier produced nothing for the frame. It returns the transition and
// true when the state changed.
func (m *StateMachine) Observe(obs *Observation) (Transition, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if obs.miss() {
		m.misses++
		if m.state == StateEmpty || m.misses < m.missLimit {
			return Transition{}, false
		}
		return m.apply(StateEmpty, "empty", 0, ReasonCooldown), true
	}
	m.misses = 0

	target, _ := StateFor(obs.Label)
	confident := obs.Confidence > m.threshold

	switch {
	case confident && m.state == StateEmpty:
		return m.apply(target, obs.Label.String(), obs.Confidence, ReasonFirst), true
	case confident && target != m.state:
		return m.apply(target, obs.Label.String(), obs.Confidence, ReasonSwitch), true
	case target == m.state:
		return Transition{}, false
	case obs.Label == LabelNone:
		return m.apply(StateNone, obs.Label.String(), obs.Confidence, ReasonNone), true
	}
	return Transition{}, false
}

// apply must be called with mu held.
func (m *StateMachine) apply(to DogState, gesture string, confidence float64, reason Reason) Transition {
	t := Transition{
		From:       m.state,
		To:         to,
		Label:      gesture,
		Confidence: confidence,
		Reason:     reason,
		At:         m.now(),
	}
	m.state = to
	m.lastGesture = gesture
	m.misses = 0

	m.logger.Info("state changed",
		zap.Stringer("from", t.From),
		zap.Stringer("to", t.To),
		zap.String("gesture", gesture),
		zap.Float64("confidence", confidence),
		zap.String("reason", string(reason)),
	)
	return t
}

// State returns the current DogState.
func (m *StateMachine) State() DogState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// LastGesture returns the classifier text of the most recent accepted
// transition, "empty" after a cool-down, or "" before the first one.
func (m *StateMachine) LastGesture() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastGesture
}
