package gesture

import (
	"encoding/json"
	"fmt"
)

// DogState is the stabilized command state derived from classifier output.
type DogState int

const (
	// StateEmpty means no recent confident gesture, or the hand left the frame.
	StateEmpty DogState = iota
	// StateNone means the classifier explicitly reported "no gesture".
	StateNone
	StateVictory
	StateThumbUp
	StateThumbDown
	StatePoint
	StateHandOpen
	StateHandClose
)

var stateNames = [...]string{
	StateEmpty:     "Empty",
	StateNone:      "None",
	StateVictory:   "Victory",
	StateThumbUp:   "ThumbUp",
	StateThumbDown: "ThumbDown",
	StatePoint:     "Point",
	StateHandOpen:  "HandOpen",
	StateHandClose: "HandClose",
}

var labelStates = map[Label]DogState{
	LabelNone:       StateNone,
	LabelVictory:    StateVictory,
	LabelThumbUp:    StateThumbUp,
	LabelThumbDown:  StateThumbDown,
	LabelOpenPalm:   StateHandOpen,
	LabelClosedFist: StateHandClose,
	LabelPointingUp: StatePoint,
}

// StateFor returns the DogState a recognized label maps to.
// Unrecognized labels have no state.
func StateFor(l Label) (DogState, bool) {
	s, ok := labelStates[l]
	return s, ok
}

// ParseState is the inverse of DogState.String.
func ParseState(s string) (DogState, error) {
	for i, name := range stateNames {
		if name == s {
			return DogState(i), nil
		}
	}
	return StateEmpty, fmt.Errorf("unknown dog state %q", s)
}

func (s DogState) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("DogState(%d)", int(s))
	}
	return stateNames[s]
}

// IsNeutral reports whether s carries no command (Empty or None).
func (s DogState) IsNeutral() bool {
	return s == StateEmpty || s == StateNone
}

func (s DogState) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

func (s *DogState) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	v, err := ParseState(name)
	if err != nil {
		return err
	}
	*s = v
	return nil
}
