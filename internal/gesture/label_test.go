package gesture

import (
	"encoding/json"
	"testing"
)

func TestParseLabel(t *testing.T) {
	tests := []struct {
		in    string
		want  Label
		state DogState
	}{
		{"Victory", LabelVictory, StateVictory},
		{"None", LabelNone, StateNone},
		{"Thumb_Up", LabelThumbUp, StateThumbUp},
		{"Thumb_Down", LabelThumbDown, StateThumbDown},
		{"Open_Palm", LabelOpenPalm, StateHandOpen},
		{"Closed_Fist", LabelClosedFist, StateHandClose},
		{"Pointing_Up", LabelPointingUp, StatePoint},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got := ParseLabel(tt.in)
			if got != tt.want {
				t.Fatalf("ParseLabel(%q) = %v, want %v", tt.in, got, tt.want)
			}
			if got.String() != tt.in {
				t.Errorf("String() = %q, want %q", got.String(), tt.in)
			}
			state, ok := StateFor(got)
			if !ok || state != tt.state {
				t.Errorf("StateFor(%v) = %v, %v; want %v, true", got, state, ok, tt.state)
			}
		})
	}
}

func TestParseLabel_Unrecognized(t *testing.T) {
	for _, in := range []string{"", "victory", "Unknown", "ILoveYou", " Victory"} {
		l := ParseLabel(in)
		if l != LabelUnrecognized {
			t.Errorf("ParseLabel(%q) = %v, want LabelUnrecognized", in, l)
		}
		if l.Recognized() {
			t.Errorf("ParseLabel(%q).Recognized() = true", in)
		}
		if _, ok := StateFor(l); ok {
			t.Errorf("StateFor(%q) should have no state", in)
		}
	}
}

func TestDogState_JSON(t *testing.T) {
	data, err := json.Marshal(StateHandOpen)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	if string(data) != `"HandOpen"` {
		t.Errorf("Marshal() = %s, want \"HandOpen\"", data)
	}

	var s DogState
	if err := json.Unmarshal([]byte(`"ThumbDown"`), &s); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if s != StateThumbDown {
		t.Errorf("Unmarshal() = %v, want ThumbDown", s)
	}

	if err := json.Unmarshal([]byte(`"Sit"`), &s); err == nil {
		t.Error("expected error for unknown state name")
	}
}

func TestDogState_IsNeutral(t *testing.T) {
	if !StateEmpty.IsNeutral() || !StateNone.IsNeutral() {
		t.Error("Empty and None must be neutral")
	}
	if StateVictory.IsNeutral() {
		t.Error("Victory must not be neutral")
	}
}
