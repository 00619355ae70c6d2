// Package gesture turns noisy per-frame classifier output into a stable DogState.
package gesture

// Label is a classifier category. The set is closed: anything the classifier
// reports outside of it parses to LabelUnrecognized.
type Label int

const (
	LabelUnrecognized Label = iota
	LabelNone
	LabelVictory
	LabelThumbUp
	LabelThumbDown
	LabelOpenPalm
	LabelClosedFist
	LabelPointingUp
)

var labelText = map[Label]string{
	LabelNone:       "None",
	LabelVictory:    "Victory",
	LabelThumbUp:    "Thumb_Up",
	LabelThumbDown:  "Thumb_Down",
	LabelOpenPalm:   "Open_Palm",
	LabelClosedFist: "Closed_Fist",
	LabelPointingUp: "Pointing_Up",
}

var textLabel = func() map[string]Label {
	m := make(map[string]Label, len(labelText))
	for l, s := range labelText {
		m[s] = l
	}
	return m
}()

// ParseLabel maps classifier category text to a Label. Matching is exact.
func ParseLabel(s string) Label {
	if l, ok := textLabel[s]; ok {
		return l
	}
	return LabelUnrecognized
}

// String returns the classifier text for the label.
func (l Label) String() string {
	if s, ok := labelText[l]; ok {
		return s
	}
	return "Unrecognized"
}

// Recognized reports whether l is one of the known classifier categories.
func (l Label) Recognized() bool {
	_, ok := labelText[l]
	return ok
}
