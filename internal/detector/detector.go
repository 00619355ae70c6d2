package detector

import (
	"time"

	"gocv.io/x/gocv"

	"github.com/ayusman/gesturedog/internal/gesture"
)

// Classifier recognizes a hand gesture in a video frame.
type Classifier interface {
	// Classify returns the top gesture in frame, or nil when the
	// classifier saw nothing.
	Classify(frame *gocv.Mat) (*Result, error)

	// Close releases any resources held by the classifier.
	Close() error
}

// Result is one classifier answer for a frame.
type Result struct {
	// Category is the classifier's label text, e.g. "Thumb_Up".
	Category string
	// Score is the category confidence in [0, 1].
	Score float64
	// Hands holds the landmarks of every detected hand.
	Hands []HandLandmarks
}

// Observation converts r into the state machine's input. Nil results and
// categories outside the known label set become nil, meaning nothing was
// observed this frame.
func (r *Result) Observation() *gesture.Observation {
	if r == nil {
		return nil
	}
	label := gesture.ParseLabel(r.Category)
	if !label.Recognized() {
		return nil
	}
	return &gesture.Observation{
		Label:      label,
		Confidence: r.Score,
		Hands:      r.Hands,
	}
}

// Config holds configuration options for gesture classification.
type Config struct {
	// MaxHands is the maximum number of hands to detect (default: 1).
	MaxHands int

	// MinConfidence is the minimum detection confidence threshold (0.0-1.0).
	MinConfidence float64

	// ScriptPath overrides the lookup of gesture_service.py.
	ScriptPath string

	// PythonPath overrides the interpreter lookup.
	PythonPath string

	// ModelPath is passed to the service as the gesture recognizer model.
	ModelPath string

	// IdleTimeout stops the subprocess after this long without frames.
	IdleTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		MaxHands:      1,
		MinConfidence: 0.5,
		ModelPath:     "gesture_recognizer.task",
		IdleTimeout:   30 * time.Second,
	}
}
