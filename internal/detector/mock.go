package detector

import (
	"sync"

	"gocv.io/x/gocv"
)

// MockClassifier is a test implementation of the Classifier interface.
// It returns queued results in order, then nil once the queue is empty.
type MockClassifier struct {
	mu      sync.Mutex
	results []*Result
	err     error
	calls   int
}

// NewMockClassifier creates a MockClassifier that will answer with results.
// A nil entry means "nothing seen" for that frame.
func NewMockClassifier(results ...*Result) *MockClassifier {
	return &MockClassifier{results: results}
}

// Push appends results to the queue.
func (m *MockClassifier) Push(results ...*Result) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = append(m.results, results...)
}

// SetError sets the error that will be returned by Classify.
func (m *MockClassifier) SetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
}

// Calls returns how many times Classify ran.
func (m *MockClassifier) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Classify pops the next queued result or returns the configured error.
func (m *MockClassifier) Classify(frame *gocv.Mat) (*Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls++
	if m.err != nil {
		return nil, m.err
	}
	if len(m.results) == 0 {
		return nil, nil
	}
	r := m.results[0]
	m.results = m.results[1:]
	return r, nil
}

// Close is a no-op for the mock classifier.
func (m *MockClassifier) Close() error {
	return nil
}

// Gesture builds a Result for category with one synthetic open hand
// centered in the frame.
func Gesture(category string, score float64) *Result {
	return &Result{
		Category: category,
		Score:    score,
		Hands:    []HandLandmarks{SyntheticHand()},
	}
}

// SyntheticHand returns a right hand with fingers fanned upward from a wrist
// near the bottom center of the frame.
func SyntheticHand() HandLandmarks {
	hand := HandLandmarks{Handedness: "Right", Score: 0.95}
	hand.Points[Wrist] = Point3D{X: 0.5, Y: 0.8}

	// Each finger is four joints stepping away from the wrist
	for finger := 0; finger < 5; finger++ {
		dx := (float64(finger) - 2) * 0.05
		for joint := 0; joint < 4; joint++ {
			step := float64(joint + 1)
			hand.Points[1+finger*4+joint] = Point3D{
				X: 0.5 + dx*step,
				Y: 0.8 - 0.06*step,
				Z: -0.01 * step,
			}
		}
	}
	return hand
}
