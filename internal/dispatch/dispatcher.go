// Package dispatch runs the action mapped to each accepted gesture state,
// keeping at most one action in flight. Transitions that arrive while an
// action is running are dropped, never queued.
package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ayusman/gesturedog/internal/actuator"
	"github.com/ayusman/gesturedog/internal/gesture"
)

// Task is the handle of one dispatched action.
type Task struct {
	ID        uuid.UUID
	State     gesture.DogState
	Action    actuator.Action
	StartedAt time.Time

	done chan struct{}
	err  error
}

// Done is closed when the action finishes.
func (t *Task) Done() <-chan struct{} { return t.done }

// Running reports whether the action is still in flight.
func (t *Task) Running() bool {
	select {
	case <-t.done:
		return false
	default:
		return true
	}
}

// Err returns the action's error. It is only meaningful after Done is closed.
func (t *Task) Err() error {
	select {
	case <-t.done:
		return t.err
	default:
		return nil
	}
}

// Recorder persists task lifecycle records.
type Recorder interface {
	TaskStarted(t *Task) error
	TaskFinished(t *Task, err error, finishedAt time.Time) error
}

// Config holds Dispatcher options.
type Config struct {
	Actuator actuator.Actuator
	// Mapping defaults to actuator.DefaultMapping.
	Mapping  actuator.Mapping
	Recorder Recorder
	Logger   *zap.Logger
}

// Stats are dispatcher counters.
type Stats struct {
	Started int64 `json:"started"`
	Dropped int64 `json:"dropped"`
	Failed  int64 `json:"failed"`
}

// Dispatcher starts actions for state changes.
type Dispatcher struct {
	actuator actuator.Actuator
	mapping  actuator.Mapping
	recorder Recorder
	logger   *zap.Logger

	mu      sync.Mutex
	current *Task
	stats   Stats
}

// New creates a Dispatcher.
func New(cfg Config) *Dispatcher {
	mapping := cfg.Mapping
	if mapping == nil {
		mapping = actuator.DefaultMapping
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		actuator: cfg.Actuator,
		mapping:  mapping,
		recorder: cfg.Recorder,
		logger:   logger.Named("dispatch"),
	}
}

// Dispatch starts the action mapped to state and returns its task. It returns
// false without starting anything for neutral or unmapped states, or while a
// previous action is still running. It never blocks on the action.
func (d *Dispatcher) Dispatch(state gesture.DogState) (*Task, bool) {
	action, ok := d.mapping.Lookup(state)
	if !ok {
		return nil, false
	}

	d.mu.Lock()
	if d.current != nil && d.current.Running() {
		d.stats.Dropped++
		running := d.current
		d.mu.Unlock()
		d.logger.Debug("action dropped, previous still running",
			zap.Stringer("state", state),
			zap.String("action", string(action)),
			zap.String("running", string(running.Action)))
		return nil, false
	}

	task := &Task{
		ID:        uuid.New(),
		State:     state,
		Action:    action,
		StartedAt: time.Now(),
		done:      make(chan struct{}),
	}
	d.current = task
	d.stats.Started++
	d.mu.Unlock()

	if d.recorder != nil {
		if err := d.recorder.TaskStarted(task); err != nil {
			d.logger.Warn("failed to record action start", zap.Error(err))
		}
	}

	d.logger.Info("action started",
		zap.String("task", task.ID.String()),
		zap.Stringer("state", state),
		zap.String("action", string(action)))

	go d.run(task)
	return task, true
}

func (d *Dispatcher) run(task *Task) {
	defer close(task.done)

	task.err = d.invoke(task)

	took := time.Since(task.StartedAt)
	if task.err != nil {
		d.mu.Lock()
		d.stats.Failed++
		d.mu.Unlock()
		d.logger.Error("action failed",
			zap.String("task", task.ID.String()),
			zap.String("action", string(task.Action)),
			zap.Duration("took", took),
			zap.Error(task.err))
	} else {
		d.logger.Info("action finished",
			zap.String("task", task.ID.String()),
			zap.String("action", string(task.Action)),
			zap.Duration("took", took))
	}

	if d.recorder != nil {
		if err := d.recorder.TaskFinished(task, task.err, task.StartedAt.Add(took)); err != nil {
			d.logger.Warn("failed to record action finish", zap.Error(err))
		}
	}
}

// invoke calls the actuator, turning a panic into an error.
func (d *Dispatcher) invoke(task *Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("action %s panicked: %v", task.Action, r)
		}
	}()
	ctx := actuator.WithState(context.Background(), task.State)
	return d.actuator.Do(ctx, task.Action)
}

// Current returns the most recently started task, running or not.
func (d *Dispatcher) Current() *Task {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.current
}

// Busy reports whether an action is in flight.
func (d *Dispatcher) Busy() bool {
	t := d.Current()
	return t != nil && t.Running()
}

// Wait blocks until the current task finishes or ctx is done.
func (d *Dispatcher) Wait(ctx context.Context) error {
	t := d.Current()
	if t == nil {
		return nil
	}
	select {
	case <-t.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stats returns a snapshot of the counters.
func (d *Dispatcher) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stats
}
