// Package producer runs the capture loop: it reads frames, classifies them,
// stabilizes the result into a gesture state, annotates each frame and
// publishes it through the shared frame slot, and hands state changes to the
// action dispatcher.
package producer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/gesturedog/internal/actuator"
	"github.com/ayusman/gesturedog/internal/capture"
	"github.com/ayusman/gesturedog/internal/detector"
	"github.com/ayusman/gesturedog/internal/dispatch"
	"github.com/ayusman/gesturedog/internal/frameslot"
	"github.com/ayusman/gesturedog/internal/gesture"
	"github.com/ayusman/gesturedog/internal/store"
)

var (
	// ErrCapture marks a video source failure.
	ErrCapture = errors.New("capture failed")
	// ErrSlot marks a failure to create the shared frame slot.
	ErrSlot = errors.New("frame slot failed")

	errEmptyFrame = errors.New("empty frame")
)

// TransitionListener is told about accepted state changes in order, on a
// goroutine separate from the capture loop. A listener that falls more than
// relayBuffer transitions behind misses the ones that overflow.
type TransitionListener func(sess *Session, t gesture.Transition)

// FirstFramePolicy bounds the wait for the video source's first frame.
type FirstFramePolicy struct {
	Initial    time.Duration
	MaxRetries int
}

// Config holds Producer dependencies.
type Config struct {
	Camera     capture.Camera
	Classifier detector.Classifier
	SlotPaths  frameslot.Paths
	Gesture    gesture.Config

	Actuator actuator.Actuator
	// Mapping defaults to actuator.DefaultMapping.
	Mapping actuator.Mapping

	// Store, when set, records sessions, transitions and action runs.
	Store   *store.Store
	Battery BatterySource
	// Source names the video source in session records.
	Source     string
	FirstFrame FirstFramePolicy
	Listeners  []TransitionListener
	Logger     *zap.Logger
}

// Producer owns the capture loop.
type Producer struct {
	cfg     Config
	logger  *zap.Logger
	session atomic.Pointer[Session]

	ready     chan struct{}
	readyOnce sync.Once
}

// New creates a Producer.
func New(cfg Config) *Producer {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Gesture.Logger == nil {
		cfg.Gesture.Logger = logger
	}
	return &Producer{
		cfg:    cfg,
		logger: logger.Named("producer"),
		ready:  make(chan struct{}),
	}
}

// Ready is closed once the first session has created the frame slot.
func (p *Producer) Ready() <-chan struct{} {
	return p.ready
}

// Session returns the running session, or nil before the first frame.
func (p *Producer) Session() *Session {
	return p.session.Load()
}

// AddListener registers l. It must be called before Run.
func (p *Producer) AddListener(l TransitionListener) {
	p.cfg.Listeners = append(p.cfg.Listeners, l)
}

// Run captures until ctx is done or the source ends. Source and slot
// failures are returned wrapped in ErrCapture or ErrSlot; a source that ends
// normally returns nil.
func (p *Producer) Run(ctx context.Context) error {
	if err := p.cfg.Camera.Open(); err != nil {
		return fmt.Errorf("%w: open source: %v", ErrCapture, err)
	}
	defer p.cfg.Camera.Close()

	first, err := p.firstFrame(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("%w: first frame: %v", ErrCapture, err)
	}

	sess, err := p.startSession(first.Cols(), first.Rows())
	if err != nil {
		first.Close()
		return err
	}
	defer p.endSession(sess)

	p.process(sess, first)

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		frame, err := p.cfg.Camera.ReadFrame()
		if errors.Is(err, capture.ErrEndOfStream) {
			p.logger.Info("source ended", zap.Int64("frames", sess.frames.Load()))
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrCapture, err)
		}
		p.process(sess, frame)
	}
}

// firstFrame retries the source with exponential backoff until it yields a
// frame.
func (p *Producer) firstFrame(ctx context.Context) (*gocv.Mat, error) {
	ebo := backoff.NewExponentialBackOff()
	if p.cfg.FirstFrame.Initial > 0 {
		ebo.InitialInterval = p.cfg.FirstFrame.Initial
	}
	ebo.Reset()
	var bo backoff.BackOff = ebo
	if p.cfg.FirstFrame.MaxRetries > 0 {
		bo = backoff.WithMaxRetries(ebo, uint64(p.cfg.FirstFrame.MaxRetries))
	}

	var frame *gocv.Mat
	op := func() error {
		f, err := p.cfg.Camera.ReadFrame()
		if errors.Is(err, capture.ErrEndOfStream) {
			return backoff.Permanent(err)
		}
		if err != nil {
			return err
		}
		if f.Empty() {
			f.Close()
			return errEmptyFrame
		}
		frame = f
		return nil
	}
	notify := func(err error, next time.Duration) {
		p.logger.Warn("waiting for first frame", zap.Error(err), zap.Duration("next", next))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return nil, err
	}
	return frame, nil
}

func (p *Producer) startSession(width, height int) (*Session, error) {
	sess := newSession(width, height)
	sess.Battery = p.cfg.Battery
	sess.Machine = gesture.NewStateMachine(p.cfg.Gesture)

	slot, err := frameslot.Create(p.cfg.SlotPaths, width, height, p.logger)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSlot, err)
	}
	sess.Slot = slot

	listeners := p.cfg.Listeners
	var recorder dispatch.Recorder
	if p.cfg.Store != nil {
		err := p.cfg.Store.Sessions().Create(&store.Session{
			ID:        sess.ID,
			Source:    p.cfg.Source,
			Width:     width,
			Height:    height,
			StartedAt: sess.StartedAt,
		})
		if err != nil {
			p.logger.Warn("failed to record session", zap.Error(err))
		} else {
			rec := &storeRecorder{store: p.cfg.Store, sessionID: sess.ID, logger: p.logger}
			recorder = rec
			listeners = append([]TransitionListener{rec.transition}, listeners...)
		}
	}
	if len(listeners) > 0 {
		sess.relay = newRelay(sess, listeners)
	}

	if p.cfg.Actuator != nil {
		sess.Dispatcher = dispatch.New(dispatch.Config{
			Actuator: p.cfg.Actuator,
			Mapping:  p.cfg.Mapping,
			Recorder: recorder,
			Logger:   p.logger,
		})
	}

	p.session.Store(sess)
	p.readyOnce.Do(func() { close(p.ready) })
	p.logger.Info("session started",
		zap.String("session", sess.ID),
		zap.Int("width", width),
		zap.Int("height", height))
	return sess, nil
}

func (p *Producer) endSession(sess *Session) {
	if sess.relay != nil {
		sess.relay.stop()
	}
	if sess.Dispatcher != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		if err := sess.Dispatcher.Wait(ctx); err != nil {
			p.logger.Warn("action still running at shutdown", zap.Error(err))
		}
		cancel()
	}
	if p.cfg.Store != nil {
		if err := p.cfg.Store.Sessions().End(sess.ID, time.Now()); err != nil {
			p.logger.Warn("failed to close session record", zap.Error(err))
		}
	}
	if err := sess.close(); err != nil {
		p.logger.Warn("failed to close frame slot", zap.Error(err))
	}
	p.logger.Info("session ended", zap.String("session", sess.ID), zap.Any("stats", sess.Stats()))
}

// process handles one frame and takes ownership of it. Errors are logged and
// the frame skipped.
func (p *Producer) process(sess *Session, frame *gocv.Mat) {
	defer frame.Close()
	sess.frames.Add(1)

	if frame.Cols() != sess.Width || frame.Rows() != sess.Height || frame.Channels() != frameslot.Channels {
		p.frameError(sess, "frame size changed",
			zap.Int("width", frame.Cols()),
			zap.Int("height", frame.Rows()),
			zap.Int("channels", frame.Channels()))
		return
	}

	var res *detector.Result
	if p.cfg.Classifier != nil {
		var err error
		res, err = p.cfg.Classifier.Classify(frame)
		if err != nil {
			p.frameError(sess, "classifier failed", zap.Error(err))
			return
		}
	}

	t, changed := sess.Machine.Observe(res.Observation())

	annotate(frame, res, sess.Machine.State(), sess.BatteryLevel())

	if err := sess.Slot.Write(frame.ToBytes()); err != nil {
		p.frameError(sess, "frame slot write failed", zap.Error(err))
	}

	if !changed {
		return
	}
	sess.transitions.Add(1)
	if sess.relay != nil && !sess.relay.send(t) {
		sess.missed.Add(1)
		p.logger.Warn("transition listeners behind, transition not relayed",
			zap.String("session", sess.ID),
			zap.Stringer("to", t.To))
	}
	if sess.Dispatcher == nil || t.To.IsNeutral() {
		return
	}
	if _, ok := sess.Dispatcher.Dispatch(t.To); ok {
		sess.dispatched.Add(1)
	} else {
		sess.dropped.Add(1)
	}
}

func (p *Producer) frameError(sess *Session, msg string, fields ...zap.Field) {
	sess.errors.Add(1)
	p.logger.Warn(msg, append(fields, zap.String("session", sess.ID))...)
}

// storeRecorder persists transitions and action runs for one session.
type storeRecorder struct {
	store     *store.Store
	sessionID string
	logger    *zap.Logger
}

func (r *storeRecorder) TaskStarted(t *dispatch.Task) error {
	return r.store.ActionRuns().Create(&store.ActionRun{
		ID:        t.ID.String(),
		SessionID: r.sessionID,
		State:     t.State.String(),
		Action:    string(t.Action),
		StartedAt: t.StartedAt,
	})
}

func (r *storeRecorder) TaskFinished(t *dispatch.Task, runErr error, finishedAt time.Time) error {
	return r.store.ActionRuns().Finish(t.ID.String(), runErr, finishedAt)
}

func (r *storeRecorder) transition(sess *Session, t gesture.Transition) {
	err := r.store.Transitions().Create(&store.Transition{
		SessionID:  sess.ID,
		From:       t.From.String(),
		To:         t.To.String(),
		Label:      t.Label,
		Confidence: t.Confidence,
		Reason:     string(t.Reason),
		CreatedAt:  t.At,
	})
	if err != nil {
		r.logger.Warn("failed to record transition", zap.Error(err))
	}
}
