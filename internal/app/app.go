// Package app assembles gesturedog's components from configuration and runs
// the producer, the stream server, or both.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/ayusman/gesturedog/internal/actuator"
	"github.com/ayusman/gesturedog/internal/capture"
	"github.com/ayusman/gesturedog/internal/config"
	"github.com/ayusman/gesturedog/internal/detector"
	"github.com/ayusman/gesturedog/internal/emitter"
	"github.com/ayusman/gesturedog/internal/frameslot"
	"github.com/ayusman/gesturedog/internal/gesture"
	"github.com/ayusman/gesturedog/internal/plugin"
	"github.com/ayusman/gesturedog/internal/producer"
	"github.com/ayusman/gesturedog/internal/server"
	"github.com/ayusman/gesturedog/internal/store"
)

// ErrStore marks a history database that could not be opened.
var ErrStore = errors.New("store unavailable")

// Deps overrides components New would otherwise build from configuration.
type Deps struct {
	Camera     capture.Camera
	Classifier detector.Classifier
	Actuator   actuator.Actuator
	Encoder    server.Encoder
}

// App holds the long-lived components shared by the producer and the server.
type App struct {
	cfg    *config.Config
	deps   Deps
	logger *zap.Logger

	mapping actuator.Mapping
	store   *store.Store
	emitter *emitter.Emitter
	hub     *server.Hub

	classifier detector.Classifier
}

// New validates the parts of cfg only the components can check and opens
// the history store.
func New(cfg *config.Config, deps Deps, logger *zap.Logger) (*App, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	mapping, err := actuator.ParseMapping(cfg.Actuator.Mapping)
	if err != nil {
		return nil, fmt.Errorf("%w: actuator.mapping: %w", config.ErrInvalid, err)
	}

	a := &App{
		cfg:     cfg,
		deps:    deps,
		logger:  logger,
		mapping: mapping,
		hub:     server.NewHub(logger),
	}

	if cfg.Store.Path != "" {
		if dir := filepath.Dir(cfg.Store.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("%w: %w", ErrStore, err)
			}
		}
		s, err := store.New(cfg.Store.Path)
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrStore, err)
		}
		a.store = s
	}

	if cfg.MQTT.Broker != "" {
		a.emitter = emitter.New(emitter.Config{
			Broker:         cfg.MQTT.Broker,
			ClientID:       cfg.MQTT.ClientID,
			TopicPrefix:    cfg.MQTT.TopicPrefix,
			QoS:            cfg.MQTT.QoS,
			ConnectRetries: cfg.MQTT.ConnectRetries,
			Logger:         logger,
		})
	}

	return a, nil
}

// Store returns the history store, or nil when disabled.
func (a *App) Store() *store.Store {
	return a.store
}

// Hub returns the websocket event hub.
func (a *App) Hub() *server.Hub {
	return a.hub
}

// Close releases the store, the broker connection and the classifier.
func (a *App) Close() error {
	var errs []error
	if a.emitter != nil {
		a.emitter.Disconnect()
	}
	if a.classifier != nil {
		errs = append(errs, a.classifier.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	return errors.Join(errs...)
}

// connectEmitter connects to the broker. Telemetry is optional, so a broker
// that stays unreachable only disables it.
func (a *App) connectEmitter(ctx context.Context) {
	if a.emitter == nil {
		return
	}
	if err := a.emitter.Connect(ctx); err != nil {
		a.logger.Warn("mqtt disabled", zap.String("broker", a.cfg.MQTT.Broker), zap.Error(err))
		a.emitter = nil
	}
}

func (a *App) buildActuator(ctx context.Context) (actuator.Actuator, error) {
	act := a.deps.Actuator
	if act == nil {
		if a.cfg.Webcam() {
			act = actuator.NewLogActuator(a.logger, a.cfg.Actuator.LogDelay)
		} else {
			pluginCfg, err := json.Marshal(map[string]string{"interface": a.cfg.Actuator.Interface})
			if err != nil {
				return nil, err
			}
			pa, err := actuator.NewPluginActuator(
				plugin.NewManager(a.cfg.Actuator.PluginDir),
				a.cfg.Actuator.Plugin,
				plugin.NewExecutor(a.cfg.Actuator.Timeout),
				pluginCfg,
				a.logger,
			)
			if err != nil {
				return nil, fmt.Errorf("%w: %w", actuator.ErrConnect, err)
			}
			act = pa
		}
	}

	policy := actuator.RetryPolicy{
		Initial:    a.cfg.Actuator.ConnectBackoff,
		MaxRetries: a.cfg.Actuator.ConnectRetries,
	}
	if err := actuator.Connect(ctx, act, policy, a.logger); err != nil {
		return nil, err
	}
	return act, nil
}

func (a *App) buildClassifier() (detector.Classifier, error) {
	if a.deps.Classifier != nil {
		return a.deps.Classifier, nil
	}
	cls, err := detector.NewMediaPipeClassifier(detector.Config{
		MaxHands:      a.cfg.Classifier.MaxHands,
		MinConfidence: a.cfg.Classifier.MinConfidence,
		ScriptPath:    a.cfg.Classifier.Script,
		PythonPath:    a.cfg.Classifier.Python,
		ModelPath:     a.cfg.Classifier.Model,
		IdleTimeout:   a.cfg.Classifier.IdleTimeout,
	}, a.logger)
	if err != nil {
		return nil, fmt.Errorf("classifier: %w", err)
	}
	return cls, nil
}

func (a *App) buildCamera() (capture.Camera, string) {
	if a.deps.Camera != nil {
		return a.deps.Camera, "injected"
	}
	src := capture.Source{
		Flip:   a.cfg.Capture.Flip,
		Width:  a.cfg.Capture.Width,
		Height: a.cfg.Capture.Height,
	}
	name := fmt.Sprintf("device:%d", a.cfg.Capture.Device)
	if a.cfg.Webcam() {
		src.DeviceID = a.cfg.Capture.Device
	} else {
		src.URL = a.cfg.Capture.URL
		name = src.URL
	}
	cam := capture.NewCamera(src)
	cam.SetFPS(a.cfg.Capture.FPS)
	return cam, name
}

// NewProducer connects the actuator and builds a producer whose transitions
// go to the store, the broker and the event hub.
func (a *App) NewProducer(ctx context.Context) (*producer.Producer, error) {
	act, err := a.buildActuator(ctx)
	if err != nil {
		return nil, err
	}

	cls, err := a.buildClassifier()
	if err != nil {
		return nil, err
	}
	a.classifier = cls

	a.connectEmitter(ctx)

	cam, source := a.buildCamera()
	cfg := producer.Config{
		Camera:     cam,
		Classifier: cls,
		SlotPaths:  frameslot.DefaultPaths(a.cfg.Slot.Dir),
		Gesture: gesture.Config{
			Threshold: a.cfg.Gesture.Threshold,
			Miss:      gesture.MissPolicy{Consecutive: a.cfg.Gesture.MissFrames},
			Logger:    a.logger,
		},
		Actuator: act,
		Mapping:  a.mapping,
		Store:    a.store,
		Source:   source,
		FirstFrame: producer.FirstFramePolicy{
			Initial:    a.cfg.Capture.FirstFrameBackoff,
			MaxRetries: a.cfg.Capture.FirstFrameRetries,
		},
		Logger: a.logger,
	}
	if a.emitter != nil {
		cfg.Battery = a.emitter
		if err := a.emitter.SubscribeBattery(); err != nil {
			a.logger.Warn("battery telemetry unavailable", zap.Error(err))
		}
	}

	p := producer.New(cfg)
	p.AddListener(func(_ *producer.Session, t gesture.Transition) {
		a.hub.BroadcastTransition(t)
	})
	if em := a.emitter; em != nil {
		p.AddListener(func(_ *producer.Session, t gesture.Transition) {
			if err := em.PublishTransition(t); err != nil {
				a.logger.Warn("publish transition", zap.Error(err))
			}
		})
	}
	return p, nil
}

// NewServer builds the stream server. status may be nil when the producer
// runs in another process.
func (a *App) NewServer(status server.StatusFunc) *server.Server {
	return server.New(server.Config{
		Addr:      a.cfg.Server.Addr,
		SlotPaths: frameslot.DefaultPaths(a.cfg.Slot.Dir),
		Encoder:   a.deps.Encoder,
		IdleWait:  a.cfg.Server.IdleWait,
		Store:     a.store,
		Hub:       a.hub,
		Status:    status,
		StaticDir: a.cfg.Server.StaticDir,
		Logger:    a.logger,
	})
}

// CheckSlot opens and closes the frame slot, so a standalone server fails
// at startup on missing or malformed metadata. Errors wrap producer.ErrSlot.
func (a *App) CheckSlot() error {
	r, err := frameslot.Open(frameslot.DefaultPaths(a.cfg.Slot.Dir))
	if err != nil {
		return fmt.Errorf("%w: %w", producer.ErrSlot, err)
	}
	return r.Close()
}

// Produce runs the producer until ctx is done or the source ends.
func (a *App) Produce(ctx context.Context) error {
	p, err := a.NewProducer(ctx)
	if err != nil {
		return err
	}
	return p.Run(ctx)
}

// Serve runs the stream server alone, relaying transitions published by a
// producer process from the broker to websocket clients.
func (a *App) Serve(ctx context.Context) error {
	if err := a.CheckSlot(); err != nil {
		return err
	}

	a.connectEmitter(ctx)
	if a.emitter != nil {
		if err := a.emitter.SubscribeTransitions(a.hub.BroadcastTransition); err != nil {
			a.logger.Warn("transition relay unavailable", zap.Error(err))
		}
	}
	return a.NewServer(nil).Run(ctx)
}

// Run starts the producer, then the server once the frame slot exists. The
// first of the two to stop ends both.
func (a *App) Run(ctx context.Context) error {
	p, err := a.NewProducer(ctx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	prodErr := make(chan error, 1)
	go func() { prodErr <- p.Run(ctx) }()

	select {
	case err := <-prodErr:
		return err
	case <-p.Ready():
	}

	srvErr := make(chan error, 1)
	go func() { srvErr <- a.NewServer(server.ProducerStatus(p)).Run(ctx) }()

	select {
	case err := <-prodErr:
		cancel()
		if serr := <-srvErr; err == nil {
			err = serr
		}
		return err
	case err := <-srvErr:
		cancel()
		if perr := <-prodErr; err == nil {
			err = perr
		}
		return err
	}
}
