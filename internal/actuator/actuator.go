// Package actuator maps stable gesture states to robot actions and performs
// them through an external plugin or a log-only stand-in.
package actuator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/ayusman/gesturedog/internal/gesture"
	"github.com/ayusman/gesturedog/internal/plugin"
)

// Action is a named robot command. Actions take no arguments and may block
// for several seconds.
type Action string

const (
	ActionHello       Action = "Hello"
	ActionFrontPounce Action = "FrontPounce"
	ActionHeart       Action = "Heart"
	ActionStandUp     Action = "StandUp"
	ActionDamp        Action = "Damp"
	ActionStretch     Action = "Stretch"
)

// actionInit is the handshake the plugin answers when the robot is reachable.
const actionInit = "init"

var (
	// ErrUnknownAction is returned for actions with no mapping or that the
	// plugin does not advertise.
	ErrUnknownAction = errors.New("unknown action")
	// ErrConnect marks a failed actuator handshake.
	ErrConnect = errors.New("actuator connect failed")
)

// Mapping associates gesture states with actions.
type Mapping map[gesture.DogState]Action

// DefaultMapping is the fixed gesture to action table. Neutral states have no
// entry.
var DefaultMapping = Mapping{
	gesture.StateHandOpen:  ActionHello,
	gesture.StateHandClose: ActionFrontPounce,
	gesture.StateVictory:   ActionHeart,
	gesture.StateThumbUp:   ActionStandUp,
	gesture.StateThumbDown: ActionDamp,
	gesture.StatePoint:     ActionStretch,
}

// ParseMapping builds a Mapping from state names to action names. Entries it
// does not name keep their DefaultMapping action.
func ParseMapping(raw map[string]string) (Mapping, error) {
	m := make(Mapping, len(DefaultMapping))
	for state, action := range DefaultMapping {
		m[state] = action
	}
	for name, action := range raw {
		state, err := gesture.ParseState(name)
		if err != nil {
			return nil, err
		}
		if state.IsNeutral() {
			return nil, fmt.Errorf("state %s cannot be mapped to an action", state)
		}
		if action == "" {
			delete(m, state)
			continue
		}
		m[state] = Action(action)
	}
	return m, nil
}

// Lookup returns the action for state.
func (m Mapping) Lookup(state gesture.DogState) (Action, bool) {
	if state.IsNeutral() {
		return "", false
	}
	a, ok := m[state]
	return a, ok
}

// Actuator performs robot actions.
type Actuator interface {
	// Do runs action to completion.
	Do(ctx context.Context, action Action) error
	// Ping checks the robot is reachable.
	Ping(ctx context.Context) error
}

// PluginActuator forwards actions to an external plugin executable.
type PluginActuator struct {
	plugin   *plugin.Plugin
	executor *plugin.Executor
	config   json.RawMessage
	logger   *zap.Logger
}

// NewPluginActuator resolves name through manager. config is forwarded to the
// plugin verbatim on every request.
func NewPluginActuator(manager *plugin.Manager, name string, executor *plugin.Executor, config json.RawMessage, logger *zap.Logger) (*PluginActuator, error) {
	if err := manager.Discover(); err != nil {
		return nil, fmt.Errorf("discover plugins in %s: %w", manager.PluginDir(), err)
	}
	p, err := manager.Get(name)
	if err != nil {
		return nil, fmt.Errorf("actuator plugin %q: %w", name, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PluginActuator{
		plugin:   p,
		executor: executor,
		config:   config,
		logger:   logger.Named("actuator"),
	}, nil
}

// Do implements Actuator. The triggering state, when attached with WithState,
// is forwarded to the plugin.
func (a *PluginActuator) Do(ctx context.Context, action Action) error {
	if !a.plugin.Manifest.Supports(string(action)) {
		return fmt.Errorf("%w: %s not supported by %s", ErrUnknownAction, action, a.plugin.Manifest.Name)
	}
	req := &plugin.Request{Action: string(action), Config: a.config}
	if state, ok := StateFrom(ctx); ok {
		req.State = state.String()
	}
	return a.call(ctx, req)
}

// Ping implements Actuator.
func (a *PluginActuator) Ping(ctx context.Context) error {
	return a.call(ctx, &plugin.Request{Action: actionInit, Config: a.config})
}

func (a *PluginActuator) call(ctx context.Context, req *plugin.Request) error {
	start := time.Now()
	resp, err := a.executor.Execute(ctx, a.plugin, req)
	if err != nil {
		return err
	}
	if !resp.Success {
		return fmt.Errorf("plugin %s: %s", a.plugin.Manifest.Name, resp.Error)
	}
	a.logger.Debug("plugin call finished",
		zap.String("action", req.Action),
		zap.Duration("took", time.Since(start)))
	return nil
}

// Name returns the plugin name.
func (a *PluginActuator) Name() string {
	return a.plugin.Manifest.Name
}

// LogActuator only logs actions. It stands in for the robot in webcam mode.
type LogActuator struct {
	logger *zap.Logger
	delay  time.Duration
}

// NewLogActuator returns a LogActuator that sleeps delay per action.
func NewLogActuator(logger *zap.Logger, delay time.Duration) *LogActuator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogActuator{logger: logger.Named("actuator"), delay: delay}
}

// Do implements Actuator.
func (a *LogActuator) Do(ctx context.Context, action Action) error {
	a.logger.Info("action", zap.String("action", string(action)))
	if a.delay <= 0 {
		return nil
	}
	select {
	case <-time.After(a.delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Ping implements Actuator.
func (a *LogActuator) Ping(context.Context) error { return nil }

type stateKey struct{}

// WithState attaches the gesture state that triggered an action.
func WithState(ctx context.Context, state gesture.DogState) context.Context {
	return context.WithValue(ctx, stateKey{}, state)
}

// StateFrom returns the state attached by WithState.
func StateFrom(ctx context.Context) (gesture.DogState, bool) {
	s, ok := ctx.Value(stateKey{}).(gesture.DogState)
	return s, ok
}

// RetryPolicy bounds the connect handshake.
type RetryPolicy struct {
	Initial    time.Duration
	MaxRetries int
}

// Connect pings a until it answers or the policy is exhausted. The returned
// error wraps ErrConnect.
func Connect(ctx context.Context, a Actuator, policy RetryPolicy, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}

	ebo := backoff.NewExponentialBackOff()
	if policy.Initial > 0 {
		ebo.InitialInterval = policy.Initial
	}
	ebo.Reset()
	var bo backoff.BackOff = ebo
	if policy.MaxRetries > 0 {
		bo = backoff.WithMaxRetries(ebo, uint64(policy.MaxRetries))
	}

	attempt := 0
	op := func() error {
		attempt++
		err := a.Ping(ctx)
		if err != nil {
			logger.Warn("actuator not ready", zap.Int("attempt", attempt), zap.Error(err))
		}
		return err
	}

	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return fmt.Errorf("%w: %v", ErrConnect, err)
	}
	logger.Info("actuator connected", zap.Int("attempts", attempt))
	return nil
}
