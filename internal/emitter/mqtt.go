// Package emitter publishes gesture transitions to an MQTT broker and
// follows the robot's battery telemetry.
package emitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/ayusman/gesturedog/internal/gesture"
)

// Topic suffixes under Config.TopicPrefix.
const (
	TopicRecognizedGesture = "recognized_gesture"
	TopicBattery           = "battery"
)

// ErrNotConnected is returned when publishing without a broker connection.
var ErrNotConnected = errors.New("mqtt not connected")

// Config holds broker settings.
type Config struct {
	Broker         string
	ClientID       string
	TopicPrefix    string
	QoS            byte
	ConnectTimeout time.Duration
	// ConnectRetries bounds the initial connect; 0 retries until ctx is done.
	ConnectRetries int
	Logger         *zap.Logger
}

// Stats contains emitter statistics.
type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Received  uint64            `json:"received"`
	Errors    uint64            `json:"errors"`
}

// Emitter is the MQTT side of the producer and the stream server.
type Emitter struct {
	cfg    Config
	client mqtt.Client
	logger *zap.Logger

	battery atomic.Int64

	mu        sync.RWMutex
	published map[string]uint64
	received  uint64
	errors    uint64
	connected bool
}

// New creates an Emitter. Call Connect before publishing.
func New(cfg Config) *Emitter {
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 5 * time.Second
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "gesturedog"
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Emitter{
		cfg:       cfg,
		logger:    logger.Named("emitter"),
		published: make(map[string]uint64),
	}
	e.battery.Store(-1)
	return e
}

// newWithClient wires a pre-built client, used by tests.
func newWithClient(cfg Config, client mqtt.Client) *Emitter {
	e := New(cfg)
	e.client = client
	e.connected = client.IsConnected()
	return e
}

// Topic returns the full topic for suffix.
func (e *Emitter) Topic(suffix string) string {
	if e.cfg.TopicPrefix == "" {
		return suffix
	}
	return strings.TrimSuffix(e.cfg.TopicPrefix, "/") + "/" + suffix
}

func brokerURL(broker string) string {
	if strings.Contains(broker, "://") {
		return broker
	}
	return "tcp://" + broker
}

// Connect establishes the broker connection, retrying with exponential
// backoff. Once connected, paho reconnects on its own.
func (e *Emitter) Connect(ctx context.Context) error {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL(e.cfg.Broker))
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(c mqtt.Client) {
		e.setConnected(true)
		e.logger.Info("mqtt connection established",
			zap.String("broker", e.cfg.Broker),
			zap.String("client_id", e.cfg.ClientID))
	}
	opts.OnConnectionLost = func(c mqtt.Client, err error) {
		e.setConnected(false)
		e.logger.Warn("mqtt connection lost, will auto-reconnect",
			zap.String("broker", e.cfg.Broker),
			zap.Error(err))
	}

	e.client = mqtt.NewClient(opts)
	e.logger.Info("connecting to mqtt broker", zap.String("broker", e.cfg.Broker))

	ebo := backoff.NewExponentialBackOff()
	ebo.InitialInterval = 500 * time.Millisecond
	ebo.Reset()
	var bo backoff.BackOff = ebo
	if e.cfg.ConnectRetries > 0 {
		bo = backoff.WithMaxRetries(ebo, uint64(e.cfg.ConnectRetries))
	}

	op := func() error {
		token := e.client.Connect()
		if !token.WaitTimeout(e.cfg.ConnectTimeout) {
			return fmt.Errorf("mqtt connection timeout")
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("mqtt connection failed: %w", err)
		}
		return nil
	}
	notify := func(err error, next time.Duration) {
		e.logger.Warn("mqtt connect retry", zap.Error(err), zap.Duration("next", next))
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(bo, ctx), notify); err != nil {
		return err
	}
	e.setConnected(true)
	return nil
}

// PublishTransition publishes t as JSON on the recognized_gesture topic.
func (e *Emitter) PublishTransition(t gesture.Transition) error {
	payload, err := json.Marshal(t)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to marshal transition: %w", err)
	}
	return e.publish(e.Topic(TopicRecognizedGesture), payload)
}

func (e *Emitter) publish(topic string, payload []byte) error {
	if !e.isConnected() {
		e.countError()
		return ErrNotConnected
	}

	token := e.client.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	e.logger.Debug("published", zap.String("topic", topic), zap.Int("size", len(payload)))
	return nil
}

// SubscribeBattery follows the battery topic. Payloads are a bare state of
// charge ("87") or JSON {"soc": 87}.
func (e *Emitter) SubscribeBattery() error {
	return e.subscribe(e.Topic(TopicBattery), e.handleBattery)
}

func (e *Emitter) handleBattery(_ mqtt.Client, msg mqtt.Message) {
	e.countReceived()
	level, err := parseBattery(msg.Payload())
	if err != nil {
		e.logger.Warn("bad battery payload", zap.String("topic", msg.Topic()), zap.Error(err))
		return
	}
	e.battery.Store(int64(level))
}

func parseBattery(payload []byte) (int, error) {
	s := strings.TrimSpace(string(payload))
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return clampPercent(n), nil
	}
	var body struct {
		SOC *float64 `json:"soc"`
	}
	if err := json.Unmarshal([]byte(s), &body); err != nil {
		return 0, err
	}
	if body.SOC == nil {
		return 0, fmt.Errorf("missing soc field")
	}
	return clampPercent(*body.SOC), nil
}

func clampPercent(v float64) int {
	switch {
	case v < 0:
		return 0
	case v > 100:
		return 100
	}
	return int(v)
}

// Battery returns the last reported state of charge, or -1 when unknown.
func (e *Emitter) Battery() int {
	return int(e.battery.Load())
}

// SubscribeTransitions calls fn for every transition published by any
// producer on the broker.
func (e *Emitter) SubscribeTransitions(fn func(gesture.Transition)) error {
	return e.subscribe(e.Topic(TopicRecognizedGesture), func(_ mqtt.Client, msg mqtt.Message) {
		e.countReceived()
		var t gesture.Transition
		if err := json.Unmarshal(msg.Payload(), &t); err != nil {
			e.logger.Warn("bad transition payload", zap.Error(err))
			return
		}
		fn(t)
	})
}

func (e *Emitter) subscribe(topic string, handler mqtt.MessageHandler) error {
	if e.client == nil {
		return ErrNotConnected
	}
	token := e.client.Subscribe(topic, e.cfg.QoS, handler)
	if !token.WaitTimeout(e.cfg.ConnectTimeout) {
		return fmt.Errorf("subscribe %s timeout", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("subscribe %s: %w", topic, err)
	}
	e.logger.Info("subscribed", zap.String("topic", topic))
	return nil
}

// Disconnect closes the MQTT connection.
func (e *Emitter) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.logger.Info("mqtt disconnected")
	}
	e.setConnected(false)
}

// Stats returns emitter statistics.
func (e *Emitter) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{
		Connected: e.connected,
		Published: published,
		Received:  e.received,
		Errors:    e.errors,
	}
}

func (e *Emitter) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *Emitter) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *Emitter) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}

func (e *Emitter) countReceived() {
	e.mu.Lock()
	e.received++
	e.mu.Unlock()
}
