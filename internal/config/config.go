// Package config loads gesturedog settings from a YAML file, a .env file and
// the environment, in that order of increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Modes select the video source and actuator.
const (
	// ModeRobot reads the robot camera stream and drives the robot.
	ModeRobot = "robot"
	// ModeWebcam reads a local camera and only logs actions.
	ModeWebcam = "webcam"
)

// Environment overrides.
const (
	EnvDebug      = "DEBUG"
	EnvSlotDir    = "GESTUREDOG_SLOT_DIR"
	EnvMQTTBroker = "GESTUREDOG_MQTT_BROKER"
	EnvNetIface   = "GESTUREDOG_NET_IFACE"
	EnvDB         = "GESTUREDOG_DB"
)

// ErrInvalid marks a configuration the components cannot use.
var ErrInvalid = errors.New("invalid configuration")

// Config is the complete gesturedog configuration.
type Config struct {
	Mode       string           `yaml:"mode"`
	Log        LogConfig        `yaml:"log"`
	Capture    CaptureConfig    `yaml:"capture"`
	Classifier ClassifierConfig `yaml:"classifier"`
	Gesture    GestureConfig    `yaml:"gesture"`
	Slot       SlotConfig       `yaml:"slot"`
	Actuator   ActuatorConfig   `yaml:"actuator"`
	Store      StoreConfig      `yaml:"store"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Server     ServerConfig     `yaml:"server"`
}

// LogConfig contains logger settings.
type LogConfig struct {
	Level       string `yaml:"level"` // debug, info, warn, error
	Development bool   `yaml:"development"`
}

// CaptureConfig describes the video source.
type CaptureConfig struct {
	Device int    `yaml:"device"` // local camera index (webcam mode)
	URL    string `yaml:"url"`    // robot stream URL or video file (robot mode)
	Flip   bool   `yaml:"flip"`
	Width  int    `yaml:"width"`
	Height int    `yaml:"height"`
	FPS    int    `yaml:"fps"`

	FirstFrameRetries int           `yaml:"first_frame_retries"`
	FirstFrameBackoff time.Duration `yaml:"first_frame_backoff"`
}

// ClassifierConfig contains MediaPipe service settings.
type ClassifierConfig struct {
	Script        string        `yaml:"script"`
	Python        string        `yaml:"python"`
	Model         string        `yaml:"model"`
	MaxHands      int           `yaml:"max_hands"`
	MinConfidence float64       `yaml:"min_confidence"`
	IdleTimeout   time.Duration `yaml:"idle_timeout"`
}

// GestureConfig tunes the state machine.
type GestureConfig struct {
	Threshold  float64 `yaml:"threshold"`
	MissFrames int     `yaml:"miss_frames"`
}

// SlotConfig locates the shared frame slot.
type SlotConfig struct {
	Dir string `yaml:"dir"`
}

// ActuatorConfig selects and configures the action plugin.
type ActuatorConfig struct {
	PluginDir      string            `yaml:"plugin_dir"`
	Plugin         string            `yaml:"plugin"`
	Interface      string            `yaml:"interface"`
	Timeout        time.Duration     `yaml:"timeout"`
	ConnectRetries int               `yaml:"connect_retries"`
	ConnectBackoff time.Duration     `yaml:"connect_backoff"`
	LogDelay       time.Duration     `yaml:"log_delay"` // simulated action time in webcam mode
	Mapping        map[string]string `yaml:"mapping,omitempty"`
}

// StoreConfig locates the history database. An empty path disables history.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// MQTTConfig contains broker settings. An empty broker disables MQTT.
type MQTTConfig struct {
	Broker         string `yaml:"broker"`
	ClientID       string `yaml:"client_id"`
	TopicPrefix    string `yaml:"topic_prefix"`
	QoS            byte   `yaml:"qos"`
	ConnectRetries int    `yaml:"connect_retries"`
}

// ServerConfig contains stream server settings.
type ServerConfig struct {
	Addr      string        `yaml:"addr"`
	StaticDir string        `yaml:"static_dir"`
	IdleWait  time.Duration `yaml:"idle_wait"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Mode: ModeRobot,
		Log:  LogConfig{Level: "info"},
		Capture: CaptureConfig{
			URL:               "udp://0.0.0.0:1720",
			Flip:              true,
			FPS:               30,
			FirstFrameRetries: 10,
			FirstFrameBackoff: 200 * time.Millisecond,
		},
		Classifier: ClassifierConfig{
			MaxHands:      1,
			MinConfidence: 0.5,
			IdleTimeout:   30 * time.Second,
		},
		Gesture: GestureConfig{
			Threshold:  0.50,
			MissFrames: 1,
		},
		Slot: SlotConfig{Dir: "/stream"},
		Actuator: ActuatorConfig{
			PluginDir:      "plugins",
			Plugin:         "sport-echo",
			Interface:      "eth0",
			Timeout:        10 * time.Second,
			ConnectRetries: 5,
			ConnectBackoff: 500 * time.Millisecond,
		},
		Store: StoreConfig{Path: "gesturedog.db"},
		MQTT: MQTTConfig{
			ClientID:       "gesturedog",
			TopicPrefix:    "gesturedog",
			QoS:            1,
			ConnectRetries: 5,
		},
		Server: ServerConfig{
			Addr:     ":5000",
			IdleWait: 5 * time.Millisecond,
		},
	}
}

// Load reads the YAML file at path over Default, loads envFile into the
// environment, applies environment overrides and validates the result.
// Missing files are not an error.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
		case err != nil:
			return nil, fmt.Errorf("failed to read config file: %w", err)
		default:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config: %w", err)
			}
		}
	}

	if envFile != "" {
		// Existing environment variables win over the file.
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load env file: %w", err)
		}
	}
	cfg.ApplyEnv(os.Getenv)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv applies environment overrides using getenv.
func (c *Config) ApplyEnv(getenv func(string) string) {
	if debugEnabled(getenv(EnvDebug)) {
		c.Mode = ModeWebcam
	}
	if v := getenv(EnvSlotDir); v != "" {
		c.Slot.Dir = v
	}
	if v := getenv(EnvMQTTBroker); v != "" {
		c.MQTT.Broker = v
	}
	if v := getenv(EnvNetIface); v != "" {
		c.Actuator.Interface = v
	}
	if v := getenv(EnvDB); v != "" {
		c.Store.Path = v
	}
}

func debugEnabled(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "", "0", "false", "no", "off":
		return false
	}
	return true
}

// Validate checks the configuration for values the components cannot use.
func (c *Config) Validate() error {
	var errs []error

	switch c.Mode {
	case ModeRobot:
		if c.Capture.URL == "" {
			errs = append(errs, errors.New("capture.url is required in robot mode"))
		}
		if c.Actuator.Plugin == "" {
			errs = append(errs, errors.New("actuator.plugin is required in robot mode"))
		}
	case ModeWebcam:
		if c.Capture.Device < 0 {
			errs = append(errs, errors.New("capture.device must be >= 0"))
		}
	default:
		errs = append(errs, fmt.Errorf("mode must be %q or %q, got %q", ModeRobot, ModeWebcam, c.Mode))
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}

	if c.Capture.Width < 0 || c.Capture.Height < 0 {
		errs = append(errs, errors.New("capture.width and capture.height must be >= 0"))
	}
	if c.Capture.FPS <= 0 {
		errs = append(errs, errors.New("capture.fps must be > 0"))
	}
	if c.Gesture.Threshold <= 0 || c.Gesture.Threshold >= 1 {
		errs = append(errs, fmt.Errorf("gesture.threshold must be in (0, 1), got %v", c.Gesture.Threshold))
	}
	if c.Gesture.MissFrames < 1 {
		errs = append(errs, errors.New("gesture.miss_frames must be >= 1"))
	}
	if c.Classifier.MinConfidence < 0 || c.Classifier.MinConfidence > 1 {
		errs = append(errs, errors.New("classifier.min_confidence must be in [0, 1]"))
	}
	if c.Slot.Dir == "" {
		errs = append(errs, errors.New("slot.dir is required"))
	}
	if c.Actuator.Timeout < 0 {
		errs = append(errs, errors.New("actuator.timeout must be >= 0"))
	}
	if c.MQTT.QoS > 2 {
		errs = append(errs, fmt.Errorf("mqtt.qos must be 0, 1 or 2, got %d", c.MQTT.QoS))
	}
	if c.Server.Addr == "" {
		errs = append(errs, errors.New("server.addr is required"))
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// Webcam reports whether the local camera and log-only actuator are in use.
func (c *Config) Webcam() bool {
	return c.Mode == ModeWebcam
}
