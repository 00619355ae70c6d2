package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// clearEnv isolates a test from overrides set in the calling shell.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvDebug, EnvSlotDir, EnvMQTTBroker, EnvNetIface, EnvDB} {
		t.Setenv(k, "")
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestDefault_IsValid(t *testing.T) {
	cfg := Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Default().Validate() = %v", err)
	}
	if cfg.Slot.Dir != "/stream" || cfg.Server.Addr != ":5000" || cfg.Actuator.Timeout != 10*time.Second {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
	if cfg.Gesture.Threshold != 0.50 || cfg.Gesture.MissFrames != 1 {
		t.Errorf("gesture defaults = %+v", cfg.Gesture)
	}
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeFile(t, "gesturedog.yaml", `
mode: webcam
log:
  level: debug
capture:
  device: 2
  flip: false
gesture:
  threshold: 0.7
  miss_frames: 3
actuator:
  timeout: 3s
  mapping:
    ThumbDown: StandDown
server:
  addr: 127.0.0.1:8080
  idle_wait: 20ms
`)

	cfg, err := Load(path, "")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if !cfg.Webcam() || cfg.Capture.Device != 2 || cfg.Capture.Flip {
		t.Errorf("capture = %+v, mode %s", cfg.Capture, cfg.Mode)
	}
	if cfg.Gesture.Threshold != 0.7 || cfg.Gesture.MissFrames != 3 {
		t.Errorf("gesture = %+v", cfg.Gesture)
	}
	if cfg.Actuator.Timeout != 3*time.Second || cfg.Actuator.Mapping["ThumbDown"] != "StandDown" {
		t.Errorf("actuator = %+v", cfg.Actuator)
	}
	if cfg.Server.IdleWait != 20*time.Millisecond {
		t.Errorf("idle_wait = %v", cfg.Server.IdleWait)
	}
	// Unset keys keep their defaults.
	if cfg.Slot.Dir != "/stream" || cfg.Capture.FPS != 30 {
		t.Errorf("defaults lost: slot=%s fps=%d", cfg.Slot.Dir, cfg.Capture.FPS)
	}
}

func TestLoad_MissingFilesUseDefaults(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	cfg, err := Load(filepath.Join(dir, "nope.yaml"), filepath.Join(dir, ".env"))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Mode != ModeRobot {
		t.Errorf("mode = %s", cfg.Mode)
	}
}

func TestLoad_Errors(t *testing.T) {
	clearEnv(t)
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad yaml", "mode: [", "failed to parse config"},
		{"bad level", "log:\n  level: loud", "log.level"},
		{"bad mode", "mode: drone", "mode must be"},
		{"bad duration", "actuator:\n  timeout: soon", "failed to parse config"},
		{"bad threshold", "gesture:\n  threshold: 1.5", "gesture.threshold"},
		{"zero threshold", "gesture:\n  threshold: 0", "gesture.threshold"},
		{"negative threshold", "gesture:\n  threshold: -0.2", "gesture.threshold"},
		{"bad qos", "mqtt:\n  qos: 3", "mqtt.qos"},
		{"no slot dir", "slot:\n  dir: \"\"", "slot.dir"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeFile(t, "c.yaml", tt.content), "")
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want containing %q", err, tt.wantErr)
			}
			if strings.HasPrefix(tt.name, "bad yaml") || tt.name == "bad duration" {
				return
			}
			if !errors.Is(err, ErrInvalid) {
				t.Errorf("validation error %v should wrap ErrInvalid", err)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		EnvSlotDir:    "/tmp/slot",
		EnvMQTTBroker: "broker:1883",
		EnvNetIface:   "wlan0",
		EnvDB:         "/var/lib/gd.db",
	}

	tests := []struct {
		debug  string
		webcam bool
	}{
		{"", false},
		{"0", false},
		{"false", false},
		{"1", true},
		{"true", true},
		{"yes", true},
	}
	for _, tt := range tests {
		cfg := Default()
		env[EnvDebug] = tt.debug
		cfg.ApplyEnv(func(k string) string { return env[k] })

		if cfg.Webcam() != tt.webcam {
			t.Errorf("DEBUG=%q webcam = %v, want %v", tt.debug, cfg.Webcam(), tt.webcam)
		}
		if cfg.Slot.Dir != "/tmp/slot" || cfg.MQTT.Broker != "broker:1883" ||
			cfg.Actuator.Interface != "wlan0" || cfg.Store.Path != "/var/lib/gd.db" {
			t.Errorf("overrides not applied: %+v", cfg)
		}
	}
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	const key = EnvNetIface
	os.Unsetenv(key)
	t.Cleanup(func() { os.Unsetenv(key) })

	envFile := writeFile(t, ".env", key+"=enp3s0\n")
	cfg, err := Load("", envFile)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Actuator.Interface != "enp3s0" {
		t.Errorf("interface = %q, want value from .env", cfg.Actuator.Interface)
	}
}
