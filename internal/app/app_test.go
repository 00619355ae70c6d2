package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zaptest"

	"github.com/ayusman/gesturedog/internal/actuator"
	"github.com/ayusman/gesturedog/internal/capture"
	"github.com/ayusman/gesturedog/internal/config"
	"github.com/ayusman/gesturedog/internal/detector"
	"github.com/ayusman/gesturedog/internal/producer"
	"github.com/ayusman/gesturedog/testdata"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	cfg := config.Default()
	cfg.Mode = config.ModeWebcam
	cfg.Slot.Dir = filepath.Join(dir, "stream")
	cfg.Store.Path = filepath.Join(dir, "data", "history.db")
	cfg.Server.Addr = "127.0.0.1:0"
	cfg.Capture.FirstFrameBackoff = time.Millisecond
	cfg.Capture.FirstFrameRetries = 2
	cfg.Actuator.ConnectBackoff = time.Millisecond
	cfg.Actuator.ConnectRetries = 1
	return cfg
}

func testDeps(t *testing.T, n int, results ...*detector.Result) Deps {
	t.Helper()
	frames := testdata.Sequence(32, 24, n)
	t.Cleanup(func() { testdata.Close(frames) })
	return Deps{
		Camera:     capture.NewMockCamera(frames, false),
		Classifier: detector.NewMockClassifier(results...),
	}
}

func newApp(t *testing.T, cfg *config.Config, deps Deps) *App {
	t.Helper()
	a, err := New(cfg, deps, zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a
}

func TestNew_InvalidMapping(t *testing.T) {
	cfg := testConfig(t)
	cfg.Actuator.Mapping = map[string]string{"Wave": "Hello"}
	_, err := New(cfg, Deps{}, nil)
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("New() error = %v, want ErrInvalid", err)
	}
}

func TestNew_StoreUnavailable(t *testing.T) {
	cfg := testConfig(t)
	blocker := filepath.Join(t.TempDir(), "file")
	os.WriteFile(blocker, []byte("x"), 0644)
	cfg.Store.Path = filepath.Join(blocker, "history.db")

	_, err := New(cfg, Deps{}, nil)
	if !errors.Is(err, ErrStore) {
		t.Errorf("New() error = %v, want ErrStore", err)
	}
}

func TestNew_StoreDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Store.Path = ""
	a := newApp(t, cfg, Deps{})
	if a.Store() != nil {
		t.Error("empty store path should disable history")
	}
}

func TestProduce_WebcamMode(t *testing.T) {
	cfg := testConfig(t)
	a := newApp(t, cfg, testDeps(t, 3,
		detector.Gesture("Victory", 0.9),
		detector.Gesture("Victory", 0.95),
		nil,
	))

	if err := a.Produce(context.Background()); err != nil {
		t.Fatalf("Produce() error = %v", err)
	}

	transitions, err := a.Store().Transitions().List(10)
	if err != nil {
		t.Fatal(err)
	}
	if len(transitions) != 2 {
		t.Fatalf("recorded %d transitions, want 2", len(transitions))
	}
	runs, _ := a.Store().ActionRuns().List(10)
	if len(runs) != 1 || runs[0].Action != string(actuator.ActionHeart) {
		t.Errorf("runs = %+v", runs)
	}
	if _, err := os.Stat(filepath.Join(cfg.Slot.Dir, "framesize.txt")); err != nil {
		t.Errorf("slot metadata missing: %v", err)
	}
}

type unreachable struct{}

func (unreachable) Do(context.Context, actuator.Action) error { return nil }
func (unreachable) Ping(context.Context) error                { return errors.New("no route to robot") }

func TestProduce_ActuatorUnreachable(t *testing.T) {
	deps := testDeps(t, 1)
	deps.Actuator = unreachable{}
	a := newApp(t, testConfig(t), deps)

	if err := a.Produce(context.Background()); !errors.Is(err, actuator.ErrConnect) {
		t.Errorf("Produce() error = %v, want ErrConnect", err)
	}
}

func TestProduce_RobotModeMissingPlugin(t *testing.T) {
	cfg := testConfig(t)
	cfg.Mode = config.ModeRobot
	cfg.Actuator.PluginDir = t.TempDir()
	a := newApp(t, cfg, testDeps(t, 1))

	if err := a.Produce(context.Background()); !errors.Is(err, actuator.ErrConnect) {
		t.Errorf("Produce() error = %v, want ErrConnect", err)
	}
}

func TestProduce_CaptureFailure(t *testing.T) {
	deps := testDeps(t, 1)
	deps.Camera.(*capture.MockCamera).SetOpenError(errors.New("no device"))
	a := newApp(t, testConfig(t), deps)

	if err := a.Produce(context.Background()); !errors.Is(err, producer.ErrCapture) {
		t.Errorf("Produce() error = %v, want ErrCapture", err)
	}
}

func TestServe_RequiresSlot(t *testing.T) {
	cfg := testConfig(t)
	a := newApp(t, cfg, Deps{})

	if err := a.Serve(context.Background()); !errors.Is(err, producer.ErrSlot) {
		t.Errorf("Serve() error = %v, want ErrSlot", err)
	}

	os.MkdirAll(cfg.Slot.Dir, 0755)
	os.WriteFile(filepath.Join(cfg.Slot.Dir, "framesize.txt"), []byte("wide tall"), 0644)
	if err := a.Serve(context.Background()); !errors.Is(err, producer.ErrSlot) {
		t.Errorf("Serve() with bad metadata error = %v, want ErrSlot", err)
	}
}

func TestServe_StopsOnCancel(t *testing.T) {
	cfg := testConfig(t)
	a := newApp(t, cfg, testDeps(t, 2))
	if err := a.Produce(context.Background()); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Serve() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Serve() did not stop")
	}
}

func TestRun_EndsWithSource(t *testing.T) {
	a := newApp(t, testConfig(t), testDeps(t, 4, detector.Gesture("Thumb_Up", 0.8)))

	done := make(chan error, 1)
	go func() { done <- a.Run(context.Background()) }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run() error = %v", err)
		}
	case <-time.After(10 * time.Second):
		t.Fatal("Run() did not return after the source ended")
	}
}
