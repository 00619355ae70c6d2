package e2e

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap/zaptest"
	"gocv.io/x/gocv"

	"github.com/ayusman/gesturedog/internal/actuator"
	"github.com/ayusman/gesturedog/internal/capture"
	"github.com/ayusman/gesturedog/internal/detector"
	"github.com/ayusman/gesturedog/internal/frameslot"
	"github.com/ayusman/gesturedog/internal/gesture"
	"github.com/ayusman/gesturedog/internal/producer"
	"github.com/ayusman/gesturedog/internal/server"
	"github.com/ayusman/gesturedog/internal/store"
	"github.com/ayusman/gesturedog/testdata"
)

const (
	width  = 64
	height = 48
)

func readJPEGPart(t *testing.T, br *bufio.Reader) []byte {
	t.Helper()
	tp := textproto.NewReader(br)
	if line, err := tp.ReadLine(); err != nil || line != "--frame" {
		t.Fatalf("boundary = %q, %v", line, err)
	}
	header, err := tp.ReadMIMEHeader()
	if err != nil {
		t.Fatalf("part header: %v", err)
	}
	n, err := strconv.Atoi(header.Get("Content-Length"))
	if err != nil {
		t.Fatalf("Content-Length: %v", err)
	}
	body := make([]byte, n+2)
	if _, err := io.ReadFull(br, body); err != nil {
		t.Fatalf("part body: %v", err)
	}
	return body[:n]
}

func getJSON(t *testing.T, url string, v any) int {
	t.Helper()
	resp, err := http.Get(url)
	if err != nil {
		t.Fatalf("GET %s: %v", url, err)
	}
	defer resp.Body.Close()
	if v != nil {
		json.NewDecoder(resp.Body).Decode(v)
	}
	return resp.StatusCode
}

func TestE2E_CompleteWorkflow(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping e2e test")
	}

	logger := zaptest.NewLogger(t)
	tmpDir := t.TempDir()

	s, err := store.New(filepath.Join(tmpDir, "data.db"))
	if err != nil {
		t.Fatalf("store.New() error = %v", err)
	}
	defer s.Close()

	frames := testdata.Sequence(width, height, 3)
	defer testdata.Close(frames)

	// Victory twice, then nothing forever: one Heart action and a cool-down.
	cls := detector.NewMockClassifier(
		detector.Gesture("Victory", 0.9),
		detector.Gesture("Victory", 0.92),
	)

	hub := server.NewHub(logger)
	p := producer.New(producer.Config{
		Camera:     capture.NewMockCamera(frames, true),
		Classifier: cls,
		SlotPaths:  frameslot.DefaultPaths(filepath.Join(tmpDir, "stream")),
		Actuator:   actuator.NewLogActuator(logger, 10*time.Millisecond),
		Store:      s,
		Source:     "mock",
		FirstFrame: producer.FirstFramePolicy{Initial: time.Millisecond, MaxRetries: 3},
		Listeners: []producer.TransitionListener{
			func(_ *producer.Session, tr gesture.Transition) { hub.BroadcastTransition(tr) },
		},
		Logger: logger,
	})

	ts := httptest.NewServer(server.New(server.Config{
		SlotPaths: frameslot.DefaultPaths(filepath.Join(tmpDir, "stream")),
		Store:     s,
		Hub:       hub,
		Status:    server.ProducerStatus(p),
		IdleWait:  time.Millisecond,
		Logger:    logger,
	}))
	defer ts.Close()

	events, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events", nil)
	if err != nil {
		t.Fatalf("websocket dial: %v", err)
	}
	defer events.Close()
	for hub.Clients() == 0 {
		time.Sleep(time.Millisecond)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case <-p.Ready():
	case err := <-done:
		t.Fatalf("producer stopped early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("producer never created the frame slot")
	}

	t.Run("Events", func(t *testing.T) {
		for _, want := range []string{"Victory", "Empty"} {
			events.SetReadDeadline(time.Now().Add(5 * time.Second))
			var ev struct {
				Type string `json:"type"`
				Data struct {
					State string `json:"state"`
				} `json:"data"`
			}
			if err := events.ReadJSON(&ev); err != nil {
				t.Fatalf("read event: %v", err)
			}
			if ev.Type != "transition" || ev.Data.State != want {
				t.Errorf("event = %+v, want transition to %s", ev, want)
			}
		}
	})

	t.Run("Stream", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/video")
		if err != nil {
			t.Fatalf("GET /video: %v", err)
		}
		defer resp.Body.Close()

		br := bufio.NewReader(resp.Body)
		for i := 0; i < 2; i++ {
			mat, err := gocv.IMDecode(readJPEGPart(t, br), gocv.IMReadColor)
			if err != nil {
				t.Fatalf("decode part %d: %v", i, err)
			}
			if mat.Cols() != width || mat.Rows() != height {
				t.Errorf("part %d is %dx%d", i, mat.Cols(), mat.Rows())
			}
			mat.Close()
		}
	})

	t.Run("State", func(t *testing.T) {
		var st struct {
			State string `json:"state"`
			Stats struct {
				Frames int64 `json:"frames"`
			} `json:"stats"`
		}
		if code := getJSON(t, ts.URL+"/api/state", &st); code != http.StatusOK {
			t.Fatalf("status = %d", code)
		}
		if st.State != "Empty" || st.Stats.Frames == 0 {
			t.Errorf("state = %+v", st)
		}
	})

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("producer Run() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("producer did not stop")
	}

	t.Run("History", func(t *testing.T) {
		var actions struct {
			Actions []struct {
				Action string `json:"action"`
				Status string `json:"status"`
			} `json:"actions"`
		}
		getJSON(t, ts.URL+"/api/actions", &actions)
		if len(actions.Actions) != 1 || actions.Actions[0].Action != "Heart" || actions.Actions[0].Status != store.StatusOK {
			t.Errorf("actions = %+v", actions.Actions)
		}

		var transitions struct {
			Transitions []struct {
				State string `json:"state"`
			} `json:"transitions"`
		}
		getJSON(t, ts.URL+"/api/transitions", &transitions)
		if len(transitions.Transitions) != 2 {
			t.Errorf("transitions = %+v", transitions.Transitions)
		}
	})
}
