package detector

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

const (
	scriptName = "gesture_service.py"

	// maxReplySize bounds a single reply from the service.
	maxReplySize = 16 << 20
)

// MediaPipeClassifier implements Classifier using a Python MediaPipe
// gesture recognizer subprocess.
//
// Each request is a 4-byte big-endian length followed by a JPEG frame. Each
// reply is a 4-byte big-endian length followed by a msgpack-encoded
// wireReply.
type MediaPipeClassifier struct {
	config    Config
	script    string
	logger    *zap.Logger
	cmd       *exec.Cmd
	stdin     io.WriteCloser
	stdout    *bufio.Reader
	mu        sync.Mutex
	started   bool
	idleTimer *time.Timer
}

// NewMediaPipeClassifier creates a new MediaPipe classifier.
// The Python process is started lazily on first classification.
func NewMediaPipeClassifier(config Config, logger *zap.Logger) (*MediaPipeClassifier, error) {
	script := config.ScriptPath
	if script == "" {
		script = findServiceScript()
	}
	if script == "" {
		return nil, fmt.Errorf("%s not found", scriptName)
	}
	if _, err := os.Stat(script); err != nil {
		return nil, fmt.Errorf("classifier script: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &MediaPipeClassifier{
		config: config,
		script: script,
		logger: logger.Named("classifier"),
	}, nil
}

// Classify sends one frame to the service and returns its top gesture.
func (d *MediaPipeClassifier) Classify(frame *gocv.Mat) (*Result, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureStarted(); err != nil {
		return nil, err
	}

	buf, err := gocv.IMEncode(".jpg", *frame)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}
	defer buf.Close()

	if err := writeRequest(d.stdin, buf.GetBytes()); err != nil {
		d.shutdown()
		return nil, err
	}

	reply, err := readReply(d.stdout)
	if err != nil {
		d.shutdown()
		return nil, err
	}

	d.resetIdleTimer()

	if reply.Error != "" {
		return nil, fmt.Errorf("classifier service: %s", reply.Error)
	}
	return reply.result(), nil
}

// Close shuts down the Python process.
func (d *MediaPipeClassifier) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.shutdown()
}

func (d *MediaPipeClassifier) ensureStarted() error {
	if d.started {
		return nil
	}

	// Use virtual environment Python if available
	pythonPath := d.config.PythonPath
	if pythonPath == "" {
		pythonPath = findVenvPython()
	}
	if pythonPath == "" {
		pythonPath = "python3"
	}

	args := []string{
		d.script,
		"--max-hands", strconv.Itoa(d.config.MaxHands),
		"--min-confidence", strconv.FormatFloat(d.config.MinConfidence, 'f', -1, 64),
	}
	if d.config.ModelPath != "" {
		args = append(args, "--model", d.config.ModelPath)
	}
	d.cmd = exec.Command(pythonPath, args...)

	stdin, err := d.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("create stdin pipe: %w", err)
	}

	stdout, err := d.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("create stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	d.cmd.Stderr = os.Stderr

	if err := d.cmd.Start(); err != nil {
		return fmt.Errorf("start classifier service: %w", err)
	}

	d.stdin = stdin
	d.stdout = bufio.NewReader(stdout)
	d.started = true

	d.logger.Info("classifier service started",
		zap.String("python", pythonPath),
		zap.String("script", d.script),
		zap.Int("pid", d.cmd.Process.Pid),
	)
	return nil
}

func (d *MediaPipeClassifier) shutdown() error {
	if !d.started {
		return nil
	}

	if d.idleTimer != nil {
		d.idleTimer.Stop()
		d.idleTimer = nil
	}

	if d.stdin != nil {
		d.stdin.Close()
	}

	err := d.cmd.Wait()
	d.started = false
	d.cmd = nil
	d.stdin = nil
	d.stdout = nil

	d.logger.Info("classifier service stopped")
	return err
}

func (d *MediaPipeClassifier) resetIdleTimer() {
	if d.config.IdleTimeout <= 0 {
		return
	}
	if d.idleTimer != nil {
		d.idleTimer.Stop()
	}
	d.idleTimer = time.AfterFunc(d.config.IdleTimeout, func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		d.shutdown()
	})
}

// writeRequest frames one JPEG for the service.
func writeRequest(w io.Writer, jpeg []byte) error {
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(jpeg)))

	if _, err := w.Write(length[:]); err != nil {
		return fmt.Errorf("write length: %w", err)
	}
	if _, err := w.Write(jpeg); err != nil {
		return fmt.Errorf("write data: %w", err)
	}
	return nil
}

// readReply reads one length-prefixed msgpack reply.
func readReply(r io.Reader) (*wireReply, error) {
	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, fmt.Errorf("read reply length: %w", err)
	}

	n := binary.BigEndian.Uint32(length[:])
	if n == 0 {
		return nil, errors.New("empty reply")
	}
	if n > maxReplySize {
		return nil, fmt.Errorf("reply too large: %d bytes", n)
	}

	data := make([]byte, n)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, fmt.Errorf("read reply: %w", err)
	}

	var reply wireReply
	if err := msgpack.Unmarshal(data, &reply); err != nil {
		return nil, fmt.Errorf("parse reply: %w", err)
	}
	return &reply, nil
}

// wireReply is the msgpack structure sent by the Python service.
type wireReply struct {
	Gestures []wireGesture `msgpack:"gestures"`
	Hands    []wireHand    `msgpack:"hands"`
	Error    string        `msgpack:"error,omitempty"`
}

type wireGesture struct {
	Category string  `msgpack:"category"`
	Score    float64 `msgpack:"score"`
}

type wireHand struct {
	Points     []Point3D `msgpack:"points"`
	Handedness string    `msgpack:"handedness"`
	Score      float64   `msgpack:"score"`
}

// result picks the top gesture. A reply without gestures means no hand was
// recognized and yields nil.
func (r *wireReply) result() *Result {
	if len(r.Gestures) == 0 {
		return nil
	}

	top := r.Gestures[0]
	res := &Result{
		Category: top.Category,
		Score:    top.Score,
		Hands:    make([]HandLandmarks, len(r.Hands)),
	}
	for i, h := range r.Hands {
		res.Hands[i] = h.toHandLandmarks()
	}
	return res
}

func (h wireHand) toHandLandmarks() HandLandmarks {
	lm := HandLandmarks{
		Handedness: h.Handedness,
		Score:      h.Score,
	}
	for i := 0; i < NumLandmarks && i < len(h.Points); i++ {
		lm.Points[i] = h.Points[i]
	}
	return lm
}

func findServiceScript() string {
	// Get executable directory
	execPath, err := os.Executable()
	var execDir string
	if err == nil {
		execDir = filepath.Dir(execPath)
	}

	candidates := []string{
		filepath.Join("scripts", scriptName),
		filepath.Join("..", "scripts", scriptName),
		filepath.Join(execDir, "scripts", scriptName),
		filepath.Join(os.Getenv("HOME"), ".gesturedog", "scripts", scriptName),
	}
	return firstExisting(candidates)
}

// findVenvPython looks for a Python interpreter in a virtual environment.
func findVenvPython() string {
	execPath, err := os.Executable()
	if err != nil {
		return ""
	}
	execDir := filepath.Dir(execPath)

	candidates := []string{
		"venv/bin/python",
		"../venv/bin/python",
		filepath.Join(execDir, "venv/bin/python"),
		filepath.Join(os.Getenv("HOME"), ".gesturedog/venv/bin/python"),
	}
	return firstExisting(candidates)
}

func firstExisting(paths []string) string {
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if abs, err := filepath.Abs(path); err == nil {
				return abs
			}
			return path
		}
	}
	return ""
}
