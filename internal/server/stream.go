package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/ayusman/gesturedog/internal/frameslot"
)

// DefaultIdleWait is how long a stream waits before re-reading a slot whose
// frame was torn or unchanged.
const DefaultIdleWait = 5 * time.Millisecond

// DefaultReopenCheck is how often an idle stream checks whether a new
// producer session has replaced the slot it is reading.
const DefaultReopenCheck = 250 * time.Millisecond

// Encoder turns a raw BGR frame into the bytes of one multipart part.
type Encoder func(frame []byte, width, height int) ([]byte, error)

// EncodeJPEG is the default Encoder.
func EncodeJPEG(frame []byte, width, height int) ([]byte, error) {
	mat, err := gocv.NewMatFromBytes(height, width, gocv.MatTypeCV8UC3, frame)
	if err != nil {
		return nil, fmt.Errorf("wrap frame: %w", err)
	}
	defer mat.Close()

	buf, err := gocv.IMEncode(gocv.JPEGFileExt, mat)
	if err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	defer buf.Close()

	return append([]byte(nil), buf.GetBytes()...), nil
}

// StreamHandler serves the frame slot as MJPEG. Each client gets its own
// reader. When a new producer session recreates the slot, an open stream
// switches to the new files and keeps going.
type StreamHandler struct {
	paths       frameslot.Paths
	encode      Encoder
	idleWait    time.Duration
	reopenCheck time.Duration
	logger      *zap.Logger
}

// NewStreamHandler creates a StreamHandler reading the slot at paths.
func NewStreamHandler(paths frameslot.Paths, encode Encoder, idleWait time.Duration, logger *zap.Logger) *StreamHandler {
	if encode == nil {
		encode = EncodeJPEG
	}
	if idleWait <= 0 {
		idleWait = DefaultIdleWait
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamHandler{
		paths:       paths,
		encode:      encode,
		idleWait:    idleWait,
		reopenCheck: DefaultReopenCheck,
		logger:      logger.Named("stream"),
	}
}

// ServeHTTP streams every distinct frame until the slot becomes unreadable
// or the client goes away.
func (h *StreamHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	reader, err := frameslot.Open(h.paths)
	if err != nil {
		h.logger.Warn("open frame slot", zap.Error(err))
		http.Error(w, "Frame slot unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary=frame")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	logger := h.logger.With(zap.String("remote", r.RemoteAddr))
	logger.Debug("stream started", zap.Int("width", reader.Width()), zap.Int("height", reader.Height()))
	n, err := h.stream(r.Context(), w, reader)
	logger.Debug("stream ended", zap.Int("frames", n), zap.Error(err))
}

// stream owns reader and closes it, or its replacement, on return.
func (h *StreamHandler) stream(ctx context.Context, w http.ResponseWriter, reader *frameslot.Reader) (int, error) {
	defer func() { reader.Close() }()

	flusher, _ := w.(http.Flusher)
	buf := make([]byte, reader.FrameSize())
	timer := time.NewTimer(0)
	defer timer.Stop()
	<-timer.C

	var (
		dedup     frameslot.Deduper
		lastSeq   uint64
		haveSeq   bool
		sent      int
		lastCheck = time.Now()
	)

	// idle waits before the next read. It returns false with a nil error
	// when the client has gone away.
	idle := func() (bool, error) {
		timer.Reset(h.idleWait)
		select {
		case <-ctx.Done():
			return false, nil
		case <-timer.C:
		}
		if time.Since(lastCheck) < h.reopenCheck {
			return true, nil
		}
		lastCheck = time.Now()

		replaced, err := reader.Replaced()
		if err != nil {
			return false, fmt.Errorf("stat frame slot: %w", err)
		}
		if !replaced {
			return true, nil
		}
		next, err := frameslot.Open(h.paths)
		if err != nil {
			return false, fmt.Errorf("reopen frame slot: %w", err)
		}
		reader.Close()
		reader = next
		if len(buf) != reader.FrameSize() {
			buf = make([]byte, reader.FrameSize())
		}
		dedup.Reset()
		haveSeq = false
		h.logger.Info("frame slot replaced, reopened",
			zap.Int("width", reader.Width()),
			zap.Int("height", reader.Height()))
		return true, nil
	}

	for {
		if ctx.Err() != nil {
			return sent, nil
		}

		if haveSeq && reader.Seq() == lastSeq {
			if ok, err := idle(); !ok {
				return sent, err
			}
			continue
		}

		seq, err := reader.ReadInto(buf)
		if errors.Is(err, frameslot.ErrTornRead) {
			if ok, err := idle(); !ok {
				return sent, err
			}
			continue
		}
		if err != nil {
			return sent, fmt.Errorf("read frame slot: %w", err)
		}
		if reader.Sequenced() {
			lastSeq, haveSeq = seq, true
		}

		if !dedup.Fresh(buf) {
			if ok, err := idle(); !ok {
				return sent, err
			}
			continue
		}

		jpeg, err := h.encode(buf, reader.Width(), reader.Height())
		if err != nil {
			h.logger.Warn("encode frame", zap.Error(err))
			continue
		}

		if err := writePart(w, jpeg); err != nil {
			return sent, err
		}
		if flusher != nil {
			flusher.Flush()
		}
		sent++
	}
}

func writePart(w http.ResponseWriter, body []byte) error {
	if _, err := fmt.Fprintf(w, "--frame\r\nContent-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(body)); err != nil {
		return err
	}
	if _, err := w.Write(body); err != nil {
		return err
	}
	_, err := w.Write([]byte("\r\n"))
	return err
}
