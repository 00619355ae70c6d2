package frameslot

import (
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"unsafe"

	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// seqSize is the length of the seq sidecar file.
const seqSize = 8

// Writer is the producer side of a slot. It is not safe for concurrent use;
// a slot has exactly one writer.
type Writer struct {
	paths  Paths
	width  int
	height int
	frame  []byte
	seq    []byte
	logger *zap.Logger
}

// Create initializes a slot for width x height frames and maps it for
// writing. The metadata file is written first, then the seq file and last the
// zero-filled frame file. Each data file is built under a temporary name and
// renamed into place, so readers that still map a previous session's files
// keep a valid mapping and can tell from the frame file's identity that they
// have been replaced (see Reader.Replaced). Once the new frame file is
// visible, the metadata and seq file it belongs to are too.
func Create(paths Paths, width, height int, logger *zap.Logger) (*Writer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(filepath.Dir(paths.Frame), 0755); err != nil {
		return nil, fmt.Errorf("create slot dir: %w", err)
	}
	if err := WriteMetadata(paths.Meta, width, height); err != nil {
		return nil, err
	}

	seq, err := mapNewFile(paths.Seq, seqSize)
	if err != nil {
		return nil, fmt.Errorf("create seq file: %w", err)
	}
	size := FrameSize(width, height)
	frame, err := mapNewFile(paths.Frame, size)
	if err != nil {
		unix.Munmap(seq)
		return nil, fmt.Errorf("create frame file: %w", err)
	}

	w := &Writer{
		paths:  paths,
		width:  width,
		height: height,
		frame:  frame,
		seq:    seq,
		logger: logger.Named("frameslot"),
	}
	w.logger.Info("slot created",
		zap.String("frame", paths.Frame),
		zap.Int("width", width),
		zap.Int("height", height),
		zap.Int("bytes", size),
	)
	return w, nil
}

// mapNewFile creates a zero-filled file of exactly size bytes at path and
// returns a shared read-write mapping of it.
func mapNewFile(path string, size int) ([]byte, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+"-*")
	if err != nil {
		return nil, err
	}
	defer tmp.Close()

	if err := tmp.Truncate(int64(size)); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}
	if err := tmp.Chmod(0644); err != nil {
		os.Remove(tmp.Name())
		return nil, err
	}

	data, err := unix.Mmap(int(tmp.Fd()), 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("mmap: %w", err)
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		unix.Munmap(data)
		os.Remove(tmp.Name())
		return nil, err
	}
	return data, nil
}

// Write copies frame into the slot at offset 0. frame must be exactly
// FrameSize bytes. There is no fsync.
func (w *Writer) Write(frame []byte) error {
	if w.frame == nil {
		return ErrClosed
	}
	if len(frame) != len(w.frame) {
		return fmt.Errorf("%w: got %d bytes, want %d", ErrFrameSize, len(frame), len(w.frame))
	}

	seq := seqPtr(w.seq)
	atomic.AddUint64(seq, 1)
	copy(w.frame, frame)
	atomic.AddUint64(seq, 1)
	return nil
}

// Seq returns the number of completed writes times two.
func (w *Writer) Seq() uint64 {
	if w.seq == nil {
		return 0
	}
	return atomic.LoadUint64(seqPtr(w.seq))
}

// Width returns the frame width the slot was created with.
func (w *Writer) Width() int { return w.width }

// Height returns the frame height the slot was created with.
func (w *Writer) Height() int { return w.height }

// FrameSize returns the slot capacity in bytes.
func (w *Writer) FrameSize() int { return FrameSize(w.width, w.height) }

// Paths returns the slot file locations.
func (w *Writer) Paths() Paths { return w.paths }

// Close unmaps the slot. The files stay on disk for readers.
func (w *Writer) Close() error {
	var firstErr error
	if w.frame != nil {
		if err := unix.Munmap(w.frame); err != nil {
			firstErr = err
		}
		w.frame = nil
	}
	if w.seq != nil {
		if err := unix.Munmap(w.seq); err != nil && firstErr == nil {
			firstErr = err
		}
		w.seq = nil
	}
	return firstErr
}

// seqPtr views the first 8 bytes of a page-aligned mapping as a counter.
func seqPtr(b []byte) *uint64 {
	return (*uint64)(unsafe.Pointer(&b[0]))
}
