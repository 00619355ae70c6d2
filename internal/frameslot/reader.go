package frameslot

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Reader maps a slot read-only. A single Reader may be shared by many
// goroutines, each reading into its own buffer.
type Reader struct {
	paths  Paths
	width  int
	height int

	// ident identifies the frame file that was mapped.
	ident os.FileInfo

	mu    sync.RWMutex
	frame []byte
	seq   []byte
}

// Open maps an initialized slot. It fails with ErrBadMetadata when the
// metadata file is malformed and with ErrSizeMismatch when the frame file is
// not exactly width*height*3 bytes. A missing seq file is allowed; the reader
// then cannot detect torn reads.
func Open(paths Paths) (*Reader, error) {
	width, height, err := ReadMetadata(paths.Meta)
	if err != nil {
		return nil, err
	}
	size := FrameSize(width, height)

	frame, ident, err := mapExisting(paths.Frame, size)
	if err != nil {
		return nil, fmt.Errorf("open frame file: %w", err)
	}

	seq, _, err := mapExisting(paths.Seq, seqSize)
	if errors.Is(err, fs.ErrNotExist) {
		seq = nil
	} else if err != nil {
		unix.Munmap(frame)
		return nil, fmt.Errorf("open seq file: %w", err)
	}

	return &Reader{
		paths:  paths,
		width:  width,
		height: height,
		ident:  ident,
		frame:  frame,
		seq:    seq,
	}, nil
}

func mapExisting(path string, size int) ([]byte, os.FileInfo, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	if info.Size() != int64(size) {
		return nil, nil, fmt.Errorf("%w: %s is %d bytes, want %d", ErrSizeMismatch, path, info.Size(), size)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, size, unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, fmt.Errorf("mmap: %w", err)
	}
	return data, info, nil
}

// Replaced reports whether the frame file at the slot path is no longer the
// one this reader mapped. A new producer session renames a fresh file into
// place, after which the old mapping never changes again; a removed file also
// counts as replaced. Callers should Close the reader and Open the slot anew.
func (r *Reader) Replaced() (bool, error) {
	info, err := os.Stat(r.paths.Frame)
	if errors.Is(err, fs.ErrNotExist) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	return !os.SameFile(r.ident, info), nil
}

// ReadInto copies the current frame into dst, which must be FrameSize bytes.
// It returns the sequence number the copy belongs to. When the copy overlapped
// a write it returns ErrTornRead and dst holds a mixed frame. Readers without a
// seq file always get sequence 0 and never see ErrTornRead.
func (r *Reader) ReadInto(dst []byte) (uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.frame == nil {
		return 0, ErrClosed
	}
	if len(dst) != len(r.frame) {
		return 0, fmt.Errorf("%w: buffer is %d bytes, want %d", ErrFrameSize, len(dst), len(r.frame))
	}

	if r.seq == nil {
		copy(dst, r.frame)
		return 0, nil
	}

	p := seqPtr(r.seq)
	before := atomic.LoadUint64(p)
	copy(dst, r.frame)
	after := atomic.LoadUint64(p)

	if before&1 == 1 || before != after {
		return after, ErrTornRead
	}
	return before, nil
}

// Seq returns the current sequence number without copying the frame.
// It is 0 for readers without a seq file.
func (r *Reader) Seq() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.seq == nil {
		return 0
	}
	return atomic.LoadUint64(seqPtr(r.seq))
}

// Sequenced reports whether torn reads can be detected.
func (r *Reader) Sequenced() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.seq != nil
}

// Width returns the frame width from the metadata file.
func (r *Reader) Width() int { return r.width }

// Height returns the frame height from the metadata file.
func (r *Reader) Height() int { return r.height }

// FrameSize returns the frame length in bytes.
func (r *Reader) FrameSize() int { return FrameSize(r.width, r.height) }

// Close unmaps the slot. Reads after Close return ErrClosed.
func (r *Reader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	var firstErr error
	if r.frame != nil {
		firstErr = unix.Munmap(r.frame)
		r.frame = nil
	}
	if r.seq != nil {
		if err := unix.Munmap(r.seq); err != nil && firstErr == nil {
			firstErr = err
		}
		r.seq = nil
	}
	return firstErr
}

// Deduper remembers the last delivered frame so identical frames are not
// delivered twice.
type Deduper struct {
	last []byte
}

// Fresh reports whether frame differs from the last frame it accepted, and
// if so remembers a copy of it.
func (d *Deduper) Fresh(frame []byte) bool {
	if d.last != nil && bytes.Equal(d.last, frame) {
		return false
	}
	if cap(d.last) < len(frame) {
		d.last = make([]byte, len(frame))
	}
	d.last = d.last[:len(frame)]
	copy(d.last, frame)
	return true
}

// Reset forgets the last frame.
func (d *Deduper) Reset() {
	d.last = nil
}
