// Package frameslot shares the latest annotated frame between a producer and
// any number of reader processes through a memory-mapped file.
//
// The slot is three files in one directory:
//
//	framesize.txt  "<width> <height>" in ASCII
//	frame.raw      exactly width*height*3 bytes, one interleaved BGR frame
//	frame.seq      8-byte sequence counter, odd while a write is in progress
//
// There is no lock. The raw file alone gives the tolerant contract: a read
// racing a write may return a torn frame and the next read recovers. Readers
// that also map the seq file can detect a torn read and skip it.
package frameslot

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// Channels is the number of bytes per pixel in the slot.
const Channels = 3

var (
	// ErrBadMetadata is returned when the metadata file is not "<w> <h>".
	ErrBadMetadata = errors.New("malformed frame metadata")
	// ErrSizeMismatch is returned when the frame file does not match the
	// metadata, usually because the producer has not finished initializing.
	ErrSizeMismatch = errors.New("frame file size does not match metadata")
	// ErrFrameSize is returned when a frame of the wrong length is written.
	ErrFrameSize = errors.New("frame has wrong size for slot")
	// ErrTornRead is returned when a read overlapped a write.
	ErrTornRead = errors.New("torn frame read")
	// ErrClosed is returned after Close.
	ErrClosed = errors.New("frame slot closed")
)

// Paths locates the slot files.
type Paths struct {
	Meta  string
	Frame string
	Seq   string
}

// DefaultPaths returns the standard file names inside dir.
func DefaultPaths(dir string) Paths {
	return Paths{
		Meta:  filepath.Join(dir, "framesize.txt"),
		Frame: filepath.Join(dir, "frame.raw"),
		Seq:   filepath.Join(dir, "frame.seq"),
	}
}

// FrameSize returns the byte length of a width x height frame.
func FrameSize(width, height int) int {
	return width * height * Channels
}

// WriteMetadata writes "<width> <height>" to path. The file is replaced
// atomically so a reader never sees a partial line.
func WriteMetadata(path string, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: %dx%d", ErrBadMetadata, width, height)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".framesize-*")
	if err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := fmt.Fprintf(tmp, "%d %d", width, height); err != nil {
		tmp.Close()
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("install metadata: %w", err)
	}
	return nil
}

// ReadMetadata parses the metadata file at path.
func ReadMetadata(path string) (width, height int, err error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, 0, fmt.Errorf("read metadata: %w", err)
	}
	return ParseMetadata(string(data))
}

// ParseMetadata parses "<width> <height>". Surrounding whitespace is ignored.
func ParseMetadata(s string) (width, height int, err error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, 0, fmt.Errorf("%w: %q", ErrBadMetadata, s)
	}
	width, err = strconv.Atoi(fields[0])
	if err != nil || width <= 0 {
		return 0, 0, fmt.Errorf("%w: width %q", ErrBadMetadata, fields[0])
	}
	height, err = strconv.Atoi(fields[1])
	if err != nil || height <= 0 {
		return 0, 0, fmt.Errorf("%w: height %q", ErrBadMetadata, fields[1])
	}
	return width, height, nil
}
