package liveupload

import (
	"fmt"
	"io"
	"os"

	"github.com/meancat/panicstream/api"
)

// DefaultReadStep is the ceiling for a single ReadNewBytes call.
const DefaultReadStep = 256 * 1024

// GrowingFileReader reads the bytes a concurrent writer appends to a file.
// The writer must only append; the reader never reads past the length sampled at call time
// and never moves its cursor backwards.
type GrowingFileReader struct {
	file     *os.File
	cursor   int64
	readStep int
}

// OpenGrowingFile opens path for tailing. readStep <= 0 means DefaultReadStep.
func OpenGrowingFile(path string, readStep int) (*GrowingFileReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, api.NewError("open source file", api.KindIO, err)
	}

	if readStep <= 0 {
		readStep = DefaultReadStep
	}

	return &GrowingFileReader{
		file:     file,
		readStep: readStep,
	}, nil
}

// ReadNewBytes returns up to readStep bytes appended since the previous call.
// An empty result means the writer has not appended anything new yet.
func (r *GrowingFileReader) ReadNewBytes() ([]byte, error) {
	return r.ReadNewBytesUpTo(-1)
}

// ReadNewBytesUpTo is ReadNewBytes that additionally never reads past offset limit.
// A negative limit means no limit.
func (r *GrowingFileReader) ReadNewBytesUpTo(limit int64) ([]byte, error) {
	size, err := r.Size()
	if err != nil {
		return nil, err
	}
	if limit >= 0 && size > limit {
		size = limit
	}

	available := size - r.cursor
	if available <= 0 {
		return nil, nil
	}
	if available > int64(r.readStep) {
		available = int64(r.readStep)
	}

	buf := make([]byte, available)
	n, err := r.file.ReadAt(buf, r.cursor)
	if err != nil && err != io.EOF {
		return nil, api.NewError("read source file", api.KindIO, fmt.Errorf("read %d bytes at offset %d: %w", available, r.cursor, err))
	}

	r.cursor += int64(n)

	return buf[:n], nil
}

// Size samples the current length of the file.
func (r *GrowingFileReader) Size() (int64, error) {
	info, err := r.file.Stat()
	if err != nil {
		return 0, api.NewError("stat source file", api.KindIO, err)
	}
	return info.Size(), nil
}

// Cursor returns the number of bytes read so far.
func (r *GrowingFileReader) Cursor() int64 {
	return r.cursor
}

// Close closes the underlying file.
func (r *GrowingFileReader) Close() error {
	if r.file != nil {
		return r.file.Close()
	}
	return nil
}
