// Package iometa collects small io.Reader/io.Writer helpers used while
// serializing and downloading binary data: counting what's been written,
// padding with zeros, and reporting download progress.
package iometa

import (
	"errors"
	"fmt"
	"io"
	"time"
)

var errInvalidWhence = errors.New("invalid whence argument")

// Closifier adapts an io.Reader with no Close method into an io.ReadCloser
// whose Close is a no-op, for APIs (e.g. elfformat's section readers) that
// require one.
type Closifier struct {
	io.Reader
}

func (*Closifier) Close() error {
	return nil
}

// CountingWriter wraps an io.Writer and tracks how many bytes have passed
// through it, so a multi-stage writer (ELF header, then sections, then
// string tables) can compute absolute offsets as it goes.
type CountingWriter struct {
	Writer       io.Writer
	bytesWritten int
}

func (c *CountingWriter) Write(p []byte) (int, error) {
	written, err := c.Writer.Write(p)
	c.bytesWritten += written
	return written, err
}

// BytesWritten returns the total byte count written through this writer so
// far.
func (c *CountingWriter) BytesWritten() int {
	return c.bytesWritten
}

// ZeroReader produces Size zero bytes and then io.EOF; it also implements
// io.Seeker so it can stand in for a real section's Open() result when a
// section is SHT_NOBITS (uninitialized) but some consumer insists on
// reading it as bytes.
type ZeroReader struct {
	Size int

	offset int
}

func (r *ZeroReader) Read(buff []byte) (int, error) {
	bytesToWrite := min(len(buff), r.Size-r.offset)

	for i := 0; i < bytesToWrite; i++ {
		buff[i] = 0
	}

	r.offset += bytesToWrite

	if r.offset == r.Size {
		return bytesToWrite, io.EOF
	}

	return bytesToWrite, nil
}

func (r *ZeroReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekCurrent:
		r.offset += int(offset)
	case io.SeekEnd:
		r.offset = r.Size
	case io.SeekStart:
		r.offset = int(offset)
	default:
		return -1, errInvalidWhence
	}

	return int64(r.offset), nil
}

// WriteZeros writes count zero bytes to w, used to pad a section or segment
// up to its required alignment.
func WriteZeros(w io.Writer, count int) error {
	r := &ZeroReader{Size: count}
	if _, err := io.Copy(w, r); err != nil {
		return fmt.Errorf("failed to write zeros: %w", err)
	}

	return nil
}

// ProgressReader wraps a download body and invokes callback no more often
// than cadence, reporting the fraction of bytesExpected read so far.
type ProgressReader struct {
	bytesRead     int64
	bytesExpected int64

	callback   func(progress float64, read int64, expected int64)
	cadence    time.Duration
	lastUpdate *time.Time
}

// NewProgressReader creates a ProgressReader that reports progress towards
// expected bytes no more often than cadence.
func NewProgressReader(expected int64, cadence time.Duration, callback func(progress float64, read int64, expected int64)) *ProgressReader {
	return &ProgressReader{bytesExpected: expected, cadence: cadence, callback: callback}
}

func (w *ProgressReader) Read(b []byte) (int, error) {
	w.bytesRead += int64(len(b))

	if w.lastUpdate == nil || time.Since(*w.lastUpdate) >= w.cadence {
		now := time.Now()
		w.lastUpdate = &now
		w.callback(float64(w.bytesRead)/float64(w.bytesExpected), w.bytesRead, w.bytesExpected)
	}

	return len(b), nil
}
