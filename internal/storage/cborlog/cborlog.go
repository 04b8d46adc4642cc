// Package cborlog is a storage backend that writes a trace as a stream of
// CBOR data items (RFC 8949), one item per value.
//
// Encoding uses the core deterministic profile so the same trace always
// produces the same bytes. Integer widths are not part of the encoding: a
// value written as int32 can be read back into any integer type wide enough
// to hold it.
package cborlog

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/roach88/retrace/internal/storage"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("cborlog: build enc mode: %v", err))
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("cborlog: build dec mode: %v", err))
	}
}

// ErrTruncated reports a stream that ends in the middle of a data item.
var ErrTruncated = errors.New("cbor stream truncated")

// Writer appends CBOR items to an io.Writer through a buffer.
//
// Put encodes into a staging buffer that only Flush hands to the
// underlying writer, so Discard can drop a partly written record without
// any of its bytes reaching the file.
type Writer struct {
	mu      sync.Mutex
	buf     *bufio.Writer
	pending bytes.Buffer
	enc     *cbor.Encoder
	closer  io.Closer
	closed  bool
}

// NewWriter wraps w. Call Flush (or Close) to push buffered items out.
func NewWriter(w io.Writer) *Writer {
	cw := &Writer{buf: bufio.NewWriter(w)}
	cw.enc = encMode.NewEncoder(&cw.pending)
	return cw
}

// Create creates (or truncates) the file at path and returns a Writer that
// owns it.
func Create(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create trace file: %w", err)
	}
	w := NewWriter(f)
	w.closer = f
	return w, nil
}

// Put implements storage.Writer.
func (w *Writer) Put(v any) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return storage.ErrClosed
	}
	n := w.pending.Len()
	if err := w.enc.Encode(v); err != nil {
		w.pending.Truncate(n)
		return fmt.Errorf("cbor put %T: %w", v, err)
	}
	return nil
}

// Flush implements storage.Flusher.
func (w *Writer) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return storage.ErrClosed
	}
	if err := w.flushLocked(); err != nil {
		return fmt.Errorf("cbor flush: %w", err)
	}
	return nil
}

// Discard implements storage.Discarder.
func (w *Writer) Discard() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending.Reset()
}

func (w *Writer) flushLocked() error {
	if _, err := w.pending.WriteTo(w.buf); err != nil {
		return err
	}
	return w.buf.Flush()
}

// Close flushes and closes the underlying file, if the Writer owns one.
// Safe to call more than once.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return nil
	}
	w.closed = true

	err := w.flushLocked()
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("cbor close: %w", err)
	}
	return nil
}

// Reader decodes CBOR items from an io.Reader.
type Reader struct {
	mu     sync.Mutex
	dec    *cbor.Decoder
	closer io.Closer
	count  int
}

// NewReader wraps r.
func NewReader(r io.Reader) *Reader {
	return &Reader{dec: decMode.NewDecoder(bufio.NewReader(r))}
}

// Open opens the trace file at path.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open trace file: %w", err)
	}
	r := NewReader(f)
	r.closer = f
	return r, nil
}

// Get implements storage.Reader.
// A clean end of stream is (false, nil). A stream cut in the middle of an
// item returns ErrTruncated.
func (r *Reader) Get(dst any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	err := r.dec.Decode(dst)
	switch {
	case err == nil:
		r.count++
		return true, nil
	case errors.Is(err, io.EOF):
		return false, nil
	case errors.Is(err, io.ErrUnexpectedEOF):
		return false, fmt.Errorf("cbor get after %d items: %w", r.count, ErrTruncated)
	default:
		return false, fmt.Errorf("cbor get after %d items: %w", r.count, err)
	}
}

// Count returns the number of items read so far.
func (r *Reader) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Close closes the underlying file, if the Reader owns one.
func (r *Reader) Close() error {
	if r.closer == nil {
		return nil
	}
	c := r.closer
	r.closer = nil
	return c.Close()
}
