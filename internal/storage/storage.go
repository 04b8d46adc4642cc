package storage

import "errors"

// ErrClosed is returned by backends used after Close.
var ErrClosed = errors.New("storage closed")

// Writer appends typed values.
type Writer interface {
	Put(v any) error
}

// Reader reads typed values in the order they were written.
//
// Get decodes the next value into dst, which must be a non-nil pointer.
// At end of stream Get returns (false, nil).
type Reader interface {
	Get(dst any) (ok bool, err error)
}

// Flusher is implemented by buffered writers.
// The record engine flushes once per completed record.
type Flusher interface {
	Flush() error
}

// Discarder is implemented by writers that can drop values written since
// the last successful Flush. The record engine discards when a record fails
// part way, so a trace never holds half a record.
type Discarder interface {
	Discard()
}

// Get reads the next value of type T from r.
func Get[T any](r Reader) (T, bool, error) {
	var v T
	ok, err := r.Get(&v)
	if err != nil || !ok {
		var zero T
		return zero, ok, err
	}
	return v, true, nil
}
