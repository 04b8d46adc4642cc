// Package storage defines the storage port shared by the record and replay
// engines, plus an in-memory backend.
//
// The port is deliberately small:
//   - Writer.Put appends one typed value
//   - Reader.Get reads the next value into a typed destination
//
// Reader.Get signals ordinary end of stream with ok=false and a nil error.
// Errors are reserved for genuinely malformed data. Backends that surface end
// of stream as an error (io.EOF and friends) must translate it.
//
// Trace layout is fixed by the engines, not by the backend: every record is
// an int32 thread id, a uint32 call id, then the payload for non-void calls.
// Framing between values is whatever the backend's own encoding provides.
package storage
