package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrTraceClosed is returned when appending to a closed trace.
var ErrTraceClosed = errors.New("trace closed")

// TraceWriter appends values to one trace. It implements storage.Writer,
// storage.Flusher and storage.Discarder.
//
// Put only buffers; Flush writes the buffered values in one transaction.
// Thread-safety: safe for concurrent use, although the record engine already
// serializes all calls.
type TraceWriter struct {
	mu      sync.Mutex
	ctx     context.Context
	store   *Store
	traceID string
	nextSeq int64
	pending []string
}

// NewWriter returns a writer that appends to traceID, continuing after any
// values already stored. The context is used for every database call the
// writer makes.
func (s *Store) NewWriter(ctx context.Context, traceID string) (*TraceWriter, error) {
	info, err := s.GetTrace(ctx, traceID)
	if err != nil {
		return nil, fmt.Errorf("new writer: %w", err)
	}
	if info.Closed {
		return nil, fmt.Errorf("new writer %s: %w", traceID, ErrTraceClosed)
	}

	var last int64
	err = s.db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) FROM trace_values WHERE trace_id = ?
	`, traceID).Scan(&last)
	if err != nil {
		return nil, fmt.Errorf("new writer %s: last seq: %w", traceID, err)
	}

	return &TraceWriter{
		ctx:     ctx,
		store:   s,
		traceID: traceID,
		nextSeq: last + 1,
	}, nil
}

// TraceID returns the id of the trace being written.
func (w *TraceWriter) TraceID() string {
	return w.traceID
}

// Put buffers v. Encoding errors are reported immediately.
func (w *TraceWriter) Put(v any) error {
	data, err := marshalValue(v)
	if err != nil {
		return fmt.Errorf("put: %w", err)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = append(w.pending, data)
	return nil
}

// Flush writes buffered values in a single transaction.
func (w *TraceWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.flushLocked()
}

func (w *TraceWriter) flushLocked() error {
	if len(w.pending) == 0 {
		return nil
	}

	tx, err := w.store.db.BeginTx(w.ctx, nil)
	if err != nil {
		return fmt.Errorf("flush: begin tx: %w", err)
	}
	defer tx.Rollback() // No-op if committed

	var closed int
	if err := tx.QueryRowContext(w.ctx, `SELECT closed FROM traces WHERE id = ?`, w.traceID).Scan(&closed); err != nil {
		return fmt.Errorf("flush: check trace: %w", err)
	}
	if closed != 0 {
		return fmt.Errorf("flush %s: %w", w.traceID, ErrTraceClosed)
	}

	stmt, err := tx.PrepareContext(w.ctx, `
		INSERT INTO trace_values (trace_id, seq, data) VALUES (?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("flush: prepare: %w", err)
	}
	defer stmt.Close()

	seq := w.nextSeq
	for _, data := range w.pending {
		if _, err := stmt.ExecContext(w.ctx, w.traceID, seq, data); err != nil {
			return fmt.Errorf("flush: insert seq %d: %w", seq, err)
		}
		seq++
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("flush: commit: %w", err)
	}

	w.nextSeq = seq
	w.pending = w.pending[:0]
	return nil
}

// Discard drops buffered values that have not been flushed.
func (w *TraceWriter) Discard() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.pending = w.pending[:0]
}

// Close flushes any buffered values and marks the trace closed.
func (w *TraceWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flushLocked(); err != nil {
		return err
	}
	return w.store.CloseTrace(w.ctx, w.traceID)
}
