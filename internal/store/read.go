package store

import (
	"context"
	"fmt"
	"sync"
)

// defaultBatchSize is how many rows a TraceReader fetches per query.
const defaultBatchSize = 256

// TraceReader reads the values of one trace in seq order. It implements
// storage.Reader.
type TraceReader struct {
	mu        sync.Mutex
	ctx       context.Context
	store     *Store
	traceID   string
	lastSeq   int64
	batch     []string
	batchSize int
	done      bool
}

// NewReader returns a reader positioned at the first value of traceID.
func (s *Store) NewReader(ctx context.Context, traceID string) (*TraceReader, error) {
	if _, err := s.GetTrace(ctx, traceID); err != nil {
		return nil, fmt.Errorf("new reader: %w", err)
	}
	return &TraceReader{
		ctx:       ctx,
		store:     s,
		traceID:   traceID,
		batchSize: defaultBatchSize,
	}, nil
}

// Get implements storage.Reader. End of trace is (false, nil).
func (r *TraceReader) Get(dst any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.batch) == 0 && !r.done {
		if err := r.fetch(); err != nil {
			return false, err
		}
	}
	if len(r.batch) == 0 {
		return false, nil
	}

	if err := unmarshalValue(r.batch[0], dst); err != nil {
		return false, fmt.Errorf("get seq %d: %w", r.lastSeq-int64(len(r.batch))+1, err)
	}
	r.batch = r.batch[1:]
	return true, nil
}

// fetch loads the next batch of rows after lastSeq.
func (r *TraceReader) fetch() error {
	rows, err := r.store.db.QueryContext(r.ctx, `
		SELECT seq, data FROM trace_values
		WHERE trace_id = ? AND seq > ?
		ORDER BY seq ASC
		LIMIT ?
	`, r.traceID, r.lastSeq, r.batchSize)
	if err != nil {
		return fmt.Errorf("fetch values: %w", err)
	}
	defer rows.Close()

	r.batch = r.batch[:0]
	for rows.Next() {
		var seq int64
		var data string
		if err := rows.Scan(&seq, &data); err != nil {
			return fmt.Errorf("scan value: %w", err)
		}
		r.batch = append(r.batch, data)
		r.lastSeq = seq
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate values: %w", err)
	}

	if len(r.batch) < r.batchSize {
		r.done = true
	}
	return nil
}

// ReadRaw returns every value of a trace as raw JSON text, in seq order.
// Used by inspection tooling that decodes values without knowing Go types.
func (s *Store) ReadRaw(ctx context.Context, traceID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT data FROM trace_values
		WHERE trace_id = ?
		ORDER BY seq ASC
	`, traceID)
	if err != nil {
		return nil, fmt.Errorf("read raw %s: %w", traceID, err)
	}
	defer rows.Close()

	values := []string{}
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("scan value: %w", err)
		}
		values = append(values, data)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate values: %w", err)
	}
	return values, nil
}
