package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ErrTraceNotFound is returned when a trace id or name does not exist.
var ErrTraceNotFound = errors.New("trace not found")

// TraceInfo describes one stored trace.
type TraceInfo struct {
	ID     string `json:"id"`
	Name   string `json:"name,omitempty"`
	Closed bool   `json:"closed"`
	Values int64  `json:"values"`
}

// CreatedAt returns the creation time embedded in a UUIDv7 id.
// Returns the zero time for ids that are not UUIDv7.
func (t TraceInfo) CreatedAt() time.Time {
	u, err := uuid.Parse(t.ID)
	if err != nil || u.Version() != 7 {
		return time.Time{}
	}
	sec, nsec := u.Time().UnixTime()
	return time.Unix(sec, nsec).UTC()
}

// CreateTrace inserts a new, empty trace and returns its info.
func (s *Store) CreateTrace(ctx context.Context, name string) (TraceInfo, error) {
	id := s.idGen.Generate()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO traces (id, name) VALUES (?, ?)
	`, id, name)
	if err != nil {
		return TraceInfo{}, fmt.Errorf("create trace: %w", err)
	}
	return TraceInfo{ID: id, Name: name}, nil
}

// GetTrace returns info for the trace with the given id.
// Returns ErrTraceNotFound if it does not exist.
func (s *Store) GetTrace(ctx context.Context, id string) (TraceInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.name, t.closed,
		       (SELECT COUNT(*) FROM trace_values v WHERE v.trace_id = t.id)
		FROM traces t
		WHERE t.id = ?
	`, id)

	info, err := scanTraceInfo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TraceInfo{}, fmt.Errorf("get trace %s: %w", id, ErrTraceNotFound)
	}
	if err != nil {
		return TraceInfo{}, fmt.Errorf("get trace %s: %w", id, err)
	}
	return info, nil
}

// FindTraceByName returns the most recently created trace with name.
// Recency follows id order, which is creation order for UUIDv7 ids.
func (s *Store) FindTraceByName(ctx context.Context, name string) (TraceInfo, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT t.id, t.name, t.closed,
		       (SELECT COUNT(*) FROM trace_values v WHERE v.trace_id = t.id)
		FROM traces t
		WHERE t.name = ?
		ORDER BY t.id COLLATE BINARY DESC
		LIMIT 1
	`, name)

	info, err := scanTraceInfo(row)
	if errors.Is(err, sql.ErrNoRows) {
		return TraceInfo{}, fmt.Errorf("find trace %q: %w", name, ErrTraceNotFound)
	}
	if err != nil {
		return TraceInfo{}, fmt.Errorf("find trace %q: %w", name, err)
	}
	return info, nil
}

// ListTraces returns all traces ordered by id.
// Returns an empty slice (not nil) if the store holds no traces.
func (s *Store) ListTraces(ctx context.Context) ([]TraceInfo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT t.id, t.name, t.closed,
		       (SELECT COUNT(*) FROM trace_values v WHERE v.trace_id = t.id)
		FROM traces t
		ORDER BY t.id COLLATE BINARY ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list traces: %w", err)
	}
	defer rows.Close()

	traces := []TraceInfo{}
	for rows.Next() {
		info, err := scanTraceInfo(rows)
		if err != nil {
			return nil, fmt.Errorf("list traces: %w", err)
		}
		traces = append(traces, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate traces: %w", err)
	}
	return traces, nil
}

// CloseTrace marks a trace as complete. Writers refuse to append to a
// closed trace.
func (s *Store) CloseTrace(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE traces SET closed = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("close trace %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("close trace %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("close trace %s: %w", id, ErrTraceNotFound)
	}
	return nil
}

// DeleteTrace removes a trace and all of its values.
func (s *Store) DeleteTrace(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM traces WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete trace %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete trace %s: rows affected: %w", id, err)
	}
	if n == 0 {
		return fmt.Errorf("delete trace %s: %w", id, ErrTraceNotFound)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTraceInfo(row rowScanner) (TraceInfo, error) {
	var info TraceInfo
	var closed int
	if err := row.Scan(&info.ID, &info.Name, &closed, &info.Values); err != nil {
		return TraceInfo{}, err
	}
	info.Closed = closed != 0
	return info, nil
}
