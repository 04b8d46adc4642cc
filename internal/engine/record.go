package engine

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/retrace/internal/callid"
	"github.com/roach88/retrace/internal/storage"
)

// Recorder appends one record per completed wrapped call.
//
// Record layout: int32 thread id, uint32 call id, then the result for
// non-void calls. All three are written under one lock, so records from
// different goroutines never interleave, and the order of records is the
// order in which wrapped functions returned.
//
// Thread-safety: safe for concurrent use.
type Recorder struct {
	mu      sync.Mutex
	w       storage.Writer
	next    ThreadID
	ids     map[*Thread]ThreadID
	records int64
	logger  *slog.Logger
}

// NewRecorder creates a Recorder writing to w.
// If w implements storage.Flusher it is flushed after every record. If w
// implements storage.Discarder, a record that fails part way is discarded
// so the next record does not land behind its orphaned header.
func NewRecorder(w storage.Writer, opts ...Option) *Recorder {
	o := buildOptions(opts)
	return &Recorder{
		w:      w,
		ids:    make(map[*Thread]ThreadID),
		logger: o.logger,
	}
}

func (r *Recorder) modeName() string { return "record" }

// record appends (thread, call, payload). fn has already run; only the
// append happens under the lock. Storage errors are returned unchanged in
// meaning, wrapped with the call label.
func (r *Recorder) record(th *Thread, id callid.CallID, label string, payload any, hasPayload bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	tid, known := r.ids[th]
	if !known {
		tid = r.next
	}

	if err := r.append(tid, id, payload, hasPayload); err != nil {
		if d, ok := r.w.(storage.Discarder); ok {
			d.Discard()
		}
		return fmt.Errorf("record %s: %w", label, err)
	}

	if !known {
		r.next++
		r.ids[th] = tid
		r.logger.Debug("thread assigned",
			"thread", tid,
			"name", th.Name(),
		)
	}
	r.records++
	r.logger.Debug("call recorded",
		"seq", r.records,
		"thread", tid,
		"call", id,
		"label", label,
	)
	return nil
}

func (r *Recorder) append(tid ThreadID, id callid.CallID, payload any, hasPayload bool) error {
	if err := r.w.Put(int32(tid)); err != nil {
		return fmt.Errorf("put thread id: %w", err)
	}
	if err := r.w.Put(uint32(id)); err != nil {
		return fmt.Errorf("put call id: %w", err)
	}
	if hasPayload {
		if err := r.w.Put(payload); err != nil {
			return fmt.Errorf("put result: %w", err)
		}
	}
	if f, ok := r.w.(storage.Flusher); ok {
		if err := f.Flush(); err != nil {
			return fmt.Errorf("flush: %w", err)
		}
	}
	return nil
}

// Records returns how many records have been appended.
func (r *Recorder) Records() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.records
}

// Threads returns how many logical threads have been assigned.
func (r *Recorder) Threads() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// ThreadOf returns the id assigned to th, if any.
func (r *Recorder) ThreadOf(th *Thread) (ThreadID, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	tid, ok := r.ids[th]
	return tid, ok
}
