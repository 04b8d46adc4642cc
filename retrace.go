// Package retrace records the results of non-deterministic calls made by
// concurrent goroutines and replays them later in the same order.
//
// Wrap every non-deterministic call site through a Dispatcher:
//
//	d := retrace.NewDispatcher()
//	d.SetMode(retrace.NewRecorder(w))
//
//	ctx, _ := retrace.WithNewThread(ctx, "worker-1")
//	n, err := retrace.Wrap(ctx, d, "rand.Intn", func() int { return rand.Intn(100) })
//
// In replay mode the wrapped function never runs. Each goroutine blocks
// until the trace says it is its turn, then receives the recorded result,
// which reproduces the recorded interleaving across goroutines.
//
// Every goroutine that makes recorded or replayed calls needs its own
// Thread in its context. Group starts goroutines that each carry one.
package retrace

import (
	"context"

	"github.com/roach88/retrace/internal/callid"
	"github.com/roach88/retrace/internal/engine"
	"github.com/roach88/retrace/internal/storage"
)

type (
	// CallID identifies a call site; see HashLabel.
	CallID = callid.CallID
	// ThreadID is the logical identity of a goroutine within a trace.
	ThreadID = engine.ThreadID
	// Thread is the per-goroutine handle carried in a context.
	Thread = engine.Thread
	// Group runs goroutines that each carry their own Thread.
	Group = engine.Group

	// Dispatcher routes wrapped calls to the active mode.
	Dispatcher = engine.Dispatcher
	// Mode is passthrough, a *Recorder or a *Replayer.
	Mode = engine.Mode
	// Recorder appends one record per completed call.
	Recorder = engine.Recorder
	// Replayer returns recorded results in recorded order.
	Replayer = engine.Replayer
	// Mutex is a mutex whose critical sections are part of the trace.
	Mutex = engine.Mutex
	// Option configures a Dispatcher, Recorder or Replayer.
	Option = engine.Option

	// ReplayError is a protocol violation detected during replay.
	ReplayError = engine.ReplayError

	// Writer is the storage port the Recorder appends to.
	Writer = storage.Writer
	// Reader is the storage port the Replayer reads from.
	Reader = storage.Reader
)

var (
	ErrReplayFinished = engine.ErrReplayFinished
	ErrNoThread       = engine.ErrNoThread
)

var (
	NewDispatcher = engine.NewDispatcher
	NewRecorder   = engine.NewRecorder
	NewReplayer   = engine.NewReplayer
	NewMutex      = engine.NewMutex
	NewThread     = engine.NewThread
	NewGroup      = engine.NewGroup
	WithThread    = engine.WithThread
	WithNewThread = engine.WithNewThread
	ThreadFrom    = engine.ThreadFrom
	Passthrough   = engine.Passthrough

	WithLogger         = engine.WithLogger
	WithStallWarning   = engine.WithStallWarning
	WithOnEnd          = engine.WithOnEnd
	WithExit           = engine.WithExit
	WithCollisionCheck = engine.WithCollisionCheck

	IsMismatch  = engine.IsMismatch
	IsTruncated = engine.IsTruncated
)

// HashLabel returns the call id of label.
func HashLabel(label string) CallID {
	return callid.Hash(label)
}

// Wrap runs fn through d. See engine.Wrap.
func Wrap[T any](ctx context.Context, d *Dispatcher, label string, fn func() T) (T, error) {
	return engine.Wrap(ctx, d, label, fn)
}

// Do runs a function without a result through d.
func Do(ctx context.Context, d *Dispatcher, label string, fn func()) error {
	return engine.Do(ctx, d, label, fn)
}

// NewMemory returns an in-process trace buffer usable as both Writer and,
// through its NewReader method, Reader.
func NewMemory() *storage.Memory {
	return storage.NewMemory()
}
