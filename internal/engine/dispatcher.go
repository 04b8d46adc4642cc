package engine

import (
	"context"
	"log/slog"
	"sync"

	"github.com/roach88/retrace/internal/callid"
)

// Mode is the behavior a Dispatcher applies to wrapped calls.
// The only modes are Passthrough(), *Recorder and *Replayer.
type Mode interface {
	modeName() string
}

type passthrough struct{}

func (passthrough) modeName() string { return "passthrough" }

// Passthrough returns the mode that simply runs wrapped functions.
func Passthrough() Mode {
	return passthrough{}
}

// ModeName returns "passthrough", "record" or "replay".
func ModeName(m Mode) string {
	if m == nil {
		return "passthrough"
	}
	return m.modeName()
}

// Dispatcher routes wrapped calls to the active Mode.
//
// Swapping modes with SetMode is safe at any time, but a call that is in
// flight across the swap finishes under the old mode. Callers must quiesce
// wrapped calls around a switch.
type Dispatcher struct {
	mu       sync.RWMutex
	mode     Mode
	registry *callid.Registry
	logger   *slog.Logger
}

// NewDispatcher creates a Dispatcher in passthrough mode.
func NewDispatcher(opts ...Option) *Dispatcher {
	o := buildOptions(opts)
	d := &Dispatcher{
		mode:   Passthrough(),
		logger: o.logger,
	}
	if o.collisionCheck {
		d.registry = callid.NewRegistry()
	}
	return d
}

// SetMode replaces the active mode. A nil mode means passthrough.
func (d *Dispatcher) SetMode(m Mode) {
	if m == nil {
		m = Passthrough()
	}
	d.mu.Lock()
	prev := d.mode
	d.mode = m
	d.mu.Unlock()

	d.logger.Info("mode switched",
		"from", ModeName(prev),
		"to", ModeName(m),
	)
}

// Mode returns the active mode.
func (d *Dispatcher) Mode() Mode {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.mode
}

// resolve snapshots the active mode and hashes label.
func (d *Dispatcher) resolve(label string) (Mode, callid.CallID, error) {
	d.mu.RLock()
	m := d.mode
	d.mu.RUnlock()

	if d.registry != nil {
		id, err := d.registry.Hash(label)
		return m, id, err
	}
	return m, callid.Hash(label), nil
}

// Wrap runs fn through d and returns its result.
//
//   - passthrough: fn runs and its result is returned
//   - record: fn runs, its result is recorded, then returned
//   - replay: fn does not run; the recorded result is returned once it is
//     this goroutine's turn
//
// Record and replay need a Thread in ctx. Only the return value is
// captured; side effects inside fn are neither recorded nor replayed.
func Wrap[T any](ctx context.Context, d *Dispatcher, label string, fn func() T) (T, error) {
	var zero T

	m, id, err := d.resolve(label)
	if err != nil {
		return zero, err
	}

	switch m := m.(type) {
	case *Recorder:
		th, ok := ThreadFrom(ctx)
		if !ok {
			return zero, ErrNoThread
		}
		v := fn()
		if err := m.record(th, id, label, v, true); err != nil {
			return zero, err
		}
		return v, nil

	case *Replayer:
		th, ok := ThreadFrom(ctx)
		if !ok {
			return zero, ErrNoThread
		}
		var v T
		if err := m.replay(ctx, th, id, label, &v); err != nil {
			return zero, err
		}
		return v, nil

	default:
		return fn(), nil
	}
}

// Do is Wrap for functions without a result. The record carries no payload.
func Do(ctx context.Context, d *Dispatcher, label string, fn func()) error {
	m, id, err := d.resolve(label)
	if err != nil {
		return err
	}

	switch m := m.(type) {
	case *Recorder:
		th, ok := ThreadFrom(ctx)
		if !ok {
			return ErrNoThread
		}
		fn()
		return m.record(th, id, label, nil, false)

	case *Replayer:
		th, ok := ThreadFrom(ctx)
		if !ok {
			return ErrNoThread
		}
		return m.replay(ctx, th, id, label, nil)

	default:
		fn()
		return nil
	}
}
