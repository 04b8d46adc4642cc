package engine

import (
	"context"
	"fmt"
	"sync"
)

// Labels of the synthetic calls issued by Mutex.
const (
	MutexLockLabel   = "retrace.Mutex.lock"
	MutexUnlockLabel = "retrace.Mutex.unlock"
)

// Mutex is a sync.Mutex whose lock and unlock events are part of the trace.
//
// Both events are recorded while the mutex is held: Lock records after
// acquiring and Unlock records before releasing. The trace therefore holds
// every critical section as an adjacent lock/unlock pair per goroutine, in
// real acquisition order. In replay, Lock waits for its turn before
// acquiring and Unlock waits for its turn before releasing, which pins the
// order in which goroutines enter and leave the critical section.
//
// Record layout is unchanged from a lock-before-acquire, unlock-after-release
// scheme: each critical section yields one void lock record then one void
// unlock record on its goroutine, with the same labels; only the interleaving
// across goroutines is tightened to the real acquisition order.
type Mutex struct {
	d  *Dispatcher
	mu sync.Mutex
}

// NewMutex creates a Mutex that reports through d.
func NewMutex(d *Dispatcher) *Mutex {
	return &Mutex{d: d}
}

// Lock acquires the mutex. In replay it first waits for this goroutine's
// recorded turn.
func (m *Mutex) Lock(ctx context.Context) error {
	acquired := false
	err := Do(ctx, m.d, MutexLockLabel, func() {
		m.mu.Lock()
		acquired = true
	})
	if err != nil {
		if acquired {
			m.mu.Unlock()
		}
		return fmt.Errorf("mutex lock: %w", err)
	}
	if !acquired {
		m.mu.Lock()
	}
	return nil
}

// Unlock releases the mutex. In replay it first waits for this goroutine's
// recorded turn. The mutex is released even when the call fails.
func (m *Mutex) Unlock(ctx context.Context) error {
	err := Do(ctx, m.d, MutexUnlockLabel, func() {})
	m.mu.Unlock()
	if err != nil {
		return fmt.Errorf("mutex unlock: %w", err)
	}
	return nil
}

// Locker binds m to ctx as a sync.Locker.
// Protocol errors are unrecoverable, so the Locker panics on them.
func (m *Mutex) Locker(ctx context.Context) sync.Locker {
	return ctxLocker{m: m, ctx: ctx}
}

type ctxLocker struct {
	m   *Mutex
	ctx context.Context
}

func (l ctxLocker) Lock() {
	if err := l.m.Lock(l.ctx); err != nil {
		panic(err)
	}
}

func (l ctxLocker) Unlock() {
	if err := l.m.Unlock(l.ctx); err != nil {
		panic(err)
	}
}
