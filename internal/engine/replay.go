package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/roach88/retrace/internal/callid"
	"github.com/roach88/retrace/internal/storage"
)

// cursor is the next trace entry not yet delivered.
type cursor struct {
	thread ThreadID
	call   callid.CallID
	set    bool
}

// Replayer returns recorded results in recorded order instead of running
// wrapped functions.
//
// Exactly one goroutine is admitted per trace entry: the one whose bound
// thread id matches the entry and which asks for the entry's call id. Every
// other goroutine waits until the cursor moves. Waiting uses a broadcast
// channel that is closed and replaced whenever the cursor changes, so a
// waiter can also watch its context and the stall timer.
//
// Thread-safety: safe for concurrent use.
type Replayer struct {
	mu      sync.Mutex
	r       storage.Reader
	cur     cursor
	changed chan struct{}

	ids    map[*Thread]ThreadID
	owners map[ThreadID]*Thread

	delivered int64
	waiting   int
	waits     int64
	finished  bool
	done      chan struct{}

	onEnd      func()
	exit       func(code int)
	stallAfter time.Duration
	logger     *slog.Logger
}

// NewReplayer creates a Replayer reading the trace from r.
func NewReplayer(r storage.Reader, opts ...Option) *Replayer {
	o := buildOptions(opts)
	return &Replayer{
		r:          r,
		changed:    make(chan struct{}),
		ids:        make(map[*Thread]ThreadID),
		owners:     make(map[ThreadID]*Thread),
		done:       make(chan struct{}),
		onEnd:      o.onEnd,
		exit:       o.exit,
		stallAfter: o.stallAfter,
		logger:     o.logger,
	}
}

func (p *Replayer) modeName() string { return "replay" }

// replay blocks until the trace delivers call id to th, then decodes the
// recorded result into dst (nil for void calls).
func (p *Replayer) replay(ctx context.Context, th *Thread, id callid.CallID, label string, dst any) error {
	p.mu.Lock()
	for {
		if p.finished {
			p.mu.Unlock()
			return ErrReplayFinished
		}

		if !p.cur.set {
			if err := p.advance(); err != nil {
				p.mu.Unlock()
				return err
			}
			if p.finished {
				continue
			}
		}

		tid, bound := p.ids[th]
		if p.cur.call == id && !bound {
			if _, owned := p.owners[p.cur.thread]; !owned {
				tid, bound = p.cur.thread, true
				p.ids[th] = tid
				p.owners[tid] = th
				p.logger.Debug("thread bound",
					"thread", tid,
					"name", th.Name(),
				)
			}
		}

		if bound && tid == p.cur.thread {
			if p.cur.call != id {
				expected := p.cur.call
				p.mu.Unlock()
				p.logger.Error("call sequence mismatch",
					"thread", tid,
					"name", th.Name(),
					"expected", expected,
					"got", id,
					"label", label,
				)
				return NewMismatchError(tid, expected, id, label)
			}
			err := p.deliver(dst)
			if err == nil {
				p.logger.Debug("call replayed",
					"seq", p.delivered,
					"thread", tid,
					"call", id,
					"label", label,
				)
			}
			p.mu.Unlock()
			if err != nil {
				return fmt.Errorf("replay %s: %w", label, err)
			}
			return nil
		}

		// Not our turn. Wait for the cursor to move.
		ch := p.changed
		p.waiting++
		p.waits++
		p.mu.Unlock()
		err := p.wait(ctx, ch, th, label)
		p.mu.Lock()
		p.waiting--
		if err != nil {
			p.mu.Unlock()
			return err
		}
	}
}

// advance loads the next (thread, call) header into the cursor.
// Called with p.mu held.
func (p *Replayer) advance() error {
	var tid int32
	ok, err := p.r.Get(&tid)
	if err != nil {
		return fmt.Errorf("replay: read thread id: %w", err)
	}
	if !ok {
		p.end()
		return nil
	}

	var id uint32
	ok, err = p.r.Get(&id)
	if err != nil {
		return fmt.Errorf("replay: read call id: %w", err)
	}
	if !ok {
		return NewTruncatedError("call id")
	}

	p.cur = cursor{thread: ThreadID(tid), call: callid.CallID(id), set: true}
	p.broadcast()
	return nil
}

// deliver consumes the payload for the current entry and clears the cursor.
// Called with p.mu held.
func (p *Replayer) deliver(dst any) error {
	if dst != nil {
		ok, err := p.r.Get(dst)
		if err != nil {
			return fmt.Errorf("read result: %w", err)
		}
		if !ok {
			return NewTruncatedError("result")
		}
	}
	p.cur = cursor{}
	p.delivered++
	p.broadcast()
	return nil
}

// end runs the end-of-trace sequence. Called with p.mu held, so no other
// goroutine proceeds while the callback and exit function run, and the
// callback runs exactly once.
func (p *Replayer) end() {
	p.logger.Info("replay trace exhausted",
		"delivered", p.delivered,
		"threads", len(p.owners),
	)
	p.onEnd()
	p.exit(0)

	// Only reached when the exit function returns.
	p.finished = true
	close(p.done)
	p.broadcast()
}

// broadcast wakes every waiter. Called with p.mu held.
func (p *Replayer) broadcast() {
	close(p.changed)
	p.changed = make(chan struct{})
}

// wait blocks until ch is closed or ctx is done. With a stall warning set,
// it logs each time stallAfter passes without ch closing.
func (p *Replayer) wait(ctx context.Context, ch <-chan struct{}, th *Thread, label string) error {
	var stall <-chan time.Time
	if p.stallAfter > 0 {
		t := time.NewTicker(p.stallAfter)
		defer t.Stop()
		stall = t.C
	}

	start := time.Now()
	for {
		select {
		case <-ch:
			return nil
		case <-ctx.Done():
			return fmt.Errorf("replay %s: %w", label, ctx.Err())
		case <-stall:
			p.mu.Lock()
			next := p.cur
			p.mu.Unlock()
			p.logger.Warn("replay wait stalled",
				"name", th.Name(),
				"label", label,
				"waited", time.Since(start).Round(time.Millisecond),
				"next_thread", next.thread,
				"next_call", next.call,
			)
		}
	}
}

// Done is closed when the trace is exhausted and the exit function returned.
func (p *Replayer) Done() <-chan struct{} {
	return p.done
}

// Finished reports whether the trace has been exhausted.
func (p *Replayer) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// Delivered returns how many records have been replayed.
func (p *Replayer) Delivered() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.delivered
}

// Waiting returns how many goroutines are currently blocked waiting for
// their turn.
func (p *Replayer) Waiting() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waiting
}

// Waits returns how many times any goroutine has had to wait.
func (p *Replayer) Waits() int64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.waits
}

// ThreadOf returns the recorded id th has been bound to, if any.
func (p *Replayer) ThreadOf(th *Thread) (ThreadID, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	tid, ok := p.ids[th]
	return tid, ok
}
