package engine

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ThreadID is the logical identity of a participating goroutine in a trace.
type ThreadID int32

// Thread is the per-goroutine handle engines use in place of thread-local
// storage. A handle must only be used by one goroutine at a time.
type Thread struct {
	name string
}

// NewThread creates a handle. The name only appears in logs and errors.
func NewThread(name string) *Thread {
	return &Thread{name: name}
}

// Name returns the handle's name.
func (t *Thread) Name() string {
	if t == nil {
		return ""
	}
	return t.name
}

type threadKey struct{}

// WithThread returns a copy of ctx carrying th.
func WithThread(ctx context.Context, th *Thread) context.Context {
	return context.WithValue(ctx, threadKey{}, th)
}

// WithNewThread attaches a fresh handle named name to ctx.
func WithNewThread(ctx context.Context, name string) (context.Context, *Thread) {
	th := NewThread(name)
	return WithThread(ctx, th), th
}

// ThreadFrom returns the handle carried by ctx.
func ThreadFrom(ctx context.Context) (*Thread, bool) {
	th, ok := ctx.Value(threadKey{}).(*Thread)
	return th, ok && th != nil
}

// Group runs goroutines that each carry their own Thread handle.
// The first error cancels the group's context, which releases any of its
// goroutines blocked in a replay wait.
type Group struct {
	g   *errgroup.Group
	ctx context.Context
}

// NewGroup creates a group derived from ctx.
func NewGroup(ctx context.Context) *Group {
	g, gctx := errgroup.WithContext(ctx)
	return &Group{g: g, ctx: gctx}
}

// Go starts fn in a new goroutine with a fresh Thread named name.
func (g *Group) Go(name string, fn func(ctx context.Context) error) {
	g.g.Go(func() error {
		ctx, _ := WithNewThread(g.ctx, name)
		return fn(ctx)
	})
}

// Wait blocks until every goroutine returns and reports the first error.
func (g *Group) Wait() error {
	return g.g.Wait()
}
