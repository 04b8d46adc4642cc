package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/retrace/internal/testutil"
)

func TestThreadFrom(t *testing.T) {
	_, ok := ThreadFrom(context.Background())
	assert.False(t, ok)

	ctx, th := WithNewThread(context.Background(), "worker")
	got, ok := ThreadFrom(ctx)
	require.True(t, ok)
	assert.Same(t, th, got)
	assert.Equal(t, "worker", got.Name())

	_, ok = ThreadFrom(WithThread(context.Background(), nil))
	assert.False(t, ok)
}

func TestThread_NilName(t *testing.T) {
	var th *Thread
	assert.Equal(t, "", th.Name())
}

func TestGroup_GivesEachGoroutineItsOwnThread(t *testing.T) {
	g := NewGroup(context.Background())
	threads := make([]*Thread, 4)
	for i := range threads {
		g.Go("worker", func(ctx context.Context) error {
			th, ok := ThreadFrom(ctx)
			if !ok {
				return ErrNoThread
			}
			threads[i] = th
			return nil
		})
	}
	require.NoError(t, g.Wait())

	seen := make(map[*Thread]bool)
	for _, th := range threads {
		require.NotNil(t, th)
		assert.False(t, seen[th], "thread handles must be distinct")
		seen[th] = true
	}
}

func TestGroup_ErrorReleasesReplayWaiters(t *testing.T) {
	mem := testutil.NewTrace().Call(0, "fnc1", 1).Memory()
	d, _ := newReplayDispatcher(t, mem.NewReader(), (&endCounter{}).options()...)

	boom := errors.New("boom")
	g := NewGroup(context.Background())
	g.Go("stuck", func(ctx context.Context) error {
		// Never this goroutine's turn.
		_, err := Wrap(ctx, d, "fnc2", func() int { return -1 })
		return err
	})
	g.Go("failing", func(ctx context.Context) error {
		time.Sleep(5 * time.Millisecond)
		return boom
	})

	assert.ErrorIs(t, g.Wait(), boom)
}
