package engine

import (
	"bytes"
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/retrace/internal/callid"
	"github.com/roach88/retrace/internal/storage"
	"github.com/roach88/retrace/internal/storage/cborlog"
	"github.com/roach88/retrace/internal/store"
	"github.com/roach88/retrace/internal/testutil"
)

const (
	workloadWorkers    = 3
	workloadIterations = 20
)

// runWorkload starts one goroutine per worker. Each draws random numbers
// through d and appends them to a shared slice under a Mutex. Jitter
// between calls comes from jitterSeed so record and replay are scheduled
// differently.
func runWorkload(t *testing.T, d *Dispatcher, jitterSeed uint64) []int {
	t.Helper()

	mtx := NewMutex(d)
	var out []int

	g := NewGroup(context.Background())
	for w := 0; w < workloadWorkers; w++ {
		label := fmt.Sprintf("fnc%d", w+1)
		values := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(w)))
		jitter := rand.New(rand.NewPCG(jitterSeed, uint64(w)))

		g.Go(label, func(ctx context.Context) error {
			for i := 0; i < workloadIterations; i++ {
				time.Sleep(time.Duration(jitter.IntN(300)) * time.Microsecond)

				v, err := Wrap(ctx, d, label, func() int {
					return values.IntN(1_000_000)
				})
				if err != nil {
					return err
				}

				if err := mtx.Lock(ctx); err != nil {
					return err
				}
				out = append(out, v)
				if err := mtx.Unlock(ctx); err != nil {
					return err
				}
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	return out
}

// roundTrip records the workload into w, then replays it from the reader
// returned by open and checks that the shared slice comes out identical.
func roundTrip(t *testing.T, w storage.Writer, finish func(), open func() storage.Reader) {
	t.Helper()
	logger := testutil.DiscardLogger()

	d := NewDispatcher(WithLogger(logger))
	rec := NewRecorder(w, WithLogger(logger))
	d.SetMode(rec)
	recorded := runWorkload(t, d, 1)
	finish()

	require.Len(t, recorded, workloadWorkers*workloadIterations)
	assert.Equal(t, int64(workloadWorkers*workloadIterations*3), rec.Records())
	assert.Equal(t, workloadWorkers, rec.Threads())

	end := &endCounter{}
	opts := append(end.options(), WithLogger(logger))
	rep := NewReplayer(open(), opts...)
	d.SetMode(rep)
	replayed := runWorkload(t, d, 2)

	assert.Equal(t, recorded, replayed)
	assert.Equal(t, rec.Records(), rep.Delivered())
	assert.Equal(t, int32(0), end.ends.Load())
}

func TestRoundTrip_Memory(t *testing.T) {
	mem := storage.NewMemory()
	roundTrip(t, mem, func() {}, func() storage.Reader {
		return mem.NewReader()
	})
}

func TestRoundTrip_CBOR(t *testing.T) {
	var buf bytes.Buffer
	w := cborlog.NewWriter(&buf)
	roundTrip(t, w, func() {
		require.NoError(t, w.Close())
	}, func() storage.Reader {
		return cborlog.NewReader(bytes.NewReader(buf.Bytes()))
	})
}

func TestRoundTrip_CBORFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.cbor")
	w, err := cborlog.Create(path)
	require.NoError(t, err)

	roundTrip(t, w, func() {
		require.NoError(t, w.Close())
	}, func() storage.Reader {
		r, err := cborlog.Open(path)
		require.NoError(t, err)
		t.Cleanup(func() { r.Close() })
		return r
	})
}

func TestRoundTrip_SQLite(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	info, err := s.CreateTrace(ctx, "roundtrip")
	require.NoError(t, err)
	w, err := s.NewWriter(ctx, info.ID)
	require.NoError(t, err)

	roundTrip(t, w, func() {
		require.NoError(t, w.Close())
	}, func() storage.Reader {
		r, err := s.NewReader(ctx, info.ID)
		require.NoError(t, err)
		return r
	})
}

func TestRoundTrip_ReplayIgnoresFunctionOutput(t *testing.T) {
	mem := storage.NewMemory()
	d := NewDispatcher(WithLogger(testutil.DiscardLogger()))
	d.SetMode(NewRecorder(mem, WithLogger(testutil.DiscardLogger())))

	ctx, _ := WithNewThread(context.Background(), "main")
	want := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		v, err := Wrap(ctx, d, "random", func() string { return fmt.Sprintf("first-%d", i) })
		require.NoError(t, err)
		want = append(want, v)
	}

	d.SetMode(NewReplayer(mem.NewReader(), (&endCounter{}).options()...))
	ctx, _ = WithNewThread(context.Background(), "main")
	got := make([]string, 0, 3)
	for i := 0; i < 3; i++ {
		v, err := Wrap(ctx, d, "random", func() string { return fmt.Sprintf("second-%d", i) })
		require.NoError(t, err)
		got = append(got, v)
	}
	assert.Equal(t, want, got)
}

// traceBackend is a writer plus the means to finish it and read it back.
type traceBackend struct {
	name   string
	w      storage.Writer
	finish func()
	open   func() storage.Reader
}

func newTraceBackends(t *testing.T) []traceBackend {
	t.Helper()
	ctx := context.Background()

	mem := storage.NewMemory()

	path := filepath.Join(t.TempDir(), "trace.cbor")
	cw, err := cborlog.Create(path)
	require.NoError(t, err)

	s, err := store.Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	info, err := s.CreateTrace(ctx, "backend")
	require.NoError(t, err)
	sw, err := s.NewWriter(ctx, info.ID)
	require.NoError(t, err)

	return []traceBackend{
		{
			name:   "memory",
			w:      mem,
			finish: func() {},
			open:   func() storage.Reader { return mem.NewReader() },
		},
		{
			name:   "cbor",
			w:      cw,
			finish: func() { require.NoError(t, cw.Close()) },
			open: func() storage.Reader {
				r, err := cborlog.Open(path)
				require.NoError(t, err)
				t.Cleanup(func() { r.Close() })
				return r
			},
		},
		{
			name:   "sqlite",
			w:      sw,
			finish: func() { require.NoError(t, sw.Close()) },
			open: func() storage.Reader {
				r, err := s.NewReader(ctx, info.ID)
				require.NoError(t, err)
				return r
			},
		},
	}
}

func TestRoundTrip_FailedRecordLeavesNoPartialRecord(t *testing.T) {
	for _, b := range newTraceBackends(t) {
		t.Run(b.name, func(t *testing.T) {
			logger := testutil.DiscardLogger()
			d := NewDispatcher(WithLogger(logger))
			rec := NewRecorder(b.w, WithLogger(logger))
			d.SetMode(rec)
			ctx, _ := WithNewThread(context.Background(), "main")

			// No backend can encode a channel; the header must not survive.
			_, err := Wrap(ctx, d, "unencodable", func() chan int { return make(chan int) })
			require.Error(t, err)
			assert.Contains(t, err.Error(), "put result")
			assert.Equal(t, 0, rec.Threads(), "failed first record must not assign a thread id")

			v, err := Wrap(ctx, d, "random", func() int { return 7 })
			require.NoError(t, err)
			assert.Equal(t, 7, v)
			b.finish()
			assert.Equal(t, int64(1), rec.Records())

			end := &endCounter{}
			d, rep := newReplayDispatcher(t, b.open(), end.options()...)
			ctx, _ = WithNewThread(context.Background(), "main")

			v, err = Wrap(ctx, d, "random", func() int { return -1 })
			require.NoError(t, err)
			assert.Equal(t, 7, v)

			_, err = Wrap(ctx, d, "random", func() int { return -1 })
			assert.ErrorIs(t, err, ErrReplayFinished)
			assert.Equal(t, int32(1), end.ends.Load())
			assert.Equal(t, int64(1), rep.Delivered())
		})
	}
}

func TestRoundTrip_SQLiteNaNDoesNotCorruptTrace(t *testing.T) {
	ctx := context.Background()
	s, err := store.Open(filepath.Join(t.TempDir(), "trace.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	info, err := s.CreateTrace(ctx, "nan")
	require.NoError(t, err)
	w, err := s.NewWriter(ctx, info.ID)
	require.NoError(t, err)

	d, _ := newRecordDispatcher(t, w)
	th, _ := WithNewThread(ctx, "main")

	_, err = Wrap(th, d, "ratio", func() float64 { return math.NaN() })
	require.Error(t, err, "JSON cannot hold NaN")
	_, err = Wrap(th, d, "random", func() int { return 7 })
	require.NoError(t, err)
	require.NoError(t, w.Close())

	raw, err := s.ReadRaw(ctx, info.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"0", fmt.Sprint(uint32(callid.Hash("random"))), "7"}, raw)
}

func TestRoundTrip_MutatingRecordedValueKeepsTrace(t *testing.T) {
	for _, b := range newTraceBackends(t) {
		t.Run(b.name, func(t *testing.T) {
			d, _ := newRecordDispatcher(t, b.w)
			ctx, _ := WithNewThread(context.Background(), "main")

			v, err := Wrap(ctx, d, "slice", func() []int { return []int{1, 2, 3} })
			require.NoError(t, err)
			v[0] = 99
			m, err := Wrap(ctx, d, "map", func() map[string]int { return map[string]int{"a": 1} })
			require.NoError(t, err)
			m["a"] = 99
			b.finish()

			d, _ = newReplayDispatcher(t, b.open(), (&endCounter{}).options()...)
			ctx, _ = WithNewThread(context.Background(), "main")

			got, err := Wrap(ctx, d, "slice", func() []int { return nil })
			require.NoError(t, err)
			assert.Equal(t, []int{1, 2, 3}, got)

			gm, err := Wrap(ctx, d, "map", func() map[string]int { return nil })
			require.NoError(t, err)
			assert.Equal(t, map[string]int{"a": 1}, gm)
		})
	}
}
