package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct {
	X, Y int
}

func TestMemory_PutGet(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put(int32(3)))
	require.NoError(t, m.Put(uint32(0xdeadbeef)))
	require.NoError(t, m.Put(point{X: 1, Y: 2}))
	assert.Equal(t, 3, m.Len())

	r := m.NewReader()

	tid, ok, err := Get[int32](r)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int32(3), tid)

	cid, ok, err := Get[uint32](r)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, uint32(0xdeadbeef), cid)

	p, ok, err := Get[point](r)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, point{X: 1, Y: 2}, p)

	assert.Equal(t, 0, r.Remaining())
}

func TestMemory_EndOfStream(t *testing.T) {
	m := NewMemory()
	r := m.NewReader()

	v, ok, err := Get[int32](r)
	assert.NoError(t, err, "end of stream is not an error")
	assert.False(t, ok)
	assert.Zero(t, v)

	// Reading again stays at end.
	_, ok, err = Get[int32](r)
	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_NumericConversion(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put(int32(7)))

	v, ok, err := Get[int64](m.NewReader())
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, int64(7), v)
}

func TestMemory_TypeMismatch(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put("not a number"))

	r := m.NewReader()
	_, ok, err := Get[int32](r)
	require.Error(t, err)
	assert.False(t, ok)
	assert.Contains(t, err.Error(), "cannot read string into int32")

	// A failed read does not advance the reader.
	s, ok, err := Get[string](r)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "not a number", s)
}

func TestMemory_NonPointerDestination(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put(1))

	var v int
	_, err := m.NewReader().Get(v)
	assert.Error(t, err)
}

func TestMemory_IndependentReaders(t *testing.T) {
	m := NewMemory()
	for i := 0; i < 3; i++ {
		require.NoError(t, m.Put(i))
	}

	r1 := m.NewReader()
	r2 := m.NewReader()

	a, _, _ := Get[int](r1)
	b, _, _ := Get[int](r1)
	c, _, _ := Get[int](r2)

	assert.Equal(t, 0, a)
	assert.Equal(t, 1, b)
	assert.Equal(t, 0, c)
	assert.Equal(t, 1, r1.Remaining())
	assert.Equal(t, 2, r2.Remaining())
}

func TestMemory_NilValue(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put(nil))

	p, ok, err := Get[*point](m.NewReader())
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Nil(t, p)
}

func TestMemory_ValuesIsCopy(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put(1))

	vals := m.Values()
	vals[0] = 99

	assert.Equal(t, []any{1}, m.Values())
}

func TestMemory_PutSnapshotsReferenceValues(t *testing.T) {
	m := NewMemory()
	s := []int{1, 2, 3}
	mp := map[string][]int{"a": {1}}
	p := &point{X: 1, Y: 2}
	require.NoError(t, m.Put(s))
	require.NoError(t, m.Put(mp))
	require.NoError(t, m.Put(p))

	s[0] = 99
	mp["a"][0] = 99
	p.X = 99

	r := m.NewReader()
	gs, _, err := Get[[]int](r)
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, gs)

	gm, _, err := Get[map[string][]int](r)
	require.NoError(t, err)
	assert.Equal(t, map[string][]int{"a": {1}}, gm)

	gp, _, err := Get[*point](r)
	require.NoError(t, err)
	assert.Equal(t, &point{X: 1, Y: 2}, gp)
}

func TestMemory_GetReturnsIndependentCopies(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put([]int{1, 2, 3}))

	first, _, err := Get[[]int](m.NewReader())
	require.NoError(t, err)
	first[0] = 99

	second, _, err := Get[[]int](m.NewReader())
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, second)
}

func TestMemory_ScalarsAreKeptAsWritten(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put(int32(1)))
	require.NoError(t, m.Put(point{X: 1, Y: 2}))
	assert.Equal(t, []any{int32(1), point{X: 1, Y: 2}}, m.Values())
}

func TestMemory_UnencodableValue(t *testing.T) {
	m := NewMemory()
	err := m.Put(make(chan int))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "memory put chan int")
	assert.Equal(t, 0, m.Len())
}

func TestMemory_DiscardDropsUnflushedValues(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.Put(int32(0)))
	require.NoError(t, m.Put(uint32(1)))
	require.NoError(t, m.Flush())

	require.NoError(t, m.Put(int32(0)))
	require.NoError(t, m.Put(uint32(2)))
	m.Discard()

	assert.Equal(t, []any{int32(0), uint32(1)}, m.Values())

	// Discard without a Flush since the last Discard is a no-op.
	m.Discard()
	assert.Equal(t, 2, m.Len())
}
