package storage

import (
	"fmt"
	"reflect"
	"sync"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// Memory is an in-process trace buffer.
//
// Scalars and strings are kept as written, so Get hands back the same Go
// value (converted to the destination type when the types differ but are
// convertible, e.g. an int32 thread id read back as int64). Values that can
// share memory with the caller (slices, maps, pointers and anything holding
// them) are snapshotted through CBOR on Put and again on Get, so mutating a
// recorded or replayed value never changes the trace. Only what CBOR keeps
// survives, which is also all a file or SQLite trace keeps.
//
// Readers created with NewReader each keep their own position; the buffer
// itself is append-only apart from Discard.
//
// Thread-safety: Memory and its readers are safe for concurrent use.
type Memory struct {
	mu     sync.RWMutex
	values []any
	mark   int
}

// NewMemory creates an empty buffer.
func NewMemory() *Memory {
	return &Memory{}
}

// Put appends a snapshot of v.
func (m *Memory) Put(v any) error {
	c, err := snapshot(v)
	if err != nil {
		return fmt.Errorf("memory put %T: %w", v, err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values = append(m.values, c)
	return nil
}

// Flush implements Flusher. It marks everything written so far as kept;
// Memory has nowhere else to push it.
func (m *Memory) Flush() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mark = len(m.values)
	return nil
}

// Discard implements Discarder.
func (m *Memory) Discard() {
	m.mu.Lock()
	defer m.mu.Unlock()
	clear(m.values[m.mark:])
	m.values = m.values[:m.mark]
}

// Len returns the number of values written.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

// Values returns a copy of everything written so far.
func (m *Memory) Values() []any {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]any, len(m.values))
	copy(out, m.values)
	return out
}

// NewReader returns a reader positioned at the first value.
func (m *Memory) NewReader() *MemoryReader {
	return &MemoryReader{buf: m}
}

// MemoryReader reads a Memory buffer from the front.
type MemoryReader struct {
	mu  sync.Mutex
	buf *Memory
	pos int
}

// Get implements Reader.
func (r *MemoryReader) Get(dst any) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.buf.mu.RLock()
	if r.pos >= len(r.buf.values) {
		r.buf.mu.RUnlock()
		return false, nil
	}
	v := r.buf.values[r.pos]
	r.buf.mu.RUnlock()

	v, err := snapshot(v)
	if err != nil {
		return false, fmt.Errorf("memory get at %d: %w", r.pos, err)
	}
	if err := assign(dst, v); err != nil {
		return false, fmt.Errorf("memory get at %d: %w", r.pos, err)
	}
	r.pos++
	return true, nil
}

// Remaining returns how many values are left to read.
func (r *MemoryReader) Remaining() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Len() - r.pos
}

// assign stores v into the pointer dst.
func assign(dst any, v any) error {
	dv := reflect.ValueOf(dst)
	if dv.Kind() != reflect.Pointer || dv.IsNil() {
		return fmt.Errorf("destination must be a non-nil pointer, got %T", dst)
	}
	target := dv.Elem()

	if v == nil {
		target.Set(reflect.Zero(target.Type()))
		return nil
	}

	sv := reflect.ValueOf(v)
	switch {
	case sv.Type().AssignableTo(target.Type()):
		target.Set(sv)
	case isNumeric(sv.Kind()) && isNumeric(target.Kind()):
		target.Set(sv.Convert(target.Type()))
	default:
		return fmt.Errorf("cannot read %T into %s", v, target.Type())
	}
	return nil
}

var timeType = reflect.TypeFor[time.Time]()

// snapshot returns v, or a CBOR copy of v when v can alias memory the
// caller still holds.
func snapshot(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	t := reflect.TypeOf(v)
	if !aliases(t) {
		return v, nil
	}
	data, err := cbor.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := reflect.New(t)
	if err := cbor.Unmarshal(data, out.Interface()); err != nil {
		return nil, err
	}
	return out.Elem().Interface(), nil
}

// aliases reports whether values of t can share memory.
func aliases(t reflect.Type) bool {
	if t == timeType {
		return false
	}
	switch t.Kind() {
	case reflect.Array:
		return aliases(t.Elem())
	case reflect.Struct:
		for i := range t.NumField() {
			if aliases(t.Field(i).Type) {
				return true
			}
		}
		return false
	case reflect.Slice, reflect.Map, reflect.Pointer, reflect.Interface,
		reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return true
	}
	return false
}

func isNumeric(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return true
	}
	return false
}
