// Package testutil provides helpers for building traces and capturing logs
// in tests.
package testutil

import (
	"github.com/roach88/retrace/internal/callid"
	"github.com/roach88/retrace/internal/storage"
)

// TraceBuilder writes hand-made records, laid out exactly as the record
// engine lays them out: int32 thread, uint32 call, optional payload.
//
// Example:
//
//	mem := testutil.NewTrace().
//	    Call(0, "rng", 7).
//	    Void(1, "retrace.Mutex.lock").
//	    Memory()
type TraceBuilder struct {
	mem *storage.Memory
}

// NewTrace starts an empty trace.
func NewTrace() *TraceBuilder {
	return &TraceBuilder{mem: storage.NewMemory()}
}

// Call appends a record with a payload.
func (b *TraceBuilder) Call(thread int32, label string, result any) *TraceBuilder {
	b.header(thread, label)
	b.mem.Put(result)
	return b
}

// Void appends a record without a payload.
func (b *TraceBuilder) Void(thread int32, label string) *TraceBuilder {
	b.header(thread, label)
	return b
}

// Header appends only the thread id and call id, which is useful for
// building a truncated trace.
func (b *TraceBuilder) Header(thread int32, label string) *TraceBuilder {
	b.header(thread, label)
	return b
}

// Raw appends a single value.
func (b *TraceBuilder) Raw(v any) *TraceBuilder {
	b.mem.Put(v)
	return b
}

// Memory returns the underlying buffer.
func (b *TraceBuilder) Memory() *storage.Memory {
	return b.mem
}

// Reader returns a reader over the trace.
func (b *TraceBuilder) Reader() *storage.MemoryReader {
	return b.mem.NewReader()
}

func (b *TraceBuilder) header(thread int32, label string) {
	b.mem.Put(thread)
	b.mem.Put(uint32(callid.Hash(label)))
}

// Record is one decoded entry of a Memory trace.
type Record struct {
	Thread  int32
	Call    callid.CallID
	Payload any
	Void    bool
}

// Records decodes a Memory trace. voidLabels lists the labels whose records
// carry no payload; every other record is assumed to carry one.
func Records(mem *storage.Memory, voidLabels ...string) []Record {
	void := make(map[callid.CallID]bool, len(voidLabels))
	for _, l := range voidLabels {
		void[callid.Hash(l)] = true
	}

	values := mem.Values()
	var out []Record
	for i := 0; i+1 < len(values); {
		rec := Record{
			Thread: toInt32(values[i]),
			Call:   callid.CallID(toUint32(values[i+1])),
		}
		i += 2
		if void[rec.Call] {
			rec.Void = true
		} else if i < len(values) {
			rec.Payload = values[i]
			i++
		}
		out = append(out, rec)
	}
	return out
}

func toInt32(v any) int32 {
	n, _ := v.(int32)
	return n
}

func toUint32(v any) uint32 {
	n, _ := v.(uint32)
	return n
}
