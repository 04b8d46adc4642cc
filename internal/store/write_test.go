package store

import (
	"context"
	"errors"
	"testing"
)

func TestTraceWriter_PutBuffersUntilFlush(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestTrace(t, s, "buffered")

	w, err := s.NewWriter(ctx, id)
	if err != nil {
		t.Fatalf("NewWriter() failed: %v", err)
	}

	if err := w.Put(int32(0)); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}
	if err := w.Put(uint32(42)); err != nil {
		t.Fatalf("Put() failed: %v", err)
	}

	info, _ := s.GetTrace(ctx, id)
	if info.Values != 0 {
		t.Errorf("values before flush = %d, want 0", info.Values)
	}

	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	info, _ = s.GetTrace(ctx, id)
	if info.Values != 2 {
		t.Errorf("values after flush = %d, want 2", info.Values)
	}
}

func TestTraceWriter_SeqIsContiguous(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestTrace(t, s, "")

	w, err := s.NewWriter(ctx, id)
	if err != nil {
		t.Fatalf("NewWriter() failed: %v", err)
	}
	for i := 0; i < 3; i++ {
		w.Put(i)
		if err := w.Flush(); err != nil {
			t.Fatalf("Flush() failed: %v", err)
		}
	}

	rows, err := s.db.Query(`SELECT seq FROM trace_values WHERE trace_id = ? ORDER BY seq`, id)
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	defer rows.Close()

	var seqs []int64
	for rows.Next() {
		var seq int64
		rows.Scan(&seq)
		seqs = append(seqs, seq)
	}
	want := []int64{1, 2, 3}
	if len(seqs) != len(want) {
		t.Fatalf("seqs = %v, want %v", seqs, want)
	}
	for i := range want {
		if seqs[i] != want[i] {
			t.Errorf("seqs[%d] = %d, want %d", i, seqs[i], want[i])
		}
	}
}

func TestTraceWriter_ResumesAfterExistingValues(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestTrace(t, s, "")

	w1, _ := s.NewWriter(ctx, id)
	w1.Put("a")
	w1.Put("b")
	if err := w1.Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	w2, err := s.NewWriter(ctx, id)
	if err != nil {
		t.Fatalf("NewWriter() failed: %v", err)
	}
	w2.Put("c")
	if err := w2.Flush(); err != nil {
		t.Fatalf("second writer Flush() failed: %v", err)
	}

	raw, err := s.ReadRaw(ctx, id)
	if err != nil {
		t.Fatalf("ReadRaw() failed: %v", err)
	}
	want := []string{`"a"`, `"b"`, `"c"`}
	if len(raw) != len(want) {
		t.Fatalf("raw = %v, want %v", raw, want)
	}
	for i := range want {
		if raw[i] != want[i] {
			t.Errorf("raw[%d] = %s, want %s", i, raw[i], want[i])
		}
	}
}

func TestTraceWriter_NoHTMLEscaping(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestTrace(t, s, "")

	w, _ := s.NewWriter(ctx, id)
	w.Put("<a&b>")
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	raw, _ := s.ReadRaw(ctx, id)
	if len(raw) != 1 || raw[0] != `"<a&b>"` {
		t.Errorf("raw = %v, want [\"<a&b>\"]", raw)
	}
}

func TestTraceWriter_UnencodableValue(t *testing.T) {
	s := createTestStore(t)
	id := createTestTrace(t, s, "")

	w, _ := s.NewWriter(context.Background(), id)
	if err := w.Put(make(chan int)); err == nil {
		t.Error("expected error encoding a channel, got nil")
	}
}

func TestTraceWriter_DiscardDropsPending(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestTrace(t, s, "")

	w, _ := s.NewWriter(ctx, id)
	w.Put(int32(0))
	w.Put(uint32(7))
	if err := w.Put(make(chan int)); err == nil {
		t.Fatal("expected error encoding a channel, got nil")
	}
	w.Discard()

	w.Put(int32(1))
	if err := w.Flush(); err != nil {
		t.Fatalf("Flush() failed: %v", err)
	}

	raw, _ := s.ReadRaw(ctx, id)
	if len(raw) != 1 || raw[0] != "1" {
		t.Errorf("raw = %v, want [1]", raw)
	}
}

func TestTraceWriter_Close(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	id := createTestTrace(t, s, "")

	w, _ := s.NewWriter(ctx, id)
	w.Put(int32(1))
	if err := w.Close(); err != nil {
		t.Fatalf("Close() failed: %v", err)
	}

	info, err := s.GetTrace(ctx, id)
	if err != nil {
		t.Fatalf("GetTrace() failed: %v", err)
	}
	if !info.Closed {
		t.Error("trace should be closed")
	}
	if info.Values != 1 {
		t.Errorf("values = %d, want 1 (Close flushes)", info.Values)
	}

	w.Put(int32(2))
	if err := w.Flush(); !errors.Is(err, ErrTraceClosed) {
		t.Errorf("Flush() after Close = %v, want ErrTraceClosed", err)
	}

	if _, err := s.NewWriter(ctx, id); !errors.Is(err, ErrTraceClosed) {
		t.Errorf("NewWriter() on closed trace = %v, want ErrTraceClosed", err)
	}
}

func TestNewWriter_UnknownTrace(t *testing.T) {
	s := createTestStore(t)

	_, err := s.NewWriter(context.Background(), "missing")
	if !errors.Is(err, ErrTraceNotFound) {
		t.Errorf("NewWriter() = %v, want ErrTraceNotFound", err)
	}
}
