package store

import (
	"context"
	"path/filepath"
	"testing"
)

// createTestStore creates a new store in a temp dir for testing.
// Trace ids come from a fixed generator: trace-1, trace-2, ...
func createTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	s, err := Open(path, WithIDGenerator(NewFixedGenerator("trace-1", "trace-2", "trace-3", "trace-4")))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// createTestTrace creates a trace and returns its id.
func createTestTrace(t *testing.T, s *Store, name string) string {
	t.Helper()
	info, err := s.CreateTrace(context.Background(), name)
	if err != nil {
		t.Fatalf("CreateTrace() failed: %v", err)
	}
	return info.ID
}
