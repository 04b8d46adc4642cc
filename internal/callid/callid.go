package callid

import (
	"fmt"
	"hash/fnv"
	"sync"

	"golang.org/x/text/unicode/norm"
)

// CallID identifies a wrapped call site.
type CallID uint32

// String returns the id as fixed-width hex (e.g. "0x811c9dc5").
func (id CallID) String() string {
	return fmt.Sprintf("0x%08x", uint32(id))
}

// Hash returns the CallID for label.
// Pure and deterministic: the same label always yields the same id, in any
// process and on any build.
func Hash(label string) CallID {
	h := fnv.New32a()
	h.Write([]byte(norm.NFC.String(label)))
	return CallID(h.Sum32())
}

// CollisionError reports two distinct labels that hash to the same CallID.
type CollisionError struct {
	ID       CallID
	Label    string
	Existing string
}

func (e *CollisionError) Error() string {
	return fmt.Sprintf("call id collision: %q and %q both hash to %s", e.Label, e.Existing, e.ID)
}

// Registry remembers every label it has hashed and reports collisions.
//
// Thread-safety: Registry is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	labels map[CallID]string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{labels: make(map[CallID]string)}
}

// Hash returns the CallID for label and records the pair.
// Returns a *CollisionError if a different label already owns the id.
func (r *Registry) Hash(label string) (CallID, error) {
	id := Hash(label)
	normalized := norm.NFC.String(label)

	r.mu.RLock()
	existing, ok := r.labels[id]
	r.mu.RUnlock()
	if ok {
		if existing != normalized {
			return id, &CollisionError{ID: id, Label: normalized, Existing: existing}
		}
		return id, nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.labels[id]; ok && existing != normalized {
		return id, &CollisionError{ID: id, Label: normalized, Existing: existing}
	}
	r.labels[id] = normalized
	return id, nil
}

// Label returns the label registered for id, if any.
func (r *Registry) Label(id CallID) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	label, ok := r.labels[id]
	return label, ok
}

// Len returns the number of distinct labels seen.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.labels)
}
