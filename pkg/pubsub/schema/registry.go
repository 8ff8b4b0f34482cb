package schema

import "github.com/donlair/pubsub-sub001/pkg/concurrency"

// Entry binds a registered Definition to an id, memoized by one Client's
// schema factory method.
type Entry struct {
	ID         string
	Definition Definition
}

// NewEntry builds an Entry. Exported mainly so pkg/pubsub/client can
// construct one without a Registry when a caller only needs a single
// ad-hoc schema handle.
func NewEntry(id string, def Definition) *Entry {
	return &Entry{ID: id, Definition: def}
}

// Validate applies this entry's definition to data.
func (e *Entry) Validate(data []byte) error {
	return Validate(e.Definition, data)
}

// Registry is a standalone register/get-by-id store for Definitions,
// giving schema validation a concrete home for schema bodies independent of
// any one Client instance.
type Registry struct {
	mu      *concurrency.SmartMutex
	entries map[string]*Entry
}

// NewRegistry builds an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		mu:      concurrency.NewSmartMutex(concurrency.MutexConfig{Name: "SchemaRegistry"}),
		entries: make(map[string]*Entry),
	}
}

// Register adds a Definition under id, replacing anything registered there
// before.
func (r *Registry) Register(id string, def Definition) *Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	e := NewEntry(id, def)
	r.entries[id] = e
	return e
}

// Get returns the Entry registered under id, if any.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[id]
	return e, ok
}

// Delete removes id from the registry.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, id)
}
