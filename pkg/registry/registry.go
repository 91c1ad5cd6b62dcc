// Package registry holds the shared name-to-value table behind the provider
// factories and the tool handler. Lookups vastly outnumber registrations, so
// the table is guarded by a read-write lock.
package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Registry is the read/write surface of a named collection.
type Registry[T any] interface {
	Register(name string, item T) error
	Get(name string) (T, bool)
	Names() []string
	Count() int
}

// BaseRegistry is the map-backed Registry used throughout.
type BaseRegistry[T any] struct {
	mu      sync.RWMutex
	entries map[string]T
}

func NewBaseRegistry[T any]() *BaseRegistry[T] {
	return &BaseRegistry[T]{entries: make(map[string]T)}
}

// Register adds item under name. Names are single-assignment: registering a
// taken name fails rather than silently replacing the earlier entry.
func (r *BaseRegistry[T]) Register(name string, item T) error {
	if name == "" {
		return fmt.Errorf("registry name must not be empty")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, taken := r.entries[name]; taken {
		return fmt.Errorf("%q is already registered", name)
	}
	r.entries[name] = item
	return nil
}

func (r *BaseRegistry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	item, ok := r.entries[name]
	return item, ok
}

// Names returns the registered names in ascending order, so error messages
// and listings stay deterministic.
func (r *BaseRegistry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *BaseRegistry[T]) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}
