package app

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

var (
	// ErrDuplicateName is returned when a name is registered twice
	ErrDuplicateName = errors.New("name already registered")

	// ErrRegistryFrozen is returned when registering after boot
	ErrRegistryFrozen = errors.New("registry is frozen")

	// ErrEmptyName is returned when registering under ""
	ErrEmptyName = errors.New("empty name")
)

// Registry maps names to implementations. It is filled during boot, possibly
// by concurrent listeners, and read-only afterwards.
type Registry[T any] struct {
	kind   string
	mu     sync.RWMutex
	items  map[string]T
	frozen bool
}

// NewRegistry creates an empty registry; kind names it in errors
func NewRegistry[T any](kind string) *Registry[T] {
	return &Registry[T]{kind: kind, items: make(map[string]T)}
}

// Register stores v under name. Names are write-once.
func (r *Registry[T]) Register(name string, v T) error {
	if name == "" {
		return fmt.Errorf("%s: %w", r.kind, ErrEmptyName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("%s %q: %w", r.kind, name, ErrRegistryFrozen)
	}
	if _, ok := r.items[name]; ok {
		return fmt.Errorf("%s %q: %w", r.kind, name, ErrDuplicateName)
	}
	r.items[name] = v
	return nil
}

// RegisterAll registers every entry of m in name order, stopping at the
// first error
func (r *Registry[T]) RegisterAll(m map[string]T) error {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := r.Register(name, m[name]); err != nil {
			return err
		}
	}
	return nil
}

// Get returns the implementation registered under name
func (r *Registry[T]) Get(name string) (T, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.items[name]
	return v, ok
}

// Names returns the registered names in sorted order
func (r *Registry[T]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.items))
	for name := range r.items {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of entries
func (r *Registry[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.items)
}

// Each calls fn for every entry in name order
func (r *Registry[T]) Each(fn func(name string, v T)) {
	for _, name := range r.Names() {
		v, _ := r.Get(name)
		fn(name, v)
	}
}

// Frozen reports whether the registry rejects new entries
func (r *Registry[T]) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

func (r *Registry[T]) freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}
