// Package registry maps backend names to constructors so callers resolve a
// provider once from configuration and only ever see its interface.
package registry

import (
	"errors"
	"fmt"
	"slices"
	"sync"
)

// ErrUnknown is wrapped by Create when no factory has the requested name.
var ErrUnknown = errors.New("unknown backend")

// Settings are the string options handed to a factory.
type Settings map[string]string

// Get returns the value for key or def when it is unset or empty.
func (s Settings) Get(key, def string) string {
	if v := s[key]; v != "" {
		return v
	}
	return def
}

type Factory[T any] func(Settings) (T, error)

type Registry[T any] struct {
	mu        sync.RWMutex
	factories map[string]Factory[T]
}

func New[T any]() *Registry[T] {
	return &Registry[T]{factories: make(map[string]Factory[T])}
}

// Register adds or replaces a named factory.
func (r *Registry[T]) Register(name string, f Factory[T]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[name] = f
}

func (r *Registry[T]) Create(name string, s Settings) (T, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		var zero T
		return zero, fmt.Errorf("%w %q (have %v)", ErrUnknown, name, r.List())
	}
	return f(s)
}

func (r *Registry[T]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.factories[name]
	return ok
}

// List returns the registered names in sorted order.
func (r *Registry[T]) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
