package pipeline

import (
	"fmt"
	"sort"
)

// Router maps engine names to backends with a fallback engine used when the
// requested one is not registered.
type Router[T any] struct {
	backends map[string]T
	fallback string
}

// NewRouter creates a router over backends. fallback names the default engine.
func NewRouter[T any](backends map[string]T, fallback string) *Router[T] {
	if backends == nil {
		backends = make(map[string]T)
	}
	return &Router[T]{backends: backends, fallback: fallback}
}

// Register adds or replaces the backend for engine.
func (r *Router[T]) Register(engine string, backend T) {
	r.backends[engine] = backend
}

// SetFallback changes the engine used when a request names an unknown one.
func (r *Router[T]) SetFallback(engine string) {
	r.fallback = engine
}

// Route returns the backend for engine, or the fallback backend.
func (r *Router[T]) Route(engine string) (T, error) {
	if backend, ok := r.backends[engine]; ok {
		return backend, nil
	}
	if backend, ok := r.backends[r.fallback]; ok {
		return backend, nil
	}
	var zero T
	return zero, fmt.Errorf("no backend for engine %q", engine)
}

// Has reports whether engine is registered.
func (r *Router[T]) Has(engine string) bool {
	_, ok := r.backends[engine]
	return ok
}

// Engines returns the registered engine names, sorted.
func (r *Router[T]) Engines() []string {
	names := make([]string, 0, len(r.backends))
	for k := range r.backends {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
