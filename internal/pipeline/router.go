package pipeline

import (
	"fmt"
	"maps"
	"slices"
)

// Router holds named provider backends. Lookups for an unregistered name
// fall back to the default backend when one is set.
type Router[T any] struct {
	backends map[string]T
	fallback string
}

func NewRouter[T any](backends map[string]T, fallback string) *Router[T] {
	return &Router[T]{backends: backends, fallback: fallback}
}

// Route returns the backend registered as engine.
func (r *Router[T]) Route(engine string) (T, error) {
	for _, name := range []string{engine, r.fallback} {
		if backend, ok := r.backends[name]; ok {
			return backend, nil
		}
	}
	var zero T
	return zero, fmt.Errorf("no backend registered for engine %q (have %v)", engine, r.Engines())
}

// Engines returns the registered names, sorted.
func (r *Router[T]) Engines() []string {
	return slices.Sorted(maps.Keys(r.backends))
}
