// Package registry holds the executable work units an engine can schedule.
// The registry is populated during startup and frozen before the first
// machine is constructed; at runtime it is read-only.
package registry

import (
	"context"
	"fmt"
	"sync"

	"github.com/aretw0/espalier/pkg/domain"
)

// Registry maps unit names to their implementations.
type Registry struct {
	mu     sync.RWMutex
	units  map[string]domain.UnitFunc
	frozen bool
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{units: make(map[string]domain.UnitFunc)}
}

// Register adds a unit. It panics when called after Freeze or when the name
// is already taken: both are wiring bugs, not runtime conditions.
func (r *Registry) Register(name string, fn domain.UnitFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		panic(fmt.Sprintf("registry: Register(%q) after Freeze", name))
	}
	if _, exists := r.units[name]; exists {
		panic(fmt.Sprintf("registry: unit %q registered twice", name))
	}
	r.units[name] = fn
}

// Freeze marks the registry read-only.
func (r *Registry) Freeze() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frozen = true
}

// Has reports whether a unit is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.units[name]
	return ok
}

// Invoke executes a unit by name.
func (r *Registry) Invoke(ctx context.Context, name string, inv domain.Invocation) (string, error) {
	r.mu.RLock()
	fn, ok := r.units[name]
	r.mu.RUnlock()

	if !ok {
		return "", fmt.Errorf("unit not found: %s", name)
	}
	return fn(ctx, inv)
}
