// Package backend holds the registry of native hal implementations.
//
// Backend packages register a factory from init() under their build
// constraints, so the set of compiled-in backends is fixed at build
// time. The root mev package blank-imports the backend that matches
// the target platform; applications never select a backend at runtime.
package backend

import (
	"errors"
	"sync"

	"github.com/zakarumych/mev/hal"
)

// Common registry errors.
var (
	// ErrNotAvailable is returned when no backend is compiled in for
	// this platform.
	ErrNotAvailable = errors.New("backend: not available")
)

// Backend name constants.
const (
	// Vulkan is the explicit cross-vendor backend.
	Vulkan = "vulkan"

	// Metal is the tile-based-deferred backend.
	Metal = "metal"

	// Null is the headless backend used by tests.
	Null = "null"
)

// Factory creates a backend instance.
type Factory func() hal.Backend

var (
	registryMu sync.RWMutex
	backends   = make(map[string]Factory)

	// Priority order for selection (first available wins). The native
	// backends are mutually exclusive per platform; null is compiled
	// into tests only and never shadows a native backend.
	priority = []string{Metal, Vulkan, Null}
)

// Register registers a backend factory with the given name.
// Called from init() functions in backend packages. Registering the
// same name twice replaces the earlier factory.
func Register(name string, factory Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	backends[name] = factory
}

// Unregister removes a backend from the registry. Useful for tests.
func Unregister(name string) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(backends, name)
}

// Available returns the names of all compiled-in backends.
func Available() []string {
	registryMu.RLock()
	defer registryMu.RUnlock()

	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	return names
}

// IsRegistered reports whether a backend with the given name exists.
func IsRegistered(name string) bool {
	registryMu.RLock()
	defer registryMu.RUnlock()
	_, ok := backends[name]
	return ok
}

// Get returns a backend instance by name, or nil if not registered.
func Get(name string) hal.Backend {
	registryMu.RLock()
	defer registryMu.RUnlock()

	factory, ok := backends[name]
	if !ok {
		return nil
	}
	return factory()
}

// Default returns the platform backend based on priority order.
func Default() (hal.Backend, error) {
	registryMu.RLock()
	defer registryMu.RUnlock()

	for _, name := range priority {
		if factory, ok := backends[name]; ok {
			if b := factory(); b != nil {
				return b, nil
			}
		}
	}

	for _, factory := range backends {
		if b := factory(); b != nil {
			return b, nil
		}
	}

	return nil, ErrNotAvailable
}
