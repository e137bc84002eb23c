package tools

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds the tool catalog. The set is fixed at startup; the mutex
// guards against listing while a late registration is in flight.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Definition
	order []string
}

func NewRegistry() *Registry {
	return &Registry{
		tools: make(map[string]Definition),
	}
}

func (r *Registry) Register(def Definition) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[def.Name]; exists {
		return fmt.Errorf("tool already registered: %s", def.Name)
	}

	r.tools[def.Name] = def
	r.order = append(r.order, def.Name)
	return nil
}

func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	def, ok := r.tools[name]
	return def, ok
}

// List returns the definitions in registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		result = append(result, r.tools[name])
	}
	return result
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.tools))
	for name := range r.tools {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
