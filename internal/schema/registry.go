package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds schemas by entity. The zero value is not usable; use
// NewRegistry or Builtin.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

// NewRegistry returns a registry containing the given schemas.
// Returns an error if two schemas share an entity.
func NewRegistry(schemas ...*Schema) (*Registry, error) {
	r := &Registry{schemas: make(map[string]*Schema, len(schemas))}
	for _, s := range schemas {
		if err := r.Register(s); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds a schema. Returns an error if the entity is already registered.
func (r *Registry) Register(s *Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.schemas[s.Entity()]; exists {
		return fmt.Errorf("entity already registered: %s", s.Entity())
	}
	r.schemas[s.Entity()] = s
	return nil
}

// Replace adds a schema, overwriting any existing one for the same entity.
// Used to overlay schemas loaded from a file on the built-ins.
func (r *Registry) Replace(s *Schema) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schemas[s.Entity()] = s
}

// Get returns the schema for entity.
func (r *Registry) Get(entity string) (*Schema, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	s, ok := r.schemas[entity]
	return s, ok
}

// All returns all schemas sorted by entity.
func (r *Registry) All() []*Schema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Schema, 0, len(r.schemas))
	for _, s := range r.schemas {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Entity() < out[j].Entity()
	})
	return out
}

// Count returns the number of registered schemas.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.schemas)
}
