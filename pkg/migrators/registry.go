package migrators

import (
	"errors"
	"fmt"
)

// ErrDuplicateMigrator is returned when a name is registered twice.
var ErrDuplicateMigrator = errors.New("migrator already registered")

// Registry holds the configured migrators in registration order. The
// scheduler honors that order; it is the operator's priority ranking.
type Registry struct {
	ordered []Migrator
	byName  map[string]Migrator
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: map[string]Migrator{}}
}

// Register appends a migrator. Names must be unique.
func (r *Registry) Register(m Migrator) error {
	name := m.Name()
	if _, exists := r.byName[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateMigrator, name)
	}

	r.byName[name] = m
	r.ordered = append(r.ordered, m)

	return nil
}

// MustRegister registers or panics; for process startup wiring.
func (r *Registry) MustRegister(m Migrator) {
	if err := r.Register(m); err != nil {
		panic(err)
	}
}

// All returns the migrators in registration order.
func (r *Registry) All() []Migrator {
	out := make([]Migrator, len(r.ordered))
	copy(out, r.ordered)

	return out
}

// Get looks a migrator up by name.
func (r *Registry) Get(name string) (Migrator, bool) {
	m, ok := r.byName[name]

	return m, ok
}

// Len reports the number of registered migrators.
func (r *Registry) Len() int { return len(r.ordered) }
