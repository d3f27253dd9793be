package kvs

import (
	"fmt"
	"sort"
	"sync"
)

// Factory opens a datastore for a DSN.
type Factory func(dsn string) (Datastore, error)

// Registry maps driver names to datastore factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// DefaultRegistry returns a registry with every built-in driver registered:
// memory, sqlite, postgres and mysql.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.RegisterDriver("memory", func(string) (Datastore, error) { return NewMemory(), nil })
	r.RegisterDriver("sqlite", func(dsn string) (Datastore, error) {
		if dsn == "" {
			return NewSQLite("")
		}
		return OpenSQL("sqlite", dsn)
	})
	r.RegisterDriver("postgres", func(dsn string) (Datastore, error) { return OpenSQL("postgres", dsn) })
	r.RegisterDriver("mysql", func(dsn string) (Datastore, error) { return OpenSQL("mysql", dsn) })
	return r
}

// RegisterDriver registers a datastore factory for a driver name.
func (r *Registry) RegisterDriver(driver string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[driver] = factory
}

// Open creates a datastore for the given driver.
func (r *Registry) Open(driver, dsn string) (Datastore, error) {
	r.mu.RLock()
	factory, ok := r.factories[driver]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported datastore driver: %s (available: %v)", driver, r.Drivers())
	}
	ds, err := factory(dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s datastore: %w", driver, err)
	}
	return ds, nil
}

// Drivers returns the registered driver names, sorted.
func (r *Registry) Drivers() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
