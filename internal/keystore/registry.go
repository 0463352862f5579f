package keystore

import (
	"fmt"
	"sync"
)

// Builder collects drivers during process start. Build freezes it and returns
// the read-only Registry used for lookups; registration after that fails.
type Builder struct {
	mu      sync.Mutex
	drivers []Driver
	frozen  bool
	once    sync.Once
	built   *Registry
}

// NewBuilder returns an empty builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// Register adds d at the head of the list, so the most recently registered
// driver wins when two share a name.
func (b *Builder) Register(d Driver) error {
	if d == nil {
		return fmt.Errorf("%w: nil driver", ErrInvalidDriver)
	}
	if d.Name() == "" {
		return fmt.Errorf("%w: empty driver name", ErrInvalidDriver)
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.frozen {
		return fmt.Errorf("%w: cannot register %q", ErrRegistryFrozen, d.Name())
	}
	b.drivers = append([]Driver{d}, b.drivers...)
	return nil
}

// MustRegister is Register that panics on error, for static driver tables.
func (b *Builder) MustRegister(drivers ...Driver) *Builder {
	for _, d := range drivers {
		if err := b.Register(d); err != nil {
			panic(err)
		}
	}
	return b
}

// Build freezes the builder. Every call returns the same Registry.
func (b *Builder) Build() *Registry {
	b.once.Do(func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.frozen = true
		drivers := make([]Driver, len(b.drivers))
		copy(drivers, b.drivers)
		b.built = &Registry{drivers: drivers}
	})
	return b.built
}

// Registry is an immutable, head-first list of drivers. It is safe for
// concurrent use.
type Registry struct {
	drivers []Driver
}

// Lookup returns the first driver whose name equals name exactly.
func (r *Registry) Lookup(name string) (Driver, bool) {
	for _, d := range r.drivers {
		if d.Name() == name {
			return d, true
		}
	}
	return nil, false
}

// Names lists driver names in lookup order. Shadowed duplicates are included.
func (r *Registry) Names() []string {
	names := make([]string, len(r.drivers))
	for i, d := range r.drivers {
		names[i] = d.Name()
	}
	return names
}

// Len returns the number of registered drivers.
func (r *Registry) Len() int {
	return len(r.drivers)
}
