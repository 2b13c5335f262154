package orm

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Constructor builds a provider instance from a connection string.
type Constructor[P any] func(ctx context.Context, connectionString string) (P, error)

type registration[P any] struct {
	name string
	ctor Constructor[P]
}

// Registry maps provider names to constructors. Lookups are case-insensitive
// and a later Register under the same name replaces the earlier one.
// It is safe for concurrent use.
type Registry[P any] struct {
	mu      sync.RWMutex
	entries map[string]registration[P]
	logger  Logger
}

func NewRegistry[P any]() *Registry[P] {
	return &Registry[P]{entries: make(map[string]registration[P])}
}

// WithLogger sets the logger used for registration events.
func (r *Registry[P]) WithLogger(l Logger) *Registry[P] {
	r.mu.Lock()
	r.logger = l
	r.mu.Unlock()
	return r
}

func (r *Registry[P]) log() Logger {
	if r.logger != nil {
		return r.logger
	}
	return GetDefaultLogger()
}

func registryKey(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Register stores ctor under name. It performs no I/O.
func (r *Registry[P]) Register(name string, ctor Constructor[P]) error {
	key := registryKey(name)
	if key == "" {
		return ErrInvalidProviderName
	}
	if ctor == nil {
		return fmt.Errorf("%w: %s", ErrNullConstructor, name)
	}

	r.mu.Lock()
	prev, replaced := r.entries[key]
	r.entries[key] = registration[P]{name: strings.TrimSpace(name), ctor: ctor}
	logger := r.log()
	r.mu.Unlock()

	if replaced {
		logger.Debug("provider registration replaced", String("name", name), String("previous", prev.name))
	}
	return nil
}

// Create invokes the constructor registered under name. A miss returns a
// *ProviderNotSupportedError; constructor errors are returned unchanged.
func (r *Registry[P]) Create(ctx context.Context, name, connectionString string) (P, error) {
	r.mu.RLock()
	reg, ok := r.entries[registryKey(name)]
	r.mu.RUnlock()

	if !ok {
		var zero P
		return zero, &ProviderNotSupportedError{Name: name, Registered: r.Names()}
	}
	return reg.ctor(ctx, connectionString)
}

// Names lists the registered names, sorted, in the casing of their latest
// registration.
func (r *Registry[P]) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.entries))
	for _, reg := range r.entries {
		names = append(names, reg.name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry[P]) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.entries[registryKey(name)]
	return ok
}

// Unregister removes name; it is a no-op when name is unknown.
func (r *Registry[P]) Unregister(name string) {
	r.mu.Lock()
	delete(r.entries, registryKey(name))
	r.mu.Unlock()
}
