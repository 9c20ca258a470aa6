package db

import (
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrUnknownResource is returned for a resource with no provider
var ErrUnknownResource = errors.New("unknown resource")

// Dispatch maps resource names to their providers. It replaces looking a
// model up by name at request time: every resource is resolved once at
// startup.
type Dispatch struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewDispatch creates an empty dispatch table
func NewDispatch() *Dispatch {
	return &Dispatch{providers: make(map[string]Provider)}
}

// Register binds name to p
func (d *Dispatch) Register(name string, p Provider) error {
	if name == "" || p == nil {
		return fmt.Errorf("resource name and provider are required")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.providers[name]; exists {
		return fmt.Errorf("provider for %q already registered", name)
	}
	d.providers[name] = p
	return nil
}

// Provider returns the provider bound to name
func (d *Dispatch) Provider(name string) (Provider, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.providers[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownResource, name)
	}
	return p, nil
}

// MustHave fails when any of names has no provider
func (d *Dispatch) MustHave(names ...string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var errs []error
	for _, name := range names {
		if _, ok := d.providers[name]; !ok {
			errs = append(errs, fmt.Errorf("%w: %s", ErrUnknownResource, name))
		}
	}
	return errors.Join(errs...)
}

// Names lists the bound resource names, sorted
func (d *Dispatch) Names() []string {
	d.mu.RLock()
	defer d.mu.RUnlock()

	names := make([]string, 0, len(d.providers))
	for name := range d.providers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
