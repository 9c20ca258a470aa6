package registry

import (
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"sync"

	"apiforge/internal/validation"
)

var (
	ErrDuplicateEndpoint = errors.New("duplicate endpoint")
	ErrNotFound          = errors.New("endpoint not found")
	ErrInvalid           = errors.New("invalid endpoint descriptor")
)

// Descriptor describes one registered operation
type Descriptor struct {
	Method       string
	Path         string
	Version      string
	Middleware   []string
	Schema       *validation.Schema
	Summary      string
	Description  string
	Tags         []string
	Resource     string
	Operation    string
	AuthRequired bool
	Roles        []string
	RateLimit    int // requests per window, 0 = configured default
	Handler      http.Handler
}

// Key identifies a descriptor
type Key struct {
	Method  string
	Path    string
	Version string
}

func (k Key) String() string {
	if k.Version == "" {
		return k.Method + " " + k.Path
	}
	return fmt.Sprintf("%s %s (%s)", k.Method, k.Path, k.Version)
}

// Key returns the normalized registry key of d
func (d Descriptor) Key() Key {
	return Key{Method: strings.ToUpper(d.Method), Path: cleanPath(d.Path), Version: d.Version}
}

// Validated reports whether requests are checked against a schema
func (d Descriptor) Validated() bool {
	return d.Schema != nil
}

// Documented reports whether the endpoint carries a human description
func (d Descriptor) Documented() bool {
	return d.Summary != "" || d.Description != ""
}

func cleanPath(p string) string {
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return path.Clean(p)
}

type registerOptions struct {
	overwrite bool
}

// RegisterOption changes how Register treats an existing key
type RegisterOption func(*registerOptions)

// Overwrite replaces an existing descriptor in place, keeping its position
func Overwrite() RegisterOption {
	return func(o *registerOptions) {
		o.overwrite = true
	}
}

// Registry is the canonical store of registered endpoints. It is read
// on every request and written during bootstrap or by admin calls.
type Registry struct {
	mu          sync.RWMutex
	descriptors []Descriptor
	index       map[Key]int
	generation  uint64
}

// New creates an empty registry
func New() *Registry {
	return &Registry{
		descriptors: make([]Descriptor, 0),
		index:       make(map[Key]int),
	}
}

// Register adds d. Registering an existing (method, path, version) fails
// with ErrDuplicateEndpoint unless Overwrite is given.
func (r *Registry) Register(d Descriptor, opts ...RegisterOption) error {
	var o registerOptions
	for _, opt := range opts {
		opt(&o)
	}

	if d.Method == "" || d.Path == "" || d.Handler == nil {
		return fmt.Errorf("%w: method, path and handler are required", ErrInvalid)
	}

	key := d.Key()
	d.Method = key.Method
	d.Path = key.Path

	r.mu.Lock()
	defer r.mu.Unlock()

	if i, exists := r.index[key]; exists {
		if !o.overwrite {
			return fmt.Errorf("%w: %s", ErrDuplicateEndpoint, key)
		}
		r.descriptors[i] = d
		r.generation++
		return nil
	}

	r.index[key] = len(r.descriptors)
	r.descriptors = append(r.descriptors, d)
	r.generation++
	return nil
}

// Lookup returns the descriptor registered under (method, path, version)
func (r *Registry) Lookup(method, p, version string) (Descriptor, error) {
	key := Key{Method: strings.ToUpper(method), Path: cleanPath(p), Version: version}

	r.mu.RLock()
	defer r.mu.RUnlock()

	i, ok := r.index[key]
	if !ok {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return r.descriptors[i], nil
}

// All returns every descriptor in insertion order
func (r *Registry) All() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Descriptor, len(r.descriptors))
	copy(out, r.descriptors)
	return out
}

// Len returns the number of registered endpoints
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.descriptors)
}

// Generation increases on every successful registration
func (r *Registry) Generation() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.generation
}
