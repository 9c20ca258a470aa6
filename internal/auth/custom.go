package auth

import (
	"context"
	"net/http"

	"apiforge/internal/apierr"
)

// AuthenticateFunc is an injected authentication function
type AuthenticateFunc func(ctx context.Context, r *http.Request) (*Identity, error)

// CustomStrategy delegates to an injected function
type CustomStrategy struct {
	name string
	fn   AuthenticateFunc
}

// NewCustomStrategy wraps fn as a Strategy
func NewCustomStrategy(name string, fn AuthenticateFunc) *CustomStrategy {
	if name == "" {
		name = "custom"
	}
	return &CustomStrategy{name: name, fn: fn}
}

func (s *CustomStrategy) Name() string { return s.name }

func (s *CustomStrategy) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	id, err := s.fn(ctx, r)
	if err != nil {
		return nil, err
	}
	if id == nil {
		return nil, apierr.Auth("Authentication required")
	}
	if id.Strategy == "" {
		id.Strategy = s.name
	}
	return id, nil
}

// NoneStrategy lets every request through as an anonymous identity
type NoneStrategy struct{}

func (NoneStrategy) Name() string { return "none" }

func (NoneStrategy) Authenticate(context.Context, *http.Request) (*Identity, error) {
	return &Identity{Role: RoleAnonymous, Strategy: "none"}, nil
}
