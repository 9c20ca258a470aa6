package auth

import (
	"context"
	"net/http"
	"slices"

	"apiforge/internal/apierr"
)

// RoleAnonymous is assigned by NoneStrategy
const RoleAnonymous = "anonymous"

// Identity is the caller derived from a credential. It is never persisted.
type Identity struct {
	SubjectID string         `json:"subjectId"`
	Role      string         `json:"role"`
	Claims    map[string]any `json:"claims,omitempty"`
	Strategy  string         `json:"strategy"`
}

// Authenticated reports whether the identity came from a real credential
func (i *Identity) Authenticated() bool {
	return i != nil && i.SubjectID != "" && i.Role != RoleAnonymous
}

// Strategy authenticates a request
type Strategy interface {
	Name() string
	Authenticate(ctx context.Context, r *http.Request) (*Identity, error)
}

// Result caches one authentication attempt so a request is only verified once
type Result struct {
	Identity *Identity
	Err      error
}

// Peek authenticates without failing the request. The rate limiter uses it
// to key on identity before the auth stage runs; the auth stage then reuses
// the cached result.
func Peek(ctx context.Context, s Strategy, r *http.Request) Result {
	if s == nil {
		return Result{Err: apierr.Auth("Authentication required")}
	}
	id, err := s.Authenticate(ctx, r)
	return Result{Identity: id, Err: err}
}

// Authorize checks the identity's role against roles. An empty roles list
// allows any authenticated identity.
func Authorize(id *Identity, roles []string) error {
	if id == nil {
		return apierr.Auth("Authentication required")
	}
	if len(roles) == 0 || slices.Contains(roles, id.Role) {
		return nil
	}
	return apierr.Permission("Insufficient permissions")
}
