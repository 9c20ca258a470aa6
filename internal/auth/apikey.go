package auth

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"golang.org/x/crypto/bcrypt"

	"apiforge/internal/apierr"
)

// APIKeyHeader carries "<id>.<secret>" keys
const APIKeyHeader = "X-API-Key"

// Key is a stored API key. Hash is the bcrypt hash of the secret part.
type Key struct {
	ID      string `toml:"id" json:"id"`
	Hash    string `toml:"hash" json:"hash"`
	Subject string `toml:"subject" json:"subject"`
	Role    string `toml:"role" json:"role"`
}

// KeyStore looks API keys up by id
type KeyStore interface {
	Lookup(ctx context.Context, id string) (Key, bool, error)
}

// KeyRevoker disables keys. A revoked key no longer authenticates.
type KeyRevoker interface {
	Revoke(ctx context.Context, id string) error
}

// MemoryKeyStore keeps keys in memory, typically loaded from config
type MemoryKeyStore struct {
	mu   sync.RWMutex
	keys map[string]Key
}

// NewMemoryKeyStore creates a store holding keys
func NewMemoryKeyStore(keys ...Key) *MemoryKeyStore {
	s := &MemoryKeyStore{keys: make(map[string]Key, len(keys))}
	for _, k := range keys {
		s.keys[k.ID] = k
	}
	return s
}

// Add stores or replaces a key
func (s *MemoryKeyStore) Add(k Key) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keys[k.ID] = k
}

func (s *MemoryKeyStore) Lookup(_ context.Context, id string) (Key, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	k, ok := s.keys[id]
	return k, ok, nil
}

// Revoke forgets the key with id for the life of the process
func (s *MemoryKeyStore) Revoke(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.keys[id]; !ok {
		return apierr.NotFound("api key", id)
	}
	delete(s.keys, id)
	return nil
}

// HashSecret returns the bcrypt hash stored for a key secret
func HashSecret(secret string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// APIKeyStrategy authenticates the X-API-Key header against a KeyStore
type APIKeyStrategy struct {
	store  KeyStore
	header string
}

// NewAPIKeyStrategy creates an API key strategy
func NewAPIKeyStrategy(store KeyStore) *APIKeyStrategy {
	return &APIKeyStrategy{store: store, header: APIKeyHeader}
}

func (s *APIKeyStrategy) Name() string { return "apikey" }

func (s *APIKeyStrategy) Authenticate(ctx context.Context, r *http.Request) (*Identity, error) {
	raw := r.Header.Get(s.header)
	if raw == "" {
		return nil, apierr.Auth("API key is required")
	}

	id, secret, ok := strings.Cut(raw, ".")
	if !ok || id == "" || secret == "" {
		return nil, apierr.Auth("Invalid API key")
	}

	key, found, err := s.store.Lookup(ctx, id)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierr.Auth("Invalid API key")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(key.Hash), []byte(secret)); err != nil {
		return nil, apierr.Auth("Invalid API key")
	}

	subject := key.Subject
	if subject == "" {
		subject = key.ID
	}
	return &Identity{
		SubjectID: subject,
		Role:      key.Role,
		Claims:    map[string]any{"keyId": key.ID},
		Strategy:  s.Name(),
	}, nil
}
