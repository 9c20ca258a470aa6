package auth

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"apiforge/internal/apierr"
)

// Claims are the JWT claims understood by JWTStrategy
type Claims struct {
	Role string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// JWTStrategy authenticates HS256 bearer tokens. With verify disabled the
// token is only decoded, which is acceptable outside production only.
type JWTStrategy struct {
	secret    []byte
	verify    bool
	extractor Extractor
	now       func() time.Time
}

// JWTOption configures a JWTStrategy
type JWTOption func(*JWTStrategy)

// WithExtractor overrides the cookie and query parameter names
func WithExtractor(e Extractor) JWTOption {
	return func(s *JWTStrategy) {
		s.extractor = e
	}
}

// WithJWTClock replaces time.Now for expiry checks
func WithJWTClock(now func() time.Time) JWTOption {
	return func(s *JWTStrategy) {
		s.now = now
	}
}

// NewJWTStrategy creates a JWT strategy
func NewJWTStrategy(secret string, verify bool, opts ...JWTOption) *JWTStrategy {
	s := &JWTStrategy{
		secret:    []byte(secret),
		verify:    verify,
		extractor: DefaultExtractor,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *JWTStrategy) Name() string { return "jwt" }

// Authenticate extracts and decodes (or verifies) the request's token
func (s *JWTStrategy) Authenticate(_ context.Context, r *http.Request) (*Identity, error) {
	token, _, ok := s.extractor.Extract(r)
	if !ok {
		return nil, apierr.Auth("Authentication token is required")
	}

	claims, err := s.parse(token)
	if err != nil {
		return nil, apierr.Auth("Invalid or expired token").WithCause(err)
	}
	if claims.Subject == "" {
		return nil, apierr.Auth("Token has no subject")
	}

	return &Identity{
		SubjectID: claims.Subject,
		Role:      claims.Role,
		Claims:    claimMap(claims),
		Strategy:  s.Name(),
	}, nil
}

func (s *JWTStrategy) parse(token string) (*Claims, error) {
	claims := &Claims{}
	if !s.verify {
		if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
			return nil, err
		}
		return claims, nil
	}

	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.now), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, fmt.Errorf("invalid token")
	}
	return claims, nil
}

func claimMap(c *Claims) map[string]any {
	m := map[string]any{"sub": c.Subject}
	if c.Role != "" {
		m["role"] = c.Role
	}
	if c.Issuer != "" {
		m["iss"] = c.Issuer
	}
	if c.ExpiresAt != nil {
		m["exp"] = c.ExpiresAt.Unix()
	}
	return m
}

// Issuer signs tokens that JWTStrategy accepts
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewIssuer creates a token issuer. A zero ttl uses DefaultTokenDuration.
func NewIssuer(secret string, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = DefaultTokenDuration
	}
	return &Issuer{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token for subject with role
func (i *Issuer) Issue(subject, role string) (string, time.Time, error) {
	now := i.now()
	expiresAt := now.Add(i.ttl)

	claims := Claims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			Subject:   subject,
			Issuer:    "apiforge",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// DefaultTokenDuration is the default token expiration time
const DefaultTokenDuration = 24 * time.Hour
