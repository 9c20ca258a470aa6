package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"

	"apiforge/internal/apierr"
	"apiforge/internal/auth"
	"apiforge/internal/ratelimit"
	"apiforge/internal/validation"
	"apiforge/internal/version"
)

// Observer is told about stage outcomes worth counting
type Observer interface {
	RateLimited(route string)
	ValidationFailed(route string, fields int)
}

type nopObserver struct{}

func (nopObserver) RateLimited(string)           {}
func (nopObserver) ValidationFailed(string, int) {}

// VersionStage resolves the API version and writes the version headers
type VersionStage struct {
	resolver *version.Resolver
}

func NewVersionStage(resolver *version.Resolver) *VersionStage {
	return &VersionStage{resolver: resolver}
}

func (s *VersionStage) Name() string { return "version" }

func (s *VersionStage) Process(_ context.Context, rc RequestContext) Result {
	ep := rc.Endpoint()
	res := s.resolver.ResolveEndpoint(rc.Request(), version.Endpoint{Method: ep.Method, Path: ep.Path, Version: ep.Version})
	return Continue(rc.WithVersion(res).WithHeaders(res.Apply))
}

// RateLimitConfig configures RateLimitStage
type RateLimitConfig struct {
	Max        int
	Window     time.Duration
	Exempt     []string // doublestar path patterns
	TrustProxy bool
}

// RateLimitStage counts requests per identity, or per client address for
// anonymous callers.
type RateLimitStage struct {
	limiter  *ratelimit.Limiter
	cfg      RateLimitConfig
	strategy auth.Strategy
	observer Observer
	log      *zap.Logger
}

// NewRateLimitStage creates the stage. strategy may be nil, in which case
// every caller is keyed by address.
func NewRateLimitStage(limiter *ratelimit.Limiter, cfg RateLimitConfig, strategy auth.Strategy, observer Observer, log *zap.Logger) *RateLimitStage {
	if observer == nil {
		observer = nopObserver{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RateLimitStage{limiter: limiter, cfg: cfg, strategy: strategy, observer: observer, log: log}
}

func (s *RateLimitStage) Name() string { return "rateLimit" }

func (s *RateLimitStage) Process(ctx context.Context, rc RequestContext) Result {
	r := rc.Request()

	key := "ip:" + ratelimit.ClientIP(r, s.cfg.TrustProxy)
	if s.strategy != nil {
		res := auth.Peek(ctx, s.strategy, r)
		rc = rc.WithAuthResult(res)
		if res.Err == nil && res.Identity.Authenticated() {
			key = "id:" + res.Identity.SubjectID
		}
	}

	limit := s.cfg.Max
	if rc.Endpoint().RateLimit > 0 {
		limit = rc.Endpoint().RateLimit
	}

	// exempt paths report the caller's quota without spending it
	if s.exempt(r.URL.Path) {
		return Continue(rc.WithHeaders(s.limiter.Peek(key, limit, s.cfg.Window).Apply))
	}

	decision := s.limiter.Check(key, limit, s.cfg.Window)
	rc = rc.WithRateLimit(decision).WithHeaders(decision.Apply)
	if !decision.Allowed {
		route := rc.Endpoint().Key().String()
		s.observer.RateLimited(route)
		s.log.Info("rate limit exceeded", zap.String("key", key), zap.String("route", route))
		return Fail(rc, apierr.RateLimited(decision.RetryAfter))
	}
	return Continue(rc)
}

func (s *RateLimitStage) exempt(path string) bool {
	for _, pattern := range s.cfg.Exempt {
		if ok, err := doublestar.Match(pattern, path); err == nil && ok {
			return true
		}
	}
	return false
}

// AuthStage enforces authentication and roles for endpoints that need it.
// It reuses the result peeked by RateLimitStage when there is one.
type AuthStage struct {
	strategy auth.Strategy
}

func NewAuthStage(strategy auth.Strategy) *AuthStage {
	return &AuthStage{strategy: strategy}
}

func (s *AuthStage) Name() string { return "auth" }

func (s *AuthStage) Process(ctx context.Context, rc RequestContext) Result {
	endpoint := rc.Endpoint()

	var res auth.Result
	if cached := rc.AuthResult(); cached != nil {
		res = *cached
	} else if endpoint.AuthRequired {
		res = auth.Peek(ctx, s.strategy, rc.Request())
		rc = rc.WithAuthResult(res)
	}

	if !endpoint.AuthRequired {
		if res.Err == nil && res.Identity != nil {
			rc = rc.WithIdentity(res.Identity)
		}
		return Continue(rc)
	}

	if res.Err != nil {
		return Fail(rc, res.Err)
	}
	if err := auth.Authorize(res.Identity, endpoint.Roles); err != nil {
		return Fail(rc, err)
	}
	return Continue(rc.WithIdentity(res.Identity))
}

// DecodeStage parses JSON object bodies of POST, PUT and PATCH requests
type DecodeStage struct{}

func NewDecodeStage() *DecodeStage { return &DecodeStage{} }

func (s *DecodeStage) Name() string { return "decode" }

func (s *DecodeStage) Process(_ context.Context, rc RequestContext) Result {
	r := rc.Request()
	switch r.Method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
	default:
		return Continue(rc)
	}

	if r.Body == nil {
		return Continue(rc.WithBody(map[string]any{}))
	}

	var body map[string]any
	err := json.NewDecoder(r.Body).Decode(&body)
	switch {
	case errors.Is(err, io.EOF):
		body = map[string]any{}
	case err != nil:
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return Fail(rc, apierr.New(apierr.CodeValidation, "Request body too large").WithStatus(http.StatusRequestEntityTooLarge))
		}
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return Fail(rc, apierr.BadRequest("Request body must be a JSON object"))
		}
		return Fail(rc, apierr.BadRequest("Invalid JSON in request body"))
	case body == nil:
		return Fail(rc, apierr.BadRequest("Request body must be a JSON object"))
	}

	return Continue(rc.WithBody(body))
}

// ValidateStage checks the decoded body against the endpoint schema. PATCH
// requests use the partial schema.
type ValidateStage struct {
	validator *validation.Validator
	observer  Observer
}

func NewValidateStage(v *validation.Validator, observer Observer) *ValidateStage {
	if observer == nil {
		observer = nopObserver{}
	}
	return &ValidateStage{validator: v, observer: observer}
}

func (s *ValidateStage) Name() string { return "validate" }

func (s *ValidateStage) Process(_ context.Context, rc RequestContext) Result {
	schema := rc.Endpoint().Schema
	if schema == nil {
		return Continue(rc)
	}
	if rc.Request().Method == http.MethodPatch {
		schema = schema.Partial()
	}

	out := s.validator.Validate(schema, rc.Body())
	if !out.Valid() {
		s.observer.ValidationFailed(rc.Endpoint().Key().String(), len(out.Errors))
		return Fail(rc, apierr.Validation("Validation failed", out.Errors))
	}
	return Continue(rc.WithBody(out.Sanitized))
}
