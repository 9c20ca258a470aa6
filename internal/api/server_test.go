package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiforge/internal/apierr"
	"apiforge/internal/auth"
	"apiforge/internal/db"
	"apiforge/internal/docs"
	"apiforge/internal/metrics"
	"apiforge/internal/pipeline"
	"apiforge/internal/ratelimit"
	"apiforge/internal/registry"
	"apiforge/internal/validation"
	"apiforge/internal/version"
)

const testSecret = "test-secret"

type fakeHealth struct{ err error }

func (f fakeHealth) Health(context.Context) error { return f.err }

type testStack struct {
	server  *Server
	reg     *registry.Registry
	chain   *pipeline.Chain
	metrics *metrics.Collector
	issuer  *auth.Issuer
	keys    *auth.MemoryKeyStore
}

func newTestStack(t *testing.T, health map[string]db.HealthChecker) *testStack {
	t.Helper()

	policy, err := version.NewPolicy([]string{"v1", "v2"}, "v1")
	require.NoError(t, err)

	reg := registry.New()
	errs := apierr.NewHandler(nil, true)
	collector := metrics.NewCollector()
	strategy := auth.NewJWTStrategy(testSecret, true)
	issuer := auth.NewIssuer(testSecret, time.Hour)
	keys := auth.NewMemoryKeyStore(auth.Key{ID: "k1", Hash: "unused", Subject: "svc", Role: "user"})
	routes := func(method, path, v string) bool {
		_, err := reg.Lookup(method, path, v)
		return err == nil
	}

	chain := pipeline.NewChain(errs, []pipeline.Stage{
		pipeline.NewVersionStage(version.NewResolver(policy, nil, version.WithRoutes(routes))),
		pipeline.NewRateLimitStage(ratelimit.New(), pipeline.RateLimitConfig{
			Max:    3,
			Window: time.Minute,
			Exempt: []string{"/health", "/metrics", "/api/docs/**"},
		}, strategy, collector, nil),
		pipeline.NewAuthStage(strategy),
		pipeline.NewDecodeStage(),
		pipeline.NewValidateStage(validation.New(), collector),
	})

	srv := NewServer(Deps{
		Registry: reg,
		Errors:   errs,
		Metrics:  collector,
		Policy:   policy,
		Health:   health,
		Issuer:   issuer,
		Keys:     keys,
		Docs:     docs.Info{Title: "Test API", Version: "1.0.0"},
	}, Options{MaxBodyBytes: 1 << 10})
	require.NoError(t, srv.RegisterSystemRoutes(chain))

	return &testStack{server: srv, reg: reg, chain: chain, metrics: collector, issuer: issuer, keys: keys}
}

func (s *testStack) register(t *testing.T, d registry.Descriptor, h pipeline.Handler) {
	t.Helper()
	d.Handler = s.chain.Then(d, h)
	require.NoError(t, s.reg.Register(d))
}

func (s *testStack) do(t *testing.T, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	var r *http.Request
	if body != "" {
		r = httptest.NewRequest(method, path, strings.NewReader(body))
		r.Header.Set("Content-Type", "application/json")
	} else {
		r = httptest.NewRequest(method, path, nil)
	}
	for k, v := range header {
		r.Header[k] = v
	}
	w := httptest.NewRecorder()
	s.server.ServeHTTP(w, r)
	return w
}

func (s *testStack) bearer(t *testing.T, role string) http.Header {
	t.Helper()
	token, _, err := s.issuer.Issue("user-1", role)
	require.NoError(t, err)
	return http.Header{"Authorization": {"Bearer " + token}}
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func ping(_ context.Context, rc pipeline.RequestContext) (pipeline.Response, error) {
	return pipeline.JSON(http.StatusOK, map[string]any{"pong": true, "version": rc.Version()}), nil
}

func TestHealth(t *testing.T) {
	s := newTestStack(t, map[string]db.HealthChecker{"goal": fakeHealth{}})

	w := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	body := decode(t, w)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "apiforge", body["service"])
	assert.Equal(t, map[string]any{"goal": "ok"}, body["checks"])
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "3", w.Header().Get("X-RateLimit-Remaining"), "health is exempt from counting")
}

func TestHealth_Degraded(t *testing.T) {
	s := newTestStack(t, map[string]db.HealthChecker{
		"goal":      fakeHealth{},
		"foodEntry": fakeHealth{err: errors.New("connection refused")},
	})

	w := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	body := decode(t, w)
	assert.Equal(t, "degraded", body["status"])
	assert.Equal(t, "connection refused", body["checks"].(map[string]any)["foodEntry"])
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestStack(t, nil)

	w := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))
}

func TestCORSPreflight(t *testing.T) {
	s := newTestStack(t, nil)

	w := s.do(t, http.MethodOptions, "/api/v1/anything", "", http.Header{"Origin": {"https://app.example.com"}})
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "PATCH")
	assert.Contains(t, w.Header().Get("Access-Control-Expose-Headers"), "X-RateLimit-Remaining")
}

func TestCORS_AllowList(t *testing.T) {
	h := corsMiddleware([]string{"https://app.example.com"})(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set("Origin", "https://app.example.com")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, "https://app.example.com", w.Header().Get("Access-Control-Allow-Origin"))

	r.Header.Set("Origin", "https://evil.example.com")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}

func TestUnmatchedRoute(t *testing.T) {
	s := newTestStack(t, nil)

	w := s.do(t, http.MethodGet, "/api/v1/nothing", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)
	env := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, string(apierr.CodeNotFound), env["code"])
	assert.Equal(t, "Route GET /api/v1/nothing not found", env["message"])
	assert.Equal(t, "/api/v1/nothing", env["path"])

	w = s.do(t, http.MethodDelete, "/health", "", nil)
	require.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, float64(http.StatusMethodNotAllowed), decode(t, w)["error"].(map[string]any)["status"])
}

func TestRouterRebuild(t *testing.T) {
	s := newTestStack(t, nil)

	w := s.do(t, http.MethodGet, "/api/v1/ping", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	s.register(t, registry.Descriptor{Method: http.MethodGet, Path: "/api/v1/ping", Version: "v1"}, ping)

	w = s.do(t, http.MethodGet, "/api/v1/ping", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, decode(t, w)["pong"])
}

func TestRateLimit(t *testing.T) {
	s := newTestStack(t, nil)
	s.register(t, registry.Descriptor{Method: http.MethodGet, Path: "/api/v1/ping", Version: "v1"}, ping)

	for i := 0; i < 3; i++ {
		w := s.do(t, http.MethodGet, "/api/v1/ping", "", nil)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "3", w.Header().Get("X-RateLimit-Limit"))
	}

	w := s.do(t, http.MethodGet, "/api/v1/ping", "", nil)
	require.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))
	assert.NotEmpty(t, w.Header().Get("Retry-After"))
	assert.Equal(t, string(apierr.CodeRateLimit), decode(t, w)["error"].(map[string]any)["code"])

	w = s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	// authenticated callers have their own budget
	w = s.do(t, http.MethodGet, "/api/v1/ping", "", s.bearer(t, "user"))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestBodyLimit(t *testing.T) {
	s := newTestStack(t, nil)
	s.register(t, registry.Descriptor{Method: http.MethodPost, Path: "/api/v1/echo", Version: "v1"}, ping)

	big := `{"note":"` + strings.Repeat("x", 2<<10) + `"}`
	w := s.do(t, http.MethodPost, "/api/v1/echo", big, nil)
	assert.Equal(t, http.StatusRequestEntityTooLarge, w.Code)
}

func TestPanicRecovery(t *testing.T) {
	s := newTestStack(t, nil)
	require.NoError(t, s.reg.Register(registry.Descriptor{
		Method: http.MethodGet,
		Path:   "/boom",
		Handler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("kaboom")
		}),
	}))

	w := s.do(t, http.MethodGet, "/boom", "", nil)
	require.Equal(t, http.StatusInternalServerError, w.Code)
	env := decode(t, w)["error"].(map[string]any)
	assert.Equal(t, string(apierr.CodeInternal), env["code"])
	assert.Equal(t, "Internal server error", env["message"])
	assert.NotContains(t, w.Body.String(), "kaboom")
}

func TestDocsEndpoints(t *testing.T) {
	s := newTestStack(t, nil)

	w := s.do(t, http.MethodGet, "/api/docs/openapi.json", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "3.0.3", decode(t, w)["openapi"])

	w = s.do(t, http.MethodGet, "/api/docs/openapi.yaml", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "openapi: 3.0.3")

	w = s.do(t, http.MethodGet, "/api/docs/postman.json", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, decode(t, w), "item")

	w = s.do(t, http.MethodGet, "/api/docs/markdown", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "# Test API")

	w = s.do(t, http.MethodGet, "/api/docs/analysis", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	report := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, float64(s.reg.Len()), report["totalEndpoints"])
}

func TestVersions_DeprecateFlow(t *testing.T) {
	s := newTestStack(t, nil)
	s.register(t, registry.Descriptor{Method: http.MethodGet, Path: "/api/v1/ping", Version: "v1"}, ping)

	w := s.do(t, http.MethodGet, "/api/versions", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	list := decode(t, w)["data"].([]any)
	require.Len(t, list, 2)
	assert.Equal(t, "v1", list[0].(map[string]any)["version"])
	assert.Equal(t, true, list[0].(map[string]any)["default"])

	body := `{"deprecatedAt":"2026-01-01","sunset":"2026-12-31"}`

	// anonymous and non-admin callers are rejected
	w = s.do(t, http.MethodPost, "/api/admin/versions/v1/deprecate", body, nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	w = s.do(t, http.MethodPost, "/api/admin/versions/v1/deprecate", body, s.bearer(t, "user"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := s.bearer(t, "admin")
	w = s.do(t, http.MethodPost, "/api/admin/versions/v1/deprecate", body, admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	out := decode(t, w)
	assert.Equal(t, "v1 deprecated successfully", out["meta"].(map[string]any)["message"])
	data := out["data"].(map[string]any)
	assert.Equal(t, true, data["deprecated"])
	assert.Equal(t, "2026-12-31", data["sunset"])
	assert.Equal(t, "v2", data["successor"])

	// no v2 endpoint yet, so the link points at the version list
	w = s.do(t, http.MethodGet, "/api/v1/ping", "", admin)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("X-API-Deprecation"))
	assert.Equal(t, "2026-12-31", w.Header().Get("X-API-Sunset"))
	assert.Equal(t, `</api/versions>; rel="deprecation"`, w.Header().Get("Link"))

	s.register(t, registry.Descriptor{Method: http.MethodGet, Path: "/api/v2/ping", Version: "v2"}, ping)
	w = s.do(t, http.MethodGet, "/api/v1/ping", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, `</api/v2/ping>; rel="successor-version"`, w.Header().Get("Link"))
}

func TestVersions_EndpointVersionWins(t *testing.T) {
	s := newTestStack(t, nil)
	require.NoError(t, s.server.deps.Policy.Deprecate(version.MustParse("v1"), time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), time.Time{}))
	s.register(t, registry.Descriptor{Method: http.MethodGet, Path: "/api/v1/ping", Version: "v1"}, ping)

	w := s.do(t, http.MethodGet, "/api/v1/ping", "", http.Header{"X-Api-Version": {"v2"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "v1", w.Header().Get("X-API-Version"))
	assert.Equal(t, "true", w.Header().Get("X-API-Deprecation"))
	assert.Equal(t, "v1", decode(t, w)["version"])
}

func TestRevokeKey(t *testing.T) {
	s := newTestStack(t, nil)

	w := s.do(t, http.MethodDelete, "/api/admin/keys/k1", "", s.bearer(t, "user"))
	assert.Equal(t, http.StatusForbidden, w.Code)

	admin := s.bearer(t, "admin")
	w = s.do(t, http.MethodDelete, "/api/admin/keys/k1", "", admin)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, true, decode(t, w)["data"].(map[string]any)["revoked"])

	_, ok, err := s.keys.Lookup(context.Background(), "k1")
	require.NoError(t, err)
	assert.False(t, ok)

	w = s.do(t, http.MethodDelete, "/api/admin/keys/k1", "", admin)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestVersions_DeprecateErrors(t *testing.T) {
	s := newTestStack(t, nil)
	admin := s.bearer(t, "admin")

	w := s.do(t, http.MethodPost, "/api/admin/versions/v9/deprecate", `{"sunset":"2027-01-01"}`, admin)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(t, http.MethodPost, "/api/admin/versions/v2/deprecate", `{}`, admin)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)

	w = s.do(t, http.MethodPost, "/api/admin/versions/v2/deprecate", `{"deprecatedAt":"2027-06-01","sunset":"2027-01-01"}`, admin)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Contains(t, w.Body.String(), "sunset must not be before the deprecation date")
}

func TestTokenEndpoint(t *testing.T) {
	s := newTestStack(t, nil)

	w := s.do(t, http.MethodPost, "/api/auth/token", `{"subject":"alice","role":"admin"}`, nil)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	data := decode(t, w)["data"].(map[string]any)
	token := data["token"].(string)
	assert.Equal(t, "admin", data["role"])

	w = s.do(t, http.MethodGet, "/api/whoami", "", http.Header{"Authorization": {"Bearer " + token}})
	require.Equal(t, http.StatusOK, w.Code)
	who := decode(t, w)["data"].(map[string]any)
	assert.Equal(t, "alice", who["subject"])
	assert.Equal(t, "jwt", who["strategy"])

	w = s.do(t, http.MethodPost, "/api/auth/token", `{}`, nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestTokenEndpoint_DisabledWithoutIssuer(t *testing.T) {
	reg := registry.New()
	srv := NewServer(Deps{Registry: reg}, Options{})
	require.NoError(t, srv.RegisterSystemRoutes(pipeline.NewChain(apierr.NewHandler(nil, true), nil)))

	_, err := reg.Lookup(http.MethodPost, "/api/auth/token", "")
	assert.ErrorIs(t, err, registry.ErrNotFound)
	_, err = reg.Lookup(http.MethodGet, "/api/versions", "")
	assert.ErrorIs(t, err, registry.ErrNotFound)
}

func TestMetricsRouteLabel(t *testing.T) {
	s := newTestStack(t, nil)
	s.register(t, registry.Descriptor{Method: http.MethodGet, Path: "/api/v1/ping/{id}", Version: "v1"}, ping)

	s.do(t, http.MethodGet, "/api/v1/ping/42", "", nil)
	s.do(t, http.MethodGet, "/does/not/exist", "", nil)

	w := s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	text := w.Body.String()
	assert.Contains(t, text, `apiforge_requests_total{method="GET",route="/api/v1/ping/{id}",status="200"} 1`)
	assert.Contains(t, text, `apiforge_requests_total{method="GET",route="unmatched",status="404"} 1`)
	assert.Contains(t, text, "apiforge_registered_endpoints")
}
