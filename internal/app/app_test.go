package app

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"apiforge/internal/apierr"
	"apiforge/internal/auth"
	"apiforge/internal/config"
	"apiforge/internal/manifest"
)

var testNow = time.Date(2026, 10, 14, 12, 0, 0, 0, time.UTC)

func newTestApp(t *testing.T, mutate func(*config.Config)) *App {
	t.Helper()
	cfg := config.Default()
	cfg.Auth.JWTSecret = "test-secret"
	if mutate != nil {
		mutate(&cfg)
	}
	require.NoError(t, cfg.Validate())

	a, err := New(context.Background(), cfg, WithClock(func() time.Time { return testNow }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func call(t *testing.T, a *App, method, path, body, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	r := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, r)

	var out map[string]any
	if w.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	}
	return w, out
}

func TestNew_RegistersManifestAndSystemRoutes(t *testing.T) {
	a := newTestApp(t, nil)

	for _, res := range []string{"foodEntry", "performanceEntry", "goal"} {
		_, err := a.Registry().Lookup(http.MethodPost, "/api/v1/"+res, "v1")
		assert.NoError(t, err, res)
		_, err = a.Registry().Lookup(http.MethodDelete, "/api/v1/"+res+"/{id}", "v1")
		assert.NoError(t, err, res)
	}
	for _, path := range []string{"/health", "/metrics", "/api/docs/openapi.json", "/api/versions"} {
		_, err := a.Registry().Lookup(http.MethodGet, path, "")
		assert.NoError(t, err, path)
	}
	assert.NotNil(t, a.Issuer())
}

func TestEndToEnd(t *testing.T) {
	a := newTestApp(t, nil)

	w, out := call(t, a, http.MethodPost, "/api/auth/token", `{"subject":"user-1"}`, "")
	require.Equal(t, http.StatusCreated, w.Code)
	token := out["data"].(map[string]any)["token"].(string)

	entry := `{"mealType":"lunch","description":"  Salad <b>bowl</b> ","date":"2026-10-10"}`

	w, out = call(t, a, http.MethodPost, "/api/v1/foodEntry", entry, "")
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, string(apierr.CodeAuth), out["error"].(map[string]any)["code"])

	w, out = call(t, a, http.MethodPost, "/api/v1/foodEntry", entry, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	created := out["data"].(map[string]any)
	assert.Equal(t, "Salad bowl", created["description"])
	id := created["id"].(string)

	w, out = call(t, a, http.MethodGet, "/api/v1/foodEntry/"+id, "", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "lunch", out["data"].(map[string]any)["mealType"])
	assert.Equal(t, "v1", w.Header().Get("X-API-Version"))
	assert.Equal(t, "100", w.Header().Get("X-RateLimit-Limit"))

	w, _ = call(t, a, http.MethodPost, "/api/v1/foodEntry", `{"mealType":"lunch","description":"x","date":"2026-01-01"}`, token)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestEndToEnd_NonFiniteNumbersRejected(t *testing.T) {
	a := newTestApp(t, nil)
	token, _, err := a.Issuer().Issue("user-1", "user")
	require.NoError(t, err)

	for _, calories := range []string{`"NaN"`, `"Infinity"`, `"-Inf"`} {
		w, out := call(t, a, http.MethodPost, "/api/v1/foodEntry",
			`{"mealType":"lunch","description":"Soup","date":"2026-10-10","calories":`+calories+`}`, token)
		require.Equal(t, http.StatusUnprocessableEntity, w.Code, calories)
		assert.Equal(t, string(apierr.CodeValidation), out["error"].(map[string]any)["code"])
	}

	w, out := call(t, a, http.MethodGet, "/api/v1/foodEntry", "", token)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, out["data"])
}

func TestEndToEnd_Relations(t *testing.T) {
	a := newTestApp(t, nil)
	token, _, err := a.Issuer().Issue("user-1", "user")
	require.NoError(t, err)

	session := func(goalID string) string {
		return `{"activityType":"running","duration":30,"date":"2026-10-10","goalId":"` + goalID + `"}`
	}

	w, out := call(t, a, http.MethodPost, "/api/v1/performanceEntry", session(uuid.NewString()), token)
	require.Equal(t, http.StatusBadRequest, w.Code, w.Body.String())
	assert.Equal(t, string(apierr.CodeInvalidReference), out["error"].(map[string]any)["code"])

	w, out = call(t, a, http.MethodPost, "/api/v1/goal",
		`{"title":"Run a marathon","category":"performance","targetValue":42,"unit":"km","deadline":"2027-04-01"}`, token)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	goalID := out["data"].(map[string]any)["id"].(string)

	w, _ = call(t, a, http.MethodPost, "/api/v1/performanceEntry", session(goalID), token)
	assert.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	// only admins may delete goals
	w, _ = call(t, a, http.MethodDelete, "/api/v1/goal/"+goalID, "", token)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestNew_Hardened(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Server.Environment = "production"
	})
	assert.Nil(t, a.Issuer())

	w, _ := call(t, a, http.MethodPost, "/api/auth/token", `{"subject":"x"}`, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestNew_DeprecatedVersions(t *testing.T) {
	a := newTestApp(t, func(c *config.Config) {
		c.Versions.Supported = []string{"v1", "v2"}
		c.Versions.Deprecated = []config.DeprecatedVersion{
			{Version: "v1", DeprecatedAt: "2026-01-01", Sunset: "2026-12-31"},
		}
		c.Auth.Strategy = config.StrategyNone
	})

	w, _ := call(t, a, http.MethodGet, "/api/v1/goal", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "true", w.Header().Get("X-API-Deprecation"))
	assert.Equal(t, "2026-12-31", w.Header().Get("X-API-Sunset"))
	// the default manifest has no v2 resources to succeed to
	assert.Equal(t, `</api/versions>; rel="deprecation"`, w.Header().Get("Link"))

	r := httptest.NewRequest(http.MethodGet, "/api/v1/goal", nil)
	r.Header.Set("X-API-Version", "v2")
	w = httptest.NewRecorder()
	a.Handler().ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "v1", w.Header().Get("X-API-Version"))
	assert.Equal(t, "true", w.Header().Get("X-API-Deprecation"))
}

func TestNew_APIKeyStrategy(t *testing.T) {
	hash, err := auth.HashSecret("a-long-enough-secret")
	require.NoError(t, err)
	a := newTestApp(t, func(c *config.Config) {
		c.Auth.Strategy = config.StrategyAPIKey
		c.Auth.APIKeys = []auth.Key{{ID: "k1", Hash: hash, Subject: "svc", Role: "admin"}}
	})
	assert.Nil(t, a.Issuer())

	get := func(key string) int {
		r := httptest.NewRequest(http.MethodGet, "/api/whoami", nil)
		if key != "" {
			r.Header.Set(auth.APIKeyHeader, key)
		}
		w := httptest.NewRecorder()
		a.Handler().ServeHTTP(w, r)
		return w.Code
	}
	assert.Equal(t, http.StatusOK, get("k1.a-long-enough-secret"))
	assert.Equal(t, http.StatusUnauthorized, get("k1.wrong-secret-value"))
	assert.Equal(t, http.StatusUnauthorized, get(""))

	r := httptest.NewRequest(http.MethodDelete, "/api/admin/keys/k1", nil)
	r.Header.Set(auth.APIKeyHeader, "k1.a-long-enough-secret")
	w := httptest.NewRecorder()
	a.Handler().ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, http.StatusUnauthorized, get("k1.a-long-enough-secret"))
}

func TestDependencyOrder(t *testing.T) {
	resources := []manifest.Resource{
		{Name: "entry", Relations: []manifest.Relation{{Name: "goal", ForeignKey: "goalId", Target: "goal"}}},
		{Name: "goal", Relations: []manifest.Relation{{Name: "owner", ForeignKey: "ownerId", Target: "owner"}}},
		{Name: "owner"},
	}
	ordered, err := dependencyOrder(resources)
	require.NoError(t, err)

	names := make([]string, len(ordered))
	for i, r := range ordered {
		names[i] = r.Name
	}
	assert.Equal(t, []string{"owner", "goal", "entry"}, names)

	resources[2].Relations = []manifest.Relation{{Name: "entry", ForeignKey: "entryId", Target: "entry"}}
	_, err = dependencyOrder(resources)
	assert.ErrorIs(t, err, manifest.ErrInvalidManifest)
}

func TestServe_GracefulShutdown(t *testing.T) {
	a := newTestApp(t, nil)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
}
