package api

import (
	"context"
	"net/http"
	"sort"
	"time"

	"go.uber.org/zap"

	"apiforge/internal/apierr"
	"apiforge/internal/docs"
	"apiforge/internal/pipeline"
	"apiforge/internal/validation"
	"apiforge/internal/version"
)

// healthTimeout bounds each provider health check
const healthTimeout = 2 * time.Second

// healthHandler reports the status of every remote provider
func (s *Server) healthHandler(ctx context.Context, _ pipeline.RequestContext) (pipeline.Response, error) {
	names := make([]string, 0, len(s.deps.Health))
	for name := range s.deps.Health {
		names = append(names, name)
	}
	sort.Strings(names)

	status := "ok"
	checks := make(map[string]string, len(names))
	for _, name := range names {
		hctx, cancel := context.WithTimeout(ctx, healthTimeout)
		err := s.deps.Health[name].Health(hctx)
		cancel()
		if err != nil {
			status = "degraded"
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}

	code := http.StatusOK
	if status != "ok" {
		code = http.StatusServiceUnavailable
	}
	return pipeline.JSON(code, map[string]any{
		"status":    status,
		"service":   "apiforge",
		"endpoints": s.deps.Registry.Len(),
		"checks":    checks,
	}), nil
}

func (s *Server) docsInfo() docs.Info {
	info := s.deps.Docs
	if s.deps.Policy != nil {
		policy := s.deps.Policy
		info.Deprecated = func(v string) bool {
			parsed, err := version.Parse(v)
			if err != nil {
				return false
			}
			_, ok := policy.Deprecation(parsed)
			return ok
		}
	}
	return info
}

// docsHandler renders the registry in a fixed format
func (s *Server) docsHandler(format docs.Format) pipeline.Handler {
	return func(_ context.Context, _ pipeline.RequestContext) (pipeline.Response, error) {
		out, err := docs.Generate(s.deps.Registry, format, s.docsInfo())
		if err != nil {
			return pipeline.Response{}, apierr.Internal(err)
		}
		return pipeline.Bytes(http.StatusOK, format.ContentType(), out), nil
	}
}

func (s *Server) analysisHandler(_ context.Context, _ pipeline.RequestContext) (pipeline.Response, error) {
	return pipeline.JSON(http.StatusOK, map[string]any{"data": docs.Analyze(s.deps.Registry)}), nil
}

type versionView struct {
	Version      string `json:"version"`
	Default      bool   `json:"default,omitempty"`
	Deprecated   bool   `json:"deprecated,omitempty"`
	DeprecatedAt string `json:"deprecatedAt,omitempty"`
	Sunset       string `json:"sunset,omitempty"`
	Successor    string `json:"successor,omitempty"`
}

func (s *Server) view(v version.Version) versionView {
	p := s.deps.Policy
	out := versionView{Version: v.String(), Default: v == p.Default()}
	if d, ok := p.Deprecation(v); ok {
		out.Deprecated = true
		out.DeprecatedAt = d.DeprecatedAt.Format(time.DateOnly)
		if !d.Sunset.IsZero() {
			out.Sunset = d.Sunset.Format(time.DateOnly)
		}
		if next, ok := p.Successor(v); ok {
			out.Successor = next.String()
		}
	}
	return out
}

func (s *Server) versionsHandler(_ context.Context, _ pipeline.RequestContext) (pipeline.Response, error) {
	supported := s.deps.Policy.Supported()
	out := make([]versionView, len(supported))
	for i, v := range supported {
		out[i] = s.view(v)
	}
	return pipeline.JSON(http.StatusOK, map[string]any{"data": out}), nil
}

// deprecateSchema is the body of the admin deprecate call
var deprecateSchema = validation.NewSchema(map[string]validation.Rule{
	"deprecatedAt": {Type: validation.TypeDate, Description: "Defaults to now"},
	"sunset":       {Type: validation.TypeDate, Required: true},
})

// deprecateHandler adds a version to the deprecated set at runtime
func (s *Server) deprecateHandler(_ context.Context, rc pipeline.RequestContext) (pipeline.Response, error) {
	raw := rc.Param("version")
	v, err := version.Parse(raw)
	if err != nil || !s.deps.Policy.IsSupported(v) {
		return pipeline.Response{}, apierr.NotFound("version", raw)
	}

	body := rc.Body()
	deprecatedAt := time.Now().UTC()
	if at, ok := body["deprecatedAt"].(string); ok && at != "" {
		deprecatedAt, _ = validation.ParseDate(at)
	}
	raw, _ = body["sunset"].(string)
	sunset, ok := validation.ParseDate(raw)
	if !ok || sunset.Before(deprecatedAt) {
		return pipeline.Response{}, apierr.Validation("Validation failed", []validation.FieldError{
			{Field: "sunset", Message: "sunset must not be before the deprecation date"},
		})
	}

	if err := s.deps.Policy.Deprecate(v, deprecatedAt, sunset); err != nil {
		return pipeline.Response{}, apierr.Conflict(err.Error())
	}
	s.deps.Log.Info("api version deprecated",
		zap.String("version", v.String()),
		zap.Time("sunset", sunset))
	return pipeline.JSON(http.StatusOK, map[string]any{
		"data": s.view(v),
		"meta": map[string]string{"message": v.String() + " deprecated successfully"},
	}), nil
}
