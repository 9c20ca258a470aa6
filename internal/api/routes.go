package api

import (
	"fmt"
	"net/http"

	"apiforge/internal/docs"
	"apiforge/internal/pipeline"
	"apiforge/internal/registry"
)

// systemRoute is an endpoint the server itself provides
type systemRoute struct {
	descriptor registry.Descriptor
	handler    pipeline.Handler
	raw        http.Handler
}

// RegisterSystemRoutes registers health, metrics, docs, version and auth
// endpoints in the registry. Everything except /metrics runs through chain.
func (s *Server) RegisterSystemRoutes(chain *pipeline.Chain) error {
	routes := []systemRoute{
		{
			descriptor: registry.Descriptor{Method: http.MethodGet, Path: "/health", Summary: "API health check", Tags: []string{"system"}},
			handler:    s.healthHandler,
		},
		{
			descriptor: registry.Descriptor{Method: http.MethodGet, Path: "/metrics", Summary: "Prometheus metrics", Tags: []string{"system"}},
			raw:        s.deps.Metrics.Handler(),
		},
		{
			descriptor: registry.Descriptor{Method: http.MethodGet, Path: "/api/docs/openapi.json", Summary: "OpenAPI document (JSON)", Tags: []string{"docs"}},
			handler:    s.docsHandler(docs.FormatOpenAPI),
		},
		{
			descriptor: registry.Descriptor{Method: http.MethodGet, Path: "/api/docs/openapi.yaml", Summary: "OpenAPI document (YAML)", Tags: []string{"docs"}},
			handler:    s.docsHandler(docs.FormatOpenAPIYAML),
		},
		{
			descriptor: registry.Descriptor{Method: http.MethodGet, Path: "/api/docs/postman.json", Summary: "Postman collection", Tags: []string{"docs"}},
			handler:    s.docsHandler(docs.FormatPostman),
		},
		{
			descriptor: registry.Descriptor{Method: http.MethodGet, Path: "/api/docs/markdown", Summary: "Markdown reference", Tags: []string{"docs"}},
			handler:    s.docsHandler(docs.FormatMarkdown),
		},
		{
			descriptor: registry.Descriptor{Method: http.MethodGet, Path: "/api/docs/analysis", Summary: "Route coverage analysis", Tags: []string{"docs"}},
			handler:    s.analysisHandler,
		},
		{
			descriptor: registry.Descriptor{Method: http.MethodGet, Path: "/api/whoami", Summary: "Authenticated identity", Tags: []string{"auth"}, AuthRequired: true},
			handler:    s.whoamiHandler,
		},
	}

	if s.deps.Policy != nil {
		routes = append(routes,
			systemRoute{
				descriptor: registry.Descriptor{Method: http.MethodGet, Path: "/api/versions", Summary: "Supported API versions", Tags: []string{"versions"}},
				handler:    s.versionsHandler,
			},
			systemRoute{
				descriptor: registry.Descriptor{
					Method:       http.MethodPost,
					Path:         "/api/admin/versions/{version}/deprecate",
					Summary:      "Deprecate an API version",
					Tags:         []string{"versions"},
					AuthRequired: true,
					Roles:        []string{"admin"},
					Schema:       deprecateSchema,
				},
				handler: s.deprecateHandler,
			},
		)
	}
	if s.deps.Issuer != nil {
		routes = append(routes, systemRoute{
			descriptor: registry.Descriptor{
				Method:      http.MethodPost,
				Path:        "/api/auth/token",
				Summary:     "Issue a development token",
				Description: "Only available outside production",
				Tags:        []string{"auth"},
				Schema:      tokenSchema,
			},
			handler: s.tokenHandler,
		})
	}

	if s.deps.Keys != nil {
		routes = append(routes, systemRoute{
			descriptor: registry.Descriptor{
				Method:       http.MethodDelete,
				Path:         "/api/admin/keys/{id}",
				Summary:      "Revoke an API key",
				Tags:         []string{"auth"},
				AuthRequired: true,
				Roles:        []string{"admin"},
			},
			handler: s.revokeKeyHandler,
		})
	}

	for _, r := range routes {
		d := r.descriptor
		if r.raw != nil {
			d.Handler = r.raw
		} else {
			d.Middleware = chain.Names()
			d.Handler = chain.Then(d, r.handler)
		}
		if err := s.deps.Registry.Register(d); err != nil {
			return fmt.Errorf("system route %s: %w", d.Key(), err)
		}
	}
	return nil
}
