package api

import (
	"net/http"
	"sync"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"apiforge/internal/apierr"
	"apiforge/internal/auth"
	"apiforge/internal/db"
	"apiforge/internal/docs"
	"apiforge/internal/logging"
	"apiforge/internal/metrics"
	"apiforge/internal/registry"
	"apiforge/internal/version"
)

// Options tune the outer middleware
type Options struct {
	MaxBodyBytes int64
	CORSOrigins  []string
}

// Deps are the services the HTTP boundary serves
type Deps struct {
	Registry *registry.Registry
	Errors   *apierr.Handler
	Metrics  *metrics.Collector
	Policy   *version.Policy
	// Health lists the providers checked by GET /health, by resource name
	Health map[string]db.HealthChecker
	// Issuer signs development tokens; nil disables POST /api/auth/token
	Issuer *auth.Issuer
	// Keys revokes API keys; nil disables DELETE /api/admin/keys/{id}
	Keys auth.KeyRevoker
	Docs docs.Info
	Log  *zap.Logger
}

// Server is the HTTP boundary. The router is built from the registry and
// rebuilt whenever the registry changes.
type Server struct {
	deps    Deps
	opts    Options
	handler http.Handler

	mu         sync.Mutex
	router     http.Handler
	generation uint64
	built      bool
}

// NewServer wires the outer middleware around a registry driven router
func NewServer(deps Deps, opts Options) *Server {
	if deps.Log == nil {
		deps.Log = zap.NewNop()
	}
	if deps.Errors == nil {
		deps.Errors = apierr.NewHandler(deps.Log, false)
	}
	if deps.Metrics == nil {
		deps.Metrics = metrics.NewCollector()
	}

	s := &Server{deps: deps, opts: opts}

	// Outermost first
	var h http.Handler = http.HandlerFunc(s.route)
	h = bodyLimitMiddleware(opts.MaxBodyBytes)(h)
	h = s.metricsMiddleware(h)
	h = logging.Middleware(deps.Log)(h)
	h = corsMiddleware(opts.CORSOrigins)(h)
	h = securityHeadersMiddleware(h)
	h = s.recoveryMiddleware(h)
	s.handler = h
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	s.current().ServeHTTP(w, r)
}

// current returns the router for the registry's current generation
func (s *Server) current() http.Handler {
	gen := s.deps.Registry.Generation()

	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.built || gen != s.generation {
		s.router = s.buildRouter()
		s.generation = gen
		s.built = true
	}
	return s.router
}

// buildRouter registers every descriptor. Paths registered under several
// versions with the same method resolve to the first descriptor.
func (s *Server) buildRouter() http.Handler {
	r := mux.NewRouter()
	descriptors := s.deps.Registry.All()
	for _, d := range descriptors {
		r.Handle(d.Path, withRoute(d.Path, d.Handler)).Methods(d.Method)
	}
	r.NotFoundHandler = http.HandlerFunc(s.notFound)
	r.MethodNotAllowedHandler = http.HandlerFunc(s.methodNotAllowed)

	s.deps.Metrics.SetEndpoints(len(descriptors))
	s.deps.Log.Debug("router rebuilt", zap.Int("endpoints", len(descriptors)))
	return r
}

// Router returns the current registry driven router, without outer middleware
func (s *Server) Router() http.Handler {
	return s.current()
}

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	s.deps.Errors.Handle(w, r, apierr.New(apierr.CodeNotFound, "Route "+r.Method+" "+r.URL.Path+" not found"), nil)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	err := apierr.New(apierr.CodeNotFound, "Method "+r.Method+" not allowed for "+r.URL.Path).
		WithStatus(http.StatusMethodNotAllowed)
	s.deps.Errors.Handle(w, r, err, nil)
}
