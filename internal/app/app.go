// Package app wires configuration, storage, the request pipeline and the
// HTTP server together.
package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"apiforge/internal/api"
	"apiforge/internal/apierr"
	"apiforge/internal/auth"
	"apiforge/internal/config"
	"apiforge/internal/crud"
	"apiforge/internal/db"
	"apiforge/internal/docs"
	"apiforge/internal/manifest"
	"apiforge/internal/metrics"
	"apiforge/internal/pipeline"
	"apiforge/internal/ratelimit"
	"apiforge/internal/registry"
	"apiforge/internal/validation"
	"apiforge/internal/version"
)

// App is a fully wired server
type App struct {
	cfg      config.Config
	log      *zap.Logger
	registry *registry.Registry
	dispatch *db.Dispatch
	limiter  *ratelimit.Limiter
	policy   *version.Policy
	metrics  *metrics.Collector
	strategy auth.Strategy
	issuer   *auth.Issuer
	keys     auth.KeyRevoker
	chain    *pipeline.Chain
	server   *api.Server
	database *db.DB
}

type options struct {
	log      *zap.Logger
	manifest *manifest.File
	now      func() time.Time
}

// Option configures New
type Option func(*options)

// WithLogger sets the process logger; the default is a no-op logger
func WithLogger(log *zap.Logger) Option {
	return func(o *options) {
		o.log = log
	}
}

// WithManifest uses m instead of the manifest named in the config
func WithManifest(m *manifest.File) Option {
	return func(o *options) {
		o.manifest = m
	}
}

// WithClock replaces time.Now for validation predicates
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// New builds every service from cfg and registers all endpoints
func New(ctx context.Context, cfg config.Config, opts ...Option) (*App, error) {
	o := options{log: zap.NewNop(), now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		cfg:      cfg,
		log:      o.log,
		registry: registry.New(),
		dispatch: db.NewDispatch(),
		limiter:  ratelimit.New(),
		metrics:  metrics.NewCollector(),
	}

	policy, err := buildPolicy(cfg.Versions)
	if err != nil {
		return nil, err
	}
	a.policy = policy

	health, err := a.connect(ctx)
	if err != nil {
		return nil, err
	}

	if err := a.buildAuth(ctx); err != nil {
		a.Close()
		return nil, err
	}

	errs := apierr.NewHandler(a.log, cfg.Hardened())
	a.chain = pipeline.NewChain(errs, []pipeline.Stage{
		pipeline.NewVersionStage(version.NewResolver(policy, a.log, version.WithRoutes(a.routeExists))),
		pipeline.NewRateLimitStage(a.limiter, pipeline.RateLimitConfig{
			Max:        cfg.RateLimit.Max,
			Window:     cfg.RateLimit.Window.Duration,
			Exempt:     cfg.RateLimit.Exempt,
			TrustProxy: cfg.RateLimit.TrustProxy,
		}, a.strategy, a.metrics, a.log),
		pipeline.NewAuthStage(a.strategy),
		pipeline.NewDecodeStage(),
		pipeline.NewValidateStage(validation.New(), a.metrics),
	}, pipeline.WithTimeout(cfg.Server.RequestTimeout.Duration), pipeline.WithLogger(a.log))

	m := o.manifest
	if m == nil {
		if m, err = loadManifest(cfg.Resources.Manifest); err != nil {
			a.Close()
			return nil, err
		}
	}

	if err := a.buildProviders(m); err != nil {
		a.Close()
		return nil, err
	}

	gen := crud.NewGenerator(a.registry, a.dispatch, a.chain, crud.Options{
		DefaultLimit:     cfg.CRUD.DefaultLimit,
		MaxLimit:         cfg.CRUD.MaxLimit,
		IdempotentDelete: cfg.CRUD.IdempotentDelete,
		DefaultVersion:   cfg.Versions.Default,
	}, a.log)

	predicates := validation.Predicates(o.now)
	for _, res := range m.Resources {
		cr, err := res.CRUD(predicates)
		if err != nil {
			a.Close()
			return nil, err
		}
		if _, err := gen.Generate(cr); err != nil {
			a.Close()
			return nil, fmt.Errorf("resource %s: %w", res.Name, err)
		}
	}

	info := docs.DefaultInfo
	info.ServerURL = "http://localhost:" + cfg.Server.Port
	a.server = api.NewServer(api.Deps{
		Registry: a.registry,
		Errors:   errs,
		Metrics:  a.metrics,
		Policy:   policy,
		Health:   health,
		Issuer:   a.issuer,
		Keys:     a.keys,
		Docs:     info,
		Log:      a.log,
	}, api.Options{
		MaxBodyBytes: cfg.Server.MaxBodyBytes,
		CORSOrigins:  cfg.Server.CORSOrigins,
	})
	if err := a.server.RegisterSystemRoutes(a.chain); err != nil {
		a.Close()
		return nil, err
	}

	a.log.Info("application ready",
		zap.Int("endpoints", a.registry.Len()),
		zap.Strings("resources", m.Names()),
		zap.String("auth", a.strategy.Name()),
		zap.String("database", cfg.Database.Driver))
	return a, nil
}

func buildPolicy(cfg config.VersionsConfig) (*version.Policy, error) {
	policy, err := version.NewPolicy(cfg.Supported, cfg.Default)
	if err != nil {
		return nil, err
	}
	for _, d := range cfg.Deprecated {
		at, sunset, err := d.Dates()
		if err != nil {
			return nil, err
		}
		v, err := version.Parse(d.Version)
		if err != nil {
			return nil, err
		}
		if err := policy.Deprecate(v, at, sunset); err != nil {
			return nil, err
		}
	}
	return policy, nil
}

// connect opens and migrates the database for the postgres driver and
// returns the health checks GET /health reports
func (a *App) connect(ctx context.Context) (map[string]db.HealthChecker, error) {
	health := map[string]db.HealthChecker{}
	if a.cfg.Database.Driver != config.DriverPostgres {
		return health, nil
	}

	database, err := db.Connect(ctx, a.cfg.Database.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	a.database = database
	if err := database.Migrate(ctx); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	health["database"] = database
	return health, nil
}

func (a *App) buildAuth(ctx context.Context) error {
	switch a.cfg.Auth.Strategy {
	case config.StrategyJWT:
		secret := a.cfg.Auth.JWTSecret
		if secret == "" {
			secret = uuid.NewString()
			a.log.Warn("no jwt secret configured, using a random development secret")
		}
		extractor := auth.Extractor{CookieName: a.cfg.Auth.CookieName, QueryParam: a.cfg.Auth.QueryParam}
		a.strategy = auth.NewJWTStrategy(secret, a.cfg.Hardened(), auth.WithExtractor(extractor))
		if !a.cfg.Hardened() {
			a.issuer = auth.NewIssuer(secret, a.cfg.Auth.TokenTTL.Duration)
		}
	case config.StrategyAPIKey:
		if a.database == nil {
			store := auth.NewMemoryKeyStore(a.cfg.Auth.APIKeys...)
			a.strategy, a.keys = auth.NewAPIKeyStrategy(store), store
			break
		}
		// configured keys are seeded into the table so they survive restarts
		// alongside keys added out of band
		store := db.NewKeyStore(a.database.DB)
		for _, k := range a.cfg.Auth.APIKeys {
			if err := store.Save(ctx, k); err != nil {
				return fmt.Errorf("failed to store api key %s: %w", k.ID, err)
			}
		}
		a.strategy, a.keys = auth.NewAPIKeyStrategy(store), store
	case config.StrategyNone:
		a.strategy = auth.NoneStrategy{}
	default:
		return fmt.Errorf("unknown auth strategy %q", a.cfg.Auth.Strategy)
	}
	return nil
}

func loadManifest(path string) (*manifest.File, error) {
	if path == "" {
		return manifest.Default()
	}
	return manifest.Load(path)
}

// buildProviders registers one provider per resource, targets of relations
// first
func (a *App) buildProviders(m *manifest.File) error {
	ordered, err := dependencyOrder(m.Resources)
	if err != nil {
		return err
	}

	for _, res := range ordered {
		relations := make([]db.Relation, 0, len(res.Relations))
		for _, rel := range res.Relations {
			target, err := a.dispatch.Provider(rel.Target)
			if err != nil {
				return err
			}
			relations = append(relations, db.Relation{Name: rel.Name, ForeignKey: rel.ForeignKey, Target: target})
		}

		var p db.Provider
		if a.database != nil {
			popts := []db.PostgresOption{db.WithPostgresUnique(res.Unique...)}
			for _, rel := range relations {
				popts = append(popts, db.WithPostgresRelation(rel))
			}
			p = db.NewPostgresProvider(a.database.DB, res.Name, popts...)
		} else {
			mopts := []db.MemoryOption{db.WithUnique(res.Unique...)}
			for _, rel := range relations {
				mopts = append(mopts, db.WithRelation(rel))
			}
			p = db.NewMemoryProvider(res.Name, mopts...)
		}
		if err := a.dispatch.Register(res.Name, p); err != nil {
			return err
		}
	}
	return a.dispatch.MustHave(m.Names()...)
}

// routeExists reports whether the registry serves method and path under v
func (a *App) routeExists(method, path, v string) bool {
	_, err := a.registry.Lookup(method, path, v)
	return err == nil
}

// dependencyOrder sorts resources so every relation target precedes the
// resources referencing it
func dependencyOrder(resources []manifest.Resource) ([]manifest.Resource, error) {
	byName := make(map[string]manifest.Resource, len(resources))
	for _, r := range resources {
		byName[r.Name] = r
	}

	const (
		visiting = 1
		done     = 2
	)
	state := make(map[string]int, len(resources))
	out := make([]manifest.Resource, 0, len(resources))

	var visit func(name string) error
	visit = func(name string) error {
		switch state[name] {
		case done:
			return nil
		case visiting:
			return fmt.Errorf("%w: relation cycle through %s", manifest.ErrInvalidManifest, name)
		}
		res, ok := byName[name]
		if !ok {
			return fmt.Errorf("%w: unknown relation target %s", manifest.ErrInvalidManifest, name)
		}
		state[name] = visiting
		for _, rel := range res.Relations {
			if err := visit(rel.Target); err != nil {
				return err
			}
		}
		state[name] = done
		out = append(out, res)
		return nil
	}

	for _, r := range resources {
		if err := visit(r.Name); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Handler returns the HTTP handler with every middleware applied
func (a *App) Handler() http.Handler {
	return a.server
}

// Registry returns the endpoint registry
func (a *App) Registry() *registry.Registry {
	return a.registry
}

// Issuer returns the development token issuer, nil in production
func (a *App) Issuer() *auth.Issuer {
	return a.issuer
}

// Run serves on the configured port until ctx is cancelled, then shuts
// down gracefully
func (a *App) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", ":"+a.cfg.Server.Port)
	if err != nil {
		return err
	}
	return a.Serve(ctx, ln)
}

// Serve is Run on an existing listener
func (a *App) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           a.server,
		ReadHeaderTimeout: 10 * time.Second,
		ErrorLog:          zap.NewStdLog(a.log),
	}

	g, gctx := errgroup.WithContext(ctx)
	sweep := a.cfg.RateLimit.SweepInterval.Duration
	if sweep <= 0 {
		sweep = time.Minute
	}
	g.Go(func() error {
		a.limiter.Run(gctx, sweep)
		return nil
	})
	g.Go(func() error {
		a.log.Info("api server listening", zap.String("addr", ln.Addr().String()))
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		timeout := a.cfg.Server.ShutdownTimeout.Duration
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		sctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		a.log.Info("shutting down", zap.Duration("timeout", timeout))
		return srv.Shutdown(sctx)
	})

	err := g.Wait()
	if cerr := a.Close(); err == nil {
		err = cerr
	}
	return err
}

// Close releases the database connection, if any
func (a *App) Close() error {
	if a.database == nil {
		return nil
	}
	err := a.database.Close()
	a.database = nil
	return err
}
