package crud

import (
	"fmt"

	"go.uber.org/zap"

	"apiforge/internal/db"
	"apiforge/internal/pipeline"
	"apiforge/internal/registry"
)

// Options are the generator-wide list and delete settings
type Options struct {
	DefaultLimit     int
	MaxLimit         int
	IdempotentDelete bool
	DefaultVersion   string
}

// DefaultOptions mirrors the crud section defaults of the config file
var DefaultOptions = Options{DefaultLimit: 20, MaxLimit: 100, DefaultVersion: "v1"}

// Generator synthesizes CRUD endpoints and registers them
type Generator struct {
	registry *registry.Registry
	dispatch *db.Dispatch
	chain    *pipeline.Chain
	opts     Options
	log      *zap.Logger
}

// NewGenerator creates a generator. Every generated handler runs behind chain.
func NewGenerator(reg *registry.Registry, dispatch *db.Dispatch, chain *pipeline.Chain, opts Options, log *zap.Logger) *Generator {
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultOptions.DefaultLimit
	}
	if opts.DefaultVersion == "" {
		opts.DefaultVersion = DefaultOptions.DefaultVersion
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Generator{registry: reg, dispatch: dispatch, chain: chain, opts: opts, log: log}
}

// Generate registers one endpoint per requested operation of res and
// returns the descriptors. A resource without a provider fails here, at
// startup, not on the first request.
func (g *Generator) Generate(res Resource) ([]registry.Descriptor, error) {
	if !resourceNameRegex.MatchString(res.Name) {
		return nil, fmt.Errorf("invalid resource name %q", res.Name)
	}
	if res.Version == "" {
		res.Version = g.opts.DefaultVersion
	}
	if res.IDFormat == "" {
		res.IDFormat = IDUUID
	}

	provider, err := g.dispatch.Provider(res.Name)
	if err != nil {
		return nil, err
	}

	ops, err := res.operations()
	if err != nil {
		return nil, err
	}

	h := &handlers{resource: res, provider: provider, opts: g.opts}

	out := make([]registry.Descriptor, 0, len(ops))
	for _, op := range ops {
		d := g.describe(res, op)
		d.Handler = g.chain.Then(d, h.forOperation(op))
		if err := g.registry.Register(d); err != nil {
			return nil, fmt.Errorf("resource %s: %w", res.Name, err)
		}
		out = append(out, d)
	}

	g.log.Info("generated resource endpoints",
		zap.String("resource", res.Name),
		zap.String("version", res.Version),
		zap.Int("endpoints", len(out)))

	return out, nil
}

func (g *Generator) describe(res Resource, op Operation) registry.Descriptor {
	path := res.CollectionPath()
	if op.hasID() {
		path = res.ItemPath()
	}

	tags := res.Tags
	if len(tags) == 0 {
		tags = []string{res.Name}
	}

	d := registry.Descriptor{
		Method:       op.Method(),
		Path:         path,
		Version:      res.Version,
		Middleware:   g.chain.Names(),
		Summary:      summary(res.Name, op),
		Description:  res.Description,
		Tags:         tags,
		Resource:     res.Name,
		Operation:    string(op),
		AuthRequired: res.AuthRequired,
		Roles:        res.Roles[op],
		RateLimit:    res.RateLimit,
	}
	if res.ValidationRequired && op.writes() {
		d.Schema = res.Schema
	}
	return d
}

func summary(name string, op Operation) string {
	switch op {
	case OpList:
		return "List " + name + " records"
	case OpGet:
		return "Get a " + name + " by id"
	case OpCreate:
		return "Create a " + name
	case OpUpdate:
		return "Replace a " + name
	case OpPatch:
		return "Update fields of a " + name
	case OpDelete:
		return "Delete a " + name
	}
	return name
}
