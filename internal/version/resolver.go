package version

import (
	"fmt"
	"net/http"
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// Header names read and written by the resolver
const (
	HeaderVersion         = "X-API-Version"
	HeaderAcceptVersion   = "Accept-Version"
	HeaderDeprecation     = "X-API-Deprecation"
	HeaderDeprecationDate = "X-API-Deprecation-Date"
	HeaderSunset          = "X-API-Sunset"
	QueryParam            = "version"
)

// pathVersionRegex finds a /vN/ or /vN.M/ segment
var pathVersionRegex = regexp.MustCompile(`/(v\d+(?:\.\d+)?)(?:/|$)`)

// Source says where a version came from
type Source string

const (
	SourceHeader  Source = "header"
	SourceQuery   Source = "query"
	SourcePath    Source = "path"
	SourceDefault Source = "default"
	// SourceEndpoint marks a version pinned by the routed endpoint
	SourceEndpoint Source = "endpoint"
)

// VersionsPath lists the supported versions. Deprecated endpoints with no
// registered successor link here instead.
const VersionsPath = "/api/versions"

// Resolution is the version chosen for one request
type Resolution struct {
	Version     Version
	Requested   string
	Source      Source
	Fallback    bool
	Deprecation *Deprecation
	Successor   *Version
	link        string
}

// Deprecated reports whether the resolved version is deprecated
func (r Resolution) Deprecated() bool {
	return r.Deprecation != nil
}

// Apply writes X-API-Version and, for deprecated versions, the deprecation
// headers and a Link to the successor endpoint, or to the version list when
// there is none.
func (r Resolution) Apply(h http.Header) {
	h.Set(HeaderVersion, r.Version.String())
	if r.Deprecation == nil {
		return
	}

	h.Set(HeaderDeprecation, "true")
	if !r.Deprecation.DeprecatedAt.IsZero() {
		h.Set(HeaderDeprecationDate, r.Deprecation.DeprecatedAt.UTC().Format("2006-01-02"))
	}
	if !r.Deprecation.Sunset.IsZero() {
		h.Set(HeaderSunset, r.Deprecation.Sunset.UTC().Format("2006-01-02"))
	}
	if r.Successor != nil && r.link != "" {
		h.Set("Link", fmt.Sprintf(`<%s>; rel="successor-version"`, r.link))
	} else {
		h.Set("Link", fmt.Sprintf(`<%s>; rel="deprecation"`, VersionsPath))
	}
}

// successorPath swaps the version segment of path, or points at /api/{next}
func successorPath(path string, from, to Version) string {
	segment := "/" + from.String()
	if idx := strings.Index(path, segment+"/"); idx >= 0 {
		return path[:idx] + "/" + to.String() + path[idx+len(segment):]
	}
	if strings.HasSuffix(path, segment) {
		return strings.TrimSuffix(path, segment) + "/" + to.String()
	}
	return "/api/" + to.String()
}

// RouteExists reports whether an endpoint is registered for method, the path
// template and version.
type RouteExists func(method, path, version string) bool

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithRoutes makes successor links point only at registered endpoints
func WithRoutes(exists RouteExists) ResolverOption {
	return func(r *Resolver) {
		r.routes = exists
	}
}

// Resolver picks the API version of a request
type Resolver struct {
	policy *Policy
	log    *zap.Logger
	routes RouteExists
}

// NewResolver creates a resolver over policy
func NewResolver(policy *Policy, log *zap.Logger, opts ...ResolverOption) *Resolver {
	if log == nil {
		log = zap.NewNop()
	}
	r := &Resolver{policy: policy, log: log}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Policy returns the resolver's policy
func (r *Resolver) Policy() *Policy {
	return r.policy
}

// Resolve applies header > query > path > default precedence. An unknown or
// malformed version falls back to the default and is never an error.
func (r *Resolver) Resolve(req *http.Request) Resolution {
	res := r.negotiate(req)
	r.annotate(&res, req.Method, req.URL.Path, req.URL.Path)
	return res
}

// Endpoint is the routed endpoint a request is resolved against
type Endpoint struct {
	Method  string
	Path    string // route template, e.g. /api/v1/goal/{id}
	Version string
}

// ResolveEndpoint resolves like Resolve, except that an endpoint registered
// under a version always reports that version. The handler that runs is the
// endpoint's, whatever the caller asked for.
func (r *Resolver) ResolveEndpoint(req *http.Request, ep Endpoint) Resolution {
	res := r.negotiate(req)

	if ep.Version != "" {
		if v, err := Parse(ep.Version); err == nil && v != res.Version {
			if res.Source != SourceDefault {
				r.log.Debug("requested api version differs from endpoint version",
					zap.String("requested", res.Requested),
					zap.String("endpoint", v.String()))
			}
			res.Version = v
			res.Source = SourceEndpoint
			res.Fallback = false
		}
	}

	template := ep.Path
	if template == "" {
		template = req.URL.Path
	}
	method := ep.Method
	if method == "" {
		method = req.Method
	}
	r.annotate(&res, method, template, req.URL.Path)
	return res
}

func (r *Resolver) negotiate(req *http.Request) Resolution {
	requested, source := r.requested(req)

	res := Resolution{
		Version:   r.policy.Default(),
		Requested: requested,
		Source:    source,
	}

	if source != SourceDefault {
		v, err := Parse(requested)
		if err == nil && r.policy.IsSupported(v) {
			res.Version = v
		} else {
			res.Fallback = true
			r.log.Debug("unsupported api version requested, using default",
				zap.String("requested", requested),
				zap.String("source", string(source)),
				zap.String("default", res.Version.String()))
		}
	}
	return res
}

// annotate fills in deprecation and the successor link. template is checked
// against the registered routes, path is the concrete path rewritten into
// the link.
func (r *Resolver) annotate(res *Resolution, method, template, path string) {
	d, ok := r.policy.Deprecation(res.Version)
	if !ok {
		return
	}
	res.Deprecation = &d

	next, ok := r.policy.Successor(res.Version)
	if !ok {
		return
	}
	res.Successor = &next

	if r.routes != nil && !r.routes(method, successorPath(template, res.Version, next), next.String()) {
		return
	}
	res.link = successorPath(path, res.Version, next)
}

func (r *Resolver) requested(req *http.Request) (string, Source) {
	if v := req.Header.Get(HeaderVersion); v != "" {
		return v, SourceHeader
	}
	if v := req.Header.Get(HeaderAcceptVersion); v != "" {
		return v, SourceHeader
	}
	if v := req.URL.Query().Get(QueryParam); v != "" {
		return v, SourceQuery
	}
	if m := pathVersionRegex.FindStringSubmatch(req.URL.Path); m != nil {
		return m[1], SourcePath
	}
	return "", SourceDefault
}
