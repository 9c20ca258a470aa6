package pipeline

import (
	"net/http"
	"net/url"

	"apiforge/internal/auth"
	"apiforge/internal/ratelimit"
	"apiforge/internal/registry"
	"apiforge/internal/version"
)

// RequestContext is the per-request state passed between stages. It is a
// value: stages derive a new context with the With methods and never
// mutate the one they were given.
type RequestContext struct {
	request  *http.Request
	endpoint registry.Descriptor
	params   map[string]string
	body     map[string]any
	version  *version.Resolution
	peek     *auth.Result
	identity *auth.Identity
	rate     *ratelimit.Decision
	headers  http.Header
}

// NewRequestContext starts a context for r matched to endpoint
func NewRequestContext(r *http.Request, endpoint registry.Descriptor, params map[string]string) RequestContext {
	return RequestContext{
		request:  r,
		endpoint: endpoint,
		params:   params,
		headers:  http.Header{},
	}
}

func (rc RequestContext) Request() *http.Request { return rc.request }
func (rc RequestContext) Endpoint() registry.Descriptor { return rc.endpoint }
func (rc RequestContext) Query() url.Values { return rc.request.URL.Query() }
func (rc RequestContext) Body() map[string]any { return rc.body }
func (rc RequestContext) Identity() *auth.Identity { return rc.identity }
func (rc RequestContext) RateLimit() *ratelimit.Decision { return rc.rate }
func (rc RequestContext) AuthResult() *auth.Result { return rc.peek }
func (rc RequestContext) VersionResolution() *version.Resolution { return rc.version }

// Param returns a path parameter such as {id}
func (rc RequestContext) Param(name string) string {
	return rc.params[name]
}

// Version returns the resolved version, or the endpoint's own version
// when no version stage ran.
func (rc RequestContext) Version() string {
	if rc.version != nil {
		return rc.version.Version.String()
	}
	return rc.endpoint.Version
}

// Headers returns a copy of the response headers accumulated so far
func (rc RequestContext) Headers() http.Header {
	return rc.headers.Clone()
}

func (rc RequestContext) WithBody(body map[string]any) RequestContext {
	rc.body = body
	return rc
}

func (rc RequestContext) WithVersion(res version.Resolution) RequestContext {
	rc.version = &res
	return rc
}

func (rc RequestContext) WithAuthResult(res auth.Result) RequestContext {
	rc.peek = &res
	return rc
}

func (rc RequestContext) WithIdentity(id *auth.Identity) RequestContext {
	rc.identity = id
	return rc
}

func (rc RequestContext) WithRateLimit(d ratelimit.Decision) RequestContext {
	rc.rate = &d
	return rc
}

// WithHeaders returns a context whose response headers were edited by fn.
// fn receives a private copy.
func (rc RequestContext) WithHeaders(fn func(http.Header)) RequestContext {
	h := rc.headers.Clone()
	if h == nil {
		h = http.Header{}
	}
	fn(h)
	rc.headers = h
	return rc
}

// WithHeader sets a single response header
func (rc RequestContext) WithHeader(key, value string) RequestContext {
	return rc.WithHeaders(func(h http.Header) {
		h.Set(key, value)
	})
}
