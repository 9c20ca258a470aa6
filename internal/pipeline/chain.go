package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"apiforge/internal/apierr"
	"apiforge/internal/registry"
)

// Chain runs an ordered list of stages and then an endpoint handler
type Chain struct {
	stages  []Stage
	errors  *apierr.Handler
	log     *zap.Logger
	timeout time.Duration
	params  func(*http.Request) map[string]string
}

// ChainOption configures a Chain
type ChainOption func(*Chain)

// WithTimeout bounds each request. The deadline propagates to provider calls.
func WithTimeout(d time.Duration) ChainOption {
	return func(c *Chain) {
		c.timeout = d
	}
}

// WithLogger sets the logger used for response encoding failures
func WithLogger(log *zap.Logger) ChainOption {
	return func(c *Chain) {
		c.log = log
	}
}

// WithParams replaces the path parameter source (mux.Vars by default)
func WithParams(fn func(*http.Request) map[string]string) ChainOption {
	return func(c *Chain) {
		c.params = fn
	}
}

// NewChain creates a chain. All failures are formatted by errs.
func NewChain(errs *apierr.Handler, stages []Stage, opts ...ChainOption) *Chain {
	c := &Chain{
		stages: stages,
		errors: errs,
		log:    zap.NewNop(),
		params: mux.Vars,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Names lists the stage names in order
func (c *Chain) Names() []string {
	names := make([]string, len(c.stages))
	for i, s := range c.stages {
		names[i] = s.Name()
	}
	return names
}

// Then returns an http.Handler running the chain for endpoint and ending in h
func (c *Chain) Then(endpoint registry.Descriptor, h Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if c.timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, c.timeout)
			defer cancel()
			r = r.WithContext(ctx)
		}

		rc := NewRequestContext(r, endpoint, c.params(r))

		defer func() {
			if rec := recover(); rec != nil {
				c.fail(w, rc, apierr.Internal(fmt.Errorf("panic: %v", rec)))
			}
		}()

		for _, stage := range c.stages {
			res := stage.Process(ctx, rc)
			rc = res.rc
			switch res.outcome {
			case outcomeRespond:
				c.write(w, rc, res.resp)
				return
			case outcomeFail:
				c.fail(w, rc, res.err)
				return
			}
		}

		// A deadline spent in the stages stops the handler from running. Once
		// it has run, only its own error decides the outcome.
		if ctxErr := ctx.Err(); ctxErr != nil {
			c.fail(w, rc, ctxErr)
			return
		}

		resp, err := h(ctx, rc)
		if err != nil {
			c.fail(w, rc, err)
			return
		}
		c.write(w, rc, resp)
	})
}

func (c *Chain) fail(w http.ResponseWriter, rc RequestContext, err error) {
	copyHeaders(w.Header(), rc.headers)
	c.errors.Handle(w, rc.request, err, rc.body)
}

func (c *Chain) write(w http.ResponseWriter, rc RequestContext, resp Response) {
	copyHeaders(w.Header(), rc.headers)
	copyHeaders(w.Header(), resp.Headers)

	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}

	if resp.Raw != nil {
		contentType := resp.ContentType
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		w.Header().Set("Content-Type", contentType)
		w.WriteHeader(status)
		if _, err := w.Write(resp.Raw); err != nil {
			c.log.Debug("failed to write response", zap.Error(err))
		}
		return
	}

	if status == http.StatusNoContent || resp.Body == nil {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp.Body); err != nil {
		c.log.Error("failed to encode response", zap.Error(err))
	}
}

func copyHeaders(dst, src http.Header) {
	for k, values := range src {
		dst.Del(k)
		for _, v := range values {
			dst.Add(k, v)
		}
	}
}
