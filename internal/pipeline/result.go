package pipeline

import (
	"context"
	"net/http"
)

// Response is a successful reply. Body is JSON encoded unless Raw is set.
type Response struct {
	Status      int
	Body        any
	Raw         []byte
	ContentType string
	Headers     http.Header
}

// JSON builds a JSON response
func JSON(status int, body any) Response {
	return Response{Status: status, Body: body}
}

// Bytes builds a response with a preformatted body
func Bytes(status int, contentType string, raw []byte) Response {
	return Response{Status: status, Raw: raw, ContentType: contentType}
}

type outcome int

const (
	outcomeContinue outcome = iota
	outcomeRespond
	outcomeFail
)

// Result is what a stage decides: continue with a new context, answer the
// request now, or fail it.
type Result struct {
	outcome outcome
	rc      RequestContext
	resp    Response
	err     error
}

// Continue passes rc to the next stage
func Continue(rc RequestContext) Result {
	return Result{outcome: outcomeContinue, rc: rc}
}

// Respond short-circuits the chain with resp
func Respond(rc RequestContext, resp Response) Result {
	return Result{outcome: outcomeRespond, rc: rc, resp: resp}
}

// Fail short-circuits the chain with err. Headers already set on rc are
// still written.
func Fail(rc RequestContext, err error) Result {
	return Result{outcome: outcomeFail, rc: rc, err: err}
}

// Err returns the failure, if any
func (r Result) Err() error {
	return r.err
}

// Context returns the context the stage produced
func (r Result) Context() RequestContext {
	return r.rc
}

// Stage is one step of the request pipeline
type Stage interface {
	Name() string
	Process(ctx context.Context, rc RequestContext) Result
}

// StageFunc adapts a function to a named Stage
func StageFunc(name string, fn func(ctx context.Context, rc RequestContext) Result) Stage {
	return stageFunc{name: name, fn: fn}
}

type stageFunc struct {
	name string
	fn   func(ctx context.Context, rc RequestContext) Result
}

func (s stageFunc) Name() string { return s.name }

func (s stageFunc) Process(ctx context.Context, rc RequestContext) Result {
	return s.fn(ctx, rc)
}

// Handler is the endpoint logic run after every stage continued
type Handler func(ctx context.Context, rc RequestContext) (Response, error)
