package crud

import (
	"context"
	"net/http"

	"golang.org/x/sync/errgroup"

	"apiforge/internal/apierr"
	"apiforge/internal/db"
	"apiforge/internal/pipeline"
)

// Meta is the meta block of a CRUD response
type Meta struct {
	Total   *int   `json:"total,omitempty"`
	Limit   *int   `json:"limit,omitempty"`
	Offset  *int   `json:"offset,omitempty"`
	Message string `json:"message,omitempty"`
}

// Envelope wraps every successful CRUD response
type Envelope struct {
	Data any   `json:"data,omitempty"`
	Meta *Meta `json:"meta,omitempty"`
}

type handlers struct {
	resource Resource
	provider db.Provider
	opts     Options
}

func (h *handlers) forOperation(op Operation) pipeline.Handler {
	switch op {
	case OpList:
		return h.list
	case OpGet:
		return h.get
	case OpCreate:
		return h.create
	case OpUpdate:
		return h.update
	case OpPatch:
		return h.patch
	case OpDelete:
		return h.delete
	}
	return nil
}

func (h *handlers) list(ctx context.Context, rc pipeline.RequestContext) (pipeline.Response, error) {
	params, err := parseListParams(rc.Query(), h.opts.DefaultLimit, h.opts.MaxLimit)
	if err != nil {
		return pipeline.Response{}, err
	}

	var (
		records []db.Record
		total   int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = h.provider.FindMany(gctx, params.query)
		return err
	})
	g.Go(func() error {
		var err error
		total, err = h.provider.Count(gctx, params.query.Where)
		return err
	})
	if err := g.Wait(); err != nil {
		return pipeline.Response{}, err
	}

	if records == nil {
		records = []db.Record{}
	}
	return pipeline.JSON(http.StatusOK, Envelope{
		Data: records,
		Meta: &Meta{Total: &total, Limit: &params.limit, Offset: &params.offset},
	}), nil
}

func (h *handlers) get(ctx context.Context, rc pipeline.RequestContext) (pipeline.Response, error) {
	id, err := h.id(rc)
	if err != nil {
		return pipeline.Response{}, err
	}

	rec, found, err := h.provider.FindUnique(ctx, id, parseInclude(rc.Query().Get("include")))
	if err != nil {
		return pipeline.Response{}, err
	}
	if !found {
		return pipeline.Response{}, apierr.NotFound(h.resource.Name, id)
	}
	return pipeline.JSON(http.StatusOK, Envelope{Data: rec}), nil
}

func (h *handlers) create(ctx context.Context, rc pipeline.RequestContext) (pipeline.Response, error) {
	rec, err := h.provider.Create(ctx, rc.Body())
	if err != nil {
		return pipeline.Response{}, err
	}
	return pipeline.JSON(http.StatusCreated, Envelope{
		Data: rec,
		Meta: &Meta{Message: h.resource.Name + " created successfully"},
	}), nil
}

// update replaces the record. Existence is checked first; a record deleted
// between the check and the write surfaces as the provider's not-found error.
func (h *handlers) update(ctx context.Context, rc pipeline.RequestContext) (pipeline.Response, error) {
	id, err := h.id(rc)
	if err != nil {
		return pipeline.Response{}, err
	}
	if _, err := h.existing(ctx, id); err != nil {
		return pipeline.Response{}, err
	}

	rec, err := h.provider.Update(ctx, id, rc.Body())
	if err != nil {
		return pipeline.Response{}, err
	}
	return pipeline.JSON(http.StatusOK, Envelope{
		Data: rec,
		Meta: &Meta{Message: h.resource.Name + " updated successfully"},
	}), nil
}

func (h *handlers) patch(ctx context.Context, rc pipeline.RequestContext) (pipeline.Response, error) {
	id, err := h.id(rc)
	if err != nil {
		return pipeline.Response{}, err
	}
	current, err := h.existing(ctx, id)
	if err != nil {
		return pipeline.Response{}, err
	}

	rec, err := h.provider.Update(ctx, id, merge(current, rc.Body()))
	if err != nil {
		return pipeline.Response{}, err
	}
	return pipeline.JSON(http.StatusOK, Envelope{
		Data: rec,
		Meta: &Meta{Message: h.resource.Name + " updated successfully"},
	}), nil
}

func (h *handlers) delete(ctx context.Context, rc pipeline.RequestContext) (pipeline.Response, error) {
	id, err := h.id(rc)
	if err != nil {
		return pipeline.Response{}, err
	}

	err = h.provider.Delete(ctx, id)
	switch {
	case db.IsNotFound(err) && !h.opts.IdempotentDelete:
		return pipeline.Response{}, apierr.NotFound(h.resource.Name, id)
	case err != nil && !db.IsNotFound(err):
		return pipeline.Response{}, err
	}

	return pipeline.JSON(http.StatusOK, Envelope{
		Meta: &Meta{Message: h.resource.Name + " deleted successfully"},
	}), nil
}

func (h *handlers) id(rc pipeline.RequestContext) (string, error) {
	id := rc.Param("id")
	if !h.resource.IDFormat.Check(id) {
		return "", apierr.BadRequest("Invalid " + h.resource.Name + " id: " + id)
	}
	return id, nil
}

func (h *handlers) existing(ctx context.Context, id string) (db.Record, error) {
	rec, found, err := h.provider.FindUnique(ctx, id, nil)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, apierr.NotFound(h.resource.Name, id)
	}
	return rec, nil
}
