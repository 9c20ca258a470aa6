package db

import (
	"context"
	"errors"
	"fmt"

	"apiforge/internal/apierr"
)

// Record is one stored entity as a JSON-shaped document
type Record = map[string]any

// Order sorts by one field
type Order struct {
	Field string
	Desc  bool
}

// Query selects records for FindMany. Where is an equality filter on
// top-level fields; ordering and pagination happen in the provider.
type Query struct {
	Where   map[string]any
	OrderBy []Order
	Skip    int
	Take    int
	Include []string
}

// Provider is the storage behind one resource
type Provider interface {
	FindMany(ctx context.Context, q Query) ([]Record, error)
	Count(ctx context.Context, where map[string]any) (int, error)
	FindUnique(ctx context.Context, id string, include []string) (Record, bool, error)
	Create(ctx context.Context, data Record) (Record, error)
	Update(ctx context.Context, id string, data Record) (Record, error)
	Delete(ctx context.Context, id string) error
}

// HealthChecker is implemented by providers backed by a remote store
type HealthChecker interface {
	Health(ctx context.Context) error
}

// Fields every provider manages itself
const (
	FieldID        = "id"
	FieldCreatedAt = "createdAt"
	FieldUpdatedAt = "updatedAt"
)

// ProviderError carries a storage failure code, translated to the API
// error taxonomy by apierr.From
type ProviderError struct {
	Code    string
	Message string
	Err     error
}

func (e *ProviderError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ProviderError) Unwrap() error { return e.Err }

// ProviderCode implements apierr.ProviderCoder
func (e *ProviderError) ProviderCode() string { return e.Code }

var _ apierr.ProviderCoder = (*ProviderError)(nil)

// ErrUniqueViolation reports a duplicate value in a unique field
func ErrUniqueViolation(field string) error {
	return &ProviderError{Code: apierr.ProviderUniqueViolation, Message: "unique constraint failed on " + field}
}

// ErrRecordNotFound reports a missing row on update or delete
func ErrRecordNotFound(id string) error {
	return &ProviderError{Code: apierr.ProviderRecordNotFound, Message: "record " + id + " not found"}
}

// ErrForeignKey reports a reference to a missing related record
func ErrForeignKey(field string) error {
	return &ProviderError{Code: apierr.ProviderForeignKeyViolation, Message: "foreign key constraint failed on " + field}
}

// IsNotFound reports whether err is a missing-record provider error
func IsNotFound(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.Code == apierr.ProviderRecordNotFound
}

// stripManaged returns a copy of data without provider-managed fields
func stripManaged(data Record) Record {
	out := make(Record, len(data))
	for k, v := range data {
		switch k {
		case FieldID, FieldCreatedAt, FieldUpdatedAt:
			continue
		}
		out[k] = copyValue(v)
	}
	return out
}
