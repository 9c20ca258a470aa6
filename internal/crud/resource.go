package crud

import (
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"github.com/google/uuid"

	"apiforge/internal/validation"
)

// Operation is one generated CRUD operation
type Operation string

const (
	OpList   Operation = "list"
	OpGet    Operation = "get"
	OpCreate Operation = "create"
	OpUpdate Operation = "update"
	OpPatch  Operation = "patch"
	OpDelete Operation = "delete"
)

// AllOperations is used when a resource names none
var AllOperations = []Operation{OpList, OpGet, OpCreate, OpUpdate, OpPatch, OpDelete}

// Method returns the HTTP method serving op
func (op Operation) Method() string {
	switch op {
	case OpList, OpGet:
		return http.MethodGet
	case OpCreate:
		return http.MethodPost
	case OpUpdate:
		return http.MethodPut
	case OpPatch:
		return http.MethodPatch
	case OpDelete:
		return http.MethodDelete
	}
	return ""
}

// Valid reports whether op is a known operation
func (op Operation) Valid() bool {
	return op.Method() != ""
}

// hasID reports whether op addresses a single record
func (op Operation) hasID() bool {
	return op != OpList && op != OpCreate
}

// writes reports whether op takes a request body
func (op Operation) writes() bool {
	return op == OpCreate || op == OpUpdate || op == OpPatch
}

// IDFormat governs which ids are well formed. A malformed id is a
// validation error, never a 404.
type IDFormat string

const (
	IDUUID   IDFormat = "uuid"
	IDInt    IDFormat = "int"
	IDString IDFormat = "string"
)

var slugRegex = regexp.MustCompile(`^[A-Za-z0-9_\-]{1,128}$`)

// Check reports whether id is well formed
func (f IDFormat) Check(id string) bool {
	switch f {
	case IDInt:
		n, err := strconv.ParseInt(id, 10, 64)
		return err == nil && n > 0
	case IDString:
		return slugRegex.MatchString(id)
	default:
		_, err := uuid.Parse(id)
		return err == nil
	}
}

// Resource describes the CRUD surface generated for one entity
type Resource struct {
	Name               string
	Description        string
	Operations         []Operation
	AuthRequired       bool
	ValidationRequired bool
	Version            string
	Schema             *validation.Schema
	Roles              map[Operation][]string
	Tags               []string
	IDFormat           IDFormat
	RateLimit          int
}

var resourceNameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_\-]*$`)

// operations returns the requested operations without duplicates
func (r Resource) operations() ([]Operation, error) {
	ops := r.Operations
	if len(ops) == 0 {
		ops = AllOperations
	}

	seen := make(map[Operation]bool, len(ops))
	out := make([]Operation, 0, len(ops))
	for _, op := range ops {
		if !op.Valid() {
			return nil, fmt.Errorf("resource %s: unknown operation %q", r.Name, op)
		}
		if seen[op] {
			continue
		}
		seen[op] = true
		out = append(out, op)
	}
	return out, nil
}

// CollectionPath is /api/{version}/{name}
func (r Resource) CollectionPath() string {
	return fmt.Sprintf("/api/%s/%s", r.Version, r.Name)
}

// ItemPath is /api/{version}/{name}/{id}
func (r Resource) ItemPath() string {
	return r.CollectionPath() + "/{id}"
}
