package validation

import (
	"errors"
	"regexp"
)

// Type names the built-in check applied to a field
type Type string

const (
	TypeString  Type = "string"
	TypeNumber  Type = "number"
	TypeInteger Type = "integer"
	TypeBoolean Type = "boolean"
	TypeDate    Type = "date"
	TypeEmail   Type = "email"
	TypeURL     Type = "url"
	TypeUUID    Type = "uuid"
	TypeEnum    Type = "enum"
	TypeArray   Type = "array"
	TypeObject  Type = "object"
)

var knownTypes = map[Type]bool{
	TypeString: true, TypeNumber: true, TypeInteger: true, TypeBoolean: true,
	TypeDate: true, TypeEmail: true, TypeURL: true, TypeUUID: true,
	TypeEnum: true, TypeArray: true, TypeObject: true,
}

// Valid reports whether t is one of the built-in rule types
func (t Type) Valid() bool {
	return knownTypes[t]
}

// ErrInvalid is returned by a Predicate to reject a value with the default
// "<field> is invalid" message. Any other error replaces the message.
var ErrInvalid = errors.New("invalid")

// Predicate is a custom check run after the type check succeeds.
// data is the whole input document, so cross-field checks are possible.
type Predicate func(value any, data map[string]any) error

// Transform rewrites a valid value before it is sanitized
type Transform func(value any) any

// Rule describes how a single field is checked and cleaned.
//
// Min and Max bound string length, numeric value or array length depending
// on Type. Enum lists the accepted values for TypeEnum.
type Rule struct {
	Type        Type
	Required    bool
	Min         *float64
	Max         *float64
	Pattern     *regexp.Regexp
	Enum        []string
	Predicate   Predicate
	Transform   Transform
	NoSanitize  bool
	StripHTML   bool
	Description string
}

// Bound is a helper for the optional Min/Max fields
func Bound(v float64) *float64 {
	return &v
}

// FieldError is a single failed check
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}
