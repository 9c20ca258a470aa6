// Package manifest loads resource manifests: the declarative list of
// entities the server generates CRUD endpoints for.
package manifest

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pelletier/go-toml/v2"

	"apiforge/internal/crud"
	"apiforge/internal/validation"
	"apiforge/internal/version"
)

// File is a whole manifest document
type File struct {
	Resources []Resource `json:"resources" toml:"resources"`
}

// Resource declares one entity
type Resource struct {
	Name               string              `json:"name" toml:"name"`
	Description        string              `json:"description,omitempty" toml:"description"`
	Version            string              `json:"version,omitempty" toml:"version"`
	Operations         []string            `json:"operations,omitempty" toml:"operations"`
	AuthRequired       bool                `json:"authRequired" toml:"auth_required"`
	ValidationRequired bool                `json:"validationRequired" toml:"validation_required"`
	Strict             bool                `json:"strict,omitempty" toml:"strict"`
	Roles              map[string][]string `json:"roles,omitempty" toml:"roles"`
	Tags               []string            `json:"tags,omitempty" toml:"tags"`
	IDFormat           string              `json:"idFormat,omitempty" toml:"id_format"`
	RateLimit          int                 `json:"rateLimit,omitempty" toml:"rate_limit"`
	Unique             []string            `json:"unique,omitempty" toml:"unique"`
	Relations          []Relation          `json:"relations,omitempty" toml:"relations"`
	Fields             map[string]Field    `json:"fields,omitempty" toml:"fields"`
}

// Relation references another resource by id
type Relation struct {
	Name       string `json:"name" toml:"name"`
	ForeignKey string `json:"foreignKey" toml:"foreign_key"`
	Target     string `json:"target" toml:"target"`
}

// Field declares the validation rule of one field path
type Field struct {
	Type        string   `json:"type" toml:"type"`
	Required    bool     `json:"required,omitempty" toml:"required"`
	Min         *float64 `json:"min,omitempty" toml:"min"`
	Max         *float64 `json:"max,omitempty" toml:"max"`
	Pattern     string   `json:"pattern,omitempty" toml:"pattern"`
	Enum        []string `json:"enum,omitempty" toml:"enum"`
	Predicate   string   `json:"predicate,omitempty" toml:"predicate"`
	Transform   string   `json:"transform,omitempty" toml:"transform"`
	StripHTML   bool     `json:"stripHtml,omitempty" toml:"strip_html"`
	NoSanitize  bool     `json:"noSanitize,omitempty" toml:"no_sanitize"`
	Description string   `json:"description,omitempty" toml:"description"`
}

var (
	ErrInvalidManifest = errors.New("invalid manifest")
	ErrEmptyManifest   = errors.New("manifest defines no resources")
	ErrUnknownFormat   = errors.New("unknown manifest format")
)

var nameRegex = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_\-]*$`)

// transforms available to manifests by name
var transforms = map[string]validation.Transform{
	"trim":      stringTransform(strings.TrimSpace),
	"lowercase": stringTransform(strings.ToLower),
	"uppercase": stringTransform(strings.ToUpper),
}

func stringTransform(fn func(string) string) validation.Transform {
	return func(v any) any {
		if s, ok := v.(string); ok {
			return fn(s)
		}
		return v
	}
}

//go:embed default.json
var defaultManifest []byte

// Default returns the built-in nutrition manifest
func Default() (*File, error) {
	return Parse(defaultManifest, "json")
}

// Load reads a manifest, picking the decoder from the file extension
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read manifest: %w", err)
	}

	format := strings.TrimPrefix(strings.ToLower(filepath.Ext(path)), ".")
	f, err := Parse(data, format)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return f, nil
}

// Parse decodes and validates a manifest in the "json" or "toml" format
func Parse(data []byte, format string) (*File, error) {
	var f File
	switch format {
	case "json":
		if err := json.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse manifest JSON: %w", err)
		}
	case "toml":
		if err := toml.Unmarshal(data, &f); err != nil {
			return nil, fmt.Errorf("failed to parse manifest TOML: %w", err)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	if err := f.Validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Validate checks every resource and the references between them
func (f *File) Validate() error {
	if len(f.Resources) == 0 {
		return ErrEmptyManifest
	}

	names := make(map[string]bool, len(f.Resources))
	for i, r := range f.Resources {
		if err := r.Validate(); err != nil {
			return fmt.Errorf("resources[%d]: %w", i, err)
		}
		if names[r.Name] {
			return fmt.Errorf("%w: duplicate resource %q", ErrInvalidManifest, r.Name)
		}
		names[r.Name] = true
	}

	for _, r := range f.Resources {
		for _, rel := range r.Relations {
			if !names[rel.Target] {
				return fmt.Errorf("%w: %s relation %s targets unknown resource %q",
					ErrInvalidManifest, r.Name, rel.Name, rel.Target)
			}
		}
	}
	return nil
}

// Names returns the resource names in declaration order
func (f *File) Names() []string {
	out := make([]string, len(f.Resources))
	for i, r := range f.Resources {
		out[i] = r.Name
	}
	return out
}

// Validate checks a single resource declaration
func (r Resource) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidManifest)
	}
	if !nameRegex.MatchString(r.Name) {
		return fmt.Errorf("%w: name must match pattern %s", ErrInvalidManifest, nameRegex.String())
	}

	for _, op := range r.Operations {
		if !crud.Operation(op).Valid() {
			return fmt.Errorf("%w: %s: unknown operation %q", ErrInvalidManifest, r.Name, op)
		}
	}
	for op := range r.Roles {
		if !crud.Operation(op).Valid() {
			return fmt.Errorf("%w: %s: roles for unknown operation %q", ErrInvalidManifest, r.Name, op)
		}
	}
	if r.Version != "" && !version.IsValid(r.Version) {
		return fmt.Errorf("%w: %s: bad version %q", ErrInvalidManifest, r.Name, r.Version)
	}
	switch crud.IDFormat(r.IDFormat) {
	case "", crud.IDUUID, crud.IDInt, crud.IDString:
	default:
		return fmt.Errorf("%w: %s: unknown id format %q", ErrInvalidManifest, r.Name, r.IDFormat)
	}
	if r.ValidationRequired && len(r.Fields) == 0 {
		return fmt.Errorf("%w: %s: validation required but no fields declared", ErrInvalidManifest, r.Name)
	}

	for path, f := range r.Fields {
		if !validation.Type(f.Type).Valid() {
			return fmt.Errorf("%w: %s.%s: unknown type %q", ErrInvalidManifest, r.Name, path, f.Type)
		}
		if f.Type == string(validation.TypeEnum) && len(f.Enum) == 0 {
			return fmt.Errorf("%w: %s.%s: enum without values", ErrInvalidManifest, r.Name, path)
		}
		if f.Pattern != "" {
			if _, err := regexp.Compile(f.Pattern); err != nil {
				return fmt.Errorf("%w: %s.%s: bad pattern: %v", ErrInvalidManifest, r.Name, path, err)
			}
		}
		if f.Transform != "" && transforms[f.Transform] == nil {
			return fmt.Errorf("%w: %s.%s: unknown transform %q", ErrInvalidManifest, r.Name, path, f.Transform)
		}
	}
	for _, u := range r.Unique {
		if _, ok := r.Fields[u]; !ok {
			return fmt.Errorf("%w: %s: unique field %q is not declared", ErrInvalidManifest, r.Name, u)
		}
	}
	return nil
}

// Schema builds the validation schema of r. Predicates are resolved by name
// from predicates.
func (r Resource) Schema(predicates map[string]validation.Predicate) (*validation.Schema, error) {
	if len(r.Fields) == 0 {
		return nil, nil
	}

	paths := make([]string, 0, len(r.Fields))
	for p := range r.Fields {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	rules := make(map[string]validation.Rule, len(r.Fields))
	for _, p := range paths {
		f := r.Fields[p]
		rule := validation.Rule{
			Type:        validation.Type(f.Type),
			Required:    f.Required,
			Min:         f.Min,
			Max:         f.Max,
			Enum:        f.Enum,
			NoSanitize:  f.NoSanitize,
			StripHTML:   f.StripHTML,
			Description: f.Description,
			Transform:   transforms[f.Transform],
		}
		if f.Pattern != "" {
			re, err := regexp.Compile(f.Pattern)
			if err != nil {
				return nil, fmt.Errorf("%s.%s: %w", r.Name, p, err)
			}
			rule.Pattern = re
		}
		if f.Predicate != "" {
			pred, ok := predicates[f.Predicate]
			if !ok {
				return nil, fmt.Errorf("%w: %s.%s: unknown predicate %q", ErrInvalidManifest, r.Name, p, f.Predicate)
			}
			rule.Predicate = pred
		}
		rules[p] = rule
	}

	var opts []validation.SchemaOption
	if r.Strict {
		opts = append(opts, validation.Strict())
	}
	return validation.NewSchema(rules, opts...), nil
}

// CRUD converts r into the generator's resource descriptor
func (r Resource) CRUD(predicates map[string]validation.Predicate) (crud.Resource, error) {
	schema, err := r.Schema(predicates)
	if err != nil {
		return crud.Resource{}, err
	}

	res := crud.Resource{
		Name:               r.Name,
		Description:        r.Description,
		AuthRequired:       r.AuthRequired,
		ValidationRequired: r.ValidationRequired,
		Version:            r.Version,
		Schema:             schema,
		Tags:               r.Tags,
		IDFormat:           crud.IDFormat(r.IDFormat),
		RateLimit:          r.RateLimit,
	}
	for _, op := range r.Operations {
		res.Operations = append(res.Operations, crud.Operation(op))
	}
	if len(r.Roles) > 0 {
		res.Roles = make(map[crud.Operation][]string, len(r.Roles))
		for op, roles := range r.Roles {
			res.Roles[crud.Operation(op)] = roles
		}
	}
	return res, nil
}
