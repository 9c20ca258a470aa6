package validation

import (
	"sort"
	"strings"
)

// Field pairs a dot-addressable path with its rule
type Field struct {
	Path string
	Rule Rule
}

// Schema maps field paths to rules. Schemas are immutable once built.
type Schema struct {
	fields  []Field
	strict  bool
	partial bool
}

// SchemaOption configures a Schema
type SchemaOption func(*Schema)

// Strict rejects top-level fields the schema does not declare
func Strict() SchemaOption {
	return func(s *Schema) {
		s.strict = true
	}
}

// NewSchema builds a schema from a path -> rule mapping. Fields are kept in
// path order so error output is deterministic.
func NewSchema(rules map[string]Rule, opts ...SchemaOption) *Schema {
	s := &Schema{fields: make([]Field, 0, len(rules))}
	for path, rule := range rules {
		s.fields = append(s.fields, Field{Path: path, Rule: rule})
	}
	sort.Slice(s.fields, func(i, j int) bool {
		return s.fields[i].Path < s.fields[j].Path
	})
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Fields returns a copy of the schema's fields in path order
func (s *Schema) Fields() []Field {
	if s == nil {
		return nil
	}
	out := make([]Field, len(s.fields))
	copy(out, s.fields)
	return out
}

// Partial returns a copy whose required checks only apply to fields that
// are present. Supplied fields are still fully checked.
func (s *Schema) Partial() *Schema {
	if s == nil {
		return nil
	}
	cp := *s
	cp.fields = s.Fields()
	cp.partial = true
	return &cp
}

// IsStrict reports whether unknown top-level fields are rejected
func (s *Schema) IsStrict() bool {
	return s != nil && s.strict
}

// Required lists the top-level paths marked required
func (s *Schema) Required() []string {
	if s == nil {
		return nil
	}
	var out []string
	for _, f := range s.fields {
		if f.Rule.Required && !strings.Contains(f.Path, ".") {
			out = append(out, f.Path)
		}
	}
	return out
}

// topLevel returns the set of first path segments
func (s *Schema) topLevel() map[string]bool {
	out := make(map[string]bool, len(s.fields))
	for _, f := range s.fields {
		head, _, _ := strings.Cut(f.Path, ".")
		out[head] = true
	}
	return out
}

// lookup resolves a dot path inside nested maps
func lookup(data map[string]any, path string) (any, bool) {
	var cur any = data
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(map[string]any)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// assign sets a dot path inside nested maps that already exist
func assign(data map[string]any, path string, value any) {
	parts := strings.Split(path, ".")
	cur := data
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			return
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

func deepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = deepCopy(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = deepCopy(item)
		}
		return out
	default:
		return v
	}
}
