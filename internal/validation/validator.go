package validation

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net/mail"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"apiforge/internal/security"
)

// emailRegex is deliberately loose: local@domain.tld
var emailRegex = regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// dateLayouts are tried in order when checking TypeDate
var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

// Outcome is the result of validating one document
type Outcome struct {
	Errors    []FieldError
	Sanitized map[string]any
}

// Valid reports whether every field passed
func (o Outcome) Valid() bool {
	return len(o.Errors) == 0
}

// Validator runs schemas against decoded request bodies
type Validator struct {
	sanitizer *security.Sanitizer
	sanitize  bool
}

// Option configures a Validator
type Option func(*Validator)

// WithoutSanitize disables HTML-entity encoding of string values
func WithoutSanitize() Option {
	return func(v *Validator) {
		v.sanitize = false
	}
}

// New creates a validator with sanitization enabled
func New(opts ...Option) *Validator {
	v := &Validator{
		sanitizer: security.NewSanitizer(),
		sanitize:  true,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v
}

// Validate checks every field of data against schema. All field errors are
// collected; the input map is never modified.
func (v *Validator) Validate(schema *Schema, data map[string]any) Outcome {
	sanitized, _ := deepCopy(data).(map[string]any)
	if sanitized == nil {
		sanitized = map[string]any{}
	}
	if schema == nil {
		return Outcome{Sanitized: sanitized}
	}

	var errs []FieldError
	for _, f := range schema.fields {
		value, present := lookup(data, f.Path)
		if schema.partial && !present {
			continue
		}

		if isEmpty(value, present) {
			if f.Rule.Required {
				errs = append(errs, FieldError{Field: f.Path, Message: f.Path + " is required"})
			}
			continue
		}

		cleaned, msg := checkType(f.Path, f.Rule, value)
		if msg != "" {
			errs = append(errs, FieldError{Field: f.Path, Message: msg})
			continue
		}

		if f.Rule.Predicate != nil {
			if err := f.Rule.Predicate(cleaned, data); err != nil {
				errs = append(errs, FieldError{Field: f.Path, Message: predicateMessage(f.Path, err)})
				continue
			}
		}

		assign(sanitized, f.Path, v.clean(f.Rule, cleaned))
	}

	if schema.strict {
		known := schema.topLevel()
		var unknown []string
		for key := range data {
			if !known[key] {
				unknown = append(unknown, key)
			}
		}
		sort.Strings(unknown)
		for _, key := range unknown {
			errs = append(errs, FieldError{Field: key, Message: key + " is not allowed"})
		}
	}

	return Outcome{Errors: errs, Sanitized: sanitized}
}

func (v *Validator) clean(rule Rule, value any) any {
	if rule.Transform != nil {
		value = rule.Transform(value)
	}
	s, ok := value.(string)
	if !ok || rule.Type != TypeString {
		return value
	}
	if rule.StripHTML {
		s = v.sanitizer.StripTags(s)
	}
	if v.sanitize && !rule.NoSanitize {
		s = security.EscapeHTML(s)
	}
	return s
}

func predicateMessage(path string, err error) string {
	if errors.Is(err, ErrInvalid) {
		return path + " is invalid"
	}
	return err.Error()
}

func isEmpty(value any, present bool) bool {
	if !present || value == nil {
		return true
	}
	if s, ok := value.(string); ok {
		return strings.TrimSpace(s) == ""
	}
	return false
}

// checkType runs the type-specific check and returns the coerced value,
// or a non-empty message on failure.
func checkType(path string, rule Rule, value any) (any, string) {
	switch rule.Type {
	case TypeString, "":
		s, ok := value.(string)
		if !ok {
			return nil, path + " must be a string"
		}
		n := float64(utf8.RuneCountInString(s))
		if rule.Min != nil && n < *rule.Min {
			return nil, fmt.Sprintf("%s must be at least %s characters long", path, formatNumber(*rule.Min))
		}
		if rule.Max != nil && n > *rule.Max {
			return nil, fmt.Sprintf("%s must be at most %s characters long", path, formatNumber(*rule.Max))
		}
		if rule.Pattern != nil && !rule.Pattern.MatchString(s) {
			return nil, path + " has an invalid format"
		}
		return s, ""

	case TypeNumber, TypeInteger:
		f, ok := toNumber(value)
		if !ok {
			return nil, path + " must be a number"
		}
		if rule.Type == TypeInteger && f != float64(int64(f)) {
			return nil, path + " must be an integer"
		}
		if rule.Min != nil && f < *rule.Min {
			return nil, fmt.Sprintf("%s must be at least %s", path, formatNumber(*rule.Min))
		}
		if rule.Max != nil && f > *rule.Max {
			return nil, fmt.Sprintf("%s must be at most %s", path, formatNumber(*rule.Max))
		}
		return f, ""

	case TypeBoolean:
		b, ok := toBool(value)
		if !ok {
			return nil, path + " must be a boolean"
		}
		return b, ""

	case TypeDate:
		s, ok := value.(string)
		if !ok {
			return nil, path + " must be a valid date"
		}
		if _, ok := ParseDate(s); !ok {
			return nil, path + " must be a valid date"
		}
		return s, ""

	case TypeEmail:
		s, ok := value.(string)
		if !ok || !emailRegex.MatchString(s) {
			return nil, path + " must be a valid email address"
		}
		if _, err := mail.ParseAddress(s); err != nil {
			return nil, path + " must be a valid email address"
		}
		return s, ""

	case TypeURL:
		s, ok := value.(string)
		if !ok {
			return nil, path + " must be a valid URL"
		}
		u, err := url.Parse(s)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, path + " must be a valid URL"
		}
		return s, ""

	case TypeUUID:
		s, ok := value.(string)
		if !ok {
			return nil, path + " must be a valid UUID"
		}
		if _, err := uuid.Parse(s); err != nil {
			return nil, path + " must be a valid UUID"
		}
		return s, ""

	case TypeEnum:
		got := fmt.Sprint(value)
		for _, allowed := range rule.Enum {
			if got == allowed {
				return value, ""
			}
		}
		return nil, fmt.Sprintf("%s must be one of: %s", path, strings.Join(rule.Enum, ", "))

	case TypeArray:
		arr, ok := value.([]any)
		if !ok {
			return nil, path + " must be an array"
		}
		n := float64(len(arr))
		if rule.Min != nil && n < *rule.Min {
			return nil, fmt.Sprintf("%s must contain at least %s items", path, formatNumber(*rule.Min))
		}
		if rule.Max != nil && n > *rule.Max {
			return nil, fmt.Sprintf("%s must contain at most %s items", path, formatNumber(*rule.Max))
		}
		return arr, ""

	case TypeObject:
		m, ok := value.(map[string]any)
		if !ok {
			return nil, path + " must be an object"
		}
		return m, ""
	}

	return nil, fmt.Sprintf("%s has unsupported type %q", path, rule.Type)
}

// ParseDate accepts RFC 3339 timestamps and plain calendar dates
func ParseDate(s string) (time.Time, bool) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// toNumber accepts finite numbers only. NaN and Inf pass Min/Max checks and
// cannot be encoded as JSON.
func toNumber(value any) (float64, bool) {
	f, ok := rawNumber(value)
	if !ok || math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, false
	}
	return f, true
}

func rawNumber(value any) (float64, bool) {
	switch n := value.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case int32:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	}
	return 0, false
}

func toBool(value any) (bool, bool) {
	switch b := value.(type) {
	case bool:
		return b, true
	case string:
		switch b {
		case "true", "1":
			return true, true
		case "false", "0":
			return false, true
		}
	case float64:
		if b == 1 || b == 0 {
			return b == 1, true
		}
	case int:
		if b == 1 || b == 0 {
			return b == 1, true
		}
	}
	return false, false
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
