package docs

import (
	"fmt"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/swaggest/openapi-go/openapi3"

	"apiforge/internal/registry"
	"apiforge/internal/validation"
)

const (
	bearerScheme = "bearerAuth"
	apiKeyScheme = "apiKeyAuth"
)

var pathParamRegex = regexp.MustCompile(`\{([^}/]+)\}`)

// OpenAPI builds an OpenAPI 3.0 document from src. Endpoints registered for
// several versions under the same path share one path item; the first
// registration wins.
func OpenAPI(src Source, info Info) (*openapi3.Spec, error) {
	info = info.withDefaults()

	spec := &openapi3.Spec{
		Openapi: "3.0.3",
		Info: openapi3.Info{
			Title:   info.Title,
			Version: info.Version,
		},
		Servers: []openapi3.Server{{URL: info.ServerURL}},
	}
	if info.Description != "" {
		spec.Info.WithDescription(info.Description)
	}

	seen := map[string]bool{}
	secured := false
	for _, d := range src.All() {
		k := d.Key()
		id := k.Method + " " + k.Path
		if seen[id] {
			continue
		}
		seen[id] = true

		op := operation(d, info)
		if d.AuthRequired {
			secured = true
			op.WithSecurity(
				map[string][]string{bearerScheme: {}},
				map[string][]string{apiKeyScheme: {}},
			)
		}
		if err := spec.AddOperation(k.Method, k.Path, op); err != nil {
			return nil, fmt.Errorf("failed to add %s to openapi document: %w", id, err)
		}
	}

	if secured {
		schemes := spec.ComponentsEns().SecuritySchemesEns()
		schemes.WithMapOfSecuritySchemeOrRefValuesItem(bearerScheme, openapi3.SecuritySchemeOrRef{
			SecurityScheme: &openapi3.SecurityScheme{
				HTTPSecurityScheme: (&openapi3.HTTPSecurityScheme{Scheme: "bearer"}).WithBearerFormat("JWT"),
			},
		})
		schemes.WithMapOfSecuritySchemeOrRefValuesItem(apiKeyScheme, openapi3.SecuritySchemeOrRef{
			SecurityScheme: &openapi3.SecurityScheme{
				APIKeySecurityScheme: &openapi3.APIKeySecurityScheme{
					Name: "X-API-Key",
					In:   openapi3.APIKeySecuritySchemeInHeader,
				},
			},
		})
	}
	return spec, nil
}

func operation(d registry.Descriptor, info Info) openapi3.Operation {
	var op openapi3.Operation
	if len(d.Tags) > 0 {
		op.WithTags(d.Tags...)
	}
	if d.Summary != "" {
		op.WithSummary(d.Summary)
	}
	if d.Description != "" {
		op.WithDescription(d.Description)
	}
	if d.Resource != "" && d.Operation != "" {
		op.WithID(d.Resource + "_" + d.Operation + "_" + d.Version)
	}
	if d.Version != "" && info.Deprecated(d.Version) {
		op.WithDeprecated(true)
	}

	for _, m := range pathParamRegex.FindAllStringSubmatch(d.Path, -1) {
		op.Parameters = append(op.Parameters, openapi3.ParameterOrRef{
			Parameter: (&openapi3.Parameter{Name: m[1], In: openapi3.ParameterInPath}).
				WithRequired(true).
				WithSchema(openapi3.SchemaOrRef{Schema: (&openapi3.Schema{}).WithType(openapi3.SchemaTypeString)}),
		})
	}
	if d.Operation == "list" {
		op.Parameters = append(op.Parameters, listParameters()...)
	}

	if d.Schema != nil {
		required := d.Method != http.MethodPatch
		schema := objectSchema(d.Schema, required)
		op.WithRequestBody(openapi3.RequestBodyOrRef{
			RequestBody: (&openapi3.RequestBody{
				Content: map[string]openapi3.MediaType{
					"application/json": {Schema: &openapi3.SchemaOrRef{Schema: schema}},
				},
			}).WithRequired(true),
		})
	}

	op.Responses = openapi3.Responses{MapOfResponseOrRefValues: responses(d)}
	return op
}

func listParameters() []openapi3.ParameterOrRef {
	param := func(name, description string, t openapi3.SchemaType) openapi3.ParameterOrRef {
		return openapi3.ParameterOrRef{
			Parameter: (&openapi3.Parameter{Name: name, In: openapi3.ParameterInQuery}).
				WithDescription(description).
				WithSchema(openapi3.SchemaOrRef{Schema: (&openapi3.Schema{}).WithType(t)}),
		}
	}
	return []openapi3.ParameterOrRef{
		param("limit", "Maximum number of records", openapi3.SchemaTypeInteger),
		param("offset", "Number of records to skip", openapi3.SchemaTypeInteger),
		param("sort", "field, -field or field:asc|desc", openapi3.SchemaTypeString),
		param("filter", "JSON object of field equality predicates", openapi3.SchemaTypeString),
		param("include", "Comma separated relations to include", openapi3.SchemaTypeString),
	}
}

func responses(d registry.Descriptor) map[string]openapi3.ResponseOrRef {
	out := map[string]openapi3.ResponseOrRef{}
	add := func(status int) {
		out[strconv.Itoa(status)] = openapi3.ResponseOrRef{
			Response: &openapi3.Response{Description: http.StatusText(status)},
		}
	}

	switch d.Method {
	case http.MethodPost:
		add(http.StatusCreated)
	default:
		add(http.StatusOK)
	}
	if strings.Contains(d.Path, "{") {
		add(http.StatusBadRequest)
		add(http.StatusNotFound)
	}
	if d.Schema != nil {
		add(http.StatusUnprocessableEntity)
	}
	if d.AuthRequired {
		add(http.StatusUnauthorized)
		if len(d.Roles) > 0 {
			add(http.StatusForbidden)
		}
	}
	add(http.StatusTooManyRequests)
	return out
}

// objectSchema converts a validation schema into a JSON schema object.
// Dot paths become nested objects.
func objectSchema(s *validation.Schema, withRequired bool) *openapi3.Schema {
	root := (&openapi3.Schema{}).WithType(openapi3.SchemaTypeObject)
	nested := map[string]*openapi3.Schema{"": root}
	required := map[string][]string{}

	for _, f := range s.Fields() {
		parent, name := "", f.Path
		if i := strings.LastIndex(f.Path, "."); i >= 0 {
			parent, name = f.Path[:i], f.Path[i+1:]
		}
		obj := ensureObject(nested, parent)

		field := ruleSchema(f.Rule)
		if existing, ok := nested[f.Path]; ok {
			field = existing
		} else if f.Rule.Type == validation.TypeObject {
			nested[f.Path] = field
		}
		obj.WithPropertiesItem(name, openapi3.SchemaOrRef{Schema: field})

		if withRequired && f.Rule.Required {
			required[parent] = append(required[parent], name)
		}
	}

	for p, names := range required {
		sort.Strings(names)
		nested[p].WithRequired(names...)
	}
	if s.IsStrict() {
		root.WithAdditionalProperties(openapi3.SchemaAdditionalProperties{Bool: ptrBool(false)})
	}
	return root
}

func ensureObject(nested map[string]*openapi3.Schema, path string) *openapi3.Schema {
	if obj, ok := nested[path]; ok {
		return obj
	}
	parent, name := "", path
	if i := strings.LastIndex(path, "."); i >= 0 {
		parent, name = path[:i], path[i+1:]
	}
	obj := (&openapi3.Schema{}).WithType(openapi3.SchemaTypeObject)
	nested[path] = obj
	ensureObject(nested, parent).WithPropertiesItem(name, openapi3.SchemaOrRef{Schema: obj})
	return obj
}

func ruleSchema(r validation.Rule) *openapi3.Schema {
	s := &openapi3.Schema{}
	if r.Description != "" {
		s.WithDescription(r.Description)
	}

	switch r.Type {
	case validation.TypeString:
		s.WithType(openapi3.SchemaTypeString)
		if r.Min != nil {
			s.WithMinLength(int64(*r.Min))
		}
		if r.Max != nil {
			s.WithMaxLength(int64(*r.Max))
		}
		if r.Pattern != nil {
			s.WithPattern(r.Pattern.String())
		}
	case validation.TypeNumber, validation.TypeInteger:
		if r.Type == validation.TypeInteger {
			s.WithType(openapi3.SchemaTypeInteger)
		} else {
			s.WithType(openapi3.SchemaTypeNumber)
		}
		if r.Min != nil {
			s.WithMinimum(*r.Min)
		}
		if r.Max != nil {
			s.WithMaximum(*r.Max)
		}
	case validation.TypeBoolean:
		s.WithType(openapi3.SchemaTypeBoolean)
	case validation.TypeDate:
		s.WithType(openapi3.SchemaTypeString).WithFormat("date-time")
	case validation.TypeEmail:
		s.WithType(openapi3.SchemaTypeString).WithFormat("email")
	case validation.TypeURL:
		s.WithType(openapi3.SchemaTypeString).WithFormat("uri")
	case validation.TypeUUID:
		s.WithType(openapi3.SchemaTypeString).WithFormat("uuid")
	case validation.TypeEnum:
		s.WithType(openapi3.SchemaTypeString)
		values := make([]interface{}, len(r.Enum))
		for i, v := range r.Enum {
			values[i] = v
		}
		s.WithEnum(values...)
	case validation.TypeArray:
		s.WithType(openapi3.SchemaTypeArray).WithItems(openapi3.SchemaOrRef{Schema: &openapi3.Schema{}})
		if r.Min != nil {
			s.WithMinItems(int64(*r.Min))
		}
		if r.Max != nil {
			s.WithMaxItems(int64(*r.Max))
		}
	case validation.TypeObject:
		s.WithType(openapi3.SchemaTypeObject)
	}
	return s
}

func ptrBool(b bool) *bool { return &b }
