package docs

import (
	"encoding/json"
	"strings"

	"apiforge/internal/registry"
	"apiforge/internal/validation"
)

const postmanSchema = "https://schema.getpostman.com/json/collection/v2.1.0/collection.json"

// Collection is a Postman v2.1 collection
type Collection struct {
	Info     CollectionInfo `json:"info"`
	Item     []Folder       `json:"item"`
	Variable []Variable     `json:"variable"`
}

type CollectionInfo struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Schema      string `json:"schema"`
}

type Folder struct {
	Name string `json:"name"`
	Item []Item `json:"item"`
}

type Item struct {
	Name    string  `json:"name"`
	Request Request `json:"request"`
}

type Request struct {
	Method      string   `json:"method"`
	Header      []Header `json:"header"`
	URL         URL      `json:"url"`
	Body        *Body    `json:"body,omitempty"`
	Description string   `json:"description,omitempty"`
}

type Header struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type URL struct {
	Raw      string     `json:"raw"`
	Host     []string   `json:"host"`
	Path     []string   `json:"path"`
	Variable []Variable `json:"variable,omitempty"`
}

type Body struct {
	Mode    string      `json:"mode"`
	Raw     string      `json:"raw"`
	Options BodyOptions `json:"options"`
}

type BodyOptions struct {
	Raw struct {
		Language string `json:"language"`
	} `json:"raw"`
}

type Variable struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Postman builds a collection with one folder per tag, in registration order
func Postman(src Source, info Info) Collection {
	info = info.withDefaults()
	c := Collection{
		Info:     CollectionInfo{Name: info.Title, Description: info.Description, Schema: postmanSchema},
		Item:     []Folder{},
		Variable: []Variable{{Key: "baseUrl", Value: info.ServerURL}},
	}

	index := map[string]int{}
	for _, d := range src.All() {
		tag := "default"
		if len(d.Tags) > 0 {
			tag = d.Tags[0]
		}
		i, ok := index[tag]
		if !ok {
			i = len(c.Item)
			index[tag] = i
			c.Item = append(c.Item, Folder{Name: tag})
		}
		c.Item[i].Item = append(c.Item[i].Item, postmanItem(d))
	}
	return c
}

func postmanItem(d registry.Descriptor) Item {
	k := d.Key()
	name := d.Summary
	if name == "" {
		name = k.Method + " " + k.Path
	}

	req := Request{
		Method:      k.Method,
		Header:      []Header{{Key: "Content-Type", Value: "application/json"}},
		Description: d.Description,
	}
	if d.AuthRequired {
		req.Header = append(req.Header, Header{Key: "Authorization", Value: "Bearer {{token}}"})
	}
	if k.Version != "" {
		req.Header = append(req.Header, Header{Key: "X-API-Version", Value: k.Version})
	}

	display := colonParams(k.Path)
	req.URL = URL{
		Raw:  "{{baseUrl}}" + display,
		Host: []string{"{{baseUrl}}"},
		Path: strings.Split(strings.TrimPrefix(display, "/"), "/"),
	}
	for _, m := range pathParamRegex.FindAllStringSubmatch(k.Path, -1) {
		req.URL.Variable = append(req.URL.Variable, Variable{Key: m[1]})
	}

	if d.Schema != nil {
		raw, _ := json.MarshalIndent(example(d.Schema), "", "  ")
		body := &Body{Mode: "raw", Raw: string(raw)}
		body.Options.Raw.Language = "json"
		req.Body = body
	}
	return Item{Name: name, Request: req}
}

// colonParams renders /a/{id} as /a/:id
func colonParams(path string) string {
	return pathParamRegex.ReplaceAllString(path, ":$1")
}

// example builds a sample body from a schema
func example(s *validation.Schema) map[string]any {
	out := map[string]any{}
	for _, f := range s.Fields() {
		parts := strings.Split(f.Path, ".")
		m := out
		for _, p := range parts[:len(parts)-1] {
			next, ok := m[p].(map[string]any)
			if !ok {
				next = map[string]any{}
				m[p] = next
			}
			m = next
		}
		last := parts[len(parts)-1]
		if _, ok := m[last].(map[string]any); ok {
			continue
		}
		m[last] = sampleValue(f.Rule)
	}
	return out
}

func sampleValue(r validation.Rule) any {
	switch r.Type {
	case validation.TypeNumber, validation.TypeInteger:
		if r.Min != nil {
			return *r.Min
		}
		return 0
	case validation.TypeBoolean:
		return false
	case validation.TypeDate:
		return "2024-01-01T00:00:00Z"
	case validation.TypeEmail:
		return "user@example.com"
	case validation.TypeURL:
		return "https://example.com"
	case validation.TypeUUID:
		return "00000000-0000-0000-0000-000000000000"
	case validation.TypeEnum:
		if len(r.Enum) > 0 {
			return r.Enum[0]
		}
		return ""
	case validation.TypeArray:
		return []any{}
	case validation.TypeObject:
		return map[string]any{}
	}
	return "string"
}
