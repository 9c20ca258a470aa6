package docs

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Format names a documentation output
type Format string

const (
	FormatOpenAPI     Format = "openapi"
	FormatOpenAPIYAML Format = "openapi-yaml"
	FormatPostman     Format = "postman"
	FormatMarkdown    Format = "markdown"
)

// Formats lists every supported format
var Formats = []Format{FormatOpenAPI, FormatOpenAPIYAML, FormatPostman, FormatMarkdown}

// ContentType returns the media type served for f
func (f Format) ContentType() string {
	switch f {
	case FormatOpenAPIYAML:
		return "application/yaml"
	case FormatMarkdown:
		return "text/markdown; charset=utf-8"
	}
	return "application/json"
}

// ParseFormat accepts a format name, case insensitively
func ParseFormat(s string) (Format, error) {
	for _, f := range Formats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("unknown docs format %q", s)
}

// Info is the document title block
type Info struct {
	Title       string
	Version     string
	Description string
	ServerURL   string
	// Deprecated reports whether an API version is deprecated
	Deprecated func(version string) bool
}

// DefaultInfo is used when an Info field is empty
var DefaultInfo = Info{
	Title:     "apiforge API",
	Version:   "1.0.0",
	ServerURL: "http://localhost:8080",
}

func (i Info) withDefaults() Info {
	if i.Title == "" {
		i.Title = DefaultInfo.Title
	}
	if i.Version == "" {
		i.Version = DefaultInfo.Version
	}
	if i.ServerURL == "" {
		i.ServerURL = DefaultInfo.ServerURL
	}
	if i.Deprecated == nil {
		i.Deprecated = func(string) bool { return false }
	}
	return i
}

// Generate renders the current state of src in the given format. It has
// no side effects.
func Generate(src Source, format Format, info Info) ([]byte, error) {
	info = info.withDefaults()

	switch format {
	case FormatOpenAPI:
		spec, err := OpenAPI(src, info)
		if err != nil {
			return nil, err
		}
		return json.MarshalIndent(spec, "", "  ")
	case FormatOpenAPIYAML:
		spec, err := OpenAPI(src, info)
		if err != nil {
			return nil, err
		}
		raw, err := json.Marshal(spec)
		if err != nil {
			return nil, err
		}
		return jsonToYAML(raw)
	case FormatPostman:
		return json.MarshalIndent(Postman(src, info), "", "  ")
	case FormatMarkdown:
		return []byte(Markdown(src, info)), nil
	}
	return nil, fmt.Errorf("unknown docs format %q", format)
}

// WriteFile renders src and writes it to path, creating parent directories
func WriteFile(src Source, format Format, info Info, path string) error {
	out, err := Generate(src, format, info)
	if err != nil {
		return err
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create docs directory: %w", err)
		}
	}
	return os.WriteFile(path, out, 0644)
}

// jsonToYAML re-encodes a JSON document as block style YAML. JSON is valid
// YAML, so decoding into a node keeps key order.
func jsonToYAML(raw []byte) ([]byte, error) {
	var node yaml.Node
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, fmt.Errorf("failed to convert openapi document: %w", err)
	}
	blockStyle(&node)

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&node); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func blockStyle(n *yaml.Node) {
	if n.Kind == yaml.MappingNode || n.Kind == yaml.SequenceNode {
		n.Style = 0
	}
	if n.Kind == yaml.ScalarNode && n.Style == yaml.DoubleQuotedStyle && n.Tag == "!!str" {
		n.Style = 0
	}
	for _, c := range n.Content {
		blockStyle(c)
	}
}
