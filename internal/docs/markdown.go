package docs

import (
	"fmt"
	"strings"

	"apiforge/internal/registry"
	"apiforge/internal/validation"
)

// Markdown renders src as a human readable reference, grouped by tag
func Markdown(src Source, info Info) string {
	info = info.withDefaults()
	var b strings.Builder

	fmt.Fprintf(&b, "# %s\n\n", info.Title)
	fmt.Fprintf(&b, "Version: %s\n\n", info.Version)
	if info.Description != "" {
		fmt.Fprintf(&b, "%s\n\n", info.Description)
	}
	fmt.Fprintf(&b, "Base URL: `%s`\n", info.ServerURL)

	var tags []string
	groups := map[string][]registry.Descriptor{}
	for _, d := range src.All() {
		tag := "default"
		if len(d.Tags) > 0 {
			tag = d.Tags[0]
		}
		if _, ok := groups[tag]; !ok {
			tags = append(tags, tag)
		}
		groups[tag] = append(groups[tag], d)
	}

	for _, tag := range tags {
		fmt.Fprintf(&b, "\n## %s\n", tag)
		for _, d := range groups[tag] {
			writeEndpoint(&b, d, info)
		}
	}
	return b.String()
}

func writeEndpoint(b *strings.Builder, d registry.Descriptor, info Info) {
	k := d.Key()
	fmt.Fprintf(b, "\n### `%s %s`\n\n", k.Method, colonParams(k.Path))
	if d.Summary != "" {
		fmt.Fprintf(b, "%s\n\n", d.Summary)
	}
	if d.Description != "" {
		fmt.Fprintf(b, "%s\n\n", d.Description)
	}

	if k.Version != "" {
		line := k.Version
		if info.Deprecated(k.Version) {
			line += " (deprecated)"
		}
		fmt.Fprintf(b, "- Version: %s\n", line)
	}
	switch {
	case d.AuthRequired && len(d.Roles) > 0:
		fmt.Fprintf(b, "- Authentication: required (roles: %s)\n", strings.Join(d.Roles, ", "))
	case d.AuthRequired:
		b.WriteString("- Authentication: required\n")
	default:
		b.WriteString("- Authentication: none\n")
	}
	if len(d.Middleware) > 0 {
		fmt.Fprintf(b, "- Pipeline: %s\n", strings.Join(d.Middleware, " → "))
	}

	if d.Schema == nil {
		return
	}
	b.WriteString("\n| Field | Type | Required | Constraints |\n|---|---|---|---|\n")
	for _, f := range d.Schema.Fields() {
		required := "no"
		if f.Rule.Required {
			required = "yes"
		}
		fmt.Fprintf(b, "| `%s` | %s | %s | %s |\n", f.Path, f.Rule.Type, required, constraints(f.Rule))
	}
}

func constraints(r validation.Rule) string {
	var out []string
	if r.Min != nil {
		out = append(out, fmt.Sprintf("min %g", *r.Min))
	}
	if r.Max != nil {
		out = append(out, fmt.Sprintf("max %g", *r.Max))
	}
	if r.Pattern != nil {
		out = append(out, "pattern `"+r.Pattern.String()+"`")
	}
	if len(r.Enum) > 0 {
		out = append(out, "one of "+strings.Join(r.Enum, ", "))
	}
	if r.Predicate != nil {
		out = append(out, "custom check")
	}
	if len(out) == 0 {
		return "-"
	}
	return strings.Join(out, "; ")
}
