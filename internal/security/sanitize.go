package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// htmlEscaper encodes the characters that are unsafe to echo back into HTML
// documents or attribute values.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
	"/", "&#x2F;",
)

// EscapeHTML entity-encodes & < > " ' and / in s.
func EscapeHTML(s string) string {
	return htmlEscaper.Replace(s)
}

// Sanitizer strips markup from user supplied text
type Sanitizer struct {
	policy *bluemonday.Policy
}

// NewSanitizer creates a sanitizer that removes every HTML element
func NewSanitizer() *Sanitizer {
	return &Sanitizer{
		policy: bluemonday.StrictPolicy(),
	}
}

// StripTags removes all markup from s and returns plain, unescaped text.
// Callers that echo the result into HTML still need EscapeHTML.
func (s *Sanitizer) StripTags(text string) string {
	return html.UnescapeString(s.policy.Sanitize(text))
}
