package security

import (
	"net/http"
	"net/url"
	"strings"
)

// Redacted replaces the value of every sensitive field before it is logged
const Redacted = "***REDACTED***"

// sensitiveMarkers are matched against normalized field names (lower case,
// separators removed) so apiKey, api_key and X-API-Key all match.
var sensitiveMarkers = []string{
	"password",
	"passwd",
	"token",
	"secret",
	"apikey",
	"authorization",
	"cookie",
}

// IsSensitive reports whether a field or header name is likely to carry a credential
func IsSensitive(name string) bool {
	normalized := strings.NewReplacer("-", "", "_", "", ".", "").Replace(strings.ToLower(name))
	for _, marker := range sensitiveMarkers {
		if strings.Contains(normalized, marker) {
			return true
		}
	}
	return false
}

// RedactMap returns a deep copy of m with sensitive values replaced.
// The input is never modified.
func RedactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if IsSensitive(k) {
			out[k] = Redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return RedactMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	default:
		return v
	}
}

// RedactHeaders flattens headers for logging, hiding credentials
func RedactHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if IsSensitive(k) {
			out[k] = Redacted
			continue
		}
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// RedactQuery flattens query parameters for logging, hiding credentials
func RedactQuery(q url.Values) map[string]string {
	out := make(map[string]string, len(q))
	for k, v := range q {
		if IsSensitive(k) {
			out[k] = Redacted
			continue
		}
		out[k] = strings.Join(v, ",")
	}
	return out
}
