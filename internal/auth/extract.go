package auth

import (
	"net/http"
	"strings"
)

// Source says where a token was found
type Source string

const (
	SourceHeader Source = "header"
	SourceCookie Source = "cookie"
	SourceQuery  Source = "query"
)

// Extractor finds a bearer token in the Authorization header, then a
// cookie, then a query parameter.
type Extractor struct {
	CookieName string
	QueryParam string
}

// DefaultExtractor reads the "token" cookie and the "token" query parameter
var DefaultExtractor = Extractor{CookieName: "token", QueryParam: "token"}

// Extract returns the first token found, in precedence order
func (e Extractor) Extract(r *http.Request) (string, Source, bool) {
	if token, ok := bearerToken(r.Header.Get("Authorization")); ok {
		return token, SourceHeader, true
	}

	if e.CookieName != "" {
		if c, err := r.Cookie(e.CookieName); err == nil && c.Value != "" {
			return c.Value, SourceCookie, true
		}
	}

	if e.QueryParam != "" {
		if token := r.URL.Query().Get(e.QueryParam); token != "" {
			return token, SourceQuery, true
		}
	}

	return "", "", false
}

func bearerToken(header string) (string, bool) {
	const prefix = "Bearer "
	if len(header) <= len(prefix) || !strings.EqualFold(header[:len(prefix)], prefix) {
		return "", false
	}
	token := strings.TrimSpace(header[len(prefix):])
	return token, token != ""
}
