package security

import (
	"net/http"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsSensitive(t *testing.T) {
	tests := []struct {
		name     string
		field    string
		expected bool
	}{
		{name: "password", field: "password", expected: true},
		{name: "camel case api key", field: "apiKey", expected: true},
		{name: "snake case api key", field: "api_key", expected: true},
		{name: "header api key", field: "X-API-Key", expected: true},
		{name: "authorization header", field: "Authorization", expected: true},
		{name: "cookie header", field: "Cookie", expected: true},
		{name: "refresh token", field: "refreshToken", expected: true},
		{name: "client secret", field: "client_secret", expected: true},
		{name: "plain field", field: "mealType", expected: false},
		{name: "email", field: "email", expected: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, IsSensitive(tt.field))
		})
	}
}

func TestRedactMap(t *testing.T) {
	body := map[string]any{
		"username": "alice",
		"password": "secret123",
		"profile": map[string]any{
			"apiKey": "k-1",
			"city":   "Oslo",
		},
		"sessions": []any{
			map[string]any{"token": "abc", "device": "phone"},
		},
	}

	redacted := RedactMap(body)

	assert.Equal(t, "alice", redacted["username"])
	assert.Equal(t, Redacted, redacted["password"])

	profile, ok := redacted["profile"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, Redacted, profile["apiKey"])
	assert.Equal(t, "Oslo", profile["city"])

	sessions, ok := redacted["sessions"].([]any)
	require.True(t, ok)
	session := sessions[0].(map[string]any)
	assert.Equal(t, Redacted, session["token"])
	assert.Equal(t, "phone", session["device"])

	// original untouched
	assert.Equal(t, "secret123", body["password"])
	assert.Nil(t, RedactMap(nil))
}

func TestRedactHeadersAndQuery(t *testing.T) {
	h := http.Header{}
	h.Set("Authorization", "Bearer abc")
	h.Set("Cookie", "session=1")
	h.Set("Accept", "application/json")

	headers := RedactHeaders(h)
	assert.Equal(t, Redacted, headers["Authorization"])
	assert.Equal(t, Redacted, headers["Cookie"])
	assert.Equal(t, "application/json", headers["Accept"])

	q := url.Values{"token": {"abc"}, "limit": {"10"}}
	query := RedactQuery(q)
	assert.Equal(t, Redacted, query["token"])
	assert.Equal(t, "10", query["limit"])
}
