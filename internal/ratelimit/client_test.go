package ratelimit

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClientIP(t *testing.T) {
	tests := []struct {
		name       string
		remoteAddr string
		xff        string
		trustProxy bool
		want       string
	}{
		{name: "remote addr", remoteAddr: "10.0.0.1:4321", want: "10.0.0.1"},
		{name: "ipv6 remote addr", remoteAddr: "[::1]:80", want: "::1"},
		{name: "forwarded ignored by default", remoteAddr: "10.0.0.1:4321", xff: "1.2.3.4", want: "10.0.0.1"},
		{name: "forwarded trusted", remoteAddr: "10.0.0.1:4321", xff: "1.2.3.4, 10.0.0.9", trustProxy: true, want: "1.2.3.4"},
		{name: "unparseable remote addr", remoteAddr: "pipe", want: "pipe"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/", nil)
			r.RemoteAddr = tt.remoteAddr
			if tt.xff != "" {
				r.Header.Set("X-Forwarded-For", tt.xff)
			}
			assert.Equal(t, tt.want, ClientIP(r, tt.trustProxy))
		})
	}
}
