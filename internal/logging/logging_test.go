package logging

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	tests := []struct {
		name    string
		cfg     Config
		level   zapcore.Level
		wantErr bool
	}{
		{name: "production default", cfg: Config{}, level: zapcore.InfoLevel},
		{name: "development default", cfg: Config{Development: true}, level: zapcore.DebugLevel},
		{name: "explicit level", cfg: Config{Level: "WARN", Format: FormatJSON}, level: zapcore.WarnLevel},
		{name: "console", cfg: Config{Level: "error", Format: FormatConsole}, level: zapcore.ErrorLevel},
		{name: "bad level", cfg: Config{Level: "loud"}, wantErr: true},
		{name: "bad format", cfg: Config{Format: "xml"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			log, err := New(tt.cfg)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.True(t, log.Core().Enabled(tt.level))
			assert.False(t, log.Core().Enabled(tt.level-1))
		})
	}
}

func TestMiddleware(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	var seen string
	h := Middleware(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestID(r.Context())
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	}))

	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/goal", nil))

	assert.Equal(t, http.StatusTeapot, w.Code)
	id := w.Header().Get(HeaderRequestID)
	assert.NotEmpty(t, id)
	assert.Equal(t, id, seen)

	require.Equal(t, 1, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, "request", entry.Message)
	fields := entry.ContextMap()
	assert.Equal(t, int64(http.StatusTeapot), fields["status"])
	assert.Equal(t, int64(15), fields["bytes"])
	assert.Equal(t, "/api/v1/goal", fields["path"])
	assert.Equal(t, id, fields["request_id"])
}

func TestMiddleware_RequestID(t *testing.T) {
	h := Middleware(zap.NewNop())(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))

	incoming := "0b7f3f8e-2f1c-4e0a-9d55-3c1d0f9e8a71"
	r := httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderRequestID, incoming)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.Equal(t, incoming, w.Header().Get(HeaderRequestID))

	r = httptest.NewRequest(http.MethodGet, "/", nil)
	r.Header.Set(HeaderRequestID, "<script>")
	w = httptest.NewRecorder()
	h.ServeHTTP(w, r)
	assert.NotEqual(t, "<script>", w.Header().Get(HeaderRequestID))
}
