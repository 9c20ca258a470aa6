package apierr

import (
	"encoding/json"
	"math"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"apiforge/internal/security"
)

// Envelope is the uniform error response body
type Envelope struct {
	Error EnvelopeBody `json:"error"`
}

// EnvelopeBody describes a single failed request
type EnvelopeBody struct {
	Status    int    `json:"status"`
	Message   string `json:"message"`
	Code      Code   `json:"code"`
	Timestamp string `json:"timestamp"`
	Path      string `json:"path"`
	Method    string `json:"method"`
	Details   any    `json:"details,omitempty"`
	Stack     string `json:"stack,omitempty"`
}

// Handler formats, logs and redacts every error response.
// It is the only place an error becomes an HTTP response.
type Handler struct {
	log        *zap.Logger
	production bool
	now        func() time.Time
}

// NewHandler creates the global error handler. In production mode stack
// traces never leave the process.
func NewHandler(log *zap.Logger, production bool) *Handler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		log:        log,
		production: production,
		now:        time.Now,
	}
}

// Handle translates err, logs it with redacted request details and writes
// the error envelope. body is the decoded request body, if any.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request, err error, body map[string]any) {
	apiErr := From(err)

	h.logError(r, apiErr, body)

	message := apiErr.Message
	details := apiErr.Details
	if !apiErr.Operational {
		message = "Internal server error"
		details = nil
	}

	env := Envelope{Error: EnvelopeBody{
		Status:    apiErr.Status,
		Message:   message,
		Code:      apiErr.Code,
		Timestamp: h.now().UTC().Format(time.RFC3339),
		Path:      r.URL.Path,
		Method:    r.Method,
		Details:   details,
	}}
	if !h.production && len(apiErr.stack) > 0 {
		env.Error.Stack = apiErr.Stack()
	}

	if apiErr.Code == CodeRateLimit {
		seconds := max(int(math.Ceil(apiErr.RetryAfter.Seconds())), 1)
		w.Header().Set("Retry-After", strconv.Itoa(seconds))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(apiErr.Status)
	if encErr := json.NewEncoder(w).Encode(env); encErr != nil {
		h.log.Error("failed to encode error response", zap.Error(encErr))
	}
}

func (h *Handler) logError(r *http.Request, apiErr *Error, body map[string]any) {
	fields := []zap.Field{
		zap.String("code", string(apiErr.Code)),
		zap.Int("status", apiErr.Status),
		zap.String("method", r.Method),
		zap.String("path", r.URL.Path),
		zap.String("message", apiErr.Message),
		zap.Any("headers", security.RedactHeaders(r.Header)),
		zap.Any("query", security.RedactQuery(r.URL.Query())),
	}
	if body != nil {
		fields = append(fields, zap.Any("body", security.RedactMap(body)))
	}
	if apiErr.cause != nil {
		fields = append(fields, zap.NamedError("cause", apiErr.cause))
	}

	if apiErr.Operational {
		h.log.Warn("request failed", fields...)
		return
	}

	if len(apiErr.stack) > 0 {
		fields = append(fields, zap.String("stack", apiErr.Stack()))
	}
	h.log.Error("unexpected error", fields...)
}
