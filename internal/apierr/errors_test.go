package apierr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type providerErr struct {
	code string
}

func (e providerErr) Error() string        { return "provider failure " + e.code }
func (e providerErr) ProviderCode() string { return e.code }

func TestCodeStatus(t *testing.T) {
	tests := []struct {
		code     Code
		expected int
	}{
		{CodeValidation, http.StatusUnprocessableEntity},
		{CodeNotFound, http.StatusNotFound},
		{CodeAuth, http.StatusUnauthorized},
		{CodePermission, http.StatusForbidden},
		{CodeConflict, http.StatusConflict},
		{CodeRateLimit, http.StatusTooManyRequests},
		{CodeDatabase, http.StatusInternalServerError},
		{CodeInvalidReference, http.StatusBadRequest},
		{CodeTimeout, http.StatusGatewayTimeout},
		{Code("SOMETHING_ELSE"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.code.Status())
		})
	}
}

func TestFrom(t *testing.T) {
	tests := []struct {
		name        string
		err         error
		code        Code
		status      int
		operational bool
	}{
		{
			name:        "api error passes through",
			err:         NotFound("foodEntry", "1"),
			code:        CodeNotFound,
			status:      http.StatusNotFound,
			operational: true,
		},
		{
			name:        "wrapped api error",
			err:         fmt.Errorf("handler: %w", Conflict("dup")),
			code:        CodeConflict,
			status:      http.StatusConflict,
			operational: true,
		},
		{
			name:        "unique violation",
			err:         providerErr{code: ProviderUniqueViolation},
			code:        CodeConflict,
			status:      http.StatusConflict,
			operational: true,
		},
		{
			name:        "record not found",
			err:         fmt.Errorf("update: %w", providerErr{code: ProviderRecordNotFound}),
			code:        CodeNotFound,
			status:      http.StatusNotFound,
			operational: true,
		},
		{
			name:        "foreign key violation",
			err:         providerErr{code: ProviderForeignKeyViolation},
			code:        CodeInvalidReference,
			status:      http.StatusBadRequest,
			operational: true,
		},
		{
			name:        "other provider code",
			err:         providerErr{code: "P1001"},
			code:        CodeDatabase,
			status:      http.StatusInternalServerError,
			operational: true,
		},
		{
			name:        "deadline exceeded",
			err:         fmt.Errorf("find: %w", context.DeadlineExceeded),
			code:        CodeTimeout,
			status:      http.StatusGatewayTimeout,
			operational: true,
		},
		{
			name:        "unknown error",
			err:         errors.New("nil map write"),
			code:        CodeInternal,
			status:      http.StatusInternalServerError,
			operational: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := From(tt.err)
			require.NotNil(t, got)
			assert.Equal(t, tt.code, got.Code)
			assert.Equal(t, tt.status, got.Status)
			assert.Equal(t, tt.operational, got.Operational)
		})
	}

	assert.Nil(t, From(nil))
}

func TestError_Copies(t *testing.T) {
	base := New(CodeValidation, "bad id")
	bad := base.WithStatus(http.StatusBadRequest)

	assert.Equal(t, http.StatusUnprocessableEntity, base.Status)
	assert.Equal(t, http.StatusBadRequest, bad.Status)

	cause := errors.New("boom")
	wrapped := base.WithCause(cause)
	assert.ErrorIs(t, wrapped, cause)
	assert.Nil(t, base.Unwrap())
}

func TestInternal_CapturesStack(t *testing.T) {
	err := Internal(errors.New("boom"))
	assert.False(t, err.Operational)
	assert.Contains(t, err.Stack(), "TestInternal_CapturesStack")
}
