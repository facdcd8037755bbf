package errors_test

import (
	stderrors "errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dispatchd/dispatch-backend/pkg/errors"
)

func TestConstructors(t *testing.T) {
	tests := []struct {
		name       string
		err        *errors.AppError
		code       string
		statusCode int
		sentinel   error
	}{
		{"not found", errors.NotFound("mission"), "NOT_FOUND", http.StatusNotFound, errors.ErrNotFound},
		{"unauthenticated", errors.Unauthenticated("no token"), "UNAUTHENTICATED", http.StatusUnauthorized, errors.ErrUnauthenticated},
		{"forbidden", errors.Forbidden("nope"), "FORBIDDEN", http.StatusForbidden, errors.ErrForbidden},
		{"bad request", errors.BadRequest("bad"), "BAD_REQUEST", http.StatusBadRequest, errors.ErrBadRequest},
		{"conflict", errors.Conflict("taken"), "CONFLICT", http.StatusConflict, errors.ErrConflict},
		{"resource exhausted", errors.ResourceExhausted("pool"), "RESOURCE_EXHAUSTED", http.StatusServiceUnavailable, errors.ErrResourceExhausted},
		{"internal", errors.Internal("boom"), "INTERNAL_ERROR", http.StatusInternalServerError, errors.ErrInternal},
		{"invalid credentials", errors.InvalidCredentials(), "INVALID_CREDENTIALS", http.StatusUnauthorized, errors.ErrInvalidCredentials},
		{"token expired", errors.TokenExpired(), "TOKEN_EXPIRED", http.StatusUnauthorized, errors.ErrTokenExpired},
		{"token invalid", errors.TokenInvalid(), "TOKEN_INVALID", http.StatusUnauthorized, errors.ErrTokenInvalid},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.code, tt.err.Code)
			assert.Equal(t, tt.statusCode, tt.err.StatusCode)
			assert.True(t, stderrors.Is(tt.err, tt.sentinel))
		})
	}
}

func TestBalanceExceeded(t *testing.T) {
	err := errors.BalanceExceeded("per_missions")

	assert.Equal(t, "BALANCE_EXCEEDED", err.Code)
	assert.Equal(t, http.StatusConflict, err.StatusCode)
	assert.Equal(t, "per_missions", err.Details["balanceType"])
	assert.True(t, stderrors.Is(err, errors.ErrConflict))
}

func TestValidation(t *testing.T) {
	err := errors.Validation(map[string]string{"name": "required"})

	assert.Equal(t, "VALIDATION_ERROR", err.Code)
	assert.Equal(t, http.StatusBadRequest, err.StatusCode)
	assert.Equal(t, "required", err.Details["name"])
}

func TestWrapAndUnwrap(t *testing.T) {
	cause := stderrors.New("connection refused")
	err := errors.Wrap(cause, "INTERNAL_ERROR", "query failed", http.StatusInternalServerError)

	assert.Equal(t, "query failed: connection refused", err.Error())
	assert.True(t, stderrors.Is(err, cause))

	var appErr *errors.AppError
	require.True(t, errors.As(fmt.Errorf("outer: %w", err), &appErr))
	assert.Equal(t, "INTERNAL_ERROR", appErr.Code)
}

func TestErrorMessageWithoutCause(t *testing.T) {
	err := errors.New("NOT_FOUND", "mission not found", http.StatusNotFound)
	assert.Equal(t, "mission not found", err.Error())
	assert.Nil(t, stderrors.Unwrap(err))
}

func TestWithDetails(t *testing.T) {
	err := errors.BadRequest("invalid input").WithDetails(map[string]string{"field": "date"})
	assert.Equal(t, "date", err.Details["field"])
}
