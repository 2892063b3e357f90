package apperrors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", ErrNoFile, http.StatusBadRequest},
		{"unsupported type", ErrUnsupportedType, http.StatusBadRequest},
		{"invalid credentials", ErrInvalidCredentials, http.StatusUnauthorized},
		{"forbidden", ErrForbidden, http.StatusForbidden},
		{"not found", ErrNotFound, http.StatusNotFound},
		{"duplicate email", ErrDuplicateEmail, http.StatusConflict},
		{"file too large", ErrFileTooLarge, http.StatusRequestEntityTooLarge},
		{"rate limited", ErrRateLimited, http.StatusTooManyRequests},
		{"classifier error", ErrClassifierError, http.StatusBadGateway},
		{"classifier unavailable", ErrClassifierUnavailable, http.StatusServiceUnavailable},
		{"wrapped", fmt.Errorf("create user: %w", ErrDuplicateEmail), http.StatusConflict},
		{"unknown", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, HTTPStatus(tt.err))
		})
	}
}

func TestError_IsMatchesKindAndCode(t *testing.T) {
	wrapped := fmt.Errorf("login: %w", ErrInvalidCredentials)

	assert.True(t, errors.Is(wrapped, ErrUnauthorized))
	assert.True(t, errors.Is(wrapped, ErrInvalidCredentials))
	assert.False(t, errors.Is(wrapped, ErrInvalidRefreshToken))
	assert.False(t, errors.Is(wrapped, ErrForbidden))
}

func TestDescribe(t *testing.T) {
	code, msg := Describe(fmt.Errorf("wrap: %w", ErrFileTooLarge))
	assert.Equal(t, "file_too_large", code)
	assert.Equal(t, ErrFileTooLarge.Message, msg)

	code, msg = Describe(errors.New("pq: relation does not exist"))
	assert.Equal(t, "internal_error", code)
	assert.Equal(t, "Internal server error", msg)

	code, _ = Describe(fmt.Errorf("missing: %w", ErrNotFound))
	assert.Equal(t, "not_found", code)
}
