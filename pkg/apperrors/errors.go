package apperrors

import (
	"errors"
	"net/http"
)

// Kind sentinels. Every error surfaced to a client wraps exactly one of these.
var (
	ErrValidation          = errors.New("validation failed")
	ErrUnauthorized        = errors.New("unauthorized")
	ErrForbidden           = errors.New("forbidden")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrPayloadTooLarge     = errors.New("payload too large")
	ErrRateLimited         = errors.New("rate limited")
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	ErrUpstreamFailed      = errors.New("upstream failed")
	ErrInternal            = errors.New("internal error")
)

// Domain errors. Each one carries its kind so handlers only branch on kinds.
var (
	ErrDuplicateEmail        = New(ErrConflict, "email_taken", "A user with this email already exists")
	ErrInvalidCredentials    = New(ErrUnauthorized, "invalid_credentials", "Invalid email or password")
	ErrInvalidRefreshToken   = New(ErrUnauthorized, "invalid_refresh_token", "Invalid or expired refresh token")
	ErrInvalidToken          = New(ErrUnauthorized, "invalid_token", "Invalid or expired access token")
	ErrWrongPassword         = New(ErrValidation, "wrong_password", "Current password is incorrect")
	ErrLastAdmin             = New(ErrConflict, "last_admin", "Cannot remove the last active administrator")
	ErrNoFile                = New(ErrValidation, "no_file", "No image file provided")
	ErrUnsupportedType       = New(ErrValidation, "unsupported_type", "Unsupported image type")
	ErrFileTooLarge          = New(ErrPayloadTooLarge, "file_too_large", "Image exceeds the maximum allowed size")
	ErrTooManyFiles          = New(ErrValidation, "too_many_files", "Too many files in batch request")
	ErrClassifierUnavailable = New(ErrUpstreamUnavailable, "classifier_unavailable", "Classification service is unavailable")
	ErrClassifierError       = New(ErrUpstreamFailed, "classifier_error", "Classification service returned an error")
	ErrSuspiciousInput       = New(ErrValidation, "suspicious_input", "Input contains disallowed content")
)

// Error is a client-safe error with a stable machine code and human message.
// It matches its kind sentinel with errors.Is.
type Error struct {
	Kind    error
	Code    string
	Message string
}

// New creates an Error of the given kind.
func New(kind error, code, message string) *Error {
	return &Error{Kind: kind, Code: code, Message: message}
}

// Validation is shorthand for a validation error with a custom message.
func Validation(code, message string) *Error {
	return New(ErrValidation, code, message)
}

// NotFound is shorthand for a not-found error with a custom message.
func NotFound(code, message string) *Error {
	return New(ErrNotFound, code, message)
}

func (e *Error) Error() string {
	return e.Message
}

// Is matches both the kind sentinel and other *Error values with the same code.
func (e *Error) Is(target error) bool {
	if target == e.Kind {
		return true
	}
	var other *Error
	if errors.As(target, &other) {
		return other.Code == e.Code
	}
	return false
}

// HTTPStatus maps an error to the status code reported at the HTTP boundary.
// Unknown errors map to 500.
func HTTPStatus(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrConflict):
		return http.StatusConflict
	case errors.Is(err, ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, ErrUpstreamFailed):
		return http.StatusBadGateway
	case errors.Is(err, ErrUpstreamUnavailable):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// Describe returns the client-facing code and message for err. Errors that are
// not *Error get a generic message so internals never leak.
func Describe(err error) (code, message string) {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code, appErr.Message
	}
	switch {
	case errors.Is(err, ErrValidation):
		return "validation_error", "Invalid request"
	case errors.Is(err, ErrUnauthorized):
		return "unauthorized", "Authentication required"
	case errors.Is(err, ErrForbidden):
		return "forbidden", "Insufficient permissions"
	case errors.Is(err, ErrNotFound):
		return "not_found", "Resource not found"
	case errors.Is(err, ErrConflict):
		return "conflict", "Resource conflict"
	case errors.Is(err, ErrPayloadTooLarge):
		return "payload_too_large", "Payload too large"
	case errors.Is(err, ErrRateLimited):
		return "rate_limited", "Too many requests"
	case errors.Is(err, ErrUpstreamFailed):
		return "upstream_error", "Upstream service error"
	case errors.Is(err, ErrUpstreamUnavailable):
		return "upstream_unavailable", "Upstream service unavailable"
	default:
		return "internal_error", "Internal server error"
	}
}
