// Package errors provides standardized API error types and core sentinels.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Core sentinel errors. These cross layer boundaries and are matched with
// errors.Is; the HTTP layer projects them onto APIError values.
var (
	// ErrCancelled signals that the run owning the current job was
	// discarded or cancelled; workers translate it into cancel_job.
	ErrCancelled = errors.New("cancelled")

	// ErrOutOfScope signals a probe target outside the allow-list.
	ErrOutOfScope = errors.New("target out of scope")

	// ErrNotFound signals a missing row where one was required.
	ErrNotFound = errors.New("not found")
)

// APIError represents a standardized API error response.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
	Details    any    `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return e.Message
}

// WithMessage returns a copy of the error with a custom message.
func (e *APIError) WithMessage(message string) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    message,
		StatusCode: e.StatusCode,
		Details:    e.Details,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *APIError) WithDetails(details any) *APIError {
	return &APIError{
		Code:       e.Code,
		Message:    e.Message,
		StatusCode: e.StatusCode,
		Details:    details,
	}
}

// Standard error definitions
var (
	// ErrBadRequest is returned when the request is malformed.
	ErrBadRequest = &APIError{
		Code:       "bad_request",
		Message:    "Invalid request",
		StatusCode: http.StatusBadRequest,
	}

	// ErrResourceNotFound is returned when a resource is not found.
	ErrResourceNotFound = &APIError{
		Code:       "not_found",
		Message:    "Resource not found",
		StatusCode: http.StatusNotFound,
	}

	// ErrConflict is returned when a resource already exists.
	ErrConflict = &APIError{
		Code:       "conflict",
		Message:    "Resource already exists",
		StatusCode: http.StatusConflict,
	}

	// ErrScopeViolation is returned when a requested probe target falls
	// outside the target's allow-list.
	ErrScopeViolation = &APIError{
		Code:       "scope_violation",
		Message:    "Requested target is outside the allowed scope",
		StatusCode: http.StatusUnprocessableEntity,
	}

	// ErrRateLimited is returned when rate limits are exceeded.
	ErrRateLimited = &APIError{
		Code:       "rate_limited",
		Message:    "Too many requests. Please try again later.",
		StatusCode: http.StatusTooManyRequests,
	}

	// ErrInternal is returned for unexpected server errors.
	ErrInternal = &APIError{
		Code:       "internal_error",
		Message:    "An internal error occurred",
		StatusCode: http.StatusInternalServerError,
	}
)

// NewValidationError creates a validation error for a specific field.
func NewValidationError(field, message string) *APIError {
	return &APIError{
		Code:       "validation_error",
		Message:    fmt.Sprintf("Validation failed: %s", message),
		StatusCode: http.StatusBadRequest,
		Details: map[string]string{
			"field": field,
			"error": message,
		},
	}
}

// NewNotFoundError creates a not found error for a specific resource type.
func NewNotFoundError(resource string) *APIError {
	return &APIError{
		Code:       "not_found",
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

// AsAPIError converts an error to an APIError, mapping core sentinels to
// their HTTP projections. Unknown errors become ErrInternal.
func AsAPIError(err error) *APIError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}
	switch {
	case errors.Is(err, ErrNotFound):
		return ErrResourceNotFound
	case errors.Is(err, ErrOutOfScope):
		return ErrScopeViolation.WithMessage(err.Error())
	}
	return ErrInternal
}
