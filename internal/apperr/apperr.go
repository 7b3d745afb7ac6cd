// Package apperr implements the control plane's five-kind error taxonomy:
// input errors, not-found, illegal transitions, subprocess failures (carried
// as data elsewhere, never as an error value), and fatal loop errors.
package apperr

import (
	"errors"
	"fmt"
	"net/http"
)

// Error codes.
const (
	CodeInput    = "INPUT_ERROR"
	CodeNotFound = "NOT_FOUND"
	CodeConflict = "ILLEGAL_TRANSITION"
	CodeInternal = "INTERNAL_ERROR"
)

// AppError represents a boundary-facing error with an HTTP status and a
// stable code, optionally wrapping an underlying cause.
type AppError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	HTTPStatus int    `json:"-"`
	Err        error  `json:"-"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for use with errors.Is and errors.As.
func (e *AppError) Unwrap() error { return e.Err }

// Input creates a 400 input-validation error.
func Input(message string) *AppError {
	return &AppError{Code: CodeInput, Message: message, HTTPStatus: http.StatusBadRequest}
}

// NotFound creates a 404 not-found error for a resource.
func NotFound(resource, id string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s %q not found", resource, id),
		HTTPStatus: http.StatusNotFound,
	}
}

// Conflict creates a 409 illegal-state-transition error.
func Conflict(message string) *AppError {
	return &AppError{Code: CodeConflict, Message: message, HTTPStatus: http.StatusConflict}
}

// Internal creates a 500 fatal error, wrapping an underlying cause.
func Internal(message string, err error) *AppError {
	return &AppError{Code: CodeInternal, Message: message, HTTPStatus: http.StatusInternalServerError, Err: err}
}

// Wrap wraps err with additional context, preserving an existing AppError's
// code and status, or defaulting to Internal.
func Wrap(err error, message string) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return &AppError{
			Code:       appErr.Code,
			Message:    fmt.Sprintf("%s: %s", message, appErr.Message),
			HTTPStatus: appErr.HTTPStatus,
			Err:        err,
		}
	}
	return Internal(message, err)
}

// IsNotFound reports whether err is a not-found AppError.
func IsNotFound(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == CodeNotFound
}

// IsConflict reports whether err is an illegal-transition AppError.
func IsConflict(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == CodeConflict
}

// HTTPStatus returns the HTTP status for err, defaulting to 500 if err is
// not an AppError.
func HTTPStatus(err error) int {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus
	}
	return http.StatusInternalServerError
}
