// Package apierror defines the error bodies returned by the HTTP API.
package apierror

import (
	"encoding/json"
	"net/http"
)

// Error represents a structured API error response.
type Error struct {
	// Code is a stable machine-readable error code.
	Code string `json:"code"`

	// Message is the human-readable error.
	Message string `json:"error"`

	// StatusCode is the HTTP status the error is written with.
	StatusCode int `json:"-"`

	// Success is always false for errors.
	Success bool `json:"success"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}

// ToJSON converts the error to JSON bytes.
func (e *Error) ToJSON() []byte {
	data, _ := json.Marshal(e)
	return data
}

// BadRequest creates a 400 Bad Request error.
func BadRequest(message string) *Error {
	return newError(http.StatusBadRequest, "BAD_REQUEST", message)
}

// Unauthorized creates a 401 Unauthorized error.
func Unauthorized(message string) *Error {
	if message == "" {
		message = "Authentication required"
	}
	return newError(http.StatusUnauthorized, "UNAUTHORIZED", message)
}

// NotFound creates a 404 Not Found error.
func NotFound(message string) *Error {
	if message == "" {
		message = "Resource not found"
	}
	return newError(http.StatusNotFound, "NOT_FOUND", message)
}

// Conflict creates a 409 Conflict error.
func Conflict(message string) *Error {
	return newError(http.StatusConflict, "CONFLICT", message)
}

// TooManyRequests creates a 429 Too Many Requests error.
func TooManyRequests(message string) *Error {
	if message == "" {
		message = "Too many requests"
	}
	return newError(http.StatusTooManyRequests, "RATE_LIMITED", message)
}

// InternalError creates a 500 Internal Server Error.
func InternalError(message string) *Error {
	if message == "" {
		message = "An unexpected error occurred"
	}
	return newError(http.StatusInternalServerError, "INTERNAL_ERROR", message)
}

// ServiceUnavailable creates a 503 Service Unavailable error.
func ServiceUnavailable(message string) *Error {
	if message == "" {
		message = "Service temporarily unavailable"
	}
	return newError(http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", message)
}

func newError(statusCode int, code string, message string) *Error {
	return &Error{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}
