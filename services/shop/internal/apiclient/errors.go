package apiclient

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyResponse means a success response carried no data payload.
var ErrEmptyResponse = errors.New("empty response data")

// APIError represents a backend error response.
type APIError struct {
	Status    int
	Message   string
	Details   []string
	RequestID string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("backend returned %d %s", e.Status, http.StatusText(e.Status))
}

// StatusOf returns the HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Status
	}
	return 0
}

// IsUnauthorized reports whether the backend rejected the credentials or token.
func IsUnauthorized(err error) bool {
	return StatusOf(err) == http.StatusUnauthorized
}

// IsNotFound reports whether the backend has no such resource.
func IsNotFound(err error) bool {
	return StatusOf(err) == http.StatusNotFound
}

// Message returns the backend-provided message verbatim when err carries one,
// otherwise fallback. Transport errors never leak into user-facing text.
func Message(err error, fallback string) string {
	var apiErr *APIError
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return fallback
}
