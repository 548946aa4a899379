// Package vitals provides a Go client for the Web Vitals read and ingestion
// API.
package vitals

import (
	"errors"
	"fmt"
	"net/http"
)

// Error represents an error from the vitals API with the HTTP status code
// and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("vitals: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

func hasStatus(err error, status int) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == status
	}
	return false
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool { return hasStatus(err, http.StatusNotFound) }

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool { return hasStatus(err, http.StatusTooManyRequests) }

// IsUnavailable returns true if the error is a 503. The server answers 503
// until the first aggregation window has been published.
func IsUnavailable(err error) bool { return hasStatus(err, http.StatusServiceUnavailable) }
