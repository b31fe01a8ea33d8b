// Package quorum provides a Go client for the Quorum decision aggregation API.
package quorum

import (
	"errors"
	"fmt"
)

// Error represents an error from the Quorum API with the HTTP status code
// and the server's error message.
type Error struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("quorum: %s (%d): %s", e.Code, e.StatusCode, e.Message)
}

// IsNotFound returns true if the error is a 404.
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 404
	}
	return false
}

// IsUnauthorized returns true if the error is a 401.
func IsUnauthorized(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 401
	}
	return false
}

// IsForbidden returns true if the error is a 403.
func IsForbidden(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 403
	}
	return false
}

// IsNotReady returns true if the error carries the NOT_READY code, meaning
// the request is still collecting votes.
func IsNotReady(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == "NOT_READY"
	}
	return false
}

// IsInsufficientData returns true if the error carries the INSUFFICIENT_DATA
// code, meaning the request settled with no counted votes.
func IsInsufficientData(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == "INSUFFICIENT_DATA"
	}
	return false
}

// IsRateLimited returns true if the error is a 429 (Too Many Requests).
func IsRateLimited(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.StatusCode == 429
	}
	return false
}
