package detect

import (
	"fmt"
)

// RequestError is returned when a detection request fails, either with a
// non-2xx HTTP response (Code set) or a transport failure (Err set).
type RequestError struct {
	Code   int    // HTTP status code, eg 401 or 500. Zero for transport errors.
	Status string // Status message, either from body or the HTTP response status line.
	Err    error
}

// Error returns a human-readable description of the error.
func (e *RequestError) Error() string {
	if e.Code == 0 {
		return fmt.Sprintf("detection request: %v", e.Err)
	}
	return fmt.Sprintf("detection request: http response error, code %d: %s", e.Code, e.Status)
}

// Unwrap returns the transport error, if any.
func (e *RequestError) Unwrap() error {
	return e.Err
}

// Unauthorized returns true if the bearer token was rejected (HTTP 401).
func (e *RequestError) Unauthorized() bool {
	return e.Code == 401
}

// Ensure RequestError implements the error interface.
var _ error = (*RequestError)(nil)
