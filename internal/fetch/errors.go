package fetch

import (
	"errors"
	"fmt"
)

// TransportError indicates a network, proxy, or protocol failure while
// talking to the bypass solver or the source instance.
type TransportError struct {
	URL string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport failure for %s: %v", e.URL, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// RateLimitedError indicates the source signalled throttling (HTTP 429).
type RateLimitedError struct {
	URL string
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("rate limited by source: %s", e.URL)
}

// AuthError indicates the bypass session was rejected (HTTP 401/403).
// Auth failures are not retried within a tick; the next tick starts a
// fresh solver session.
type AuthError struct {
	URL    string
	Status int
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("HTTP %d from source, bypass session rejected: %s", e.Status, e.URL)
}

// IsAuthError reports whether err wraps an AuthError.
func IsAuthError(err error) bool {
	var authErr *AuthError
	return errors.As(err, &authErr)
}
