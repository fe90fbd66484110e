package broker

import (
	"errors"
	"fmt"
)

// APIError represents an upstream API error with status code and response body.
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("API error %d: %s", e.Status, e.Body)
}

// NetworkError marks a transient transport failure. Callers hold current
// state and retry on the next tick; a NetworkError must never cause the
// session to be recreated.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return "network error: " + e.Err.Error() }
func (e *NetworkError) Unwrap() error { return e.Err }

// AuthError marks an invalid-credentials failure. This is the only error
// class that permits re-establishing the session.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return "auth error: " + e.Err.Error() }
func (e *AuthError) Unwrap() error { return e.Err }

// ErrStaleData is returned when live data cannot be obtained and a cached
// fallback was used (or none exists). Results derived from it must be
// flagged.
var ErrStaleData = errors.New("stale market data")

// IsNetworkErr reports whether err is (or wraps) a NetworkError.
func IsNetworkErr(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsAuthErr reports whether err is (or wraps) an AuthError.
func IsAuthErr(err error) bool {
	var ae *AuthError
	return errors.As(err, &ae)
}

// classifyStatus maps an HTTP status to the error taxonomy. 401/403 are
// auth failures; 429 and 5xx are transient; remaining 4xx are returned
// as plain APIErrors for the caller to interpret.
func classifyStatus(status int, body string) error {
	apiErr := &APIError{Status: status, Body: body}
	switch {
	case status == 401 || status == 403:
		return &AuthError{Err: apiErr}
	case status == 429 || status >= 500:
		return &NetworkError{Err: apiErr}
	default:
		return apiErr
	}
}
