package prc

import (
	"errors"
	"fmt"
)

var (
	// ErrRateLimitExceeded is returned once a call has been rate limited by
	// the upstream more times than the retry policy allows.
	ErrRateLimitExceeded = errors.New("prc: rate limit exceeded")

	// ErrTimeout is returned when a single upstream call exceeds its deadline.
	ErrTimeout = errors.New("prc: request timed out")
)

// APIError is a non-2xx upstream response.
type APIError struct {
	Endpoint   string
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("prc: %s returned %d: %s", e.Endpoint, e.StatusCode, e.Body)
}

// IsRateLimited reports whether err is a terminal rate-limit failure.
func IsRateLimited(err error) bool {
	return errors.Is(err, ErrRateLimitExceeded)
}

// IsTimeout reports whether err is an upstream timeout.
func IsTimeout(err error) bool {
	return errors.Is(err, ErrTimeout)
}

// StatusCode extracts the HTTP status from an APIError, or 0.
func StatusCode(err error) int {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode
	}
	return 0
}
