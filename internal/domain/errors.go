package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for collection operations
var (
	// ErrNotAuthenticated indicates no usable credentials are available.
	// Permanent until the user logs in again.
	ErrNotAuthenticated = errors.New("not authenticated with Discogs")

	// ErrAuthExpired indicates the remote rejected our credentials.
	// The orchestrator reacts by logging the user out rather than
	// surfacing a retryable failure.
	ErrAuthExpired = errors.New("discogs authentication expired")

	// ErrLimiterClosed indicates the rate limiter was shut down while
	// a caller was waiting for a slot.
	ErrLimiterClosed = errors.New("rate limiter closed")

	// ErrItemNotFound indicates the requested row does not exist locally.
	ErrItemNotFound = errors.New("item not found")
)

// APIError is a non-2xx Discogs response that is not an auth failure.
// Throttling (429) only surfaces as an APIError once retries exhaust.
type APIError struct {
	Status int
	Reason string
}

func (e *APIError) Error() string {
	if e.Reason == "" {
		return fmt.Sprintf("discogs api error: %d", e.Status)
	}
	return fmt.Sprintf("discogs api error: %d %s", e.Status, e.Reason)
}
