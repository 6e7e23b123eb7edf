package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
)

// ErrEmptyInput rejects blank text before any provider call is made.
var ErrEmptyInput = errors.New("input text required")

// APIError is a provider HTTP failure carrying the response status.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("provider error (status %d): %s", e.Status, e.Message)
	}
	return fmt.Sprintf("provider error (status %d)", e.Status)
}

// Transient reports whether the failure is worth retrying. Rate limits and
// server-side errors are transient; any other 4xx is permanent.
func (e *APIError) Transient() bool {
	if e.Status == http.StatusTooManyRequests {
		return true
	}
	return e.Status >= 500
}

// RetriesExhaustedError wraps the final provider error after the retry
// budget is spent, carrying the attempt count.
type RetriesExhaustedError struct {
	Attempts int
	Err      error
}

func (e *RetriesExhaustedError) Error() string {
	return fmt.Sprintf("provider failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetriesExhaustedError) Unwrap() error { return e.Err }

// IsTransient classifies an error for the retry loop. Context cancellation
// is never retried; APIErrors decide for themselves; anything else is
// assumed to be a network-level failure and retried.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr.Transient()
	}
	return true
}
