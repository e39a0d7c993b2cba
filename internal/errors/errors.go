package errors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for different categories
var (
	// ErrPermissionDenied - operation refused (disabled tool, missing credentials)
	ErrPermissionDenied = errors.New("permission denied")

	// ErrInvalidInput - invalid input (bad config, unknown backend, malformed arguments)
	ErrInvalidInput = errors.New("invalid input")

	// ErrNotFound - resource not found (unknown tool, unknown server, missing profile)
	ErrNotFound = errors.New("not found")

	// ErrConflict - conflict (server registered twice)
	ErrConflict = errors.New("conflict")

	// ErrTransient - transient error (network failures, timeouts), safe to retry
	ErrTransient = errors.New("transient error")

	// ErrTransport - tool server pipe or framing failure
	ErrTransport = errors.New("transport error")

	// ErrRateLimited - provider refused the request because of rate limits
	ErrRateLimited = errors.New("rate limited")

	// ErrMaxIterations - the agent loop hit its iteration ceiling
	ErrMaxIterations = errors.New("max iterations reached")

	// ErrInvalidModelOutput - model returned malformed or empty output
	ErrInvalidModelOutput = errors.New("invalid model output")

	// ErrInternal - internal error
	ErrInternal = errors.New("internal error")
)

// RateLimitError is returned once the retry budget for a rate-limited call is spent.
type RateLimitError struct {
	Provider   string
	Attempts   int
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("%s rate limit exceeded after %d attempts", e.Provider, e.Attempts)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(" (retry after %s)", e.RetryAfter)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
