package errors

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrorMapper maps external errors to the cosmo error taxonomy
type ErrorMapper interface {
	MapError(err error) error
	IsRetryable(err error) bool
	Category(err error) string
}

// DefaultErrorMapper classifies SDK and subprocess errors by message content
type DefaultErrorMapper struct{}

// NewDefaultErrorMapper creates a new error mapper
func NewDefaultErrorMapper() *DefaultErrorMapper {
	return &DefaultErrorMapper{}
}

// MapError maps external errors to cosmo error categories
func (m *DefaultErrorMapper) MapError(err error) error {
	if err == nil {
		return nil
	}

	// Propagate context cancellation and already-classified errors as-is
	if errors.Is(err, context.Canceled) || m.Category(err) != "Unknown" {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("request timeout: %w", ErrTransient)
	}

	errStr := strings.ToLower(err.Error())

	switch {
	case strings.Contains(errStr, "rate limit"), strings.Contains(errStr, "quota"), strings.Contains(errStr, "too many requests"):
		return fmt.Errorf("%s: %w", err.Error(), ErrRateLimited)

	case strings.Contains(errStr, "not found"), strings.Contains(errStr, "does not exist"):
		return fmt.Errorf("%s: %w", err.Error(), ErrNotFound)

	case strings.Contains(errStr, "permission denied"), strings.Contains(errStr, "unauthorized"), strings.Contains(errStr, "forbidden"):
		return fmt.Errorf("%s: %w", err.Error(), ErrPermissionDenied)

	case strings.Contains(errStr, "invalid input"), strings.Contains(errStr, "invalid request"), strings.Contains(errStr, "bad request"):
		return fmt.Errorf("%s: %w", err.Error(), ErrInvalidInput)

	case strings.Contains(errStr, "malformed json"), strings.Contains(errStr, "invalid json"):
		return fmt.Errorf("%s: %w", err.Error(), ErrInvalidModelOutput)

	case strings.Contains(errStr, "broken pipe"), strings.Contains(errStr, "file already closed"), strings.Contains(errStr, "eof"):
		return fmt.Errorf("%s: %w", err.Error(), ErrTransport)

	case strings.Contains(errStr, "timeout"), strings.Contains(errStr, "deadline exceeded"),
		strings.Contains(errStr, "network"), strings.Contains(errStr, "connection"), strings.Contains(errStr, "unreachable"):
		return fmt.Errorf("%s: %w", err.Error(), ErrTransient)

	case strings.Contains(errStr, "conflict"), strings.Contains(errStr, "already exists"):
		return fmt.Errorf("%s: %w", err.Error(), ErrConflict)

	default:
		return fmt.Errorf("%s: %w", err.Error(), ErrInternal)
	}
}

// IsRetryable determines if an error should trigger a retry
func (m *DefaultErrorMapper) IsRetryable(err error) bool {
	return IsRetryable(err)
}

// Category returns the cosmo error category for an error
func (m *DefaultErrorMapper) Category(err error) string {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, ErrPermissionDenied):
		return "ErrPermissionDenied"
	case errors.Is(err, ErrInvalidInput):
		return "ErrInvalidInput"
	case errors.Is(err, ErrNotFound):
		return "ErrNotFound"
	case errors.Is(err, ErrConflict):
		return "ErrConflict"
	case errors.Is(err, ErrRateLimited):
		return "ErrRateLimited"
	case errors.Is(err, ErrTransport):
		return "ErrTransport"
	case errors.Is(err, ErrTransient):
		return "ErrTransient"
	case errors.Is(err, ErrMaxIterations):
		return "ErrMaxIterations"
	case errors.Is(err, ErrInvalidModelOutput):
		return "ErrInvalidModelOutput"
	case errors.Is(err, ErrInternal):
		return "ErrInternal"
	default:
		return "Unknown"
	}
}

// Wrap wraps an error with context
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w", message, err)
}

// WrapWithCategory wraps an error keeping both the cause and the category in the chain
func WrapWithCategory(err error, message string, category error) error {
	if err == nil {
		return nil
	}

	return fmt.Errorf("%s: %w: %w", message, category, err)
}

// IsCategory checks if error belongs to specific category
func IsCategory(err error, category error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, category)
}

// NotFound wraps error as not found
func NotFound(message string) error {
	return fmt.Errorf("%s: %w", message, ErrNotFound)
}

// PermissionDenied wraps error as permission denied
func PermissionDenied(message string) error {
	return fmt.Errorf("%s: %w", message, ErrPermissionDenied)
}

// InvalidInput wraps error as invalid input
func InvalidInput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidInput)
}

// Conflict wraps error as conflict
func Conflict(message string) error {
	return fmt.Errorf("%s: %w", message, ErrConflict)
}

// Transient wraps error as transient
func Transient(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransient)
}

// Transport wraps error as a transport failure
func Transport(message string) error {
	return fmt.Errorf("%s: %w", message, ErrTransport)
}

// Internal wraps error as internal
func Internal(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInternal)
}

// InvalidModelOutput wraps error as invalid model output
func InvalidModelOutput(message string) error {
	return fmt.Errorf("%s: %w", message, ErrInvalidModelOutput)
}

// IsRetryable reports whether an error is transient, a transport hiccup or a rate limit
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransient) || errors.Is(err, ErrTransport) ||
		errors.Is(err, ErrRateLimited) || errors.Is(err, ErrConflict)
}
