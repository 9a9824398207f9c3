package errors

import (
	"errors"
	"fmt"
)

// RagError is the structured error type for ragkb.
// It provides rich context for error handling, logging, and the MCP boundary.
type RagError struct {
	// Code is the unique error code (e.g., "ERR_403_NO_ACTIVE_KB").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Embedding, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool
}

// Error implements the error interface.
func (e *RagError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *RagError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with RagError.
func (e *RagError) Is(target error) bool {
	if t, ok := target.(*RagError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *RagError) WithDetail(key, value string) *RagError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new RagError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *RagError {
	return &RagError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a RagError from an existing error.
// The error's message becomes the RagError message.
func Wrap(code string, err error) *RagError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// InvalidArgument creates a validation error for bad caller input.
func InvalidArgument(message string) *RagError {
	return New(ErrCodeInvalidArgument, message, nil)
}

// NotFound creates an error for an unknown knowledge base name.
func NotFound(name string) *RagError {
	return New(ErrCodeNotFound, fmt.Sprintf("knowledge base %q not found", name), nil).
		WithDetail("name", name)
}

// AlreadyExists creates an error for a colliding knowledge base name.
func AlreadyExists(name string) *RagError {
	return New(ErrCodeAlreadyExists, fmt.Sprintf("knowledge base %q already exists", name), nil).
		WithDetail("name", name)
}

// IOError creates an I/O-related error.
func IOError(message string, cause error) *RagError {
	return New(ErrCodeIO, message, cause)
}

// EmbeddingFailed creates an error for an embedder that is unavailable
// after retries have been exhausted.
func EmbeddingFailed(cause error) *RagError {
	return New(ErrCodeEmbeddingFailed, "embedding provider unavailable", cause)
}

// DimensionMismatch creates a fatal error for an embedding whose dimension
// differs from the one pinned at first embed.
func DimensionMismatch(expected, got int) *RagError {
	return New(ErrCodeDimensionMismatch,
		fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", expected, got), nil).
		WithDetail("expected", fmt.Sprintf("%d", expected)).
		WithDetail("got", fmt.Sprintf("%d", got))
}

// Cancelled creates an error for an observed context cancellation.
func Cancelled(cause error) *RagError {
	return New(ErrCodeCancelled, "operation cancelled", cause)
}

// IsCode reports whether err is a RagError carrying the given code.
func IsCode(err error, code string) bool {
	var re *RagError
	if errors.As(err, &re) {
		return re.Code == code
	}
	return false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var re *RagError
	if errors.As(err, &re) {
		return re.Retryable
	}
	return false
}

// GetCode extracts the error code from a RagError.
// Returns empty string if not a RagError.
func GetCode(err error) string {
	var re *RagError
	if errors.As(err, &re) {
		return re.Code
	}
	return ""
}
