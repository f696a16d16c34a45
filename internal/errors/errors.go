package errors

import (
	"fmt"
)

// ScoutError is the structured error type for codescout.
// It provides rich context for error handling, logging, and user presentation.
type ScoutError struct {
	// Code is the unique error code (e.g., "ERR_301_GENERATION_TIMEOUT").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, IO, Provider, etc.).
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
func (e *ScoutError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *ScoutError) Unwrap() error {
	return e.Cause
}

// Is checks if this error matches the target error by code.
// This enables errors.Is() to work with ScoutError.
func (e *ScoutError) Is(target error) bool {
	if t, ok := target.(*ScoutError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
// Returns the error for method chaining.
func (e *ScoutError) WithDetail(key, value string) *ScoutError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// New creates a new ScoutError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *ScoutError {
	return &ScoutError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a ScoutError from an existing error.
// The error's message becomes the ScoutError message.
func Wrap(code string, err error) *ScoutError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// Newf creates a new ScoutError with a formatted message.
func Newf(code string, format string, args ...any) *ScoutError {
	return New(code, fmt.Sprintf(format, args...), nil)
}

// GenerationTimeout creates a generation timeout error (degradable).
func GenerationTimeout(message string, cause error) *ScoutError {
	return New(ErrCodeGenerationTimeout, message, cause)
}

// GenerationError creates a generation failure error (degradable).
func GenerationError(message string, cause error) *ScoutError {
	return New(ErrCodeGenerationFailed, message, cause)
}

// EmbeddingError creates an embedding provider error.
func EmbeddingError(message string, cause error) *ScoutError {
	return New(ErrCodeEmbeddingFailed, message, cause)
}

// DimensionMismatch creates a dimension mismatch error (caller error).
func DimensionMismatch(expected, got int) *ScoutError {
	return Newf(ErrCodeDimensionMismatch,
		"dimension mismatch: expected %d, got %d", expected, got)
}

// InvalidWeights creates an invalid rerank weights error (caller error).
func InvalidWeights(message string) *ScoutError {
	return New(ErrCodeInvalidWeights, message, nil)
}

// IsRetryable checks if an error is retryable.
// Returns true if the error is a ScoutError with Retryable flag set.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*ScoutError); ok {
		return se.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
// Fatal errors should abort the current operation.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	if se, ok := err.(*ScoutError); ok {
		return se.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a ScoutError.
// Returns empty string if not a ScoutError.
func GetCode(err error) string {
	if se, ok := err.(*ScoutError); ok {
		return se.Code
	}
	return ""
}
