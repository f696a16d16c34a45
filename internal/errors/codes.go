// Package errors provides structured error handling for codescout.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (cache, store files)
//   - 3XX: Provider errors (embedding, generation)
//   - 4XX: Validation errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryProvider indicates external provider (LLM, embedding) errors.
	CategoryProvider Category = "PROVIDER"
	// CategoryValidation indicates input validation errors.
	CategoryValidation Category = "VALIDATION"
	// CategoryInternal indicates unexpected internal errors.
	CategoryInternal Category = "INTERNAL"
)

// Severity defines error severity levels.
type Severity string

const (
	// SeverityFatal indicates unrecoverable error, must abort.
	SeverityFatal Severity = "FATAL"
	// SeverityError indicates operation failed but can continue.
	SeverityError Severity = "ERROR"
	// SeverityWarning indicates degraded operation, continuing.
	SeverityWarning Severity = "WARNING"
)

// Error codes organized by category.
const (
	// Config errors (100-199)
	ErrCodeConfigNotFound = "ERR_101_CONFIG_NOT_FOUND"
	ErrCodeConfigInvalid  = "ERR_102_CONFIG_INVALID"

	// IO errors (200-299)
	ErrCodeCacheUnavailable = "ERR_201_CACHE_UNAVAILABLE"
	ErrCodeStoreUnavailable = "ERR_202_STORE_UNAVAILABLE"
	ErrCodeCorruptIndex     = "ERR_203_CORRUPT_INDEX"

	// Provider errors (300-399)
	ErrCodeGenerationTimeout = "ERR_301_GENERATION_TIMEOUT"
	ErrCodeGenerationFailed  = "ERR_302_GENERATION_FAILED"
	ErrCodeEmbeddingFailed   = "ERR_303_EMBEDDING_FAILED"

	// Validation errors (400-499)
	ErrCodeDimensionMismatch = "ERR_401_DIMENSION_MISMATCH"
	ErrCodeInvalidWeights    = "ERR_402_INVALID_WEIGHTS"
	ErrCodeInvalidFilter     = "ERR_403_INVALID_FILTER"
	ErrCodeQueryEmpty        = "ERR_404_QUERY_EMPTY"
	ErrCodeCodebaseNotFound  = "ERR_405_CODEBASE_NOT_FOUND"

	// Internal errors (500-599)
	ErrCodeInternal      = "ERR_501_INTERNAL"
	ErrCodeParseFailure  = "ERR_502_PARSE_FAILURE"
	ErrCodeInsertPartial = "ERR_503_INSERT_PARTIAL"
	ErrCodeIndexFailed   = "ERR_504_INDEX_FAILED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryProvider
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeCorruptIndex, ErrCodeStoreUnavailable:
		return SeverityFatal
	}

	// Degradable provider errors get warning severity: the search
	// orchestrator continues on the non-HyDE path when these occur.
	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeGenerationTimeout, ErrCodeEmbeddingFailed:
		return true
	default:
		return false
	}
}
