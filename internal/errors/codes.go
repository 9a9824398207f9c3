// Package errors provides structured error handling for ragkb.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: IO errors (file, disk, state persistence)
//   - 3XX: Embedding provider errors
//   - 4XX: Validation and retrieval precondition errors
//   - 5XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryIO indicates file and disk I/O errors.
	CategoryIO Category = "IO"
	// CategoryEmbedding indicates embedding provider errors.
	CategoryEmbedding Category = "EMBEDDING"
	// CategoryValidation indicates input validation and precondition errors.
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
	ErrCodeIO           = "ERR_201_IO"
	ErrCodeFileNotFound = "ERR_202_FILE_NOT_FOUND"
	ErrCodeStatePersist = "ERR_203_STATE_PERSIST"

	// Embedding provider errors (300-399)
	ErrCodeEmbeddingFailed   = "ERR_301_EMBEDDING_FAILED"
	ErrCodeDimensionMismatch = "ERR_302_DIMENSION_MISMATCH"
	ErrCodeEmbedderTimeout   = "ERR_303_EMBEDDER_TIMEOUT"

	// Validation and retrieval precondition errors (400-499)
	ErrCodeInvalidArgument   = "ERR_401_INVALID_ARGUMENT"
	ErrCodeDisabled          = "ERR_402_DISABLED"
	ErrCodeNoActiveKB        = "ERR_403_NO_ACTIVE_KB"
	ErrCodeNoKBLoaded        = "ERR_404_NO_KB_LOADED"
	ErrCodeNoRelevantContent = "ERR_405_NO_RELEVANT_CONTENT"
	ErrCodeNotFound          = "ERR_406_NOT_FOUND"
	ErrCodeAlreadyExists     = "ERR_407_ALREADY_EXISTS"

	// Internal errors (500-599)
	ErrCodeInternal  = "ERR_501_INTERNAL"
	ErrCodeCancelled = "ERR_502_CANCELLED"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// Leading digit of the numeric portion (e.g., '4' from "ERR_401_...")
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryIO
	case '3':
		return CategoryEmbedding
	case '4':
		return CategoryValidation
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeDimensionMismatch:
		// A drifting embedding dimension poisons every index built afterwards.
		return SeverityFatal
	case ErrCodeStatePersist, ErrCodeNoRelevantContent:
		return SeverityWarning
	}

	if isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeEmbeddingFailed, ErrCodeEmbedderTimeout:
		return true
	default:
		return false
	}
}
