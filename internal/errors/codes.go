// Package errors provides structured error handling for cpid.
//
// Error codes follow the pattern ERR_XXX_DESCRIPTION where:
//   - 1XX: Configuration errors
//   - 2XX: Decode errors (archive, module-image listing, source)
//   - 3XX: Storage errors
//   - 4XX: Input errors
//   - 5XX: Protocol and transport errors
//   - 6XX: Internal errors
package errors

// Category defines error categories for classification.
type Category string

const (
	// CategoryConfig indicates configuration-related errors.
	CategoryConfig Category = "CONFIG"
	// CategoryDecode indicates a source that could not be read or parsed.
	CategoryDecode Category = "DECODE"
	// CategoryStorage indicates failures of the embedded store.
	CategoryStorage Category = "STORAGE"
	// CategoryInput indicates bad user-supplied arguments.
	CategoryInput Category = "INPUT"
	// CategoryProtocol indicates wire protocol and socket errors.
	CategoryProtocol Category = "PROTOCOL"
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

	// Decode errors (200-299)
	ErrCodeArchiveDecode = "ERR_201_ARCHIVE_DECODE"
	ErrCodeListingDecode = "ERR_202_LISTING_DECODE"
	ErrCodeSourceParse   = "ERR_203_SOURCE_PARSE"

	// Storage errors (300-399)
	ErrCodeStorageOpen    = "ERR_301_STORAGE_OPEN"
	ErrCodeStorageIO      = "ERR_302_STORAGE_IO"
	ErrCodeCorruptValue   = "ERR_303_CORRUPT_VALUE"
	ErrCodeStorageLocked  = "ERR_304_STORAGE_LOCKED"
	ErrCodeStorageBackend = "ERR_305_STORAGE_BACKEND"

	// Input errors (400-499)
	ErrCodeInvalidInput   = "ERR_401_INVALID_INPUT"
	ErrCodeInvalidPath    = "ERR_402_INVALID_PATH"
	ErrCodeNotADirectory  = "ERR_403_NOT_A_DIRECTORY"
	ErrCodeIndexNotFound  = "ERR_404_INDEX_NOT_FOUND"
	ErrCodeNotModuleImage = "ERR_405_NOT_MODULE_IMAGE"

	// Protocol and transport errors (500-599)
	ErrCodeMalformedFrame    = "ERR_501_MALFORMED_FRAME"
	ErrCodeUnknownCommand    = "ERR_502_UNKNOWN_COMMAND"
	ErrCodeSocketBind        = "ERR_503_SOCKET_BIND"
	ErrCodeServerUnavailable = "ERR_504_SERVER_UNAVAILABLE"
	ErrCodeServerRunning     = "ERR_505_SERVER_RUNNING"

	// Internal errors (600-699)
	ErrCodeInternal = "ERR_601_INTERNAL"
)

// categoryFromCode extracts category from error code.
func categoryFromCode(code string) Category {
	if len(code) < 7 {
		return CategoryInternal
	}

	// "ERR_301_..." -> '3'
	switch code[4] {
	case '1':
		return CategoryConfig
	case '2':
		return CategoryDecode
	case '3':
		return CategoryStorage
	case '4':
		return CategoryInput
	case '5':
		return CategoryProtocol
	default:
		return CategoryInternal
	}
}

// severityFromCode determines severity based on error code.
func severityFromCode(code string) Severity {
	switch code {
	case ErrCodeStorageOpen, ErrCodeStorageBackend:
		return SeverityFatal
	}

	// Decode errors skip one unit and the pipeline moves on.
	if categoryFromCode(code) == CategoryDecode || isRetryableCode(code) {
		return SeverityWarning
	}

	return SeverityError
}

// isRetryableCode checks if an error code represents a retryable error.
func isRetryableCode(code string) bool {
	switch code {
	case ErrCodeServerUnavailable, ErrCodeStorageLocked:
		return true
	default:
		return false
	}
}
