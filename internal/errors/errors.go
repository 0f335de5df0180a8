package errors

import (
	stderrors "errors"
	"fmt"
)

// CpidError is the structured error type for cpid.
// It carries a stable code so callers and clients can classify failures.
type CpidError struct {
	// Code is the unique error code (e.g., "ERR_404_INDEX_NOT_FOUND").
	Code string

	// Message is the human-readable error message.
	Message string

	// Category is the error category (Config, Storage, Input, etc.).
	Category Category

	// Severity is the error severity level.
	Severity Severity

	// Details contains additional context as key-value pairs.
	Details map[string]string

	// Cause is the underlying error that caused this error.
	Cause error

	// Retryable indicates if the operation can be retried.
	Retryable bool

	// Suggestion is an actionable suggestion for the user.
	Suggestion string
}

// Error implements the error interface.
func (e *CpidError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for error chain support.
func (e *CpidError) Unwrap() error {
	return e.Cause
}

// Is matches another CpidError by code, so errors.Is works against
// sentinel values built with New.
func (e *CpidError) Is(target error) bool {
	if t, ok := target.(*CpidError); ok {
		return e.Code == t.Code
	}
	return false
}

// WithDetail adds a key-value detail to the error.
func (e *CpidError) WithDetail(key, value string) *CpidError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// WithSuggestion adds an actionable suggestion for the user.
func (e *CpidError) WithSuggestion(suggestion string) *CpidError {
	e.Suggestion = suggestion
	return e
}

// New creates a new CpidError with the given code and message.
// Category, severity, and retryable flag are derived from the code.
func New(code string, message string, cause error) *CpidError {
	return &CpidError{
		Code:      code,
		Message:   message,
		Category:  categoryFromCode(code),
		Severity:  severityFromCode(code),
		Cause:     cause,
		Retryable: isRetryableCode(code),
	}
}

// Wrap creates a CpidError from an existing error.
// The error's message becomes the CpidError message.
func Wrap(code string, err error) *CpidError {
	if err == nil {
		return nil
	}
	return New(code, err.Error(), err)
}

// ConfigError creates a configuration-related error.
func ConfigError(message string, cause error) *CpidError {
	return New(ErrCodeConfigInvalid, message, cause)
}

// StorageError creates an error for a failed storage read or write.
func StorageError(message string, cause error) *CpidError {
	return New(ErrCodeStorageIO, message, cause)
}

// InputError creates an error for a rejected argument.
func InputError(message string, cause error) *CpidError {
	return New(ErrCodeInvalidInput, message, cause)
}

// InternalError creates an internal error.
func InternalError(message string, cause error) *CpidError {
	return New(ErrCodeInternal, message, cause)
}

// As finds the first CpidError in err's chain.
func As(err error) (*CpidError, bool) {
	var ce *CpidError
	if stderrors.As(err, &ce) {
		return ce, true
	}
	return nil, false
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if ce, ok := As(err); ok {
		return ce.Retryable
	}
	return false
}

// IsFatal checks if an error has fatal severity.
func IsFatal(err error) bool {
	if ce, ok := As(err); ok {
		return ce.Severity == SeverityFatal
	}
	return false
}

// GetCode extracts the error code from a CpidError anywhere in the chain.
// Returns empty string if there is none.
func GetCode(err error) string {
	if ce, ok := As(err); ok {
		return ce.Code
	}
	return ""
}

// GetCategory extracts the category from a CpidError.
func GetCategory(err error) Category {
	if ce, ok := As(err); ok {
		return ce.Category
	}
	return ""
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code string) bool {
	return GetCode(err) == code
}
