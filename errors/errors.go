package errors

import (
	stderrors "errors"
	"fmt"
	"sort"
	"strings"
)

// Detail keys used across the engine so diagnostics stay greppable.
const (
	DetailNode   = "node"
	DetailShard  = "shard"
	DetailDevice = "device"
	DetailCaseID = "case_id"
	DetailPath   = "path"
	DetailField  = "field"
)

// AppError is the unified application error type.
type AppError struct {
	// Code is a machine-readable error code.
	Code ErrorCode `json:"code"`
	// Message is a human-readable error message.
	Message string `json:"message"`
	// Retryable indicates if the operation can be retried.
	Retryable bool `json:"retryable"`
	// Details contains additional context for the error.
	Details map[string]any `json:"details,omitempty"`
	// Cause is the underlying error that caused this error.
	Cause error `json:"-"`
}

// Error returns the string representation of the error.
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (cause: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause of the error.
func (e *AppError) Unwrap() error { return e.Cause }

// WithCause sets the underlying cause of the error and returns the receiver.
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetails merges the provided details into the error and returns the receiver.
func (e *AppError) WithDetails(details map[string]any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	for k, v := range details {
		e.Details[k] = v
	}
	return e
}

// WithDetail sets a single detail key-value pair and returns the receiver.
func (e *AppError) WithDetail(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// Diagnostic renders the error as a single line suitable for the process exit path.
// Details are appended in key order so the output is stable.
func (e *AppError) Diagnostic() string {
	var b strings.Builder
	b.WriteString(string(e.Code))
	b.WriteString(": ")
	b.WriteString(e.Message)
	if len(e.Details) > 0 {
		keys := make([]string, 0, len(e.Details))
		for k := range e.Details {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, e.Details[k])
		}
	}
	if e.Cause != nil {
		fmt.Fprintf(&b, " cause=%q", e.Cause.Error())
	}
	return strings.ReplaceAll(b.String(), "\n", " ")
}

// New creates a new AppError with automatic retryable detection.
func New(code ErrorCode, message string) *AppError {
	return &AppError{
		Code:      code,
		Message:   message,
		Retryable: IsRetryableCode(code),
	}
}

// --- Constructors ---

// ConfigError creates an AppError for a malformed workflow source or schema violation.
func ConfigError(format string, args ...any) *AppError {
	return New(ErrCodeConfig, fmt.Sprintf(format, args...))
}

// DataError creates an AppError for a missing, unreadable, or ambiguous input file.
func DataError(format string, args ...any) *AppError {
	return New(ErrCodeData, fmt.Sprintf(format, args...))
}

// EngineLoadError creates an AppError for a backend that could not acquire its resources.
func EngineLoadError(engine string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeEngineLoad, Message: fmt.Sprintf("%s engine failed to load", engine),
		Retryable: true, Cause: cause,
		Details: map[string]any{"engine": engine},
	}
}

// InferenceError creates an AppError for a backend-reported failure.
func InferenceError(engine string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeInference, Message: fmt.Sprintf("%s inference failed", engine),
		Retryable: false, Cause: cause,
		Details: map[string]any{"engine": engine},
	}
}

// ValidationError creates an AppError for output that failed the quality criteria.
func ValidationError(message string) *AppError {
	return New(ErrCodeValidation, message)
}

// Cancelled creates an AppError for an operation interrupted by cancellation or timeout.
func Cancelled(operation string, cause error) *AppError {
	return &AppError{
		Code: ErrCodeCancelled, Message: fmt.Sprintf("%s was cancelled", operation),
		Retryable: false, Cause: cause,
		Details: map[string]any{"operation": operation},
	}
}

// Internal creates a new AppError for an unexpected engine failure.
func Internal(cause error) *AppError {
	return &AppError{
		Code: ErrCodeInternal, Message: "An unexpected error occurred.",
		Retryable: false, Cause: cause,
	}
}

// --- Inspection ---

// IsAppError checks if an error is an AppError.
func IsAppError(err error) bool {
	var appErr *AppError
	return stderrors.As(err, &appErr)
}

// AsAppError converts an error to an AppError if possible.
func AsAppError(err error) (*AppError, bool) {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr, true
	}
	return nil, false
}

// IsCode reports whether err is, or wraps, an AppError with the given code.
func IsCode(err error, code ErrorCode) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Code == code
}

// IsRetryable reports whether err is a retryable AppError.
func IsRetryable(err error) bool {
	appErr, ok := AsAppError(err)
	return ok && appErr.Retryable
}

// ExitCode maps an error to the process exit contract: 0 on success, 1 otherwise.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}

// Diagnostic returns the single-line diagnostic for any error.
func Diagnostic(err error) string {
	if err == nil {
		return ""
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr.Diagnostic()
	}
	return strings.ReplaceAll(err.Error(), "\n", " ")
}

// Wrap promotes err to an AppError. AppErrors anywhere in the chain are
// returned as-is; other errors become INTERNAL_ERROR.
func Wrap(err error) *AppError {
	if err == nil {
		return nil
	}
	if appErr, ok := AsAppError(err); ok {
		return appErr
	}
	return Internal(err)
}
