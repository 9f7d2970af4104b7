package errors

// ErrorCode represents a machine-readable error code.
type ErrorCode string

// Workflow source errors (fatal before any node runs)
const (
	// ErrCodeConfig indicates a malformed or missing workflow source or a schema violation.
	ErrCodeConfig ErrorCode = "CONFIG_ERROR"
)

// Node execution errors
const (
	// ErrCodeData indicates a missing, malformed, or ambiguous input file.
	ErrCodeData ErrorCode = "DATA_ERROR"
	// ErrCodeEngineLoad indicates a backend could not acquire model or device resources.
	ErrCodeEngineLoad ErrorCode = "ENGINE_LOAD_ERROR"
	// ErrCodeInference indicates a backend-reported failure on a batch or item.
	ErrCodeInference ErrorCode = "INFERENCE_ERROR"
	// ErrCodeCancelled indicates the run was cancelled or timed out.
	ErrCodeCancelled ErrorCode = "CANCELLED"
)

// Output errors
const (
	// ErrCodeValidation indicates produced output failed the quality criteria.
	ErrCodeValidation ErrorCode = "VALIDATION_ERROR"
)

// Internal errors
const (
	// ErrCodeInternal indicates an unexpected failure inside the engine.
	ErrCodeInternal ErrorCode = "INTERNAL_ERROR"
)

var retryableCodes = map[ErrorCode]bool{
	ErrCodeEngineLoad: true,
	ErrCodeInference:  false,
	ErrCodeInternal:   false,
}

// IsRetryableCode returns true if the error code indicates a retryable error.
func IsRetryableCode(code ErrorCode) bool {
	return retryableCodes[code]
}
