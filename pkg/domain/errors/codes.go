package errors

// Code represents an error code
type Code string

const (
	CodeUnknown              Code = "UNKNOWN"               // Unknown error occurred
	CodeInternalError        Code = "INTERNAL_ERROR"        // Internal system error
	CodeAuthenticationFailed Code = "AUTHENTICATION_FAILED" // Credentials rejected by a remote API
	CodeRateLimited          Code = "RATE_LIMITED"          // Remote API rate limit hit
	CodeTimeout              Code = "TIMEOUT"               // Operation exceeded its deadline
	CodeFetchFailed          Code = "FETCH_FAILED"          // Transport or parse failure while fetching
	CodeAssetNotFound        Code = "ASSET_NOT_FOUND"       // Asset unknown to the scanner
	CodeNotFound             Code = "NOT_FOUND"             // Resource not found
	CodeCircuitOpen          Code = "CIRCUIT_OPEN"          // Circuit breaker refused the call
	CodeBulkheadRejected     Code = "BULKHEAD_REJECTED"     // Bulkhead capacity wait timed out
	CodeMaxRetriesExceeded   Code = "MAX_RETRIES_EXCEEDED"  // Retry budget exhausted
	CodeValidationFailed     Code = "VALIDATION_FAILED"     // Static validation rejected input
	CodeLLMError             Code = "LLM_ERROR"             // LLM provider failure
	CodeSandboxProvision     Code = "SANDBOX_PROVISION"     // Sandbox container could not be provisioned
	CodeSandboxTimeout       Code = "SANDBOX_TIMEOUT"       // Sandbox test exceeded its budget
	CodeContainerRuntime     Code = "CONTAINER_RUNTIME"     // Container runtime operation failed
	CodeConfigurationInvalid Code = "CONFIGURATION_INVALID" // Configuration invalid
)
