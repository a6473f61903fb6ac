package protocol

// Error codes surfaced to callers at the admission boundary. Internal errors
// are always mapped onto one of these before leaving the executor.
const (
	ErrCodeGuardRejected       = "GUARD_REJECTED"
	ErrCodeHookRejected        = "HOOK_REJECTED"
	ErrCodeOverloaded          = "OVERLOADED"
	ErrCodeQueueTimeout        = "QUEUE_TIMEOUT"
	ErrCodeTimeout             = "TIMEOUT"
	ErrCodeCircuitBreakerOpen  = "CIRCUIT_BREAKER_OPEN"
	ErrCodeOutputGuardRejected = "OUTPUT_GUARD_REJECTED"
	ErrCodeOutputTooShort      = "OUTPUT_TOO_SHORT"
	ErrCodeInvalidResponse     = "INVALID_RESPONSE"
	ErrCodeToolFailed          = "TOOL_FAILED"
	ErrCodeLLMFailed           = "LLM_FAILED"
)
