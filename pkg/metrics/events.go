package metrics

import (
	"time"
)

// Event is one observability fact published on the hot path. Implementations
// are value types; publication never blocks.
type Event interface {
	// Kind discriminates the variant for persistence.
	Kind() string

	// Tenant returns the tenant the event belongs to, when resolved.
	Tenant() string
}

// Kind values.
const (
	KindTokenUsage        = "token_usage"
	KindToolCall          = "tool_call"
	KindExecution         = "execution"
	KindGuardRejection    = "guard_rejection"
	KindBreakerTransition = "breaker_transition"
	KindBoundaryViolation = "boundary_violation"
)

// TokenUsageEvent records provider token consumption for one LLM call.
// EstimatedCostUSD is filled by the writer off the hot path.
type TokenUsageEvent struct {
	Provider         string
	Model            string
	Time             time.Time
	PromptTokens     int
	CachedTokens     int
	CompletionTokens int
	ReasoningTokens  int
	EstimatedCostUSD string
	TenantID         string
}

func (e TokenUsageEvent) Kind() string   { return KindTokenUsage }
func (e TokenUsageEvent) Tenant() string { return e.TenantID }

// ToolCallEvent records one tool execution.
type ToolCallEvent struct {
	Name       string
	DurationMs int64
	Success    bool
	TenantID   string
}

func (e ToolCallEvent) Kind() string   { return KindToolCall }
func (e ToolCallEvent) Tenant() string { return e.TenantID }

// ExecutionEvent records one completed agent request.
type ExecutionEvent struct {
	DurationMs int64
	Success    bool
	ErrorCode  string
	TenantID   string
}

func (e ExecutionEvent) Kind() string   { return KindExecution }
func (e ExecutionEvent) Tenant() string { return e.TenantID }

// GuardRejectionEvent records an admission rejection.
type GuardRejectionEvent struct {
	Stage    string
	Reason   string
	TenantID string
}

func (e GuardRejectionEvent) Kind() string   { return KindGuardRejection }
func (e GuardRejectionEvent) Tenant() string { return e.TenantID }

// CircuitBreakerTransitionEvent records one breaker state change.
type CircuitBreakerTransitionEvent struct {
	Name     string
	From     string
	To       string
	TenantID string
}

func (e CircuitBreakerTransitionEvent) Kind() string   { return KindBreakerTransition }
func (e CircuitBreakerTransitionEvent) Tenant() string { return e.TenantID }

// BoundaryViolationEvent records an output length policy action.
type BoundaryViolationEvent struct {
	Policy   string // "truncate", "warn", "retry", "fail"
	Length   int
	Limit    int
	TenantID string
}

func (e BoundaryViolationEvent) Kind() string   { return KindBoundaryViolation }
func (e BoundaryViolationEvent) Tenant() string { return e.TenantID }

// EventStore persists drained events in batches. External collaborator.
type EventStore interface {
	BatchInsert(events []Event) error
}
