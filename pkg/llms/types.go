package llms

import (
	"github.com/servo-ai/servo/pkg/protocol"
)

// ToolDefinition is the provider-facing description of a callable tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Options shapes a single completion request. Tool execution is always left
// to the caller; providers must never run tools themselves.
type Options struct {
	Temperature     *float64
	MaxOutputTokens int
	Tools           []ToolDefinition
	ResponseFormat  protocol.ResponseFormat
	Model           string
}

// Usage is the token accounting reported by a provider for one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CachedTokens     int `json:"cached_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	ReasoningTokens  int `json:"reasoning_tokens"`
}

// Total returns prompt plus completion tokens.
func (u Usage) Total() int {
	return u.PromptTokens + u.CompletionTokens
}

// Completion is the result of a non-streaming provider call.
type Completion struct {
	Text      string
	ToolCalls []*protocol.ToolCall
	Usage     Usage
	Model     string
}

// StreamChunk is one increment of a streaming provider call. The final chunk
// may carry Usage metadata; when absent, zero usage is recorded.
type StreamChunk struct {
	Text      string
	ToolCalls []*protocol.ToolCall
	Usage     *Usage
	Err       error
}
