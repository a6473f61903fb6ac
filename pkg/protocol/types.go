package protocol

import (
	"time"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// ExecutionMode selects how the executor drives the conversation.
type ExecutionMode string

const (
	ModeStandard ExecutionMode = "standard"
	ModeReact    ExecutionMode = "react"
)

// ResponseFormat constrains the shape of the final assistant output.
type ResponseFormat string

const (
	FormatText ResponseFormat = "text"
	FormatJSON ResponseFormat = "json"
	FormatYAML ResponseFormat = "yaml"
)

// MediaType describes an inline attachment carried with a command.
type MediaType string

const (
	MediaImage MediaType = "image"
	MediaAudio MediaType = "audio"
	MediaFile  MediaType = "file"
)

// Media is an ordered attachment on a user message or command.
type Media struct {
	Type     MediaType `json:"type"`
	MimeType string    `json:"mime_type,omitempty"`
	URL      string    `json:"url,omitempty"`
	Data     string    `json:"data,omitempty"` // base64 payload when inline
}

// ToolCall is a single tool invocation requested by the model.
// CallIndex is monotonic within one executor run.
type ToolCall struct {
	ID        string         `json:"id,omitempty"`
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments,omitempty"`
	CallIndex int            `json:"call_index"`
}

// Message is one turn in a conversation. Exactly one role applies; tool
// responses carry the tool name and its textual result.
type Message struct {
	Role      Role        `json:"role"`
	Content   string      `json:"content"`
	ToolCalls []*ToolCall `json:"tool_calls,omitempty"` // assistant only
	ToolName  string      `json:"tool_name,omitempty"`  // tool responses only
	Media     []Media     `json:"media,omitempty"`
}

// NewUserMessage builds a user turn.
func NewUserMessage(content string, media ...Media) Message {
	return Message{Role: RoleUser, Content: content, Media: media}
}

// NewAssistantMessage builds an assistant turn, optionally with tool calls.
func NewAssistantMessage(content string, toolCalls ...*ToolCall) Message {
	return Message{Role: RoleAssistant, Content: content, ToolCalls: toolCalls}
}

// NewSystemMessage builds a system turn.
func NewSystemMessage(content string) Message {
	return Message{Role: RoleSystem, Content: content}
}

// NewToolResponse builds a tool-response turn for the named tool.
func NewToolResponse(name, content string) Message {
	return Message{Role: RoleTool, Content: content, ToolName: name}
}

// HasToolCalls reports whether this assistant message requested tools.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// AgentCommand is the immutable request envelope handed to the executor.
// Construct it once; the executor never mutates it.
type AgentCommand struct {
	SystemPrompt        string         `json:"system_prompt,omitempty"`
	UserPrompt          string         `json:"user_prompt"`
	Mode                ExecutionMode  `json:"mode,omitempty"`
	Temperature         *float64       `json:"temperature,omitempty"`
	MaxToolCalls        int            `json:"max_tool_calls,omitempty"`
	UserID              string         `json:"user_id,omitempty"`
	TenantID            string         `json:"tenant_id,omitempty"`
	SessionID           string         `json:"session_id,omitempty"`
	ConversationHistory []Message      `json:"conversation_history,omitempty"`
	Metadata            map[string]any `json:"metadata,omitempty"`
	Media               []Media        `json:"media,omitempty"`
	ResponseFormat      ResponseFormat `json:"response_format,omitempty"`
}

// EffectiveMode returns the command mode, defaulting to ReAct.
func (c *AgentCommand) EffectiveMode() ExecutionMode {
	if c.Mode == "" {
		return ModeReact
	}
	return c.Mode
}

// AgentResult is the single outcome of a non-streaming execution.
type AgentResult struct {
	Success      bool     `json:"success"`
	Content      string   `json:"content,omitempty"`
	ToolsUsed    []string `json:"tools_used,omitempty"`
	ErrorCode    string   `json:"error_code,omitempty"`
	ErrorMessage string   `json:"error_message,omitempty"`
	DurationMs   int64    `json:"duration_ms"`
	CacheHit     bool     `json:"cache_hit,omitempty"`
	Model        string   `json:"model,omitempty"`
}

// Failure builds a failed result with the given code and message.
func Failure(code, message string, started time.Time) AgentResult {
	return AgentResult{
		Success:      false,
		ErrorCode:    code,
		ErrorMessage: message,
		DurationMs:   time.Since(started).Milliseconds(),
	}
}
