package tools

import (
	"context"
)

// ToolInfo describes a callable tool to the model and the selector.
type ToolInfo struct {
	Name        string `json:"name"`
	Description string `json:"description"`
	Category    string `json:"category,omitempty"`

	// InputSchema is a JSON-Schema document for the tool arguments.
	InputSchema string `json:"input_schema"`

	// ServerName identifies the remote origin for MCP tools.
	ServerName string `json:"server_name,omitempty"`
}

// Tool is the uniform callable surface. Call results are normalized to text
// by the adaptation layer before reaching the model.
type Tool interface {
	Info() ToolInfo

	Call(ctx context.Context, args map[string]any) (any, error)
}

// Source discovers tools from one origin (local set, MCP server, worker
// agents).
type Source interface {
	Name() string

	Discover(ctx context.Context) ([]Tool, error)
}
