package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/invopop/jsonschema"
)

// LocalFunc is the implementation body of a local tool.
type LocalFunc func(ctx context.Context, args map[string]any) (any, error)

// LocalTool adapts an in-process function to the Tool interface.
type LocalTool struct {
	info ToolInfo
	fn   LocalFunc
}

// NewLocalTool builds a local tool with an explicit JSON-Schema string.
func NewLocalTool(name, description, category, inputSchema string, fn LocalFunc) *LocalTool {
	return &LocalTool{
		info: ToolInfo{
			Name:        name,
			Description: description,
			Category:    category,
			InputSchema: inputSchema,
		},
		fn: fn,
	}
}

// NewReflectedTool builds a local tool whose input schema is derived from the
// argument struct via reflection.
func NewReflectedTool(name, description, category string, argsPrototype any, fn LocalFunc) (*LocalTool, error) {
	schema, err := SchemaFor(argsPrototype)
	if err != nil {
		return nil, err
	}
	return NewLocalTool(name, description, category, schema, fn), nil
}

func (t *LocalTool) Info() ToolInfo {
	return t.info
}

func (t *LocalTool) Call(ctx context.Context, args map[string]any) (any, error) {
	return t.fn(ctx, args)
}

// SchemaFor reflects a JSON-Schema document from a Go struct.
func SchemaFor(prototype any) (string, error) {
	reflector := &jsonschema.Reflector{
		DoNotReference: true,
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(prototype)
	encoded, err := json.Marshal(schema)
	if err != nil {
		return "", fmt.Errorf("failed to encode tool schema: %w", err)
	}
	return string(encoded), nil
}
