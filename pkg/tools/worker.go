package tools

import (
	"context"
	"fmt"
)

// Runner is the narrow execution surface a worker agent exposes when wrapped
// as a tool. The composition layer adapts the full executor to it.
type Runner interface {
	Run(ctx context.Context, prompt string) (string, error)
}

// RunnerFunc adapts a function to Runner.
type RunnerFunc func(ctx context.Context, prompt string) (string, error)

func (f RunnerFunc) Run(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

const workerSchema = `{"type":"object","properties":{"prompt":{"type":"string","description":"Task for the worker agent"}},"required":["prompt"]}`

// WorkerTool exposes a delegate agent as a tool taking a single prompt
// argument.
type WorkerTool struct {
	info   ToolInfo
	runner Runner
}

// NewWorkerTool wraps a runner as an agent-delegation tool.
func NewWorkerTool(name, description string, runner Runner) *WorkerTool {
	return &WorkerTool{
		info: ToolInfo{
			Name:        name,
			Description: description,
			Category:    "agent",
			InputSchema: workerSchema,
		},
		runner: runner,
	}
}

func (t *WorkerTool) Info() ToolInfo {
	return t.info
}

func (t *WorkerTool) Call(ctx context.Context, args map[string]any) (any, error) {
	prompt, ok := args["prompt"].(string)
	if !ok || prompt == "" {
		return nil, fmt.Errorf("worker tool %q requires a non-empty prompt argument", t.info.Name)
	}
	return t.runner.Run(ctx, prompt)
}
