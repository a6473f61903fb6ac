// Package hooks implements the four lifecycle extension points around agent
// execution: before start, before/after each tool call, after completion.
package hooks

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/servo-ai/servo/pkg/protocol"
)

// Decision discriminates hook outcomes.
type Decision int

const (
	DecisionContinue Decision = iota
	DecisionReject
	DecisionPendingApproval
	DecisionModify
)

// Result is the sum-typed outcome of one hook invocation.
type Result struct {
	Decision   Decision
	Reason     string         // Reject
	ApprovalID string         // PendingApproval
	Message    string         // PendingApproval
	Params     map[string]any // Modify: replacement tool arguments
}

// Continue admits the lifecycle event unchanged.
func Continue() Result {
	return Result{Decision: DecisionContinue}
}

// Reject short-circuits the lifecycle point and fails the request.
func Reject(reason string) Result {
	return Result{Decision: DecisionReject, Reason: reason}
}

// PendingApproval parks the request awaiting an external decision.
func PendingApproval(id, message string) Result {
	return Result{Decision: DecisionPendingApproval, ApprovalID: id, Message: message}
}

// Modify replaces the tool arguments for the pending call.
func Modify(params map[string]any) Result {
	return Result{Decision: DecisionModify, Params: params}
}

// Hook is the common surface of every lifecycle hook.
type Hook interface {
	Name() string
	Order() int
	Enabled() bool
	FailOnError() bool
}

// BeforeAgentStart runs after guard admission, before any LLM work.
type BeforeAgentStart interface {
	Hook
	BeforeAgentStart(ctx context.Context, hctx *Context) (Result, error)
}

// BeforeToolCall runs before each tool execution.
type BeforeToolCall interface {
	Hook
	BeforeToolCall(ctx context.Context, hctx *Context, tctx *ToolContext) (Result, error)
}

// AfterToolCall runs after each tool execution with its result.
type AfterToolCall interface {
	Hook
	AfterToolCall(ctx context.Context, hctx *Context, tctx *ToolContext, result string) (Result, error)
}

// AfterAgentComplete runs once with the final response, success or not.
type AfterAgentComplete interface {
	Hook
	AfterAgentComplete(ctx context.Context, hctx *Context, response *protocol.AgentResult) (Result, error)
}

// Executor dispatches hooks per lifecycle point in ascending order.
type Executor struct {
	beforeStart   []BeforeAgentStart
	beforeTool    []BeforeToolCall
	afterTool     []AfterToolCall
	afterComplete []AfterAgentComplete
}

// NewExecutor builds an executor from an arbitrary hook set. Each hook is
// dispatched on every lifecycle interface it implements.
func NewExecutor(all ...Hook) *Executor {
	e := &Executor{}
	for _, h := range all {
		if !h.Enabled() {
			continue
		}
		if hook, ok := h.(BeforeAgentStart); ok {
			e.beforeStart = append(e.beforeStart, hook)
		}
		if hook, ok := h.(BeforeToolCall); ok {
			e.beforeTool = append(e.beforeTool, hook)
		}
		if hook, ok := h.(AfterToolCall); ok {
			e.afterTool = append(e.afterTool, hook)
		}
		if hook, ok := h.(AfterAgentComplete); ok {
			e.afterComplete = append(e.afterComplete, hook)
		}
	}
	sortHooks(e.beforeStart)
	sortHooks(e.beforeTool)
	sortHooks(e.afterTool)
	sortHooks(e.afterComplete)
	return e
}

func sortHooks[T Hook](hooks []T) {
	sort.SliceStable(hooks, func(i, j int) bool {
		return hooks[i].Order() < hooks[j].Order()
	})
}

// RunBeforeAgentStart runs the before-start point. Reject or PendingApproval
// short-circuits and is returned; hook errors reject when failOnError.
func (e *Executor) RunBeforeAgentStart(ctx context.Context, hctx *Context) (Result, error) {
	for _, hook := range e.beforeStart {
		result, err := hook.BeforeAgentStart(ctx, hctx)
		if err != nil {
			if hook.FailOnError() {
				return Result{}, fmt.Errorf("hook %s failed: %w", hook.Name(), err)
			}
			slog.Warn("Hook failed, continuing", "hook", hook.Name(), "point", "beforeAgentStart", "error", err)
			continue
		}
		if result.Decision != DecisionContinue {
			return result, nil
		}
	}
	return Continue(), nil
}

// RunBeforeToolCall runs the before-tool point. A Modify result replaces the
// tool arguments and subsequent hooks see the modified context.
func (e *Executor) RunBeforeToolCall(ctx context.Context, hctx *Context, tctx *ToolContext) (Result, error) {
	for _, hook := range e.beforeTool {
		result, err := hook.BeforeToolCall(ctx, hctx, tctx)
		if err != nil {
			if hook.FailOnError() {
				return Result{}, fmt.Errorf("hook %s failed: %w", hook.Name(), err)
			}
			slog.Warn("Hook failed, continuing", "hook", hook.Name(), "point", "beforeToolCall", "error", err)
			continue
		}
		switch result.Decision {
		case DecisionModify:
			tctx.Arguments = result.Params
		case DecisionContinue:
		default:
			return result, nil
		}
	}
	return Continue(), nil
}

// RunAfterToolCall runs the after-tool point. Failures of non-critical hooks
// are swallowed; the point always continues.
func (e *Executor) RunAfterToolCall(ctx context.Context, hctx *Context, tctx *ToolContext, result string) error {
	for _, hook := range e.afterTool {
		if _, err := hook.AfterToolCall(ctx, hctx, tctx, result); err != nil {
			if hook.FailOnError() {
				return fmt.Errorf("hook %s failed: %w", hook.Name(), err)
			}
			slog.Warn("Hook failed, continuing", "hook", hook.Name(), "point", "afterToolCall", "error", err)
		}
	}
	return nil
}

// RunAfterAgentComplete runs the after-complete point.
func (e *Executor) RunAfterAgentComplete(ctx context.Context, hctx *Context, response *protocol.AgentResult) error {
	for _, hook := range e.afterComplete {
		if _, err := hook.AfterAgentComplete(ctx, hctx, response); err != nil {
			if hook.FailOnError() {
				return fmt.Errorf("hook %s failed: %w", hook.Name(), err)
			}
			slog.Warn("Hook failed, continuing", "hook", hook.Name(), "point", "afterAgentComplete", "error", err)
		}
	}
	return nil
}

// BaseHook carries the common hook attributes; embed it in concrete hooks.
type BaseHook struct {
	HookName    string
	HookOrder   int
	HookEnabled bool
	Critical    bool
}

func (b BaseHook) Name() string      { return b.HookName }
func (b BaseHook) Order() int        { return b.HookOrder }
func (b BaseHook) Enabled() bool     { return b.HookEnabled }
func (b BaseHook) FailOnError() bool { return b.Critical }
