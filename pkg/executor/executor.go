// Copyright 2026 The Servo Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package executor drives the ReAct loop: guard admission, hook dispatch,
// LLM calls through retry and circuit breaking, parallel tool execution, and
// response post-processing.
package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/servo-ai/servo/pkg/breaker"
	"github.com/servo-ai/servo/pkg/cache"
	"github.com/servo-ai/servo/pkg/config"
	"github.com/servo-ai/servo/pkg/filters"
	"github.com/servo-ai/servo/pkg/guard"
	"github.com/servo-ai/servo/pkg/hooks"
	"github.com/servo-ai/servo/pkg/llms"
	"github.com/servo-ai/servo/pkg/memory"
	"github.com/servo-ai/servo/pkg/metrics"
	"github.com/servo-ai/servo/pkg/protocol"
	"github.com/servo-ai/servo/pkg/retry"
	"github.com/servo-ai/servo/pkg/tools"
)

// Deps are the executor's collaborators. Provider is required; everything
// else degrades gracefully when nil.
type Deps struct {
	Provider      llms.Provider
	Guards        *guard.Pipeline
	Hooks         *hooks.Executor
	Cache         cache.ResponseCache
	Conversations *memory.ConversationManager
	Estimator     memory.TokenCounter
	Registry      *tools.Registry
	Selector      tools.Selector
	Breaker       *breaker.CircuitBreaker
	Retry         retry.Policy
	Ring          *metrics.RingBuffer
	Filters       *filters.Chain
	Fallback      *FallbackStrategy
}

// Executor is the sole owner of per-request behavior.
type Executor struct {
	cfg  config.ExecutorConfig
	deps Deps

	trimmer  *memory.Trimmer
	boundary *boundaryEnforcer
	sem      *semaphore.Weighted
}

// New wires an executor from configuration and collaborators.
func New(cfg *config.Config, deps Deps) *Executor {
	e := &Executor{
		cfg:  cfg.Executor,
		deps: deps,
	}
	if deps.Estimator != nil {
		e.trimmer = memory.NewTrimmer(deps.Estimator)
	}
	e.boundary = newBoundaryEnforcer(cfg.Boundary, e.publish)
	if cfg.Executor.MaxConcurrentRequests > 0 {
		e.sem = semaphore.NewWeighted(int64(cfg.Executor.MaxConcurrentRequests))
	}
	return e
}

// Execute runs one command to completion and returns a single result.
// Internal errors never escape; they are mapped to error codes.
func (e *Executor) Execute(ctx context.Context, cmd *protocol.AgentCommand) protocol.AgentResult {
	started := time.Now()

	if e.cfg.RequestTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.RequestTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	release, code := e.admit(ctx)
	if code != "" {
		result := protocol.Failure(code, "request admission failed", started)
		e.publishExecution(cmd, result)
		return result
	}
	defer release()

	if e.deps.Guards != nil {
		if res := e.deps.Guards.Check(ctx, cmd); !res.Allowed {
			e.publish(metrics.GuardRejectionEvent{
				Stage:    res.Stage,
				Reason:   res.Category,
				TenantID: cmd.TenantID,
			})
			result := protocol.Failure(protocol.ErrCodeGuardRejected,
				fmt.Sprintf("%s: %s", res.Stage, res.Message), started)
			e.publishExecution(cmd, result)
			return result
		}
	}

	hctx := e.newHookContext(cmd)

	if e.deps.Hooks != nil {
		res, err := e.deps.Hooks.RunBeforeAgentStart(ctx, hctx)
		if err != nil {
			result := protocol.Failure(protocol.ErrCodeHookRejected, err.Error(), started)
			e.publishExecution(cmd, result)
			return result
		}
		if res.Decision != hooks.DecisionContinue {
			result := protocol.Failure(protocol.ErrCodeHookRejected, res.Reason, started)
			e.publishExecution(cmd, result)
			return result
		}
	}
	e.resolveCommand(hctx, cmd)

	selected := e.selectTools(ctx, cmd)
	toolNames := make([]string, len(selected))
	for i, info := range selected {
		toolNames[i] = info.Name
	}

	fingerprint := ""
	if e.cacheable(cmd) && e.deps.Cache != nil {
		fingerprint = cache.Fingerprint(cmd, toolNames)
		if cached, ok := e.deps.Cache.Get(fingerprint); ok {
			result := protocol.AgentResult{
				Success:    true,
				Content:    cached.Content,
				ToolsUsed:  cached.ToolsUsed,
				CacheHit:   true,
				DurationMs: time.Since(started).Milliseconds(),
			}
			// A critical after-complete hook fails cached responses the same
			// way it fails freshly computed ones.
			if hookErr := e.runAfterComplete(ctx, hctx, &result); hookErr != nil {
				result = protocol.Failure(protocol.ErrCodeHookRejected, hookErr.Error(), started)
			}
			e.publishExecution(cmd, result)
			return result
		}
	}

	messages := e.assembleMessages(ctx, cmd)

	content, model, err := e.runLoop(ctx, cmd, hctx, messages, selected, nil)
	if err != nil {
		result := protocol.Failure(e.errorCode(err), err.Error(), started)
		e.publishExecution(cmd, result)
		return result
	}

	content, err = e.boundary.Enforce(ctx, content, cmd.TenantID, e.lengthRetry(cmd, messages))
	if err != nil {
		result := protocol.Failure(protocol.ErrCodeOutputTooShort, err.Error(), started)
		e.publishExecution(cmd, result)
		return result
	}

	if e.deps.Filters != nil {
		content = e.deps.Filters.Apply(content, hctx)
	}

	if fingerprint != "" {
		e.deps.Cache.PutIfAbsent(fingerprint, &cache.CachedResponse{
			Content:   content,
			ToolsUsed: hctx.ToolsUsed(),
		})
	}

	if e.deps.Conversations != nil {
		e.deps.Conversations.SaveHistory(cmd, content)
	}

	result := protocol.AgentResult{
		Success:    true,
		Content:    content,
		ToolsUsed:  hctx.ToolsUsed(),
		DurationMs: time.Since(started).Milliseconds(),
		Model:      model,
	}
	if hookErr := e.runAfterComplete(ctx, hctx, &result); hookErr != nil {
		result = protocol.Failure(protocol.ErrCodeHookRejected, hookErr.Error(), started)
	}

	e.publishExecution(cmd, result)
	return result
}

// admit acquires the request permit. Returns a release func and an error code
// ("" on success).
func (e *Executor) admit(ctx context.Context) (func(), string) {
	if e.sem == nil {
		return func() {}, ""
	}
	if e.cfg.FailFast {
		if !e.sem.TryAcquire(1) {
			return nil, protocol.ErrCodeOverloaded
		}
		return func() { e.sem.Release(1) }, ""
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, protocol.ErrCodeQueueTimeout
		}
		return nil, protocol.ErrCodeTimeout
	}
	return func() { e.sem.Release(1) }, ""
}

func (e *Executor) newHookContext(cmd *protocol.AgentCommand) *hooks.Context {
	hctx := hooks.NewContext(cmd.UserID, cmd.UserPrompt)
	hctx.SetMetadata(hooks.MetaRunID, hctx.RunID)
	if cmd.TenantID != "" {
		hctx.SetMetadata(hooks.MetaTenantID, cmd.TenantID)
	}
	if cmd.UserID != "" {
		hctx.SetMetadata(hooks.MetaUserID, cmd.UserID)
	}
	if cmd.SessionID != "" {
		hctx.SetMetadata(hooks.MetaSessionID, cmd.SessionID)
	}
	return hctx
}

// resolveCommand folds before-start hook output into the effective command: a
// persona prompt resolved into the run metadata becomes the system prompt
// unless the command carries its own.
func (e *Executor) resolveCommand(hctx *hooks.Context, cmd *protocol.AgentCommand) {
	if cmd.SystemPrompt != "" {
		return
	}
	if v, ok := hctx.Metadata(hooks.MetaSystemPrompt); ok {
		if body, ok := v.(string); ok && body != "" {
			cmd.SystemPrompt = body
		}
	}
}

func (e *Executor) cacheable(cmd *protocol.AgentCommand) bool {
	var temperature float64
	if cmd.Temperature != nil {
		temperature = *cmd.Temperature
	}
	return temperature <= e.cfg.CacheableTemperature
}

// selectTools narrows the registry for this prompt, capping the offered set.
func (e *Executor) selectTools(ctx context.Context, cmd *protocol.AgentCommand) []tools.ToolInfo {
	if cmd.EffectiveMode() == protocol.ModeStandard || e.deps.Selector == nil {
		return nil
	}
	selected, err := e.deps.Selector.Select(ctx, cmd.UserPrompt)
	if err != nil {
		slog.Warn("Tool selection failed, continuing without tools", "error", err)
		return nil
	}
	if e.cfg.MaxToolsPerRequest > 0 && len(selected) > e.cfg.MaxToolsPerRequest {
		selected = selected[:e.cfg.MaxToolsPerRequest]
	}
	return selected
}

func (e *Executor) assembleMessages(ctx context.Context, cmd *protocol.AgentCommand) []protocol.Message {
	var messages []protocol.Message
	if e.deps.Conversations != nil {
		messages = e.deps.Conversations.LoadHistory(ctx, cmd)
	} else {
		messages = cmd.ConversationHistory
	}
	return append(messages, protocol.NewUserMessage(cmd.UserPrompt, cmd.Media...))
}

// toolEmitter observes per-tool lifecycle for streaming. Nil for sync runs.
type toolEmitter interface {
	ToolStart(name string)
	ToolEnd(name string)
}

// runLoop drives LLM iterations until the model produces a toolless answer.
// The loop performs at most maxToolCalls tool executions plus one final call.
func (e *Executor) runLoop(ctx context.Context, cmd *protocol.AgentCommand, hctx *hooks.Context, messages []protocol.Message, selected []tools.ToolInfo, emit toolEmitter) (string, string, error) {
	toolDefs := toolDefinitions(selected)
	maxToolCalls := cmd.MaxToolCalls
	if maxToolCalls <= 0 {
		maxToolCalls = e.cfg.MaxToolCalls
	}

	opts := llms.Options{
		Temperature:    cmd.Temperature,
		ResponseFormat: cmd.ResponseFormat,
	}

	toolCallCount := 0
	callIndex := 0
	budgetSpent := false

	for {
		// Trim before every request, including the first: stored history can
		// already exceed the window.
		if e.trimmer != nil {
			messages = e.trimmer.Trim(messages, cmd.SystemPrompt,
				e.cfg.MaxContextWindowTokens, e.cfg.OutputReserveTokens)
		}
		request := e.buildRequest(cmd, messages)

		opts.Tools = toolDefs
		completion, err := e.callLLM(ctx, request, opts)
		if err != nil {
			if e.deps.Fallback != nil && !llms.IsCancellation(err) && !errors.Is(err, breaker.ErrOpen) {
				if recovered := e.deps.Fallback.Attempt(ctx, request, opts); recovered != nil {
					e.recordUsage(cmd, recovered)
					return recovered.Text, recovered.Model, nil
				}
			}
			return "", "", err
		}
		e.recordUsage(cmd, completion)

		if len(completion.ToolCalls) == 0 || budgetSpent {
			return completion.Text, completion.Model, nil
		}

		for _, call := range completion.ToolCalls {
			call.CallIndex = callIndex
			callIndex++
		}
		messages = append(messages, protocol.NewAssistantMessage(completion.Text, completion.ToolCalls...))

		responses := e.runTools(ctx, cmd, hctx, completion.ToolCalls, emit)
		messages = append(messages, responses...)

		toolCallCount += len(completion.ToolCalls)
		if toolCallCount >= maxToolCalls {
			// Budget exhausted: one more toolless call for the final answer.
			toolDefs = nil
			budgetSpent = true
		}
	}
}

func (e *Executor) buildRequest(cmd *protocol.AgentCommand, messages []protocol.Message) []protocol.Message {
	request := make([]protocol.Message, 0, len(messages)+1)
	if cmd.SystemPrompt != "" {
		request = append(request, protocol.NewSystemMessage(cmd.SystemPrompt))
	}
	return append(request, messages...)
}

// callLLM invokes the provider through retry inside one breaker-protected
// execution: all attempts of a call count once toward the breaker.
func (e *Executor) callLLM(ctx context.Context, request []protocol.Message, opts llms.Options) (*llms.Completion, error) {
	call := func(ctx context.Context) (*llms.Completion, error) {
		return retry.Do(ctx, e.deps.Retry, func(ctx context.Context, attempt int) (*llms.Completion, error) {
			return e.deps.Provider.Complete(ctx, request, opts)
		})
	}

	if e.deps.Breaker == nil {
		return call(ctx)
	}

	var completion *llms.Completion
	err := e.deps.Breaker.Execute(ctx, func(ctx context.Context) error {
		c, err := call(ctx)
		if err != nil {
			return err
		}
		completion = c
		return nil
	})
	if err != nil {
		return nil, err
	}
	return completion, nil
}

// runTools executes one iteration's tool calls in parallel, bounded by the
// tool-parallelism limit. All responses are collected before returning
// (barrier); ordering matches the call order.
func (e *Executor) runTools(ctx context.Context, cmd *protocol.AgentCommand, hctx *hooks.Context, calls []*protocol.ToolCall, emit toolEmitter) []protocol.Message {
	limit := e.cfg.MaxParallelTools
	if limit <= 0 {
		limit = 1
	}

	sem := semaphore.NewWeighted(int64(limit))
	responses := make([]protocol.Message, len(calls))
	var wg sync.WaitGroup

	for i, call := range calls {
		wg.Add(1)
		go func(i int, call *protocol.ToolCall) {
			defer wg.Done()
			if err := sem.Acquire(ctx, 1); err != nil {
				responses[i] = protocol.NewToolResponse(call.Name, "tool execution cancelled")
				return
			}
			defer sem.Release(1)
			responses[i] = e.runTool(ctx, cmd, hctx, call, emit)
		}(i, call)
	}
	wg.Wait()

	return responses
}

// runTool executes one tool call with hook dispatch and a per-call timeout.
// Failures become the tool response text; they never fail the request.
func (e *Executor) runTool(ctx context.Context, cmd *protocol.AgentCommand, hctx *hooks.Context, call *protocol.ToolCall, emit toolEmitter) protocol.Message {
	tctx := &hooks.ToolContext{
		Name:      call.Name,
		Arguments: call.Arguments,
		CallIndex: call.CallIndex,
	}

	if e.deps.Hooks != nil {
		res, err := e.deps.Hooks.RunBeforeToolCall(ctx, hctx, tctx)
		if err != nil {
			return protocol.NewToolResponse(call.Name, fmt.Sprintf("tool call blocked: %v", err))
		}
		switch res.Decision {
		case hooks.DecisionReject:
			return protocol.NewToolResponse(call.Name, "tool call rejected: "+res.Reason)
		case hooks.DecisionPendingApproval:
			return protocol.NewToolResponse(call.Name, "tool call pending approval: "+res.Message)
		}
	}

	if emit != nil {
		emit.ToolStart(call.Name)
		defer emit.ToolEnd(call.Name)
	}

	started := time.Now()
	timeout := time.Duration(e.cfg.ToolCallTimeoutMs) * time.Millisecond
	output, err := e.deps.Registry.Execute(ctx, call.Name, tctx.Arguments, timeout)
	durationMs := time.Since(started).Milliseconds()

	success := err == nil
	if err != nil {
		// The model sees the error string as the tool response.
		output = fmt.Sprintf("tool error: %v", err)
		slog.Warn("Tool call failed", "tool", call.Name, "error", err)
	} else {
		hctx.RecordToolUse(call.Name)
	}

	e.publish(metrics.ToolCallEvent{
		Name:       call.Name,
		DurationMs: durationMs,
		Success:    success,
		TenantID:   cmd.TenantID,
	})

	if e.deps.Hooks != nil {
		if hookErr := e.deps.Hooks.RunAfterToolCall(ctx, hctx, tctx, output); hookErr != nil {
			output = fmt.Sprintf("tool result rejected: %v", hookErr)
		}
	}

	return protocol.NewToolResponse(call.Name, output)
}

// lengthRetry builds the single re-ask used by the RETRY_ONCE boundary mode.
func (e *Executor) lengthRetry(cmd *protocol.AgentCommand, messages []protocol.Message) retryForLength {
	return func(ctx context.Context, continuation string) (string, error) {
		request := e.buildRequest(cmd, messages)
		request = append(request, protocol.NewUserMessage(continuation))
		completion, err := e.callLLM(ctx, request, llms.Options{Temperature: cmd.Temperature})
		if err != nil {
			return "", err
		}
		e.recordUsage(cmd, completion)
		return completion.Text, nil
	}
}

func (e *Executor) runAfterComplete(ctx context.Context, hctx *hooks.Context, result *protocol.AgentResult) error {
	if e.deps.Hooks == nil {
		return nil
	}
	return e.deps.Hooks.RunAfterAgentComplete(ctx, hctx, result)
}

func (e *Executor) recordUsage(cmd *protocol.AgentCommand, completion *llms.Completion) {
	e.publish(metrics.TokenUsageEvent{
		Provider:         e.cfg.Provider,
		Model:            completion.Model,
		Time:             time.Now(),
		PromptTokens:     completion.Usage.PromptTokens,
		CachedTokens:     completion.Usage.CachedTokens,
		CompletionTokens: completion.Usage.CompletionTokens,
		ReasoningTokens:  completion.Usage.ReasoningTokens,
		TenantID:         cmd.TenantID,
	})
}

func (e *Executor) publishExecution(cmd *protocol.AgentCommand, result protocol.AgentResult) {
	e.publish(metrics.ExecutionEvent{
		DurationMs: result.DurationMs,
		Success:    result.Success,
		ErrorCode:  result.ErrorCode,
		TenantID:   cmd.TenantID,
	})
}

func (e *Executor) publish(event metrics.Event) {
	if e.deps.Ring == nil {
		return
	}
	e.deps.Ring.Publish(event)
}

// errorCode maps an internal error onto a caller-visible code.
func (e *Executor) errorCode(err error) string {
	switch {
	case errors.Is(err, breaker.ErrOpen):
		return protocol.ErrCodeCircuitBreakerOpen
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return protocol.ErrCodeTimeout
	}

	var perr *llms.ProviderError
	if errors.As(err, &perr) {
		if perr.StatusCode == 408 || perr.StatusCode == 504 {
			return protocol.ErrCodeTimeout
		}
		if perr.StatusCode == 0 {
			// Transport-level failure; timeouts surface here.
			return protocol.ErrCodeTimeout
		}
		return protocol.ErrCodeLLMFailed
	}
	return protocol.ErrCodeLLMFailed
}

// toolDefinitions converts registry descriptors to the provider shape.
func toolDefinitions(infos []tools.ToolInfo) []llms.ToolDefinition {
	if len(infos) == 0 {
		return nil
	}
	defs := make([]llms.ToolDefinition, 0, len(infos))
	for _, info := range infos {
		var params map[string]any
		if info.InputSchema != "" {
			if err := json.Unmarshal([]byte(info.InputSchema), &params); err != nil {
				slog.Warn("Invalid tool schema, offering without parameters",
					"tool", info.Name, "error", err)
				params = map[string]any{"type": "object"}
			}
		}
		defs = append(defs, llms.ToolDefinition{
			Name:        info.Name,
			Description: info.Description,
			Parameters:  params,
		})
	}
	return defs
}
