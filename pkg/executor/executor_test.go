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

package executor_test

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/servo-ai/servo/pkg/breaker"
	"github.com/servo-ai/servo/pkg/cache"
	"github.com/servo-ai/servo/pkg/config"
	"github.com/servo-ai/servo/pkg/executor"
	"github.com/servo-ai/servo/pkg/guard"
	"github.com/servo-ai/servo/pkg/hooks"
	"github.com/servo-ai/servo/pkg/llms"
	"github.com/servo-ai/servo/pkg/metrics"
	"github.com/servo-ai/servo/pkg/protocol"
	"github.com/servo-ai/servo/pkg/retry"
	"github.com/servo-ai/servo/pkg/tools"
)

// mockProvider replays a script of completions or errors, one per call.
// The last step repeats once the script is exhausted.
type mockProvider struct {
	script   []providerStep
	calls    atomic.Int64
	requests [][]protocol.Message
}

type providerStep struct {
	completion *llms.Completion
	err        error
}

func reply(text string, toolCalls ...*protocol.ToolCall) providerStep {
	return providerStep{completion: &llms.Completion{
		Text:      text,
		ToolCalls: toolCalls,
		Model:     "test-model",
		Usage:     llms.Usage{PromptTokens: 10, CompletionTokens: 5},
	}}
}

func failure(err error) providerStep {
	return providerStep{err: err}
}

func (p *mockProvider) Complete(ctx context.Context, messages []protocol.Message, opts llms.Options) (*llms.Completion, error) {
	n := int(p.calls.Add(1)) - 1
	p.requests = append(p.requests, messages)
	step := p.script[min(n, len(p.script)-1)]
	if step.err != nil {
		return nil, step.err
	}
	return step.completion, nil
}

func (p *mockProvider) Stream(ctx context.Context, messages []protocol.Message, opts llms.Options) (<-chan llms.StreamChunk, error) {
	completion, err := p.Complete(ctx, messages, opts)
	if err != nil {
		return nil, err
	}
	ch := make(chan llms.StreamChunk, 2)
	ch <- llms.StreamChunk{Text: completion.Text, ToolCalls: completion.ToolCalls}
	ch <- llms.StreamChunk{Usage: &completion.Usage}
	close(ch)
	return ch, nil
}

func (p *mockProvider) ModelName() string { return "test-model" }

func newExecutor(t *testing.T, cfg *config.Config, deps executor.Deps) *executor.Executor {
	t.Helper()
	if cfg == nil {
		cfg = &config.Config{}
	}
	if deps.Retry.MaxAttempts == 0 {
		deps.Retry = retry.Policy{MaxAttempts: 1}
	}
	return executor.New(cfg, deps)
}

func TestExecute_SimplePrompt(t *testing.T) {
	provider := &mockProvider{script: []providerStep{reply("Hello! How can I help?")}}
	responses := cache.NewLRUCache(16, time.Minute)

	exec := newExecutor(t, nil, executor.Deps{
		Provider: provider,
		Cache:    responses,
	})

	cmd := &protocol.AgentCommand{UserPrompt: "hello"}
	result := exec.Execute(context.Background(), cmd)

	if !result.Success {
		t.Fatalf("Execute failed: %s %s", result.ErrorCode, result.ErrorMessage)
	}
	if result.Content != "Hello! How can I help?" {
		t.Errorf("Content = %q", result.Content)
	}
	if len(result.ToolsUsed) != 0 {
		t.Errorf("ToolsUsed = %v, want none", result.ToolsUsed)
	}
	if result.CacheHit {
		t.Error("first execution reported a cache hit")
	}
	if got := provider.calls.Load(); got != 1 {
		t.Errorf("provider called %d times, want 1", got)
	}

	// The same deterministic prompt is now served from cache.
	second := exec.Execute(context.Background(), cmd)
	if !second.Success || !second.CacheHit {
		t.Errorf("second execution = %+v, want cache hit", second)
	}
	if second.Content != result.Content {
		t.Errorf("cached content = %q, want %q", second.Content, result.Content)
	}
	if got := provider.calls.Load(); got != 1 {
		t.Errorf("provider called %d times after cache hit, want 1", got)
	}
}

func TestExecute_HighTemperatureBypassesCache(t *testing.T) {
	provider := &mockProvider{script: []providerStep{reply("creative")}}
	temp := 0.9

	exec := newExecutor(t, nil, executor.Deps{
		Provider: provider,
		Cache:    cache.NewLRUCache(16, time.Minute),
	})

	cmd := &protocol.AgentCommand{UserPrompt: "write a poem", Temperature: &temp}
	exec.Execute(context.Background(), cmd)
	exec.Execute(context.Background(), cmd)

	if got := provider.calls.Load(); got != 2 {
		t.Errorf("provider called %d times, want 2 for non-cacheable temperature", got)
	}
}

func TestExecute_GuardRejection(t *testing.T) {
	stage, err := guard.NewInputValidationStage(10, 10000, `rm\s+-rf\s+/`)
	if err != nil {
		t.Fatal(err)
	}
	provider := &mockProvider{script: []providerStep{reply("never")}}

	exec := newExecutor(t, nil, executor.Deps{
		Provider: provider,
		Guards:   guard.NewPipeline(stage),
	})

	result := exec.Execute(context.Background(), &protocol.AgentCommand{UserPrompt: "rm -rf / now"})
	if result.Success {
		t.Fatal("dangerous prompt succeeded")
	}
	if result.ErrorCode != protocol.ErrCodeGuardRejected {
		t.Errorf("ErrorCode = %q, want %q", result.ErrorCode, protocol.ErrCodeGuardRejected)
	}
	if !strings.Contains(result.ErrorMessage, "inputValidation") {
		t.Errorf("ErrorMessage = %q, want rejecting stage named", result.ErrorMessage)
	}
	if got := provider.calls.Load(); got != 0 {
		t.Errorf("provider called %d times after guard rejection, want 0", got)
	}
}

type rejectingHook struct {
	hooks.BaseHook
	reason string
}

func (h *rejectingHook) BeforeAgentStart(ctx context.Context, hctx *hooks.Context) (hooks.Result, error) {
	return hooks.Reject(h.reason), nil
}

func TestExecute_HookRejection(t *testing.T) {
	provider := &mockProvider{script: []providerStep{reply("never")}}

	exec := newExecutor(t, nil, executor.Deps{
		Provider: provider,
		Hooks: hooks.NewExecutor(&rejectingHook{
			BaseHook: hooks.BaseHook{HookName: "auth", HookOrder: 1, HookEnabled: true},
			reason:   "unauthorized",
		}),
	})

	result := exec.Execute(context.Background(), &protocol.AgentCommand{UserPrompt: "hi", UserID: "intruder"})
	if result.Success {
		t.Fatal("rejected run succeeded")
	}
	if result.ErrorCode != protocol.ErrCodeHookRejected {
		t.Errorf("ErrorCode = %q, want %q", result.ErrorCode, protocol.ErrCodeHookRejected)
	}
	if result.ErrorMessage != "unauthorized" {
		t.Errorf("ErrorMessage = %q", result.ErrorMessage)
	}
	if got := provider.calls.Load(); got != 0 {
		t.Errorf("provider called %d times after hook rejection, want 0", got)
	}
}

func toolRegistry(t *testing.T) *tools.Registry {
	t.Helper()
	r := tools.NewRegistry(0)
	r.RegisterLocal(tools.NewLocalTool("search", "searches", "web", `{"type":"object"}`,
		func(ctx context.Context, args map[string]any) (any, error) {
			return "search results for " + tools.Normalize(args["q"]), nil
		}))
	return r
}

func TestExecute_ToolLoop(t *testing.T) {
	provider := &mockProvider{script: []providerStep{
		reply("", &protocol.ToolCall{Name: "search", Arguments: map[string]any{"q": "weather"}}),
		reply("It is sunny."),
	}}
	registry := toolRegistry(t)

	cfg := &config.Config{}
	cfg.Executor.MaxToolCalls = 4

	exec := newExecutor(t, cfg, executor.Deps{
		Provider: provider,
		Registry: registry,
		Selector: tools.NewAllSelector(registry),
	})

	result := exec.Execute(context.Background(), &protocol.AgentCommand{UserPrompt: "weather?"})
	if !result.Success {
		t.Fatalf("Execute failed: %s", result.ErrorMessage)
	}
	if result.Content != "It is sunny." {
		t.Errorf("Content = %q", result.Content)
	}
	if len(result.ToolsUsed) != 1 || result.ToolsUsed[0] != "search" {
		t.Errorf("ToolsUsed = %v, want [search]", result.ToolsUsed)
	}

	// The second request carries the tool response back to the model.
	if len(provider.requests) != 2 {
		t.Fatalf("provider called %d times, want 2", len(provider.requests))
	}
	second := provider.requests[1]
	last := second[len(second)-1]
	if last.Role != protocol.RoleTool || !strings.Contains(last.Content, "search results") {
		t.Errorf("last message of second request = %+v, want the tool response", last)
	}
}

func TestExecute_ToolBudgetBoundsLLMCalls(t *testing.T) {
	// The model asks for a tool on every turn; the budget must still
	// terminate the loop after maxToolCalls+1 completions.
	provider := &mockProvider{script: []providerStep{
		reply("again", &protocol.ToolCall{Name: "search", Arguments: map[string]any{"q": "x"}}),
	}}
	registry := toolRegistry(t)

	cfg := &config.Config{}
	cfg.Executor.MaxToolCalls = 2

	exec := newExecutor(t, cfg, executor.Deps{
		Provider: provider,
		Registry: registry,
		Selector: tools.NewAllSelector(registry),
	})

	result := exec.Execute(context.Background(), &protocol.AgentCommand{UserPrompt: "loop forever"})
	if !result.Success {
		t.Fatalf("Execute failed: %s", result.ErrorMessage)
	}
	if got := provider.calls.Load(); got != 3 {
		t.Errorf("provider called %d times, want maxToolCalls+1 = 3", got)
	}
}

func TestExecute_ToolFailureBecomesResponseText(t *testing.T) {
	registry := tools.NewRegistry(0)
	registry.RegisterLocal(tools.NewLocalTool("flaky", "", "", `{}`,
		func(ctx context.Context, args map[string]any) (any, error) {
			return nil, context.DeadlineExceeded
		}))

	provider := &mockProvider{script: []providerStep{
		reply("", &protocol.ToolCall{Name: "flaky"}),
		reply("I could not look that up."),
	}}

	cfg := &config.Config{}
	cfg.Executor.MaxToolCalls = 4

	exec := newExecutor(t, cfg, executor.Deps{
		Provider: provider,
		Registry: registry,
		Selector: tools.NewAllSelector(registry),
	})

	result := exec.Execute(context.Background(), &protocol.AgentCommand{UserPrompt: "try it"})
	if !result.Success {
		t.Fatalf("tool failure failed the request: %s", result.ErrorMessage)
	}
	if len(result.ToolsUsed) != 0 {
		t.Errorf("ToolsUsed = %v, failed tools must not count", result.ToolsUsed)
	}

	second := provider.requests[1]
	last := second[len(second)-1]
	if last.Role != protocol.RoleTool || !strings.Contains(last.Content, "tool error") {
		t.Errorf("tool failure not surfaced to the model: %+v", last)
	}
}

func TestExecute_CircuitBreakerSequence(t *testing.T) {
	provider := &mockProvider{script: []providerStep{
		failure(&llms.ProviderError{StatusCode: 504, Message: "upstream timeout"}),
	}}

	exec := newExecutor(t, nil, executor.Deps{
		Provider: provider,
		Breaker: breaker.New("llm", breaker.Config{
			FailureThreshold: 2,
			ResetTimeout:     time.Hour,
		}, nil),
	})

	cmd := &protocol.AgentCommand{UserPrompt: "hi"}

	for i := 0; i < 2; i++ {
		result := exec.Execute(context.Background(), cmd)
		if result.Success || result.ErrorCode != protocol.ErrCodeTimeout {
			t.Fatalf("request %d = %s, want %s", i+1, result.ErrorCode, protocol.ErrCodeTimeout)
		}
	}

	result := exec.Execute(context.Background(), cmd)
	if result.ErrorCode != protocol.ErrCodeCircuitBreakerOpen {
		t.Fatalf("ErrorCode = %q, want %q", result.ErrorCode, protocol.ErrCodeCircuitBreakerOpen)
	}
	if got := provider.calls.Load(); got != 2 {
		t.Errorf("provider called %d times, want 2: open breaker must not call", got)
	}
}

func TestExecute_TruncatesOverlongOutput(t *testing.T) {
	provider := &mockProvider{script: []providerStep{reply("aaaaaaaaaaaa")}}

	cfg := &config.Config{}
	cfg.Boundary.OutputMaxChars = 10

	exec := newExecutor(t, cfg, executor.Deps{Provider: provider})

	result := exec.Execute(context.Background(), &protocol.AgentCommand{UserPrompt: "go"})
	if !result.Success {
		t.Fatalf("Execute failed: %s", result.ErrorMessage)
	}
	want := "aaaaaaaaaa" + executor.TruncatedMarker
	if result.Content != want {
		t.Errorf("Content = %q, want %q", result.Content, want)
	}
}

func TestExecute_ShortOutputFailMode(t *testing.T) {
	provider := &mockProvider{script: []providerStep{reply("hi")}}

	cfg := &config.Config{}
	cfg.Boundary.OutputMinChars = 50
	cfg.Boundary.OutputMinViolationMode = config.BoundaryFail

	exec := newExecutor(t, cfg, executor.Deps{Provider: provider})

	result := exec.Execute(context.Background(), &protocol.AgentCommand{UserPrompt: "go"})
	if result.Success {
		t.Fatal("short output succeeded under FAIL mode")
	}
	if result.ErrorCode != protocol.ErrCodeOutputTooShort {
		t.Errorf("ErrorCode = %q, want %q", result.ErrorCode, protocol.ErrCodeOutputTooShort)
	}
}

func TestExecute_ShortOutputRetryOnce(t *testing.T) {
	provider := &mockProvider{script: []providerStep{
		reply("hi"),
		reply("here is a properly detailed answer that satisfies the minimum"),
	}}

	cfg := &config.Config{}
	cfg.Boundary.OutputMinChars = 40
	cfg.Boundary.OutputMinViolationMode = config.BoundaryRetryOnce

	exec := newExecutor(t, cfg, executor.Deps{Provider: provider})

	result := exec.Execute(context.Background(), &protocol.AgentCommand{UserPrompt: "go"})
	if !result.Success {
		t.Fatalf("Execute failed: %s", result.ErrorMessage)
	}
	if len(result.Content) < 40 {
		t.Errorf("Content = %q, want the retried longer answer", result.Content)
	}
	if got := provider.calls.Load(); got != 2 {
		t.Errorf("provider called %d times, want 2", got)
	}
}

// charCounter counts one token per character for deterministic trimming.
type charCounter struct{}

func (charCounter) Count(text string) int { return len(text) }

func (charCounter) CountMessages(messages []protocol.Message) int {
	total := 0
	for _, m := range messages {
		total += len(m.Content)
	}
	return total
}

func TestExecute_TrimsHistoryBeforeFirstCall(t *testing.T) {
	provider := &mockProvider{script: []providerStep{reply("ok")}}

	cfg := &config.Config{}
	cfg.Executor.MaxContextWindowTokens = 50

	exec := newExecutor(t, cfg, executor.Deps{
		Provider:  provider,
		Estimator: charCounter{},
	})

	// 100 characters of stored history against a 50 token window: the very
	// first provider request must already be trimmed.
	var history []protocol.Message
	for i := 0; i < 10; i++ {
		role := protocol.RoleUser
		if i%2 == 1 {
			role = protocol.RoleAssistant
		}
		history = append(history, protocol.Message{Role: role, Content: "0123456789"})
	}

	result := exec.Execute(context.Background(), &protocol.AgentCommand{
		UserPrompt:          "question",
		ConversationHistory: history,
	})
	if !result.Success {
		t.Fatalf("Execute failed: %s", result.ErrorMessage)
	}

	first := provider.requests[0]
	total := 0
	for _, m := range first {
		total += len(m.Content)
	}
	if total > 50 {
		t.Errorf("first request carries %d characters, want <= 50 after trimming", total)
	}
	if len(first) >= len(history)+1 {
		t.Errorf("first request has %d messages, want oldest history dropped", len(first))
	}
	if last := first[len(first)-1]; last.Role != protocol.RoleUser || last.Content != "question" {
		t.Errorf("last message = %+v, want the new user prompt", last)
	}
}

type fakeResolver struct{ body string }

func (f fakeResolver) ActiveBody(name string) (string, error) { return f.body, nil }

func TestExecute_PersonaHookResolvesSystemPrompt(t *testing.T) {
	provider := &mockProvider{script: []providerStep{reply("ok")}}

	exec := newExecutor(t, nil, executor.Deps{
		Provider: provider,
		Hooks:    hooks.NewExecutor(hooks.NewPersonaHook(fakeResolver{body: "You are terse."}, "default")),
	})

	result := exec.Execute(context.Background(), &protocol.AgentCommand{UserPrompt: "hi"})
	if !result.Success {
		t.Fatalf("Execute failed: %s", result.ErrorMessage)
	}

	first := provider.requests[0]
	if first[0].Role != protocol.RoleSystem || first[0].Content != "You are terse." {
		t.Errorf("first message = %+v, want the resolved persona as system prompt", first[0])
	}
}

func TestExecute_PersonaHookKeepsExplicitSystemPrompt(t *testing.T) {
	provider := &mockProvider{script: []providerStep{reply("ok")}}

	exec := newExecutor(t, nil, executor.Deps{
		Provider: provider,
		Hooks:    hooks.NewExecutor(hooks.NewPersonaHook(fakeResolver{body: "persona"}, "default")),
	})

	exec.Execute(context.Background(), &protocol.AgentCommand{
		UserPrompt:   "hi",
		SystemPrompt: "explicit wins",
	})

	if got := provider.requests[0][0].Content; got != "explicit wins" {
		t.Errorf("system prompt = %q, the command's own prompt must win", got)
	}
}

func TestExecute_TokenUsageCarriesProviderLabel(t *testing.T) {
	provider := &mockProvider{script: []providerStep{reply("ok")}}
	ring := metrics.NewRingBuffer(64)

	cfg := &config.Config{}
	cfg.Executor.Provider = "openai"

	exec := newExecutor(t, cfg, executor.Deps{Provider: provider, Ring: ring})
	exec.Execute(context.Background(), &protocol.AgentCommand{UserPrompt: "hi"})

	var usage *metrics.TokenUsageEvent
	for _, event := range ring.Drain(64) {
		if u, ok := event.(metrics.TokenUsageEvent); ok {
			usage = &u
		}
	}
	if usage == nil {
		t.Fatal("no token usage event published")
	}
	if usage.Provider != "openai" {
		t.Errorf("Provider = %q, want the configured provider label", usage.Provider)
	}
	if usage.Model != "test-model" {
		t.Errorf("Model = %q, want the completion's model", usage.Model)
	}
}

// cacheAuditHook fails only cached responses, isolating the cache-hit path.
type cacheAuditHook struct {
	hooks.BaseHook
}

func (h *cacheAuditHook) AfterAgentComplete(ctx context.Context, hctx *hooks.Context, result *protocol.AgentResult) (hooks.Result, error) {
	if result.CacheHit {
		return hooks.Result{}, errors.New("stale entry")
	}
	return hooks.Continue(), nil
}

func TestExecute_CacheHitHonorsCriticalAfterHook(t *testing.T) {
	provider := &mockProvider{script: []providerStep{reply("answer")}}

	exec := newExecutor(t, nil, executor.Deps{
		Provider: provider,
		Cache:    cache.NewLRUCache(16, time.Minute),
		Hooks: hooks.NewExecutor(&cacheAuditHook{
			BaseHook: hooks.BaseHook{HookName: "audit", HookEnabled: true, Critical: true},
		}),
	})

	cmd := &protocol.AgentCommand{UserPrompt: "hello"}
	if first := exec.Execute(context.Background(), cmd); !first.Success {
		t.Fatalf("first execution failed: %s", first.ErrorMessage)
	}

	// The cached response must fail the same way a fresh one would.
	second := exec.Execute(context.Background(), cmd)
	if second.Success {
		t.Fatal("cache hit bypassed the critical after-complete hook")
	}
	if second.ErrorCode != protocol.ErrCodeHookRejected {
		t.Errorf("ErrorCode = %q, want %q", second.ErrorCode, protocol.ErrCodeHookRejected)
	}
}

func TestExecute_TruncationPreservesRuneBoundaries(t *testing.T) {
	provider := &mockProvider{script: []providerStep{reply(strings.Repeat("日", 12))}}

	cfg := &config.Config{}
	cfg.Boundary.OutputMaxChars = 10

	exec := newExecutor(t, cfg, executor.Deps{Provider: provider})

	result := exec.Execute(context.Background(), &protocol.AgentCommand{UserPrompt: "go"})
	if !result.Success {
		t.Fatalf("Execute failed: %s", result.ErrorMessage)
	}
	want := strings.Repeat("日", 10) + executor.TruncatedMarker
	if result.Content != want {
		t.Errorf("Content = %q, want %q", result.Content, want)
	}
	if !utf8.ValidString(result.Content) {
		t.Error("truncated content is not valid UTF-8")
	}
}

func TestExecute_FallbackResolvesRegisteredProvider(t *testing.T) {
	primary := &mockProvider{script: []providerStep{
		failure(&llms.ProviderError{StatusCode: 500, Message: "primary down"}),
	}}
	backup := &mockProvider{script: []providerStep{reply("served by backup")}}

	registry := llms.NewRegistry()
	if err := registry.Register("backup-model", backup); err != nil {
		t.Fatal(err)
	}

	exec := newExecutor(t, nil, executor.Deps{
		Provider: primary,
		Fallback: executor.NewFallbackStrategy(primary, []string{"backup-model"}).
			WithResolver(registry),
	})

	result := exec.Execute(context.Background(), &protocol.AgentCommand{UserPrompt: "hi"})
	if !result.Success {
		t.Fatalf("Execute failed despite fallback: %s", result.ErrorMessage)
	}
	if result.Content != "served by backup" {
		t.Errorf("Content = %q", result.Content)
	}
	if got := primary.calls.Load(); got != 1 {
		t.Errorf("primary called %d times, want 1", got)
	}
	if got := backup.calls.Load(); got != 1 {
		t.Errorf("backup provider called %d times, want 1", got)
	}
}

func TestExecute_FallbackRecoversPrimaryFailure(t *testing.T) {
	// Primary model fails twice (two fallback models are tried through the
	// same provider); the second fallback answer wins.
	provider := &mockProvider{script: []providerStep{
		failure(&llms.ProviderError{StatusCode: 500, Message: "primary down"}),
		reply("rescued by fallback"),
	}}

	exec := newExecutor(t, nil, executor.Deps{
		Provider: provider,
		Fallback: executor.NewFallbackStrategy(provider, []string{"backup-model"}),
	})

	result := exec.Execute(context.Background(), &protocol.AgentCommand{UserPrompt: "hi"})
	if !result.Success {
		t.Fatalf("Execute failed despite fallback: %s", result.ErrorMessage)
	}
	if result.Content != "rescued by fallback" {
		t.Errorf("Content = %q", result.Content)
	}
}

func TestExecute_OverloadedWhenSaturated(t *testing.T) {
	block := make(chan struct{})
	registry := tools.NewRegistry(0)
	registry.RegisterLocal(tools.NewLocalTool("wait", "", "", `{}`,
		func(ctx context.Context, args map[string]any) (any, error) {
			<-block
			return "ok", nil
		}))

	provider := &mockProvider{script: []providerStep{
		reply("", &protocol.ToolCall{Name: "wait"}),
		reply("done"),
	}}

	cfg := &config.Config{}
	cfg.Executor.MaxConcurrentRequests = 1
	cfg.Executor.FailFast = true
	cfg.Executor.MaxToolCalls = 4

	exec := newExecutor(t, cfg, executor.Deps{
		Provider: provider,
		Registry: registry,
		Selector: tools.NewAllSelector(registry),
	})

	done := make(chan protocol.AgentResult, 1)
	go func() {
		done <- exec.Execute(context.Background(), &protocol.AgentCommand{UserPrompt: "slow"})
	}()

	// Wait until the first request is inside the tool call, then saturate.
	deadline := time.After(2 * time.Second)
	for provider.calls.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first request never reached the provider")
		case <-time.After(time.Millisecond):
		}
	}

	second := exec.Execute(context.Background(), &protocol.AgentCommand{UserPrompt: "fast"})
	if second.Success || second.ErrorCode != protocol.ErrCodeOverloaded {
		t.Errorf("second request = %+v, want %s", second, protocol.ErrCodeOverloaded)
	}

	close(block)
	if first := <-done; !first.Success {
		t.Errorf("first request failed: %s", first.ErrorMessage)
	}
}
