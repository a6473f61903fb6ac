package executor

import (
	"context"
	"time"

	"github.com/servo-ai/servo/pkg/cache"
	"github.com/servo-ai/servo/pkg/hooks"
	"github.com/servo-ai/servo/pkg/llms"
	"github.com/servo-ai/servo/pkg/metrics"
	"github.com/servo-ai/servo/pkg/protocol"
	"github.com/servo-ai/servo/pkg/retry"
	"github.com/servo-ai/servo/pkg/tools"
)

// StreamExecutor runs the same loop as Executor but emits incremental
// events. Done is always the terminal event; failures emit Error then Done.
type StreamExecutor struct {
	exec *Executor
}

func NewStreamExecutor(exec *Executor) *StreamExecutor {
	return &StreamExecutor{exec: exec}
}

// ExecuteStream starts the computation and returns its event sequence.
// Cancelling ctx (client disconnect) cancels the producer cooperatively.
func (s *StreamExecutor) ExecuteStream(ctx context.Context, cmd *protocol.AgentCommand) <-chan protocol.StreamEvent {
	events := make(chan protocol.StreamEvent, 64)
	go s.run(ctx, cmd, events)
	return events
}

type streamEmitter struct {
	ctx    context.Context
	events chan<- protocol.StreamEvent
}

func (em *streamEmitter) send(ev protocol.StreamEvent) bool {
	select {
	case em.events <- ev:
		return true
	case <-em.ctx.Done():
		return false
	}
}

func (em *streamEmitter) ToolStart(name string) { em.send(protocol.ToolStartEvent(name)) }
func (em *streamEmitter) ToolEnd(name string)   { em.send(protocol.ToolEndEvent(name)) }

func (s *StreamExecutor) run(ctx context.Context, cmd *protocol.AgentCommand, events chan<- protocol.StreamEvent) {
	defer close(events)

	e := s.exec
	started := time.Now()

	// The emitter is gated on the caller's context only: an expired internal
	// deadline must still deliver the terminal Error and Done events.
	callerCtx := ctx
	em := &streamEmitter{ctx: callerCtx, events: events}

	fail := func(code string) {
		em.send(protocol.ErrorEvent(code))
		em.send(protocol.DoneEvent())
		e.publishExecution(cmd, protocol.Failure(code, code, started))
	}

	// Structured output is incompatible with incremental emission.
	if cmd.ResponseFormat == protocol.FormatJSON || cmd.ResponseFormat == protocol.FormatYAML {
		fail(protocol.ErrCodeInvalidResponse)
		return
	}

	if e.cfg.RequestTimeoutMs > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(e.cfg.RequestTimeoutMs)*time.Millisecond)
		defer cancel()
	}

	release, code := e.admit(ctx)
	if code != "" {
		fail(code)
		return
	}
	defer release()

	if e.deps.Guards != nil {
		if res := e.deps.Guards.Check(ctx, cmd); !res.Allowed {
			e.publish(metrics.GuardRejectionEvent{
				Stage:    res.Stage,
				Reason:   res.Category,
				TenantID: cmd.TenantID,
			})
			fail(protocol.ErrCodeGuardRejected)
			return
		}
	}

	hctx := e.newHookContext(cmd)

	if e.deps.Hooks != nil {
		res, err := e.deps.Hooks.RunBeforeAgentStart(ctx, hctx)
		if err != nil || res.Decision != hooks.DecisionContinue {
			fail(protocol.ErrCodeHookRejected)
			return
		}
	}
	e.resolveCommand(hctx, cmd)

	selected := e.selectTools(ctx, cmd)
	toolNames := make([]string, len(selected))
	for i, info := range selected {
		toolNames[i] = info.Name
	}

	if e.cacheable(cmd) && e.deps.Cache != nil {
		if cached, ok := e.deps.Cache.Get(cache.Fingerprint(cmd, toolNames)); ok {
			em.send(protocol.TextEvent(cached.Content))
			em.send(protocol.DoneEvent())
			result := protocol.AgentResult{
				Success:    true,
				Content:    cached.Content,
				ToolsUsed:  cached.ToolsUsed,
				CacheHit:   true,
				DurationMs: time.Since(started).Milliseconds(),
			}
			e.runAfterComplete(ctx, hctx, &result)
			e.publishExecution(cmd, result)
			return
		}
	}

	messages := e.assembleMessages(ctx, cmd)

	content, err := s.streamLoop(ctx, cmd, hctx, messages, selected, em)
	if err != nil {
		if callerCtx.Err() != nil {
			// Client disconnect: nobody is listening for terminal events.
			e.publishExecution(cmd, protocol.Failure(protocol.ErrCodeTimeout, err.Error(), started))
			return
		}
		fail(e.errorCode(err))
		return
	}

	if e.deps.Conversations != nil {
		e.deps.Conversations.SaveHistory(cmd, content)
	}

	result := protocol.AgentResult{
		Success:    true,
		Content:    content,
		ToolsUsed:  hctx.ToolsUsed(),
		DurationMs: time.Since(started).Milliseconds(),
	}
	e.runAfterComplete(ctx, hctx, &result)
	e.publishExecution(cmd, result)

	em.send(protocol.DoneEvent())
}

// streamLoop mirrors runLoop with incremental text emission. All Text events
// of an iteration precede that iteration's ToolStart events because each
// provider stream is consumed fully before tools run.
func (s *StreamExecutor) streamLoop(ctx context.Context, cmd *protocol.AgentCommand, hctx *hooks.Context, messages []protocol.Message, selected []tools.ToolInfo, em *streamEmitter) (string, error) {
	e := s.exec

	toolDefs := toolDefinitions(selected)
	maxToolCalls := cmd.MaxToolCalls
	if maxToolCalls <= 0 {
		maxToolCalls = e.cfg.MaxToolCalls
	}

	opts := llms.Options{Temperature: cmd.Temperature}

	toolCallCount := 0
	callIndex := 0
	budgetSpent := false

	for {
		if e.trimmer != nil {
			messages = e.trimmer.Trim(messages, cmd.SystemPrompt,
				e.cfg.MaxContextWindowTokens, e.cfg.OutputReserveTokens)
		}
		request := e.buildRequest(cmd, messages)

		opts.Tools = toolDefs
		completion, err := s.streamLLM(ctx, cmd, request, opts, em)
		if err != nil {
			return "", err
		}

		if len(completion.ToolCalls) == 0 || budgetSpent {
			return completion.Text, nil
		}

		for _, call := range completion.ToolCalls {
			call.CallIndex = callIndex
			callIndex++
		}
		messages = append(messages, protocol.NewAssistantMessage(completion.Text, completion.ToolCalls...))

		responses := e.runTools(ctx, cmd, hctx, completion.ToolCalls, em)
		messages = append(messages, responses...)

		toolCallCount += len(completion.ToolCalls)
		if toolCallCount >= maxToolCalls {
			toolDefs = nil
			budgetSpent = true
		}
	}
}

// streamLLM opens a provider stream and consumes it fully, emitting text as
// it arrives. Establishment failures retry; mid-stream failures do not, since
// partial text may already be delivered. The whole call counts once toward
// the breaker.
func (s *StreamExecutor) streamLLM(ctx context.Context, cmd *protocol.AgentCommand, request []protocol.Message, opts llms.Options, em *streamEmitter) (*llms.Completion, error) {
	e := s.exec

	consume := func(ctx context.Context) (*llms.Completion, error) {
		chunks, err := retry.Do(ctx, e.deps.Retry, func(ctx context.Context, attempt int) (<-chan llms.StreamChunk, error) {
			return e.deps.Provider.Stream(ctx, request, opts)
		})
		if err != nil {
			return nil, err
		}

		completion := &llms.Completion{}
		for chunk := range chunks {
			if chunk.Err != nil {
				return nil, chunk.Err
			}
			if chunk.Text != "" {
				completion.Text += chunk.Text
				if !em.send(protocol.TextEvent(chunk.Text)) {
					return nil, context.Canceled
				}
			}
			completion.ToolCalls = append(completion.ToolCalls, chunk.ToolCalls...)
			if chunk.Usage != nil {
				// Only the final chunk carries usage; absent means zero.
				completion.Usage = *chunk.Usage
			}
		}
		return completion, nil
	}

	var completion *llms.Completion
	run := func(ctx context.Context) error {
		c, err := consume(ctx)
		if err != nil {
			return err
		}
		completion = c
		return nil
	}

	var err error
	if e.deps.Breaker != nil {
		err = e.deps.Breaker.Execute(ctx, run)
	} else {
		err = run(ctx)
	}
	if err != nil {
		return nil, err
	}

	e.recordUsage(cmd, completion)
	return completion, nil
}
