package hooks

import (
	"context"
	"fmt"
)

// MetaSystemPrompt carries a resolved persona prompt; the executor folds it
// into the request's system prompt.
const MetaSystemPrompt = "systemPrompt"

// PromptResolver supplies the active body of a named prompt template.
// Implemented by the versioned prompt store.
type PromptResolver interface {
	ActiveBody(name string) (string, error)
}

// PersonaHook resolves a versioned prompt template into the effective system
// prompt before any LLM work. Non-critical by default: a resolution failure
// falls through to the command's own prompt.
type PersonaHook struct {
	BaseHook
	resolver PromptResolver
	template string
}

func NewPersonaHook(resolver PromptResolver, template string) *PersonaHook {
	return &PersonaHook{
		BaseHook: BaseHook{HookName: "persona", HookOrder: 0, HookEnabled: true},
		resolver: resolver,
		template: template,
	}
}

func (h *PersonaHook) BeforeAgentStart(ctx context.Context, hctx *Context) (Result, error) {
	body, err := h.resolver.ActiveBody(h.template)
	if err != nil {
		return Result{}, fmt.Errorf("failed to resolve persona %q: %w", h.template, err)
	}
	if body != "" {
		hctx.SetMetadata(MetaSystemPrompt, body)
	}
	return Continue(), nil
}
