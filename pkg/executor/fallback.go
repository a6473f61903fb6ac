package executor

import (
	"context"
	"log/slog"

	"github.com/servo-ai/servo/pkg/llms"
	"github.com/servo-ai/servo/pkg/protocol"
)

// ProviderResolver maps a model identifier to a registered provider.
// Satisfied by the llms provider registry.
type ProviderResolver interface {
	Get(name string) (llms.Provider, error)
}

// FallbackStrategy tries alternate models after the primary call has
// exhausted its retries. Each model gets one plain, toolless completion; the
// first success wins. Its own failures never replace the original error.
type FallbackStrategy struct {
	provider llms.Provider
	resolver ProviderResolver
	models   []string
}

func NewFallbackStrategy(provider llms.Provider, models []string) *FallbackStrategy {
	return &FallbackStrategy{provider: provider, models: models}
}

// WithResolver routes fallback models registered under their own provider
// through that provider; unregistered models stay on the primary with a model
// override.
func (f *FallbackStrategy) WithResolver(resolver ProviderResolver) *FallbackStrategy {
	f.resolver = resolver
	return f
}

// Attempt runs the fallback chain. Returns nil when every model failed.
func (f *FallbackStrategy) Attempt(ctx context.Context, messages []protocol.Message, opts llms.Options) *llms.Completion {
	opts.Tools = nil

	for _, model := range f.models {
		if ctx.Err() != nil {
			return nil
		}
		provider := f.provider
		if f.resolver != nil {
			if alt, err := f.resolver.Get(model); err == nil {
				provider = alt
			}
		}
		opts.Model = model
		completion, err := provider.Complete(ctx, messages, opts)
		if err != nil {
			slog.Warn("Fallback model failed", "model", model, "error", err)
			continue
		}
		slog.Info("Fallback model succeeded", "model", model)
		return completion
	}
	return nil
}
