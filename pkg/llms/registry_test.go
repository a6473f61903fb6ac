package llms_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/servo-ai/servo/pkg/llms"
	"github.com/servo-ai/servo/pkg/protocol"
)

type staticProvider struct{ model string }

func (p *staticProvider) Complete(ctx context.Context, messages []protocol.Message, opts llms.Options) (*llms.Completion, error) {
	return &llms.Completion{Text: "ok", Model: p.model}, nil
}

func (p *staticProvider) Stream(ctx context.Context, messages []protocol.Message, opts llms.Options) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk)
	close(ch)
	return ch, nil
}

func (p *staticProvider) ModelName() string { return p.model }

func TestRegistry_RegisterAndGet(t *testing.T) {
	reg := llms.NewRegistry()
	primary := &staticProvider{model: "gpt-4o"}

	require.NoError(t, reg.Register("gpt-4o", primary))

	got, err := reg.Get("gpt-4o")
	require.NoError(t, err)
	assert.Same(t, llms.Provider(primary), got)

	_, err = reg.Get("missing")
	assert.Error(t, err)
}

func TestRegistry_RejectsDuplicatesAndNil(t *testing.T) {
	reg := llms.NewRegistry()
	require.NoError(t, reg.Register("a", &staticProvider{model: "a"}))

	assert.Error(t, reg.Register("a", &staticProvider{model: "a"}))
	assert.Error(t, reg.Register("", &staticProvider{model: "x"}))
	assert.Error(t, reg.Register("b", nil))
}

func TestProviderError_Classification(t *testing.T) {
	tests := []struct {
		name      string
		err       error
		transient bool
	}{
		{"server error", &llms.ProviderError{StatusCode: 503}, true},
		{"rate limited", &llms.ProviderError{StatusCode: 429}, true},
		{"request timeout", &llms.ProviderError{StatusCode: 408}, true},
		{"transport failure", &llms.ProviderError{StatusCode: 0, Message: "conn reset"}, true},
		{"auth failure", &llms.ProviderError{StatusCode: 401}, false},
		{"bad request", &llms.ProviderError{StatusCode: 400}, false},
		{"cancellation", context.Canceled, false},
		{"plain error", errors.New("boom"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.transient, llms.IsTransient(tt.err))
		})
	}
}

func TestIsCancellation(t *testing.T) {
	assert.True(t, llms.IsCancellation(context.Canceled))
	assert.True(t, llms.IsCancellation(context.DeadlineExceeded))
	assert.False(t, llms.IsCancellation(errors.New("other")))

	wrapped := &llms.ProviderError{StatusCode: 0, Err: context.Canceled}
	assert.True(t, llms.IsCancellation(wrapped))
}
