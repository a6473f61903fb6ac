// Package filters post-processes non-streaming responses before they are
// persisted or returned.
package filters

import (
	"log/slog"

	"github.com/servo-ai/servo/pkg/hooks"
)

// Filter rewrites response content. Implementations must be idempotent:
// applying a filter to its own output is a no-op.
type Filter interface {
	Name() string

	Apply(content string, hctx *hooks.Context) (string, error)
}

// Chain applies filters in order. A failing filter is logged and skipped,
// passing the prior content forward.
type Chain struct {
	filters []Filter
}

func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Apply runs every filter over the content. Never fails.
func (c *Chain) Apply(content string, hctx *hooks.Context) string {
	for _, f := range c.filters {
		next, err := f.Apply(content, hctx)
		if err != nil {
			slog.Warn("Response filter failed, keeping prior content",
				"filter", f.Name(), "error", err)
			continue
		}
		content = next
	}
	return content
}

// Len returns the number of installed filters.
func (c *Chain) Len() int {
	return len(c.filters)
}

const truncationMarker = "... [truncated]"

// MaxLengthFilter truncates responses over a character limit, appending a
// marker. Zero or negative limits disable it.
type MaxLengthFilter struct {
	maxLength int
}

func NewMaxLengthFilter(maxLength int) *MaxLengthFilter {
	return &MaxLengthFilter{maxLength: maxLength}
}

func (f *MaxLengthFilter) Name() string {
	return "max_length"
}

func (f *MaxLengthFilter) Apply(content string, hctx *hooks.Context) (string, error) {
	if f.maxLength <= 0 || len(content) <= f.maxLength {
		return content, nil
	}
	runes := []rune(content)
	if len(runes) <= f.maxLength {
		return content, nil
	}
	cut := f.maxLength - len(truncationMarker)
	if cut < 0 {
		cut = 0
	}
	return string(runes[:cut]) + truncationMarker, nil
}
