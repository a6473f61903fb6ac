package llms

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/servo-ai/servo/pkg/protocol"
)

// Provider is the outbound LLM boundary. Implementations live outside the
// core (SDK adapters); the core only depends on this interface.
type Provider interface {
	// Complete performs a non-streaming request.
	Complete(ctx context.Context, messages []protocol.Message, opts Options) (*Completion, error)

	// Stream performs a streaming request. The returned channel is closed
	// after the final chunk; a chunk with Err set terminates the stream.
	Stream(ctx context.Context, messages []protocol.Message, opts Options) (<-chan StreamChunk, error)

	// ModelName identifies the default model served by this provider.
	ModelName() string
}

// ProviderError is a classified failure from an outbound call. StatusCode is
// zero for transport-level failures.
type ProviderError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
	Err        error
}

func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("llm provider: HTTP %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("llm provider: %s", e.Message)
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// Transient reports whether this failure is worth retrying: I/O errors,
// server errors, and rate limiting. Auth and bad-request failures are not.
func (e *ProviderError) Transient() bool {
	if e.StatusCode == 0 {
		return true // transport-level I/O failure
	}
	switch e.StatusCode {
	case http.StatusTooManyRequests,
		http.StatusRequestTimeout:
		return true
	}
	return e.StatusCode >= 500
}

// RateLimited reports whether this failure is an upstream 429.
func (e *ProviderError) RateLimited() bool {
	return e.StatusCode == http.StatusTooManyRequests
}

// IsTransient classifies an arbitrary error for retry purposes. Cancellation
// is never transient.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Transient()
	}
	// Unclassified errors are treated as transient I/O failures.
	return true
}

// IsRateLimited reports whether err is an upstream rate-limit rejection.
func IsRateLimited(err error) bool {
	var pe *ProviderError
	return errors.As(err, &pe) && pe.RateLimited()
}

// IsCancellation reports whether err is cooperative cancellation. Cancelled
// calls never count as failures anywhere in the core.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}
