// Package tokens provides model-aware token counting for budget enforcement.
package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"

	"github.com/servo-ai/servo/pkg/protocol"
)

// Estimator counts tokens for a specific model's encoding.
type Estimator struct {
	encoding *tiktoken.Tiktoken
	model    string
}

var (
	// Encodings are expensive to build; share them across estimators.
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// NewEstimator creates an estimator for the given model. Unknown models fall
// back to the cl100k_base encoding.
func NewEstimator(model string) (*Estimator, error) {
	cacheMu.RLock()
	cached, exists := encodingCache[model]
	cacheMu.RUnlock()

	if exists {
		return &Estimator{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &Estimator{encoding: encoding, model: model}, nil
}

// Count returns the token count for text.
func (e *Estimator) Count(text string) int {
	return len(e.encoding.Encode(text, nil, nil))
}

// CountMessage counts a single message including per-message role overhead.
func (e *Estimator) CountMessage(msg protocol.Message) int {
	// <|start|>role<|message|>content<|end|>
	total := 3
	total += len(e.encoding.Encode(string(msg.Role), nil, nil))
	total += len(e.encoding.Encode(msg.Content, nil, nil))
	for _, tc := range msg.ToolCalls {
		total += len(e.encoding.Encode(tc.Name, nil, nil))
	}
	return total
}

// CountMessages counts tokens for a message list, including the reply priming
// overhead the model adds for the next assistant turn.
func (e *Estimator) CountMessages(messages []protocol.Message) int {
	total := 0
	for _, msg := range messages {
		total += e.CountMessage(msg)
	}
	// Every reply is primed with <|start|>assistant<|message|>
	total += 3
	return total
}

// Model returns the model name this estimator is configured for.
func (e *Estimator) Model() string {
	return e.model
}
