package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/servo-ai/servo/pkg/llms"
	"github.com/servo-ai/servo/pkg/protocol"
)

// SummaryService condenses a message prefix into facts and a narrative.
type SummaryService interface {
	// Summarize condenses messages[0:upTo]. An empty narrative with no facts
	// signals that no usable summary could be produced.
	Summarize(ctx context.Context, sessionID string, messages []protocol.Message, upTo int) (*ConversationSummary, error)
}

const summarySystemPrompt = `You condense conversation history. Given a transcript, respond with exactly two sections:

FACTS:
- key: value lines for durable facts (names, preferences, decisions, identifiers)

NARRATIVE:
A short paragraph summarizing what happened so far.`

// LLMSummaryService produces summaries via an LLM provider.
type LLMSummaryService struct {
	provider llms.Provider
}

func NewLLMSummaryService(provider llms.Provider) *LLMSummaryService {
	return &LLMSummaryService{provider: provider}
}

func (s *LLMSummaryService) Summarize(ctx context.Context, sessionID string, messages []protocol.Message, upTo int) (*ConversationSummary, error) {
	if upTo > len(messages) {
		upTo = len(messages)
	}

	var transcript strings.Builder
	for _, msg := range messages[:upTo] {
		if msg.Content == "" {
			continue
		}
		fmt.Fprintf(&transcript, "%s: %s\n", msg.Role, msg.Content)
	}

	request := []protocol.Message{
		protocol.NewSystemMessage(summarySystemPrompt),
		protocol.NewUserMessage(transcript.String()),
	}

	completion, err := s.provider.Complete(ctx, request, llms.Options{})
	if err != nil {
		return nil, fmt.Errorf("summarization call failed: %w", err)
	}

	facts, narrative := parseSummaryResponse(completion.Text)
	return &ConversationSummary{
		SessionID:           sessionID,
		Narrative:           narrative,
		Facts:               facts,
		SummarizedUpToIndex: upTo,
	}, nil
}

// parseSummaryResponse splits the model output into the FACTS list and the
// NARRATIVE paragraph. Unstructured output lands entirely in the narrative.
func parseSummaryResponse(text string) ([]Fact, string) {
	var facts []Fact
	var narrative []string

	section := ""
	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		upper := strings.ToUpper(trimmed)
		switch {
		case strings.HasPrefix(upper, "FACTS:"):
			section = "facts"
			continue
		case strings.HasPrefix(upper, "NARRATIVE:"):
			section = "narrative"
			continue
		}

		switch section {
		case "facts":
			entry := strings.TrimPrefix(trimmed, "- ")
			if key, value, ok := strings.Cut(entry, ":"); ok {
				facts = append(facts, Fact{
					Key:   strings.TrimSpace(key),
					Value: strings.TrimSpace(value),
				})
			}
		case "narrative":
			if trimmed != "" {
				narrative = append(narrative, trimmed)
			}
		default:
			if trimmed != "" {
				narrative = append(narrative, trimmed)
			}
		}
	}

	return facts, strings.Join(narrative, " ")
}

// Empty reports whether the summary carries no usable content.
func (s *ConversationSummary) Empty() bool {
	return s == nil || (strings.TrimSpace(s.Narrative) == "" && len(s.Facts) == 0)
}

// FactsText renders the fact list for injection as a system message.
func (s *ConversationSummary) FactsText() string {
	var b strings.Builder
	b.WriteString("Known facts from earlier in this conversation:\n")
	for _, f := range s.Facts {
		fmt.Fprintf(&b, "- %s: %s\n", f.Key, f.Value)
	}
	return strings.TrimRight(b.String(), "\n")
}
