package memory

import (
	"github.com/servo-ai/servo/pkg/protocol"
)

// TokenCounter abstracts token estimation for trimming.
type TokenCounter interface {
	Count(text string) int
	CountMessages(messages []protocol.Message) int
}

// Trimmer bounds a conversation to the model's context window. Trimming
// removes whole messages, keeping assistant tool-call messages together with
// their tool responses and never dropping the final user message.
type Trimmer struct {
	estimator TokenCounter
}

func NewTrimmer(estimator TokenCounter) *Trimmer {
	return &Trimmer{estimator: estimator}
}

// unit is the atomic removal granularity: either one message, or an
// assistant-with-tool-calls message plus its trailing tool responses.
type unit struct {
	messages []protocol.Message
	hasTools bool
	start    int
}

// Trim drops messages until the conversation fits within
// maxContextTokens − tokens(systemPrompt) − outputReserveTokens.
func (t *Trimmer) Trim(messages []protocol.Message, systemPrompt string, maxContextTokens, outputReserveTokens int) []protocol.Message {
	budget := maxContextTokens - t.estimator.Count(systemPrompt) - outputReserveTokens

	lastUser := lastUserIndex(messages)
	if budget <= 0 {
		if lastUser < 0 {
			return nil
		}
		return []protocol.Message{messages[lastUser]}
	}

	if t.estimator.CountMessages(messages) <= budget {
		return messages
	}

	units := groupUnits(messages)

	// Phase 1: drop oldest units from the front, sparing any unit that
	// contains the last user message.
	kept := make([]unit, len(units))
	copy(kept, units)
	for len(kept) > 1 && t.total(kept) > budget {
		front := kept[0]
		if containsIndex(front, lastUser) {
			break
		}
		kept = kept[1:]
	}

	// Phase 2: still over budget, drop tool-interaction units after the last
	// user message, oldest first.
	for t.total(kept) > budget {
		removed := false
		for i, u := range kept {
			if u.hasTools && u.start > lastUser {
				kept = append(kept[:i], kept[i+1:]...)
				removed = true
				break
			}
		}
		if !removed {
			break
		}
	}

	var result []protocol.Message
	for _, u := range kept {
		result = append(result, u.messages...)
	}

	// The last user message survives every phase.
	if lastUser >= 0 && !containsMessage(result, messages[lastUser]) {
		result = append([]protocol.Message{messages[lastUser]}, result...)
	}
	if len(result) == 0 && lastUser >= 0 {
		result = []protocol.Message{messages[lastUser]}
	}
	return result
}

func (t *Trimmer) total(units []unit) int {
	var all []protocol.Message
	for _, u := range units {
		all = append(all, u.messages...)
	}
	return t.estimator.CountMessages(all)
}

// groupUnits splits the conversation into removal units, binding each
// assistant tool-call message to the tool responses that follow it.
func groupUnits(messages []protocol.Message) []unit {
	var units []unit
	for i := 0; i < len(messages); {
		msg := messages[i]
		if msg.Role == protocol.RoleAssistant && msg.HasToolCalls() {
			u := unit{messages: []protocol.Message{msg}, hasTools: true, start: i}
			j := i + 1
			for j < len(messages) && messages[j].Role == protocol.RoleTool {
				u.messages = append(u.messages, messages[j])
				j++
			}
			units = append(units, u)
			i = j
			continue
		}
		units = append(units, unit{messages: []protocol.Message{msg}, start: i})
		i++
	}
	return units
}

func lastUserIndex(messages []protocol.Message) int {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == protocol.RoleUser {
			return i
		}
	}
	return -1
}

func containsIndex(u unit, index int) bool {
	return index >= u.start && index < u.start+len(u.messages)
}

func containsMessage(messages []protocol.Message, target protocol.Message) bool {
	for _, m := range messages {
		if m.Role == target.Role && m.Content == target.Content {
			return true
		}
	}
	return false
}
