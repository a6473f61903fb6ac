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

package memory_test

import (
	"context"
	"strings"
	"testing"

	"github.com/servo-ai/servo/pkg/llms"
	"github.com/servo-ai/servo/pkg/memory"
	"github.com/servo-ai/servo/pkg/protocol"
)

type scriptedProvider struct {
	response string
	requests [][]protocol.Message
}

func (p *scriptedProvider) Complete(ctx context.Context, messages []protocol.Message, opts llms.Options) (*llms.Completion, error) {
	p.requests = append(p.requests, messages)
	return &llms.Completion{Text: p.response}, nil
}

func (p *scriptedProvider) Stream(ctx context.Context, messages []protocol.Message, opts llms.Options) (<-chan llms.StreamChunk, error) {
	ch := make(chan llms.StreamChunk, 1)
	ch <- llms.StreamChunk{Text: p.response}
	close(ch)
	return ch, nil
}

func (p *scriptedProvider) ModelName() string { return "test-model" }

func TestLLMSummaryService_ParsesStructuredResponse(t *testing.T) {
	provider := &scriptedProvider{response: `FACTS:
- name: Alice
- city: Berlin

NARRATIVE:
Alice asked about travel plans.
She prefers trains.`}

	svc := memory.NewLLMSummaryService(provider)
	messages := []protocol.Message{
		protocol.NewUserMessage("I'm Alice from Berlin"),
		protocol.NewAssistantMessage("Nice to meet you"),
	}

	summary, err := svc.Summarize(context.Background(), "s1", messages, 2)
	if err != nil {
		t.Fatal(err)
	}

	if len(summary.Facts) != 2 {
		t.Fatalf("Facts = %v, want 2 entries", summary.Facts)
	}
	if summary.Facts[0].Key != "name" || summary.Facts[0].Value != "Alice" {
		t.Errorf("first fact = %+v", summary.Facts[0])
	}
	if summary.Narrative != "Alice asked about travel plans. She prefers trains." {
		t.Errorf("Narrative = %q", summary.Narrative)
	}
	if summary.SummarizedUpToIndex != 2 {
		t.Errorf("SummarizedUpToIndex = %d, want 2", summary.SummarizedUpToIndex)
	}
}

func TestLLMSummaryService_UnstructuredResponseBecomesNarrative(t *testing.T) {
	provider := &scriptedProvider{response: "They talked about the weather."}

	svc := memory.NewLLMSummaryService(provider)
	summary, err := svc.Summarize(context.Background(), "s1",
		[]protocol.Message{protocol.NewUserMessage("hi")}, 1)
	if err != nil {
		t.Fatal(err)
	}

	if len(summary.Facts) != 0 {
		t.Errorf("Facts = %v, want none", summary.Facts)
	}
	if summary.Narrative != "They talked about the weather." {
		t.Errorf("Narrative = %q", summary.Narrative)
	}
}

func TestLLMSummaryService_TranscriptCoversOnlyPrefix(t *testing.T) {
	provider := &scriptedProvider{response: "NARRATIVE:\nok"}

	svc := memory.NewLLMSummaryService(provider)
	messages := []protocol.Message{
		protocol.NewUserMessage("summarized"),
		protocol.NewUserMessage("kept out"),
	}
	if _, err := svc.Summarize(context.Background(), "s1", messages, 1); err != nil {
		t.Fatal(err)
	}

	if len(provider.requests) != 1 {
		t.Fatalf("provider called %d times, want 1", len(provider.requests))
	}
	transcript := provider.requests[0][len(provider.requests[0])-1].Content
	if !strings.Contains(transcript, "summarized") || strings.Contains(transcript, "kept out") {
		t.Errorf("transcript = %q, want only the prefix", transcript)
	}
}

func TestConversationSummary_Empty(t *testing.T) {
	tests := []struct {
		name    string
		summary *memory.ConversationSummary
		want    bool
	}{
		{"nil", nil, true},
		{"blank narrative no facts", &memory.ConversationSummary{Narrative: "  "}, true},
		{"has narrative", &memory.ConversationSummary{Narrative: "x"}, false},
		{"has facts", &memory.ConversationSummary{Facts: []memory.Fact{{Key: "k", Value: "v"}}}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.summary.Empty(); got != tt.want {
				t.Errorf("Empty() = %v, want %v", got, tt.want)
			}
		})
	}
}
