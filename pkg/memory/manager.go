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

package memory

import (
	"context"
	"log/slog"
	"sync"

	"github.com/servo-ai/servo/pkg/protocol"
)

// ManagerConfig tunes hierarchical summarization.
type ManagerConfig struct {
	Enabled              bool
	TriggerMessageCount  int
	RecentMessageCount   int
	MaxConversationTurns int
}

func (c *ManagerConfig) withDefaults() ManagerConfig {
	cfg := *c
	if cfg.TriggerMessageCount <= 0 {
		cfg.TriggerMessageCount = 20
	}
	if cfg.RecentMessageCount <= 0 {
		cfg.RecentMessageCount = 8
	}
	if cfg.MaxConversationTurns <= 0 {
		cfg.MaxConversationTurns = 10
	}
	return cfg
}

// ConversationManager loads and saves session history, folding old turns into
// a hierarchical summary when sessions grow long.
type ConversationManager struct {
	cfg       ManagerConfig
	store     MemoryStore
	summaries SummaryStore
	service   SummaryService

	mu     sync.Mutex
	active map[string]*summaryJob
	wg     sync.WaitGroup
}

type summaryJob struct {
	cancel context.CancelFunc
}

// NewConversationManager wires the stores and the summary service. service
// may be nil when summarization is disabled.
func NewConversationManager(cfg ManagerConfig, store MemoryStore, summaries SummaryStore, service SummaryService) *ConversationManager {
	return &ConversationManager{
		cfg:       cfg.withDefaults(),
		store:     store,
		summaries: summaries,
		service:   service,
		active:    make(map[string]*summaryJob),
	}
}

// LoadHistory resolves the conversation context for a command. Explicit
// history on the command wins; otherwise the session store is consulted and,
// for long sessions, compressed hierarchically. Any summarization failure
// degrades to the most recent turns.
func (m *ConversationManager) LoadHistory(ctx context.Context, cmd *protocol.AgentCommand) []protocol.Message {
	if len(cmd.ConversationHistory) > 0 {
		return cmd.ConversationHistory
	}
	if cmd.SessionID == "" {
		return nil
	}

	messages, err := m.store.Get(cmd.SessionID)
	if err != nil {
		slog.Warn("Failed to load conversation history", "session_id", cmd.SessionID, "error", err)
		return nil
	}

	if !m.cfg.Enabled || m.service == nil || len(messages) <= m.cfg.TriggerMessageCount {
		return m.takeLast(messages)
	}

	compressed, err := m.hierarchical(ctx, cmd.SessionID, messages)
	if err != nil {
		slog.Warn("Hierarchical memory failed, using recent turns",
			"session_id", cmd.SessionID, "error", err)
		return m.takeLast(messages)
	}
	return compressed
}

// hierarchical returns [facts][narrative] + recent turns, reusing a persisted
// summary when it already covers the split point.
func (m *ConversationManager) hierarchical(ctx context.Context, sessionID string, messages []protocol.Message) ([]protocol.Message, error) {
	total := len(messages)
	splitIndex := total - m.cfg.RecentMessageCount
	if splitIndex < 0 {
		splitIndex = 0
	}

	summary, err := m.summaries.Find(sessionID)
	if err != nil {
		return nil, err
	}

	if summary == nil || summary.SummarizedUpToIndex < splitIndex {
		summary, err = m.service.Summarize(ctx, sessionID, messages, splitIndex)
		if err != nil {
			return nil, err
		}
		if err := m.summaries.Save(summary); err != nil {
			return nil, err
		}
	}

	if summary.Empty() {
		return m.takeLast(messages), nil
	}

	recent := messages[splitIndex:]
	result := make([]protocol.Message, 0, len(recent)+2)
	if len(summary.Facts) > 0 {
		result = append(result, protocol.NewSystemMessage(summary.FactsText()))
	}
	if summary.Narrative != "" {
		result = append(result, protocol.NewSystemMessage("Conversation so far: "+summary.Narrative))
	}
	result = append(result, recent...)
	return result, nil
}

func (m *ConversationManager) takeLast(messages []protocol.Message) []protocol.Message {
	limit := m.cfg.MaxConversationTurns * 2
	if len(messages) <= limit {
		return messages
	}
	return messages[len(messages)-limit:]
}

// SaveHistory appends the exchanged turns after a successful run and kicks
// off background summarization for the session.
func (m *ConversationManager) SaveHistory(cmd *protocol.AgentCommand, assistantContent string) {
	if cmd.SessionID == "" {
		return
	}

	if err := m.store.AddMessage(cmd.SessionID, protocol.RoleUser, cmd.UserPrompt, cmd.UserID); err != nil {
		slog.Warn("Failed to persist user turn", "session_id", cmd.SessionID, "error", err)
		return
	}
	if err := m.store.AddMessage(cmd.SessionID, protocol.RoleAssistant, assistantContent, cmd.UserID); err != nil {
		slog.Warn("Failed to persist assistant turn", "session_id", cmd.SessionID, "error", err)
		return
	}

	m.triggerSummarization(cmd.SessionID)
}

// triggerSummarization starts at most one background summarization per
// session, superseding any job already in flight.
func (m *ConversationManager) triggerSummarization(sessionID string) {
	if !m.cfg.Enabled || m.service == nil {
		return
	}

	messages, err := m.store.Get(sessionID)
	if err != nil || len(messages) <= m.cfg.TriggerMessageCount {
		return
	}

	splitIndex := len(messages) - m.cfg.RecentMessageCount
	if splitIndex <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	job := &summaryJob{cancel: cancel}

	m.mu.Lock()
	if prev, ok := m.active[sessionID]; ok {
		prev.cancel()
	}
	m.active[sessionID] = job
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer func() {
			m.mu.Lock()
			if m.active[sessionID] == job {
				delete(m.active, sessionID)
			}
			m.mu.Unlock()
			cancel()
		}()

		summary, err := m.service.Summarize(ctx, sessionID, messages, splitIndex)
		if err != nil {
			if ctx.Err() == nil {
				slog.Warn("Background summarization failed", "session_id", sessionID, "error", err)
			}
			return
		}
		if summary.Empty() {
			return
		}
		if err := m.summaries.Save(summary); err != nil {
			slog.Warn("Failed to persist summary", "session_id", sessionID, "error", err)
		}
	}()
}

// CancelActiveSummarization aborts any in-flight summarization for a session.
// Called before session deletion so a late write cannot resurrect state.
func (m *ConversationManager) CancelActiveSummarization(sessionID string) {
	m.mu.Lock()
	if job, ok := m.active[sessionID]; ok {
		job.cancel()
		delete(m.active, sessionID)
	}
	m.mu.Unlock()
}

// DeleteSession removes all persisted state for a session.
func (m *ConversationManager) DeleteSession(sessionID string) error {
	m.CancelActiveSummarization(sessionID)
	if err := m.summaries.Delete(sessionID); err != nil {
		return err
	}
	return m.store.DeleteSession(sessionID)
}

// Close waits for background summarizations to finish.
func (m *ConversationManager) Close() {
	m.mu.Lock()
	for _, job := range m.active {
		job.cancel()
	}
	m.mu.Unlock()
	m.wg.Wait()
}
