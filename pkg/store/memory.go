package store

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/servo-ai/servo/pkg/memory"
	"github.com/servo-ai/servo/pkg/protocol"
)

// MemoryStore persists conversation turns. Implements memory.MemoryStore.
type MemoryStore struct {
	store *Store
}

func NewMemoryStore(store *Store) *MemoryStore {
	return &MemoryStore{store: store}
}

func (m *MemoryStore) Get(sessionID string) ([]protocol.Message, error) {
	rows, err := m.store.db.Query(
		`SELECT role, content FROM conversation_messages WHERE session_id = ? ORDER BY id`,
		sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load session %q: %w", sessionID, err)
	}
	defer rows.Close()

	var messages []protocol.Message
	for rows.Next() {
		var role, content string
		if err := rows.Scan(&role, &content); err != nil {
			return nil, err
		}
		messages = append(messages, protocol.Message{Role: protocol.Role(role), Content: content})
	}
	return messages, rows.Err()
}

func (m *MemoryStore) AddMessage(sessionID string, role protocol.Role, content string, userID string) error {
	_, err := m.store.db.Exec(
		`INSERT INTO conversation_messages (session_id, role, content, user_id) VALUES (?, ?, ?, ?)`,
		sessionID, string(role), content, userID)
	if err != nil {
		return fmt.Errorf("failed to append message: %w", err)
	}
	return nil
}

func (m *MemoryStore) DeleteSession(sessionID string) error {
	_, err := m.store.db.Exec(`DELETE FROM conversation_messages WHERE session_id = ?`, sessionID)
	return err
}

// SummaryStore persists hierarchical summaries. Implements
// memory.SummaryStore; SummarizedUpToIndex is kept monotonic in SQL.
type SummaryStore struct {
	store *Store
}

func NewSummaryStore(store *Store) *SummaryStore {
	return &SummaryStore{store: store}
}

func (s *SummaryStore) Find(sessionID string) (*memory.ConversationSummary, error) {
	row := s.store.db.QueryRow(
		`SELECT narrative, facts, summarized_up_to_index, created_at, updated_at
		 FROM conversation_summaries WHERE session_id = ?`, sessionID)

	var summary memory.ConversationSummary
	var factsJSON string
	err := row.Scan(&summary.Narrative, &factsJSON, &summary.SummarizedUpToIndex,
		&summary.CreatedAt, &summary.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load summary for %q: %w", sessionID, err)
	}

	summary.SessionID = sessionID
	if err := json.Unmarshal([]byte(factsJSON), &summary.Facts); err != nil {
		return nil, fmt.Errorf("corrupt facts for session %q: %w", sessionID, err)
	}
	return &summary, nil
}

func (s *SummaryStore) Save(summary *memory.ConversationSummary) error {
	factsJSON, err := json.Marshal(summary.Facts)
	if err != nil {
		return fmt.Errorf("failed to encode facts: %w", err)
	}

	now := time.Now().UTC()
	_, err = s.store.db.Exec(`
		INSERT INTO conversation_summaries
			(session_id, narrative, facts, summarized_up_to_index, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			narrative = excluded.narrative,
			facts = excluded.facts,
			summarized_up_to_index = excluded.summarized_up_to_index,
			updated_at = excluded.updated_at
		WHERE excluded.summarized_up_to_index >= conversation_summaries.summarized_up_to_index`,
		summary.SessionID, summary.Narrative, string(factsJSON),
		summary.SummarizedUpToIndex, now, now)
	if err != nil {
		return fmt.Errorf("failed to save summary: %w", err)
	}
	return nil
}

func (s *SummaryStore) Delete(sessionID string) error {
	_, err := s.store.db.Exec(`DELETE FROM conversation_summaries WHERE session_id = ?`, sessionID)
	return err
}

// UserMemoryStore persists long-lived per-user facts. Implements
// memory.UserMemoryStore.
type UserMemoryStore struct {
	store *Store
}

func NewUserMemoryStore(store *Store) *UserMemoryStore {
	return &UserMemoryStore{store: store}
}

func (u *UserMemoryStore) List(userID string) ([]memory.UserMemory, error) {
	rows, err := u.store.db.Query(
		`SELECT key, value, updated_at FROM user_memories WHERE user_id = ? ORDER BY key`,
		userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list user memories: %w", err)
	}
	defer rows.Close()

	var memories []memory.UserMemory
	for rows.Next() {
		m := memory.UserMemory{UserID: userID}
		if err := rows.Scan(&m.Key, &m.Value, &m.UpdatedAt); err != nil {
			return nil, err
		}
		memories = append(memories, m)
	}
	return memories, rows.Err()
}

func (u *UserMemoryStore) Put(userID, key, value string) error {
	_, err := u.store.db.Exec(`
		INSERT INTO user_memories (user_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at`,
		userID, key, value, time.Now().UTC())
	return err
}

func (u *UserMemoryStore) Delete(userID, key string) error {
	_, err := u.store.db.Exec(`DELETE FROM user_memories WHERE user_id = ? AND key = ?`, userID, key)
	return err
}
