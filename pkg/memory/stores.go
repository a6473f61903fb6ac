// Package memory provides conversation persistence and hierarchical
// summarization of long sessions.
package memory

import (
	"sort"
	"sync"
	"time"

	"github.com/servo-ai/servo/pkg/protocol"
)

// MemoryStore persists conversation turns per session. Implementations must
// be safe for concurrent use across sessions.
type MemoryStore interface {
	Get(sessionID string) ([]protocol.Message, error)

	AddMessage(sessionID string, role protocol.Role, content string, userID string) error

	DeleteSession(sessionID string) error
}

// Fact is one structured key→value extracted by summarization. Order is
// preserved.
type Fact struct {
	Key   string
	Value string
}

// ConversationSummary is the persisted hierarchical summary of one session.
// SummarizedUpToIndex never decreases for a session.
type ConversationSummary struct {
	SessionID           string
	Narrative           string
	Facts               []Fact
	SummarizedUpToIndex int
	CreatedAt           time.Time
	UpdatedAt           time.Time
}

// SummaryStore persists conversation summaries.
type SummaryStore interface {
	Find(sessionID string) (*ConversationSummary, error)

	// Save upserts the summary. Implementations must keep
	// SummarizedUpToIndex monotonic, ignoring writes that would lower it.
	Save(summary *ConversationSummary) error

	Delete(sessionID string) error
}

// UserMemory is one long-lived per-user fact.
type UserMemory struct {
	UserID    string
	Key       string
	Value     string
	UpdatedAt time.Time
}

// UserMemoryStore persists facts that outlive sessions.
type UserMemoryStore interface {
	List(userID string) ([]UserMemory, error)

	Put(userID, key, value string) error

	Delete(userID, key string) error
}

type storedMessage struct {
	role    protocol.Role
	content string
	userID  string
}

// InMemoryStore is a MemoryStore backed by process memory.
type InMemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]storedMessage
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{sessions: make(map[string][]storedMessage)}
}

func (s *InMemoryStore) Get(sessionID string) ([]protocol.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stored := s.sessions[sessionID]
	messages := make([]protocol.Message, 0, len(stored))
	for _, m := range stored {
		messages = append(messages, protocol.Message{Role: m.role, Content: m.content})
	}
	return messages, nil
}

func (s *InMemoryStore) AddMessage(sessionID string, role protocol.Role, content string, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sessionID] = append(s.sessions[sessionID], storedMessage{role: role, content: content, userID: userID})
	return nil
}

func (s *InMemoryStore) DeleteSession(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	return nil
}

// InMemorySummaryStore is a SummaryStore backed by process memory.
type InMemorySummaryStore struct {
	mu        sync.RWMutex
	summaries map[string]*ConversationSummary
	now       func() time.Time
}

func NewInMemorySummaryStore() *InMemorySummaryStore {
	return &InMemorySummaryStore{
		summaries: make(map[string]*ConversationSummary),
		now:       time.Now,
	}
}

func (s *InMemorySummaryStore) Find(sessionID string) (*ConversationSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	summary, ok := s.summaries[sessionID]
	if !ok {
		return nil, nil
	}
	copied := *summary
	copied.Facts = append([]Fact(nil), summary.Facts...)
	return &copied, nil
}

func (s *InMemorySummaryStore) Save(summary *ConversationSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.summaries[summary.SessionID]
	if ok && existing.SummarizedUpToIndex > summary.SummarizedUpToIndex {
		// Monotonicity: never regress the summarized prefix.
		return nil
	}

	copied := *summary
	copied.Facts = append([]Fact(nil), summary.Facts...)
	copied.UpdatedAt = s.now()
	if ok {
		copied.CreatedAt = existing.CreatedAt
	} else {
		copied.CreatedAt = copied.UpdatedAt
	}
	s.summaries[summary.SessionID] = &copied
	return nil
}

func (s *InMemorySummaryStore) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.summaries, sessionID)
	return nil
}

// InMemoryUserMemoryStore is a UserMemoryStore backed by process memory.
type InMemoryUserMemoryStore struct {
	mu    sync.RWMutex
	facts map[string]map[string]UserMemory
	now   func() time.Time
}

func NewInMemoryUserMemoryStore() *InMemoryUserMemoryStore {
	return &InMemoryUserMemoryStore{
		facts: make(map[string]map[string]UserMemory),
		now:   time.Now,
	}
}

func (s *InMemoryUserMemoryStore) List(userID string) ([]UserMemory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byKey := s.facts[userID]
	memories := make([]UserMemory, 0, len(byKey))
	for _, m := range byKey {
		memories = append(memories, m)
	}
	sort.Slice(memories, func(i, j int) bool { return memories[i].Key < memories[j].Key })
	return memories, nil
}

func (s *InMemoryUserMemoryStore) Put(userID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.facts[userID] == nil {
		s.facts[userID] = make(map[string]UserMemory)
	}
	s.facts[userID][key] = UserMemory{UserID: userID, Key: key, Value: value, UpdatedAt: s.now()}
	return nil
}

func (s *InMemoryUserMemoryStore) Delete(userID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if byKey, ok := s.facts[userID]; ok {
		delete(byKey, key)
	}
	return nil
}
