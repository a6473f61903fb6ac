package hooks

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Metadata keys set by the executor at admission.
const (
	MetaTenantID  = "tenantId"
	MetaUserID    = "userId"
	MetaRunID     = "runId"
	MetaSessionID = "sessionId"
)

// Context is the per-run collaboration slate shared by all hooks of one
// request. ToolsUsed and metadata are safe for concurrent access from
// parallel tool executions.
type Context struct {
	RunID      string
	UserID     string
	UserPrompt string
	StartNanos int64

	mu        sync.RWMutex
	toolsUsed []string
	metadata  map[string]any
}

// NewContext creates a run context with a fresh run ID.
func NewContext(userID, userPrompt string) *Context {
	return &Context{
		RunID:      uuid.New().String(),
		UserID:     userID,
		UserPrompt: userPrompt,
		StartNanos: time.Now().UnixNano(),
		metadata:   make(map[string]any),
	}
}

// RecordToolUse appends a tool name to the ordered usage list.
func (c *Context) RecordToolUse(name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.toolsUsed = append(c.toolsUsed, name)
}

// ToolsUsed returns a copy of the ordered tool usage list.
func (c *Context) ToolsUsed() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, len(c.toolsUsed))
	copy(out, c.toolsUsed)
	return out
}

// SetMetadata stores a metadata value.
func (c *Context) SetMetadata(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.metadata[key] = value
}

// Metadata returns the value stored under key.
func (c *Context) Metadata(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, ok := c.metadata[key]
	return value, ok
}

// MetadataSnapshot returns a copy of all metadata.
func (c *Context) MetadataSnapshot() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]any, len(c.metadata))
	for k, v := range c.metadata {
		out[k] = v
	}
	return out
}

// Elapsed returns the wall-clock duration since the run started.
func (c *Context) Elapsed() time.Duration {
	return time.Duration(time.Now().UnixNano() - c.StartNanos)
}

// ToolContext describes one tool call as seen by before/after tool hooks.
type ToolContext struct {
	Name      string
	Arguments map[string]any
	CallIndex int
}
