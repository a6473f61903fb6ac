package store

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/servo-ai/servo/pkg/tools"
)

// AuditStore records administrative actions.
type AuditStore struct {
	store *Store
}

func NewAuditStore(store *Store) *AuditStore {
	return &AuditStore{store: store}
}

// Record appends one audit row.
func (a *AuditStore) Record(actor, action, detail string) error {
	_, err := a.store.db.Exec(
		`INSERT INTO admin_audits (actor, action, detail) VALUES (?, ?, ?)`,
		actor, action, detail)
	return err
}

// AuditEntry is one recorded administrative action.
type AuditEntry struct {
	ID        int64
	Actor     string
	Action    string
	Detail    string
	CreatedAt time.Time
}

// Recent returns the newest limit entries.
func (a *AuditStore) Recent(limit int) ([]AuditEntry, error) {
	rows, err := a.store.db.Query(
		`SELECT id, actor, action, detail, created_at FROM admin_audits ORDER BY id DESC LIMIT ?`,
		limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []AuditEntry
	for rows.Next() {
		var e AuditEntry
		if err := rows.Scan(&e.ID, &e.Actor, &e.Action, &e.Detail, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// MCPServerStore persists configured MCP server processes.
type MCPServerStore struct {
	store *Store
}

func NewMCPServerStore(store *Store) *MCPServerStore {
	return &MCPServerStore{store: store}
}

// Save upserts a server configuration by name.
func (m *MCPServerStore) Save(cfg tools.MCPConfig, enabled bool) error {
	args, err := json.Marshal(cfg.Args)
	if err != nil {
		return err
	}
	env, err := json.Marshal(cfg.Env)
	if err != nil {
		return err
	}
	_, err = m.store.db.Exec(`
		INSERT INTO mcp_servers (name, command, args, env, enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			command = excluded.command,
			args = excluded.args,
			env = excluded.env,
			enabled = excluded.enabled`,
		cfg.Name, cfg.Command, string(args), string(env), boolToInt(enabled))
	return err
}

// ListEnabled returns every enabled server configuration.
func (m *MCPServerStore) ListEnabled() ([]tools.MCPConfig, error) {
	rows, err := m.store.db.Query(
		`SELECT name, command, args, env FROM mcp_servers WHERE enabled = 1 ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var configs []tools.MCPConfig
	for rows.Next() {
		var cfg tools.MCPConfig
		var args, env string
		if err := rows.Scan(&cfg.Name, &cfg.Command, &args, &env); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(args), &cfg.Args); err != nil {
			return nil, fmt.Errorf("corrupt args for server %q: %w", cfg.Name, err)
		}
		if err := json.Unmarshal([]byte(env), &cfg.Env); err != nil {
			return nil, fmt.Errorf("corrupt env for server %q: %w", cfg.Name, err)
		}
		configs = append(configs, cfg)
	}
	return configs, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
