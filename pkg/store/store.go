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

// Package store persists serving state in SQLite: conversation history,
// summaries, user memories, metric events, pricing, prompts, and admin data.
package store

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS conversation_messages (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id TEXT NOT NULL,
	role       TEXT NOT NULL,
	content    TEXT NOT NULL,
	user_id    TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_messages_session ON conversation_messages(session_id, id);

CREATE TABLE IF NOT EXISTS conversation_summaries (
	session_id             TEXT PRIMARY KEY,
	narrative              TEXT NOT NULL,
	facts                  TEXT NOT NULL,
	summarized_up_to_index INTEGER NOT NULL,
	created_at             TIMESTAMP NOT NULL,
	updated_at             TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS user_memories (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id    TEXT NOT NULL,
	key        TEXT NOT NULL,
	value      TEXT NOT NULL,
	updated_at TIMESTAMP NOT NULL,
	UNIQUE(user_id, key)
);

CREATE TABLE IF NOT EXISTS metric_events (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	kind       TEXT NOT NULL,
	tenant_id  TEXT,
	payload    TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_metric_events_kind ON metric_events(kind, created_at);

CREATE TABLE IF NOT EXISTS model_pricings (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	provider             TEXT NOT NULL,
	model                TEXT NOT NULL,
	effective_from       TIMESTAMP NOT NULL,
	prompt_per_1k        TEXT NOT NULL,
	cached_prompt_per_1k TEXT NOT NULL DEFAULT '',
	completion_per_1k    TEXT NOT NULL,
	reasoning_per_1k     TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_pricing_lookup ON model_pricings(provider, model, effective_from);

CREATE TABLE IF NOT EXISTS prompt_templates (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL UNIQUE,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS prompt_versions (
	id          TEXT PRIMARY KEY,
	template_id TEXT NOT NULL REFERENCES prompt_templates(id),
	body        TEXT NOT NULL,
	status      TEXT NOT NULL DEFAULT 'DRAFT',
	created_at  TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_prompt_versions_template ON prompt_versions(template_id, status);

CREATE TABLE IF NOT EXISTS admin_audits (
	id         INTEGER PRIMARY KEY AUTOINCREMENT,
	actor      TEXT NOT NULL,
	action     TEXT NOT NULL,
	detail     TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS mcp_servers (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	name    TEXT NOT NULL UNIQUE,
	command TEXT NOT NULL,
	args    TEXT NOT NULL DEFAULT '[]',
	env     TEXT NOT NULL DEFAULT '{}',
	enabled INTEGER NOT NULL DEFAULT 1
);
`

// Store is the shared SQLite handle behind every persistence interface.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
// Use ":memory:" for tests.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the handle for integration tests.
func (s *Store) DB() *sql.DB {
	return s.db
}
