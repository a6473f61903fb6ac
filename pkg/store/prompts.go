package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Prompt version lifecycle states.
const (
	PromptDraft    = "DRAFT"
	PromptActive   = "ACTIVE"
	PromptArchived = "ARCHIVED"
)

// PromptTemplate is a named prompt with versioned bodies.
type PromptTemplate struct {
	ID        string
	Name      string
	CreatedAt time.Time
}

// PromptVersion is one body of a template. At most one version per template
// is ACTIVE.
type PromptVersion struct {
	ID         string
	TemplateID string
	Body       string
	Status     string
	CreatedAt  time.Time
}

// PromptStore manages versioned prompt templates.
type PromptStore struct {
	store *Store
}

func NewPromptStore(store *Store) *PromptStore {
	return &PromptStore{store: store}
}

// CreateTemplate registers a named template and returns its id.
func (p *PromptStore) CreateTemplate(name string) (string, error) {
	id := uuid.New().String()
	_, err := p.store.db.Exec(`INSERT INTO prompt_templates (id, name) VALUES (?, ?)`, id, name)
	if err != nil {
		return "", fmt.Errorf("failed to create template %q: %w", name, err)
	}
	return id, nil
}

// AddVersion stores a new draft body for a template and returns its id.
func (p *PromptStore) AddVersion(templateID, body string) (string, error) {
	id := uuid.New().String()
	_, err := p.store.db.Exec(
		`INSERT INTO prompt_versions (id, template_id, body, status) VALUES (?, ?, ?, ?)`,
		id, templateID, body, PromptDraft)
	if err != nil {
		return "", fmt.Errorf("failed to add version: %w", err)
	}
	return id, nil
}

// Activate makes the given version the single ACTIVE one for its template.
// Any previously active version is archived in the same transaction.
func (p *PromptStore) Activate(versionID string) error {
	tx, err := p.store.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var templateID string
	err = tx.QueryRow(`SELECT template_id FROM prompt_versions WHERE id = ?`, versionID).Scan(&templateID)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("prompt version %q not found", versionID)
	}
	if err != nil {
		return err
	}

	if _, err := tx.Exec(
		`UPDATE prompt_versions SET status = ? WHERE template_id = ? AND status = ?`,
		PromptArchived, templateID, PromptActive); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`UPDATE prompt_versions SET status = ? WHERE id = ?`, PromptActive, versionID); err != nil {
		return err
	}

	return tx.Commit()
}

// ActiveBody returns the ACTIVE version body for a template name.
func (p *PromptStore) ActiveBody(name string) (string, error) {
	var body string
	err := p.store.db.QueryRow(`
		SELECT v.body FROM prompt_versions v
		JOIN prompt_templates t ON t.id = v.template_id
		WHERE t.name = ? AND v.status = ?`, name, PromptActive).Scan(&body)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("no active version for template %q", name)
	}
	return body, err
}
