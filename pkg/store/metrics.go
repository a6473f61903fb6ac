package store

import (
	"encoding/json"
	"fmt"

	"github.com/servo-ai/servo/pkg/metrics"
)

// MetricEventStore batch-persists drained metric events. Implements
// metrics.EventStore.
type MetricEventStore struct {
	store *Store
}

func NewMetricEventStore(store *Store) *MetricEventStore {
	return &MetricEventStore{store: store}
}

// BatchInsert writes a drain batch in one transaction, preserving publish
// order.
func (m *MetricEventStore) BatchInsert(events []metrics.Event) error {
	if len(events) == 0 {
		return nil
	}

	tx, err := m.store.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin metric batch: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`INSERT INTO metric_events (kind, tenant_id, payload) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, event := range events {
		payload, err := json.Marshal(event)
		if err != nil {
			return fmt.Errorf("failed to encode %s event: %w", event.Kind(), err)
		}
		if _, err := stmt.Exec(event.Kind(), event.Tenant(), string(payload)); err != nil {
			return fmt.Errorf("failed to insert %s event: %w", event.Kind(), err)
		}
	}

	return tx.Commit()
}

// CountByKind reports persisted event counts. Used by tests and admin
// surfaces.
func (m *MetricEventStore) CountByKind(kind string) (int, error) {
	var count int
	err := m.store.db.QueryRow(`SELECT COUNT(*) FROM metric_events WHERE kind = ?`, kind).Scan(&count)
	return count, err
}
