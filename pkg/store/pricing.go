package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/servo-ai/servo/pkg/pricing"
)

// PricingStore resolves effective model pricing. Implements pricing.Store.
type PricingStore struct {
	store *Store
}

func NewPricingStore(store *Store) *PricingStore {
	return &PricingStore{store: store}
}

// FindEffective returns the newest pricing row effective at the given time,
// or nil when none exists.
func (p *PricingStore) FindEffective(provider, model string, at time.Time) (*pricing.ModelPricing, error) {
	row := p.store.db.QueryRow(`
		SELECT effective_from, prompt_per_1k, cached_prompt_per_1k, completion_per_1k, reasoning_per_1k
		FROM model_pricings
		WHERE provider = ? AND model = ? AND effective_from <= ?
		ORDER BY effective_from DESC
		LIMIT 1`,
		provider, model, at.UTC())

	mp := pricing.ModelPricing{Provider: provider, Model: model}
	err := row.Scan(&mp.EffectiveFrom, &mp.PromptPer1K, &mp.CachedPromptPer1K,
		&mp.CompletionPer1K, &mp.ReasoningPer1K)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load pricing for %s/%s: %w", provider, model, err)
	}
	return &mp, nil
}

// Upsert inserts a pricing row.
func (p *PricingStore) Upsert(mp *pricing.ModelPricing) error {
	_, err := p.store.db.Exec(`
		INSERT INTO model_pricings
			(provider, model, effective_from, prompt_per_1k, cached_prompt_per_1k, completion_per_1k, reasoning_per_1k)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		mp.Provider, mp.Model, mp.EffectiveFrom.UTC(),
		mp.PromptPer1K, mp.CachedPromptPer1K, mp.CompletionPer1K, mp.ReasoningPer1K)
	return err
}
