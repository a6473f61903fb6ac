// Package pricing estimates per-request LLM cost from persisted price books.
package pricing

import (
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"
)

// ModelPricing is one effective price row. Prices are USD per 1000 tokens,
// expressed as decimal strings to avoid float drift in storage.
type ModelPricing struct {
	Provider          string
	Model             string
	EffectiveFrom     time.Time
	PromptPer1K       string
	CachedPromptPer1K string
	CompletionPer1K   string
	ReasoningPer1K    string
}

// Store resolves the pricing effective at a point in time. External
// collaborator; returns nil with no error when no row matches.
type Store interface {
	FindEffective(provider, model string, at time.Time) (*ModelPricing, error)
}

const (
	cacheBucket = 5 * time.Minute
	scale       = 8 // output decimal places
)

type cacheKey struct {
	provider string
	model    string
	bucket   int64
}

type cacheEntry struct {
	pricing  *ModelPricing // nil means "known missing"
	cachedAt time.Time
}

// Calculator computes estimated cost with a 5-minute lookup cache keyed by a
// 5-minute bucket of the usage timestamp.
type Calculator struct {
	store Store

	mu    sync.Mutex
	cache map[cacheKey]cacheEntry
	now   func() time.Time
}

// NewCalculator creates a calculator over the given store.
func NewCalculator(store Store) *Calculator {
	return &Calculator{
		store: store,
		cache: make(map[cacheKey]cacheEntry),
		now:   time.Now,
	}
}

// Calculate returns the estimated USD cost as a decimal string rounded
// half-up to 8 places. Missing pricing yields "0".
func (c *Calculator) Calculate(provider, model string, at time.Time, promptTokens, cachedTokens, completionTokens, reasoningTokens int) string {
	pricing := c.lookup(provider, model, at)
	if pricing == nil {
		return "0"
	}

	uncachedPrompt := promptTokens - cachedTokens
	if uncachedPrompt < 0 {
		uncachedPrompt = 0
	}

	total := new(big.Rat)
	total.Add(total, tokenCost(uncachedPrompt, pricing.PromptPer1K))
	total.Add(total, tokenCost(cachedTokens, pricing.CachedPromptPer1K))
	total.Add(total, tokenCost(completionTokens, pricing.CompletionPer1K))
	total.Add(total, tokenCost(reasoningTokens, pricing.ReasoningPer1K))

	return roundHalfUp(total, scale)
}

// Estimate implements the metric writer's cost enrichment hook.
func (c *Calculator) Estimate(provider, model string, at time.Time, promptTokens, cachedTokens, completionTokens, reasoningTokens int) string {
	return c.Calculate(provider, model, at, promptTokens, cachedTokens, completionTokens, reasoningTokens)
}

func (c *Calculator) lookup(provider, model string, at time.Time) *ModelPricing {
	key := cacheKey{
		provider: provider,
		model:    model,
		bucket:   at.Truncate(cacheBucket).Unix(),
	}

	c.mu.Lock()
	entry, ok := c.cache[key]
	if ok && c.now().Sub(entry.cachedAt) < cacheBucket {
		c.mu.Unlock()
		return entry.pricing
	}
	c.mu.Unlock()

	pricing, err := c.store.FindEffective(provider, model, at)
	if err != nil {
		slog.Warn("Pricing lookup failed", "provider", provider, "model", model, "error", err)
		return nil
	}

	c.mu.Lock()
	c.cache[key] = cacheEntry{pricing: pricing, cachedAt: c.now()}
	c.mu.Unlock()

	return pricing
}

// tokenCost computes tokens × pricePer1K / 1000 exactly.
func tokenCost(tokens int, pricePer1K string) *big.Rat {
	if tokens <= 0 || pricePer1K == "" {
		return new(big.Rat)
	}
	price, ok := new(big.Rat).SetString(pricePer1K)
	if !ok {
		return new(big.Rat)
	}
	cost := new(big.Rat).Mul(big.NewRat(int64(tokens), 1000), price)
	return cost
}

// roundHalfUp formats r with the given decimal places, rounding half away
// from zero.
func roundHalfUp(r *big.Rat, places int) string {
	pow := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(places)), nil)

	// scaled = r * 10^places as a rational
	scaled := new(big.Rat).Mul(r, new(big.Rat).SetInt(pow))

	// half-up: floor(scaled + 1/2) for non-negative values
	num := new(big.Int).Mul(scaled.Num(), big.NewInt(2))
	num.Add(num, scaled.Denom())
	den := new(big.Int).Mul(scaled.Denom(), big.NewInt(2))
	quo := new(big.Int).Div(num, den)

	whole := new(big.Int).Div(quo, pow)
	frac := new(big.Int).Mod(quo, pow)

	return fmt.Sprintf("%s.%0*d", whole.String(), places, frac)
}
