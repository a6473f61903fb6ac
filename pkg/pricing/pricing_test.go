package pricing_test

import (
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/servo-ai/servo/pkg/pricing"
)

type fakeStore struct {
	pricing *pricing.ModelPricing
	err     error
	calls   atomic.Int64
}

func (s *fakeStore) FindEffective(provider, model string, at time.Time) (*pricing.ModelPricing, error) {
	s.calls.Add(1)
	return s.pricing, s.err
}

func standardPricing() *pricing.ModelPricing {
	return &pricing.ModelPricing{
		Provider:          "openai",
		Model:             "gpt-4o",
		PromptPer1K:       "0.0025",
		CachedPromptPer1K: "0.00125",
		CompletionPer1K:   "0.01",
		ReasoningPer1K:    "0.01",
	}
}

func TestCalculator_MissingPricingYieldsZero(t *testing.T) {
	calc := pricing.NewCalculator(&fakeStore{})
	got := calc.Calculate("openai", "gpt-4o", time.Now(), 1000, 0, 500, 0)
	if got != "0" {
		t.Errorf("Calculate = %q, want 0", got)
	}
}

func TestCalculator_ExactCost(t *testing.T) {
	calc := pricing.NewCalculator(&fakeStore{pricing: standardPricing()})

	// 1000 prompt at 0.0025 + 500 completion at 0.01 = 0.0025 + 0.005
	got := calc.Calculate("openai", "gpt-4o", time.Now(), 1000, 0, 500, 0)
	if got != "0.00750000" {
		t.Errorf("Calculate = %q, want 0.00750000", got)
	}
}

func TestCalculator_CachedTokensDiscounted(t *testing.T) {
	calc := pricing.NewCalculator(&fakeStore{pricing: standardPricing()})

	// 1000 prompt with 400 cached: 600*0.0025/1k + 400*0.00125/1k
	got := calc.Calculate("openai", "gpt-4o", time.Now(), 1000, 400, 0, 0)
	if got != "0.00200000" {
		t.Errorf("Calculate = %q, want 0.00200000", got)
	}
}

func TestCalculator_CachedExceedingPromptClamps(t *testing.T) {
	calc := pricing.NewCalculator(&fakeStore{pricing: standardPricing()})

	// cached > prompt: uncached clamps to zero rather than going negative.
	got := calc.Calculate("openai", "gpt-4o", time.Now(), 100, 400, 0, 0)
	if got != "0.00050000" {
		t.Errorf("Calculate = %q, want 0.00050000", got)
	}
}

func TestCalculator_RoundsHalfUp(t *testing.T) {
	calc := pricing.NewCalculator(&fakeStore{pricing: &pricing.ModelPricing{
		PromptPer1K: "0.000000015", // 1 token = 0.000000000015 → rounds to 8 places
	}})

	got := calc.Calculate("p", "m", time.Now(), 1000, 0, 0, 0)
	if got != "0.00000002" {
		t.Errorf("Calculate = %q, want half-up rounding to 0.00000002", got)
	}
}

func TestCalculator_CachesLookupsByBucket(t *testing.T) {
	store := &fakeStore{pricing: standardPricing()}
	calc := pricing.NewCalculator(store)

	at := time.Date(2026, 8, 25, 12, 1, 0, 0, time.UTC)
	calc.Calculate("openai", "gpt-4o", at, 10, 0, 0, 0)
	calc.Calculate("openai", "gpt-4o", at.Add(time.Minute), 10, 0, 0, 0)

	if got := store.calls.Load(); got != 1 {
		t.Errorf("store queried %d times within one bucket, want 1", got)
	}
}

func TestCalculator_CachesKnownMissing(t *testing.T) {
	store := &fakeStore{}
	calc := pricing.NewCalculator(store)

	at := time.Date(2026, 8, 25, 12, 1, 0, 0, time.UTC)
	calc.Calculate("openai", "gpt-4o", at, 10, 0, 0, 0)
	calc.Calculate("openai", "gpt-4o", at, 10, 0, 0, 0)

	if got := store.calls.Load(); got != 1 {
		t.Errorf("missing pricing queried %d times, want 1", got)
	}
}

func TestCalculator_LookupErrorYieldsZero(t *testing.T) {
	calc := pricing.NewCalculator(&fakeStore{err: errors.New("db down")})
	if got := calc.Calculate("p", "m", time.Now(), 10, 0, 0, 0); got != "0" {
		t.Errorf("Calculate = %q, want 0 on store error", got)
	}
}
