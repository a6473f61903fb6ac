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

package metrics

import (
	"log/slog"
	"sync"
	"time"
)

// CostEstimator enriches token usage with an estimated USD cost. Implemented
// by the pricing package; runs inside the writer, off the hot path.
type CostEstimator interface {
	Estimate(provider, model string, at time.Time, promptTokens, cachedTokens, completionTokens, reasoningTokens int) string
}

// WriterConfig configures the background drainer.
type WriterConfig struct {
	BatchSize     int
	FlushInterval time.Duration
}

func (c WriterConfig) withDefaults() WriterConfig {
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.FlushInterval <= 0 {
		c.FlushInterval = time.Second
	}
	return c
}

// Writer is the single consumer of the ring buffer. It drains on a fixed
// interval, enriches token usage with cost, updates the health monitor, and
// batch-persists through the EventStore. Exactly one Writer may drain a given
// buffer; the constructor owning the buffer enforces this by construction.
type Writer struct {
	ring   *RingBuffer
	store  EventStore
	cost   CostEstimator
	health *HealthMonitor
	config WriterConfig

	stopOnce sync.Once
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWriter creates the drainer. store is required; cost and health are
// optional.
func NewWriter(ring *RingBuffer, store EventStore, cost CostEstimator, health *HealthMonitor, config WriterConfig) *Writer {
	return &Writer{
		ring:   ring,
		store:  store,
		cost:   cost,
		health: health,
		config: config.withDefaults(),
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
}

// Start launches the drain loop.
func (w *Writer) Start() {
	go w.run()
}

// Stop halts the loop and performs a final drain+flush of everything still
// buffered. Safe to call more than once.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
	})
	<-w.doneCh
}

func (w *Writer) run() {
	defer close(w.doneCh)

	ticker := time.NewTicker(w.config.FlushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			w.drainAndFlush()
		case <-w.stopCh:
			// Final drain: loop until the buffer is empty.
			for {
				if drained := w.drainAndFlush(); drained == 0 {
					return
				}
			}
		}
	}
}

func (w *Writer) drainAndFlush() int {
	events := w.ring.Drain(w.config.BatchSize)

	if w.health != nil {
		w.health.ObserveBuffer(w.ring.Usage(), w.ring.Dropped())
	}
	if len(events) == 0 {
		return 0
	}

	w.enrich(events)

	started := time.Now()
	if err := w.store.BatchInsert(events); err != nil {
		slog.Error("Failed to persist metric batch", "count", len(events), "error", err)
		if w.health != nil {
			w.health.ObserveError()
		}
		return len(events)
	}

	if w.health != nil {
		w.health.ObserveFlush(time.Since(started))
	}
	return len(events)
}

// enrich fills estimated cost on token usage events in place.
func (w *Writer) enrich(events []Event) {
	if w.cost == nil {
		return
	}
	for i, event := range events {
		usage, ok := event.(TokenUsageEvent)
		if !ok || usage.EstimatedCostUSD != "" {
			continue
		}
		usage.EstimatedCostUSD = w.cost.Estimate(
			usage.Provider, usage.Model, usage.Time,
			usage.PromptTokens, usage.CachedTokens,
			usage.CompletionTokens, usage.ReasoningTokens)
		events[i] = usage
	}
}
