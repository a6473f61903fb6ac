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

// Package runtime is the composition root: it wires configuration into a
// ready-to-serve executor with all collaborators attached.
package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/servo-ai/servo/pkg/breaker"
	"github.com/servo-ai/servo/pkg/cache"
	"github.com/servo-ai/servo/pkg/config"
	"github.com/servo-ai/servo/pkg/executor"
	"github.com/servo-ai/servo/pkg/filters"
	"github.com/servo-ai/servo/pkg/guard"
	"github.com/servo-ai/servo/pkg/hooks"
	"github.com/servo-ai/servo/pkg/llms"
	"github.com/servo-ai/servo/pkg/logger"
	"github.com/servo-ai/servo/pkg/memory"
	"github.com/servo-ai/servo/pkg/metrics"
	"github.com/servo-ai/servo/pkg/pricing"
	"github.com/servo-ai/servo/pkg/retry"
	"github.com/servo-ai/servo/pkg/store"
	"github.com/servo-ai/servo/pkg/tokens"
	"github.com/servo-ai/servo/pkg/tools"
)

// Options are the collaborators the configuration cannot construct itself.
type Options struct {
	// Provider is the primary LLM backend. Required.
	Provider llms.Provider

	// ExtraProviders are alternate named backends, resolvable through the
	// runtime's provider registry. Optional.
	ExtraProviders map[string]llms.Provider

	// DBPath selects SQLite persistence; empty keeps everything in memory.
	DBPath string

	// GuardStages install the admission pipeline. Optional.
	GuardStages []guard.Stage

	// Hooks install lifecycle extension points. Optional.
	Hooks []hooks.Hook

	// Embedder enables semantic tool selection. Optional.
	Embedder tools.Embedder

	// MCPServers are connected at startup. Optional.
	MCPServers []tools.MCPConfig
}

// Runtime is a fully wired serving core.
type Runtime struct {
	Config    *config.Config
	Executor  *executor.Executor
	Stream    *executor.StreamExecutor
	Tools     *tools.Registry
	Providers *llms.Registry
	Breakers  *breaker.Registry
	Ring      *metrics.RingBuffer
	Writer    *metrics.Writer
	Store     *store.Store

	// UserMemories holds long-lived per-user facts.
	UserMemories memory.UserMemoryStore

	// Prompts, Audits, and MCPServers are available when SQLite persistence
	// is configured.
	Prompts    *store.PromptStore
	Audits     *store.AuditStore
	MCPServers *store.MCPServerStore

	conversations *memory.ConversationManager
	mcpSources    []*tools.MCPSource
}

// New builds a runtime from validated configuration.
func New(ctx context.Context, cfg *config.Config, opts Options) (*Runtime, error) {
	if opts.Provider == nil {
		return nil, fmt.Errorf("runtime requires an LLM provider")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := logger.ParseLevel(cfg.Logging.Level)
	logger.Init(level, os.Stderr, cfg.Logging.Format)

	rt := &Runtime{Config: cfg}

	rt.Providers = llms.NewRegistry()
	if err := rt.Providers.Register(opts.Provider.ModelName(), opts.Provider); err != nil {
		return nil, err
	}
	for name, provider := range opts.ExtraProviders {
		if err := rt.Providers.Register(name, provider); err != nil {
			return nil, fmt.Errorf("failed to register provider %q: %w", name, err)
		}
	}

	ring := metrics.NewRingBuffer(cfg.Metrics.RingBufferSize)
	rt.Ring = ring

	rt.Breakers = breaker.NewRegistry(breaker.Config{
		FailureThreshold: cfg.Breaker.FailureThreshold,
		ResetTimeout:     time.Duration(cfg.Breaker.ResetTimeoutMs) * time.Millisecond,
		HalfOpenMaxCalls: cfg.Breaker.HalfOpenMaxCalls,
		CountRateLimited: cfg.Breaker.CountRateLimited,
	}, func(name string, from, to breaker.State) {
		ring.Publish(metrics.CircuitBreakerTransitionEvent{
			Name: name,
			From: from.String(),
			To:   to.String(),
		})
	})

	// Persistence: SQLite when a path is configured, process memory otherwise.
	var (
		memStore     memory.MemoryStore
		summaryStore memory.SummaryStore
		eventStore   metrics.EventStore
		priceStore   pricing.Store
	)
	if opts.DBPath != "" {
		db, err := store.Open(opts.DBPath)
		if err != nil {
			return nil, err
		}
		rt.Store = db
		memStore = store.NewMemoryStore(db)
		summaryStore = store.NewSummaryStore(db)
		eventStore = store.NewMetricEventStore(db)
		priceStore = store.NewPricingStore(db)
		rt.UserMemories = store.NewUserMemoryStore(db)
		rt.Prompts = store.NewPromptStore(db)
		rt.Audits = store.NewAuditStore(db)
		rt.MCPServers = store.NewMCPServerStore(db)
	} else {
		memStore = memory.NewInMemoryStore()
		summaryStore = memory.NewInMemorySummaryStore()
		eventStore = discardEvents{}
		priceStore = emptyPricing{}
		rt.UserMemories = memory.NewInMemoryUserMemoryStore()
	}

	calculator := pricing.NewCalculator(priceStore)
	health := metrics.NewHealthMonitor(prometheus.DefaultRegisterer)
	rt.Writer = metrics.NewWriter(ring, eventStore, calculator, health, metrics.WriterConfig{
		BatchSize:     cfg.Metrics.BatchSize,
		FlushInterval: time.Duration(cfg.Metrics.FlushIntervalMs) * time.Millisecond,
	})

	var counter memory.TokenCounter
	if estimator, err := tokens.NewEstimator(cfg.Executor.Model); err != nil {
		// Without an encoding the executor runs untrimmed; requests over the
		// context window then fail at the provider instead of locally.
		slog.Warn("Token estimator unavailable, context trimming disabled", "error", err)
	} else {
		counter = estimator
	}

	var summaryService memory.SummaryService
	if cfg.Summary.Enabled {
		summaryService = memory.NewLLMSummaryService(opts.Provider)
	}
	rt.conversations = memory.NewConversationManager(memory.ManagerConfig{
		Enabled:              cfg.Summary.Enabled,
		TriggerMessageCount:  cfg.Summary.TriggerMessageCount,
		RecentMessageCount:   cfg.Summary.RecentMessageCount,
		MaxConversationTurns: cfg.Summary.MaxConversationTurns,
	}, memStore, summaryStore, summaryService)

	registry := tools.NewRegistry(cfg.Tools.MaxToolOutputLength)
	rt.Tools = registry

	servers := opts.MCPServers
	if rt.MCPServers != nil {
		persisted, err := rt.MCPServers.ListEnabled()
		if err != nil {
			slog.Warn("Failed to load persisted MCP servers", "error", err)
		} else {
			servers = append(servers, persisted...)
		}
	}
	for _, serverCfg := range servers {
		source, err := tools.NewMCPSource(ctx, serverCfg)
		if err != nil {
			slog.Warn("Skipping unreachable MCP server", "server", serverCfg.Name, "error", err)
			continue
		}
		rt.mcpSources = append(rt.mcpSources, source)
		if err := registry.LoadSource(ctx, source); err != nil {
			slog.Warn("Tool discovery failed", "server", serverCfg.Name, "error", err)
		}
	}

	var responseCache cache.ResponseCache
	if cfg.Cache.Enabled {
		responseCache = cache.NewLRUCache(cfg.Cache.MaxEntries,
			time.Duration(cfg.Cache.TTLSeconds)*time.Second)
	}

	var chain *filters.Chain
	if cfg.Response.FiltersEnabled {
		chain = filters.NewChain(filters.NewMaxLengthFilter(cfg.Response.MaxLength))
	}

	var fallback *executor.FallbackStrategy
	if cfg.Fallback.Enabled {
		fallback = executor.NewFallbackStrategy(opts.Provider, cfg.Fallback.Models).
			WithResolver(rt.Providers)
	}

	allHooks := opts.Hooks
	if rt.Prompts != nil && cfg.Prompts.Template != "" {
		allHooks = append(allHooks, hooks.NewPersonaHook(rt.Prompts, cfg.Prompts.Template))
	}

	rt.Executor = executor.New(cfg, executor.Deps{
		Provider:      opts.Provider,
		Guards:        guard.NewPipeline(opts.GuardStages...),
		Hooks:         hooks.NewExecutor(allHooks...),
		Cache:         responseCache,
		Conversations: rt.conversations,
		Estimator:     counter,
		Registry:      registry,
		Selector:      buildSelector(cfg, registry, opts.Embedder),
		Breaker:       rt.Breakers.Get("llm"),
		Retry: retry.Policy{
			MaxAttempts:  cfg.Retry.MaxAttempts,
			InitialDelay: time.Duration(cfg.Retry.InitialDelayMs) * time.Millisecond,
			MaxDelay:     time.Duration(cfg.Retry.MaxDelayMs) * time.Millisecond,
			Multiplier:   cfg.Retry.Multiplier,
		},
		Ring:     ring,
		Filters:  chain,
		Fallback: fallback,
	})
	rt.Stream = executor.NewStreamExecutor(rt.Executor)

	rt.Writer.Start()
	return rt, nil
}

// buildSelector picks the configured selection strategy, degrading from
// semantic to all when no embedder is available.
func buildSelector(cfg *config.Config, registry *tools.Registry, embedder tools.Embedder) tools.Selector {
	switch cfg.Tools.Selection {
	case "keyword":
		return tools.NewKeywordSelector(registry, cfg.Tools.Keywords)
	case "semantic":
		if embedder == nil {
			slog.Warn("Semantic tool selection configured without an embedder, using all tools")
			return tools.NewAllSelector(registry)
		}
		return tools.NewSemanticSelector(registry, embedder,
			float32(cfg.Tools.SemanticThreshold), cfg.Tools.SemanticMaxResults)
	default:
		return tools.NewAllSelector(registry)
	}
}

// Conversations exposes session management (deletion, summary cancellation).
func (rt *Runtime) Conversations() *memory.ConversationManager {
	return rt.conversations
}

// Close flushes metrics and releases every held resource.
func (rt *Runtime) Close() error {
	rt.Writer.Stop()
	rt.conversations.Close()
	for _, source := range rt.mcpSources {
		if err := source.Close(); err != nil {
			slog.Warn("Failed to close MCP server", "server", source.Name(), "error", err)
		}
	}
	if rt.Store != nil {
		return rt.Store.Close()
	}
	return nil
}

// discardEvents drops metric batches when no database is configured.
type discardEvents struct{}

func (discardEvents) BatchInsert([]metrics.Event) error { return nil }

// emptyPricing reports no pricing rows; cost estimates become zero.
type emptyPricing struct{}

func (emptyPricing) FindEffective(string, string, time.Time) (*pricing.ModelPricing, error) {
	return nil, nil
}
