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

package config

import (
	"fmt"
	"strings"
)

// Config is the root configuration for the serving core. All fields have
// working defaults; a zero Config with SetDefaults applied runs.
type Config struct {
	Executor ExecutorConfig `yaml:"executor,omitempty" json:"executor,omitempty"`
	Metrics  MetricsConfig  `yaml:"metrics,omitempty" json:"metrics,omitempty"`
	Breaker  BreakerConfig  `yaml:"breaker,omitempty" json:"breaker,omitempty"`
	Retry    RetryConfig    `yaml:"retry,omitempty" json:"retry,omitempty"`
	Summary  SummaryConfig  `yaml:"summary,omitempty" json:"summary,omitempty"`
	Response ResponseConfig `yaml:"response,omitempty" json:"response,omitempty"`
	Fallback FallbackConfig `yaml:"fallback,omitempty" json:"fallback,omitempty"`
	Boundary BoundaryConfig `yaml:"boundary,omitempty" json:"boundary,omitempty"`
	Cache    CacheConfig    `yaml:"cache,omitempty" json:"cache,omitempty"`
	Tools    ToolsConfig    `yaml:"tools,omitempty" json:"tools,omitempty"`
	Prompts  PromptsConfig  `yaml:"prompts,omitempty" json:"prompts,omitempty"`
	Logging  LoggingConfig  `yaml:"logging,omitempty" json:"logging,omitempty"`
}

// ExecutorConfig bounds a single request's execution.
type ExecutorConfig struct {
	// MaxConcurrentRequests sizes the admission semaphore.
	MaxConcurrentRequests int `yaml:"max_concurrent_requests,omitempty" json:"max_concurrent_requests,omitempty"`

	// FailFast rejects immediately on saturation instead of queueing.
	FailFast bool `yaml:"fail_fast,omitempty" json:"fail_fast,omitempty"`

	// RequestTimeoutMs bounds the whole request including queue wait.
	RequestTimeoutMs int64 `yaml:"request_timeout_ms,omitempty" json:"request_timeout_ms,omitempty"`

	// ToolCallTimeoutMs bounds each individual tool call.
	ToolCallTimeoutMs int64 `yaml:"tool_call_timeout_ms,omitempty" json:"tool_call_timeout_ms,omitempty"`

	// MaxToolCalls is the per-request tool budget across all iterations.
	MaxToolCalls int `yaml:"max_tool_calls,omitempty" json:"max_tool_calls,omitempty"`

	// MaxToolsPerRequest caps how many tools are offered to the model.
	MaxToolsPerRequest int `yaml:"max_tools_per_request,omitempty" json:"max_tools_per_request,omitempty"`

	// MaxParallelTools bounds parallel tool execution within one iteration.
	MaxParallelTools int `yaml:"max_parallel_tools,omitempty" json:"max_parallel_tools,omitempty"`

	// MaxContextWindowTokens is the model context window used for trimming.
	MaxContextWindowTokens int `yaml:"max_context_window_tokens,omitempty" json:"max_context_window_tokens,omitempty"`

	// OutputReserveTokens is held back from the window for the reply.
	OutputReserveTokens int `yaml:"output_reserve_tokens,omitempty" json:"output_reserve_tokens,omitempty"`

	// CacheableTemperature is the highest temperature still served from cache.
	CacheableTemperature float64 `yaml:"cacheable_temperature,omitempty" json:"cacheable_temperature,omitempty"`

	// Model is used for token counting when trimming.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// Provider labels the primary LLM backend in usage events; cost lookup
	// keys pricing rows by (provider, model).
	Provider string `yaml:"provider,omitempty" json:"provider,omitempty"`
}

// MetricsConfig configures the ring buffer and its drainer.
type MetricsConfig struct {
	RingBufferSize  int   `yaml:"ring_buffer_size,omitempty" json:"ring_buffer_size,omitempty"`
	BatchSize       int   `yaml:"batch_size,omitempty" json:"batch_size,omitempty"`
	FlushIntervalMs int64 `yaml:"flush_interval_ms,omitempty" json:"flush_interval_ms,omitempty"`

	// WriterThreads must be 1: the ring buffer is single-consumer by
	// construction. Values above 1 are rejected at validation.
	WriterThreads int `yaml:"writer_threads,omitempty" json:"writer_threads,omitempty"`
}

// BreakerConfig configures named circuit breakers.
type BreakerConfig struct {
	FailureThreshold int   `yaml:"failure_threshold,omitempty" json:"failure_threshold,omitempty"`
	ResetTimeoutMs   int64 `yaml:"reset_timeout_ms,omitempty" json:"reset_timeout_ms,omitempty"`
	HalfOpenMaxCalls int   `yaml:"half_open_max_calls,omitempty" json:"half_open_max_calls,omitempty"`

	// CountRateLimited controls whether 429 failures count toward opening.
	CountRateLimited bool `yaml:"count_rate_limited,omitempty" json:"count_rate_limited,omitempty"`
}

// RetryConfig configures the outbound LLM retry policy.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts,omitempty" json:"max_attempts,omitempty"`
	InitialDelayMs int64   `yaml:"initial_delay_ms,omitempty" json:"initial_delay_ms,omitempty"`
	MaxDelayMs     int64   `yaml:"max_delay_ms,omitempty" json:"max_delay_ms,omitempty"`
	Multiplier     float64 `yaml:"multiplier,omitempty" json:"multiplier,omitempty"`
}

// SummaryConfig configures hierarchical conversation memory.
type SummaryConfig struct {
	Enabled             bool `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TriggerMessageCount int  `yaml:"trigger_message_count,omitempty" json:"trigger_message_count,omitempty"`
	RecentMessageCount  int  `yaml:"recent_message_count,omitempty" json:"recent_message_count,omitempty"`

	// MaxConversationTurns bounds the takeLast fallback when summarization
	// is unavailable or yields nothing.
	MaxConversationTurns int `yaml:"max_conversation_turns,omitempty" json:"max_conversation_turns,omitempty"`
}

// ResponseConfig configures the post-processing filter chain.
type ResponseConfig struct {
	MaxLength      int  `yaml:"max_length,omitempty" json:"max_length,omitempty"`
	FiltersEnabled bool `yaml:"filters_enabled,omitempty" json:"filters_enabled,omitempty"`
}

// FallbackConfig lists alternate models tried after primary failure.
type FallbackConfig struct {
	Enabled bool     `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	Models  []string `yaml:"models,omitempty" json:"models,omitempty"`
}

// BoundaryViolationMode selects what happens when output is too short.
type BoundaryViolationMode string

const (
	BoundaryWarn      BoundaryViolationMode = "WARN"
	BoundaryRetryOnce BoundaryViolationMode = "RETRY_ONCE"
	BoundaryFail      BoundaryViolationMode = "FAIL"
)

// BoundaryConfig enforces output length limits after the loop completes.
type BoundaryConfig struct {
	OutputMaxChars         int                   `yaml:"output_max_chars,omitempty" json:"output_max_chars,omitempty"`
	OutputMinChars         int                   `yaml:"output_min_chars,omitempty" json:"output_min_chars,omitempty"`
	OutputMinViolationMode BoundaryViolationMode `yaml:"output_min_violation_mode,omitempty" json:"output_min_violation_mode,omitempty"`
}

// CacheConfig bounds the response cache.
type CacheConfig struct {
	Enabled    bool  `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	MaxEntries int   `yaml:"max_entries,omitempty" json:"max_entries,omitempty"`
	TTLSeconds int64 `yaml:"ttl_seconds,omitempty" json:"ttl_seconds,omitempty"`
}

// ToolsConfig configures tool selection and adaptation.
type ToolsConfig struct {
	// Selection is one of "all", "keyword", "semantic".
	Selection string `yaml:"selection,omitempty" json:"selection,omitempty"`

	// Keywords maps prompt keywords to tool categories for keyword selection.
	Keywords map[string]string `yaml:"keywords,omitempty" json:"keywords,omitempty"`

	// SemanticThreshold is the minimum cosine similarity for semantic selection.
	SemanticThreshold float64 `yaml:"semantic_threshold,omitempty" json:"semantic_threshold,omitempty"`

	// SemanticMaxResults caps how many tools semantic selection returns.
	SemanticMaxResults int `yaml:"semantic_max_results,omitempty" json:"semantic_max_results,omitempty"`

	// MaxToolOutputLength truncates oversized remote tool output.
	MaxToolOutputLength int `yaml:"max_tool_output_length,omitempty" json:"max_tool_output_length,omitempty"`
}

// PromptsConfig selects a versioned system-prompt template.
type PromptsConfig struct {
	// Template names the prompt template whose ACTIVE version becomes the
	// system prompt for commands that carry none. Empty disables resolution.
	Template string `yaml:"template,omitempty" json:"template,omitempty"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level  string `yaml:"level,omitempty" json:"level,omitempty"`
	Format string `yaml:"format,omitempty" json:"format,omitempty"`
}

// SetDefaults applies working defaults to every section.
func (c *Config) SetDefaults() {
	c.Executor.SetDefaults()
	c.Metrics.SetDefaults()
	c.Breaker.SetDefaults()
	c.Retry.SetDefaults()
	c.Summary.SetDefaults()
	c.Cache.SetDefaults()
	c.Tools.SetDefaults()
	if c.Boundary.OutputMinViolationMode == "" {
		c.Boundary.OutputMinViolationMode = BoundaryWarn
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "simple"
	}
}

// SetDefaults applies executor defaults.
func (c *ExecutorConfig) SetDefaults() {
	if c.MaxConcurrentRequests <= 0 {
		c.MaxConcurrentRequests = 64
	}
	if c.RequestTimeoutMs <= 0 {
		c.RequestTimeoutMs = 120_000
	}
	if c.ToolCallTimeoutMs <= 0 {
		c.ToolCallTimeoutMs = 30_000
	}
	if c.MaxToolCalls <= 0 {
		c.MaxToolCalls = 10
	}
	if c.MaxToolsPerRequest <= 0 {
		c.MaxToolsPerRequest = 32
	}
	if c.MaxParallelTools <= 0 {
		c.MaxParallelTools = 4
	}
	if c.MaxContextWindowTokens <= 0 {
		c.MaxContextWindowTokens = 128_000
	}
	if c.OutputReserveTokens <= 0 {
		c.OutputReserveTokens = 4_096
	}
	if c.CacheableTemperature == 0 {
		c.CacheableTemperature = 0.1
	}
	if c.Model == "" {
		c.Model = "gpt-4o"
	}
	if c.Provider == "" {
		c.Provider = "openai"
	}
}

// SetDefaults applies metrics defaults.
func (c *MetricsConfig) SetDefaults() {
	if c.RingBufferSize <= 0 {
		c.RingBufferSize = 4096
	}
	if c.BatchSize <= 0 {
		c.BatchSize = 256
	}
	if c.FlushIntervalMs <= 0 {
		c.FlushIntervalMs = 1000
	}
	if c.WriterThreads <= 0 {
		c.WriterThreads = 1
	}
}

// SetDefaults applies breaker defaults.
func (c *BreakerConfig) SetDefaults() {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.ResetTimeoutMs <= 0 {
		c.ResetTimeoutMs = 30_000
	}
	if c.HalfOpenMaxCalls <= 0 {
		c.HalfOpenMaxCalls = 1
	}
}

// SetDefaults applies retry defaults.
func (c *RetryConfig) SetDefaults() {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.InitialDelayMs <= 0 {
		c.InitialDelayMs = 200
	}
	if c.MaxDelayMs <= 0 {
		c.MaxDelayMs = 10_000
	}
	if c.Multiplier <= 0 {
		c.Multiplier = 2.0
	}
}

// SetDefaults applies summary defaults.
func (c *SummaryConfig) SetDefaults() {
	if c.TriggerMessageCount <= 0 {
		c.TriggerMessageCount = 20
	}
	if c.RecentMessageCount <= 0 {
		c.RecentMessageCount = 8
	}
	if c.MaxConversationTurns <= 0 {
		c.MaxConversationTurns = 10
	}
}

// SetDefaults applies cache defaults.
func (c *CacheConfig) SetDefaults() {
	if c.MaxEntries <= 0 {
		c.MaxEntries = 1024
	}
	if c.TTLSeconds <= 0 {
		c.TTLSeconds = 300
	}
}

// SetDefaults applies tool selection defaults.
func (c *ToolsConfig) SetDefaults() {
	if c.Selection == "" {
		c.Selection = "all"
	}
	if c.SemanticThreshold <= 0 {
		c.SemanticThreshold = 0.3
	}
	if c.SemanticMaxResults <= 0 {
		c.SemanticMaxResults = 8
	}
	if c.MaxToolOutputLength <= 0 {
		c.MaxToolOutputLength = 16_384
	}
}

// Validate checks the configuration for contradictions.
func (c *Config) Validate() error {
	if c.Metrics.WriterThreads > 1 {
		// The metric ring buffer admits exactly one drainer. Sharded
		// writers are not supported, so refuse rather than corrupt.
		return fmt.Errorf("metrics.writer_threads must be 1, got %d", c.Metrics.WriterThreads)
	}
	switch c.Boundary.OutputMinViolationMode {
	case "", BoundaryWarn, BoundaryRetryOnce, BoundaryFail:
	default:
		return fmt.Errorf("boundary.output_min_violation_mode must be one of WARN, RETRY_ONCE, FAIL, got %q",
			c.Boundary.OutputMinViolationMode)
	}
	switch strings.ToLower(c.Tools.Selection) {
	case "", "all", "keyword", "semantic":
	default:
		return fmt.Errorf("tools.selection must be one of all, keyword, semantic, got %q", c.Tools.Selection)
	}
	if c.Fallback.Enabled && len(c.Fallback.Models) == 0 {
		return fmt.Errorf("fallback.enabled requires at least one model in fallback.models")
	}
	return nil
}
