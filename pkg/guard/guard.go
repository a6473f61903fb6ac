// Package guard implements the admission pipeline that rejects requests
// before any LLM cost is incurred.
package guard

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/servo-ai/servo/pkg/protocol"
)

// Rejection reason categories.
const (
	CategoryRateLimit      = "RATE_LIMIT"
	CategoryInvalidInput   = "INVALID_INPUT"
	CategoryInjection      = "INJECTION"
	CategoryClassification = "CLASSIFICATION"
	CategoryPermission     = "PERMISSION"
	CategoryStageError     = "STAGE_ERROR"
)

// Result is the outcome of a pipeline check. Allowed results carry no detail;
// rejections name the stage, the category, and a human-readable message.
type Result struct {
	Allowed  bool
	Stage    string
	Category string
	Message  string
}

// Allowed is the admit result.
func Allowed() Result {
	return Result{Allowed: true}
}

// Rejected builds a rejection for the given stage.
func Rejected(stage, category, message string) Result {
	return Result{Stage: stage, Category: category, Message: message}
}

// Stage is one policy checkpoint. Stages run in ascending Order; the first
// rejection short-circuits the pipeline.
type Stage interface {
	Name() string
	Order() int

	// FailOnError makes a stage failure reject the request (fail-closed).
	// Stages without it log the failure and admit.
	FailOnError() bool

	Check(ctx context.Context, cmd *protocol.AgentCommand) (Result, error)
}

// Pipeline runs an ordered set of guard stages.
type Pipeline struct {
	stages []Stage
}

// NewPipeline builds a pipeline; stages are sorted by ascending order once.
func NewPipeline(stages ...Stage) *Pipeline {
	sorted := make([]Stage, len(stages))
	copy(sorted, stages)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Order() < sorted[j].Order()
	})
	return &Pipeline{stages: sorted}
}

// Check runs every stage in order until one rejects. The set of rejections is
// deterministic for a given command.
func (p *Pipeline) Check(ctx context.Context, cmd *protocol.AgentCommand) Result {
	for _, stage := range p.stages {
		result, err := stage.Check(ctx, cmd)
		if err != nil {
			if stage.FailOnError() {
				return Rejected(stage.Name(), CategoryStageError,
					fmt.Sprintf("guard stage failed: %v", err))
			}
			slog.Warn("Guard stage failed, admitting request",
				"stage", stage.Name(), "error", err)
			continue
		}
		if !result.Allowed {
			return result
		}
	}
	return Allowed()
}

// Stages returns the ordered stage list.
func (p *Pipeline) Stages() []Stage {
	return p.stages
}
