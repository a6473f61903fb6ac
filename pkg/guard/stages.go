package guard

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/servo-ai/servo/pkg/protocol"
)

// InputValidationStage rejects prompts that are empty, oversized, or match a
// configured dangerous pattern.
type InputValidationStage struct {
	order     int
	maxChars  int
	dangerous []*regexp.Regexp
}

// NewInputValidationStage creates the validation stage. maxChars <= 0
// disables the length check.
func NewInputValidationStage(order, maxChars int, dangerousPatterns ...string) (*InputValidationStage, error) {
	compiled := make([]*regexp.Regexp, 0, len(dangerousPatterns))
	for _, pattern := range dangerousPatterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid dangerous pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return &InputValidationStage{order: order, maxChars: maxChars, dangerous: compiled}, nil
}

func (s *InputValidationStage) Name() string      { return "inputValidation" }
func (s *InputValidationStage) Order() int        { return s.order }
func (s *InputValidationStage) FailOnError() bool { return true }

func (s *InputValidationStage) Check(ctx context.Context, cmd *protocol.AgentCommand) (Result, error) {
	if strings.TrimSpace(cmd.UserPrompt) == "" {
		return Rejected(s.Name(), CategoryInvalidInput, "prompt is empty"), nil
	}
	if s.maxChars > 0 && len(cmd.UserPrompt) > s.maxChars {
		return Rejected(s.Name(), CategoryInvalidInput,
			fmt.Sprintf("prompt exceeds %d characters", s.maxChars)), nil
	}
	for _, re := range s.dangerous {
		if re.MatchString(cmd.UserPrompt) {
			return Rejected(s.Name(), CategoryInvalidInput, "prompt matches a blocked pattern"), nil
		}
	}
	return Allowed(), nil
}

// InjectionDetectionStage rejects prompts that look like instruction
// override attempts. Heuristic by design; pair with a classification stage
// for stronger guarantees.
type InjectionDetectionStage struct {
	order    int
	patterns []*regexp.Regexp
}

var defaultInjectionPatterns = []string{
	`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions|prompts)`,
	`(?i)disregard\s+(your|the)\s+(system\s+)?(prompt|instructions)`,
	`(?i)you\s+are\s+now\s+(in\s+)?(developer|dan|jailbreak)\s*mode`,
	`(?i)reveal\s+(your|the)\s+system\s+prompt`,
	`(?i)pretend\s+(you\s+have|there\s+are)\s+no\s+(rules|restrictions)`,
}

// NewInjectionDetectionStage creates the injection heuristic. With no
// patterns given, a built-in set is used.
func NewInjectionDetectionStage(order int, patterns ...string) (*InjectionDetectionStage, error) {
	if len(patterns) == 0 {
		patterns = defaultInjectionPatterns
	}
	compiled := make([]*regexp.Regexp, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid injection pattern %q: %w", pattern, err)
		}
		compiled = append(compiled, re)
	}
	return &InjectionDetectionStage{order: order, patterns: compiled}, nil
}

func (s *InjectionDetectionStage) Name() string      { return "injectionDetection" }
func (s *InjectionDetectionStage) Order() int        { return s.order }
func (s *InjectionDetectionStage) FailOnError() bool { return false }

func (s *InjectionDetectionStage) Check(ctx context.Context, cmd *protocol.AgentCommand) (Result, error) {
	for _, re := range s.patterns {
		if re.MatchString(cmd.UserPrompt) {
			return Rejected(s.Name(), CategoryInjection, "prompt injection detected"), nil
		}
	}
	return Allowed(), nil
}

// Classifier labels a prompt; returning a blocked label rejects the request.
// The external collaborator may be an LLM call or a local model.
type Classifier func(ctx context.Context, prompt string) (label string, err error)

// ClassificationStage rejects prompts whose classification label is blocked.
type ClassificationStage struct {
	order       int
	failOnError bool
	classify    Classifier
	blocked     map[string]bool
}

// NewClassificationStage creates the classification stage.
func NewClassificationStage(order int, failOnError bool, classify Classifier, blockedLabels ...string) *ClassificationStage {
	blocked := make(map[string]bool, len(blockedLabels))
	for _, label := range blockedLabels {
		blocked[strings.ToLower(label)] = true
	}
	return &ClassificationStage{order: order, failOnError: failOnError, classify: classify, blocked: blocked}
}

func (s *ClassificationStage) Name() string      { return "classification" }
func (s *ClassificationStage) Order() int        { return s.order }
func (s *ClassificationStage) FailOnError() bool { return s.failOnError }

func (s *ClassificationStage) Check(ctx context.Context, cmd *protocol.AgentCommand) (Result, error) {
	if s.classify == nil {
		return Allowed(), nil
	}
	label, err := s.classify(ctx, cmd.UserPrompt)
	if err != nil {
		return Result{}, fmt.Errorf("classification failed: %w", err)
	}
	if s.blocked[strings.ToLower(label)] {
		return Rejected(s.Name(), CategoryClassification,
			fmt.Sprintf("prompt classified as %s", label)), nil
	}
	return Allowed(), nil
}

// PermissionChecker decides whether a user may execute commands. External
// collaborator resolved at admission.
type PermissionChecker func(ctx context.Context, userID, tenantID string) (bool, error)

// PermissionStage rejects users the permission checker denies.
type PermissionStage struct {
	order       int
	failOnError bool
	check       PermissionChecker
}

// NewPermissionStage creates the permission stage.
func NewPermissionStage(order int, failOnError bool, check PermissionChecker) *PermissionStage {
	return &PermissionStage{order: order, failOnError: failOnError, check: check}
}

func (s *PermissionStage) Name() string      { return "permission" }
func (s *PermissionStage) Order() int        { return s.order }
func (s *PermissionStage) FailOnError() bool { return s.failOnError }

func (s *PermissionStage) Check(ctx context.Context, cmd *protocol.AgentCommand) (Result, error) {
	if s.check == nil {
		return Allowed(), nil
	}
	allowed, err := s.check(ctx, cmd.UserID, cmd.TenantID)
	if err != nil {
		return Result{}, fmt.Errorf("permission check failed: %w", err)
	}
	if !allowed {
		return Rejected(s.Name(), CategoryPermission, "user is not permitted to execute agents"), nil
	}
	return Allowed(), nil
}
