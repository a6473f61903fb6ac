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

package config_test

import (
	"strings"
	"testing"

	"github.com/servo-ai/servo/pkg/config"
)

func TestExpandEnv(t *testing.T) {
	t.Setenv("SERVO_TEST_MODEL", "gpt-4o")

	tests := []struct {
		name string
		in   string
		want string
	}{
		{"set variable", "model: ${SERVO_TEST_MODEL}", "model: gpt-4o"},
		{"set variable ignores default", "model: ${SERVO_TEST_MODEL:-fallback}", "model: gpt-4o"},
		{"unset with default", "model: ${SERVO_TEST_UNSET:-fallback}", "model: fallback"},
		{"unset without default", "model: ${SERVO_TEST_UNSET}", "model: "},
		{"no references", "model: plain", "model: plain"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := string(config.ExpandEnv([]byte(tt.in))); got != tt.want {
				t.Errorf("ExpandEnv(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestParse_AppliesDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte(`
executor:
  max_tool_calls: 5
`))
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Executor.MaxToolCalls != 5 {
		t.Errorf("MaxToolCalls = %d, want the configured 5", cfg.Executor.MaxToolCalls)
	}
	if cfg.Executor.MaxToolsPerRequest != 32 {
		t.Errorf("MaxToolsPerRequest = %d, want default 32", cfg.Executor.MaxToolsPerRequest)
	}
	if cfg.Metrics.WriterThreads != 1 {
		t.Errorf("WriterThreads = %d, want default 1", cfg.Metrics.WriterThreads)
	}
	if cfg.Boundary.OutputMinViolationMode != config.BoundaryWarn {
		t.Errorf("OutputMinViolationMode = %q, want WARN", cfg.Boundary.OutputMinViolationMode)
	}
}

func TestValidate_RejectsMultipleWriterThreads(t *testing.T) {
	_, err := config.Parse([]byte(`
metrics:
  writer_threads: 4
`))
	if err == nil {
		t.Fatal("writer_threads > 1 accepted")
	}
	if !strings.Contains(err.Error(), "writer_threads") {
		t.Errorf("err = %v, want writer_threads named", err)
	}
}

func TestValidate_RejectsUnknownViolationMode(t *testing.T) {
	_, err := config.Parse([]byte(`
boundary:
  output_min_violation_mode: EXPLODE
`))
	if err == nil {
		t.Error("unknown violation mode accepted")
	}
}

func TestValidate_FallbackNeedsModels(t *testing.T) {
	_, err := config.Parse([]byte(`
fallback:
  enabled: true
`))
	if err == nil {
		t.Error("fallback without models accepted")
	}
}

func TestParse_EnvExpansionInsideYAML(t *testing.T) {
	t.Setenv("SERVO_TEST_SELECTION", "keyword")

	cfg, err := config.Parse([]byte(`
tools:
  selection: ${SERVO_TEST_SELECTION:-all}
`))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Tools.Selection != "keyword" {
		t.Errorf("Selection = %q, want keyword", cfg.Tools.Selection)
	}
}
