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

package breaker_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/servo-ai/servo/pkg/breaker"
	"github.com/servo-ai/servo/pkg/llms"
)

type transitionLog struct {
	mu          sync.Mutex
	transitions []string
}

func (l *transitionLog) listener() breaker.TransitionListener {
	return func(name string, from, to breaker.State) {
		l.mu.Lock()
		defer l.mu.Unlock()
		l.transitions = append(l.transitions, from.String()+"->"+to.String())
	}
}

func (l *transitionLog) all() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.transitions...)
}

var errBoom = errors.New("boom")

func failing(ctx context.Context) error    { return errBoom }
func succeeding(ctx context.Context) error { return nil }

func TestCircuitBreaker_OpensAtThreshold(t *testing.T) {
	log := &transitionLog{}
	cb := breaker.New("llm", breaker.Config{FailureThreshold: 2, ResetTimeout: time.Minute}, log.listener())
	ctx := context.Background()

	if err := cb.Execute(ctx, failing); !errors.Is(err, errBoom) {
		t.Fatalf("first failure: got %v", err)
	}
	if cb.State() != breaker.StateClosed {
		t.Fatalf("state after 1 failure = %v, want CLOSED", cb.State())
	}

	cb.Execute(ctx, failing)
	if cb.State() != breaker.StateOpen {
		t.Fatalf("state after 2 failures = %v, want OPEN", cb.State())
	}

	// Third call is rejected without running the function.
	ran := false
	err := cb.Execute(ctx, func(ctx context.Context) error { ran = true; return nil })
	if !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("open breaker: got %v, want ErrOpen", err)
	}
	if ran {
		t.Error("protected call ran while breaker was open")
	}

	got := log.all()
	if len(got) != 1 || got[0] != "CLOSED->OPEN" {
		t.Errorf("transitions = %v, want exactly [CLOSED->OPEN]", got)
	}
}

func TestCircuitBreaker_HalfOpenRecovery(t *testing.T) {
	now := time.Now()
	clock := func() time.Time { return now }

	log := &transitionLog{}
	cb := breaker.New("llm", breaker.Config{
		FailureThreshold: 1,
		ResetTimeout:     30 * time.Second,
		HalfOpenMaxCalls: 1,
	}, log.listener()).WithClock(clock)
	ctx := context.Background()

	cb.Execute(ctx, failing)
	if cb.State() != breaker.StateOpen {
		t.Fatalf("state = %v, want OPEN", cb.State())
	}

	// Before the reset timeout, still rejected.
	if err := cb.Execute(ctx, succeeding); !errors.Is(err, breaker.ErrOpen) {
		t.Fatalf("got %v, want ErrOpen before reset timeout", err)
	}

	now = now.Add(31 * time.Second)
	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if cb.State() != breaker.StateClosed {
		t.Fatalf("state after successful trial = %v, want CLOSED", cb.State())
	}

	want := []string{"CLOSED->OPEN", "OPEN->HALF_OPEN", "HALF_OPEN->CLOSED"}
	got := log.all()
	if len(got) != len(want) {
		t.Fatalf("transitions = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("transition %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := breaker.New("llm", breaker.Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
	}, nil).WithClock(func() time.Time { return now })
	ctx := context.Background()

	cb.Execute(ctx, failing)
	now = now.Add(2 * time.Second)
	cb.Execute(ctx, failing)

	if cb.State() != breaker.StateOpen {
		t.Errorf("state = %v, want OPEN after failed trial", cb.State())
	}
}

func TestCircuitBreaker_CancellationNeverCounts(t *testing.T) {
	cb := breaker.New("llm", breaker.Config{FailureThreshold: 1, ResetTimeout: time.Minute}, nil)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		cb.Execute(ctx, func(ctx context.Context) error { return context.Canceled })
	}
	if cb.State() != breaker.StateClosed {
		t.Errorf("state = %v, cancellation must never open the breaker", cb.State())
	}
}

func TestCircuitBreaker_CancelledTrialKeepsHalfOpen(t *testing.T) {
	now := time.Now()
	log := &transitionLog{}
	cb := breaker.New("llm", breaker.Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		HalfOpenMaxCalls: 1,
	}, log.listener()).WithClock(func() time.Time { return now })
	ctx := context.Background()

	cb.Execute(ctx, failing)
	now = now.Add(2 * time.Second)

	// A cancelled trial must not close (or reopen) the breaker.
	cb.Execute(ctx, func(ctx context.Context) error { return context.Canceled })
	if cb.State() != breaker.StateHalfOpen {
		t.Fatalf("state after cancelled trial = %v, want HALF_OPEN", cb.State())
	}
	want := []string{"CLOSED->OPEN", "OPEN->HALF_OPEN"}
	got := log.all()
	if len(got) != len(want) || got[0] != want[0] || got[1] != want[1] {
		t.Fatalf("transitions = %v, want %v", got, want)
	}

	// The trial slot was released: a decisive call still closes it.
	if err := cb.Execute(ctx, succeeding); err != nil {
		t.Fatalf("trial call failed: %v", err)
	}
	if cb.State() != breaker.StateClosed {
		t.Errorf("state = %v, want CLOSED after successful trial", cb.State())
	}
}

func TestCircuitBreaker_IgnoredErrorsPreserveFailureCount(t *testing.T) {
	cb := breaker.New("llm", breaker.Config{FailureThreshold: 3, ResetTimeout: time.Minute}, nil)
	ctx := context.Background()

	cb.Execute(ctx, failing)
	cb.Execute(ctx, failing)

	// Neither cancellation nor a discounted 429 resets the streak.
	cb.Execute(ctx, func(ctx context.Context) error { return context.Canceled })
	cb.Execute(ctx, func(ctx context.Context) error {
		return &llms.ProviderError{StatusCode: 429, Message: "slow down"}
	})

	cb.Execute(ctx, failing)
	if cb.State() != breaker.StateOpen {
		t.Errorf("state = %v, want OPEN: ignored calls must not reset the failure count", cb.State())
	}
}

func TestCircuitBreaker_RateLimitedCountingConfigurable(t *testing.T) {
	rateLimited := func(ctx context.Context) error {
		return &llms.ProviderError{StatusCode: 429, Message: "slow down"}
	}

	t.Run("not counted by default", func(t *testing.T) {
		cb := breaker.New("llm", breaker.Config{FailureThreshold: 1, ResetTimeout: time.Minute}, nil)
		cb.Execute(context.Background(), rateLimited)
		if cb.State() != breaker.StateClosed {
			t.Errorf("state = %v, want CLOSED", cb.State())
		}
	})

	t.Run("counted when configured", func(t *testing.T) {
		cb := breaker.New("llm", breaker.Config{
			FailureThreshold: 1,
			ResetTimeout:     time.Minute,
			CountRateLimited: true,
		}, nil)
		cb.Execute(context.Background(), rateLimited)
		if cb.State() != breaker.StateOpen {
			t.Errorf("state = %v, want OPEN", cb.State())
		}
	})
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := breaker.New("llm", breaker.Config{FailureThreshold: 3, ResetTimeout: time.Minute}, nil)
	ctx := context.Background()

	cb.Execute(ctx, failing)
	cb.Execute(ctx, failing)
	cb.Execute(ctx, succeeding)
	cb.Execute(ctx, failing)
	cb.Execute(ctx, failing)

	if cb.State() != breaker.StateClosed {
		t.Errorf("state = %v, want CLOSED: failures are consecutive", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenLimitsTrialCalls(t *testing.T) {
	now := time.Now()
	var mu sync.Mutex
	clock := func() time.Time { mu.Lock(); defer mu.Unlock(); return now }

	cb := breaker.New("llm", breaker.Config{
		FailureThreshold: 1,
		ResetTimeout:     time.Second,
		HalfOpenMaxCalls: 1,
	}, nil).WithClock(clock)
	ctx := context.Background()

	cb.Execute(ctx, failing)
	mu.Lock()
	now = now.Add(2 * time.Second)
	mu.Unlock()

	release := make(chan struct{})
	started := make(chan struct{})
	go cb.Execute(ctx, func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})

	<-started
	// Second trial while the first is in flight must be rejected.
	if err := cb.Execute(ctx, succeeding); !errors.Is(err, breaker.ErrOpen) {
		t.Errorf("concurrent trial: got %v, want ErrOpen", err)
	}
	close(release)
}

func TestRegistry_ReturnsSameBreaker(t *testing.T) {
	reg := breaker.NewRegistry(breaker.Config{FailureThreshold: 1}, nil)
	if reg.Get("llm") != reg.Get("llm") {
		t.Error("registry must return a single breaker per name")
	}
	if _, ok := reg.States()["llm"]; !ok {
		t.Error("States() missing registered breaker")
	}
}
