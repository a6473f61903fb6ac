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

// Package breaker implements named circuit breakers guarding outbound calls.
// State, failure counts, and timestamps are manipulated with atomics only.
package breaker

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/servo-ai/servo/pkg/llms"
)

// State is the breaker state machine position.
type State int32

const (
	StateClosed State = iota
	StateOpen
	StateHalfOpen
)

func (s State) String() string {
	switch s {
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "CLOSED"
	}
}

// ErrOpen is returned when the breaker rejects a call without executing it.
var ErrOpen = errors.New("circuit breaker is open")

// TransitionListener observes state changes.
type TransitionListener func(name string, from, to State)

// Config parameterizes one breaker.
type Config struct {
	// FailureThreshold is the consecutive failure count that opens the breaker.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before allowing a
	// half-open trial. Evaluated lazily on the next access.
	ResetTimeout time.Duration

	// HalfOpenMaxCalls bounds concurrent trial calls in half-open.
	HalfOpenMaxCalls int

	// CountRateLimited controls whether upstream 429 failures count.
	CountRateLimited bool
}

func (c *Config) withDefaults() Config {
	out := *c
	if out.FailureThreshold <= 0 {
		out.FailureThreshold = 5
	}
	if out.ResetTimeout <= 0 {
		out.ResetTimeout = 30 * time.Second
	}
	if out.HalfOpenMaxCalls <= 0 {
		out.HalfOpenMaxCalls = 1
	}
	return out
}

// CircuitBreaker is a lock-free state machine guarding one logical endpoint.
type CircuitBreaker struct {
	name     string
	config   Config
	listener TransitionListener

	state            atomic.Int32
	failures         atomic.Int64 // consecutive failures while closed
	openedAtNanos    atomic.Int64
	halfOpenInFlight atomic.Int32
	now              func() time.Time
}

// New creates a breaker with the given name and config.
func New(name string, config Config, listener TransitionListener) *CircuitBreaker {
	return &CircuitBreaker{
		name:     name,
		config:   config.withDefaults(),
		listener: listener,
		now:      time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (cb *CircuitBreaker) WithClock(now func() time.Time) *CircuitBreaker {
	cb.now = now
	return cb
}

// Name returns the breaker name.
func (cb *CircuitBreaker) Name() string {
	return cb.name
}

// State returns the current state, applying the lazy OPEN→HALF_OPEN
// transition when the reset timeout has elapsed.
func (cb *CircuitBreaker) State() State {
	cb.maybeHalfOpen()
	return State(cb.state.Load())
}

func (cb *CircuitBreaker) maybeHalfOpen() {
	if State(cb.state.Load()) != StateOpen {
		return
	}
	openedAt := cb.openedAtNanos.Load()
	if cb.now().UnixNano()-openedAt < cb.config.ResetTimeout.Nanoseconds() {
		return
	}
	if cb.state.CompareAndSwap(int32(StateOpen), int32(StateHalfOpen)) {
		cb.halfOpenInFlight.Store(0)
		cb.emit(StateOpen, StateHalfOpen)
	}
}

// outcome is what the state machine observes for one finished call.
type outcome int

const (
	outcomeSuccess outcome = iota
	outcomeFailure
	outcomeIgnored
)

// allow reserves the right to execute one call. The returned release handle
// must be called exactly once with the call outcome.
func (cb *CircuitBreaker) allow() (func(o outcome), error) {
	cb.maybeHalfOpen()

	switch State(cb.state.Load()) {
	case StateOpen:
		return nil, ErrOpen

	case StateHalfOpen:
		// Bounded trial admission: CAS the in-flight count upward.
		for {
			inFlight := cb.halfOpenInFlight.Load()
			if int(inFlight) >= cb.config.HalfOpenMaxCalls {
				return nil, ErrOpen
			}
			if cb.halfOpenInFlight.CompareAndSwap(inFlight, inFlight+1) {
				break
			}
		}
		return func(o outcome) {
			cb.halfOpenInFlight.Add(-1)
			cb.recordHalfOpen(o)
		}, nil

	default:
		return func(o outcome) {
			cb.recordClosed(o)
		}, nil
	}
}

// Execute runs fn under breaker protection. Retries inside fn count as one
// execution from the breaker's viewpoint. Cancellation never counts as a
// failure and never changes state.
func (cb *CircuitBreaker) Execute(ctx context.Context, fn func(context.Context) error) error {
	release, err := cb.allow()
	if err != nil {
		return err
	}
	err = fn(ctx)
	release(cb.classify(err))
	return err
}

// classify maps an execution error to the outcome the state machine observes.
// Cancellation and discounted rate limits are ignored entirely: they touch
// neither the state nor the failure count.
func (cb *CircuitBreaker) classify(err error) outcome {
	if err == nil {
		return outcomeSuccess
	}
	if llms.IsCancellation(err) {
		return outcomeIgnored
	}
	if !cb.config.CountRateLimited && llms.IsRateLimited(err) {
		return outcomeIgnored
	}
	return outcomeFailure
}

func (cb *CircuitBreaker) recordClosed(o outcome) {
	switch o {
	case outcomeIgnored:
		return
	case outcomeSuccess:
		cb.failures.Store(0)
		return
	}
	failures := cb.failures.Add(1)
	if int(failures) >= cb.config.FailureThreshold {
		if cb.state.CompareAndSwap(int32(StateClosed), int32(StateOpen)) {
			cb.openedAtNanos.Store(cb.now().UnixNano())
			cb.failures.Store(0)
			cb.emit(StateClosed, StateOpen)
		}
	}
}

func (cb *CircuitBreaker) recordHalfOpen(o outcome) {
	switch o {
	case outcomeIgnored:
		// The trial slot is freed; the state waits for a decisive call.
		return
	case outcomeSuccess:
		if cb.state.CompareAndSwap(int32(StateHalfOpen), int32(StateClosed)) {
			cb.failures.Store(0)
			cb.emit(StateHalfOpen, StateClosed)
		}
		return
	}
	if cb.state.CompareAndSwap(int32(StateHalfOpen), int32(StateOpen)) {
		cb.openedAtNanos.Store(cb.now().UnixNano())
		cb.emit(StateHalfOpen, StateOpen)
	}
}

func (cb *CircuitBreaker) emit(from, to State) {
	if cb.listener != nil {
		cb.listener(cb.name, from, to)
	}
}
