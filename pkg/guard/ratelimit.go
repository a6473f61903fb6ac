package guard

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/servo-ai/servo/pkg/protocol"
)

// Window identifiers for the counter store.
const (
	WindowMinute = "minute"
	WindowHour   = "hour"
)

// windowKey buckets usage by subject and wall-clock window start. Bucketing
// is monotonic: a new window always has a start >= the previous one.
type windowKey struct {
	subject string
	window  string
	start   int64 // unix seconds of the window start
}

// CounterStore tracks per-subject request counts inside time windows.
type CounterStore struct {
	mu       sync.Mutex
	counters map[windowKey]int64
	now      func() time.Time
}

// NewCounterStore creates an in-memory counter store.
func NewCounterStore() *CounterStore {
	return &CounterStore{
		counters: make(map[windowKey]int64),
		now:      time.Now,
	}
}

// WithClock overrides the time source. Test hook.
func (s *CounterStore) WithClock(now func() time.Time) *CounterStore {
	s.now = now
	return s
}

func windowStart(t time.Time, window string) int64 {
	switch window {
	case WindowHour:
		return t.Truncate(time.Hour).Unix()
	default:
		return t.Truncate(time.Minute).Unix()
	}
}

// Increment bumps the subject's counter for the window containing now and
// returns the new value. Stale buckets for the same subject are dropped.
func (s *CounterStore) Increment(subject, window string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := windowStart(s.now(), window)
	key := windowKey{subject: subject, window: window, start: start}

	// Drop the previous bucket for this subject so the map stays bounded.
	for k := range s.counters {
		if k.subject == subject && k.window == window && k.start != start {
			delete(s.counters, k)
		}
	}

	s.counters[key]++
	return s.counters[key]
}

// RateLimitStage rejects subjects exceeding per-minute or per-hour quotas.
// The subject is the user ID when present, else the session ID, else a shared
// anonymous bucket.
type RateLimitStage struct {
	order       int
	failOnError bool
	perMinute   int64
	perHour     int64
	store       *CounterStore
}

// NewRateLimitStage creates the rate limiting stage. Zero quotas disable the
// corresponding window.
func NewRateLimitStage(order int, perMinute, perHour int64) *RateLimitStage {
	return &RateLimitStage{
		order:     order,
		perMinute: perMinute,
		perHour:   perHour,
		store:     NewCounterStore(),
	}
}

// Store exposes the counter store. Test hook.
func (s *RateLimitStage) Store() *CounterStore {
	return s.store
}

func (s *RateLimitStage) Name() string      { return "rateLimit" }
func (s *RateLimitStage) Order() int        { return s.order }
func (s *RateLimitStage) FailOnError() bool { return s.failOnError }

func (s *RateLimitStage) subject(cmd *protocol.AgentCommand) string {
	if cmd.UserID != "" {
		return "user:" + cmd.UserID
	}
	if cmd.SessionID != "" {
		return "session:" + cmd.SessionID
	}
	return "anonymous"
}

func (s *RateLimitStage) Check(ctx context.Context, cmd *protocol.AgentCommand) (Result, error) {
	subject := s.subject(cmd)

	if s.perMinute > 0 {
		if used := s.store.Increment(subject, WindowMinute); used > s.perMinute {
			return Rejected(s.Name(), CategoryRateLimit,
				fmt.Sprintf("minute quota exceeded (%d/%d)", used, s.perMinute)), nil
		}
	}
	if s.perHour > 0 {
		if used := s.store.Increment(subject, WindowHour); used > s.perHour {
			return Rejected(s.Name(), CategoryRateLimit,
				fmt.Sprintf("hour quota exceeded (%d/%d)", used, s.perHour)), nil
		}
	}
	return Allowed(), nil
}
