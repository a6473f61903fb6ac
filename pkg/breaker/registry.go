package breaker

import (
	"sync"
)

// Registry manages one breaker per logical outbound endpoint.
type Registry struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	defaults Config
	listener TransitionListener
}

// NewRegistry creates a registry; every breaker it creates uses the default
// config and reports transitions to the listener.
func NewRegistry(defaults Config, listener TransitionListener) *Registry {
	return &Registry{
		breakers: make(map[string]*CircuitBreaker),
		defaults: defaults.withDefaults(),
		listener: listener,
	}
}

// Get returns or creates the named breaker.
func (r *Registry) Get(name string) *CircuitBreaker {
	r.mu.RLock()
	cb, ok := r.breakers[name]
	r.mu.RUnlock()
	if ok {
		return cb
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}
	cb = New(name, r.defaults, r.listener)
	r.breakers[name] = cb
	return cb
}

// States returns the current state of every breaker.
func (r *Registry) States() map[string]State {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[string]State, len(r.breakers))
	for name, cb := range r.breakers {
		out[name] = cb.State()
	}
	return out
}
