package resilience

import (
	"context"
	"sort"
	"sync"
)

// BreakerRegistry owns one circuit breaker per operation name. Breakers are
// created on first use and kept for the registry's lifetime.
type BreakerRegistry struct {
	mutex    sync.RWMutex
	breakers map[string]*CircuitBreaker
	template CircuitBreakerConfig
}

// NewBreakerRegistry creates a registry whose breakers are built from template
func NewBreakerRegistry(template CircuitBreakerConfig) *BreakerRegistry {
	return &BreakerRegistry{
		breakers: make(map[string]*CircuitBreaker),
		template: template,
	}
}

// Get returns the breaker for name, creating it if needed
func (r *BreakerRegistry) Get(name string) *CircuitBreaker {
	r.mutex.RLock()
	cb, ok := r.breakers[name]
	r.mutex.RUnlock()
	if ok {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if cb, ok := r.breakers[name]; ok {
		return cb
	}

	config := r.template
	config.Name = name
	cb = NewCircuitBreaker(config)
	r.breakers[name] = cb
	return cb
}

// Lookup returns the breaker for name without creating it
func (r *BreakerRegistry) Lookup(name string) (*CircuitBreaker, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	cb, ok := r.breakers[name]
	return cb, ok
}

// Reset forces the named breaker closed. It reports false for unknown names.
func (r *BreakerRegistry) Reset(ctx context.Context, name string) bool {
	cb, ok := r.Lookup(name)
	if !ok {
		return false
	}
	cb.Reset(ctx)
	return true
}

// Snapshots returns the state of every breaker sorted by name
func (r *BreakerRegistry) Snapshots() []CircuitBreakerState {
	r.mutex.RLock()
	breakers := make([]*CircuitBreaker, 0, len(r.breakers))
	for _, cb := range r.breakers {
		breakers = append(breakers, cb)
	}
	r.mutex.RUnlock()

	snapshots := make([]CircuitBreakerState, 0, len(breakers))
	for _, cb := range breakers {
		snapshots = append(snapshots, cb.Snapshot())
	}
	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].Name < snapshots[j].Name
	})
	return snapshots
}
