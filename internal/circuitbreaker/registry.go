package circuitbreaker

import (
	"sort"
	"sync"
	"time"
)

// TransitionFunc is called after a breaker changes state.
type TransitionFunc func(name string, from, to State)

type Registry struct {
	mutex        sync.RWMutex
	breakers     map[string]*CircuitBreaker
	threshold    int
	timeout      time.Duration
	now          func() time.Time
	onTransition TransitionFunc
}

func NewRegistry(threshold int, timeout time.Duration) *Registry {
	return &Registry{
		breakers:  make(map[string]*CircuitBreaker),
		threshold: threshold,
		timeout:   timeout,
		now:       time.Now,
	}
}

// WithClock replaces the time source for breakers created afterwards.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.now = now
	return r
}

// OnTransition registers fn to observe state changes. Only one hook is kept.
func (r *Registry) OnTransition(fn TransitionFunc) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.onTransition = fn
}

// GetBreaker returns the breaker for name, creating it with the registry
// defaults on first use.
func (r *Registry) GetBreaker(name string) *CircuitBreaker {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if exists {
		return cb
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	// Double-check: another goroutine may have created it
	if cb, exists = r.breakers[name]; exists {
		return cb
	}

	cb = newCircuitBreaker(r.threshold, r.timeout, r.now)
	r.breakers[name] = cb
	return cb
}

// Allow consults the named breaker, reporting an Open to HalfOpen promotion
// to the transition hook.
func (r *Registry) Allow(name string) bool {
	cb := r.GetBreaker(name)
	from := cb.State()
	allowed := cb.Allow()
	r.notify(name, from, cb.State())
	return allowed
}

func (r *Registry) RecordResult(name string, success bool) State {
	from, to := r.GetBreaker(name).RecordResult(success)
	r.notify(name, from, to)
	return to
}

// Reset forces the named breaker Closed. It reports false when no breaker
// exists for name.
func (r *Registry) Reset(name string) bool {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if !exists {
		return false
	}

	from := cb.Reset()
	r.notify(name, from, StateClosed)
	return true
}

func (r *Registry) Snapshot(name string) (Snapshot, bool) {
	r.mutex.RLock()
	cb, exists := r.breakers[name]
	r.mutex.RUnlock()

	if !exists {
		return Snapshot{}, false
	}
	return cb.Snapshot(), true
}

// Stale lists breakers still Open whose cool-down ended more than grace ago.
func (r *Registry) Stale(grace time.Duration) []string {
	r.mutex.RLock()
	now := r.now()
	var names []string
	for name, cb := range r.breakers {
		snap := cb.Snapshot()
		if snap.State == StateOpen && now.Sub(snap.NextRetry) > grace {
			names = append(names, name)
		}
	}
	r.mutex.RUnlock()

	sort.Strings(names)
	return names
}

// Clear drops every breaker.
func (r *Registry) Clear() {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.breakers = make(map[string]*CircuitBreaker)
}

func (r *Registry) Stats() map[string]Snapshot {
	r.mutex.RLock()
	breakers := make(map[string]*CircuitBreaker, len(r.breakers))
	for name, cb := range r.breakers {
		breakers[name] = cb
	}
	r.mutex.RUnlock()

	stats := make(map[string]Snapshot, len(breakers))
	for name, cb := range breakers {
		stats[name] = cb.Snapshot()
	}
	return stats
}

func (r *Registry) notify(name string, from, to State) {
	if from == to {
		return
	}

	r.mutex.RLock()
	fn := r.onTransition
	r.mutex.RUnlock()

	if fn != nil {
		fn(name, from, to)
	}
}
