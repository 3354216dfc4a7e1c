// Package circuitbreaker implements per-component circuit breakers that gate
// whether recovery should be attempted at all.
//
// A breaker has three states:
//
//   - Closed: recovery attempts proceed, consecutive failures are counted
//   - Open: the failure threshold was reached, attempts are refused until the
//     cool-down elapses
//   - HalfOpen: the cool-down elapsed, the next result closes or re-opens it
//
// Usage:
//
//	registry := circuitbreaker.NewRegistry(5, 30*time.Second)
//	cb := registry.GetBreaker("market-data")
//	if cb.Allow() {
//	    // Attempt recovery...
//	    registry.RecordResult("market-data", err == nil)
//	}
//
// Each breaker carries its own mutex, so results for different components
// never contend with each other.
package circuitbreaker
