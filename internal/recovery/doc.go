// Package recovery dispatches reported errors to the recovery strategy for
// their severity, retrying with capped exponential backoff.
//
// Each HandleError call runs its own attempt loop on the caller's goroutine:
// backoff sleeps suspend only that call. Breaker state for a component is
// owned here; the health monitor feeds probe outcomes in through
// ReportProbe rather than touching breakers itself.
package recovery
