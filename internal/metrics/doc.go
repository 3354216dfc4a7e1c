// Package metrics translates resilience events into Prometheus series.
//
// Events reach the collector through a buffered channel and are applied on
// its own goroutine, so publishers never block on metric updates:
//   - Errors handled per severity
//   - Recovery outcomes per severity
//   - Critical errors and integrity failures
//   - Circuit breaker transitions and current state
//   - System health score and per-component up gauge
//   - Self-healing sweeps per outcome
//
// Series are registered on a private registry served by Handler.
package metrics
