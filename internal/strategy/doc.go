// Package strategy implements the severity-specific recovery strategies run
// by the recovery dispatcher:
//
//   - Critical: free memory, restart components flagged Error or over the
//     error-count threshold, then verify system integrity
//   - High: reset the affected component's connections, clear caches and
//     re-verify connectivity
//   - Medium: retry the original operation and nudge configuration once
//   - Low: log and continue
//
// A Strategy performs one attempt; retries and backoff belong to the caller.
package strategy
