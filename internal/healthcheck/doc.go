// Package healthcheck periodically probes every registered component and
// aggregates the outcomes into a system health snapshot.
package healthcheck
