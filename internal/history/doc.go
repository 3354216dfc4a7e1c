// Package history keeps a bounded, time-ordered log of recent error records.
//
// The Store is a ring buffer: once full, each append evicts the oldest entry.
// A Sweeper prunes entries older than the retention window on a cron
// schedule.
package history
