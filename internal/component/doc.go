// Package component tracks the services registered with the resilience
// engine: their health probe, restart hook, status and error counters.
package component
