// Package handler exposes the resilience engine over a small JSON API:
// status and history reads, error reports and the manual overrides.
// POST /errors runs the full recovery loop before it responds.
package handler
