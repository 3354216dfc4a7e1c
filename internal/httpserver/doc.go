// Package httpserver runs the engine's HTTP API with validated addresses and
// bounded graceful shutdown.
package httpserver
