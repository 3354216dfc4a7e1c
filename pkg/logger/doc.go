// Package logger builds the process-wide slog logger: JSON in production,
// a tint console handler elsewhere.
package logger
