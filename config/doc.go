// Package config loads the engine configuration from config.yaml and the
// environment, validates it and optionally watches the file for changes.
package config
