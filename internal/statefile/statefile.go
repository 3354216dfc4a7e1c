// Package statefile writes the post-mortem snapshot taken on shutdown. The
// file is informational; nothing reads it back on start.
package statefile

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/angeloszaimis/self-healing/internal/circuitbreaker"
	"github.com/angeloszaimis/self-healing/internal/healthcheck"
	"github.com/angeloszaimis/self-healing/internal/recovery"
	"github.com/angeloszaimis/self-healing/internal/selfheal"
)

var ErrNoPath = errors.New("state file path is empty")

type State struct {
	WrittenAt    time.Time                          `json:"written_at" yaml:"written_at"`
	Health       healthcheck.Snapshot               `json:"health" yaml:"health"`
	Recovery     recovery.Stats                     `json:"recovery" yaml:"recovery"`
	SelfHealing  selfheal.Stats                     `json:"self_healing" yaml:"self_healing"`
	Coefficients selfheal.Coefficients              `json:"coefficients" yaml:"coefficients"`
	Breakers     map[string]circuitbreaker.Snapshot `json:"breakers" yaml:"breakers"`
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

func encode(path string, state State) ([]byte, error) {
	if isYAML(path) {
		return yaml.Marshal(state)
	}
	return json.MarshalIndent(state, "", "  ")
}

// Write replaces path with state. The file is written to a temporary
// sibling and renamed, so readers never observe a partial snapshot.
func Write(path string, state State) error {
	if path == "" {
		return ErrNoPath
	}

	data, err := encode(path, state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write state: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close state: %w", err)
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		return fmt.Errorf("chmod state: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("rename state: %w", err)
	}
	return nil
}

func Read(path string) (State, error) {
	var state State

	data, err := os.ReadFile(path)
	if err != nil {
		return state, fmt.Errorf("read state: %w", err)
	}

	if isYAML(path) {
		err = yaml.Unmarshal(data, &state)
	} else {
		err = json.Unmarshal(data, &state)
	}
	if err != nil {
		return state, fmt.Errorf("decode state %s: %w", path, err)
	}
	return state, nil
}
