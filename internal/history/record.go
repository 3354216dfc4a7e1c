package history

import (
	"maps"
	"time"

	"github.com/google/uuid"

	"github.com/angeloszaimis/self-healing/internal/classifier"
)

// Record describes one reported error. Only Recovered and Attempts change
// after creation.
type Record struct {
	ID        string              `json:"id" yaml:"id"`
	Message   string              `json:"message" yaml:"message"`
	Component string              `json:"component,omitempty" yaml:"component,omitempty"`
	Context   map[string]any      `json:"context,omitempty" yaml:"context,omitempty"`
	Severity  classifier.Severity `json:"severity" yaml:"severity"`
	Timestamp time.Time           `json:"timestamp" yaml:"timestamp"`
	Recovered bool                `json:"recovered" yaml:"recovered"`
	Attempts  int                 `json:"attempts" yaml:"attempts"`
}

func NewRecord(message, component string, context map[string]any, severity classifier.Severity, at time.Time) *Record {
	return &Record{
		ID:        uuid.NewString(),
		Message:   message,
		Component: component,
		Context:   maps.Clone(context),
		Severity:  severity,
		Timestamp: at,
	}
}

func (r *Record) clone() Record {
	c := *r
	c.Context = maps.Clone(r.Context)
	return c
}
