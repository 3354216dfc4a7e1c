package recovery

import (
	"sync"

	"github.com/angeloszaimis/self-healing/internal/classifier"
)

type SeverityStats struct {
	Handled   int64 `json:"handled" yaml:"handled"`
	Recovered int64 `json:"recovered" yaml:"recovered"`
	Failed    int64 `json:"failed" yaml:"failed"`
	Skipped   int64 `json:"skipped" yaml:"skipped"`
	Cancelled int64 `json:"cancelled" yaml:"cancelled"`
}

// Stats summarises every HandleError outcome since start.
type Stats struct {
	SeverityStats `yaml:",inline"`
	BySeverity    map[string]SeverityStats `json:"by_severity" yaml:"by_severity"`
}

type statsRecorder struct {
	mutex      sync.Mutex
	total      SeverityStats
	bySeverity map[classifier.Severity]*SeverityStats
}

func newStatsRecorder() *statsRecorder {
	r := &statsRecorder{bySeverity: make(map[classifier.Severity]*SeverityStats)}
	for _, s := range classifier.Severities {
		r.bySeverity[s] = &SeverityStats{}
	}
	return r
}

func (r *statsRecorder) update(severity classifier.Severity, apply func(*SeverityStats)) {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	apply(&r.total)
	if s, ok := r.bySeverity[severity]; ok {
		apply(s)
	}
}

func (r *statsRecorder) snapshot() Stats {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	out := Stats{
		SeverityStats: r.total,
		BySeverity:    make(map[string]SeverityStats, len(r.bySeverity)),
	}
	for severity, s := range r.bySeverity {
		out.BySeverity[severity.String()] = *s
	}
	return out
}
