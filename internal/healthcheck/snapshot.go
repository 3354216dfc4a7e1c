package healthcheck

import (
	"fmt"
	"time"

	"github.com/angeloszaimis/self-healing/internal/component"
)

type Status int

const (
	StatusHealthy Status = iota
	StatusDegraded
	StatusUnhealthy
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "Healthy"
	case StatusDegraded:
		return "Degraded"
	default:
		return "Unhealthy"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{StatusHealthy, StatusDegraded, StatusUnhealthy} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Weights scale the three score terms. Their sum is the maximum score.
type Weights struct {
	Uptime         float64 `json:"uptime" yaml:"uptime"`
	Responsiveness float64 `json:"responsiveness" yaml:"responsiveness"`
	ErrorFree      float64 `json:"error_free" yaml:"error_free"`
}

func DefaultWeights() Weights {
	return Weights{Uptime: 0.5, Responsiveness: 0.3, ErrorFree: 0.2}
}

func (w Weights) Max() float64 {
	return w.Uptime + w.Responsiveness + w.ErrorFree
}

// Thresholds are the minimum scores for Healthy and Degraded.
type Thresholds struct {
	Healthy  float64 `json:"healthy" yaml:"healthy"`
	Degraded float64 `json:"degraded" yaml:"degraded"`
}

func DefaultThresholds() Thresholds {
	return Thresholds{Healthy: 0.8, Degraded: 0.4}
}

func (t Thresholds) Status(score float64) Status {
	switch {
	case score >= t.Healthy:
		return StatusHealthy
	case score >= t.Degraded:
		return StatusDegraded
	default:
		return StatusUnhealthy
	}
}

// ComponentHealth is one component's entry in a snapshot.
type ComponentHealth struct {
	Name         string           `json:"name" yaml:"name"`
	Status       component.Status `json:"status" yaml:"status"`
	Healthy      bool             `json:"healthy" yaml:"healthy"`
	Responsive   bool             `json:"responsive" yaml:"responsive"`
	ResponseTime time.Duration    `json:"response_time" yaml:"response_time"`
	ErrorCount   int              `json:"error_count" yaml:"error_count"`
	// ErrorRate is the component's lifetime share of failed checks.
	ErrorRate float64 `json:"error_rate" yaml:"error_rate"`
}

// Snapshot is replaced wholesale on every tick and never mutated.
type Snapshot struct {
	Status     Status            `json:"status" yaml:"status"`
	Score      float64           `json:"score" yaml:"score"`
	Components []ComponentHealth `json:"components" yaml:"components"`
	Timestamp  time.Time         `json:"timestamp" yaml:"timestamp"`
}

func (s Snapshot) clone() Snapshot {
	c := s
	c.Components = append([]ComponentHealth(nil), s.Components...)
	return c
}

// Score combines the uptime, responsive and error-free ratios of results.
// An empty set scores the maximum. A Healthy component slower than the
// slow-response bound still loses the responsive weight, so all-Healthy
// scores the maximum only when every probe answered in time.
func Score(results []ComponentHealth, w Weights) float64 {
	if len(results) == 0 {
		return w.Max()
	}

	var up, responsive, errorFree int
	for _, r := range results {
		if r.Healthy {
			up++
		}
		if r.Responsive {
			responsive++
		}
		if r.Status != component.StatusError {
			errorFree++
		}
	}

	n := float64(len(results))
	return w.Uptime*float64(up)/n +
		w.Responsiveness*float64(responsive)/n +
		w.ErrorFree*float64(errorFree)/n
}
