package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "selfhealing"

// Metrics holds every series the collector writes.
type Metrics struct {
	errorsHandled     *prometheus.CounterVec
	recoveries        *prometheus.CounterVec
	criticalErrors    prometheus.Counter
	integrityFailures prometheus.Counter
	breakerChanges    *prometheus.CounterVec
	breakerOpen       *prometheus.GaugeVec
	healthScore       prometheus.Gauge
	componentUp       *prometheus.GaugeVec
	sweeps            *prometheus.CounterVec
	restarts          *prometheus.CounterVec
	dropped           prometheus.Counter
}

// NewMetrics creates the series and registers them on registry.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	m := &Metrics{
		errorsHandled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "errors_handled_total",
			Help:      "Errors reported to the engine by severity",
		}, []string{"severity"}),
		recoveries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "recoveries_total",
			Help:      "Recovery outcomes by severity",
		}, []string{"severity", "outcome"}),
		criticalErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "critical_errors_total",
			Help:      "Critical errors handled",
		}),
		integrityFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "integrity_failures_total",
			Help:      "Critical recoveries that exhausted their attempts",
		}),
		breakerChanges: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "breaker_transitions_total",
			Help:      "Circuit breaker state transitions",
		}, []string{"component", "to"}),
		breakerOpen: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "breaker_open",
			Help:      "1 while the component's breaker is not Closed",
		}, []string{"component"}),
		healthScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "health_score",
			Help:      "Latest system health score",
		}),
		componentUp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "component_up",
			Help:      "1 if the component's last health probe passed",
		}, []string{"component"}),
		sweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "self_healing_sweeps_total",
			Help:      "Self-healing sweeps by trigger and outcome",
		}, []string{"trigger", "outcome"}),
		restarts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "component_restarts_total",
			Help:      "Component restarts",
		}, []string{"component"}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "metric_events_dropped_total",
			Help:      "Events dropped because the collector buffer was full",
		}),
	}

	registry.MustRegister(
		m.errorsHandled,
		m.recoveries,
		m.criticalErrors,
		m.integrityFailures,
		m.breakerChanges,
		m.breakerOpen,
		m.healthScore,
		m.componentUp,
		m.sweeps,
		m.restarts,
		m.dropped,
	)
	return m
}

func outcome(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

func boolGauge(ok bool) float64 {
	if ok {
		return 1
	}
	return 0
}
