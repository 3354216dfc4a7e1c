package metrics

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angeloszaimis/self-healing/internal/events"
)

const DefaultBufferSize = 256

type Collector struct {
	eventCh  chan events.Event
	done     chan struct{}
	metrics  *Metrics
	registry *prometheus.Registry
	logger   *slog.Logger
}

// NewCollector registers its series on registry, or on a fresh private
// registry when registry is nil.
func NewCollector(bufferSize int, registry *prometheus.Registry, logger *slog.Logger) *Collector {
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}

	return &Collector{
		eventCh:  make(chan events.Event, bufferSize),
		done:     make(chan struct{}),
		metrics:  NewMetrics(registry),
		registry: registry,
		logger:   logger,
	}
}

// OnEvent queues e without blocking. Events that find the buffer full are
// counted and discarded.
func (c *Collector) OnEvent(e events.Event) {
	select {
	case c.eventCh <- e:
	default:
		c.metrics.dropped.Inc()
	}
}

func (c *Collector) Start(ctx context.Context) {
	go c.run(ctx)
}

// Done is closed once the collector has stopped and drained its buffer.
func (c *Collector) Done() <-chan struct{} {
	return c.done
}

func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

func (c *Collector) run(ctx context.Context) {
	c.logger.Info("Metrics collector started")
	defer c.logger.Info("Metrics collector stopped")
	defer close(c.done)

	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		case <-ctx.Done():
			c.drain()
			return
		}
	}
}

func (c *Collector) processEvent(e events.Event) {
	m := c.metrics

	switch e.Type {
	case events.TypeErrorHandled:
		m.errorsHandled.WithLabelValues(e.Severity).Inc()

	case events.TypeRecovered:
		m.recoveries.WithLabelValues(e.Severity, "recovered").Inc()

	case events.TypeRecoveryFailed:
		m.recoveries.WithLabelValues(e.Severity, "failed").Inc()

	case events.TypeRecoverySkipped:
		m.recoveries.WithLabelValues(e.Severity, "skipped").Inc()

	case events.TypeCriticalError:
		m.criticalErrors.Inc()

	case events.TypeIntegrityFailure:
		m.integrityFailures.Inc()

	case events.TypeBreakerTransition:
		m.breakerChanges.WithLabelValues(e.Component, e.To).Inc()
		m.breakerOpen.WithLabelValues(e.Component).Set(boolGauge(e.To != "Closed"))

	case events.TypeHealthSnapshot:
		m.healthScore.Set(e.Score)

	case events.TypeComponentChecked:
		m.componentUp.WithLabelValues(e.Component).Set(boolGauge(e.Healthy))

	case events.TypeSelfHealingCompleted:
		m.sweeps.WithLabelValues(e.Reason, outcome(e.Recovered)).Inc()

	case events.TypeComponentRestarted:
		m.restarts.WithLabelValues(e.Component).Inc()
	}
}

func (c *Collector) drain() {
	for {
		select {
		case event := <-c.eventCh:
			c.processEvent(event)
		default:
			return
		}
	}
}
