package healthcheck

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/angeloszaimis/self-healing/internal/component"
	"github.com/angeloszaimis/self-healing/internal/events"
)

const (
	DefaultInterval     = 30 * time.Second
	DefaultSlowResponse = time.Second
)

// Reporter receives every probe outcome.
type Reporter interface {
	ReportProbe(ctx context.Context, name string, healthy bool, reason error)
}

type Option func(*Monitor)

func WithInterval(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.interval = d
		}
	}
}

// WithSlowResponse sets the latency above which a healthy probe stops
// counting as responsive.
func WithSlowResponse(d time.Duration) Option {
	return func(m *Monitor) {
		if d > 0 {
			m.slowResponse = d
		}
	}
}

func WithWeights(w Weights) Option {
	return func(m *Monitor) {
		m.weights = w
	}
}

func WithThresholds(t Thresholds) Option {
	return func(m *Monitor) {
		m.thresholds = t
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Monitor) {
		if now != nil {
			m.now = now
		}
	}
}

type Monitor struct {
	registry *component.Registry
	reporter Reporter
	bus      *events.Bus
	logger   *slog.Logger

	interval     time.Duration
	slowResponse time.Duration
	weights      Weights
	thresholds   Thresholds
	now          func() time.Time

	mutex  sync.RWMutex
	latest Snapshot
	ticks  int64
}

func NewMonitor(registry *component.Registry, reporter Reporter, bus *events.Bus, logger *slog.Logger, opts ...Option) *Monitor {
	m := &Monitor{
		registry:     registry,
		reporter:     reporter,
		bus:          bus,
		logger:       logger,
		interval:     DefaultInterval,
		slowResponse: DefaultSlowResponse,
		weights:      DefaultWeights(),
		thresholds:   DefaultThresholds(),
		now:          time.Now,
	}

	for _, opt := range opts {
		opt(m)
	}

	m.latest = Snapshot{
		Status:     StatusHealthy,
		Score:      m.weights.Max(),
		Components: []ComponentHealth{},
		Timestamp:  m.now(),
	}
	return m
}

// Run ticks every interval until ctx is done.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("Health monitor stopped")
			return

		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}

// Tick probes all components concurrently, records each outcome, reports it
// and stores a fresh snapshot.
func (m *Monitor) Tick(ctx context.Context) Snapshot {
	components := m.registry.All()
	results := make([]ComponentHealth, len(components))
	timeout := m.registry.ProbeTimeout()

	var wg sync.WaitGroup
	for i, c := range components {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = m.probe(ctx, c, timeout)
		}()
	}
	wg.Wait()

	score := Score(results, m.weights)
	snap := Snapshot{
		Status:     m.thresholds.Status(score),
		Score:      score,
		Components: results,
		Timestamp:  m.now(),
	}

	m.mutex.Lock()
	m.latest = snap
	m.ticks++
	m.mutex.Unlock()

	m.publish(snap)
	m.logger.Debug("Health snapshot",
		slog.String("status", snap.Status.String()),
		slog.Float64("score", snap.Score),
		slog.Int("components", len(results)))

	return snap.clone()
}

func (m *Monitor) probe(ctx context.Context, c *component.Component, timeout time.Duration) ComponentHealth {
	healthy, elapsed := c.Check(ctx, timeout)
	previous := c.RecordCheck(healthy, elapsed, m.now())
	info := c.Info()

	if healthy != (previous == component.StatusHealthy) {
		if healthy {
			m.logger.Info("Component is back up", slog.String("component", c.Name()))
		} else {
			m.logger.Warn("Component is down",
				slog.String("component", c.Name()),
				slog.Duration("elapsed", elapsed))
		}
	}

	var reason error
	if !healthy {
		if elapsed >= timeout {
			reason = fmt.Errorf("health probe for %s timed out after %s", c.Name(), timeout)
		} else {
			reason = fmt.Errorf("health probe for %s reported unhealthy: connection check failed", c.Name())
		}
	}
	if m.reporter != nil {
		m.reporter.ReportProbe(ctx, c.Name(), healthy, reason)
	}

	return ComponentHealth{
		Name:         c.Name(),
		Status:       info.Status,
		Healthy:      healthy,
		Responsive:   healthy && elapsed <= m.slowResponse,
		ResponseTime: elapsed,
		ErrorCount:   info.ErrorCount,
		ErrorRate:    info.ErrorRate(),
	}
}

func (m *Monitor) publish(snap Snapshot) {
	if m.bus == nil {
		return
	}

	for _, r := range snap.Components {
		m.bus.Publish(events.Event{
			Type:      events.TypeComponentChecked,
			Timestamp: snap.Timestamp,
			Component: r.Name,
			Healthy:   r.Healthy,
			Status:    r.Status.String(),
		})
	}
	m.bus.Publish(events.Event{
		Type:      events.TypeHealthSnapshot,
		Timestamp: snap.Timestamp,
		Score:     snap.Score,
		Status:    snap.Status.String(),
		Healthy:   snap.Status == StatusHealthy,
	})
}

// Latest returns the snapshot of the most recent tick.
func (m *Monitor) Latest() Snapshot {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.latest.clone()
}

func (m *Monitor) Ticks() int64 {
	m.mutex.RLock()
	defer m.mutex.RUnlock()
	return m.ticks
}

func (m *Monitor) Interval() time.Duration {
	return m.interval
}

func (m *Monitor) Thresholds() Thresholds {
	return m.thresholds
}
