// Package engine assembles the resilience components into one object that
// collaborators register with and report failures to.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/angeloszaimis/self-healing/internal/circuitbreaker"
	"github.com/angeloszaimis/self-healing/internal/classifier"
	"github.com/angeloszaimis/self-healing/internal/component"
	"github.com/angeloszaimis/self-healing/internal/events"
	"github.com/angeloszaimis/self-healing/internal/healthcheck"
	"github.com/angeloszaimis/self-healing/internal/history"
	"github.com/angeloszaimis/self-healing/internal/metrics"
	"github.com/angeloszaimis/self-healing/internal/recovery"
	"github.com/angeloszaimis/self-healing/internal/selfheal"
	"github.com/angeloszaimis/self-healing/internal/statefile"
	"github.com/angeloszaimis/self-healing/internal/strategy"
)

var (
	ErrAlreadyStarted = errors.New("engine already started")
	ErrStopped        = errors.New("engine is shut down")
	ErrUnknownBreaker = errors.New("no breaker or component with that name")
)

type Engine struct {
	cfg    Config
	logger *slog.Logger
	now    func() time.Time

	bus        *events.Bus
	components *component.Registry
	breakers   *circuitbreaker.Registry
	history    *history.Store
	sweeper    *history.Sweeper
	dispatcher *recovery.Dispatcher
	monitor    *healthcheck.Monitor
	scheduler  *selfheal.Scheduler
	collector  *metrics.Collector

	mutex   sync.Mutex
	base    context.Context
	cancel  context.CancelFunc
	started bool
	stopped bool
	tasks   sync.WaitGroup

	shutdownRequested chan struct{}
	requestOnce       sync.Once
}

func New(cfg Config, logger *slog.Logger, opts ...Option) *Engine {
	o := options{now: time.Now}
	for _, opt := range opts {
		opt(&o)
	}

	e := &Engine{
		cfg:               cfg,
		logger:            logger,
		now:               o.now,
		bus:               events.NewBus(),
		base:              context.Background(),
		shutdownRequested: make(chan struct{}),
	}

	e.components = component.NewRegistry(cfg.ProbeTimeout)
	e.breakers = circuitbreaker.NewRegistry(cfg.BreakerThreshold, cfg.BreakerTimeout).WithClock(o.now)
	e.breakers.OnTransition(e.onBreakerTransition)
	e.history = history.NewStore(cfg.HistoryCapacity, cfg.HistoryRetention).WithClock(o.now)
	e.sweeper = history.NewSweeper(e.history, cfg.SweepSchedule, logger)

	verifier := o.verifier
	if verifier == nil {
		verifier = e.verifyIntegrity
	}
	strategies := recovery.Strategies{
		classifier.SeverityCritical: strategy.NewCriticalStrategy(e.components, verifier, cfg.SelfHealing.ProblemThreshold, logger),
		classifier.SeverityHigh:     strategy.NewConnectionResetStrategy(e.components, o.caches, logger),
		classifier.SeverityMedium:   strategy.NewRetryStrategy(o.nudger, logger),
		classifier.SeverityLow:      strategy.NewLogStrategy(logger),
	}

	e.dispatcher = recovery.NewDispatcher(e.breakers, e.history, e.components, strategies, e.bus, logger,
		recovery.WithPolicies(cfg.Policies),
		recovery.WithAttemptTimeout(cfg.AttemptTimeout),
		recovery.WithSleep(o.sleep),
		recovery.WithClock(o.now))

	e.monitor = healthcheck.NewMonitor(e.components, e.dispatcher, e.bus, logger,
		healthcheck.WithInterval(cfg.HealthInterval),
		healthcheck.WithSlowResponse(cfg.SlowResponse),
		healthcheck.WithWeights(cfg.Weights),
		healthcheck.WithThresholds(cfg.Thresholds),
		healthcheck.WithClock(o.now))

	schedulerOpts := []selfheal.Option{
		selfheal.WithHealth(func() float64 { return e.monitor.Latest().Score }),
		selfheal.WithClock(o.now),
	}
	if o.memory != nil {
		schedulerOpts = append(schedulerOpts, selfheal.WithMemoryProbe(o.memory))
	}
	e.scheduler = selfheal.NewScheduler(cfg.SelfHealing, e.components, e.breakers, e.history, e.bus, logger, schedulerOpts...)

	e.collector = metrics.NewCollector(cfg.MetricsBuffer, o.registry, logger)

	e.bus.Subscribe(e.collector)
	e.bus.Subscribe(e.scheduler)
	e.bus.Subscribe(events.ListenerFunc(e.onIntegrityFailure))
	return e
}

// Start launches the periodic tasks. They stop when ctx is done or on
// Shutdown.
func (e *Engine) Start(ctx context.Context) error {
	e.mutex.Lock()
	defer e.mutex.Unlock()

	if e.stopped {
		return ErrStopped
	}
	if e.started {
		return ErrAlreadyStarted
	}

	base, cancel := context.WithCancel(ctx)
	if err := e.sweeper.Start(base); err != nil {
		cancel()
		return fmt.Errorf("start history sweeper: %w", err)
	}

	e.base = base
	e.cancel = cancel
	e.started = true

	e.collector.Start(base)
	e.tasks.Add(2)
	go func() {
		defer e.tasks.Done()
		e.monitor.Run(base)
	}()
	go func() {
		defer e.tasks.Done()
		e.scheduler.Run(base)
	}()

	e.logger.Info("Resilience engine started",
		slog.Duration("health_interval", e.monitor.Interval()),
		slog.Int("components", e.components.Len()))
	return nil
}

// Shutdown stops the periodic tasks, refuses new background recoveries and
// sweeps, waits for the running ones, writes the state file and closes every component. Only the first
// call does any work.
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mutex.Lock()
	if e.stopped {
		e.mutex.Unlock()
		return nil
	}
	e.stopped = true
	started := e.started
	if e.cancel != nil {
		e.cancel()
	}
	e.mutex.Unlock()

	e.logger.Info("Shutting down resilience engine")

	done := make(chan struct{})
	go func() {
		defer close(done)
		e.tasks.Wait()
		e.dispatcher.Close()
		e.scheduler.Close()
		e.sweeper.Stop()
		if started {
			<-e.collector.Done()
		}
	}()

	select {
	case <-done:
	case <-ctx.Done():
		e.logger.Warn("Shutdown deadline reached before background work finished")
	}

	if e.cfg.StateFile != "" {
		if err := statefile.Write(e.cfg.StateFile, e.State()); err != nil {
			e.logger.Error("Failed to write state file",
				slog.String("path", e.cfg.StateFile),
				slog.Any("err", err))
		} else {
			e.logger.Info("State file written", slog.String("path", e.cfg.StateFile))
		}
	}

	if err := e.components.CloseAll(ctx); err != nil {
		return fmt.Errorf("close components: %w", err)
	}
	return nil
}

// ShutdownRequested is closed when a Critical recovery exhausts its
// attempts. The owner is expected to call Shutdown.
func (e *Engine) ShutdownRequested() <-chan struct{} {
	return e.shutdownRequested
}

func (e *Engine) RegisterComponent(name string, probe component.Probe, hook component.Hook) error {
	if _, err := e.components.Register(name, probe, hook); err != nil {
		return err
	}
	e.logger.Info("Component registered", slog.String("component", name))
	return nil
}

func (e *Engine) DeregisterComponent(name string) error {
	return e.components.Deregister(name)
}

// HandleError classifies and recovers err. errCtx may carry "component",
// "severity" and "code" hints.
func (e *Engine) HandleError(ctx context.Context, err error, errCtx map[string]any) history.Record {
	return e.dispatcher.HandleError(ctx, err, errCtx)
}

// SubmitError records err and recovers it in the background, bound to the
// engine's lifetime rather than the caller's. The returned record has the ID
// and severity; the outcome shows up in RecentErrors.
func (e *Engine) SubmitError(err error, errCtx map[string]any) history.Record {
	return e.dispatcher.Submit(e.runContext(), err, errCtx)
}

// HandleOperation is HandleError with a retry of the failed operation
// available to the strategies.
func (e *Engine) HandleOperation(ctx context.Context, err error, errCtx map[string]any, retry func(context.Context) error) history.Record {
	return e.dispatcher.HandleOperation(ctx, err, errCtx, retry)
}

func (e *Engine) SystemStatus() healthcheck.Snapshot {
	return e.monitor.Latest()
}

// RecentErrors returns up to limit records, newest first.
func (e *Engine) RecentErrors(limit int) []history.Record {
	return e.history.Recent(limit)
}

func (e *Engine) ComponentsStatus() map[string]component.Status {
	return e.components.Statuses()
}

func (e *Engine) ComponentInfos() []component.Info {
	return e.components.Infos()
}

func (e *Engine) CircuitBreakersStatus() map[string]circuitbreaker.Snapshot {
	return e.breakers.Stats()
}

// ForceHealthCheck runs one monitor tick now. Recoveries it starts are bound
// to the engine's lifetime, not the caller's.
func (e *Engine) ForceHealthCheck() healthcheck.Snapshot {
	return e.monitor.Tick(e.runContext())
}

func (e *Engine) ForceSelfHealing(ctx context.Context) (selfheal.Report, error) {
	return e.scheduler.Trigger(ctx, selfheal.TriggerManual)
}

func (e *Engine) ForceComponentRestart(ctx context.Context, name string) error {
	if err := e.components.Restart(ctx, name); err != nil {
		return err
	}
	e.bus.Publish(events.Event{Type: events.TypeComponentRestarted, Component: name, Reason: "manual"})
	return nil
}

// ResetCircuitBreaker forces the named breaker Closed with no failures. A
// registered component without a breaker gets a fresh Closed one.
func (e *Engine) ResetCircuitBreaker(name string) error {
	if e.breakers.Reset(name) {
		e.logger.Info("Circuit breaker reset", slog.String("component", name))
		return nil
	}
	if e.components.Has(name) {
		e.breakers.GetBreaker(name)
		return nil
	}
	return fmt.Errorf("%w: %s", ErrUnknownBreaker, name)
}

func (e *Engine) ClearErrorHistory() {
	e.history.Clear()
	e.logger.Info("Error history cleared")
}

func (e *Engine) Subscribe(l events.Listener) {
	e.bus.Subscribe(l)
}

// SetPolicies replaces the recovery policy for each severity in p.
func (e *Engine) SetPolicies(p recovery.Policies) {
	e.dispatcher.SetPolicies(p)
}

func (e *Engine) Policies() recovery.Policies {
	return e.dispatcher.Policies()
}

func (e *Engine) Coefficients() selfheal.Coefficients {
	return e.scheduler.Coefficients()
}

func (e *Engine) RecoveryStats() recovery.Stats {
	return e.dispatcher.Stats()
}

func (e *Engine) SelfHealingStats() selfheal.Stats {
	return e.scheduler.Stats()
}

func (e *Engine) MetricsHandler() http.Handler {
	return e.collector.Handler()
}

// State gathers the snapshot written to the state file.
func (e *Engine) State() statefile.State {
	return statefile.State{
		WrittenAt:    e.now(),
		Health:       e.monitor.Latest(),
		Recovery:     e.dispatcher.Stats(),
		SelfHealing:  e.scheduler.Stats(),
		Coefficients: e.scheduler.Coefficients(),
		Breakers:     e.breakers.Stats(),
	}
}

func (e *Engine) runContext() context.Context {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.base
}

func (e *Engine) onBreakerTransition(name string, from, to circuitbreaker.State) {
	if to == circuitbreaker.StateOpen {
		e.logger.Warn("Circuit breaker opened",
			slog.String("component", name),
			slog.String("from", from.String()))
	} else {
		e.logger.Info("Circuit breaker transition",
			slog.String("component", name),
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	}

	e.bus.Publish(events.Event{
		Type:      events.TypeBreakerTransition,
		Component: name,
		From:      from.String(),
		To:        to.String(),
	})
}

func (e *Engine) onIntegrityFailure(ev events.Event) {
	if ev.Type != events.TypeIntegrityFailure {
		return
	}
	e.requestOnce.Do(func() {
		e.logger.Error("System integrity lost, requesting controlled shutdown",
			slog.String("record", ev.RecordID))
		close(e.shutdownRequested)
	})
}

// verifyIntegrity scores the share of components that are neither in Error
// nor behind an Open breaker. No components scores 1.
func (e *Engine) verifyIntegrity(context.Context) (float64, error) {
	infos := e.components.Infos()
	if len(infos) == 0 {
		return 1, nil
	}

	intact := 0
	for _, info := range infos {
		if info.Status == component.StatusError {
			continue
		}
		if snap, ok := e.breakers.Snapshot(info.Name); ok && snap.State == circuitbreaker.StateOpen {
			continue
		}
		intact++
	}
	return float64(intact) / float64(len(infos)), nil
}
