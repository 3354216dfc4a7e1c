package recovery

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/angeloszaimis/self-healing/internal/circuitbreaker"
	"github.com/angeloszaimis/self-healing/internal/classifier"
	"github.com/angeloszaimis/self-healing/internal/events"
	"github.com/angeloszaimis/self-healing/internal/history"
	"github.com/angeloszaimis/self-healing/internal/strategy"
)

// Error context keys read by the dispatcher.
const (
	ContextComponent = "component"
	ContextSource    = "source"
)

const (
	SourceHealthCheck = "health_check"

	DefaultAttemptTimeout = 30 * time.Second
)

var errAttemptPanicked = errors.New("recovery attempt panicked")

// ComponentTracker receives error bookkeeping for named components.
type ComponentTracker interface {
	NoteError(name, recordID string) bool
	Degrade(name string)
}

// Strategies maps each severity to the strategy that recovers it.
type Strategies map[classifier.Severity]strategy.Strategy

// SleepFunc waits d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Option func(*Dispatcher)

func WithPolicies(p Policies) Option {
	return func(d *Dispatcher) {
		maps.Copy(d.policies, p)
	}
}

func WithAttemptTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) {
		if timeout > 0 {
			d.attemptTimeout = timeout
		}
	}
}

func WithSleep(sleep SleepFunc) Option {
	return func(d *Dispatcher) {
		if sleep != nil {
			d.sleep = sleep
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) {
		if now != nil {
			d.now = now
		}
	}
}

type Dispatcher struct {
	breakers   *circuitbreaker.Registry
	history    *history.Store
	tracker    ComponentTracker
	strategies Strategies
	bus        *events.Bus
	logger     *slog.Logger

	mutex    sync.RWMutex
	policies Policies

	attemptTimeout time.Duration
	sleep          SleepFunc
	now            func() time.Time
	stats          *statsRecorder

	asyncMutex sync.Mutex
	closed     bool
	inflight   sync.WaitGroup
}

func NewDispatcher(breakers *circuitbreaker.Registry, store *history.Store, tracker ComponentTracker,
	strategies Strategies, bus *events.Bus, logger *slog.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		breakers:       breakers,
		history:        store,
		tracker:        tracker,
		strategies:     strategies,
		bus:            bus,
		logger:         logger,
		policies:       DefaultPolicies(),
		attemptTimeout: DefaultAttemptTimeout,
		sleep:          sleepContext,
		now:            time.Now,
		stats:          newStatsRecorder(),
	}

	for _, opt := range opts {
		opt(d)
	}
	return d
}

// HandleError classifies err, records it and runs the recovery strategy for
// its severity until it succeeds or the policy's attempts are exhausted.
// It never panics and always returns a copy of the final record.
func (d *Dispatcher) HandleError(ctx context.Context, err error, errCtx map[string]any) history.Record {
	return d.resolve(ctx, d.record(err, errCtx), nil)
}

// HandleOperation is HandleError for a failed operation that strategies may
// re-run through retry.
func (d *Dispatcher) HandleOperation(ctx context.Context, err error, errCtx map[string]any, retry func(ctx context.Context) error) history.Record {
	return d.resolve(ctx, d.record(err, errCtx), retry)
}

// Submit classifies and records err, then runs its recovery on a tracked
// goroutine. The returned record carries the ID and severity with no
// attempts yet; its outcome lands in history when recovery finishes.
func (d *Dispatcher) Submit(ctx context.Context, err error, errCtx map[string]any) history.Record {
	rec := d.record(err, errCtx)
	pending := d.result(rec, false, 0)

	if !d.spawn(func() { d.resolve(ctx, rec, nil) }) {
		d.refuse(rec)
	}
	return pending
}

func (d *Dispatcher) record(err error, errCtx map[string]any) *history.Record {
	message := "unknown error"
	if err != nil {
		message = err.Error()
	}
	name, _ := errCtx[ContextComponent].(string)
	severity := classifier.ClassifyError(err, errCtx)

	rec := history.NewRecord(message, name, errCtx, severity, d.now())
	d.history.Append(rec)
	if name != "" {
		d.tracker.NoteError(name, rec.ID)
	}

	d.stats.update(severity, func(s *SeverityStats) { s.Handled++ })
	d.publish(events.Event{
		Type:      events.TypeErrorHandled,
		Component: name,
		Severity:  severity.String(),
		RecordID:  rec.ID,
	})
	return rec
}

func (d *Dispatcher) resolve(ctx context.Context, rec *history.Record, retry func(ctx context.Context) error) history.Record {
	name, severity := rec.Component, rec.Severity

	if name != "" && !d.breakers.Allow(name) {
		return d.skip(rec)
	}

	policy := d.Policy(severity)
	inc := strategy.Incident{
		RecordID:  rec.ID,
		Component: name,
		Message:   rec.Message,
		Severity:  severity,
		Retry:     retry,
	}
	attempts, recovered := d.attempt(ctx, inc, policy)
	d.history.Update(rec.ID, recovered, attempts)
	result := d.result(rec, recovered, attempts)

	// A caller giving up says nothing about the component.
	if !recovered && ctx.Err() != nil {
		return d.cancelled(result)
	}

	if name != "" {
		d.breakers.RecordResult(name, recovered)
	}

	if recovered {
		d.stats.update(severity, func(s *SeverityStats) { s.Recovered++ })
		d.logger.Info("Error recovered",
			slog.String("id", rec.ID),
			slog.String("component", name),
			slog.String("severity", severity.String()),
			slog.Int("attempts", attempts))
		d.publishOutcome(events.TypeRecovered, result, "")
	} else {
		d.stats.update(severity, func(s *SeverityStats) { s.Failed++ })
		if name != "" {
			d.tracker.Degrade(name)
		}
		d.logger.Warn("Recovery failed",
			slog.String("id", rec.ID),
			slog.String("component", name),
			slog.String("severity", severity.String()),
			slog.Int("attempts", attempts))
		d.publishOutcome(events.TypeRecoveryFailed, result, "")
	}

	if severity == classifier.SeverityCritical {
		d.publishOutcome(events.TypeCriticalError, result, rec.Message)
		if !recovered {
			d.logger.Error("Critical recovery exhausted, integrity lost",
				slog.String("id", rec.ID),
				slog.String("component", name))
			d.publishOutcome(events.TypeIntegrityFailure, result, rec.Message)
		}
	}
	return result
}

func (d *Dispatcher) skip(rec *history.Record) history.Record {
	d.history.Update(rec.ID, false, 0)
	d.stats.update(rec.Severity, func(s *SeverityStats) { s.Skipped++ })
	d.logger.Warn("Circuit open, recovery skipped",
		slog.String("id", rec.ID),
		slog.String("component", rec.Component),
		slog.String("severity", rec.Severity.String()))

	result := d.result(rec, false, 0)
	d.publishOutcome(events.TypeRecoverySkipped, result, "circuit open")
	if rec.Severity == classifier.SeverityCritical {
		d.publishOutcome(events.TypeCriticalError, result, rec.Message)
	}
	return result
}

// cancelled leaves the breaker and the component status untouched.
func (d *Dispatcher) cancelled(result history.Record) history.Record {
	d.stats.update(result.Severity, func(s *SeverityStats) { s.Cancelled++ })
	d.logger.Info("Recovery cancelled",
		slog.String("id", result.ID),
		slog.String("component", result.Component),
		slog.String("severity", result.Severity.String()),
		slog.Int("attempts", result.Attempts))

	d.publishOutcome(events.TypeRecoverySkipped, result, "cancelled")
	if result.Severity == classifier.SeverityCritical {
		d.publishOutcome(events.TypeCriticalError, result, result.Message)
	}
	return result
}

// refuse settles a submitted record that arrived after Close.
func (d *Dispatcher) refuse(rec *history.Record) {
	d.history.Update(rec.ID, false, 0)
	d.stats.update(rec.Severity, func(s *SeverityStats) { s.Skipped++ })
	d.logger.Warn("Dispatcher closed, recovery skipped",
		slog.String("id", rec.ID),
		slog.String("component", rec.Component))
	d.publishOutcome(events.TypeRecoverySkipped, d.result(rec, false, 0), "shutting down")
}

func (d *Dispatcher) attempt(ctx context.Context, inc strategy.Incident, policy Policy) (int, bool) {
	s, ok := d.strategies[inc.Severity]
	if !ok || s == nil {
		d.logger.Error("No strategy for severity", slog.String("severity", inc.Severity.String()))
		return 0, false
	}

	delays := policy.Delays()
	for attempt := 1; attempt <= policy.Attempts(); attempt++ {
		inc.Attempt = attempt
		err := d.runOnce(ctx, s, inc)
		if err == nil {
			return attempt, true
		}

		d.logger.Debug("Recovery attempt failed",
			slog.String("id", inc.RecordID),
			slog.String("strategy", s.Name()),
			slog.Int("attempt", attempt),
			slog.Any("err", err))

		if attempt == policy.Attempts() {
			break
		}
		if err := d.sleep(ctx, delays[attempt-1]); err != nil {
			return attempt, false
		}
	}
	return policy.Attempts(), false
}

// runOnce bounds one strategy call by the attempt timeout. A panic or a
// timeout counts as a failed attempt.
func (d *Dispatcher) runOnce(ctx context.Context, s strategy.Strategy, inc strategy.Incident) error {
	ctx, cancel := context.WithTimeout(ctx, d.attemptTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("%w: %v", errAttemptPanicked, r)
			}
		}()
		done <- s.Recover(ctx, inc)
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReportProbe feeds a health probe outcome in. A failure is dispatched as a
// High severity error on its own goroutine; a success closes a HalfOpen
// breaker for the component.
func (d *Dispatcher) ReportProbe(ctx context.Context, name string, healthy bool, reason error) {
	if healthy {
		snap, ok := d.breakers.Snapshot(name)
		if ok && snap.State != circuitbreaker.StateClosed && d.breakers.Allow(name) {
			d.breakers.RecordResult(name, true)
		}
		return
	}

	if reason == nil {
		reason = fmt.Errorf("health probe for %s reported unhealthy", name)
	}

	dispatched := d.spawn(func() {
		d.HandleError(ctx, reason, map[string]any{
			ContextComponent:        name,
			ContextSource:           SourceHealthCheck,
			classifier.HintSeverity: classifier.SeverityHigh.String(),
		})
	})
	if !dispatched {
		d.logger.Debug("Dispatcher closed, probe failure dropped", slog.String("component", name))
	}
}

// spawn runs fn on a tracked goroutine unless the dispatcher is closed.
func (d *Dispatcher) spawn(fn func()) bool {
	d.asyncMutex.Lock()
	defer d.asyncMutex.Unlock()

	if d.closed {
		return false
	}
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		fn()
	}()
	return true
}

// Wait blocks until every recovery started by ReportProbe or Submit has
// finished.
func (d *Dispatcher) Wait() {
	d.inflight.Wait()
}

// Close refuses further asynchronous recoveries and waits for the running
// ones. HandleError keeps working synchronously.
func (d *Dispatcher) Close() {
	d.asyncMutex.Lock()
	d.closed = true
	d.asyncMutex.Unlock()

	d.inflight.Wait()
}

func (d *Dispatcher) Policy(severity classifier.Severity) Policy {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.policies[severity]
}

func (d *Dispatcher) Policies() Policies {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return maps.Clone(d.policies)
}

// SetPolicies replaces the policies for the severities present in p.
// Recoveries already in progress keep the policy they started with.
func (d *Dispatcher) SetPolicies(p Policies) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	maps.Copy(d.policies, p)
}

func (d *Dispatcher) Stats() Stats {
	return d.stats.snapshot()
}

func (d *Dispatcher) result(rec *history.Record, recovered bool, attempts int) history.Record {
	out := *rec
	out.Context = maps.Clone(rec.Context)
	out.Recovered = recovered
	out.Attempts = attempts
	return out
}

func (d *Dispatcher) publishOutcome(t events.Type, rec history.Record, reason string) {
	d.publish(events.Event{
		Type:      t,
		Component: rec.Component,
		Severity:  rec.Severity.String(),
		RecordID:  rec.ID,
		Attempts:  rec.Attempts,
		Recovered: rec.Recovered,
		Reason:    reason,
	})
}

func (d *Dispatcher) publish(e events.Event) {
	if d.bus != nil {
		d.bus.Publish(e)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
