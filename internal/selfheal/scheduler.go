package selfheal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/angeloszaimis/self-healing/internal/events"
	"github.com/angeloszaimis/self-healing/internal/strategy"
)

type Trigger string

const (
	TriggerInterval  Trigger = "interval"
	TriggerCritical  Trigger = "critical_error"
	TriggerErrorRate Trigger = "error_rate"
	TriggerMemory    Trigger = "memory"
	TriggerHealth    Trigger = "health"
	TriggerManual    Trigger = "manual"
)

const (
	StepMemoryCleanup  = "memory_cleanup"
	StepComponentReset = "component_reset"
	StepStateRecovery  = "state_recovery"
	StepRecalibration  = "recalibration"
)

var ErrBusy = errors.New("self-healing sweep already in progress")

// Fleet is the component view a sweep repairs.
type Fleet interface {
	Problematic(threshold int) []string
	Restart(ctx context.Context, name string) error
}

type Breakers interface {
	Stale(grace time.Duration) []string
	Reset(name string) bool
}

type History interface {
	Prune() int
	CountSince(t time.Time) int
}

type Config struct {
	Interval          time.Duration
	CheckInterval     time.Duration
	ErrorWindow       time.Duration
	ErrorThreshold    int
	MemoryThreshold   uint64
	HealthThreshold   float64
	BreakerGrace      time.Duration
	ProblemThreshold  int
	RecalibrationRate float64
	Coefficients      Coefficients
	Bounds            Bounds
}

func DefaultConfig() Config {
	return Config{
		Interval:          5 * time.Minute,
		CheckInterval:     30 * time.Second,
		ErrorWindow:       5 * time.Minute,
		ErrorThreshold:    50,
		MemoryThreshold:   512 << 20,
		HealthThreshold:   0.5,
		BreakerGrace:      time.Minute,
		ProblemThreshold:  10,
		RecalibrationRate: 0.1,
		Coefficients:      DefaultCoefficients(),
		Bounds:            DefaultBounds(),
	}
}

type StepResult struct {
	Name   string   `json:"name" yaml:"name"`
	Error  string   `json:"error,omitempty" yaml:"error,omitempty"`
	Detail []string `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Report describes one finished sweep.
type Report struct {
	Trigger  Trigger       `json:"trigger" yaml:"trigger"`
	Started  time.Time     `json:"started" yaml:"started"`
	Duration time.Duration `json:"duration" yaml:"duration"`
	Steps    []StepResult  `json:"steps" yaml:"steps"`
	Success  bool          `json:"success" yaml:"success"`
}

type Stats struct {
	Sweeps    int64     `json:"sweeps" yaml:"sweeps"`
	Succeeded int64     `json:"succeeded" yaml:"succeeded"`
	Failed    int64     `json:"failed" yaml:"failed"`
	Dropped   int64     `json:"dropped" yaml:"dropped"`
	LastSweep time.Time `json:"last_sweep" yaml:"last_sweep"`
	LastError string    `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	Last      *Report   `json:"last_report,omitempty" yaml:"last_report,omitempty"`
}

type Option func(*Scheduler)

// WithHealth supplies the current system health score in [0,1].
func WithHealth(score func() float64) Option {
	return func(s *Scheduler) {
		s.health = score
	}
}

// WithMemoryProbe replaces the heap usage reading.
func WithMemoryProbe(probe func() uint64) Option {
	return func(s *Scheduler) {
		s.memory = probe
	}
}

func WithFreeMemory(free func()) Option {
	return func(s *Scheduler) {
		s.freeMemory = free
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

type Scheduler struct {
	cfg      Config
	fleet    Fleet
	breakers Breakers
	history  History
	bus      *events.Bus
	logger   *slog.Logger

	health     func() float64
	memory     func() uint64
	freeMemory func()
	now        func() time.Time

	busy     atomic.Bool
	inflight sync.WaitGroup

	mutex        sync.RWMutex
	base         context.Context
	closed       bool
	coefficients Coefficients
	stats        Stats
}

func NewScheduler(cfg Config, fleet Fleet, breakers Breakers, history History, bus *events.Bus, logger *slog.Logger, opts ...Option) *Scheduler {
	defaults := DefaultConfig()
	cfg.Interval = positiveOr(cfg.Interval, defaults.Interval)
	cfg.CheckInterval = positiveOr(cfg.CheckInterval, defaults.CheckInterval)
	cfg.ErrorWindow = positiveOr(cfg.ErrorWindow, defaults.ErrorWindow)

	s := &Scheduler{
		cfg:          cfg,
		fleet:        fleet,
		breakers:     breakers,
		history:      history,
		bus:          bus,
		logger:       logger,
		health:       func() float64 { return 1 },
		memory:       heapInUse,
		freeMemory:   strategy.FreeMemory,
		now:          time.Now,
		base:         context.Background(),
		coefficients: cfg.Coefficients,
	}

	for _, opt := range opts {
		opt(s)
	}
	return s
}

// positiveOr keeps tickers valid; time.NewTicker panics on a non-positive span.
func positiveOr(d, fallback time.Duration) time.Duration {
	if d <= 0 {
		return fallback
	}
	return d
}

// Trigger runs a sweep unless one is already in progress, in which case it
// returns ErrBusy immediately.
func (s *Scheduler) Trigger(ctx context.Context, reason Trigger) (Report, error) {
	if !s.busy.CompareAndSwap(false, true) {
		s.mutex.Lock()
		s.stats.Dropped++
		s.mutex.Unlock()

		s.logger.Debug("Self-healing trigger dropped", slog.String("trigger", string(reason)))
		return Report{}, ErrBusy
	}
	defer s.busy.Store(false)

	return s.sweep(ctx, reason), nil
}

// Busy reports whether a sweep is running.
func (s *Scheduler) Busy() bool {
	return s.busy.Load()
}

func (s *Scheduler) sweep(ctx context.Context, reason Trigger) Report {
	report := Report{Trigger: reason, Started: s.now()}
	s.logger.Info("Self-healing sweep started", slog.String("trigger", string(reason)))

	steps := []struct {
		name string
		run  func(context.Context) ([]string, error)
	}{
		{StepMemoryCleanup, s.cleanMemory},
		{StepComponentReset, s.resetComponents},
		{StepStateRecovery, s.recoverState},
		{StepRecalibration, s.recalibrate},
	}

	report.Success = true
	for _, step := range steps {
		result := s.runStep(ctx, step.name, step.run)
		if result.Error != "" {
			report.Success = false
		}
		report.Steps = append(report.Steps, result)
	}
	report.Duration = s.now().Sub(report.Started)

	s.mutex.Lock()
	s.stats.Sweeps++
	if report.Success {
		s.stats.Succeeded++
	} else {
		s.stats.Failed++
		s.stats.LastError = report.failures()
	}
	s.stats.LastSweep = report.Started
	last := report
	s.stats.Last = &last
	s.mutex.Unlock()

	s.logger.Info("Self-healing sweep finished",
		slog.String("trigger", string(reason)),
		slog.Bool("success", report.Success),
		slog.Duration("duration", report.Duration))

	s.publish(events.Event{
		Type:      events.TypeSelfHealingCompleted,
		Recovered: report.Success,
		Reason:    string(reason),
	})
	return report
}

func (s *Scheduler) runStep(ctx context.Context, name string, run func(context.Context) ([]string, error)) (result StepResult) {
	result.Name = name
	defer func() {
		if r := recover(); r != nil {
			result.Error = fmt.Sprintf("panic: %v", r)
			s.logger.Error("Self-healing step panicked", slog.String("step", name), slog.Any("panic", r))
		}
	}()

	detail, err := run(ctx)
	result.Detail = detail
	if err != nil {
		result.Error = err.Error()
		s.logger.Warn("Self-healing step failed", slog.String("step", name), slog.Any("error", err))
	}
	return result
}

func (s *Scheduler) cleanMemory(context.Context) ([]string, error) {
	s.freeMemory()
	pruned := s.history.Prune()
	return []string{fmt.Sprintf("pruned %d records", pruned)}, nil
}

func (s *Scheduler) resetComponents(ctx context.Context) ([]string, error) {
	var (
		restarted []string
		errs      []error
	)
	for _, name := range s.fleet.Problematic(s.cfg.ProblemThreshold) {
		if err := s.fleet.Restart(ctx, name); err != nil {
			errs = append(errs, err)
			continue
		}
		restarted = append(restarted, name)
		s.publish(events.Event{Type: events.TypeComponentRestarted, Component: name, Reason: "self-healing"})
	}
	return restarted, errors.Join(errs...)
}

func (s *Scheduler) recoverState(context.Context) ([]string, error) {
	var reset []string
	for _, name := range s.breakers.Stale(s.cfg.BreakerGrace) {
		if s.breakers.Reset(name) {
			reset = append(reset, name)
		}
	}
	return reset, nil
}

func (s *Scheduler) recalibrate(context.Context) ([]string, error) {
	score := s.health()

	s.mutex.Lock()
	s.coefficients = s.coefficients.Recalibrate(score, s.cfg.RecalibrationRate, s.cfg.Bounds)
	c := s.coefficients
	s.mutex.Unlock()

	return []string{fmt.Sprintf("stability=%.3f responsiveness=%.3f aggressiveness=%.3f",
		c.Stability, c.Responsiveness, c.Aggressiveness)}, nil
}

// OnEvent starts a sweep for a critical error or a health snapshot below the
// health threshold. The sweep runs on its own goroutine.
func (s *Scheduler) OnEvent(e events.Event) {
	var reason Trigger
	switch {
	case e.Type == events.TypeCriticalError:
		reason = TriggerCritical
	case e.Type == events.TypeHealthSnapshot && e.Score < s.cfg.HealthThreshold:
		reason = TriggerHealth
	default:
		return
	}

	if s.Busy() {
		s.mutex.Lock()
		s.stats.Dropped++
		s.mutex.Unlock()
		return
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.closed {
		return
	}

	ctx := s.base
	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		s.Trigger(ctx, reason)
	}()
}

// Run sweeps every Interval and checks the error-rate and memory triggers
// every CheckInterval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	s.mutex.Lock()
	s.base = ctx
	s.mutex.Unlock()

	interval := time.NewTicker(s.cfg.Interval)
	defer interval.Stop()
	check := time.NewTicker(s.cfg.CheckInterval)
	defer check.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Self-healing scheduler stopped")
			return

		case <-interval.C:
			s.Trigger(ctx, TriggerInterval)

		case <-check.C:
			if reason, ok := s.Check(); ok {
				s.Trigger(ctx, reason)
			}
		}
	}
}

// Check evaluates the error-rate and memory thresholds.
func (s *Scheduler) Check() (Trigger, bool) {
	if s.cfg.ErrorThreshold > 0 {
		if n := s.history.CountSince(s.now().Add(-s.cfg.ErrorWindow)); n > s.cfg.ErrorThreshold {
			s.logger.Warn("Error rate above threshold",
				slog.Int("errors", n),
				slog.Int("threshold", s.cfg.ErrorThreshold))
			return TriggerErrorRate, true
		}
	}

	if s.cfg.MemoryThreshold > 0 {
		if used := s.memory(); used > s.cfg.MemoryThreshold {
			s.logger.Warn("Memory usage above threshold",
				slog.Uint64("heap_bytes", used),
				slog.Uint64("threshold", s.cfg.MemoryThreshold))
			return TriggerMemory, true
		}
	}
	return "", false
}

// Wait blocks until sweeps started by OnEvent have finished.
func (s *Scheduler) Wait() {
	s.inflight.Wait()
}

// Close stops OnEvent from starting sweeps and waits for the running ones.
func (s *Scheduler) Close() {
	s.mutex.Lock()
	s.closed = true
	s.mutex.Unlock()

	s.inflight.Wait()
}

func (s *Scheduler) Coefficients() Coefficients {
	s.mutex.RLock()
	defer s.mutex.RUnlock()
	return s.coefficients
}

func (s *Scheduler) Stats() Stats {
	s.mutex.RLock()
	defer s.mutex.RUnlock()

	out := s.stats
	if s.stats.Last != nil {
		last := *s.stats.Last
		last.Steps = append([]StepResult(nil), s.stats.Last.Steps...)
		out.Last = &last
	}
	return out
}

func (s *Scheduler) publish(e events.Event) {
	if s.bus != nil {
		s.bus.Publish(e)
	}
}

func (r Report) failures() string {
	var failed []string
	for _, step := range r.Steps {
		if step.Error != "" {
			failed = append(failed, step.Name+": "+step.Error)
		}
	}
	return strings.Join(failed, "; ")
}

func heapInUse() uint64 {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	return m.HeapInuse
}
