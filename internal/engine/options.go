package engine

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/angeloszaimis/self-healing/internal/healthcheck"
	"github.com/angeloszaimis/self-healing/internal/history"
	"github.com/angeloszaimis/self-healing/internal/metrics"
	"github.com/angeloszaimis/self-healing/internal/recovery"
	"github.com/angeloszaimis/self-healing/internal/selfheal"
	"github.com/angeloszaimis/self-healing/internal/strategy"
)

// Config holds the tunables of one engine instance.
type Config struct {
	BreakerThreshold int
	BreakerTimeout   time.Duration

	HistoryCapacity  int
	HistoryRetention time.Duration
	SweepSchedule    string

	ProbeTimeout   time.Duration
	HealthInterval time.Duration
	SlowResponse   time.Duration
	Weights        healthcheck.Weights
	Thresholds     healthcheck.Thresholds

	AttemptTimeout time.Duration
	Policies       recovery.Policies

	SelfHealing selfheal.Config

	// StateFile receives the post-mortem snapshot on shutdown. Empty
	// disables it.
	StateFile     string
	MetricsBuffer int
}

func DefaultConfig() Config {
	return Config{
		BreakerThreshold: 5,
		BreakerTimeout:   time.Minute,
		HistoryCapacity:  history.DefaultCapacity,
		HistoryRetention: time.Hour,
		SweepSchedule:    history.DefaultSweepSchedule,
		ProbeTimeout:     5 * time.Second,
		HealthInterval:   healthcheck.DefaultInterval,
		SlowResponse:     healthcheck.DefaultSlowResponse,
		Weights:          healthcheck.DefaultWeights(),
		Thresholds:       healthcheck.DefaultThresholds(),
		AttemptTimeout:   recovery.DefaultAttemptTimeout,
		Policies:         recovery.DefaultPolicies(),
		SelfHealing:      selfheal.DefaultConfig(),
		MetricsBuffer:    metrics.DefaultBufferSize,
	}
}

type options struct {
	verifier strategy.IntegrityVerifier
	caches   strategy.CacheClearer
	nudger   strategy.Nudger
	sleep    recovery.SleepFunc
	now      func() time.Time
	memory   func() uint64
	registry *prometheus.Registry
}

type Option func(*options)

// WithIntegrityVerifier replaces the default verifier used by Critical
// recoveries.
func WithIntegrityVerifier(v strategy.IntegrityVerifier) Option {
	return func(o *options) {
		o.verifier = v
	}
}

func WithCacheClearer(c strategy.CacheClearer) Option {
	return func(o *options) {
		o.caches = c
	}
}

func WithNudger(n strategy.Nudger) Option {
	return func(o *options) {
		o.nudger = n
	}
}

// WithSleep replaces the backoff sleep between recovery attempts.
func WithSleep(sleep recovery.SleepFunc) Option {
	return func(o *options) {
		o.sleep = sleep
	}
}

func WithClock(now func() time.Time) Option {
	return func(o *options) {
		o.now = now
	}
}

// WithMemoryProbe replaces the heap reading behind the memory trigger.
func WithMemoryProbe(probe func() uint64) Option {
	return func(o *options) {
		o.memory = probe
	}
}

func WithRegistry(r *prometheus.Registry) Option {
	return func(o *options) {
		o.registry = r
	}
}
