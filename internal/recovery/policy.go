package recovery

import (
	"math"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/angeloszaimis/self-healing/internal/classifier"
)

// Policy bounds the recovery attempts for one severity.
type Policy struct {
	MaxAttempts int           `json:"max_attempts" yaml:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay" yaml:"base_delay"`
	Multiplier  float64       `json:"multiplier" yaml:"multiplier"`
	MaxDelay    time.Duration `json:"max_delay" yaml:"max_delay"`
}

type Policies map[classifier.Severity]Policy

func DefaultPolicies() Policies {
	return Policies{
		classifier.SeverityCritical: {MaxAttempts: 3, BaseDelay: 2 * time.Second, Multiplier: 2, MaxDelay: 30 * time.Second},
		classifier.SeverityHigh:     {MaxAttempts: 5, BaseDelay: time.Second, Multiplier: 2, MaxDelay: 30 * time.Second},
		classifier.SeverityMedium:   {MaxAttempts: 3, BaseDelay: 500 * time.Millisecond, Multiplier: 2, MaxDelay: 10 * time.Second},
		classifier.SeverityLow:      {MaxAttempts: 1},
	}
}

// Attempts returns MaxAttempts, never less than one.
func (p Policy) Attempts() int {
	return max(p.MaxAttempts, 1)
}

// Delay is the sleep after the given failed attempt:
// min(BaseDelay * Multiplier^(attempt-1), MaxDelay).
func (p Policy) Delay(attempt int) time.Duration {
	b := p.backOff()
	var delay time.Duration
	for i := 0; i < max(attempt, 1); i++ {
		delay = p.next(b)
	}
	return delay
}

// Delays lists every sleep a fully failing recovery performs.
func (p Policy) Delays() []time.Duration {
	b := p.backOff()
	delays := make([]time.Duration, 0, p.Attempts()-1)
	for i := 1; i < p.Attempts(); i++ {
		delays = append(delays, p.next(b))
	}
	return delays
}

func (p Policy) backOff() *backoff.ExponentialBackOff {
	maxInterval := p.MaxDelay
	if maxInterval <= 0 {
		maxInterval = time.Duration(math.MaxInt64)
	}

	b := &backoff.ExponentialBackOff{
		InitialInterval:     max(p.BaseDelay, 0),
		RandomizationFactor: 0,
		Multiplier:          max(p.Multiplier, 1),
		MaxInterval:         maxInterval,
	}
	b.Reset()
	return b
}

func (p Policy) next(b *backoff.ExponentialBackOff) time.Duration {
	if p.BaseDelay <= 0 {
		return 0
	}
	return min(b.NextBackOff(), b.MaxInterval)
}
