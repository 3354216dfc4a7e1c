package component

import (
	"context"
	"fmt"
	"sync"
	"time"
)

type Status int

const (
	StatusUnknown Status = iota
	StatusHealthy
	StatusUnhealthy
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "Healthy"
	case StatusUnhealthy:
		return "Unhealthy"
	case StatusError:
		return "Error"
	default:
		return "Unknown"
	}
}

func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Status) UnmarshalText(text []byte) error {
	for _, candidate := range []Status{StatusUnknown, StatusHealthy, StatusUnhealthy, StatusError} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Probe reports whether a component is healthy. It must return once ctx is
// done and must not mutate shared state.
type Probe func(ctx context.Context) bool

// Hook closes or restarts a component's external resources.
type Hook func(ctx context.Context) error

// Info is a point-in-time copy of a component's state.
type Info struct {
	Name         string        `json:"name"`
	Status       Status        `json:"status"`
	ErrorCount   int           `json:"error_count"`
	LastError    string        `json:"last_error,omitempty"`
	LastCheck    time.Time     `json:"last_check"`
	AvgResponse  time.Duration `json:"avg_response"`
	Checks       int64         `json:"checks"`
	FailedChecks int64         `json:"failed_checks"`
}

// ErrorRate is the fraction of failed health checks.
func (i Info) ErrorRate() float64 {
	if i.Checks == 0 {
		return 0
	}
	return float64(i.FailedChecks) / float64(i.Checks)
}

// Component is one registration.
type Component struct {
	name  string
	probe Probe
	hook  Hook

	mutex            sync.Mutex
	status           Status
	errorCount       int
	lastError        string
	lastCheck        time.Time
	ewmaResponseTime time.Duration
	hasEWMA          bool
	checks           int64
	failedChecks     int64
}

const ewmaAlpha = 0.2

func New(name string, probe Probe, hook Hook) *Component {
	return &Component{
		name:  name,
		probe: probe,
		hook:  hook,
	}
}

func (c *Component) Name() string {
	return c.name
}

// Check runs the probe under timeout. A probe that overruns the deadline
// counts as unhealthy even if it later returns true.
func (c *Component) Check(ctx context.Context, timeout time.Duration) (healthy bool, elapsed time.Duration) {
	if c.probe == nil {
		return true, 0
	}

	start := time.Now()
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan bool, 1)
	go func() {
		result <- c.probe(probeCtx)
	}()

	select {
	case healthy = <-result:
		elapsed = time.Since(start)
		if probeCtx.Err() != nil {
			healthy = false
		}
	case <-probeCtx.Done():
		elapsed = time.Since(start)
		healthy = false
	}
	return healthy, elapsed
}

// RecordCheck stores a probe outcome and returns the previous status.
func (c *Component) RecordCheck(healthy bool, elapsed time.Duration, at time.Time) (previous Status) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	previous = c.status
	c.lastCheck = at
	c.checks++

	if !healthy {
		c.failedChecks++
		c.errorCount++
		if c.status != StatusError {
			c.status = StatusUnhealthy
		}
		return previous
	}

	c.status = StatusHealthy
	c.recordResponse(elapsed)
	return previous
}

// NoteError counts an error reported against the component.
func (c *Component) NoteError(recordID string) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.errorCount++
	c.lastError = recordID
}

// Degrade marks the component Error after recovery was exhausted.
func (c *Component) Degrade() {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.status = StatusError
}

// Restart invokes the hook and leaves the component Unknown with zeroed
// counters until its next health check.
func (c *Component) Restart(ctx context.Context) error {
	var err error
	if c.hook != nil {
		err = c.hook(ctx)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.status = StatusUnknown
	c.errorCount = 0
	c.hasEWMA = false
	c.ewmaResponseTime = 0
	return err
}

// Reconnect invokes the hook and leaves the component Unknown, keeping its
// error and check counters. Recovery uses it so repeated connection resets
// do not hide a component that keeps failing.
func (c *Component) Reconnect(ctx context.Context) error {
	var err error
	if c.hook != nil {
		err = c.hook(ctx)
	}

	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.status = StatusUnknown
	return err
}

// Close invokes the hook without touching any counters.
func (c *Component) Close(ctx context.Context) error {
	if c.hook == nil {
		return nil
	}
	return c.hook(ctx)
}

func (c *Component) Status() Status {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.status
}

func (c *Component) ErrorCount() int {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.errorCount
}

func (c *Component) Info() Info {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return Info{
		Name:         c.name,
		Status:       c.status,
		ErrorCount:   c.errorCount,
		LastError:    c.lastError,
		LastCheck:    c.lastCheck,
		AvgResponse:  c.ewmaResponseTime,
		Checks:       c.checks,
		FailedChecks: c.failedChecks,
	}
}

// recordResponse updates the EWMA probe latency. Callers hold the mutex.
func (c *Component) recordResponse(elapsed time.Duration) {
	if !c.hasEWMA {
		c.ewmaResponseTime = elapsed
		c.hasEWMA = true
		return
	}
	//ewma = (1 - α) * ewma + α * latest
	c.ewmaResponseTime = time.Duration((1-ewmaAlpha)*float64(c.ewmaResponseTime) + ewmaAlpha*float64(elapsed))
}
