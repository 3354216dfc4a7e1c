package strategy

import (
	"context"
	"errors"
	"runtime"
	"runtime/debug"

	"github.com/angeloszaimis/self-healing/internal/classifier"
)

// IntegrityThreshold is the score a Critical recovery must exceed.
const IntegrityThreshold = 0.5

var (
	ErrIntegrity   = errors.New("system integrity below threshold")
	ErrUnreachable = errors.New("component failed connectivity check")
	ErrNoVerifier  = errors.New("no integrity verifier configured")
)

// Incident is the input of one recovery attempt.
type Incident struct {
	RecordID  string
	Component string
	Message   string
	Severity  classifier.Severity
	Attempt   int
	// Retry re-runs the operation that failed, when the caller supplied one.
	Retry func(ctx context.Context) error
}

type Strategy interface {
	Name() string
	Recover(ctx context.Context, inc Incident) error
}

// Fleet is the view of registered components the strategies act on.
type Fleet interface {
	Has(name string) bool
	Restart(ctx context.Context, name string) error
	Reconnect(ctx context.Context, name string) error
	Problematic(threshold int) []string
	Check(ctx context.Context, name string) bool
}

// IntegrityVerifier scores overall system integrity in [0,1].
type IntegrityVerifier func(ctx context.Context) (float64, error)

type CacheClearer interface {
	ClearCache(ctx context.Context, component string) error
}

// Nudger applies a small configuration adjustment, such as lowering a
// request limit, for a component that keeps failing.
type Nudger interface {
	Nudge(ctx context.Context, component string) error
}

// FreeMemory forces a collection and returns freed memory to the OS.
func FreeMemory() {
	runtime.GC()
	debug.FreeOSMemory()
}
