// Package events carries internal notifications between the resilience
// components. Listeners are invoked synchronously and must not block.
package events

import (
	"sync"
	"time"
)

type Type string

const (
	TypeErrorHandled         Type = "error_handled"
	TypeRecovered            Type = "recovered"
	TypeRecoveryFailed       Type = "recovery_failed"
	TypeRecoverySkipped      Type = "recovery_skipped"
	TypeCriticalError        Type = "critical_error"
	TypeIntegrityFailure     Type = "integrity_failure"
	TypeBreakerTransition    Type = "breaker_transition"
	TypeHealthSnapshot       Type = "health_snapshot"
	TypeComponentChecked     Type = "component_checked"
	TypeSelfHealingCompleted Type = "self_healing_completed"
	TypeComponentRestarted   Type = "component_restarted"
)

type Event struct {
	Type      Type
	Timestamp time.Time
	Component string
	Severity  string
	RecordID  string
	Attempts  int
	Recovered bool
	Healthy   bool
	Score     float64
	Status    string
	Reason    string
	From      string
	To        string
}

type Listener interface {
	OnEvent(Event)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(Event)

func (f ListenerFunc) OnEvent(e Event) {
	f(e)
}

type Bus struct {
	mutex     sync.RWMutex
	listeners []Listener
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(l Listener) {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.listeners = append(b.listeners, l)
}

// Publish stamps e if needed and delivers it to every listener in
// subscription order.
func (b *Bus) Publish(e Event) {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	b.mutex.RLock()
	listeners := make([]Listener, len(b.listeners))
	copy(listeners, b.listeners)
	b.mutex.RUnlock()

	for _, l := range listeners {
		l.OnEvent(e)
	}
}
