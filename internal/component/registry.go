package component

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrNotFound          = errors.New("component not found")
	ErrAlreadyRegistered = errors.New("component already registered")
	ErrInvalidName       = errors.New("component name must not be empty")
)

// Registry owns every registered component.
type Registry struct {
	mutex        sync.RWMutex
	components   map[string]*Component
	probeTimeout time.Duration
}

func NewRegistry(probeTimeout time.Duration) *Registry {
	if probeTimeout <= 0 {
		probeTimeout = 5 * time.Second
	}
	return &Registry{
		components:   make(map[string]*Component),
		probeTimeout: probeTimeout,
	}
}

func (r *Registry) Register(name string, probe Probe, hook Hook) (*Component, error) {
	if name == "" {
		return nil, ErrInvalidName
	}

	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.components[name]; exists {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyRegistered, name)
	}

	c := New(name, probe, hook)
	r.components[name] = c
	return c, nil
}

func (r *Registry) Deregister(name string) error {
	r.mutex.Lock()
	defer r.mutex.Unlock()

	if _, exists := r.components[name]; !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	delete(r.components, name)
	return nil
}

func (r *Registry) Get(name string) (*Component, bool) {
	r.mutex.RLock()
	defer r.mutex.RUnlock()

	c, ok := r.components[name]
	return c, ok
}

func (r *Registry) Has(name string) bool {
	_, ok := r.Get(name)
	return ok
}

// All returns the components sorted by name.
func (r *Registry) All() []*Component {
	r.mutex.RLock()
	out := make([]*Component, 0, len(r.components))
	for _, c := range r.components {
		out = append(out, c)
	}
	r.mutex.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].name < out[j].name
	})
	return out
}

func (r *Registry) Len() int {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	return len(r.components)
}

func (r *Registry) Statuses() map[string]Status {
	all := r.All()
	statuses := make(map[string]Status, len(all))
	for _, c := range all {
		statuses[c.name] = c.Status()
	}
	return statuses
}

func (r *Registry) Infos() []Info {
	all := r.All()
	infos := make([]Info, 0, len(all))
	for _, c := range all {
		infos = append(infos, c.Info())
	}
	return infos
}

// NoteError attributes an error record to a component. Unknown names are
// ignored.
func (r *Registry) NoteError(name, recordID string) bool {
	c, ok := r.Get(name)
	if !ok {
		return false
	}
	c.NoteError(recordID)
	return true
}

func (r *Registry) Degrade(name string) {
	if c, ok := r.Get(name); ok {
		c.Degrade()
	}
}

// Problematic lists components in Error status or whose error count exceeds
// threshold.
func (r *Registry) Problematic(threshold int) []string {
	var names []string
	for _, c := range r.All() {
		info := c.Info()
		if info.Status == StatusError || info.ErrorCount > threshold {
			names = append(names, info.Name)
		}
	}
	return names
}

func (r *Registry) Restart(ctx context.Context, name string) error {
	c, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := c.Restart(ctx); err != nil {
		return fmt.Errorf("restart %s: %w", name, err)
	}
	return nil
}

func (r *Registry) Reconnect(ctx context.Context, name string) error {
	c, ok := r.Get(name)
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err := c.Reconnect(ctx); err != nil {
		return fmt.Errorf("reconnect %s: %w", name, err)
	}
	return nil
}

// Check probes one component and records the outcome.
func (r *Registry) Check(ctx context.Context, name string) bool {
	c, ok := r.Get(name)
	if !ok {
		return false
	}
	healthy, elapsed := c.Check(ctx, r.probeTimeout)
	c.RecordCheck(healthy, elapsed, time.Now())
	return healthy
}

func (r *Registry) ProbeTimeout() time.Duration {
	return r.probeTimeout
}

// CloseAll invokes every close hook and joins their errors.
func (r *Registry) CloseAll(ctx context.Context) error {
	var errs []error
	for _, c := range r.All() {
		if err := c.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", c.name, err))
		}
	}
	return errors.Join(errs...)
}
