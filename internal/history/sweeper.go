package history

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/robfig/cron/v3"
)

const DefaultSweepSchedule = "@every 5m"

// Sweeper prunes a Store on a cron schedule.
type Sweeper struct {
	store    *Store
	schedule string
	cron     *cron.Cron
	mutex    sync.Mutex
	logger   *slog.Logger
	running  bool
}

func NewSweeper(store *Store, schedule string, logger *slog.Logger) *Sweeper {
	if schedule == "" {
		schedule = DefaultSweepSchedule
	}
	return &Sweeper{
		store:    store,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger.With(slog.String("component", "history.sweeper")),
	}
}

// Start schedules the sweep and stops it when ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.running {
		return nil
	}

	if _, err := s.cron.AddFunc(s.schedule, s.sweep); err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("History sweeper started", slog.String("schedule", s.schedule))

	go func() {
		<-ctx.Done()
		s.Stop()
	}()

	return nil
}

// Stop halts the schedule and waits for a running sweep.
func (s *Sweeper) Stop() {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.running {
		return
	}

	<-s.cron.Stop().Done()
	s.running = false
	s.logger.Info("History sweeper stopped")
}

func (s *Sweeper) IsRunning() bool {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.running
}

func (s *Sweeper) sweep() {
	if removed := s.store.Prune(); removed > 0 {
		s.logger.Debug("Pruned expired error records",
			slog.Int("removed", removed),
			slog.Int("retained", s.store.Len()))
	}
}
