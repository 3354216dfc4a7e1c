package strategy

import (
	"context"
	"fmt"
	"log/slog"
)

type connectionResetStrategy struct {
	fleet  Fleet
	caches CacheClearer
	logger *slog.Logger
}

func (s *connectionResetStrategy) Name() string {
	return "connection-reset"
}

func (s *connectionResetStrategy) Recover(ctx context.Context, inc Incident) error {
	known := inc.Component != "" && s.fleet.Has(inc.Component)

	if known {
		if err := s.fleet.Reconnect(ctx, inc.Component); err != nil {
			return fmt.Errorf("reset connections: %w", err)
		}
	}

	if s.caches != nil {
		if err := s.caches.ClearCache(ctx, inc.Component); err != nil {
			s.logger.Warn("Cache clear failed",
				slog.String("component", inc.Component),
				slog.Any("err", err))
		}
	}

	if known && !s.fleet.Check(ctx, inc.Component) {
		return fmt.Errorf("%w: %s", ErrUnreachable, inc.Component)
	}

	if inc.Retry != nil {
		return inc.Retry(ctx)
	}
	return nil
}

// NewConnectionResetStrategy handles High severity faults. caches may be nil.
func NewConnectionResetStrategy(fleet Fleet, caches CacheClearer, logger *slog.Logger) Strategy {
	return &connectionResetStrategy{
		fleet:  fleet,
		caches: caches,
		logger: logger,
	}
}
