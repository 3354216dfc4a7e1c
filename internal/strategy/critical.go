package strategy

import (
	"context"
	"fmt"
	"log/slog"
)

type criticalStrategy struct {
	fleet          Fleet
	verify         IntegrityVerifier
	errorThreshold int
	freeMemory     func()
	logger         *slog.Logger
}

func (s *criticalStrategy) Name() string {
	return "critical"
}

func (s *criticalStrategy) Recover(ctx context.Context, inc Incident) error {
	s.freeMemory()

	for _, name := range s.fleet.Problematic(s.errorThreshold) {
		if err := s.fleet.Restart(ctx, name); err != nil {
			s.logger.Warn("Component restart failed during critical recovery",
				slog.String("component", name),
				slog.Any("err", err))
		}
	}

	if s.verify == nil {
		return ErrNoVerifier
	}

	score, err := s.verify(ctx)
	if err != nil {
		return fmt.Errorf("verify integrity: %w", err)
	}
	if score <= IntegrityThreshold {
		return fmt.Errorf("%w: %.2f", ErrIntegrity, score)
	}

	s.logger.Info("Critical recovery verified",
		slog.String("record", inc.RecordID),
		slog.Float64("integrity", score))
	return nil
}

// NewCriticalStrategy restarts components in Error status or with more than
// errorThreshold errors, then requires verify to score above
// IntegrityThreshold.
func NewCriticalStrategy(fleet Fleet, verify IntegrityVerifier, errorThreshold int, logger *slog.Logger) Strategy {
	return &criticalStrategy{
		fleet:          fleet,
		verify:         verify,
		errorThreshold: errorThreshold,
		freeMemory:     FreeMemory,
		logger:         logger,
	}
}
