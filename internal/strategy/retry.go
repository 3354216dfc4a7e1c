package strategy

import (
	"context"
	"log/slog"
)

type retryStrategy struct {
	nudger Nudger
	logger *slog.Logger
}

func (s *retryStrategy) Name() string {
	return "retry"
}

func (s *retryStrategy) Recover(ctx context.Context, inc Incident) error {
	if inc.Retry == nil {
		s.nudge(ctx, inc)
		return nil
	}

	err := inc.Retry(ctx)
	if err != nil {
		s.nudge(ctx, inc)
	}
	return err
}

// nudge adjusts configuration on the first attempt only.
func (s *retryStrategy) nudge(ctx context.Context, inc Incident) {
	if s.nudger == nil || inc.Attempt != 1 {
		return
	}
	if err := s.nudger.Nudge(ctx, inc.Component); err != nil {
		s.logger.Warn("Configuration nudge failed",
			slog.String("component", inc.Component),
			slog.Any("err", err))
	}
}

// NewRetryStrategy handles Medium severity faults. nudger may be nil.
func NewRetryStrategy(nudger Nudger, logger *slog.Logger) Strategy {
	return &retryStrategy{
		nudger: nudger,
		logger: logger,
	}
}
