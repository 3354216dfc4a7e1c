package strategy

import (
	"context"
	"log/slog"
)

type logStrategy struct {
	logger *slog.Logger
}

func (s *logStrategy) Name() string {
	return "log"
}

func (s *logStrategy) Recover(_ context.Context, inc Incident) error {
	s.logger.Info("Low severity error noted",
		slog.String("record", inc.RecordID),
		slog.String("component", inc.Component),
		slog.String("message", inc.Message))
	return nil
}

func NewLogStrategy(logger *slog.Logger) Strategy {
	return &logStrategy{logger: logger}
}
