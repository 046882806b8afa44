package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/realtime-crawl-pipeline/internal/health"
)

// LogSink writes each snapshot as one structured log line.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs the snapshot.
func (s *LogSink) Consume(_ context.Context, snap health.Snapshot) error {
	fields := []zap.Field{
		zap.Int("running", snap.Running),
		zap.Int("blocked", snap.Blocked),
		zap.Int("terminated", snap.Terminated),
		zap.Int("throttled_domains", snap.ThrottledDomains),
	}
	for name, depth := range snap.QueueDepths {
		fields = append(fields, zap.Int("queue_"+name, depth))
	}
	s.logger.Info("pipeline health", fields...)
	return nil
}
