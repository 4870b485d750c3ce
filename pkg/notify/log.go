package notify

import (
	"context"

	"go.uber.org/zap"
)

// LogSink writes messages to the structured log. It is always enabled.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger.Named("notify")}
}

func (s *LogSink) Notify(_ context.Context, msg Message) error {
	fields := []zap.Field{
		zap.String("network", msg.Network),
		zap.String("event", string(msg.Event)),
	}
	if msg.Node != "" {
		fields = append(fields, zap.String("node", msg.Node))
	}
	switch msg.Level {
	case LevelError:
		s.logger.Error(msg.String(), fields...)
	case LevelWarn:
		s.logger.Warn(msg.String(), fields...)
	default:
		s.logger.Info(msg.String(), fields...)
	}
	return nil
}
