package notify

import (
	"context"

	"github.com/aatumaykin/tfreaper/internal/bus"
	"github.com/aatumaykin/tfreaper/internal/logger"
)

// LogSink mirrors notifications into the structured log. It is registered
// without a type filter, so the log stays the one complete record.
type LogSink struct {
	logger *logger.Logger
}

func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{
		logger: log.With(logger.Field{Key: "component", Value: "notify"}),
	}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, n bus.Notification) error {
	title, _ := render(n)

	fields := []logger.Field{
		{Key: "type", Value: string(n.Type)},
	}
	if n.ProjectID != "" {
		fields = append(fields, logger.Field{Key: "project_id", Value: n.ProjectID})
	}
	if n.Path != "" {
		fields = append(fields, logger.Field{Key: "path", Value: n.Path})
	}
	if n.ExecutionID != "" {
		fields = append(fields, logger.Field{Key: "execution_id", Value: n.ExecutionID})
	}
	if n.Error != "" {
		fields = append(fields, logger.Field{Key: "error", Value: n.Error})
	}

	switch n.Type {
	case bus.TypeFailed, bus.TypeError:
		s.logger.Warn(title, fields...)
	case bus.TypeExecutionOutput:
		s.logger.Debug(title, fields...)
	default:
		s.logger.Info(title, fields...)
	}
	return nil
}
