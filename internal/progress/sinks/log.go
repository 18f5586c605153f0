package sinks

import (
	"context"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/JakeFAU/catalog-image-sourcer/internal/progress"
)

// LogSink writes each progress event as a structured log entry. Intermediate
// phases log at debug, terminal phases at info and errors at warn.
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

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("run_id", evt.RunUUID().String()),
			zap.String("sku", evt.SKU),
			zap.String("phase", string(evt.Phase)),
			zap.String("message", evt.Message),
		}
		if evt.Score > 0 {
			fields = append(fields, zap.Int("score", evt.Score))
		}
		if evt.SourceURL != "" {
			fields = append(fields, zap.String("url", evt.SourceURL))
		}
		if evt.SavedFilename != "" {
			fields = append(fields, zap.String("file", evt.SavedFilename))
		}
		s.logger.Log(levelFor(evt.Phase), "progress event", fields...)
	}
	return nil
}

func levelFor(p progress.Phase) zapcore.Level {
	switch {
	case p == progress.PhaseError:
		return zapcore.WarnLevel
	case p.Terminal():
		return zapcore.InfoLevel
	default:
		return zapcore.DebugLevel
	}
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
