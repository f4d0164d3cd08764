package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/regionpulse/internal/progress"
)

// LogSink emits structured logs for scan lifecycle events. Region progress
// ticks are logged at debug level to keep info logs readable.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch using structured fields.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("scan_id", evt.ScanUUID().String()),
			zap.String("stage", string(evt.Stage)),
			zap.String("phase", string(evt.Phase)),
			zap.Float64("progress", evt.Progress),
		}
		if evt.Region != "" {
			fields = append(fields, zap.String("region", evt.Region))
		}
		if evt.Items > 0 || evt.Errors > 0 {
			fields = append(fields, zap.Int64("items", evt.Items), zap.Int64("errors", evt.Errors))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		switch evt.Stage {
		case progress.StageRegionProgress, progress.StagePhaseUpdate:
			s.logger.Debug("progress event", fields...)
		case progress.StageRegionError, progress.StageScanError:
			s.logger.Warn("progress event", fields...)
		default:
			s.logger.Info("progress event", fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
