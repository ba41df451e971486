package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/pom-harvester/internal/progress"
)

// LogSink emits structured logs for debugging progress streams. It is useful
// during development or audits where no metrics endpoint is scraped.
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

// Consume logs each event in the batch using structured fields. File events
// are chatty, so they go to debug.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.Stringer("run_id", evt.RunUUID()),
			zap.String("stage", string(evt.Stage)),
		}
		if evt.Repo != "" {
			fields = append(fields, zap.String("repo", evt.Repo))
		}
		if evt.Path != "" {
			fields = append(fields, zap.String("path", evt.Path), zap.Int64("bytes", evt.Bytes))
		}
		if evt.Count > 0 {
			fields = append(fields, zap.Int64("count", evt.Count))
		}
		if evt.Cursor > 0 {
			fields = append(fields, zap.Uint64("cursor", evt.Cursor))
		}
		if evt.Result != "" {
			fields = append(fields, zap.String("result", string(evt.Result)))
		}
		if evt.Dur > 0 {
			fields = append(fields, zap.Duration("dur", evt.Dur))
		}
		if evt.Note != "" {
			fields = append(fields, zap.String("note", evt.Note))
		}
		if evt.Stage == progress.StageFileFetched {
			s.logger.Debug("progress event", fields...)
			continue
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
