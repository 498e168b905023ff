package audit

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

// LogSink writes audit events as structured JSON log records.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a JSON sink writing to w at the given level.
func NewLogSink(w io.Writer, level slog.Level) *LogSink {
	return &LogSink{
		logger: slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})),
	}
}

// ParseLevel maps debug, info, warn and error to slog levels. Unknown values
// fall back to info.
func ParseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(raw))); err != nil {
		return slog.LevelInfo
	}
	return level
}

// Record implements Sink.
func (s *LogSink) Record(ctx context.Context, evt Event) error {
	level := slog.LevelInfo
	if evt.Outcome == OutcomeError {
		level = slog.LevelWarn
	}
	var contextValue any
	if len(evt.Context) > 0 {
		contextValue = evt.Context
	}
	s.logger.LogAttrs(ctx, level, "AUDIT",
		slog.String("action", evt.Action),
		slog.String("actor", evt.Actor),
		slog.Any("context", contextValue),
		slog.String("outcome", string(evt.Outcome)),
		slog.String("correlationId", evt.CorrelationID),
		slog.String("requestId", evt.RequestID),
		slog.String("timestampIso", evt.Timestamp.UTC().Format(time.RFC3339Nano)),
	)
	return nil
}
