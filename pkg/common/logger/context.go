package logger

import "context"

// LoggerContext accumulates attributes over the course of an operation so
// call sites can enrich a logger as information becomes available without
// re-deriving it on every log line.
type LoggerContext struct {
	logger *Logger
	attrs  []any
}

// NewLoggerContext wraps the provided logger for attribute accumulation.
func NewLoggerContext(logger *Logger) *LoggerContext {
	return &LoggerContext{logger: logger}
}

// Add appends a key/value pair to the accumulated attributes.
func (lc *LoggerContext) Add(key string, value any) {
	lc.attrs = append(lc.attrs, key, value)
}

// Debug logs at LevelDebug with the accumulated attributes.
func (lc *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	lc.logger.Debugc(ctx, 3, msg, append(lc.attrs, args...)...)
}

// Info logs at LevelInfo with the accumulated attributes.
func (lc *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	lc.logger.Infoc(ctx, 3, msg, append(lc.attrs, args...)...)
}

// Warn logs at LevelWarn with the accumulated attributes.
func (lc *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	lc.logger.Warnc(ctx, 3, msg, append(lc.attrs, args...)...)
}

// Error logs at LevelError with the accumulated attributes.
func (lc *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	lc.logger.Errorc(ctx, 3, msg, append(lc.attrs, args...)...)
}
