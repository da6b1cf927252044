package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
)

// NewSlogHandler builds the JSON slog handler used when Format is "slog".
// Records carry a stacktrace attribute for cockroachdb/errors values.
func NewSlogHandler(w io.Writer, level slog.Leveler) slog.Handler {
	ops := slog.HandlerOptions{
		AddSource: true,
		Level:     level,
		ReplaceAttr: func(groups []string, attr slog.Attr) slog.Attr {
			switch attr.Key {
			case slog.LevelKey:
				attr = slog.Attr{Key: "severity", Value: attr.Value}
			case slog.MessageKey:
				attr = slog.Attr{Key: "message", Value: attr.Value}
			}
			return attr
		},
	}
	return WrapByErrFmtHandler(slog.NewJSONHandler(w, &ops))
}

// ToLogLevel converts a configuration string into a slog level.
func ToLogLevel(level string) (slog.Level, error) {
	switch level {
	case "info", "":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("invalid log level: %s", level)
	}
}

const (
	ErrAttrKey        = "error"
	StacktraceAttrKey = "stacktrace"
)

// ErrAttr is a wrapper to pass err to slog.
func ErrAttr(err error) slog.Attr {
	return slog.Any(ErrAttrKey, err)
}

// SlogLogger adapts a *slog.Logger to Logger.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps handler as a Logger.
func NewSlogLogger(handler slog.Handler) *SlogLogger {
	return &SlogLogger{logger: slog.New(handler)}
}

func (s *SlogLogger) Debug(msg string, fields ...any) { s.logger.Debug(msg, slogArgs(fields)...) }
func (s *SlogLogger) Info(msg string, fields ...any) { s.logger.Info(msg, slogArgs(fields)...) }
func (s *SlogLogger) Warn(msg string, fields ...any) { s.logger.Warn(msg, slogArgs(fields)...) }
func (s *SlogLogger) Error(msg string, fields ...any) { s.logger.Error(msg, slogArgs(fields)...) }

func (s *SlogLogger) With(fields ...any) Logger {
	return &SlogLogger{logger: s.logger.With(slogArgs(fields)...)}
}

func (s *SlogLogger) Enabled(ctx context.Context, level Level) bool {
	return s.logger.Enabled(ctx, slog.Level(level))
}

// slogArgs turns a leading bare error into an ErrAttr so ErrFmtHandler sees it.
func slogArgs(fields []any) []any {
	if len(fields)%2 == 1 {
		if err, ok := fields[0].(error); ok {
			return append([]any{ErrAttr(err)}, fields[1:]...)
		}
	}
	return fields
}
