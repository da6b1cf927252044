package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"

	merrors "github.com/malcleanse/malcleanse/pkg/errors"
)

// Config selects the level, encoding and destination of the process sink.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, console, slog
	Output string // stdout, stderr or a file path
}

// Sink is the process-wide logging sink. Open it once at startup, pass
// component loggers to constructors and Close it at exit.
type Sink struct {
	mu       sync.Mutex
	format   string
	zl       zerolog.Logger
	sl       *slog.Logger
	levelVar *slog.LevelVar
	closer   io.Closer
}

// Open creates the sink described by cfg and routes library warnings
// (errors.Warn) to it.
func Open(cfg Config) (*Sink, error) {
	level, err := ToLogLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	var (
		out    io.Writer
		closer io.Closer
	)
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, errors.Wrapf(err, "open log output %s", cfg.Output)
		}
		out, closer = f, f
	}

	s := &Sink{format: cfg.Format, closer: closer, levelVar: new(slog.LevelVar)}
	s.levelVar.Set(level)

	switch cfg.Format {
	case "", "json":
		s.zl = zerolog.New(out).With().Timestamp().Logger().Level(toZerologLevel(Level(level)))
	case "console":
		s.zl = zerolog.New(zerolog.ConsoleWriter{Out: out}).With().Timestamp().Logger().Level(toZerologLevel(Level(level)))
	case "slog":
		s.sl = slog.New(NewSlogHandler(out, s.levelVar))
	default:
		if closer != nil {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("invalid log format: %s", cfg.Format)
	}

	root := s.GetLogger()
	merrors.SetZerologWarnFunc(func(w error) {
		root.Warn(w.Error(), "warning", w)
	})
	return s, nil
}

// Logger returns a component logger tagged with name.
func (s *Sink) Logger(name string) Logger {
	return s.GetLoggerWithName(name)
}

// GetLogger implements LoggerProvider.GetLogger.
func (s *Sink) GetLogger() Logger {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sl != nil {
		return &SlogLogger{logger: s.sl}
	}
	return &ZerologLogger{logger: s.zl}
}

// GetLoggerWithName implements LoggerProvider.GetLoggerWithName.
func (s *Sink) GetLoggerWithName(name string) Logger {
	return s.GetLogger().With(ComponentKey, name)
}

// SetLevel implements LoggerProvider.SetLevel. Loggers handed out earlier
// keep the level they were created with on the zerolog path.
func (s *Sink) SetLevel(level Level) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.levelVar.Set(slog.Level(level))
	s.zl = s.zl.Level(toZerologLevel(level))
}

// Close detaches the warning hook and closes a file output.
func (s *Sink) Close() error {
	merrors.SetZerologWarnFunc(nil)
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// ZerologLogger adapts zerolog.Logger to Logger.
type ZerologLogger struct {
	logger zerolog.Logger
}

// NewZerologLogger wraps an existing zerolog logger.
func NewZerologLogger(logger zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{logger: logger}
}

func (z *ZerologLogger) Debug(msg string, fields ...any) { z.emit(z.logger.Debug(), msg, fields) }
func (z *ZerologLogger) Info(msg string, fields ...any) { z.emit(z.logger.Info(), msg, fields) }
func (z *ZerologLogger) Warn(msg string, fields ...any) { z.emit(z.logger.Warn(), msg, fields) }
func (z *ZerologLogger) Error(msg string, fields ...any) { z.emit(z.logger.Error(), msg, fields) }

func (z *ZerologLogger) With(fields ...any) Logger {
	ctx := z.logger.With()
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		switch v := fields[i+1].(type) {
		case error:
			ctx = ctx.AnErr(key, v)
		default:
			ctx = ctx.Interface(key, v)
		}
	}
	return &ZerologLogger{logger: ctx.Logger()}
}

func (z *ZerologLogger) Enabled(ctx context.Context, level Level) bool {
	return toZerologLevel(level) >= z.logger.GetLevel()
}

func (z *ZerologLogger) emit(e *zerolog.Event, msg string, fields []any) {
	if e == nil {
		return
	}
	if len(fields)%2 == 1 {
		if err, ok := fields[0].(error); ok {
			e = e.Err(err)
			if st := extractStacktrace(err); st != "" {
				e = e.Str(StacktraceAttrKey, st)
			}
			fields = fields[1:]
		}
	}
	for i := 0; i+1 < len(fields); i += 2 {
		key := fmt.Sprintf("%v", fields[i])
		switch v := fields[i+1].(type) {
		case zerolog.LogObjectMarshaler:
			e = e.Object(key, v)
		case error:
			e = e.AnErr(key, v)
		default:
			e = e.Interface(key, v)
		}
	}
	e.Msg(msg)
}

func toZerologLevel(level Level) zerolog.Level {
	switch {
	case level <= LevelDebug:
		return zerolog.DebugLevel
	case level <= LevelInfo:
		return zerolog.InfoLevel
	case level <= LevelWarn:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

type nopLogger struct{}

// Nop returns a Logger that discards everything.
func Nop() Logger { return nopLogger{} }

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any) {}
func (nopLogger) Warn(string, ...any) {}
func (nopLogger) Error(string, ...any) {}
func (n nopLogger) With(...any) Logger { return n }
func (nopLogger) Enabled(context.Context, Level) bool { return false }
