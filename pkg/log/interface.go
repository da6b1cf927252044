// Package log provides the structured logging interface used across malcleanse.
//
// Components never write to a global logger. A Logger is injected at
// construction (ensemble.WithLogger, feature.NewPipeline, ...) and the process
// opens a single Sink at startup that hands out component loggers.
//
// Example usage:
//
//	sink, err := log.Open(log.Config{Level: "info", Format: "json"})
//	if err != nil {
//	    return err
//	}
//	defer sink.Close()
//	logger := sink.Logger("ensemble").With(
//	    log.EnsembleNameKey, "vanilla",
//	    log.MemberCountKey, 5,
//	)
//	logger.Info("Training started", log.EpochKey, 0)

package log

import (
	"context"
)

// Logger defines a structured logging interface compatible with Go's log/slog.
//
// The interface supports method chaining through the With method, allowing
// for creation of contextual loggers with pre-populated fields.
type Logger interface {
	// Debug logs a debug-level message with optional structured fields.
	Debug(msg string, fields ...any)

	// Info logs an info-level message with optional structured fields.
	Info(msg string, fields ...any)

	// Warn logs a warning-level message with optional structured fields.
	Warn(msg string, fields ...any)

	// Error logs an error-level message with optional structured fields.
	// If an error value is provided as the first field, stack trace
	// information is included by the sinks that support it.
	//
	//   logger.Error("Member training failed",
	//       err,
	//       log.MemberIndexKey, 2,
	//   )
	Error(msg string, fields ...any)

	// With returns a new Logger with the given fields pre-populated.
	With(fields ...any) Logger

	// Enabled reports whether the logger emits log records at the given level.
	// Use it to avoid building expensive fields for records that would be dropped.
	Enabled(ctx context.Context, level Level) bool
}

// Level represents a logging level, compatible with slog.Level.
type Level int

// Standard logging levels, values are compatible with slog.Level.
const (
	LevelDebug Level = -4 // Detailed diagnostic information
	LevelInfo  Level = 0  // General operational information
	LevelWarn  Level = 4  // Warning conditions
	LevelError Level = 8  // Error conditions
)

// String returns the string representation of the log level.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// LoggerProvider defines an interface for creating component loggers.
// Sink implements it for production and TestLoggerProvider for tests.
type LoggerProvider interface {
	// GetLogger returns the default logger instance.
	GetLogger() Logger

	// GetLoggerWithName returns a logger with a specific name/component identifier.
	GetLoggerWithName(name string) Logger

	// SetLevel sets the minimum log level for all loggers created by this provider.
	SetLevel(level Level)
}
