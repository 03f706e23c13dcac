// Package klog provides the kernel's structured logging: a small
// leveled Logger type, a package-level default, and
// Debugf/Infof/Warnf/Errorf helpers, backed by github.com/rs/zerolog
// instead of the standard log package.
package klog

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
)

// Level mirrors zerolog's severity levels under kernel-native names.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Logger is the structured logging interface every component is given
// (sched, thread, ktimer, ksync, kevent, kqueue, kpool, kpubsub). Fields
// attach component, task, and postcode context before the call rather
// than interpolating them into the message string.
type Logger struct {
	zl zerolog.Logger
}

// New builds a Logger writing to w at the given level.
func New(w io.Writer, level Level) *Logger {
	if w == nil {
		w = os.Stderr
	}
	zl := zerolog.New(w).Level(level.zerolog()).With().Timestamp().Logger()
	return &Logger{zl: zl}
}

// With returns a child logger with a component field attached, mirroring
// how each primitive package tags its own log lines.
func (l *Logger) With(component string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", component).Logger()}
}

// WithTask returns a child logger with a task-id field attached.
func (l *Logger) WithTask(taskID int) *Logger {
	return &Logger{zl: l.zl.With().Int("task", taskID).Logger()}
}

func (l *Logger) Debugf(format string, args ...any) { l.zl.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.zl.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.zl.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.zl.Error().Msgf(format, args...) }

// Event exposes the underlying zerolog event builder for callers that want
// structured fields instead of a formatted message, e.g.:
//
//	log.Event(klog.LevelError).Int("postcode", int(pc)).Str("op", "sem_take").Send()
func (l *Logger) Event(level Level) *zerolog.Event {
	switch level {
	case LevelDebug:
		return l.zl.Debug()
	case LevelWarn:
		return l.zl.Warn()
	case LevelError:
		return l.zl.Error()
	default:
		return l.zl.Info()
	}
}

var (
	mu            sync.RWMutex
	defaultLogger *Logger
)

// Default returns the process-wide default logger, creating a sensible
// stderr/Info logger on first use.
func Default() *Logger {
	mu.RLock()
	if defaultLogger != nil {
		defer mu.RUnlock()
		return defaultLogger
	}
	mu.RUnlock()

	mu.Lock()
	defer mu.Unlock()
	if defaultLogger == nil {
		defaultLogger = New(os.Stderr, LevelInfo)
	}
	return defaultLogger
}

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) {
	mu.Lock()
	defer mu.Unlock()
	defaultLogger = l
}

// Discard returns a Logger that drops everything, for tests that don't
// want kernel log noise.
func Discard() *Logger {
	return &Logger{zl: zerolog.Nop()}
}
