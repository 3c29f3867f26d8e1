// Package logging is the engine's operational log sink: a small Logger
// interface carried by every worker, the scheduler, and the shim, wrapping
// github.com/sirupsen/logrus rather than ever reaching for the global
// logrus logger directly — generalizing how the teacher threads a
// DataLogger through NewSISimulation (si_simulator.go) into an injected
// dependency for operational logging instead of simulation-data recording.
package logging

import (
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

// Level is the engine's operational log level, spec.md §6's
// "{ERROR, WARNING, INFO, DEBUG, TRACE}" stream.
type Level uint8

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelDebug
	LevelTrace
)

func (l Level) logrusLevel() logrus.Level {
	switch l {
	case LevelError:
		return logrus.ErrorLevel
	case LevelWarning:
		return logrus.WarnLevel
	case LevelInfo:
		return logrus.InfoLevel
	case LevelDebug:
		return logrus.DebugLevel
	case LevelTrace:
		return logrus.TraceLevel
	default:
		return logrus.InfoLevel
	}
}

// ParseLevel maps a level name from config/CLI flags onto a Level,
// ignoring case, and defaulting to LevelInfo for anything unrecognized.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "error":
		return LevelError
	case "warning", "warn":
		return LevelWarning
	case "debug":
		return LevelDebug
	case "trace":
		return LevelTrace
	default:
		return LevelInfo
	}
}

// Fields is a structured-logging key/value set, passed through to
// logrus.Fields without exposing logrus types at call sites.
type Fields map[string]interface{}

// Logger is the interface every engine component logs through — never the
// package-level logrus logger — so that tests can substitute a recording
// logger and `cmd/shadow` can substitute one writer per run.
type Logger interface {
	WithFields(f Fields) Logger
	Error(args ...interface{})
	Warn(args ...interface{})
	Info(args ...interface{})
	Debug(args ...interface{})
	Trace(args ...interface{})
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New constructs a Logger writing to out at the given level, using
// logrus's text formatter.
func New(out io.Writer, level Level) Logger {
	l := logrus.New()
	l.SetOutput(out)
	l.SetLevel(level.logrusLevel())
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) WithFields(f Fields) Logger {
	return &logrusLogger{entry: l.entry.WithFields(logrus.Fields(f))}
}

func (l *logrusLogger) Error(args ...interface{}) { l.entry.Error(args...) }
func (l *logrusLogger) Warn(args ...interface{})  { l.entry.Warn(args...) }
func (l *logrusLogger) Info(args ...interface{})  { l.entry.Info(args...) }
func (l *logrusLogger) Debug(args ...interface{}) { l.entry.Debug(args...) }
func (l *logrusLogger) Trace(args ...interface{}) { l.entry.Trace(args...) }

// Noop is a Logger that discards everything, used by tests and by any
// component that doesn't want to thread a real sink through.
var Noop Logger = New(io.Discard, LevelError)
