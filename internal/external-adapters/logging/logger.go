// Package logging adapts logrus to the domain Logger interface.
package logging

import (
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/ochairo/geiger/internal/domain/interfaces"
)

// Options configures the logger
type Options struct {
	Output io.Writer
	Debug  bool
	// Format is "text" (default) or "json"
	Format string
}

// Logger implements interfaces.Logger on top of logrus
type Logger struct {
	entry *logrus.Entry
}

// New creates a logrus-backed logger
func New(opts Options) (*Logger, error) {
	base := logrus.New()
	if opts.Output != nil {
		base.SetOutput(opts.Output)
	}

	base.SetLevel(logrus.InfoLevel)
	if opts.Debug {
		base.SetLevel(logrus.DebugLevel)
	}

	switch strings.ToLower(strings.TrimSpace(opts.Format)) {
	case "", "text":
		base.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "15:04:05.000",
		})
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("unknown log format %q (want text or json)", opts.Format)
	}

	return &Logger{entry: logrus.NewEntry(base)}, nil
}

// With returns a logger that adds fields to every entry
func (l *Logger) With(fields ...interfaces.Field) *Logger {
	return &Logger{entry: l.entry.WithFields(toFields(fields))}
}

// Debug logs debug-level messages
func (l *Logger) Debug(msg string, fields ...interfaces.Field) {
	l.entry.WithFields(toFields(fields)).Debug(msg)
}

// Info logs informational messages
func (l *Logger) Info(msg string, fields ...interfaces.Field) {
	l.entry.WithFields(toFields(fields)).Info(msg)
}

// Warn logs warning messages
func (l *Logger) Warn(msg string, fields ...interfaces.Field) {
	l.entry.WithFields(toFields(fields)).Warn(msg)
}

// Error logs error messages
func (l *Logger) Error(msg string, fields ...interfaces.Field) {
	l.entry.WithFields(toFields(fields)).Error(msg)
}

func toFields(fields []interfaces.Field) logrus.Fields {
	out := make(logrus.Fields, len(fields))
	for _, f := range fields {
		// errors render as their message in both formatters
		if err, ok := f.Value.(error); ok && err != nil {
			out[f.Key] = err.Error()
			continue
		}
		out[f.Key] = f.Value
	}
	return out
}
