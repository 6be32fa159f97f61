// Package logging provides flyoverhead's structured logger, a thin
// logrus wrapper in the shape of the pack's harbor_hook logging package
// (logger.Plain().WithError(err).Info(...)).
package logging

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps a logrus.Logger tagged with the owning component's name.
type Logger struct {
	entry *logrus.Entry
}

// New builds a Logger for the given component, writing JSON lines to
// stdout at info level (or FLYOVERHEAD_LOG_LEVEL if set).
func New(component string) *Logger {
	base := logrus.New()
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetOutput(os.Stdout)
	if lvl, err := logrus.ParseLevel(os.Getenv("FLYOVERHEAD_LOG_LEVEL")); err == nil {
		base.SetLevel(lvl)
	} else {
		base.SetLevel(logrus.InfoLevel)
	}
	return &Logger{entry: base.WithField("component", component)}
}

// Plain returns the underlying logrus.Entry for ad-hoc field chaining.
func (l *Logger) Plain() *logrus.Entry { return l.entry }

// WithField returns a Logger scoped to one extra field.
func (l *Logger) WithField(key string, value any) *Logger {
	return &Logger{entry: l.entry.WithField(key, value)}
}

// WithFields returns a Logger scoped to several extra fields.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	return &Logger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

// WithError returns a Logger carrying an error field.
func (l *Logger) WithError(err error) *Logger {
	return &Logger{entry: l.entry.WithError(err)}
}

func (l *Logger) Info(args ...any)  { l.entry.Info(args...) }
func (l *Logger) Warn(args ...any)  { l.entry.Warn(args...) }
func (l *Logger) Error(args ...any) { l.entry.Error(args...) }
func (l *Logger) Fatal(args ...any) { l.entry.Fatal(args...) }
func (l *Logger) Debug(args ...any) { l.entry.Debug(args...) }
