package coapd

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is an interface which can be satisfied to print debug logging when
// things go wrong. It is entirely optional; components accept a nil Logger
// and stay silent.
type Logger interface {
	Printf(format string, v ...interface{})
}

// logrusLogger adapts a *logrus.Logger to the Logger interface used
// throughout this package, so the default wiring gets level filtering,
// timestamps, and structured fields for free.
type logrusLogger struct {
	entry *logrus.Entry
}

// NewLogger returns the default Logger, a logrus text-formatted logger
// writing to stderr at info level. Callers needing JSON output or a
// different level should build their own *logrus.Logger and wrap it with
// WrapLogrus instead.
func NewLogger() Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	return WrapLogrus(l)
}

// WrapLogrus adapts an existing *logrus.Logger.
func WrapLogrus(l *logrus.Logger) Logger {
	return &logrusLogger{entry: logrus.NewEntry(l)}
}

func (l *logrusLogger) Printf(format string, v ...interface{}) {
	l.entry.Printf(format, v...)
}

// logf is a small helper every component uses so a nil Logger is a no-op
// rather than a special case at every call site.
func logf(log Logger, format string, v ...interface{}) {
	if log == nil {
		return
	}
	log.Printf(format, v...)
}
