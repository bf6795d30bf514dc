package logging

import (
	"fmt"

	"github.com/sirupsen/logrus"
)

// Logger is the narrow logging surface components depend on. Arguments are
// alternating key/value pairs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// New returns a logrus-backed Logger tagged with the service name.
func New(service string) Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	return &logrusLogger{entry: l.WithField("service", service)}
}

type logrusLogger struct {
	entry *logrus.Entry
}

func (l *logrusLogger) Info(msg string, args ...any) {
	l.entry.WithFields(fields(args)).Info(msg)
}

func (l *logrusLogger) Warn(msg string, args ...any) {
	l.entry.WithFields(fields(args)).Warn(msg)
}

func (l *logrusLogger) Error(msg string, args ...any) {
	l.entry.WithFields(fields(args)).Error(msg)
}

func fields(args []any) logrus.Fields {
	f := logrus.Fields{}
	for i := 0; i+1 < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok {
			key = fmt.Sprint(args[i])
		}
		f[key] = args[i+1]
	}
	return f
}

// Nop discards everything. Handy default for tests and optional components.
type Nop struct{}

func (Nop) Info(string, ...any)  {}
func (Nop) Warn(string, ...any)  {}
func (Nop) Error(string, ...any) {}
