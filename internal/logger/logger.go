// Package logger carries a logrus entry through context.Context so request
// and contract fields follow a call down the stack.
package logger

import (
	"context"
	"io"
	"strings"

	"github.com/sirupsen/logrus"
)

type contextKey struct{}

var defaultLogger = logrus.New()
var defaultEntry = logrus.NewEntry(defaultLogger)

// NewContextWithFields returns a child context whose logger carries fields
// in addition to the parent's.
func NewContextWithFields(parent context.Context, fields logrus.Fields) context.Context {
	if parent == nil {
		parent = context.Background()
	}
	return context.WithValue(parent, contextKey{}, For(parent).WithFields(fields))
}

func SetLoggerOptions(optionsFunc func(logger *logrus.Logger)) {
	optionsFunc(defaultLogger)
}

// Configure sets the level by name and switches to JSON output when json is
// true. Unknown levels fall back to info.
func Configure(level string, json bool) {
	SetLoggerOptions(func(l *logrus.Logger) {
		parsed, err := logrus.ParseLevel(strings.TrimSpace(level))
		if err != nil {
			parsed = logrus.InfoLevel
		}
		l.SetLevel(parsed)
		if json {
			l.SetFormatter(&logrus.JSONFormatter{})
		} else {
			l.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
		}
	})
}

// SetOutput redirects the default logger. Tests use it to capture output.
func SetOutput(w io.Writer) {
	defaultLogger.SetOutput(w)
}

func For(ctx context.Context) *logrus.Entry {
	if ctx == nil {
		return defaultEntry
	}
	if entry, ok := ctx.Value(contextKey{}).(*logrus.Entry); ok {
		return entry.WithContext(ctx)
	}
	return defaultEntry.WithContext(ctx)
}
