package logflags

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"
)

// Logger represents a generic interface for logging inside of
// frinspect.
type Logger interface {
	// WithField returns a new Logger enriched with the given field.
	WithField(key string, value interface{}) Logger
	// WithFields returns a new Logger enriched with the given fields.
	WithFields(fields Fields) Logger
	// WithError returns a new Logger enriched with the given error.
	WithError(err error) Logger

	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})

	Debug(args ...interface{})
	Info(args ...interface{})
	Warn(args ...interface{})
	Error(args ...interface{})
}

// LoggerFactory is used to create new Logger instances.
// SetLoggerFactory can be used to configure it.
//
// The given parameters fields and out can be both be nil.
type LoggerFactory func(level logrus.Level, fields Fields, out io.Writer) Logger

var loggerFactory LoggerFactory

// SetLoggerFactory will ensure that every Logger created by this package, will be now created
// by the given LoggerFactory. Default behavior will be a logrus based Logger instance using textFormatterInstance.
func SetLoggerFactory(lf LoggerFactory) {
	loggerFactory = lf
}

// Fields type wraps many fields for Logger
type Fields map[string]interface{}

type logrusLogger struct {
	*logrus.Entry
}

func (l *logrusLogger) WithField(key string, value interface{}) Logger {
	return &logrusLogger{l.Entry.WithField(key, value)}
}

func (l *logrusLogger) WithFields(fields Fields) Logger {
	return &logrusLogger{l.Entry.WithFields(logrus.Fields(fields))}
}

func (l *logrusLogger) WithError(err error) Logger {
	return &logrusLogger{l.Entry.WithError(err)}
}

var textFormatterInstance = &textFormatter{}

// textFormatter is a simplified version of logrus.TextFormatter that
// doesn't make logs unreadable when they are output to a text file or to a
// terminal that doesn't support colors.
type textFormatter struct{}

func (f *textFormatter) Format(entry *logrus.Entry) ([]byte, error) {
	var b []byte
	b = append(b, entry.Time.Format("2006-01-02T15:04:05Z07:00")...)
	b = append(b, ' ')
	b = append(b, entry.Level.String()...)
	b = append(b, ' ')
	for _, key := range []string{"layer", "kind"} {
		if v, ok := entry.Data[key]; ok {
			if s, ok := v.(string); ok {
				b = append(b, s...)
				b = append(b, ' ')
			}
		}
	}
	for k, v := range entry.Data {
		if k == "layer" || k == "kind" {
			continue
		}
		b = append(b, k...)
		b = append(b, '=')
		b = appendValue(b, v)
		b = append(b, ' ')
	}
	b = append(b, entry.Message...)
	b = append(b, '\n')
	return b, nil
}

func appendValue(b []byte, v interface{}) []byte {
	switch v := v.(type) {
	case string:
		return append(b, v...)
	case error:
		return append(b, v.Error()...)
	default:
		return append(b, fmt.Sprint(v)...)
	}
}
