package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// Logger wraps logrus logger
type Logger struct {
	*logrus.Logger
}

// Fields type alias for logrus.Fields
type Fields = logrus.Fields

// Entry type alias for logrus.Entry
type Entry = logrus.Entry

// New creates a new logger instance writing to stdout
func New(level, environment string) *Logger {
	return NewWithOutput(level, environment, os.Stdout)
}

// NewWithOutput creates a new logger instance writing to out
func NewWithOutput(level, environment string, out io.Writer) *Logger {
	logger := logrus.New()

	logLevel, err := logrus.ParseLevel(level)
	if err != nil {
		logLevel = logrus.InfoLevel
	}
	logger.SetLevel(logLevel)

	if environment == "production" {
		logger.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z",
		})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	logger.SetOutput(out)

	return &Logger{Logger: logger}
}

// Discard returns a logger that drops everything, for tests
func Discard() *Logger {
	return NewWithOutput("panic", "test", io.Discard)
}

// Writer returns the logger writer for use with gin
func (l *Logger) Writer() io.Writer {
	return l.Logger.Out
}

// Component returns an entry tagged with the emitting component
func (l *Logger) Component(name string) *logrus.Entry {
	return l.Logger.WithField("component", name)
}

// WithField adds a field to the logger
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.Logger.WithField(key, value)
}

// WithFields adds multiple fields to the logger
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.Logger.WithFields(fields)
}

// WithError adds an error field to the logger
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.Logger.WithError(err)
}
