// ==============================================================================
// LOGGER PACKAGE - pkg/logger/logger.go
// ==============================================================================
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Logger interface {
	Info(message string, fields map[string]interface{})
	Error(message string, fields map[string]interface{})
	Warn(message string, fields map[string]interface{})
	Debug(message string, fields map[string]interface{})
	Fatal(message string, fields map[string]interface{})
}

type jsonLogger struct {
	serviceName string
	logger      *logrus.Logger
}

func New(serviceName string) Logger {
	return NewWithOutput(serviceName, os.Stdout, os.Getenv("LOG_LEVEL"))
}

// NewWithOutput builds a JSON logger writing to out at the given level
// (debug, info, warn, error). Unknown levels fall back to info.
func NewWithOutput(serviceName string, out io.Writer, level string) Logger {
	l := logrus.New()
	l.SetFormatter(&logrus.JSONFormatter{
		FieldMap: logrus.FieldMap{
			logrus.FieldKeyTime: "timestamp",
			logrus.FieldKeyMsg:  "message",
		},
	})
	l.SetOutput(out)
	lvl, err := logrus.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)
	return &jsonLogger{serviceName: serviceName, logger: l}
}

func (l *jsonLogger) entry(fields map[string]interface{}) *logrus.Entry {
	e := l.logger.WithField("service", l.serviceName)
	if len(fields) > 0 {
		e = e.WithFields(logrus.Fields(fields))
	}
	return e
}

func (l *jsonLogger) Info(message string, fields map[string]interface{}) {
	l.entry(fields).Info(message)
}

func (l *jsonLogger) Error(message string, fields map[string]interface{}) {
	l.entry(fields).Error(message)
}

func (l *jsonLogger) Warn(message string, fields map[string]interface{}) {
	l.entry(fields).Warn(message)
}

func (l *jsonLogger) Debug(message string, fields map[string]interface{}) {
	l.entry(fields).Debug(message)
}

func (l *jsonLogger) Fatal(message string, fields map[string]interface{}) {
	l.entry(fields).Fatal(message)
}

func NewNop() Logger {
	return &nopLogger{}
}

type nopLogger struct{}

func (l *nopLogger) Info(message string, fields map[string]interface{})  {}
func (l *nopLogger) Error(message string, fields map[string]interface{}) {}
func (l *nopLogger) Warn(message string, fields map[string]interface{})  {}
func (l *nopLogger) Debug(message string, fields map[string]interface{}) {}
func (l *nopLogger) Fatal(message string, fields map[string]interface{}) {}
