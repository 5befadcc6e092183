// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"

	"github.com/ety001/op-history-bridge/internal/models"
	"github.com/sirupsen/logrus"
)

const (
	PanicLevel = "panic"
	FatalLevel = "fatal"
	ErrorLevel = "error"
	WarnLevel  = "warn"
	InfoLevel  = "info"
	DebugLevel = "debug"
)

const timestampFormat = "2006-01-02 15:04:05"

func convertLevel(level string) logrus.Level {
	switch strings.ToLower(level) {
	case PanicLevel:
		return logrus.PanicLevel
	case FatalLevel:
		return logrus.FatalLevel
	case ErrorLevel:
		return logrus.ErrorLevel
	case WarnLevel, "warning":
		return logrus.WarnLevel
	case InfoLevel:
		return logrus.InfoLevel
	case DebugLevel:
		return logrus.DebugLevel
	default:
		return logrus.InfoLevel
	}
}

// New creates a logger writing to stdout
func New(config models.LogConfig) *logrus.Logger {
	return NewWithWriter(config, os.Stdout)
}

// NewWithWriter creates a logger writing to out
func NewWithWriter(config models.LogConfig, out io.Writer) *logrus.Logger {
	log := logrus.New()
	log.Out = out
	log.Level = convertLevel(config.Level)
	if strings.EqualFold(config.Format, "json") {
		log.Formatter = &logrus.JSONFormatter{TimestampFormat: timestampFormat}
	} else {
		log.Formatter = &logrus.TextFormatter{
			TimestampFormat: timestampFormat,
			FullTimestamp:   true,
		}
	}
	return log
}

// Discard returns a logger that drops everything
func Discard() *logrus.Logger {
	log := logrus.New()
	log.Out = io.Discard
	return log
}
