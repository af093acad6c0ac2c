// Package logger provides the structured logger shared by every rewards
// layer component.
package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// LoggingConfig controls level, encoding and destination of log output.
type LoggingConfig struct {
	Level      string `json:"level" env:"LOG_LEVEL,default=info"`
	Format     string `json:"format" env:"LOG_FORMAT,default=text"`
	Output     string `json:"output" env:"LOG_OUTPUT,default=stdout"`
	FilePrefix string `json:"file_prefix" env:"LOG_FILE_PREFIX,default=rewards"`
}

// Logger wraps logrus with a component name attached to every entry.
type Logger struct {
	*logrus.Logger
	component string
}

// New builds a logger from configuration. Invalid values fall back to info
// level text output on stdout.
func New(cfg LoggingConfig) *Logger {
	base := logrus.New()

	level, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(cfg.Level)))
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	switch strings.ToLower(cfg.Format) {
	case "json":
		base.SetFormatter(&logrus.JSONFormatter{TimestampFormat: time.RFC3339Nano})
	default:
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true, TimestampFormat: time.RFC3339})
	}

	base.SetOutput(outputFor(cfg))
	return &Logger{Logger: base}
}

// NewDefault returns an info level text logger tagged with the component name.
func NewDefault(component string) *Logger {
	l := New(LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	l.component = component
	return l
}

// Named returns a logger sharing the same sink but tagged with another
// component name.
func (l *Logger) Named(component string) *Logger {
	return &Logger{Logger: l.Logger, component: component}
}

// Component reports the name the logger was created with.
func (l *Logger) Component() string {
	return l.component
}

// WithField adds a single field, including the component tag.
func (l *Logger) WithField(key string, value interface{}) *logrus.Entry {
	return l.entry().WithField(key, value)
}

// WithFields adds multiple fields, including the component tag.
func (l *Logger) WithFields(fields logrus.Fields) *logrus.Entry {
	return l.entry().WithFields(fields)
}

// WithError attaches err to the entry.
func (l *Logger) WithError(err error) *logrus.Entry {
	return l.entry().WithError(err)
}

func (l *Logger) entry() *logrus.Entry {
	if l.component == "" {
		return logrus.NewEntry(l.Logger)
	}
	return l.Logger.WithField("component", l.component)
}

func outputFor(cfg LoggingConfig) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "", "stdout":
		return os.Stdout
	case "stderr":
		return os.Stderr
	case "discard":
		return io.Discard
	case "file":
		prefix := cfg.FilePrefix
		if prefix == "" {
			prefix = "rewards"
		}
		name := fmt.Sprintf("%s-%s.log", prefix, time.Now().UTC().Format("20060102"))
		f, err := os.OpenFile(filepath.Join("logs", name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			if mkErr := os.MkdirAll("logs", 0o755); mkErr == nil {
				f, err = os.OpenFile(filepath.Join("logs", name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
			}
		}
		if err != nil {
			return os.Stdout
		}
		return io.MultiWriter(os.Stdout, f)
	default:
		return os.Stdout
	}
}
