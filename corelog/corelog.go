// Package corelog provides the structured logging used across the core
// engine: a configured logrus logger with stdout/stderr stream splitting,
// plus a context-aware wrapper for per-component fields.
package corelog

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/sirupsen/logrus"
)

// Level is one of the standard logging levels.
type Level string

const (
	LevelDebug Level = "debug"
	LevelInfo  Level = "info"
	LevelWarn  Level = "warn"
	LevelError Level = "error"
	LevelFatal Level = "fatal"
)

// Config configures a new logger.
type Config struct {
	Level      Level
	Format     string // "json" or "text"
	Component  string // e.g. "queue", "worker", "action"
	AddCaller  bool
	TimeFormat string
}

// DefaultConfig returns sensible defaults: info level, text format.
func DefaultConfig() Config {
	return Config{Level: LevelInfo, Format: "text", TimeFormat: time.RFC3339}
}

// New builds a *logrus.Logger per cfg, with output routed through
// OutputSplitter (errors to stderr, everything else to stdout).
func New(cfg Config) *logrus.Logger {
	logger := logrus.New()

	switch cfg.Level {
	case LevelDebug:
		logger.SetLevel(logrus.DebugLevel)
	case LevelWarn:
		logger.SetLevel(logrus.WarnLevel)
	case LevelError:
		logger.SetLevel(logrus.ErrorLevel)
	case LevelFatal:
		logger.SetLevel(logrus.FatalLevel)
	default:
		logger.SetLevel(logrus.InfoLevel)
	}

	if cfg.Format == "json" {
		logger.SetFormatter(&logrus.JSONFormatter{TimestampFormat: cfg.TimeFormat})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{TimestampFormat: cfg.TimeFormat, FullTimestamp: true})
	}

	logger.SetReportCaller(cfg.AddCaller)
	logger.SetOutput(&OutputSplitter{})
	return logger
}

// OutputSplitter routes formatted log lines to stderr for error/fatal level
// entries and stdout for everything else, so container log collectors can
// treat the two streams differently.
type OutputSplitter struct{}

func (OutputSplitter) Write(p []byte) (int, error) {
	if bytes.Contains(p, []byte("level=error")) || bytes.Contains(p, []byte("level=fatal")) ||
		bytes.Contains(p, []byte(`"level":"error"`)) || bytes.Contains(p, []byte(`"level":"fatal"`)) {
		return os.Stderr.Write(p)
	}
	return os.Stdout.Write(p)
}

// contextKey avoids collisions with other packages' context values.
type contextKey string

const (
	keyDeqID  contextKey = "deq_id"
	keyAction contextKey = "action"
	keyQueue  contextKey = "queue"
)

// WithDeqID attaches a batch's deq-id to ctx for log correlation.
func WithDeqID(ctx context.Context, deqID uint64) context.Context {
	return context.WithValue(ctx, keyDeqID, deqID)
}

// WithAction attaches an action name to ctx.
func WithAction(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, keyAction, name)
}

// WithQueue attaches a queue name to ctx.
func WithQueue(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, keyQueue, name)
}

// FromContext returns an Entry carrying any deq-id/action/queue fields found
// on ctx, built on top of base.
func FromContext(ctx context.Context, base *logrus.Logger) *logrus.Entry {
	fields := logrus.Fields{}
	if v := ctx.Value(keyDeqID); v != nil {
		fields["deq_id"] = v
	}
	if v := ctx.Value(keyAction); v != nil {
		fields["action"] = v
	}
	if v := ctx.Value(keyQueue); v != nil {
		fields["queue"] = v
	}
	return base.WithFields(fields)
}
