// Package logging is the structured logger shared by every assetforge
// component. It is a thin layer over log/slog that fixes the call shape
// (context first, error as its own argument) and carries a component name.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// LogLevel represents different log levels
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var levelNames = map[LogLevel]string{
	LevelDebug: "DEBUG",
	LevelInfo:  "INFO",
	LevelWarn:  "WARN",
	LevelError: "ERROR",
}

func (l LogLevel) String() string {
	if name, ok := levelNames[l]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseLevel converts a configuration string into a LogLevel.
func ParseLevel(s string) (LogLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	}
	return LevelInfo, fmt.Errorf("unknown log level %q", s)
}

// slog levels are spaced by four starting at Debug(-4).
func (l LogLevel) slogLevel() slog.Level {
	return slog.LevelDebug + slog.Level(4*l)
}

// Logger is implemented by StructuredLogger. Fields are alternating
// key/value pairs; a non-string key drops the pair.
type Logger interface {
	Debug(ctx context.Context, msg string, fields ...interface{})
	Info(ctx context.Context, msg string, fields ...interface{})
	Warn(ctx context.Context, err error, msg string, fields ...interface{})
	Error(ctx context.Context, err error, msg string, fields ...interface{})

	With(fields ...interface{}) Logger
	WithComponent(component string) Logger
}

type StructuredLogger struct {
	handler   slog.Handler
	component string
	attrs     []slog.Attr
}

type LoggerConfig struct {
	Level     LogLevel
	Format    string // "json" or "text"
	Output    io.Writer
	AddSource bool
	Component string
}

func DefaultConfig() *LoggerConfig {
	return &LoggerConfig{Level: LevelInfo, Format: "text", Output: os.Stderr}
}

func NewLogger(cfg *LoggerConfig) *StructuredLogger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}

	opts := &slog.HandlerOptions{Level: cfg.Level.slogLevel(), AddSource: cfg.AddSource}

	var h slog.Handler = slog.NewTextHandler(out, opts)
	if cfg.Format == "json" {
		h = slog.NewJSONHandler(out, opts)
	}

	return &StructuredLogger{handler: h, component: cfg.Component}
}

// NewDiscard returns a logger that drops everything.
func NewDiscard() *StructuredLogger {
	return NewLogger(&LoggerConfig{Level: LevelError, Output: io.Discard})
}

func (l *StructuredLogger) Debug(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, slog.LevelDebug, nil, msg, fields)
}

func (l *StructuredLogger) Info(ctx context.Context, msg string, fields ...interface{}) {
	l.log(ctx, slog.LevelInfo, nil, msg, fields)
}

func (l *StructuredLogger) Warn(ctx context.Context, err error, msg string, fields ...interface{}) {
	l.log(ctx, slog.LevelWarn, err, msg, fields)
}

func (l *StructuredLogger) Error(ctx context.Context, err error, msg string, fields ...interface{}) {
	l.log(ctx, slog.LevelError, err, msg, fields)
}

// With returns a child logger that adds fields to every record. The
// receiver is not modified.
func (l *StructuredLogger) With(fields ...interface{}) Logger {
	child := *l
	child.attrs = appendPairs(append([]slog.Attr(nil), l.attrs...), fields)
	return &child
}

func (l *StructuredLogger) WithComponent(component string) Logger {
	child := *l
	child.component = component
	return &child
}

func (l *StructuredLogger) log(ctx context.Context, level slog.Level, err error, msg string, fields []interface{}) {
	if ctx == nil {
		ctx = context.Background()
	}
	if !l.handler.Enabled(ctx, level) {
		return
	}

	record := slog.NewRecord(time.Now(), level, msg, 0)
	if l.component != "" {
		record.AddAttrs(slog.String("component", l.component))
	}
	if err != nil {
		record.AddAttrs(slog.String("error", err.Error()))
	}
	record.AddAttrs(l.attrs...)
	record.AddAttrs(appendPairs(nil, fields)...)

	_ = l.handler.Handle(ctx, record)
}

func appendPairs(attrs []slog.Attr, fields []interface{}) []slog.Attr {
	for i := 0; i+1 < len(fields); i += 2 {
		if key, ok := fields[i].(string); ok {
			attrs = append(attrs, slog.Any(key, fields[i+1]))
		}
	}
	return attrs
}

// Timer logs how long a named step took when it finishes.
type Timer struct {
	Logger
	start time.Time
}

// StartOperation returns a Timer whose records carry operation=name.
func StartOperation(logger Logger, name string) *Timer {
	return &Timer{Logger: logger.With("operation", name), start: time.Now()}
}

func (t *Timer) Elapsed() time.Duration {
	return time.Since(t.start)
}

// End logs the step at debug level with its duration; per-step timing is
// noise at info once a build has many tasks.
func (t *Timer) End(ctx context.Context, fields ...interface{}) {
	t.Debug(ctx, "Finished", append(fields, "duration_ms", t.Elapsed().Milliseconds())...)
}

// EndWithError logs the failed step at error level.
func (t *Timer) EndWithError(ctx context.Context, err error, fields ...interface{}) {
	t.Error(ctx, err, "Failed", append(fields, "duration_ms", t.Elapsed().Milliseconds())...)
}
