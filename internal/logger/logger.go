// Package logger provides the engine's structured logging wrapper.
package logger

import (
	"context"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"
)

type ctxKey string

const traceIDKey ctxKey = "trace_id"

// Logger wraps slog.Logger with flow/node-scoped contextual fields.
type Logger struct {
	*slog.Logger
}

// New builds a Logger. format "json" yields structured JSON on stdout;
// anything else yields tint's colourised console output when stdout is a
// TTY, falling back to tint's plain rendering otherwise.
func New(level, format string) *Logger {
	logLevel := parseLevel(level)

	// Debug level implies AddSource, so a flow stuck mid-execution can be
	// traced back to the exact call site without a separate verbosity knob.
	addSource := logLevel <= slog.LevelDebug

	var handler slog.Handler
	switch format {
	case "json":
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel, AddSource: addSource})
	default:
		handler = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      logLevel,
			TimeFormat: time.TimeOnly,
			NoColor:    !isatty.IsTerminal(os.Stdout.Fd()),
			AddSource:  addSource,
		})
	}

	return &Logger{Logger: slog.New(handler)}
}

// WithContext returns a logger carrying the trace id stashed in ctx, if any.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if traceID := ctx.Value(traceIDKey); traceID != nil {
		return &Logger{Logger: l.With("trace_id", traceID)}
	}
	return l
}

// WithFields returns a logger with additional static fields attached.
func (l *Logger) WithFields(fields map[string]any) *Logger {
	args := make([]any, 0, len(fields)*2)
	for k, v := range fields {
		args = append(args, k, v)
	}
	return &Logger{Logger: l.With(args...)}
}

// WithFlow scopes subsequent log lines to a flow run.
func (l *Logger) WithFlow(flowID string) *Logger {
	return &Logger{Logger: l.With("flow_id", flowID)}
}

// WithNode scopes subsequent log lines to a node within a flow.
func (l *Logger) WithNode(nodeID string) *Logger {
	return &Logger{Logger: l.With("node_id", nodeID)}
}

// Error logs at error level with a captured stack trace attached.
func (l *Logger) Error(msg string, args ...any) {
	args = append(args, "stack", string(debug.Stack()))
	l.Logger.Error(msg, args...)
}

// ErrorContext logs at error level with context and a stack trace.
func (l *Logger) ErrorContext(ctx context.Context, msg string, args ...any) {
	args = append(args, "stack", string(debug.Stack()))
	l.Logger.ErrorContext(ctx, msg, args...)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
