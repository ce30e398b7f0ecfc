// Package log is the structured logger used across the materializer. It wraps
// log/slog behind a small ctx-first interface so trace ids and error chains
// are attached the same way everywhere.
package log

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
)

type Logger interface {
	With(kv ...any) Logger

	Debug(ctx context.Context, msg string, kv ...any)
	Info(ctx context.Context, msg string, kv ...any)
	Warn(ctx context.Context, msg string, kv ...any)
	Error(ctx context.Context, err error, msg string, kv ...any)

	Sync() error
}

type Options struct {
	App     string
	Version string
	Commit  string
	Level   slog.Level

	// StacktraceLevel is the lowest level that gets a "stack" attribute.
	// Zero means error.
	StacktraceLevel slog.Level

	JSON              bool
	IncludeErrorLinks bool
	MaxErrorLinks     int

	// Writer defaults to stderr so stdout stays free for the run report.
	Writer io.Writer
}

func New(opts Options) (Logger, error) { return newSlog(opts) }

func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("unknown log level %s (valid levels are debug|info|warn|error)", s)
	}
}
