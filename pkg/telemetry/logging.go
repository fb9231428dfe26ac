// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	slogmulti "github.com/samber/slog-multi"
	"go.opentelemetry.io/otel/trace"
)

// LogOptions selects where logs go.
type LogOptions struct {
	Level  string
	Format string
	// Output receives console logs. Nil means stderr.
	Output io.Writer
	// File, when set, also receives every record in append mode.
	File string
}

// ConfigureSlog sets the global slog logger with trace-aware attributes.
func ConfigureSlog(output io.Writer, level, format string) *slog.Logger {
	handler := newSlogHandler(output, level, format)
	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// ConfigureLogging installs a global logger that fans out to the console and,
// when opts.File is set, to a log file. The returned closer releases the file.
func ConfigureLogging(opts LogOptions) (*slog.Logger, func() error, error) {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}
	if opts.File == "" {
		return ConfigureSlog(out, opts.Level, opts.Format), func() error { return nil }, nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, nil, err
	}
	f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, err
	}
	logger := slog.New(slogmulti.Fanout(
		newSlogHandler(out, opts.Level, opts.Format),
		newSlogHandler(f, opts.Level, "json"),
	))
	slog.SetDefault(logger)
	return logger, f.Close, nil
}

// logLevel is shared by every handler built here so SetLevel reaches them all.
var logLevel = new(slog.LevelVar)

// SetLevel changes the level of the installed loggers.
func SetLevel(level string) {
	logLevel.Set(parseLogLevel(level))
}

func newSlogHandler(output io.Writer, level, format string) slog.Handler {
	SetLevel(level)
	opts := &slog.HandlerOptions{
		Level: logLevel,
	}
	var base slog.Handler
	switch strings.ToLower(strings.TrimSpace(format)) {
	case "json":
		base = slog.NewJSONHandler(output, opts)
	default:
		base = slog.NewTextHandler(output, opts)
	}
	return &traceHandler{next: base}
}

type traceHandler struct {
	next slog.Handler
}

func (h *traceHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *traceHandler) Handle(ctx context.Context, record slog.Record) error {
	traceID, spanID := spanIDsFromContext(ctx)
	if traceID != "" && !recordHasAttr(record, "trace_id") {
		record.AddAttrs(slog.String("trace_id", traceID))
	}
	if spanID != "" && !recordHasAttr(record, "span_id") {
		record.AddAttrs(slog.String("span_id", spanID))
	}
	return h.next.Handle(ctx, record)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{next: h.next.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{next: h.next.WithGroup(name)}
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func spanIDsFromContext(ctx context.Context) (string, string) {
	if ctx == nil {
		return "", ""
	}
	sc := trace.SpanFromContext(ctx).SpanContext()
	if !sc.IsValid() {
		return "", ""
	}
	return sc.TraceID().String(), sc.SpanID().String()
}

func recordHasAttr(record slog.Record, key string) bool {
	found := false
	record.Attrs(func(attr slog.Attr) bool {
		if attr.Key == key {
			found = true
			return false
		}
		return true
	})
	return found
}
