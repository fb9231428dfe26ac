// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package runtime owns the process lifecycle: it serves requests to the
// agent, sweeps expired approvals and runs shutdown hooks.
package runtime

import (
	"context"
	stderrors "errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jllopis/oracle/pkg/errors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Handler answers one request.
type Handler interface {
	Handle(ctx context.Context, input string) (string, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, input string) (string, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, input string) (string, error) {
	return f(ctx, input)
}

// ShutdownHook releases one resource.
type ShutdownHook func(ctx context.Context) error

type namedHook struct {
	name string
	fn   ShutdownHook
}

// LocalRuntime is a simple in-process runtime.
type LocalRuntime struct {
	mu      sync.Mutex
	started bool
	stopped bool
	hooks   []namedHook
	tracer  trace.Tracer
	logger  *slog.Logger

	approvalExpirers      []ApprovalExpirer
	approvalSweepInterval time.Duration
	approvalSweepTimeout  time.Duration
	approvalSweepCancel   context.CancelFunc
	approvalSweepDone     chan struct{}

	resourceMonitor  *ResourceMonitor
	resourceInterval time.Duration
	resourceCancel   context.CancelFunc
	resourceDone     chan struct{}
}

// Option configures a LocalRuntime.
type Option func(*LocalRuntime)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *LocalRuntime) {
		if l != nil {
			r.logger = l
		}
	}
}

// NewLocal creates a new LocalRuntime instance.
func NewLocal(opts ...Option) *LocalRuntime {
	r := &LocalRuntime{
		tracer: otel.Tracer("oracle/runtime"),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// OnShutdown registers a hook. Hooks run in reverse registration order.
func (r *LocalRuntime) OnShutdown(name string, fn ShutdownHook) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, namedHook{name: name, fn: fn})
}

// Start marks the runtime as ready and starts the approval sweeper and the
// resource monitor.
func (r *LocalRuntime) Start(_ context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return errors.New(errors.CodeInternal, "runtime already stopped", nil)
	}
	if r.started {
		return nil
	}
	r.started = true
	r.startApprovalSweeper()
	r.startResourceMonitor()
	r.logger.Info("runtime.start", slog.Int("shutdown_hooks", len(r.hooks)))
	return nil
}

// Stop stops the background loops and runs every shutdown hook, newest first. A
// failing hook does not stop the others; the errors are joined. Stop is
// idempotent.
func (r *LocalRuntime) Stop(ctx context.Context) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return nil
	}
	r.stopped = true
	r.started = false
	r.stopApprovalSweeper()
	r.stopResourceMonitor()
	hooks := append([]namedHook(nil), r.hooks...)
	r.mu.Unlock()

	var errs []error
	for i := len(hooks) - 1; i >= 0; i-- {
		h := hooks[i]
		start := time.Now()
		if err := h.fn(ctx); err != nil {
			r.logger.Warn("runtime.shutdown.hook.error", slog.String("hook", h.name), slog.String("error", err.Error()))
			errs = append(errs, errors.New(errors.CodeInternal, "shutdown hook "+h.name+" failed", err))
			continue
		}
		r.logger.Debug("runtime.shutdown.hook", slog.String("hook", h.name), slog.Duration("duration", time.Since(start)))
	}
	r.logger.Info("runtime.stop", slog.Int("hooks", len(hooks)), slog.Int("errors", len(errs)))
	return stderrors.Join(errs...)
}

// Run serves one request through h.
func (r *LocalRuntime) Run(ctx context.Context, h Handler, input string) (string, error) {
	r.mu.Lock()
	started := r.started
	r.mu.Unlock()
	if !started {
		return "", errors.New(errors.CodeInternal, "runtime not started", nil)
	}
	runID := uuid.NewString()
	ctx, span := r.tracer.Start(ctx, "runtime.run", trace.WithAttributes(
		attribute.String("run.id", runID),
	))
	defer span.End()
	traceID, spanID := traceIDs(span)
	log := r.logger.With(slog.String("run_id", runID), slog.String("trace_id", traceID), slog.String("span_id", spanID))

	log.Debug("runtime.run.start")
	reply, err := h.Handle(ctx, input)
	if err != nil {
		span.RecordError(err)
		log.Error("runtime.run.error", slog.String("error", err.Error()))
		return "", err
	}
	log.Debug("runtime.run.complete")
	return reply, nil
}

// SignalContext returns a context cancelled on SIGINT or SIGTERM.
func SignalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func traceIDs(span trace.Span) (string, string) {
	sc := span.SpanContext()
	return sc.TraceID().String(), sc.SpanID().String()
}
