// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// maxConcurrentExpirers bounds how many stores are swept at once.
const maxConcurrentExpirers = 4

// ApprovalExpirer is implemented by approval stores that can expire pending
// approvals.
type ApprovalExpirer interface {
	ExpireApprovals(ctx context.Context) (int, error)
}

// AddApprovalExpirer registers an expirer to be swept on the configured interval.
func (r *LocalRuntime) AddApprovalExpirer(expirer ApprovalExpirer) {
	if expirer == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvalExpirers = append(r.approvalExpirers, expirer)
}

// SetApprovalSweepInterval defines how often to sweep for expired approvals.
// Set to 0 to disable.
func (r *LocalRuntime) SetApprovalSweepInterval(interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvalSweepInterval = interval
}

// SetApprovalSweepTimeout defines a per-sweep timeout.
func (r *LocalRuntime) SetApprovalSweepTimeout(timeout time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.approvalSweepTimeout = timeout
}

// startApprovalSweeper is called with r.mu held.
func (r *LocalRuntime) startApprovalSweeper() {
	if r.approvalSweepInterval <= 0 || len(r.approvalExpirers) == 0 {
		r.logger.Info("runtime.approval.sweeper.disabled",
			slog.Duration("interval", r.approvalSweepInterval),
			slog.Int("expirers", len(r.approvalExpirers)),
		)
		return
	}
	if r.approvalSweepCancel != nil {
		r.stopApprovalSweeper()
	}
	initApprovalMetrics()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.approvalSweepCancel = cancel
	r.approvalSweepDone = done
	expirers := append([]ApprovalExpirer(nil), r.approvalExpirers...)
	interval, timeout := r.approvalSweepInterval, r.approvalSweepTimeout
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		r.logger.Info("runtime.approval.sweeper.start",
			slog.Duration("interval", interval),
			slog.Int("expirers", len(expirers)),
		)
		for {
			select {
			case <-ctx.Done():
				r.logger.Info("runtime.approval.sweeper.stop")
				return
			case <-ticker.C:
				r.sweep(ctx, expirers, timeout)
			}
		}
	}()
}

// sweep runs every expirer once, concurrently, and returns the number of
// approvals expired.
func (r *LocalRuntime) sweep(ctx context.Context, expirers []ApprovalExpirer, timeout time.Duration) int {
	initApprovalMetrics()
	sweepStart := time.Now()
	sweepCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		sweepCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	tracer := otel.Tracer("oracle/runtime")
	sweepCtx, sweepSpan := tracer.Start(sweepCtx, "runtime.approval.sweep",
		trace.WithAttributes(
			attribute.Int("expirers", len(expirers)),
			attribute.String("timeout", timeout.String()),
		),
	)
	defer sweepSpan.End()

	var (
		mu    sync.Mutex
		total int
		g     errgroup.Group
	)
	g.SetLimit(maxConcurrentExpirers)
	for _, expirer := range expirers {
		g.Go(func() error {
			expired := r.expire(sweepCtx, tracer, expirer)
			mu.Lock()
			total += expired
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	traceID, spanID := traceIDs(sweepSpan)
	r.logger.Debug("runtime.approval.sweep.complete",
		slog.Int("expirers", len(expirers)),
		slog.Int("expired", total),
		slog.String("trace_id", traceID),
		slog.String("span_id", spanID),
	)
	sweepTotalLatencyMs.Record(ctx, float64(time.Since(sweepStart).Milliseconds()), metric.WithAttributes(
		attribute.Int("expirers", len(expirers)),
	))
	return total
}

func (r *LocalRuntime) expire(ctx context.Context, tracer trace.Tracer, expirer ApprovalExpirer) int {
	expirerType := expirerName(expirer)
	attrs := metric.WithAttributes(attribute.String("expirer", expirerType))
	ctx, span := tracer.Start(ctx, "runtime.approval.expire",
		trace.WithAttributes(attribute.String("expirer", expirerType)))
	defer span.End()

	start := time.Now()
	expired, err := expirer.ExpireApprovals(ctx)
	durationMs := float64(time.Since(start).Microseconds()) / 1000
	sweepCounter.Add(ctx, 1, attrs)
	sweepLatencyMs.Record(ctx, durationMs, attrs)
	if err != nil {
		sweepErrorCounter.Add(ctx, 1, attrs)
		span.RecordError(err)
		r.logger.Warn("runtime.approval.expire.error",
			slog.String("expirer", expirerType),
			slog.Float64("duration_ms", durationMs),
			slog.String("error", err.Error()),
		)
		return 0
	}
	if expired > 0 {
		expiredCounter.Add(ctx, int64(expired), attrs)
		r.logger.Info("runtime.approval.expired",
			slog.String("expirer", expirerType),
			slog.Int("expired", expired),
		)
	}
	span.SetAttributes(attribute.Int("expired", expired))
	return expired
}

// stopApprovalSweeper is called with r.mu held.
func (r *LocalRuntime) stopApprovalSweeper() {
	if r.approvalSweepCancel == nil {
		return
	}
	r.approvalSweepCancel()
	if r.approvalSweepDone != nil {
		<-r.approvalSweepDone
	}
	r.approvalSweepCancel = nil
	r.approvalSweepDone = nil
}

var (
	approvalMetricsOnce sync.Once
	sweepCounter        metric.Int64Counter
	sweepErrorCounter   metric.Int64Counter
	expiredCounter      metric.Int64Counter
	sweepLatencyMs      metric.Float64Histogram
	sweepTotalLatencyMs metric.Float64Histogram
)

func initApprovalMetrics() {
	approvalMetricsOnce.Do(func() {
		meter := otel.Meter("oracle/runtime")
		sweepCounter, _ = meter.Int64Counter("oracle.runtime.approval.sweep.count")
		sweepErrorCounter, _ = meter.Int64Counter("oracle.runtime.approval.sweep.error.count")
		expiredCounter, _ = meter.Int64Counter("oracle.runtime.approval.expired.count")
		sweepLatencyMs, _ = meter.Float64Histogram("oracle.runtime.approval.sweep.latency_ms")
		sweepTotalLatencyMs, _ = meter.Float64Histogram("oracle.runtime.approval.sweep.total_latency_ms")
	})
}

func expirerName(expirer ApprovalExpirer) string {
	if expirer == nil {
		return "unknown"
	}
	return fmt.Sprintf("%T", expirer)
}
