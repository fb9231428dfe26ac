// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/metrics"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"
)

// BusyMessage is returned for requests refused while a resource limit is
// exceeded and the monitor is set to pause.
const BusyMessage = "I am using more of this computer than I am allowed to right now (%s). Give me a moment and ask again."

// ResourceLimits bounds what the process may use. A zero value disables
// the matching check.
type ResourceLimits struct {
	CPUPercent  float64
	MemoryBytes uint64
	// Pause makes Throttled refuse work while a limit is exceeded.
	// Otherwise the monitor only warns.
	Pause bool
}

// ResourceUsage is one sample of the process.
type ResourceUsage struct {
	CPUPercent  float64
	MemoryBytes uint64
	At          time.Time
}

// cpuSample holds cumulative counters; CPU percent is derived from two of
// them.
type cpuSample struct {
	total, idle float64
	memory      uint64
}

var sampleNames = []string{
	"/cpu/classes/total:cpu-seconds",
	"/cpu/classes/idle:cpu-seconds",
	"/memory/classes/total:bytes",
}

func readRuntimeMetrics() cpuSample {
	samples := make([]metrics.Sample, len(sampleNames))
	for i, name := range sampleNames {
		samples[i].Name = name
	}
	metrics.Read(samples)
	var s cpuSample
	if v := samples[0].Value; v.Kind() == metrics.KindFloat64 {
		s.total = v.Float64()
	}
	if v := samples[1].Value; v.Kind() == metrics.KindFloat64 {
		s.idle = v.Float64()
	}
	if v := samples[2].Value; v.Kind() == metrics.KindUint64 {
		s.memory = v.Uint64()
	}
	return s
}

// ResourceMonitor samples the process CPU and memory use and compares them
// with ResourceLimits. CPU is the share of GOMAXPROCS time spent busy since
// the previous sample, as estimated by the Go runtime.
type ResourceMonitor struct {
	limits ResourceLimits
	logger *slog.Logger
	read   func() cpuSample
	now    func() time.Time

	mu     sync.Mutex
	prev   cpuSample
	primed bool
	last   ResourceUsage
	reason string
}

// ResourceOption configures a ResourceMonitor.
type ResourceOption func(*ResourceMonitor)

// WithResourceLogger sets the logger.
func WithResourceLogger(l *slog.Logger) ResourceOption {
	return func(m *ResourceMonitor) {
		if l != nil {
			m.logger = l
		}
	}
}

// NewResourceMonitor returns a monitor for limits.
func NewResourceMonitor(limits ResourceLimits, opts ...ResourceOption) *ResourceMonitor {
	m := &ResourceMonitor{
		limits: limits,
		logger: slog.Default(),
		read:   readRuntimeMetrics,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Limits returns the configured limits.
func (m *ResourceMonitor) Limits() ResourceLimits { return m.limits }

// Check takes a sample, records it and logs a warning for every limit it
// exceeds. The first sample only primes the CPU counters.
func (m *ResourceMonitor) Check(ctx context.Context) ResourceUsage {
	initResourceMetrics()
	s := m.read()

	m.mu.Lock()
	usage := ResourceUsage{MemoryBytes: s.memory, At: m.now()}
	if m.primed {
		if dt := s.total - m.prev.total; dt > 0 {
			busy := dt - (s.idle - m.prev.idle)
			usage.CPUPercent = clampPercent(100 * busy / dt)
		} else {
			usage.CPUPercent = m.last.CPUPercent
		}
	}
	m.prev, m.primed = s, true
	m.last = usage

	var exceeded []string
	if m.limits.CPUPercent > 0 && usage.CPUPercent > m.limits.CPUPercent {
		exceeded = append(exceeded, fmt.Sprintf("cpu %.0f%% over %.0f%%", usage.CPUPercent, m.limits.CPUPercent))
		m.logger.Warn("runtime.resources.cpu.high",
			slog.Float64("cpu_percent", usage.CPUPercent),
			slog.Float64("limit_percent", m.limits.CPUPercent),
		)
	}
	if m.limits.MemoryBytes > 0 && usage.MemoryBytes > m.limits.MemoryBytes {
		exceeded = append(exceeded, "memory "+humanize.IBytes(usage.MemoryBytes)+" over "+humanize.IBytes(m.limits.MemoryBytes))
		m.logger.Warn("runtime.resources.memory.high",
			slog.String("memory", humanize.IBytes(usage.MemoryBytes)),
			slog.String("limit", humanize.IBytes(m.limits.MemoryBytes)),
		)
	}
	m.reason = strings.Join(exceeded, ", ")
	m.mu.Unlock()

	resourceCPUPercent.Record(ctx, usage.CPUPercent)
	resourceMemoryBytes.Record(ctx, int64(usage.MemoryBytes))
	if len(exceeded) > 0 {
		resourceLimitCounter.Add(ctx, 1, otelmetric.WithAttributes(attribute.Bool("paused", m.limits.Pause)))
	}
	return usage
}

// Last returns the most recent sample.
func (m *ResourceMonitor) Last() ResourceUsage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.last
}

// Throttled takes a fresh sample and reports whether work should wait. It
// is always false unless the limits ask to pause.
func (m *ResourceMonitor) Throttled(ctx context.Context) (string, bool) {
	if !m.limits.Pause {
		return "", false
	}
	m.Check(ctx)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.reason == "" {
		return "", false
	}
	return fmt.Sprintf(BusyMessage, m.reason), true
}

func clampPercent(p float64) float64 {
	switch {
	case p < 0:
		return 0
	case p > 100:
		return 100
	}
	return p
}

// SetResourceMonitor samples m every interval while the runtime runs. A
// zero interval or nil monitor disables it.
func (r *LocalRuntime) SetResourceMonitor(m *ResourceMonitor, interval time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.resourceMonitor = m
	r.resourceInterval = interval
}

// startResourceMonitor is called with r.mu held.
func (r *LocalRuntime) startResourceMonitor() {
	if r.resourceMonitor == nil || r.resourceInterval <= 0 {
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	r.resourceCancel = cancel
	r.resourceDone = done
	m, interval := r.resourceMonitor, r.resourceInterval
	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		m.Check(ctx)
		r.logger.Info("runtime.resources.start",
			slog.Duration("interval", interval),
			slog.Float64("cpu_limit_percent", m.limits.CPUPercent),
			slog.String("memory_limit", humanize.IBytes(m.limits.MemoryBytes)),
			slog.Bool("pause", m.limits.Pause),
		)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Check(ctx)
			}
		}
	}()
}

// stopResourceMonitor is called with r.mu held.
func (r *LocalRuntime) stopResourceMonitor() {
	if r.resourceCancel == nil {
		return
	}
	r.resourceCancel()
	<-r.resourceDone
	r.resourceCancel = nil
	r.resourceDone = nil
}

var (
	resourceMetricsOnce  sync.Once
	resourceCPUPercent   otelmetric.Float64Histogram
	resourceMemoryBytes  otelmetric.Int64Histogram
	resourceLimitCounter otelmetric.Int64Counter
)

func initResourceMetrics() {
	resourceMetricsOnce.Do(func() {
		meter := otel.Meter("oracle/runtime")
		resourceCPUPercent, _ = meter.Float64Histogram("oracle.runtime.resources.cpu_percent")
		resourceMemoryBytes, _ = meter.Int64Histogram("oracle.runtime.resources.memory_bytes")
		resourceLimitCounter, _ = meter.Int64Counter("oracle.runtime.resources.limit.count")
	})
}
