// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package agent implements the request loop: gather context, infer, extract a
// directive, dispatch it, narrate the result and remember the exchange.
package agent

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/jllopis/oracle/pkg/directive"
	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/llm"
	"github.com/jllopis/oracle/pkg/memory"
	"github.com/jllopis/oracle/pkg/telemetry"
	"github.com/jllopis/oracle/pkg/toolbox"
	"github.com/jllopis/oracle/pkg/vision"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"
)

const (
	// DefaultMemoryTopK is how many past interactions are recalled per request.
	DefaultMemoryTopK = 3
	// DefaultRepairTimeout bounds the self-repair call.
	DefaultRepairTimeout = 30 * time.Second
)

// Toolbox is the directive registry the agent dispatches to.
type Toolbox interface {
	directive.Catalog
	Describe(ctx context.Context) string
	Dispatch(ctx context.Context, d directive.Directive) toolbox.Result
	Confirm(ctx context.Context, id string) toolbox.Result
	Reject(ctx context.Context, id string) toolbox.Result
}

// Memory stores and recalls interactions.
type Memory interface {
	Store(ctx context.Context, in memory.Interaction) error
	Retrieve(ctx context.Context, query string, k int) ([]string, error)
}

// Persona renders the persona section of the prompt.
type Persona interface {
	Directives() string
}

// Snapshots hands out the pending screen capture, at most once.
type Snapshots interface {
	Take() (vision.Capture, bool)
}

// Override reports whether an administrator paused the agent.
type Override interface {
	Active() bool
}

// ResourceGuard refuses work while the process is over its resource limits.
// The message is returned to the user as the reply.
type ResourceGuard interface {
	Throttled(ctx context.Context) (string, bool)
}

// Agent answers one request at a time.
type Agent struct {
	name          string
	model         string
	gateway       llm.Gateway
	tools         Toolbox
	extractor     *directive.Extractor
	memory        Memory
	persona       Persona
	snapshots     Snapshots
	override      Override
	resources     ResourceGuard
	systemPrompt  string
	instructions  string
	memoryTopK    int
	repairTimeout time.Duration
	now           func() time.Time

	sem        *semaphore.Weighted
	logger     *slog.Logger
	tracer     trace.Tracer
	errMetrics *telemetry.ErrorMetrics
}

// Option configures an Agent.
type Option func(*Agent) error

// New creates an agent over gateway and tools.
func New(gateway llm.Gateway, tools Toolbox, opts ...Option) (*Agent, error) {
	if gateway == nil {
		return nil, errors.New(errors.CodeInvalidInput, "agent needs an inference gateway", nil)
	}
	if tools == nil {
		return nil, errors.New(errors.CodeInvalidInput, "agent needs a toolbox", nil)
	}
	a := &Agent{
		name:          "oracle",
		gateway:       gateway,
		tools:         tools,
		extractor:     directive.New(tools),
		systemPrompt:  DefaultSystemPrompt,
		memoryTopK:    DefaultMemoryTopK,
		repairTimeout: DefaultRepairTimeout,
		now:           time.Now,
		sem:           semaphore.NewWeighted(1),
		logger:        slog.Default(),
		tracer:        otel.Tracer("oracle/agent"),
	}
	if m, ok := gateway.(interface{ Model() string }); ok {
		a.model = m.Model()
	}
	for _, opt := range opts {
		if err := opt(a); err != nil {
			return nil, err
		}
	}
	initAgentMetrics()
	return a, nil
}

// WithName sets the agent name used in logs and spans.
func WithName(name string) Option {
	return func(a *Agent) error {
		if name == "" {
			return errors.New(errors.CodeInvalidInput, "agent name is empty", nil)
		}
		a.name = name
		return nil
	}
}

// WithMemory attaches the memory store.
func WithMemory(m Memory) Option {
	return func(a *Agent) error {
		a.memory = m
		return nil
	}
}

// WithPersona attaches the persona.
func WithPersona(p Persona) Option {
	return func(a *Agent) error {
		a.persona = p
		return nil
	}
}

// WithSnapshots attaches the screen capture slot.
func WithSnapshots(s Snapshots) Option {
	return func(a *Agent) error {
		a.snapshots = s
		return nil
	}
}

// WithOverride attaches the admin override switch.
func WithOverride(o Override) Option {
	return func(a *Agent) error {
		a.override = o
		return nil
	}
}

// WithResourceGuard checks resource limits before every request.
func WithResourceGuard(g ResourceGuard) Option {
	return func(a *Agent) error {
		a.resources = g
		return nil
	}
}

// WithSystemPrompt replaces DefaultSystemPrompt. Empty keeps the default.
func WithSystemPrompt(prompt string) Option {
	return func(a *Agent) error {
		if prompt != "" {
			a.systemPrompt = prompt
		}
		return nil
	}
}

// WithInstructions adds operator house rules to every prompt.
func WithInstructions(text string) Option {
	return func(a *Agent) error {
		a.instructions = text
		return nil
	}
}

// WithMemoryTopK sets how many memories are recalled. Zero disables recall.
func WithMemoryTopK(k int) Option {
	return func(a *Agent) error {
		if k < 0 {
			return errors.New(errors.CodeInvalidInput, "memory top k must not be negative", nil)
		}
		a.memoryTopK = k
		return nil
	}
}

// WithRepairTimeout bounds the self-repair call.
func WithRepairTimeout(d time.Duration) Option {
	return func(a *Agent) error {
		if d > 0 {
			a.repairTimeout = d
		}
		return nil
	}
}

// WithErrorMetrics sets the error metrics sink. Without it nothing is
// counted.
func WithErrorMetrics(m *telemetry.ErrorMetrics) Option {
	return func(a *Agent) error {
		a.errMetrics = m
		return nil
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(a *Agent) error {
		if l != nil {
			a.logger = l
		}
		return nil
	}
}

// WithClock sets the time source for interaction timestamps.
func WithClock(now func() time.Time) Option {
	return func(a *Agent) error {
		if now != nil {
			a.now = now
		}
		return nil
	}
}

// Name returns the agent name.
func (a *Agent) Name() string { return a.name }

// Handle answers input. Requests are served one at a time; a caller whose
// context ends while queued gets a CONTEXT_LOST error. Once a request starts,
// every failure is turned into reply text and the error is nil.
func (a *Agent) Handle(ctx context.Context, input string) (string, error) {
	if err := a.sem.Acquire(ctx, 1); err != nil {
		return "", errors.New(errors.CodeContextLost, "request cancelled while waiting for the agent", err)
	}
	defer a.sem.Release(1)
	return a.handle(ctx, input), nil
}

var (
	agentMetricsOnce sync.Once
	requestCounter   metric.Int64Counter
	requestLatencyMs metric.Float64Histogram
)

func initAgentMetrics() {
	agentMetricsOnce.Do(func() {
		meter := otel.Meter("oracle/agent")
		requestCounter, _ = meter.Int64Counter("oracle.agent.request.count")
		requestLatencyMs, _ = meter.Float64Histogram("oracle.agent.request.latency_ms")
	})
}
