// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package toolbox is the registry of privileged directives the agent may run
// on the host. Dispatch validates a directive, stages irreversible ones for
// explicit confirmation, and always returns a well formed Result.
package toolbox

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jllopis/oracle/pkg/directive"
	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/governance"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Status is the outcome class of a directive.
type Status string

const (
	StatusOK      Status = "ok"
	StatusFailed  Status = "failed"
	StatusPending Status = "pending"
)

// Result is returned by every invocation.
type Result struct {
	OK         bool   `json:"ok"`
	Status     Status `json:"status"`
	Message    string `json:"message"`
	ApprovalID string `json:"approval_id,omitempty"`
	Directive  string `json:"directive,omitempty"`
}

// OK returns a successful result.
func OK(format string, args ...any) Result {
	return Result{OK: true, Status: StatusOK, Message: fmt.Sprintf(format, args...)}
}

// Failed returns a failed result.
func Failed(format string, args ...any) Result {
	return Result{Status: StatusFailed, Message: fmt.Sprintf(format, args...)}
}

// FromError converts err to a failed result.
func FromError(err error) Result {
	if oe := errors.AsOracleError(err); oe != nil && oe.Code != errors.CodeInternal {
		return Failed("%s", oe.Message)
	}
	return Failed("%v", err)
}

// Handler executes a directive. Handlers report failures in the Result; a
// panic is recovered by the registry.
type Handler func(ctx context.Context, args []string) Result

// Spec declares a directive.
type Spec struct {
	Name        string
	MinArgs     int
	MaxArgs     int // negative means unbounded
	Usage       string
	Description string
	// Irreversible directives are staged and only run after Confirm.
	Irreversible bool
	// Kind selects the policy action type. Empty means tool.
	Kind governance.ActionType
}

type entry struct {
	spec    Spec
	handler Handler
}

var nameRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Registry holds directives and dispatches them.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry

	approvals governance.ApprovalStore
	policy    governance.PolicyEngine
	logger    *slog.Logger
	tracer    trace.Tracer
}

// Option configures a Registry.
type Option func(*Registry)

// WithApprovalStore sets where irreversible directives are staged.
func WithApprovalStore(store governance.ApprovalStore) Option {
	return func(r *Registry) { r.approvals = store }
}

// WithPolicy sets the policy engine consulted before each invocation.
func WithPolicy(engine governance.PolicyEngine) Option {
	return func(r *Registry) { r.policy = engine }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) { r.logger = l }
}

// New creates an empty registry with an in-memory approval store.
func New(opts ...Option) *Registry {
	r := &Registry{
		entries:   make(map[string]entry),
		approvals: governance.NewMemoryApprovalStore(),
		logger:    slog.Default(),
		tracer:    otel.Tracer("oracle/toolbox"),
	}
	for _, opt := range opts {
		opt(r)
	}
	initToolboxMetrics()
	return r
}

// Register adds a directive.
func (r *Registry) Register(spec Spec, handler Handler) error {
	if !nameRe.MatchString(spec.Name) {
		return errors.New(errors.CodeInvalidInput, "invalid directive name", nil).WithContext("name", spec.Name)
	}
	if handler == nil {
		return errors.New(errors.CodeInvalidInput, "handler is required", nil).WithContext("name", spec.Name)
	}
	if spec.MinArgs < 0 || (spec.MaxArgs >= 0 && spec.MaxArgs < spec.MinArgs) {
		return errors.New(errors.CodeInvalidInput, "invalid arity", nil).WithContext("name", spec.Name)
	}
	if spec.Kind == "" {
		spec.Kind = governance.ActionTool
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[spec.Name]; exists {
		return errors.New(errors.CodeInvalidInput, "directive already registered", nil).WithContext("name", spec.Name)
	}
	r.entries[spec.Name] = entry{spec: spec, handler: handler}
	return nil
}

// MustRegister is Register for built-in directives; it panics on error.
func (r *Registry) MustRegister(spec Spec, handler Handler) {
	if err := r.Register(spec, handler); err != nil {
		panic(err)
	}
}

// Spec returns the declaration of name.
func (r *Registry) Spec(name string) (Spec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.spec, ok
}

// Arity implements directive.Catalog.
func (r *Registry) Arity(name string) (int, int, bool) {
	spec, ok := r.Spec(name)
	if !ok {
		return 0, 0, false
	}
	return spec.MinArgs, spec.MaxArgs, true
}

// Names implements directive.Catalog. Names are sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	names := make([]string, 0, len(r.entries))
	for name := range r.entries {
		names = append(names, name)
	}
	r.mu.RUnlock()
	sort.Strings(names)
	return names
}

// Describe renders the directive list for the system prompt. Directives the
// policy denies are left out.
func (r *Registry) Describe(ctx context.Context) string {
	var b strings.Builder
	for _, name := range r.Names() {
		spec, ok := r.Spec(name)
		if !ok {
			continue
		}
		if r.policy != nil && r.policy.Evaluate(ctx, action(spec)).IsDenied() {
			continue
		}
		usage := spec.Usage
		if usage == "" {
			usage = spec.Name + "()"
		}
		b.WriteString("- ")
		b.WriteString(usage)
		if spec.Description != "" {
			b.WriteString(": ")
			b.WriteString(spec.Description)
		}
		if spec.Irreversible {
			b.WriteString(" (asks the user for confirmation)")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// Dispatch runs d. Validation order: name, arity, policy (irreversible
// directives are staged), handler, result wrapping. A failing step
// short-circuits to a failed Result naming the step.
func (r *Registry) Dispatch(ctx context.Context, d directive.Directive) (res Result) {
	ctx, span := r.tracer.Start(ctx, "toolbox.dispatch",
		trace.WithAttributes(attribute.String("directive", d.Name)))
	start := time.Now()
	defer func() {
		res.Directive = d.Name
		span.SetAttributes(attribute.String("status", string(res.Status)))
		span.End()
		r.record(ctx, d.Name, res, start)
	}()

	r.mu.RLock()
	e, ok := r.entries[d.Name]
	r.mu.RUnlock()
	if !ok {
		return Failed("lookup: unknown directive %q", d.Name)
	}
	if !arityOK(e.spec, len(d.Args)) {
		return Failed("arity: %s expects %s, got %d", d.Name, arityText(e.spec), len(d.Args))
	}

	decision := governance.Allow
	if r.policy != nil {
		decision = r.policy.Evaluate(ctx, action(e.spec))
	}
	if decision.IsDenied() {
		reason := decision.Reason
		if reason == "" {
			reason = "not permitted"
		}
		return Failed("policy: %s is blocked (%s)", d.Name, reason)
	}
	if e.spec.Irreversible || decision.NeedsConfirmation() {
		return r.stage(ctx, e.spec, d.Args, decision.Reason)
	}

	return r.invoke(ctx, e, d.Args)
}

// Confirm commits a staged directive. The id must match exactly.
func (r *Registry) Confirm(ctx context.Context, id string) (res Result) {
	start := time.Now()
	approval, err := r.approvals.Get(ctx, id)
	if err != nil {
		return Failed("confirm: no staged action with id %s", id)
	}
	defer func() {
		res.Directive = approval.Directive
		r.record(ctx, approval.Directive, res, start)
	}()

	r.mu.RLock()
	e, ok := r.entries[approval.Directive]
	r.mu.RUnlock()
	if !ok {
		return Failed("lookup: unknown directive %q", approval.Directive)
	}
	if r.policy != nil {
		if decision := r.policy.Evaluate(ctx, action(e.spec)); decision.IsDenied() {
			reason := decision.Reason
			if reason == "" {
				reason = "not permitted"
			}
			if _, err := r.approvals.Resolve(ctx, id, governance.ApprovalStatusRejected, "blocked by policy: "+reason); err != nil {
				r.logger.Warn("toolbox.approval.reject.error", "approval_id", id, "error", err)
			}
			return Failed("policy: %s is blocked (%s)", approval.Directive, reason)
		}
	}
	if _, err := r.approvals.Resolve(ctx, id, governance.ApprovalStatusApproved, "confirmed by user"); err != nil {
		return Failed("confirm: action %s can no longer be confirmed (%s)", id, errors.AsOracleError(err).Message)
	}
	r.logger.Info("toolbox.approval.confirmed", "approval_id", id, "directive", approval.Directive)
	return r.invoke(ctx, e, approval.Args)
}

// Reject discards a staged directive.
func (r *Registry) Reject(ctx context.Context, id string) Result {
	approval, err := r.approvals.Resolve(ctx, id, governance.ApprovalStatusRejected, "cancelled by user")
	if err != nil {
		if errors.IsCode(err, errors.CodeNotFound) {
			return Failed("cancel: no staged action with id %s", id)
		}
		return Failed("cancel: action %s can no longer be cancelled (%s)", id, errors.AsOracleError(err).Message)
	}
	r.logger.Info("toolbox.approval.rejected", "approval_id", id, "directive", approval.Directive)
	res := OK("Cancelled %s. Nothing was changed.", approval.Directive)
	res.Directive = approval.Directive
	return res
}

// Pending lists staged directives waiting for the user.
func (r *Registry) Pending(ctx context.Context) ([]*governance.Approval, error) {
	return r.approvals.List(ctx, governance.ApprovalFilter{Status: governance.ApprovalStatusPending})
}

func (r *Registry) stage(ctx context.Context, spec Spec, args []string, reason string) Result {
	if r.approvals == nil {
		return Failed("policy: %s needs confirmation but no approval store is configured", spec.Name)
	}
	approval, err := r.approvals.Create(ctx, governance.Approval{
		Directive: spec.Name,
		Args:      append([]string{}, args...),
		Reason:    reason,
	})
	if err != nil {
		r.logger.Error("toolbox.approval.stage.error", "directive", spec.Name, "error", err)
		return Failed("policy: could not stage %s for confirmation", spec.Name)
	}
	r.logger.Info("toolbox.approval.staged", "approval_id", approval.ID, "directive", spec.Name)
	return Result{
		Status:     StatusPending,
		ApprovalID: approval.ID,
		Message: fmt.Sprintf("%s needs your confirmation. Reply \"confirm %s\" to go ahead or \"cancel %s\" to drop it.",
			directive.Format(directive.Directive{Name: spec.Name, Args: args}), approval.ID, approval.ID),
	}
}

func (r *Registry) invoke(ctx context.Context, e entry, args []string) (res Result) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("toolbox.handler.panic", "directive", e.spec.Name, "panic", p, "stack", string(debug.Stack()))
			res = Failed("handler: %s crashed: %v", e.spec.Name, p)
		}
	}()
	res = e.handler(ctx, append([]string{}, args...))
	return wrap(res)
}

// wrap makes a handler result well formed.
func wrap(res Result) Result {
	switch {
	case res.Status == StatusPending:
		res.OK = false
	case res.OK:
		res.Status = StatusOK
	default:
		res.Status = StatusFailed
	}
	if strings.TrimSpace(res.Message) == "" {
		if res.OK {
			res.Message = "done"
		} else {
			res.Message = "failed without details"
		}
	}
	return res
}

func (r *Registry) record(ctx context.Context, name string, res Result, start time.Time) {
	attrs := metric.WithAttributes(
		attribute.String("directive", name),
		attribute.String("status", string(res.Status)),
	)
	if dispatchCounter != nil {
		dispatchCounter.Add(ctx, 1, attrs)
	}
	if dispatchLatencyMs != nil {
		dispatchLatencyMs.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
	}
	level := slog.LevelInfo
	if res.Status == StatusFailed {
		level = slog.LevelWarn
	}
	r.logger.Log(ctx, level, "toolbox.dispatch", "directive", name, "status", res.Status, "message", res.Message)
}

func action(spec Spec) governance.Action {
	return governance.Action{Type: spec.Kind, Name: spec.Name, Irreversible: spec.Irreversible}
}

func arityOK(spec Spec, n int) bool {
	if n < spec.MinArgs {
		return false
	}
	return spec.MaxArgs < 0 || n <= spec.MaxArgs
}

func arityText(spec Spec) string {
	switch {
	case spec.MaxArgs < 0:
		return fmt.Sprintf("at least %d argument(s)", spec.MinArgs)
	case spec.MinArgs == spec.MaxArgs:
		return fmt.Sprintf("%d argument(s)", spec.MinArgs)
	default:
		return fmt.Sprintf("%d to %d arguments", spec.MinArgs, spec.MaxArgs)
	}
}

var (
	toolboxMetricsOnce sync.Once
	dispatchCounter    metric.Int64Counter
	dispatchLatencyMs  metric.Float64Histogram
)

func initToolboxMetrics() {
	toolboxMetricsOnce.Do(func() {
		meter := otel.Meter("oracle/toolbox")
		dispatchCounter, _ = meter.Int64Counter("oracle.toolbox.dispatch.count")
		dispatchLatencyMs, _ = meter.Float64Histogram("oracle.toolbox.dispatch.latency_ms")
	})
}

var _ directive.Catalog = (*Registry)(nil)
