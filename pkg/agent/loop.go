// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jllopis/oracle/pkg/directive"
	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/governance"
	"github.com/jllopis/oracle/pkg/memory"
	"github.com/jllopis/oracle/pkg/resilience"
	"github.com/jllopis/oracle/pkg/telemetry"
	"github.com/jllopis/oracle/pkg/toolbox"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// State is a step of the request cycle.
type State string

const (
	StateIdle             State = "idle"
	StateGatherContext    State = "gather_context"
	StateInfer            State = "infer"
	StateExtractCommand   State = "extract_command"
	StateDispatch         State = "dispatch"
	StateNarrate          State = "narrate"
	StatePersistAndReturn State = "persist_and_return"
	StateCompleted        State = "completed"
	StateFailed           State = "failed"
)

// Request outcomes recorded on metrics and spans.
const (
	outcomeCompleted   = "completed"
	outcomePending     = "pending"
	outcomePaused      = "paused"
	outcomeBusy        = "busy"
	outcomeUnreachable = "unreachable"
	outcomeRepaired    = "repaired"
	outcomeApology     = "apology"
)

type request struct {
	id      string
	input   string
	state   State
	outcome string
	logger  *slog.Logger
	span    trace.Span
}

func (r *request) transition(to State) {
	r.logger.Debug("agent.state", "from", string(r.state), "to", string(to))
	r.span.AddEvent(string(to))
	r.state = to
}

func (a *Agent) handle(ctx context.Context, input string) (reply string) {
	req := &request{
		id:      uuid.NewString(),
		input:   strings.TrimSpace(input),
		state:   StateIdle,
		outcome: outcomeCompleted,
	}
	ctx, span := a.tracer.Start(ctx, "agent.request",
		trace.WithAttributes(telemetry.RequestAttributes(a.name, req.id, len(req.input))...))
	req.span = span
	req.logger = a.logger.With("request_id", req.id, "agent", a.name)
	start := time.Now()
	req.logger.Info("agent.request.start", "input_length", len(req.input))

	defer func() {
		if r := recover(); r != nil {
			req.logger.Error("agent.request.panic", "panic", fmt.Sprint(r))
			reply = a.fail(ctx, req, errors.New(errors.CodeInternal, fmt.Sprintf("panic: %v", r), nil))
		}
		span.SetAttributes(attribute.String(telemetry.AttrOutcome, req.outcome))
		if req.state == StateFailed {
			span.SetStatus(codes.Error, req.outcome)
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		attrs := metric.WithAttributes(attribute.String("outcome", req.outcome))
		requestCounter.Add(ctx, 1, attrs)
		requestLatencyMs.Record(ctx, float64(time.Since(start).Milliseconds()), attrs)
		req.logger.Info("agent.request.done", "outcome", req.outcome, "state", string(req.state),
			"duration_ms", time.Since(start).Milliseconds())
	}()

	if req.input == "" {
		req.transition(StateCompleted)
		return EmptyMessage
	}
	if a.override != nil && a.override.Active() {
		req.outcome = outcomePaused
		req.transition(StateCompleted)
		return governance.PausedMessage
	}
	if a.resources != nil {
		if msg, busy := a.resources.Throttled(ctx); busy {
			req.outcome = outcomeBusy
			req.transition(StateCompleted)
			return msg
		}
	}
	if verdict, id, ok := toolbox.ParseConfirmation(req.input); ok {
		return a.resolve(ctx, req, verdict, id)
	}
	return a.cycle(ctx, req)
}

func (a *Agent) cycle(ctx context.Context, req *request) string {
	req.transition(StateGatherContext)
	bundle := a.gather(ctx, req)

	req.transition(StateInfer)
	prompt := Compile(PromptInput{
		SystemPrompt: a.systemPrompt,
		Instructions: a.instructions,
		Tools:        a.tools.Describe(ctx),
		Context:      bundle,
		UserInput:    req.input,
	})
	output, err := a.gateway.Infer(ctx, prompt)
	if err != nil {
		return a.fail(ctx, req, WrapGatewayError(err, a.model))
	}

	req.transition(StateExtractCommand)
	extracted := a.extractor.ExtractWithInput(output, req.input)
	if !extracted.Found() {
		text := strings.TrimSpace(output)
		if text == "" {
			return a.fail(ctx, req, errors.New(errors.CodeBadResponse, "model returned an empty reply", nil))
		}
		return a.persist(ctx, req, text)
	}

	d := *extracted.Directive
	req.logger.Info("agent.directive", "directive", d.Name, "args", len(d.Args),
		"strict", extracted.Strict, "repaired", len(extracted.Repaired))
	req.transition(StateDispatch)
	res := a.tools.Dispatch(ctx, d)
	req.span.SetAttributes(telemetry.DirectiveAttributes(d.Name, len(d.Args), extracted.Strict,
		string(res.Status), res.Message, res.ApprovalID, 0)...)
	if res.Status == toolbox.StatusPending {
		req.outcome = outcomePending
		return a.persist(ctx, req, res.Message)
	}
	if res.Status == toolbox.StatusFailed {
		a.errMetrics.RecordError(ctx, WrapToolError(errors.New(errors.CodeToolFailure, res.Message, nil), d.Name, ""), "toolbox")
	}
	return a.persist(ctx, req, a.narrate(ctx, req, d, res))
}

// resolve commits or drops a staged directive named by a confirm/cancel reply.
func (a *Agent) resolve(ctx context.Context, req *request, verdict toolbox.Verdict, id string) string {
	req.transition(StateDispatch)
	var res toolbox.Result
	if verdict == toolbox.VerdictConfirm {
		res = a.tools.Confirm(ctx, id)
	} else {
		res = a.tools.Reject(ctx, id)
	}
	req.logger.Info("agent.approval", "verdict", string(verdict), "approval_id", id, "status", string(res.Status))
	req.span.SetAttributes(telemetry.DirectiveAttributes(res.Directive, 0, true,
		string(res.Status), res.Message, id, 0)...)
	if res.Status == toolbox.StatusFailed {
		a.errMetrics.RecordError(ctx, WrapToolError(errors.New(errors.CodeToolFailure, res.Message, nil), res.Directive, id), "toolbox")
	}
	if res.Directive == "" {
		return a.persist(ctx, req, RenderResult(res))
	}
	return a.persist(ctx, req, a.narrate(ctx, req, directive.Directive{Name: res.Directive}, res))
}

func (a *Agent) gather(ctx context.Context, req *request) ContextBundle {
	var bundle ContextBundle
	if a.memory != nil && a.memoryTopK > 0 {
		memories, err := a.memory.Retrieve(ctx, req.input, a.memoryTopK)
		if err != nil {
			werr := WrapMemoryError(err, "retrieve")
			a.errMetrics.RecordError(ctx, werr, "memory")
			req.logger.Warn("agent.memory.retrieve.error", "error", werr)
		}
		bundle.Memories = memories
	}
	if a.snapshots != nil {
		if capture, ok := a.snapshots.Take(); ok {
			text := capture.ExtractedText
			bundle.Snapshot = &text
		}
	}
	if a.persona != nil {
		bundle.Persona = a.persona.Directives()
	}
	req.span.SetAttributes(telemetry.ContextAttributes(len(bundle.Memories), bundle.Snapshot != nil)...)
	return bundle
}

// narrate asks the model to describe res. The narration is never passed to
// the extractor. If the call fails the deterministic rendering is used.
func (a *Agent) narrate(ctx context.Context, req *request, d directive.Directive, res toolbox.Result) string {
	req.transition(StateNarrate)
	prompt := narrationPrompt(a.systemPrompt, a.personaText(), req.input, d, res)
	text, _ := resilience.WithFallback(ctx,
		func(ctx context.Context) (string, error) {
			out, err := a.safeInfer(ctx, prompt)
			if err != nil {
				return "", err
			}
			if strings.TrimSpace(out) == "" {
				return "", errors.New(errors.CodeBadResponse, "empty narration", nil)
			}
			return mergeNarration(out, res), nil
		},
		resilience.FallbackFunc[string](func(ctx context.Context, err error) (string, error) {
			req.logger.Warn("agent.narrate.fallback", "error", err)
			return RenderResult(res), nil
		}),
	)
	return text
}

func (a *Agent) persist(ctx context.Context, req *request, reply string) string {
	req.transition(StatePersistAndReturn)
	if a.memory != nil {
		err := a.memory.Store(ctx, memory.Interaction{
			Timestamp:     a.now(),
			UserInput:     req.input,
			AgentResponse: reply,
		})
		if err != nil {
			werr := WrapMemoryError(err, "store")
			a.errMetrics.RecordError(ctx, werr, "memory")
			req.logger.Warn("agent.memory.store.warning", "error", werr)
		}
		req.span.SetAttributes(attribute.Bool(telemetry.AttrMemoryStored, err == nil))
	}
	req.transition(StateCompleted)
	return reply
}

func (a *Agent) personaText() string {
	if a.persona == nil {
		return ""
	}
	return a.persona.Directives()
}

// safeInfer calls the gateway and converts a panic into an error.
func (a *Agent) safeInfer(ctx context.Context, prompt string) (text string, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.New(errors.CodeInternal, fmt.Sprintf("gateway panic: %v", r), nil)
		}
	}()
	return a.gateway.Infer(ctx, prompt)
}
