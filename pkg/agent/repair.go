// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"strings"

	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/resilience"
)

// repairPreamble introduces a model-written remediation suggestion.
const repairPreamble = "I ran into a problem and couldn't finish that. "

// fail converts an error that reached the request boundary into reply text.
// UNREACHABLE gets the reconnect guidance with no further model calls; a
// cancelled request gets the fixed rendering; anything else goes through
// self-repair.
func (a *Agent) fail(ctx context.Context, req *request, cause error) string {
	req.transition(StateFailed)
	a.errMetrics.RecordError(ctx, cause, "agent")
	req.logger.Error("agent.request.error", "code", string(errors.CodeOf(cause)), "error", cause)
	req.span.RecordError(cause)

	if errors.IsCode(cause, errors.CodeUnreachable) {
		req.outcome = outcomeUnreachable
		return ReconnectMessage
	}
	if ctx.Err() != nil {
		req.outcome = outcomeApology
		return Render(cause)
	}
	return a.repair(ctx, req, cause)
}

// repair asks the model, out of band, for a remediation suggestion and falls
// back to ApologyMessage.
func (a *Agent) repair(ctx context.Context, req *request, cause error) string {
	ctx, cancel := context.WithTimeout(ctx, a.repairTimeout)
	defer cancel()

	reply, _ := resilience.WithFallback(ctx,
		func(ctx context.Context) (string, error) {
			out, err := a.safeInfer(ctx, repairPrompt(req.input, cause))
			if err != nil {
				return "", err
			}
			out = strings.TrimSpace(out)
			if out == "" {
				return "", errors.New(errors.CodeBadResponse, "empty remediation", nil)
			}
			return repairPreamble + out, nil
		},
		resilience.Chain[string](
			resilience.FallbackFunc[string](func(ctx context.Context, err error) (string, error) {
				req.logger.Warn("agent.repair.failed", "error", err)
				return "", err
			}),
			resilience.StaticFallback[string]{Value: Render(cause)},
		),
	)
	if strings.HasPrefix(reply, repairPreamble) {
		req.outcome = outcomeRepaired
		a.errMetrics.RecordRecovery(ctx, errors.CodeOf(cause))
	} else {
		req.outcome = outcomeApology
	}
	return reply
}
