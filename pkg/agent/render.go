// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"fmt"
	"strings"

	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/toolbox"
)

// Fixed replies that never come from the model.
const (
	ReconnectMessage = "I can't reach my language model right now. Please make sure the inference backend is running (for Ollama: run `ollama serve`, or restart the Ollama app) and try again."
	ApologyMessage   = "Sorry, something went wrong on my side and I couldn't finish that. Please try again, perhaps with different wording."
	EmptyMessage     = "Please tell me what you would like me to do."
)

// RenderResult is the deterministic rendering of a directive outcome, used
// when narration is unavailable.
func RenderResult(res toolbox.Result) string {
	msg := strings.TrimSpace(res.Message)
	switch res.Status {
	case toolbox.StatusOK:
		if msg == "" {
			return fmt.Sprintf("Done: %s finished.", res.Directive)
		}
		return "Done. " + msg
	case toolbox.StatusPending:
		return msg
	default:
		if msg == "" {
			msg = "no details were reported"
		}
		if res.Directive == "" {
			return "That didn't work: " + msg
		}
		return fmt.Sprintf("%s didn't work: %s", res.Directive, msg)
	}
}

// Render converts an error that reached the agent boundary into text for the
// user, without consulting the model.
func Render(err error) string {
	if err == nil {
		return ""
	}
	switch errors.CodeOf(err) {
	case errors.CodeUnreachable:
		return ReconnectMessage
	case errors.CodeInvalidInput:
		if oe := errors.AsOracleError(err); oe != nil && oe.Message != "" {
			return "I can't do that: " + oe.Message + "."
		}
	}
	return ApologyMessage
}

// mergeNarration keeps the tool's own report in the reply when the model left
// it out, so paths and failure reasons reach the user verbatim.
func mergeNarration(narration string, res toolbox.Result) string {
	narration = strings.TrimSpace(narration)
	msg := strings.TrimSpace(res.Message)
	if narration == "" {
		return RenderResult(res)
	}
	if msg == "" || strings.Contains(narration, msg) {
		return narration
	}
	return narration + "\n\n(" + msg + ")"
}
