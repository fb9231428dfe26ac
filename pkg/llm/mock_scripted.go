// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"sync"

	"github.com/jllopis/oracle/pkg/errors"
)

// Step is one scripted gateway outcome.
type Step struct {
	Text string
	Err  error
}

// ScriptedGateway returns a pre-defined sequence of outcomes.
// Useful for testing the inference, narration and self-repair calls of one request.
type ScriptedGateway struct {
	mu      sync.Mutex
	steps   []Step
	prompts []string
}

// NewScriptedGateway creates a ScriptedGateway that replies with each text in order.
func NewScriptedGateway(replies ...string) *ScriptedGateway {
	s := &ScriptedGateway{}
	for _, r := range replies {
		s.steps = append(s.steps, Step{Text: r})
	}
	return s
}

// Infer pops the next scripted step.
func (s *ScriptedGateway) Infer(ctx context.Context, prompt string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.prompts = append(s.prompts, prompt)
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if len(s.steps) == 0 {
		return "", errors.New(errors.CodeBadResponse, "scripted gateway: no more responses available", nil).
			WithRecoverable(false)
	}
	step := s.steps[0]
	s.steps = s.steps[1:]
	return step.Text, step.Err
}

// AddReply appends a successful reply to the queue.
func (s *ScriptedGateway) AddReply(text string) *ScriptedGateway {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, Step{Text: text})
	return s
}

// AddError appends a failing step to the queue.
func (s *ScriptedGateway) AddError(err error) *ScriptedGateway {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.steps = append(s.steps, Step{Err: err})
	return s
}

// Calls returns how many times Infer has been called.
func (s *ScriptedGateway) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.prompts)
}

// Prompts returns every prompt received so far.
func (s *ScriptedGateway) Prompts() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.prompts...)
}

// Remaining returns how many scripted steps are left.
func (s *ScriptedGateway) Remaining() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.steps)
}

var _ Gateway = (*ScriptedGateway)(nil)
