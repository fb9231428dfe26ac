// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package llm

import (
	"context"
	"sync"
)

// MockGateway is a testing implementation of Gateway.
type MockGateway struct {
	Reply     string
	Err       error
	InferFunc func(ctx context.Context, prompt string) (string, error)

	mu      sync.Mutex
	prompts []string
}

// Infer implements Gateway.
func (m *MockGateway) Infer(ctx context.Context, prompt string) (string, error) {
	m.mu.Lock()
	m.prompts = append(m.prompts, prompt)
	m.mu.Unlock()

	if m.InferFunc != nil {
		return m.InferFunc(ctx, prompt)
	}
	if m.Err != nil {
		return "", m.Err
	}
	return m.Reply, nil
}

// Prompts returns every prompt received so far.
func (m *MockGateway) Prompts() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.prompts...)
}

var _ Gateway = (*MockGateway)(nil)
