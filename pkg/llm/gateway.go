// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package llm provides the inference gateway used by the agent to talk to a
// local language model.
package llm

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

// Gateway turns a compiled prompt into model text.
//
// Implementations return errors carrying errors.CodeUnreachable when the
// backend cannot be contacted and errors.CodeBadResponse when its answer could
// not be used.
type Gateway interface {
	Infer(ctx context.Context, prompt string) (string, error)
}

// GatewayFunc adapts a function to the Gateway interface.
type GatewayFunc func(ctx context.Context, prompt string) (string, error)

// Infer implements Gateway.
func (f GatewayFunc) Infer(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

var (
	gatewayMetricsOnce sync.Once
	attemptCounter     metric.Int64Counter
	attemptLatencyMs   metric.Float64Histogram
)

func initGatewayMetrics() {
	gatewayMetricsOnce.Do(func() {
		meter := otel.Meter("oracle/llm")
		attemptCounter, _ = meter.Int64Counter("oracle.llm.attempt.count")
		attemptLatencyMs, _ = meter.Float64Histogram("oracle.llm.attempt.latency_ms")
	})
}
