// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/jllopis/oracle/pkg/errors"
)

// Breaker states as recorded by oracle.circuitbreaker.state.
const (
	breakerOpen int64 = iota
	breakerHalfOpen
	breakerClosed
)

// ErrorMetrics counts failures by code and component, answers salvaged from
// a failure, and the gateway circuit breaker state. A nil *ErrorMetrics is
// a no-op.
type ErrorMetrics struct {
	failures  metric.Int64Counter
	recovered metric.Int64Counter
	breaker   metric.Int64Gauge
}

// NewErrorMetrics creates the instruments on the global meter provider.
func NewErrorMetrics(_ context.Context) (*ErrorMetrics, error) {
	meter := otel.Meter("oracle/errors")
	em := &ErrorMetrics{}
	var err error
	if em.failures, err = meter.Int64Counter("oracle.errors.total",
		metric.WithDescription("Failures by error code and component")); err != nil {
		return nil, err
	}
	if em.recovered, err = meter.Int64Counter("oracle.errors.recovered",
		metric.WithDescription("Failures turned into a usable reply, by error code")); err != nil {
		return nil, err
	}
	if em.breaker, err = meter.Int64Gauge("oracle.circuitbreaker.state",
		metric.WithDescription("Breaker state per component: 0 open, 1 half-open, 2 closed")); err != nil {
		return nil, err
	}
	return em, nil
}

// RecordError counts err against component. Errors without a code are
// counted as UNKNOWN.
func (em *ErrorMetrics) RecordError(ctx context.Context, err error, component string) {
	if em == nil || err == nil {
		return
	}
	code, recoverable := "UNKNOWN", "unknown"
	if errors.CodeOf(err) != "" {
		oe := errors.AsOracleError(err)
		code, recoverable = string(oe.Code), oe.RecoverableString()
	}
	em.failures.Add(ctx, 1, metric.WithAttributes(
		attribute.String("error.code", code),
		attribute.String("component", component),
		attribute.String("recoverable", recoverable),
	))
}

// RecordRecovery counts a failure the agent answered around.
func (em *ErrorMetrics) RecordRecovery(ctx context.Context, code errors.ErrorCode) {
	if em == nil {
		return
	}
	em.recovered.Add(ctx, 1, metric.WithAttributes(attribute.String("error.code", string(code))))
}

// RecordCircuitBreakerState records "open", "half-open" or "closed". Any
// other name records as open.
func (em *ErrorMetrics) RecordCircuitBreakerState(ctx context.Context, component, state string) {
	if em == nil {
		return
	}
	v := breakerOpen
	switch state {
	case "closed":
		v = breakerClosed
	case "half-open":
		v = breakerHalfOpen
	}
	em.breaker.Record(ctx, v, metric.WithAttributes(attribute.String("component", component)))
}
