// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
)

// FallbackStrategy produces a replacement value when a primary operation fails.
type FallbackStrategy[T any] interface {
	// Execute runs the fallback operation.
	Execute(ctx context.Context, primaryErr error) (T, error)
}

// FallbackFunc wraps a function as a FallbackStrategy.
type FallbackFunc[T any] func(ctx context.Context, primaryErr error) (T, error)

// Execute implements FallbackStrategy.
func (f FallbackFunc[T]) Execute(ctx context.Context, err error) (T, error) {
	return f(ctx, err)
}

// StaticFallback returns a static value on failure.
type StaticFallback[T any] struct {
	Value T
}

// Execute implements FallbackStrategy.
func (s StaticFallback[T]) Execute(ctx context.Context, primaryErr error) (T, error) {
	return s.Value, nil
}

// ChainedFallback tries multiple fallbacks in sequence. Each fallback receives
// the error of the one before it.
type ChainedFallback[T any] struct {
	Fallbacks []FallbackStrategy[T]
}

// Execute implements FallbackStrategy.
func (c ChainedFallback[T]) Execute(ctx context.Context, primaryErr error) (T, error) {
	lastErr := primaryErr
	for _, fallback := range c.Fallbacks {
		value, err := fallback.Execute(ctx, lastErr)
		if err == nil {
			return value, nil
		}
		lastErr = err
	}
	var zero T
	return zero, lastErr
}

// Chain builds a ChainedFallback from the given strategies.
func Chain[T any](fallbacks ...FallbackStrategy[T]) ChainedFallback[T] {
	return ChainedFallback[T]{Fallbacks: fallbacks}
}

// WithFallback executes fn, and on error, uses the fallback strategy.
func WithFallback[T any](ctx context.Context, fn func(ctx context.Context) (T, error), fallback FallbackStrategy[T]) (T, error) {
	value, err := fn(ctx)
	if err == nil {
		return value, nil
	}
	return fallback.Execute(ctx, err)
}
