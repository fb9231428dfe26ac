// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/jllopis/oracle/pkg/errors"
)

// TimeoutConfig bounds a single operation.
type TimeoutConfig struct {
	// Duration is the maximum time allowed for the operation. Zero disables it.
	Duration time.Duration
}

// WithTimeout executes fn under a derived context bounded by config.Duration.
// fn must honor the context it receives; a deadline hit is reported as
// errors.CodeTimeout.
func WithTimeout(ctx context.Context, config TimeoutConfig, fn func(ctx context.Context) error) error {
	if config.Duration <= 0 {
		return fn(ctx)
	}

	ctx, cancel := context.WithTimeout(ctx, config.Duration)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		done <- fn(ctx)
	}()

	select {
	case <-ctx.Done():
		if stderrors.Is(ctx.Err(), context.DeadlineExceeded) {
			return errors.New(errors.CodeTimeout, "operation exceeded timeout", ctx.Err()).
				WithContext("timeout", config.Duration.String())
		}
		return errors.New(errors.CodeContextLost, "operation cancelled", ctx.Err())
	case err := <-done:
		return err
	}
}

// WithTimeoutValue is WithTimeout for operations that produce a value.
func WithTimeoutValue[T any](ctx context.Context, config TimeoutConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := WithTimeout(ctx, config, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
