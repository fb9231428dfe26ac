// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package resilience provides retry, timeout, circuit breaker and fallback
// patterns used around the inference gateway and the orchestrator boundary.
package resilience

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/jllopis/oracle/pkg/errors"
)

// RetryConfig controls retry behavior with exponential backoff.
// Attempts always run sequentially.
type RetryConfig struct {
	// MaxAttempts is the maximum number of attempts (must be >= 1).
	MaxAttempts int

	// InitialDelay is the initial backoff delay.
	InitialDelay time.Duration

	// MaxDelay caps the exponential backoff delay.
	MaxDelay time.Duration

	// Multiplier for exponential backoff (default 2.0). 1.0 gives fixed delays.
	Multiplier float64

	// IsRecoverable determines if an error should be retried.
	// If nil, the OracleError recoverable flag decides.
	IsRecoverable func(error) bool

	// Jitter adds randomness to backoff; 0.1 means ±10%.
	Jitter float64

	// OnRetry, when set, is called before sleeping ahead of attempt n (1-based
	// index of the next attempt) with the error that caused the retry.
	OnRetry func(attempt int, err error, delay time.Duration)
}

// DefaultRetryConfig returns the retry configuration used by the gateway.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		Multiplier:    2.0,
		Jitter:        0.1,
		IsRecoverable: isRecoverableDefault,
	}
}

// WithMaxAttempts returns a new config with MaxAttempts set.
func (rc RetryConfig) WithMaxAttempts(max int) RetryConfig {
	rc.MaxAttempts = max
	return rc
}

// WithInitialDelay returns a new config with InitialDelay set.
func (rc RetryConfig) WithInitialDelay(d time.Duration) RetryConfig {
	rc.InitialDelay = d
	return rc
}

// WithMaxDelay returns a new config with MaxDelay set.
func (rc RetryConfig) WithMaxDelay(d time.Duration) RetryConfig {
	rc.MaxDelay = d
	return rc
}

// WithIsRecoverable returns a new config with IsRecoverable set.
func (rc RetryConfig) WithIsRecoverable(fn func(error) bool) RetryConfig {
	rc.IsRecoverable = fn
	return rc
}

// WithOnRetry returns a new config with OnRetry set.
func (rc RetryConfig) WithOnRetry(fn func(attempt int, err error, delay time.Duration)) RetryConfig {
	rc.OnRetry = fn
	return rc
}

// Do executes fn with retry logic, returning the last error if all attempts fail.
func (rc RetryConfig) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if rc.MaxAttempts < 1 {
		rc.MaxAttempts = 1
	}
	if rc.IsRecoverable == nil {
		rc.IsRecoverable = isRecoverableDefault
	}

	var lastErr error
	for attempt := 0; attempt < rc.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := calculateBackoff(attempt, rc)
			if rc.OnRetry != nil {
				rc.OnRetry(attempt+1, lastErr, delay)
			}
			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.New(errors.CodeContextLost, "context canceled during retry", ctx.Err()).
					WithContext("attempt", attempt).
					WithContext("max_attempts", rc.MaxAttempts).
					WithContext("last_error", errString(lastErr))
			case <-timer.C:
			}
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}
		lastErr = err

		if !rc.IsRecoverable(err) {
			return err
		}
	}

	return lastErr
}

// DoValue executes fn with the retry policy of rc and returns its value.
func DoValue[T any](ctx context.Context, rc RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := rc.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	return result, err
}

// calculateBackoff computes exponential backoff delay with jitter.
func calculateBackoff(attempt int, rc RetryConfig) time.Duration {
	if rc.Multiplier == 0 {
		rc.Multiplier = 2.0
	}

	delay := time.Duration(float64(rc.InitialDelay) * math.Pow(rc.Multiplier, float64(attempt-1)))
	if rc.MaxDelay > 0 && delay > rc.MaxDelay {
		delay = rc.MaxDelay
	}

	if rc.Jitter > 0 {
		spread := float64(delay) * rc.Jitter
		delay = time.Duration(float64(delay) + spread*2*(rand.Float64()-0.5))
		if delay < 0 {
			delay = 0
		}
	}

	return delay
}

// isRecoverableDefault trusts the recoverable flag of typed errors and treats
// untyped errors as transient.
func isRecoverableDefault(err error) bool {
	if err == nil {
		return false
	}
	if errors.CodeOf(err) != "" {
		return errors.AsOracleError(err).Recoverable
	}
	return true
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
