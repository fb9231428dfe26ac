// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	oerrors "github.com/jllopis/oracle/pkg/errors"
)

func fastRetry() RetryConfig {
	return DefaultRetryConfig().WithInitialDelay(time.Millisecond).WithMaxDelay(5 * time.Millisecond)
}

func TestRetrySuccess(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("transient error")
		}
		return nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryMaxAttemptsExceeded(t *testing.T) {
	attempts := 0
	err := fastRetry().WithMaxAttempts(2).Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("always fails")
	})

	if err == nil {
		t.Errorf("expected error after max attempts")
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestRetryNonRecoverable(t *testing.T) {
	attempts := 0
	config := fastRetry().WithIsRecoverable(func(err error) bool { return false })
	err := config.Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return errors.New("non-recoverable error")
	})

	if err == nil {
		t.Errorf("expected error")
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryUnreachableIsNotRetried(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return oerrors.New(oerrors.CodeUnreachable, "connection refused", nil)
	})
	if !oerrors.IsCode(err, oerrors.CodeUnreachable) {
		t.Fatalf("expected UNREACHABLE, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryBadResponseIsRetried(t *testing.T) {
	attempts := 0
	err := fastRetry().Do(context.Background(), func(ctx context.Context) error {
		attempts++
		return oerrors.New(oerrors.CodeBadResponse, "empty body", nil)
	})
	if !oerrors.IsCode(err, oerrors.CodeBadResponse) {
		t.Fatalf("expected BAD_RESPONSE, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("expected 3 attempts, got %d", attempts)
	}
}

func TestRetryContextCanceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	config := DefaultRetryConfig().WithInitialDelay(100 * time.Millisecond)

	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	attempts := 0
	err := config.Do(ctx, func(ctx context.Context) error {
		attempts++
		return errors.New("transient error")
	})

	if !oerrors.IsCode(err, oerrors.CodeContextLost) {
		t.Errorf("expected CONTEXT_LOST, got %v", err)
	}
	if attempts != 1 {
		t.Errorf("expected 1 attempt, got %d", attempts)
	}
}

func TestRetryOnRetryHook(t *testing.T) {
	var seen []int
	config := fastRetry().WithOnRetry(func(attempt int, err error, delay time.Duration) {
		seen = append(seen, attempt)
	})
	_ = config.Do(context.Background(), func(ctx context.Context) error {
		return errors.New("fail")
	})
	if len(seen) != 2 || seen[0] != 2 || seen[1] != 3 {
		t.Fatalf("unexpected retry attempts %v", seen)
	}
}

func TestDoValue(t *testing.T) {
	attempts := 0
	result, err := DoValue(context.Background(), fastRetry(), func(ctx context.Context) (string, error) {
		attempts++
		if attempts < 2 {
			return "", errors.New("transient")
		}
		return "success", nil
	})

	if err != nil {
		t.Errorf("expected success, got error: %v", err)
	}
	if result != "success" {
		t.Errorf("expected 'success', got %v", result)
	}
	if attempts != 2 {
		t.Errorf("expected 2 attempts, got %d", attempts)
	}
}

func TestCalculateBackoffCapped(t *testing.T) {
	rc := RetryConfig{InitialDelay: time.Second, MaxDelay: 3 * time.Second, Multiplier: 2}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 3 * time.Second},
		{6, 3 * time.Second},
	}
	for _, tt := range tests {
		if got := calculateBackoff(tt.attempt, rc); got != tt.want {
			t.Errorf("attempt %d: got %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestCircuitBreakerClosed(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, Name: "test"})

	if cb.State() != StateClosed {
		t.Errorf("expected initial state Closed")
	}
	if err := cb.Call(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Errorf("expected success, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected state Closed after success")
	}
}

func TestCircuitBreakerOpen(t *testing.T) {
	var transitions []CircuitBreakerState
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 2,
		Name:             "gateway",
		OnStateChange: func(name string, from, to CircuitBreakerState) {
			transitions = append(transitions, to)
		},
	})
	fail := func(ctx context.Context) error { return errors.New("down") }

	_ = cb.Call(context.Background(), fail)
	_ = cb.Call(context.Background(), fail)
	if cb.State() != StateOpen {
		t.Fatalf("expected Open, got %s", cb.State())
	}

	called := false
	err := cb.Call(context.Background(), func(ctx context.Context) error {
		called = true
		return nil
	})
	if called {
		t.Error("expected call to be rejected while open")
	}
	if !oerrors.IsCode(err, oerrors.CodeUnreachable) {
		t.Errorf("expected UNREACHABLE, got %v", err)
	}
	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("unexpected transitions %v", transitions)
	}
}

func TestCircuitBreakerIgnoresNonFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		IsFailure: func(err error) bool {
			return oerrors.IsCode(err, oerrors.CodeUnreachable)
		},
	})
	_ = cb.Call(context.Background(), func(ctx context.Context) error {
		return oerrors.New(oerrors.CodeBadResponse, "garbled", nil)
	})
	if cb.State() != StateClosed {
		t.Fatalf("bad responses must not trip the breaker")
	}
}

func TestCircuitBreakerHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          time.Minute,
	})
	now := time.Now()
	cb.now = func() time.Time { return now }

	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("down") })
	if cb.State() != StateOpen {
		t.Fatalf("expected Open")
	}

	now = now.Add(2 * time.Minute)
	if err := cb.Call(context.Background(), func(ctx context.Context) error { return nil }); err != nil {
		t.Fatalf("expected probe to run, got %v", err)
	}
	if cb.State() != StateClosed {
		t.Errorf("expected Closed after successful probe, got %s", cb.State())
	}
}

func TestCircuitBreakerHalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, Timeout: time.Minute})
	now := time.Now()
	cb.now = func() time.Time { return now }

	cb.Open()
	now = now.Add(2 * time.Minute)
	_ = cb.Call(context.Background(), func(ctx context.Context) error { return errors.New("still down") })
	if cb.State() != StateOpen {
		t.Errorf("expected Open after failed probe, got %s", cb.State())
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1})
	cb.Open()
	cb.Reset()
	if cb.State() != StateClosed {
		t.Errorf("expected Closed after reset")
	}
}
