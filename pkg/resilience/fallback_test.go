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

func TestWithTimeout(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		work     time.Duration
		wantCode oerrors.ErrorCode
	}{
		{"completes", 200 * time.Millisecond, 0, ""},
		{"exceeds", 20 * time.Millisecond, time.Second, oerrors.CodeTimeout},
		{"disabled", 0, 10 * time.Millisecond, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := WithTimeout(context.Background(), TimeoutConfig{Duration: tt.duration}, func(ctx context.Context) error {
				select {
				case <-time.After(tt.work):
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
			if tt.wantCode == "" && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantCode != "" && !oerrors.IsCode(err, tt.wantCode) {
				t.Fatalf("expected %s, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestWithTimeoutValue(t *testing.T) {
	v, err := WithTimeoutValue(context.Background(), TimeoutConfig{Duration: time.Second}, func(ctx context.Context) (int, error) {
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("expected 42, got %d (%v)", v, err)
	}
}

func TestWithTimeoutValueTimeout(t *testing.T) {
	v, err := WithTimeoutValue(context.Background(), TimeoutConfig{Duration: 10 * time.Millisecond}, func(ctx context.Context) (string, error) {
		<-ctx.Done()
		return "late", ctx.Err()
	})
	if v != "" {
		t.Errorf("expected zero value, got %q", v)
	}
	if !oerrors.IsCode(err, oerrors.CodeTimeout) {
		t.Errorf("expected TIMEOUT, got %v", err)
	}
}

func TestStaticFallback(t *testing.T) {
	fb := StaticFallback[string]{Value: "sorry"}
	v, err := fb.Execute(context.Background(), errors.New("boom"))
	if err != nil || v != "sorry" {
		t.Fatalf("expected static value, got %q (%v)", v, err)
	}
}

func TestChainedFallback(t *testing.T) {
	var received error
	first := FallbackFunc[string](func(ctx context.Context, err error) (string, error) {
		return "", errors.New("repair failed")
	})
	second := FallbackFunc[string](func(ctx context.Context, err error) (string, error) {
		received = err
		return "apology", nil
	})

	v, err := Chain[string](first, second).Execute(context.Background(), errors.New("primary"))
	if err != nil || v != "apology" {
		t.Fatalf("expected apology, got %q (%v)", v, err)
	}
	if received == nil || received.Error() != "repair failed" {
		t.Fatalf("expected second fallback to see the first failure, got %v", received)
	}
}

func TestChainedFallbackAllFail(t *testing.T) {
	fail := FallbackFunc[int](func(ctx context.Context, err error) (int, error) {
		return 0, errors.New("nope")
	})
	_, err := Chain[int](fail, fail).Execute(context.Background(), errors.New("primary"))
	if err == nil || err.Error() != "nope" {
		t.Fatalf("expected last fallback error, got %v", err)
	}
}

func TestWithFallback(t *testing.T) {
	v, err := WithFallback(context.Background(), func(ctx context.Context) (string, error) {
		return "", errors.New("primary failed")
	}, FallbackStrategy[string](StaticFallback[string]{Value: "fallback"}))
	if err != nil || v != "fallback" {
		t.Fatalf("expected fallback, got %q (%v)", v, err)
	}
}

func TestWithFallbackSuccess(t *testing.T) {
	called := false
	fb := FallbackFunc[string](func(ctx context.Context, err error) (string, error) {
		called = true
		return "fallback", nil
	})
	v, err := WithFallback(context.Background(), func(ctx context.Context) (string, error) {
		return "primary", nil
	}, FallbackStrategy[string](fb))
	if err != nil || v != "primary" {
		t.Fatalf("expected primary, got %q (%v)", v, err)
	}
	if called {
		t.Error("fallback must not run on success")
	}
}
