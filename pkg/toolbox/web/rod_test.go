// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package web

import (
	"context"
	"fmt"
	"net"
	"strings"
	"sync/atomic"
	"testing"
)

// deadControlURL returns a DevTools URL nothing listens on.
func deadControlURL(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()
	return "ws://" + addr + "/devtools/browser/gone"
}

func TestRodKillsChromiumWhenStartupFails(t *testing.T) {
	cases := []struct {
		name    string
		launch  func(t *testing.T) (string, error)
		wantErr string
	}{
		{"launch", func(*testing.T) (string, error) { return "", fmt.Errorf("no chromium binary") }, "launch chromium"},
		{"connect", func(t *testing.T) (string, error) { return deadControlURL(t), nil }, "connect to chromium"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var killed atomic.Int32
			b := NewRodBrowser(RodConfig{Headless: true})
			b.launch = func(RodConfig) (string, func(), error) {
				u, err := tc.launch(t)
				return u, func() { killed.Add(1) }, err
			}

			err := b.Navigate(context.Background(), "https://example.com")
			if err == nil || !strings.Contains(err.Error(), tc.wantErr) {
				t.Fatalf("expected %q error, got %v", tc.wantErr, err)
			}
			if killed.Load() != 1 {
				t.Fatalf("chromium killed %d times, want 1", killed.Load())
			}
			if err := b.Close(); err != nil {
				t.Fatalf("close after failed start: %v", err)
			}
		})
	}
}
