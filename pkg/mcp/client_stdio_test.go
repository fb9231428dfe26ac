// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"os"
	"slices"
	"testing"
	"time"

	"github.com/jllopis/oracle/pkg/directive"
	"github.com/jllopis/oracle/pkg/resilience"
	"github.com/jllopis/oracle/pkg/toolbox"
)

const mcpStdioHelperEnv = "ORACLE_MCP_STDIO_HELPER"

func TestHelperBridgeStdio(t *testing.T) {
	if os.Getenv(mcpStdioHelperEnv) != "1" {
		return
	}
	b := NewBridge("oracle-test", "1.0.0", newBridgeRegistry(&wiped{}))
	if err := b.ServeStdio(context.Background()); err != nil {
		os.Exit(1)
	}
	os.Exit(0)
}

func TestClientStdioAgainstBridge(t *testing.T) {
	t.Setenv(mcpStdioHelperEnv, "1")
	exe, err := os.Executable()
	if err != nil {
		t.Fatalf("os.Executable: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	client, err := NewClientWithStdio(ctx, exe, nil, []string{"-test.run", "^TestHelperBridgeStdio$"}, WithRetry(resilience.RetryConfig{MaxAttempts: 1}))
	if err != nil {
		t.Fatalf("NewClientWithStdio: %v", err)
	}
	defer client.Close()

	tools, err := client.ListTools(ctx)
	if err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	var names []string
	for _, tool := range tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{"echo", "wipe"} {
		if !slices.Contains(names, want) {
			t.Fatalf("missing tool %q in %v", want, names)
		}
	}
	if slices.Contains(names, "confirm") || slices.Contains(names, "cancel") {
		t.Fatalf("approvals must not be resolvable over MCP, got %v", names)
	}

	res, err := client.CallTool(ctx, "wipe", map[string]any{"args": []any{"disk"}})
	if err != nil {
		t.Fatalf("CallTool: %v", err)
	}
	id := approvalID(t, textContent(res.Content))
	res, err = client.CallTool(ctx, "confirm", map[string]any{"id": id})
	if err == nil && !res.IsError {
		t.Fatalf("confirm over stdio should not exist, got %+v", res)
	}

	local := toolbox.New()
	imported, err := Import(ctx, client, local, ImportOptions{Prefix: "remote"})
	if err != nil {
		t.Fatalf("Import: %v", err)
	}
	if !slices.Contains(imported, "remote_echo") {
		t.Fatalf("expected remote_echo, got %v", imported)
	}
	got := local.Dispatch(ctx, directive.Directive{Name: "remote_echo", Args: []string{`["over","stdio"]`}})
	if !got.OK || got.Message != "over stdio" {
		t.Fatalf("remote dispatch: %+v", got)
	}
}
