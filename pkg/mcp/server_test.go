// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"strings"
	"testing"

	"github.com/jllopis/oracle/pkg/governance"
	"github.com/jllopis/oracle/pkg/toolbox"
	"github.com/mark3labs/mcp-go/mcp"
)

type wiped struct {
	targets []string
}

func newBridgeRegistry(w *wiped) *toolbox.Registry {
	r := toolbox.New()
	r.MustRegister(toolbox.Spec{Name: "echo", MinArgs: 1, MaxArgs: -1, Usage: `echo("text")`, Description: "repeat text"},
		func(_ context.Context, args []string) toolbox.Result {
			return toolbox.OK("%s", strings.Join(args, " "))
		})
	r.MustRegister(toolbox.Spec{Name: "wipe", MinArgs: 1, MaxArgs: 1, Usage: `wipe("target")`, Description: "erase a target", Irreversible: true},
		func(_ context.Context, args []string) toolbox.Result {
			w.targets = append(w.targets, args[0])
			return toolbox.OK("wiped %s", args[0])
		})
	return r
}

func callRequest(name string, args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func TestBridgeDispatch(t *testing.T) {
	b := NewBridge("oracle", "test", newBridgeRegistry(&wiped{}))
	ctx := context.Background()

	res, err := b.dispatch("echo")(ctx, callRequest("echo", map[string]any{"args": []any{"hi", float64(2)}}))
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if res.IsError || textContent(res.Content) != "hi 2" {
		t.Fatalf("unexpected result %+v", res)
	}

	res, _ = b.dispatch("echo")(ctx, callRequest("echo", map[string]any{"args": "hi"}))
	if !res.IsError {
		t.Fatalf("expected a non-array args error, got %+v", res)
	}

	res, _ = b.dispatch("echo")(ctx, callRequest("echo", nil))
	if !res.IsError || !strings.Contains(textContent(res.Content), "arity") {
		t.Fatalf("expected an arity failure, got %+v", res)
	}
}

func TestBridgeStagesIrreversible(t *testing.T) {
	w := &wiped{}
	reg := newBridgeRegistry(w)
	b := NewBridge("oracle", "test", reg)
	ctx := context.Background()

	res, _ := b.dispatch("wipe")(ctx, callRequest("wipe", map[string]any{"args": []any{"disk"}}))
	text := textContent(res.Content)
	if res.IsError || !strings.HasPrefix(text, "pending approval ") || !strings.Contains(text, "oracle approve") {
		t.Fatalf("expected a pending approval, got %q", text)
	}
	if len(w.targets) != 0 {
		t.Fatal("irreversible directive ran before confirmation")
	}
	id := approvalID(t, text)

	if got := reg.Confirm(ctx, id); !got.OK || got.Message != "wiped disk" {
		t.Fatalf("user confirmation failed: %+v", got)
	}
	if len(w.targets) != 1 {
		t.Fatalf("expected exactly one run, got %v", w.targets)
	}
}

func TestBridgeCannotCommitStagedDirectives(t *testing.T) {
	w := &wiped{}
	reg := newBridgeRegistry(w)
	reg.MustRegister(toolbox.Spec{Name: "confirm", MinArgs: 1, MaxArgs: 1, Description: "shadow"},
		func(_ context.Context, args []string) toolbox.Result { return toolbox.OK("shadow %s", args[0]) })
	b := NewBridge("oracle", "test", reg)
	ctx := context.Background()

	tools := b.Server().ListTools()
	if _, ok := tools["cancel"]; ok {
		t.Fatal("bridge must not offer cancel")
	}
	if _, ok := tools["wipe"]; !ok {
		t.Fatalf("bridge should serve wipe, got %v", tools)
	}

	res, _ := b.dispatch("wipe")(ctx, callRequest("wipe", map[string]any{"args": []any{"disk"}}))
	id := approvalID(t, textContent(res.Content))

	// A registered directive named confirm is an ordinary tool; it never
	// resolves approvals.
	res, _ = b.dispatch("confirm")(ctx, callRequest("confirm", map[string]any{"args": []any{id}}))
	if res.IsError || textContent(res.Content) != "shadow "+id {
		t.Fatalf("unexpected confirm result %+v", res)
	}
	if len(w.targets) != 0 {
		t.Fatalf("staged directive ran without the user: %v", w.targets)
	}
	pending, err := reg.Pending(ctx)
	if err != nil || len(pending) != 1 || pending[0].ID != id {
		t.Fatalf("approval should still be pending: %v, %v", pending, err)
	}
}

type pauser struct{ on bool }

func (p *pauser) Active() bool { return p.on }

func TestBridgeRefusesWhilePaused(t *testing.T) {
	w := &wiped{}
	sw := &pauser{on: true}
	b := NewBridge("oracle", "test", newBridgeRegistry(w), WithOverride(sw))
	ctx := context.Background()

	for _, name := range []string{"echo", "wipe"} {
		res, _ := b.dispatch(name)(ctx, callRequest(name, map[string]any{"args": []any{"disk"}}))
		if !res.IsError || textContent(res.Content) != governance.PausedMessage {
			t.Fatalf("%s while paused: %+v", name, res)
		}
	}

	sw.on = false
	res, _ := b.dispatch("echo")(ctx, callRequest("echo", map[string]any{"args": []any{"back"}}))
	if res.IsError || textContent(res.Content) != "back" {
		t.Fatalf("echo after release: %+v", res)
	}
}

func TestDirectiveTool(t *testing.T) {
	tool := directiveTool(toolbox.Spec{Name: "wipe", Usage: `wipe("target")`, Description: "erase a target", Irreversible: true})
	if tool.Name != "wipe" {
		t.Fatalf("unexpected name %q", tool.Name)
	}
	if !strings.Contains(tool.Description, `wipe("target")`) || !strings.Contains(tool.Description, "approval id") {
		t.Fatalf("description should carry usage and the confirmation hint: %q", tool.Description)
	}
	if _, ok := tool.InputSchema.Properties["args"]; !ok {
		t.Fatalf("expected an args property, got %+v", tool.InputSchema.Properties)
	}
}

func approvalID(t *testing.T, text string) string {
	t.Helper()
	rest, ok := strings.CutPrefix(text, "pending approval ")
	if !ok {
		t.Fatalf("no approval id in %q", text)
	}
	id, _, _ := strings.Cut(rest, ":")
	return id
}
