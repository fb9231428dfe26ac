// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	oerrors "github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/governance"
	"github.com/jllopis/oracle/pkg/llm"
	"github.com/jllopis/oracle/pkg/memory"
	"github.com/jllopis/oracle/pkg/toolbox"
	"github.com/jllopis/oracle/pkg/toolbox/fsops"
	"github.com/jllopis/oracle/pkg/vision"
	"go.uber.org/goleak"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeMemory struct {
	mu       sync.Mutex
	stored   []memory.Interaction
	recall   []string
	storeErr error
	queries  []string
}

func (f *fakeMemory) Store(_ context.Context, in memory.Interaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stored = append(f.stored, in)
	return nil
}

func (f *fakeMemory) Retrieve(_ context.Context, query string, k int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	if len(f.recall) > k {
		return f.recall[:k], nil
	}
	return f.recall, nil
}

func (f *fakeMemory) interactions() []memory.Interaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]memory.Interaction(nil), f.stored...)
}

type fakePersona string

func (p fakePersona) Directives() string { return string(p) }

type fakeOverride struct{ active atomic.Bool }

func (o *fakeOverride) Active() bool { return o.active.Load() }

type fakeGuard struct{ busy atomic.Bool }

func (g *fakeGuard) Throttled(context.Context) (string, bool) {
	if g.busy.Load() {
		return "busy: memory 3 GiB over 2 GiB", true
	}
	return "", false
}

// counter registers a directive that counts its invocations.
type counter struct{ calls atomic.Int32 }

func (c *counter) handler(msg string) toolbox.Handler {
	return func(context.Context, []string) toolbox.Result {
		c.calls.Add(1)
		return toolbox.OK("%s", msg)
	}
}

func newRegistry(t *testing.T) *toolbox.Registry {
	t.Helper()
	return toolbox.New(toolbox.WithApprovalStore(governance.NewMemoryApprovalStore()))
}

func newAgent(t *testing.T, gw llm.Gateway, tools Toolbox, opts ...Option) *Agent {
	t.Helper()
	a, err := New(gw, tools, opts...)
	if err != nil {
		t.Fatalf("new agent: %v", err)
	}
	return a
}

func handle(t *testing.T, a *Agent, input string) string {
	t.Helper()
	reply, err := a.Handle(context.Background(), input)
	if err != nil {
		t.Fatalf("handle %q: %v", input, err)
	}
	return reply
}

func TestCreateFolderScenario(t *testing.T) {
	root := t.TempDir()
	workspace := filepath.Join(root, "workspace")
	fs, err := fsops.New(fsops.Config{Workspace: workspace, Home: root})
	if err != nil {
		t.Fatalf("fsops: %v", err)
	}
	reg := newRegistry(t)
	if err := fs.Register(reg); err != nil {
		t.Fatalf("register: %v", err)
	}

	gw := llm.NewScriptedGateway(
		`Sure thing. [CMD] create_folder("sandbox", "dev folder")`,
		"I made the sandbox folder for you.",
	)
	mem := &fakeMemory{}
	a := newAgent(t, gw, reg, WithMemory(mem))

	reply := handle(t, a, "create a folder called sandbox in dev folder")

	want := filepath.Join(workspace, "dev", "sandbox")
	if !strings.Contains(reply, want) {
		t.Fatalf("reply %q does not mention %s", reply, want)
	}
	if !strings.HasPrefix(reply, "I made the sandbox folder for you.") {
		t.Fatalf("reply should start with the narration, got %q", reply)
	}
	if gw.Calls() != 2 {
		t.Fatalf("expected inference plus narration, got %d calls", gw.Calls())
	}
	prompts := gw.Prompts()
	if !strings.Contains(prompts[0], `create_folder("name", "location")`) {
		t.Fatalf("first prompt lacks the command list:\n%s", prompts[0])
	}
	if !strings.Contains(prompts[1], "Created folder "+want) {
		t.Fatalf("narration prompt lacks the tool report:\n%s", prompts[1])
	}
	stored := mem.interactions()
	if len(stored) != 1 || stored[0].AgentResponse != reply || stored[0].UserInput != "create a folder called sandbox in dev folder" {
		t.Fatalf("unexpected stored interactions %+v", stored)
	}
}

func TestNoDirectiveNeverDispatches(t *testing.T) {
	reg := newRegistry(t)
	var c counter
	reg.MustRegister(toolbox.Spec{Name: "create_folder", MinArgs: 1, MaxArgs: 2}, c.handler("created"))

	gw := &llm.MockGateway{Reply: "Paris is the capital of France. Folders are created with care."}
	a := newAgent(t, gw, reg)

	reply := handle(t, a, "what is the capital of France?")
	if reply != gw.Reply {
		t.Fatalf("reply = %q, want the model text", reply)
	}
	if c.calls.Load() != 0 {
		t.Fatal("a directive was dispatched without being requested")
	}
	if n := len(gw.Prompts()); n != 1 {
		t.Fatalf("expected a single inference, got %d", n)
	}
}

func TestUnreachableSkipsSelfRepair(t *testing.T) {
	gw := &llm.MockGateway{Err: oerrors.New(oerrors.CodeUnreachable, "connection refused", nil)}
	mem := &fakeMemory{}
	a := newAgent(t, gw, newRegistry(t), WithMemory(mem))

	done := make(chan string, 1)
	go func() {
		reply, _ := a.Handle(context.Background(), "hello")
		done <- reply
	}()
	select {
	case reply := <-done:
		if reply != ReconnectMessage {
			t.Fatalf("reply = %q, want reconnect guidance", reply)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("unreachable gateway did not terminate in time")
	}
	if n := len(gw.Prompts()); n != 1 {
		t.Fatalf("self-repair must not run, got %d gateway calls", n)
	}
	if len(mem.interactions()) != 0 {
		t.Fatal("failed requests must not be stored")
	}
}

func TestSelfRepair(t *testing.T) {
	gw := llm.NewScriptedGateway()
	gw.AddError(oerrors.New(oerrors.CodeBadResponse, "malformed json", nil))
	gw.AddReply("Try asking again in a moment.")
	a := newAgent(t, gw, newRegistry(t))

	reply := handle(t, a, "summarize my day")
	if reply != repairPreamble+"Try asking again in a moment." {
		t.Fatalf("unexpected reply %q", reply)
	}
	prompts := gw.Prompts()
	if len(prompts) != 2 || !strings.Contains(prompts[1], "malformed json") {
		t.Fatalf("repair prompt should carry the error, got %q", prompts)
	}
}

func TestApologyWhenRepairFails(t *testing.T) {
	gw := llm.NewScriptedGateway()
	gw.AddError(oerrors.New(oerrors.CodeBadResponse, "malformed json", nil))
	gw.AddError(oerrors.New(oerrors.CodeBadResponse, "still malformed", nil))
	a := newAgent(t, gw, newRegistry(t))

	if reply := handle(t, a, "summarize my day"); reply != ApologyMessage {
		t.Fatalf("reply = %q, want the fixed apology", reply)
	}
}

func TestPanicIsRecovered(t *testing.T) {
	var calls atomic.Int32
	gw := &llm.MockGateway{InferFunc: func(context.Context, string) (string, error) {
		if calls.Add(1) == 1 {
			panic("boom")
		}
		return "Restart the app and try again.", nil
	}}
	a := newAgent(t, gw, newRegistry(t))

	if reply := handle(t, a, "hi"); reply != repairPreamble+"Restart the app and try again." {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestEmptyModelReplyIsRepaired(t *testing.T) {
	gw := llm.NewScriptedGateway("   ", "Please rephrase.")
	a := newAgent(t, gw, newRegistry(t))
	if reply := handle(t, a, "hi"); reply != repairPreamble+"Please rephrase." {
		t.Fatalf("unexpected reply %q", reply)
	}
}

func TestNarrationFailureFallsBackToRendering(t *testing.T) {
	reg := newRegistry(t)
	var c counter
	reg.MustRegister(toolbox.Spec{Name: "check_system_status"}, c.handler("All systems nominal"))

	gw := llm.NewScriptedGateway("[CMD] check_system_status()")
	gw.AddError(oerrors.New(oerrors.CodeBadResponse, "narration broke", nil))
	a := newAgent(t, gw, reg)

	if reply := handle(t, a, "how are you doing?"); reply != "Done. All systems nominal" {
		t.Fatalf("unexpected reply %q", reply)
	}
	if c.calls.Load() != 1 {
		t.Fatalf("expected one dispatch, got %d", c.calls.Load())
	}
}

func TestToolFailureSurfacesVerbatim(t *testing.T) {
	reg := newRegistry(t)
	reg.MustRegister(toolbox.Spec{Name: "read_file", MinArgs: 1, MaxArgs: 1},
		func(context.Context, []string) toolbox.Result { return toolbox.Failed("notes.txt does not exist") })

	gw := llm.NewScriptedGateway(`[CMD] read_file("notes.txt")`, "I could not read that file.")
	a := newAgent(t, gw, reg)

	reply := handle(t, a, "read notes.txt")
	if !strings.Contains(reply, "notes.txt does not exist") {
		t.Fatalf("failure message missing from %q", reply)
	}
}

func TestConfirmationFlow(t *testing.T) {
	reg := newRegistry(t)
	var c counter
	reg.MustRegister(toolbox.Spec{Name: "delete_file", MinArgs: 1, MaxArgs: 1, Irreversible: true}, c.handler("Deleted notes.txt"))

	gw := &llm.MockGateway{InferFunc: func(_ context.Context, prompt string) (string, error) {
		if strings.Contains(prompt, "You ran") {
			return "Narrated.", nil
		}
		return `[CMD] delete_file("notes.txt")`, nil
	}}
	a := newAgent(t, gw, reg)
	ctx := context.Background()

	reply := handle(t, a, "delete notes.txt")
	pending, err := reg.Pending(ctx)
	if err != nil || len(pending) != 1 {
		t.Fatalf("expected one staged action, got %v (%v)", pending, err)
	}
	id := pending[0].ID
	if !strings.Contains(reply, "confirm "+id) {
		t.Fatalf("reply should explain how to confirm, got %q", reply)
	}
	if c.calls.Load() != 0 {
		t.Fatal("irreversible directive ran without confirmation")
	}
	if n := len(gw.Prompts()); n != 1 {
		t.Fatalf("pending results are not narrated, got %d calls", n)
	}

	reply = handle(t, a, "confirm "+id)
	if c.calls.Load() != 1 {
		t.Fatalf("confirm should run the directive once, got %d", c.calls.Load())
	}
	if !strings.HasPrefix(reply, "Narrated.") || !strings.Contains(reply, "Deleted notes.txt") {
		t.Fatalf("unexpected confirm reply %q", reply)
	}
	if n := len(gw.Prompts()); n != 2 {
		t.Fatalf("confirm must skip inference and only narrate, got %d calls", n)
	}

	handle(t, a, "confirm "+id)
	if c.calls.Load() != 1 {
		t.Fatal("a confirmed action ran twice")
	}

	handle(t, a, "delete notes.txt")
	pending, _ = reg.Pending(ctx)
	if len(pending) != 1 {
		t.Fatalf("expected a new staged action, got %v", pending)
	}
	reply = handle(t, a, "Cancel "+pending[0].ID)
	if c.calls.Load() != 1 || !strings.Contains(reply, "Cancelled delete_file") {
		t.Fatalf("cancel should drop the action, got %q", reply)
	}
}

func TestUnknownApprovalIsRenderedWithoutModel(t *testing.T) {
	gw := &llm.MockGateway{Reply: "unused"}
	a := newAgent(t, gw, newRegistry(t))

	reply := handle(t, a, "confirm deadbeef")
	if !strings.Contains(reply, "no staged action with id deadbeef") {
		t.Fatalf("unexpected reply %q", reply)
	}
	if len(gw.Prompts()) != 0 {
		t.Fatal("an unknown approval must not reach the model")
	}
}

func TestOverridePausesAgent(t *testing.T) {
	gw := &llm.MockGateway{Reply: "hello"}
	o := &fakeOverride{}
	o.active.Store(true)
	a := newAgent(t, gw, newRegistry(t), WithOverride(o))

	if reply := handle(t, a, "hi"); reply != governance.PausedMessage {
		t.Fatalf("reply = %q, want paused message", reply)
	}
	if len(gw.Prompts()) != 0 {
		t.Fatal("paused agent called the model")
	}

	o.active.Store(false)
	if reply := handle(t, a, "hi"); reply != "hello" {
		t.Fatalf("released agent reply = %q", reply)
	}
}

func TestResourceGuardDefersRequests(t *testing.T) {
	gw := &llm.MockGateway{Reply: "hello"}
	g := &fakeGuard{}
	g.busy.Store(true)
	a := newAgent(t, gw, newRegistry(t), WithResourceGuard(g))

	if reply := handle(t, a, "hi"); reply != "busy: memory 3 GiB over 2 GiB" {
		t.Fatalf("reply = %q, want the guard message", reply)
	}
	if len(gw.Prompts()) != 0 {
		t.Fatal("throttled agent called the model")
	}

	g.busy.Store(false)
	if reply := handle(t, a, "hi"); reply != "hello" {
		t.Fatalf("reply after recovery = %q", reply)
	}
}

func TestContextGathering(t *testing.T) {
	gw := &llm.MockGateway{Reply: "ok"}
	mem := &fakeMemory{recall: []string{"User asked: a | Agent replied: b", "second", "third", "fourth"}}
	slot := &vision.Slot{}
	slot.Put(vision.Capture{ExtractedText: "Invoice #42 total 99.00"})
	a := newAgent(t, gw, newRegistry(t),
		WithMemory(mem),
		WithSnapshots(slot),
		WithPersona(fakePersona("Core personality traits:\n1. Be brief")),
		WithInstructions("Never touch /etc."),
		WithMemoryTopK(2),
	)

	handle(t, a, "what does this invoice say?")
	handle(t, a, "and now?")

	prompts := gw.Prompts()
	first, second := prompts[0], prompts[1]
	for _, want := range []string{"Invoice #42", "User asked: a | Agent replied: b", "second", "1. Be brief", "Never touch /etc.", "User: what does this invoice say?"} {
		if !strings.Contains(first, want) {
			t.Errorf("first prompt lacks %q", want)
		}
	}
	if strings.Contains(first, "fourth") {
		t.Error("memory recall ignored top k")
	}
	if strings.Contains(second, "Invoice #42") {
		t.Error("screen capture was used twice")
	}
}

func TestMemoryFailuresAreWarnings(t *testing.T) {
	gw := &llm.MockGateway{Reply: "fine"}
	mem := &fakeMemory{storeErr: oerrors.New(oerrors.CodePersistenceWarning, "disk full", nil)}
	a := newAgent(t, gw, newRegistry(t), WithMemory(mem))

	if reply := handle(t, a, "hi"); reply != "fine" {
		t.Fatalf("memory failure leaked into the reply: %q", reply)
	}
}

func TestSingleFlight(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	gw := &llm.MockGateway{InferFunc: func(ctx context.Context, _ string) (string, error) {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return "done", nil
	}}
	a := newAgent(t, gw, newRegistry(t))

	first := make(chan string, 1)
	go func() {
		reply, _ := a.Handle(context.Background(), "slow one")
		first <- reply
	}()
	<-entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := a.Handle(ctx, "impatient")
	if !oerrors.IsCode(err, oerrors.CodeContextLost) {
		t.Fatalf("queued caller should give up with CONTEXT_LOST, got %v", err)
	}

	close(release)
	if reply := <-first; reply != "done" {
		t.Fatalf("first request reply = %q", reply)
	}
	if n := len(gw.Prompts()); n != 1 {
		t.Fatalf("the cancelled request reached the model: %d calls", n)
	}
}

func TestEmptyInput(t *testing.T) {
	gw := &llm.MockGateway{Reply: "unused"}
	a := newAgent(t, gw, newRegistry(t))
	if reply := handle(t, a, "   "); reply != EmptyMessage {
		t.Fatalf("reply = %q", reply)
	}
	if len(gw.Prompts()) != 0 {
		t.Fatal("empty input reached the model")
	}
}

func TestNewValidation(t *testing.T) {
	if _, err := New(nil, newRegistry(t)); !oerrors.IsCode(err, oerrors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for a nil gateway, got %v", err)
	}
	if _, err := New(&llm.MockGateway{}, nil); !oerrors.IsCode(err, oerrors.CodeInvalidInput) {
		t.Fatalf("expected INVALID_INPUT for a nil toolbox, got %v", err)
	}
	if _, err := New(&llm.MockGateway{}, newRegistry(t), WithMemoryTopK(-1)); err == nil {
		t.Fatal("expected an error for a negative top k")
	}
}

var _ Toolbox = (*toolbox.Registry)(nil)
