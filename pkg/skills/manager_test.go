// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jllopis/oracle/pkg/directive"
	"github.com/jllopis/oracle/pkg/toolbox"
)

func newTestManager(t *testing.T, dir string) (*Manager, *toolbox.Registry) {
	t.Helper()
	m, err := NewManager(dir, WithTimeouts(2*time.Second, 2*time.Second))
	if err != nil {
		t.Fatalf("manager: %v", err)
	}
	r := toolbox.New()
	if err := m.Register(r); err != nil {
		t.Fatalf("register: %v", err)
	}
	return m, r
}

func TestInstallSkillNeedsConfirmation(t *testing.T) {
	dir := t.TempDir()
	m, r := newTestManager(t, dir)
	ctx := context.Background()

	res := r.Dispatch(ctx, directive.Directive{Name: "install_skill", Args: []string{"Shout Text", "Upper-cases text", shoutSkill}})
	if res.Status != toolbox.StatusPending {
		t.Fatalf("install must be staged, got %+v", res)
	}
	if _, ok := m.Get("shout-text"); ok {
		t.Fatal("skill installed before confirmation")
	}
	if done := r.Confirm(ctx, res.ApprovalID); !done.OK {
		t.Fatalf("confirm failed: %+v", done)
	}
	if _, err := os.Stat(filepath.Join(dir, "shout-text", "skill.go")); err != nil {
		t.Fatalf("skill code not written: %v", err)
	}

	res = r.Dispatch(ctx, directive.Directive{Name: "run_skill", Args: []string{"shout_text", "hey"}})
	if !res.OK || res.Message != "HEY!" {
		t.Fatalf("unexpected run result %+v", res)
	}
	res = r.Dispatch(ctx, directive.Directive{Name: "list_skills", Args: []string{}})
	if !res.OK || !strings.Contains(res.Message, "- shout-text: Upper-cases text") {
		t.Fatalf("unexpected list %+v", res)
	}

	reloaded, _ := newTestManager(t, dir)
	if out, err := reloaded.Run(ctx, "shout-text", "again"); err != nil || out != "AGAIN!" {
		t.Fatalf("reloaded skill: %q %v", out, err)
	}
}

func TestInstallRejectsFailingTestRun(t *testing.T) {
	dir := t.TempDir()
	m, _ := newTestManager(t, dir)
	broken := "func Run(string) (string, error) { var m map[string]int; m[\"x\"] = 1; return \"\", nil }"
	if _, err := m.Install(context.Background(), "broken", "always panics", broken); err == nil {
		t.Fatal("expected the test run to fail")
	}
	if _, err := os.Stat(filepath.Join(dir, "broken")); !os.IsNotExist(err) {
		t.Fatalf("failed skill left files behind: %v", err)
	}
	if _, err := m.Install(context.Background(), "x", "", shoutSkill); err == nil {
		t.Fatal("expected a missing description to fail")
	}
}

func TestRunInstructionOnlySkill(t *testing.T) {
	dir := t.TempDir()
	skillDir := filepath.Join(dir, "tidy-desktop")
	_ = os.MkdirAll(skillDir, 0o755)
	_ = os.WriteFile(filepath.Join(skillDir, "SKILL.md"), []byte("---\nname: tidy-desktop\ndescription: Tidy the desktop.\n---\nMove screenshots into a Screenshots folder.\n"), 0o644)
	_, r := newTestManager(t, dir)

	res := r.Dispatch(context.Background(), directive.Directive{Name: "run_skill", Args: []string{"tidy-desktop"}})
	if !res.OK || res.Message != "Move screenshots into a Screenshots folder." {
		t.Fatalf("unexpected result %+v", res)
	}
	res = r.Dispatch(context.Background(), directive.Directive{Name: "run_skill", Args: []string{"nope"}})
	if res.OK {
		t.Fatalf("expected unknown skill to fail, got %+v", res)
	}
}
