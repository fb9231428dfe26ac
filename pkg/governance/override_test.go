// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"path/filepath"
	"testing"

	oerrors "github.com/jllopis/oracle/pkg/errors"
)

func TestOverrideMarkerSurvivesRestart(t *testing.T) {
	path := filepath.Join(t.TempDir(), "override.lock")
	o := NewOverride(path, "2468")
	if o.Active() {
		t.Fatal("override should start released")
	}
	if err := o.Engage("0000"); !oerrors.IsCode(err, oerrors.CodeInvalidInput) {
		t.Fatalf("expected wrong PIN to be refused, got %v", err)
	}
	if err := o.Engage("2468"); err != nil {
		t.Fatalf("engage: %v", err)
	}
	if !NewOverride(path, "2468").Active() {
		t.Fatal("a fresh switch on the same marker should be active")
	}
	if err := o.Release("2468"); err != nil {
		t.Fatalf("release: %v", err)
	}
	if o.Active() {
		t.Fatal("override should be released")
	}
	if err := o.Release("2468"); err != nil {
		t.Fatalf("release twice: %v", err)
	}
}

func TestOverrideInMemoryAndUnconfigured(t *testing.T) {
	o := NewOverride("", "1")
	if err := o.Engage("1"); err != nil || !o.Active() {
		t.Fatalf("expected in-memory engage, err=%v", err)
	}
	if err := NewOverride("", "").Engage(""); err == nil {
		t.Fatal("expected an unconfigured PIN to refuse engage")
	}
	var nilOverride *Override
	if nilOverride.Active() {
		t.Fatal("nil override is never active")
	}
}
