// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"path/filepath"
	"testing"
)

func TestLoadWithCLIOverrides(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "settings.yaml")
	writeFile(t, path, "llm:\n  model: model-a\ntelemetry:\n  exporter: stdout\n")
	t.Setenv("ORACLE_LLM_MODEL", "model-env")

	cfg, err := LoadWithCLI([]string{
		"chat",
		"--config", path,
		"--set", "llm.model=model-cli",
		"--set", "telemetry.otlp_timeout_seconds=12",
		"--set=runtime.approval_sweep_interval_seconds=30",
		"--set", "browser.headless=false",
		`--set`, `toolbox.projects={"site":"/srv/site"}`,
		`--set`, `toolbox.deny=["delete_*"]`,
	})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.LLM.Model != "model-cli" {
		t.Fatalf("expected cli override to beat env, got %s", cfg.LLM.Model)
	}
	if cfg.Telemetry.Exporter != "stdout" {
		t.Fatalf("expected exporter from file, got %s", cfg.Telemetry.Exporter)
	}
	if cfg.Telemetry.OTLPTimeoutSeconds != 12 {
		t.Fatalf("expected telemetry timeout override")
	}
	if cfg.Runtime.ApprovalSweepIntervalSeconds != 30 {
		t.Fatalf("expected runtime sweep interval override")
	}
	if cfg.Browser.Headless {
		t.Fatalf("expected headless=false override")
	}
	if cfg.Toolbox.Projects["site"] != "/srv/site" {
		t.Fatalf("unexpected projects %v", cfg.Toolbox.Projects)
	}
	if len(cfg.Toolbox.Deny) != 1 || cfg.Toolbox.Deny[0] != "delete_*" {
		t.Fatalf("unexpected deny list %v", cfg.Toolbox.Deny)
	}
}

func TestLoadWithCLIProfile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, "log:\n  level: info\n")
	writeFile(t, filepath.Join(dir, "config.prod.yaml"), "log:\n  level: warn\n")

	cfg, err := LoadWithCLI([]string{"--config=" + path, "--profile", "prod"})
	if err != nil {
		t.Fatalf("LoadWithCLI failed: %v", err)
	}
	if cfg.Log.Level != "warn" {
		t.Fatalf("expected profile level warn, got %s", cfg.Log.Level)
	}
}

func TestParseCLIOverridesErrors(t *testing.T) {
	if _, _, err := parseCLIOverrides([]string{"--config"}); err == nil {
		t.Fatalf("expected error for missing --config value")
	}
	if _, _, err := parseCLIOverrides([]string{"--set"}); err == nil {
		t.Fatalf("expected error for missing --set value")
	}
	if _, _, err := parseCLIOverrides([]string{"--set", "invalid"}); err == nil {
		t.Fatalf("expected error for invalid --set value")
	}
	if _, _, err := parseCLIOverrides([]string{"--set", "=value"}); err == nil {
		t.Fatalf("expected error for empty --set key")
	}
}
