// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write %s: %v", path, err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.LLM.BaseURL != "http://localhost:11434" {
		t.Errorf("expected default base url, got %s", cfg.LLM.BaseURL)
	}
	if cfg.LLM.TimeoutSeconds != 180 {
		t.Errorf("expected 3 minute default timeout, got %d", cfg.LLM.TimeoutSeconds)
	}
	if cfg.LLM.MaxAttempts < 2 {
		t.Errorf("expected at least 2 attempts, got %d", cfg.LLM.MaxAttempts)
	}
	if cfg.Governance.ApprovalTTLSeconds != 600 {
		t.Errorf("expected 10 minute approval ttl, got %d", cfg.Governance.ApprovalTTLSeconds)
	}
	if cfg.Agent.MemoryTopK != 3 {
		t.Errorf("expected top-k 3, got %d", cfg.Agent.MemoryTopK)
	}
	if len(cfg.Vision.OCRCommand) != 3 || cfg.Vision.OCRCommand[0] != "tesseract" {
		t.Errorf("unexpected OCR command %v", cfg.Vision.OCRCommand)
	}
	if cfg.StateDir == "" {
		t.Error("expected a default state dir")
	}
	if r := cfg.Runtime.Resources; r.CPULimitPercent != 80 || r.MemoryLimit != "2 GB" || r.PauseOnLimit {
		t.Errorf("unexpected resource defaults %+v", r)
	}
	if cfg.Sync.Enabled || cfg.Sync.Remote != "origin" || cfg.Sync.Branch != "main" || len(cfg.Sync.Paths) != 3 {
		t.Errorf("unexpected sync defaults %+v", cfg.Sync)
	}
}

func TestLoadEnv(t *testing.T) {
	t.Setenv("ORACLE_LLM_MODEL", "mistral")
	t.Setenv("ORACLE_LLM_BASE_URL", "http://gpu-box:11434")
	t.Setenv("ORACLE_STATE_DIR", "/tmp/oracle-state")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Model != "mistral" {
		t.Errorf("expected model from env, got %s", cfg.LLM.Model)
	}
	if cfg.LLM.BaseURL != "http://gpu-box:11434" {
		t.Errorf("expected base url from env, got %s", cfg.LLM.BaseURL)
	}
	if cfg.StateDir != "/tmp/oracle-state" {
		t.Errorf("expected state dir from env, got %s", cfg.StateDir)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	writeFile(t, path, `
state_dir: /var/lib/oracle
llm:
  model: llama3.1
toolbox:
  workspace: /home/me/oracle-workspace
  projects:
    website: /home/me/src/website
runtime:
  resources:
    memory_limit: 512 MiB
    pause_on_limit: true
sync:
  enabled: true
  branch: family
governance:
  policies:
    - id: no-web-submit
      effect: deny
      type: tool
      name: submit_*
      reason: forms are off limits
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.LLM.Model != "llama3.1" {
		t.Errorf("expected file model, got %s", cfg.LLM.Model)
	}
	if cfg.Toolbox.Projects["website"] != "/home/me/src/website" {
		t.Errorf("unexpected projects %v", cfg.Toolbox.Projects)
	}
	if len(cfg.Governance.Policies) != 1 || cfg.Governance.Policies[0].Name != "submit_*" {
		t.Fatalf("unexpected policies %+v", cfg.Governance.Policies)
	}
	if !cfg.Runtime.Resources.PauseOnLimit || cfg.Runtime.Resources.MemoryLimit != "512 MiB" {
		t.Errorf("unexpected resources %+v", cfg.Runtime.Resources)
	}
	if !cfg.Sync.Enabled || cfg.Sync.Branch != "family" || cfg.Sync.Remote != "origin" {
		t.Errorf("unexpected sync %+v", cfg.Sync)
	}
	if got := cfg.Path("logs/oracle.log"); got != "/var/lib/oracle/logs/oracle.log" {
		t.Errorf("unexpected resolved path %s", got)
	}
	if got := cfg.Path("/abs/x"); got != "/abs/x" {
		t.Errorf("absolute paths must be kept, got %s", got)
	}
}

func TestLoadWithProfile(t *testing.T) {
	dir := t.TempDir()
	basePath := filepath.Join(dir, "config.yaml")
	writeFile(t, basePath, "llm:\n  model: llama3.1\nlog:\n  level: info\n")
	writeFile(t, filepath.Join(dir, "config.dev.yaml"), "log:\n  level: debug\n")

	tests := []struct {
		profile   string
		wantLevel string
	}{
		{"", "info"},
		{"dev", "debug"},
		{"missing", "info"},
	}
	for _, tc := range tests {
		t.Run("profile="+tc.profile, func(t *testing.T) {
			cfg, err := LoadWithProfile(basePath, tc.profile)
			if err != nil {
				t.Fatalf("LoadWithProfile failed: %v", err)
			}
			if cfg.Log.Level != tc.wantLevel {
				t.Errorf("expected level %s, got %s", tc.wantLevel, cfg.Log.Level)
			}
			if cfg.LLM.Model != "llama3.1" {
				t.Errorf("expected base model to survive overlay, got %s", cfg.LLM.Model)
			}
		})
	}
}

func TestProfileConfigPath(t *testing.T) {
	tests := []struct {
		path, profile, want string
	}{
		{"/etc/oracle/config.yaml", "dev", "/etc/oracle/config.dev.yaml"},
		{"config.yml", "prod", "config.prod.yml"},
		{"config.yaml", "", "config.yaml"},
	}
	for _, tc := range tests {
		if got := ProfileConfigPath(tc.path, tc.profile); got != tc.want {
			t.Errorf("ProfileConfigPath(%q, %q) = %q, want %q", tc.path, tc.profile, got, tc.want)
		}
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"ORACLE_LLM_MODEL":                        "llm.model",
		"ORACLE_LLM_BASE_URL":                     "llm.base_url",
		"ORACLE_STATE_DIR":                        "state_dir",
		"ORACLE_GOVERNANCE_OVERRIDE_PIN":          "governance.override_pin",
		"ORACLE_MEMORY_PASSPHRASE":                "memory.passphrase",
		"ORACLE_RUNTIME_SHUTDOWN_TIMEOUT_SECONDS": "runtime.shutdown_timeout_seconds",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}
