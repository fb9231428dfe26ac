// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads layered agent configuration: defaults, a YAML file
// with an optional profile overlay, ORACLE_ environment variables and
// --set command line overrides, in that order.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is the prefix of environment overrides (ORACLE_LLM_MODEL -> llm.model).
const EnvPrefix = "ORACLE_"

type Config struct {
	StateDir   string           `koanf:"state_dir"`
	Log        LogConfig        `koanf:"log"`
	LLM        LLMConfig        `koanf:"llm"`
	Agent      AgentConfig      `koanf:"agent"`
	Memory     MemoryConfig     `koanf:"memory"`
	Toolbox    ToolboxConfig    `koanf:"toolbox"`
	Browser    BrowserConfig    `koanf:"browser"`
	Vision     VisionConfig     `koanf:"vision"`
	Governance GovernanceConfig `koanf:"governance"`
	Skills     SkillsConfig     `koanf:"skills"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
	Runtime    RuntimeConfig    `koanf:"runtime"`
	Sync       SyncConfig       `koanf:"sync"`
}

type LogConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"` // json, text
	// File receives a copy of every record. Relative paths are resolved
	// against the state directory; empty disables it.
	File string `koanf:"file"`
}

type LLMConfig struct {
	Model                  string  `koanf:"model"`
	BaseURL                string  `koanf:"base_url"`
	TimeoutSeconds         int     `koanf:"timeout_seconds"`
	MaxAttempts            int     `koanf:"max_attempts"`
	InitialBackoffMs       int     `koanf:"initial_backoff_ms"`
	MaxBackoffMs           int     `koanf:"max_backoff_ms"`
	Temperature            float64 `koanf:"temperature"`
	BreakerThreshold       int     `koanf:"breaker_threshold"`
	BreakerCooldownSeconds int     `koanf:"breaker_cooldown_seconds"`
}

type AgentConfig struct {
	Name         string `koanf:"name"`
	SystemPrompt string `koanf:"system_prompt"`
	MemoryTopK   int    `koanf:"memory_top_k"`
	// InstructionsFile is an optional operator instructions file appended to
	// the system prompt.
	InstructionsFile string `koanf:"instructions_file"`
}

type MemoryConfig struct {
	Backend          string `koanf:"backend"` // memory, sqlite, qdrant
	QdrantAddr       string `koanf:"qdrant_addr"`
	Collection       string `koanf:"collection"`
	EmbedderProvider string `koanf:"embedder_provider"` // ollama, hash
	EmbedderBaseURL  string `koanf:"embedder_base_url"`
	EmbedderModel    string `koanf:"embedder_model"`
	Dimensions       int    `koanf:"dimensions"`
	// Passphrase derives the log encryption key. PassphraseFile, when set,
	// takes precedence and is read at startup.
	Passphrase     string `koanf:"passphrase"`
	PassphraseFile string `koanf:"passphrase_file"`
}

type ToolboxConfig struct {
	// Workspace is the default sandbox directory for file operations.
	Workspace    string            `koanf:"workspace"`
	AllowedRoots []string          `koanf:"allowed_roots"`
	Projects     map[string]string `koanf:"projects"`
	Allow        []string          `koanf:"allow"`
	Deny         []string          `koanf:"deny"`
	// MCPServers are external MCP servers whose tools are imported as
	// directives.
	MCPServers []MCPServerConfig `koanf:"mcp_servers"`
}

type MCPServerConfig struct {
	Name    string   `koanf:"name"` // directive prefix
	Command string   `koanf:"command"`
	Args    []string `koanf:"args"`
	Env     []string `koanf:"env"`
	// Irreversible stages every imported tool for confirmation.
	Irreversible   bool `koanf:"irreversible"`
	TimeoutSeconds int  `koanf:"timeout_seconds"`
}

type BrowserConfig struct {
	Enabled                  bool   `koanf:"enabled"`
	Headless                 bool   `koanf:"headless"`
	Bin                      string `koanf:"bin"`
	ElementTimeoutSeconds    int    `koanf:"element_timeout_seconds"`
	NavigationTimeoutSeconds int    `koanf:"navigation_timeout_seconds"`
	MaxTextChars             int    `koanf:"max_text_chars"`
}

type VisionConfig struct {
	Enabled           bool     `koanf:"enabled"`
	ScreenshotCommand []string `koanf:"screenshot_command"`
	OCRCommand        []string `koanf:"ocr_command"`
	KeepCaptures      int      `koanf:"keep_captures"`
}

type GovernanceConfig struct {
	Policies           []PolicyRuleConfig `koanf:"policies"`
	ApprovalStore      string             `koanf:"approval_store"` // memory, sqlite
	ApprovalTTLSeconds int                `koanf:"approval_ttl_seconds"`
	OverridePIN        string             `koanf:"override_pin"`
}

type PolicyRuleConfig struct {
	ID           string `koanf:"id"`
	Effect       string `koanf:"effect"` // allow, deny, confirm
	Type         string `koanf:"type"`   // tool, skill, mcp
	Name         string `koanf:"name"`   // glob
	Irreversible bool   `koanf:"irreversible"`
	Reason       string `koanf:"reason"`
}

type SkillsConfig struct {
	Dir                string   `koanf:"dir"`
	TestTimeoutSeconds int      `koanf:"test_timeout_seconds"`
	RunTimeoutSeconds  int      `koanf:"run_timeout_seconds"`
	AllowedImports     []string `koanf:"allowed_imports"`
}

type TelemetryConfig struct {
	Exporter           string            `koanf:"exporter"` // none, stdout, otlp
	OTLPEndpoint       string            `koanf:"otlp_endpoint"`
	OTLPInsecure       bool              `koanf:"otlp_insecure"`
	OTLPTimeoutSeconds int               `koanf:"otlp_timeout_seconds"`
	OTLPHeaders        map[string]string `koanf:"otlp_headers"`
	ServiceName        string            `koanf:"service_name"`
	ServiceVersion     string            `koanf:"service_version"`
}

type RuntimeConfig struct {
	ApprovalSweepIntervalSeconds int            `koanf:"approval_sweep_interval_seconds"`
	ApprovalSweepTimeoutSeconds  int            `koanf:"approval_sweep_timeout_seconds"`
	ShutdownTimeoutSeconds       int            `koanf:"shutdown_timeout_seconds"`
	Resources                    ResourceConfig `koanf:"resources"`
}

// ResourceConfig bounds the process. Zero limits are not checked.
type ResourceConfig struct {
	IntervalSeconds int     `koanf:"interval_seconds"`
	CPULimitPercent float64 `koanf:"cpu_limit_percent"`
	MemoryLimit     string  `koanf:"memory_limit"` // e.g. "2 GB", "512 MiB"
	PauseOnLimit    bool    `koanf:"pause_on_limit"`
}

// SyncConfig shares the state directory through a git remote. The state
// directory must already be a clone.
type SyncConfig struct {
	Enabled bool     `koanf:"enabled"`
	Remote  string   `koanf:"remote"`
	Branch  string   `koanf:"branch"`
	Paths   []string `koanf:"paths"`
}

func setDefaults(k *koanf.Koanf) {
	k.Set("state_dir", defaultStateDir())

	k.Set("log.level", "info")
	k.Set("log.format", "text")
	k.Set("log.file", "logs/oracle.log")

	k.Set("llm.model", "llama3")
	k.Set("llm.base_url", "http://localhost:11434")
	k.Set("llm.timeout_seconds", 180)
	k.Set("llm.max_attempts", 3)
	k.Set("llm.initial_backoff_ms", 500)
	k.Set("llm.max_backoff_ms", 8000)
	k.Set("llm.breaker_threshold", 2)
	k.Set("llm.breaker_cooldown_seconds", 30)

	k.Set("agent.name", "Oracle")
	k.Set("agent.memory_top_k", 3)

	k.Set("memory.backend", "sqlite")
	k.Set("memory.qdrant_addr", "localhost:6334")
	k.Set("memory.collection", "oracle_memories")
	k.Set("memory.embedder_provider", "ollama")
	k.Set("memory.embedder_base_url", "http://localhost:11434")
	k.Set("memory.embedder_model", "nomic-embed-text")
	k.Set("memory.dimensions", 768)

	k.Set("browser.enabled", true)
	k.Set("browser.headless", true)
	k.Set("browser.element_timeout_seconds", 10)
	k.Set("browser.navigation_timeout_seconds", 30)
	k.Set("browser.max_text_chars", 4000)

	k.Set("vision.enabled", false)
	k.Set("vision.ocr_command", []string{"tesseract", "{image}", "stdout"})
	k.Set("vision.keep_captures", 10)

	k.Set("governance.approval_store", "sqlite")
	k.Set("governance.approval_ttl_seconds", 600)

	k.Set("skills.dir", "skills")
	k.Set("skills.test_timeout_seconds", 5)
	k.Set("skills.run_timeout_seconds", 30)

	k.Set("telemetry.exporter", "none")
	k.Set("telemetry.otlp_timeout_seconds", 10)
	k.Set("telemetry.service_name", "oracle")
	k.Set("telemetry.service_version", "dev")

	k.Set("runtime.approval_sweep_interval_seconds", 60)
	k.Set("runtime.approval_sweep_timeout_seconds", 10)
	k.Set("runtime.shutdown_timeout_seconds", 10)
	k.Set("runtime.resources.interval_seconds", 30)
	k.Set("runtime.resources.cpu_limit_percent", 80)
	k.Set("runtime.resources.memory_limit", "2 GB")
	k.Set("runtime.resources.pause_on_limit", false)

	k.Set("sync.enabled", false)
	k.Set("sync.remote", "origin")
	k.Set("sync.branch", "main")
	k.Set("sync.paths", []string{"memory", "persona", "logs"})
}

func Load(path string) (*Config, error) {
	return LoadWithProfile(path, "")
}

// LoadWithProfile loads path and then, when profile is set, the sibling
// overlay file returned by ProfileConfigPath.
func LoadWithProfile(path, profile string) (*Config, error) {
	return load(path, profile, nil)
}

func load(path, profile string, overrides map[string]string) (*Config, error) {
	k := koanf.New(".")
	setDefaults(k)

	// 1. Load from file, then the profile overlay if present
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, err
		}
		if profile != "" {
			overlay := ProfileConfigPath(path, profile)
			if _, err := os.Stat(overlay); err == nil {
				if err := k.Load(file.Provider(overlay), yaml.Parser()); err != nil {
					return nil, err
				}
			}
		}
	}

	// 2. Load from ENV (ORACLE_LLM_MODEL -> llm.model)
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, err
	}

	// 3. --set overrides
	for key, raw := range overrides {
		if err := k.Set(key, parseOverrideValue(raw)); err != nil {
			return nil, fmt.Errorf("override %s: %w", key, err)
		}
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}
	cfg.StateDir = expandHome(cfg.StateDir)
	return &cfg, nil
}

// envKey maps ORACLE_LLM_BASE_URL to llm.base_url: the first underscore
// separates the section, the rest belong to the field name.
func envKey(s string) string {
	key := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	if key == "state_dir" {
		return key
	}
	return strings.Replace(key, "_", ".", 1)
}

// ProfileConfigPath returns the overlay file of profile for path:
// config.yaml with profile dev gives config.dev.yaml.
func ProfileConfigPath(path, profile string) string {
	if profile == "" {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "." + profile + ext
}

// LoadWithCLI loads configuration honoring --config, --profile and repeated
// --set key=value flags found in args. Other arguments are ignored.
func LoadWithCLI(args []string) (*Config, error) {
	opts, overrides, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	return load(opts.path, opts.profile, overrides)
}

type cliOptions struct {
	path    string
	profile string
}

func parseCLIOverrides(args []string) (cliOptions, map[string]string, error) {
	var opts cliOptions
	overrides := make(map[string]string)
	for i := 0; i < len(args); i++ {
		arg := args[i]
		var name, value string
		switch {
		case arg == "--config" || arg == "--profile" || arg == "--set":
			if i+1 >= len(args) {
				return opts, nil, fmt.Errorf("missing value for %s", arg)
			}
			name, value = arg, args[i+1]
			i++
		case strings.HasPrefix(arg, "--config="), strings.HasPrefix(arg, "--profile="), strings.HasPrefix(arg, "--set="):
			name, value, _ = strings.Cut(arg, "=")
		default:
			continue
		}
		switch name {
		case "--config":
			opts.path = value
		case "--profile":
			opts.profile = value
		case "--set":
			key, v, ok := strings.Cut(value, "=")
			key = strings.TrimSpace(key)
			if !ok || key == "" {
				return opts, nil, fmt.Errorf("invalid --set value %q, expected key=value", value)
			}
			overrides[key] = v
		}
	}
	return opts, overrides, nil
}

// parseOverrideValue decodes JSON objects and arrays; everything else is
// kept as a string and converted when unmarshalled.
func parseOverrideValue(raw string) interface{} {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "{") || strings.HasPrefix(trimmed, "[") {
		var v interface{}
		if err := json.Unmarshal([]byte(trimmed), &v); err == nil {
			return v
		}
	}
	return raw
}

// Path resolves p against the state directory unless it is absolute.
func (c *Config) Path(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.StateDir, p)
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".oracle"
	}
	return filepath.Join(home, ".oracle")
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
