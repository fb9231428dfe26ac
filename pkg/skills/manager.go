// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jllopis/oracle/internal/fsutil"
	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/governance"
	"github.com/jllopis/oracle/pkg/toolbox"
	"gopkg.in/yaml.v3"
)

const (
	// DefaultTestTimeout bounds the pre-install test run.
	DefaultTestTimeout = 5 * time.Second
	// DefaultRunTimeout bounds run_skill.
	DefaultRunTimeout = 30 * time.Second

	entryFile = "skill.go"
)

var separators = regexp.MustCompile(`[\s_]+`)

// Manager owns the installed skills under one directory.
type Manager struct {
	dir         string
	sandbox     *Sandbox
	testTimeout time.Duration
	runTimeout  time.Duration
	logger      *slog.Logger

	mu     sync.RWMutex
	skills map[string]SkillSpec
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithTimeouts sets the test-run and run timeouts. Zero keeps the default.
func WithTimeouts(test, run time.Duration) ManagerOption {
	return func(m *Manager) {
		if test > 0 {
			m.testTimeout = test
		}
		if run > 0 {
			m.runTimeout = run
		}
	}
}

// WithSandbox replaces the default sandbox.
func WithSandbox(s *Sandbox) ManagerOption {
	return func(m *Manager) { m.sandbox = s }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) ManagerOption {
	return func(m *Manager) { m.logger = l }
}

// NewManager loads the skills in dir.
func NewManager(dir string, opts ...ManagerOption) (*Manager, error) {
	m := &Manager{
		dir:         dir,
		sandbox:     NewSandbox(nil),
		testTimeout: DefaultTestTimeout,
		runTimeout:  DefaultRunTimeout,
		logger:      slog.Default(),
		skills:      map[string]SkillSpec{},
	}
	for _, opt := range opts {
		opt(m)
	}
	specs, skipped, err := LoadDir(dir)
	if err != nil {
		return nil, err
	}
	for _, err := range skipped {
		m.logger.Warn("skills.load.skipped", "error", err)
	}
	for _, s := range specs {
		m.skills[s.Name] = s
	}
	return m, nil
}

// NormalizeName turns "Weather Report" into "weather-report".
func NormalizeName(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = separators.ReplaceAllString(name, "-")
	return strings.Trim(name, "-")
}

// List returns the installed skills sorted by name.
func (m *Manager) List() []SkillSpec {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]SkillSpec, 0, len(m.skills))
	for _, s := range m.skills {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// Get returns the named skill.
func (m *Manager) Get(name string) (SkillSpec, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.skills[NormalizeName(name)]
	return s, ok
}

// Install validates code, test-runs it in the sandbox and writes the skill
// directory. Installing an existing name replaces it.
func (m *Manager) Install(ctx context.Context, name, description, code string) (SkillSpec, error) {
	name = NormalizeName(name)
	description = strings.TrimSpace(description)
	if strings.TrimSpace(code) == "" {
		return SkillSpec{}, errors.New(errors.CodeInvalidInput, "skill code is empty", nil)
	}
	dir := filepath.Join(m.dir, name)
	spec := SkillSpec{Name: name, Description: description, Entry: entryFile,
		Installed: time.Now().UTC().Truncate(time.Second), Dir: dir, Path: filepath.Join(dir, ManifestFile)}
	if err := validate(spec); err != nil {
		return SkillSpec{}, err
	}
	if err := m.sandbox.Validate(code); err != nil {
		return SkillSpec{}, err
	}
	if err := m.sandbox.TestRun(ctx, code, m.testTimeout); err != nil {
		m.logger.Info("skills.install.test_failed", "skill", name, "error", err)
		return SkillSpec{}, errors.New(errors.CodeToolFailure, "test run failed: "+reason(err), err)
	}

	md, err := renderSkillMD(spec)
	if err != nil {
		return SkillSpec{}, err
	}
	if err := fsutil.WriteAtomic(filepath.Join(dir, entryFile), []byte(code), 0o600); err != nil {
		return SkillSpec{}, errors.New(errors.CodeInternal, "write skill code", err)
	}
	if err := fsutil.WriteAtomic(spec.Path, md, 0o600); err != nil {
		return SkillSpec{}, errors.New(errors.CodeInternal, "write skill manifest", err)
	}
	spec.Body = defaultBody(spec)

	m.mu.Lock()
	m.skills[name] = spec
	m.mu.Unlock()
	m.logger.Info("skills.install", "skill", name)
	return spec, nil
}

func defaultBody(s SkillSpec) string {
	return fmt.Sprintf("Run with run_skill(%q, \"input\").", s.Name)
}

func renderSkillMD(s SkillSpec) ([]byte, error) {
	fm, err := yaml.Marshal(manifest{Name: s.Name, Description: s.Description, Entry: s.Entry, Installed: s.Installed})
	if err != nil {
		return nil, errors.New(errors.CodeInternal, "encode skill manifest", err)
	}
	return []byte("---\n" + string(fm) + "---\n\n" + defaultBody(s) + "\n"), nil
}

// Run executes a skill. Instruction-only skills return their instructions.
func (m *Manager) Run(ctx context.Context, name, input string) (string, error) {
	spec, ok := m.Get(name)
	if !ok {
		return "", errors.New(errors.CodeNotFound, fmt.Sprintf("no skill named %q", name), nil)
	}
	if !spec.HasCode() {
		return spec.Body, nil
	}
	code, err := spec.Code()
	if err != nil {
		return "", errors.New(errors.CodeInternal, "read skill code", err).WithContext("skill", spec.Name)
	}
	ctx, cancel := context.WithTimeout(ctx, m.runTimeout)
	defer cancel()
	return m.sandbox.Run(ctx, code, input)
}

// Register adds install_skill, run_skill and list_skills to r.
func (m *Manager) Register(r *toolbox.Registry) error {
	specs := []struct {
		spec    toolbox.Spec
		handler toolbox.Handler
	}{
		{toolbox.Spec{Name: "install_skill", MinArgs: 3, MaxArgs: 3, Irreversible: true, Kind: governance.ActionSkill,
			Usage:       `install_skill("name", "description", "go source defining func Run(input string) (string, error)")`,
			Description: "write, test and keep a new skill"}, m.installSkill},
		{toolbox.Spec{Name: "run_skill", MinArgs: 1, MaxArgs: 2, Kind: governance.ActionSkill,
			Usage:       `run_skill("name", "input")`,
			Description: "run an installed skill"}, m.runSkill},
		{toolbox.Spec{Name: "list_skills", MinArgs: 0, MaxArgs: 0,
			Usage:       `list_skills()`,
			Description: "list installed skills"}, m.listSkills},
	}
	for _, s := range specs {
		if err := r.Register(s.spec, s.handler); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) installSkill(ctx context.Context, args []string) toolbox.Result {
	spec, err := m.Install(ctx, args[0], args[1], args[2])
	if err != nil {
		return toolbox.FromError(err)
	}
	return toolbox.OK("Installed skill %s; it passed its test run", spec.Name)
}

func (m *Manager) runSkill(ctx context.Context, args []string) toolbox.Result {
	var input string
	if len(args) > 1 {
		input = args[1]
	}
	out, err := m.Run(ctx, args[0], input)
	if err != nil {
		return toolbox.FromError(err)
	}
	if strings.TrimSpace(out) == "" {
		return toolbox.OK("Skill %s finished with no output", NormalizeName(args[0]))
	}
	return toolbox.OK("%s", out)
}

func (m *Manager) listSkills(context.Context, []string) toolbox.Result {
	list := m.List()
	if len(list) == 0 {
		return toolbox.OK("No skills installed")
	}
	var b strings.Builder
	b.WriteString("Installed skills:")
	for _, s := range list {
		fmt.Fprintf(&b, "\n- %s: %s", s.Name, s.Description)
	}
	return toolbox.OK("%s", b.String())
}

func reason(err error) string {
	if errors.CodeOf(err) != "" {
		return errors.AsOracleError(err).Message
	}
	return err.Error()
}
