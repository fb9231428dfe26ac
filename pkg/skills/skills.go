// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package skills loads, tests, installs and runs the agent's skills. A skill
// is a directory with a SKILL.md file and, optionally, a Go source file that
// is interpreted in a sandbox.
package skills

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"gopkg.in/yaml.v3"

	"github.com/jllopis/oracle/pkg/errors"
)

// ManifestFile names the skill manifest inside each skill directory.
const ManifestFile = "SKILL.md"

const (
	maxNameLen        = 64
	maxDescriptionLen = 1024
)

var namePattern = regexp.MustCompile(`^[a-z0-9]+(?:-[a-z0-9]+)*$`)

// SkillSpec is one skill as described by its SKILL.md.
type SkillSpec struct {
	Name        string
	Description string
	// Entry is the Go source file run by run_skill, relative to Dir. Empty
	// for instruction-only skills.
	Entry     string
	Installed time.Time
	Body      string
	Path      string
	Dir       string
}

// HasCode reports whether the skill has an entry source file.
func (s SkillSpec) HasCode() bool {
	return s.Entry != ""
}

// Code reads the entry source file.
func (s SkillSpec) Code() (string, error) {
	if s.Entry == "" {
		return "", errors.New(errors.CodeInvalidInput, fmt.Sprintf("skill %s has no code", s.Name), nil)
	}
	data, err := os.ReadFile(filepath.Join(s.Dir, s.Entry))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

type manifest struct {
	Name        string    `yaml:"name"`
	Description string    `yaml:"description"`
	Entry       string    `yaml:"entry,omitempty"`
	Installed   time.Time `yaml:"installed,omitempty"`
}

// LoadDir loads every <root>/<name>/SKILL.md. A missing root holds no
// skills. Skills that fail to load are left out and returned in skipped.
func LoadDir(root string) (specs []SkillSpec, skipped []error, err error) {
	entries, err := os.ReadDir(root)
	if os.IsNotExist(err) {
		return nil, nil, nil
	}
	if err != nil {
		return nil, nil, errors.New(errors.CodeInternal, "read skills dir", err).WithContext("dir", root)
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		path := filepath.Join(root, entry.Name(), ManifestFile)
		if _, err := os.Stat(path); err != nil {
			continue
		}
		skill, err := LoadFile(path)
		if err != nil {
			skipped = append(skipped, err)
			continue
		}
		specs = append(specs, skill)
	}
	return specs, skipped, nil
}

// LoadFile parses and validates one SKILL.md.
func LoadFile(path string) (SkillSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return SkillSpec{}, errors.New(errors.CodeInternal, "read skill manifest", err).WithContext("path", path)
	}
	head, body, err := splitManifest(string(data))
	if err != nil {
		return SkillSpec{}, errors.AsOracleError(err).WithContext("path", path)
	}
	var m manifest
	if err := yaml.Unmarshal([]byte(head), &m); err != nil {
		return SkillSpec{}, errors.New(errors.CodeInvalidInput, "skill manifest is not valid YAML", err).WithContext("path", path)
	}
	spec := SkillSpec{
		Name:        strings.TrimSpace(m.Name),
		Description: strings.TrimSpace(m.Description),
		Entry:       strings.TrimSpace(m.Entry),
		Installed:   m.Installed,
		Body:        body,
		Path:        path,
		Dir:         filepath.Dir(path),
	}
	if err := validate(spec); err != nil {
		return SkillSpec{}, errors.AsOracleError(err).WithContext("path", path)
	}
	return spec, nil
}

// splitManifest separates the YAML block delimited by "---" lines from the
// markdown body.
func splitManifest(content string) (head, body string, err error) {
	lines := strings.Split(strings.ReplaceAll(content, "\r\n", "\n"), "\n")
	start := 0
	for start < len(lines) && strings.TrimSpace(lines[start]) == "" {
		start++
	}
	if start == len(lines) || strings.TrimSpace(lines[start]) != "---" {
		return "", "", errors.New(errors.CodeInvalidInput, "skill manifest must start with a --- line", nil)
	}
	for i := start + 1; i < len(lines); i++ {
		if strings.TrimSpace(lines[i]) == "---" {
			head = strings.Join(lines[start+1:i], "\n")
			body = strings.TrimSpace(strings.Join(lines[i+1:], "\n"))
			return head, body, nil
		}
	}
	return "", "", errors.New(errors.CodeInvalidInput, "skill manifest header is not closed", nil)
}

func validate(spec SkillSpec) error {
	invalid := func(format string, args ...any) error {
		return errors.New(errors.CodeInvalidInput, fmt.Sprintf(format, args...), nil)
	}
	switch {
	case spec.Name == "":
		return invalid("skill name is required")
	case utf8.RuneCountInString(spec.Name) > maxNameLen:
		return invalid("skill name exceeds %d characters", maxNameLen)
	case !namePattern.MatchString(spec.Name):
		return invalid("skill name %q must be lowercase words joined by dashes", spec.Name)
	case filepath.Base(spec.Dir) != spec.Name:
		return invalid("skill name %q must match its directory %q", spec.Name, filepath.Base(spec.Dir))
	case spec.Description == "":
		return invalid("skill description is required")
	case utf8.RuneCountInString(spec.Description) > maxDescriptionLen:
		return invalid("skill description exceeds %d characters", maxDescriptionLen)
	}
	if spec.Entry != "" {
		clean := filepath.Clean(spec.Entry)
		if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) || filepath.Ext(clean) != ".go" {
			return invalid("skill entry must be a .go file inside the skill directory, got %q", spec.Entry)
		}
	}
	return nil
}
