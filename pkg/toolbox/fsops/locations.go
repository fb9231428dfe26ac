// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package fsops

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/jllopis/oracle/pkg/errors"
)

// Config configures the filesystem directives.
type Config struct {
	// Workspace is the default directory and always an allowed root.
	Workspace string
	// Home is the user home; empty means os.UserHomeDir.
	Home string
	// AllowedRoots are extra directories directives may touch.
	AllowedRoots []string
	// Projects maps names usable as locations to directories. Each one is
	// also an allowed root.
	Projects map[string]string
}

var wellKnown = map[string]string{
	"desktop":   "Desktop",
	"documents": "Documents",
	"downloads": "Downloads",
}

// Locations resolves location tokens and enforces the allowed roots.
type Locations struct {
	workspace string
	home      string
	projects  map[string]string
	roots     []string
}

// NewLocations validates cfg and builds the root set. The workspace is
// created when missing.
func NewLocations(cfg Config) (*Locations, error) {
	if strings.TrimSpace(cfg.Workspace) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "workspace is required", nil)
	}
	home := cfg.Home
	if home == "" {
		if h, err := os.UserHomeDir(); err == nil {
			home = h
		}
	}
	workspace, err := filepath.Abs(cfg.Workspace)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(workspace, 0o755); err != nil {
		return nil, errors.New(errors.CodeInternal, "create workspace", err)
	}
	l := &Locations{
		workspace: workspace,
		home:      home,
		projects:  make(map[string]string, len(cfg.Projects)),
	}
	l.roots = append(l.roots, workspace)
	if home != "" {
		for _, dir := range wellKnown {
			l.roots = append(l.roots, filepath.Join(home, dir))
		}
	}
	for name, dir := range cfg.Projects {
		abs, err := filepath.Abs(expandHome(dir, home))
		if err != nil {
			return nil, err
		}
		l.projects[strings.ToLower(strings.TrimSpace(name))] = abs
		l.roots = append(l.roots, abs)
	}
	for _, root := range cfg.AllowedRoots {
		abs, err := filepath.Abs(expandHome(root, home))
		if err != nil {
			return nil, err
		}
		l.roots = append(l.roots, abs)
	}
	return l, nil
}

// Workspace returns the default directory.
func (l *Locations) Workspace() string { return l.workspace }

// Roots returns the allowed roots.
func (l *Locations) Roots() []string { return append([]string(nil), l.roots...) }

// Resolve turns a location token into a directory. Accepted tokens: empty
// (workspace), workspace, desktop, documents, downloads, home, a configured
// project name, "<name> folder", or a path. Relative paths are taken from the
// workspace. The result is not checked against the roots: home resolves but
// is not a root, so Path refuses it and anything directly under it.
func (l *Locations) Resolve(location string) string {
	token := strings.TrimSpace(location)
	lower := strings.ToLower(token)
	lower = strings.TrimPrefix(lower, "the ")
	switch lower {
	case "", "workspace", "default":
		return l.workspace
	case "home", "~":
		if l.home != "" {
			return l.home
		}
		return l.workspace
	}
	if dir, ok := wellKnown[lower]; ok && l.home != "" {
		return filepath.Join(l.home, dir)
	}
	if dir, ok := l.projects[lower]; ok {
		return dir
	}
	if strings.HasSuffix(lower, " folder") {
		name := strings.TrimSpace(token[:len(token)-len(" folder")])
		if strings.HasPrefix(strings.ToLower(name), "the ") {
			name = strings.TrimSpace(name[4:])
		}
		if name == "" {
			return l.workspace
		}
		key := strings.ToLower(name)
		if _, ok := wellKnown[key]; ok {
			return l.Resolve(key)
		}
		if key == "home" {
			return l.Resolve(key)
		}
		if dir, ok := l.projects[key]; ok {
			return dir
		}
		return filepath.Join(l.workspace, name)
	}
	token = expandHome(token, l.home)
	if filepath.IsAbs(token) {
		return filepath.Clean(token)
	}
	return filepath.Join(l.workspace, token)
}

// Path resolves name inside location and checks the result stays within an
// allowed root.
func (l *Locations) Path(name, location string) (string, error) {
	name = strings.TrimSpace(name)
	var target string
	switch {
	case name == "":
		target = l.Resolve(location)
	case filepath.IsAbs(expandHome(name, l.home)):
		target = filepath.Clean(expandHome(name, l.home))
	default:
		target = filepath.Join(l.Resolve(location), name)
	}
	if !l.Allowed(target) {
		msg := "path is outside the allowed folders"
		if l.home != "" && within(evalExisting(l.home), evalExisting(target)) {
			msg += "; the home folder is not one of them, use desktop, documents, downloads, the workspace or a project"
		}
		return "", errors.New(errors.CodeInvalidInput, msg, nil).WithContext("path", target)
	}
	return target, nil
}

// Allowed reports whether target lies within an allowed root once symlinks in
// its existing prefix are resolved.
func (l *Locations) Allowed(target string) bool {
	resolved := evalExisting(target)
	for _, root := range l.roots {
		if within(evalExisting(root), resolved) {
			return true
		}
	}
	return false
}

// IsRoot reports whether target is one of the allowed roots.
func (l *Locations) IsRoot(target string) bool {
	resolved := evalExisting(target)
	for _, root := range l.roots {
		if evalExisting(root) == resolved {
			return true
		}
	}
	return false
}

func within(root, target string) bool {
	rel, err := filepath.Rel(root, target)
	if err != nil {
		return false
	}
	return rel == "." || (rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)))
}

// evalExisting resolves symlinks in the longest existing prefix of p.
func evalExisting(p string) string {
	p = filepath.Clean(p)
	rest := ""
	cur := p
	for {
		if resolved, err := filepath.EvalSymlinks(cur); err == nil {
			if rest == "" {
				return resolved
			}
			return filepath.Join(resolved, rest)
		}
		parent := filepath.Dir(cur)
		if parent == cur {
			return p
		}
		rest = filepath.Join(filepath.Base(cur), rest)
		cur = parent
	}
}

func expandHome(p, home string) string {
	if home == "" {
		return p
	}
	if p == "~" {
		return home
	}
	if strings.HasPrefix(p, "~/") {
		return filepath.Join(home, p[2:])
	}
	return p
}
