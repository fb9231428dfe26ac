// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package persona holds the agent's installed character traits and the name
// of the person it is talking to.
package persona

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/jllopis/oracle/internal/fsutil"
	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/toolbox"
)

const (
	// TraitsFile is the JSON array of installed traits.
	TraitsFile = "traits.json"
	// UserFile records the active user.
	UserFile = "user.json"

	maxTraitLen = 500
)

// State is the persisted persona. Traits are append-only and unique.
type State struct {
	dir string

	mu     sync.RWMutex
	traits []string
	user   string
}

type userRecord struct {
	Name string `json:"name"`
}

// Load reads the persona stored in dir. Missing files mean an empty persona.
func Load(dir string) (*State, error) {
	s := &State{dir: dir}
	if err := readJSON(filepath.Join(dir, TraitsFile), &s.traits); err != nil {
		return nil, err
	}
	var u userRecord
	if err := readJSON(filepath.Join(dir, UserFile), &u); err != nil {
		return nil, err
	}
	s.user = u.Name
	return s, nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) || (err == nil && len(strings.TrimSpace(string(data))) == 0) {
		return nil
	}
	if err != nil {
		return errors.New(errors.CodeInternal, "read persona", err).WithContext("path", path)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return errors.New(errors.CodeInvalidInput, "persona file is malformed", err).WithContext("path", path)
	}
	return nil
}

func writeJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.New(errors.CodeInternal, "encode persona", err)
	}
	if err := fsutil.WriteAtomic(path, data, 0o600); err != nil {
		return errors.New(errors.CodePersistenceWarning, "write persona", err).WithContext("path", path)
	}
	return nil
}

// Install adds trait and persists the list. It reports false when the trait
// is already installed.
func (s *State) Install(trait string) (bool, error) {
	trait = strings.Join(strings.Fields(trait), " ")
	if trait == "" {
		return false, errors.New(errors.CodeInvalidInput, "trait is empty", nil)
	}
	if len(trait) > maxTraitLen {
		return false, errors.New(errors.CodeInvalidInput, fmt.Sprintf("trait is longer than %d characters", maxTraitLen), nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range s.traits {
		if strings.EqualFold(t, trait) {
			return false, nil
		}
	}
	next := append(append([]string(nil), s.traits...), trait)
	if err := writeJSON(filepath.Join(s.dir, TraitsFile), next); err != nil {
		return false, err
	}
	s.traits = next
	return true, nil
}

// Traits returns the installed traits in install order.
func (s *State) Traits() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.traits...)
}

// SetUser records the active user.
func (s *State) SetUser(name string) error {
	name = strings.Join(strings.Fields(name), " ")
	if name == "" {
		return errors.New(errors.CodeInvalidInput, "user name is empty", nil)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := writeJSON(filepath.Join(s.dir, UserFile), userRecord{Name: name}); err != nil {
		return err
	}
	s.user = name
	return nil
}

// User returns the active user, or "" when unknown.
func (s *State) User() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.user
}

// Directives renders the persona section of the prompt.
func (s *State) Directives() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var b strings.Builder
	if len(s.traits) == 0 {
		b.WriteString("No core traits installed yet.\n")
	} else {
		b.WriteString("Core personality traits:\n")
		for i, t := range s.traits {
			fmt.Fprintf(&b, "%d. %s\n", i+1, t)
		}
	}
	if s.user != "" {
		fmt.Fprintf(&b, "You are talking with %s.\n", s.user)
	}
	return strings.TrimRight(b.String(), "\n")
}

// Register adds install_trait and set_user to r.
func (s *State) Register(r *toolbox.Registry) error {
	if err := r.Register(toolbox.Spec{
		Name: "install_trait", MinArgs: 1, MaxArgs: 1,
		Usage:       `install_trait("trait")`,
		Description: "permanently add a personality trait or rule to yourself",
	}, s.installTrait); err != nil {
		return err
	}
	return r.Register(toolbox.Spec{
		Name: "set_user", MinArgs: 1, MaxArgs: 1,
		Usage:       `set_user("name")`,
		Description: "remember the name of the person you are talking with",
	}, s.setUser)
}

func (s *State) installTrait(_ context.Context, args []string) toolbox.Result {
	added, err := s.Install(args[0])
	if err != nil {
		return toolbox.FromError(err)
	}
	if !added {
		return toolbox.OK("Trait already installed: %s", strings.TrimSpace(args[0]))
	}
	return toolbox.OK("Installed trait #%d: %s", len(s.Traits()), strings.TrimSpace(args[0]))
}

func (s *State) setUser(_ context.Context, args []string) toolbox.Result {
	if err := s.SetUser(args[0]); err != nil {
		return toolbox.FromError(err)
	}
	return toolbox.OK("Now talking with %s", s.User())
}
