// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package statesync keeps the state directory in step with a git remote so
// several machines can share one assistant: it pulls before the stores open
// and commits and pushes after they flush.
package statesync

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/jllopis/oracle/pkg/errors"
)

// Defaults used when the options leave them empty.
const (
	DefaultRemote = "origin"
	DefaultBranch = "main"
)

// DefaultPaths are the state entries committed on shutdown.
var DefaultPaths = []string{"memory", "persona", "logs"}

// Runner executes git in dir and returns its combined output.
type Runner func(ctx context.Context, dir string, args ...string) (string, error)

func execRunner(ctx context.Context, dir string, args ...string) (string, error) {
	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = dir
	cmd.Stdout = &out
	cmd.Stderr = &out
	err := cmd.Run()
	text := strings.TrimSpace(out.String())
	if err != nil && text != "" {
		return text, fmt.Errorf("%w: %s", err, text)
	}
	return text, err
}

// Syncer pulls and pushes one git working tree.
type Syncer struct {
	dir    string
	remote string
	branch string
	paths  []string
	user   func() string
	run    Runner
	now    func() time.Time
	logger *slog.Logger
}

// Option configures a Syncer.
type Option func(*Syncer)

// WithRemote sets the git remote.
func WithRemote(name string) Option {
	return func(s *Syncer) {
		if name != "" {
			s.remote = name
		}
	}
}

// WithBranch sets the branch pulled and pushed.
func WithBranch(name string) Option {
	return func(s *Syncer) {
		if name != "" {
			s.branch = name
		}
	}
}

// WithPaths replaces DefaultPaths. Paths are relative to the working tree.
func WithPaths(paths ...string) Option {
	return func(s *Syncer) {
		if len(paths) > 0 {
			s.paths = paths
		}
	}
}

// WithUser names the commit author in the message. It is called at push
// time so the current user is recorded.
func WithUser(fn func() string) Option {
	return func(s *Syncer) { s.user = fn }
}

// WithRunner replaces git execution.
func WithRunner(r Runner) Option {
	return func(s *Syncer) {
		if r != nil {
			s.run = r
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Syncer) {
		if l != nil {
			s.logger = l
		}
	}
}

// New returns a Syncer for the working tree at dir.
func New(dir string, opts ...Option) *Syncer {
	s := &Syncer{
		dir:    dir,
		remote: DefaultRemote,
		branch: DefaultBranch,
		paths:  DefaultPaths,
		run:    execRunner,
		now:    time.Now,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Pull rebases local state onto the remote branch.
func (s *Syncer) Pull(ctx context.Context) error {
	start := s.now()
	if _, err := s.run(ctx, s.dir, "pull", s.remote, s.branch, "--rebase"); err != nil {
		return s.fail(errors.CodeUnreachable, "git pull failed", err)
	}
	s.logger.Info("statesync.pull", "remote", s.remote, "branch", s.branch,
		"duration_ms", s.now().Sub(start).Milliseconds())
	return nil
}

// Push commits the tracked paths and pushes them. A tree with nothing to
// commit is not an error and is not pushed.
func (s *Syncer) Push(ctx context.Context) error {
	var paths []string
	for _, p := range s.paths {
		if _, err := os.Stat(filepath.Join(s.dir, p)); err == nil {
			paths = append(paths, p)
		}
	}
	if len(paths) == 0 {
		s.logger.Debug("statesync.push.skip", "reason", "no tracked paths")
		return nil
	}
	if _, err := s.run(ctx, s.dir, append([]string{"add", "--"}, paths...)...); err != nil {
		return s.fail(errors.CodeInternal, "git add failed", err)
	}
	// diff --quiet exits non-zero when something is staged.
	if _, err := s.run(ctx, s.dir, "diff", "--cached", "--quiet"); err == nil {
		s.logger.Info("statesync.push.clean")
		return nil
	}
	msg := s.message()
	if _, err := s.run(ctx, s.dir, "commit", "-m", msg); err != nil {
		return s.fail(errors.CodeInternal, "git commit failed", err)
	}
	if _, err := s.run(ctx, s.dir, "push", s.remote, s.branch); err != nil {
		return s.fail(errors.CodeUnreachable, "git push failed", err)
	}
	s.logger.Info("statesync.push", "remote", s.remote, "branch", s.branch, "message", msg)
	return nil
}

func (s *Syncer) message() string {
	user := ""
	if s.user != nil {
		user = s.user()
	}
	if user == "" {
		user = "unknown user"
	}
	return fmt.Sprintf("Oracle sync: %s at %s", user, s.now().Format("2006-01-02 15:04:05"))
}

func (s *Syncer) fail(code errors.ErrorCode, msg string, err error) error {
	return errors.New(code, msg, err).
		WithContext("dir", s.dir).
		WithContext("remote", s.remote).
		WithContext("branch", s.branch)
}
