// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package vision captures the screen, reads its text and hands the result to
// the next request exactly once.
package vision

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jllopis/oracle/pkg/errors"
)

// PathPlaceholder is replaced by the capture file in command arguments.
const PathPlaceholder = "{path}"

// DefaultKeep is how many capture images are kept on disk.
const DefaultKeep = 10

// Capture is one observation of the screen.
type Capture struct {
	ExtractedText string
	ImagePath     string
	At            time.Time
}

// Capturer observes the screen.
type Capturer interface {
	Capture(ctx context.Context) (Capture, error)
}

// Runner executes a command and returns its standard output.
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stderr = &stderr
	out, err := cmd.Output()
	if err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return out, fmt.Errorf("%w: %s", err, msg)
		}
		return out, err
	}
	return out, nil
}

// CommandCapturer runs a screenshot command and then an OCR command.
type CommandCapturer struct {
	dir        string
	screenshot []string
	ocr        []string
	keep       int
	run        Runner
	now        func() time.Time
	logger     *slog.Logger
}

// Option configures a CommandCapturer.
type Option func(*CommandCapturer)

// WithRunner replaces command execution.
func WithRunner(r Runner) Option {
	return func(c *CommandCapturer) { c.run = r }
}

// WithKeep sets how many captures stay on disk.
func WithKeep(n int) Option {
	return func(c *CommandCapturer) {
		if n > 0 {
			c.keep = n
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *CommandCapturer) { c.logger = l }
}

// NewCommandCapturer stores captures in dir. An empty ocr command defaults to
// tesseract.
func NewCommandCapturer(dir string, screenshot, ocr []string, opts ...Option) (*CommandCapturer, error) {
	if len(screenshot) == 0 {
		return nil, errors.New(errors.CodeInvalidInput, "screenshot command is not configured", nil)
	}
	if len(ocr) == 0 {
		ocr = []string{"tesseract", PathPlaceholder, "stdout"}
	}
	c := &CommandCapturer{
		dir:        dir,
		screenshot: screenshot,
		ocr:        ocr,
		keep:       DefaultKeep,
		run:        execRunner,
		now:        time.Now,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.New(errors.CodeInternal, "create capture dir", err)
	}
	return c, nil
}

func expand(argv []string, path string) (string, []string) {
	out := make([]string, len(argv))
	for i, a := range argv {
		out[i] = strings.ReplaceAll(a, PathPlaceholder, path)
	}
	return out[0], out[1:]
}

// Capture implements Capturer.
func (c *CommandCapturer) Capture(ctx context.Context) (Capture, error) {
	at := c.now()
	path := filepath.Join(c.dir, fmt.Sprintf("capture_%d.png", at.UnixNano()))
	name, args := expand(c.screenshot, path)
	if _, err := c.run(ctx, name, args...); err != nil {
		return Capture{}, errors.New(errors.CodeToolFailure, "screenshot failed", err).WithContext("command", name)
	}
	if _, err := os.Stat(path); err != nil {
		return Capture{}, errors.New(errors.CodeToolFailure, "screenshot command did not write the image", err).
			WithContext("path", path)
	}
	name, args = expand(c.ocr, path)
	out, err := c.run(ctx, name, args...)
	if err != nil {
		return Capture{}, errors.New(errors.CodeToolFailure, "text recognition failed", err).WithContext("command", name)
	}
	if err := c.cleanup(); err != nil {
		c.logger.Warn("vision.cleanup.error", "dir", c.dir, "error", err)
	}
	return Capture{ExtractedText: strings.TrimSpace(string(out)), ImagePath: path, At: at}, nil
}

// cleanup removes the oldest captures beyond the keep limit.
func (c *CommandCapturer) cleanup() error {
	matches, err := filepath.Glob(filepath.Join(c.dir, "capture_*.png"))
	if err != nil || len(matches) <= c.keep {
		return err
	}
	type file struct {
		path string
		mod  time.Time
	}
	files := make([]file, 0, len(matches))
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		files = append(files, file{m, info.ModTime()})
	}
	sort.Slice(files, func(i, j int) bool {
		if files[i].mod.Equal(files[j].mod) {
			return files[i].path < files[j].path
		}
		return files[i].mod.Before(files[j].mod)
	})
	for len(files) > c.keep {
		if err := os.Remove(files[0].path); err != nil && !os.IsNotExist(err) {
			return err
		}
		files = files[1:]
	}
	return nil
}

// Slot holds at most one capture until the next request takes it.
type Slot struct {
	mu   sync.Mutex
	snap *Capture
}

// Put stores c, replacing any capture not yet consumed.
func (s *Slot) Put(c Capture) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap = &c
}

// Take returns the stored capture and clears the slot.
func (s *Slot) Take() (Capture, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snap == nil {
		return Capture{}, false
	}
	c := *s.snap
	s.snap = nil
	return c, true
}

// Observe captures the screen into slot.
func Observe(ctx context.Context, c Capturer, slot *Slot) (Capture, error) {
	capture, err := c.Capture(ctx)
	if err != nil {
		return Capture{}, err
	}
	slot.Put(capture)
	return capture, nil
}

var _ Capturer = (*CommandCapturer)(nil)
