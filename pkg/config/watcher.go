// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce collapses the burst of events an editor save produces.
const DefaultDebounce = 200 * time.Millisecond

// Watcher reloads the configuration when one of its files changes on disk.
// Reloads go through the same loader as startup, so environment and --set
// overrides keep precedence over the edited file. A reload that fails keeps
// the previous configuration and notifies nobody.
type Watcher struct {
	paths    map[string]bool
	dirs     []string
	debounce time.Duration
	loader   func() (*Config, error)
	logger   *slog.Logger
	fsw      *fsnotify.Watcher

	mu        sync.RWMutex
	config    *Config
	listeners []func(*Config)

	startOnce sync.Once
	stopOnce  sync.Once
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// WatcherOption configures the watcher.
type WatcherOption func(*Watcher)

// WithDebounce sets how long the watcher waits for events to settle.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.debounce = d
		}
	}
}

// WithWatchLogger sets the logger for the watcher.
func WithWatchLogger(logger *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if logger != nil {
			w.logger = logger
		}
	}
}

// WithLoader replaces the function used to (re)load configuration.
func WithLoader(fn func() (*Config, error)) WatcherOption {
	return func(w *Watcher) {
		if fn != nil {
			w.loader = fn
		}
	}
}

// NewWatcher loads the configuration once and prepares to watch paths. The
// first path is the main file read by the default loader. Directories are
// watched rather than files so that editors replacing the file by rename
// are seen too.
func NewWatcher(paths []string, opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		paths:    make(map[string]bool, len(paths)),
		debounce: DefaultDebounce,
		logger:   slog.Default(),
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	primary := ""
	if len(paths) > 0 {
		primary = paths[0]
	}
	w.loader = func() (*Config, error) { return Load(primary) }
	for _, opt := range opts {
		opt(w)
	}

	seen := map[string]bool{}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, err
		}
		w.paths[abs] = true
		if dir := filepath.Dir(abs); !seen[dir] {
			seen[dir] = true
			w.dirs = append(w.dirs, dir)
		}
	}

	cfg, err := w.loader()
	if err != nil {
		return nil, err
	}
	w.config = cfg

	if w.fsw, err = fsnotify.NewWatcher(); err != nil {
		return nil, err
	}
	for _, dir := range w.dirs {
		if err := w.fsw.Add(dir); err != nil {
			_ = w.fsw.Close()
			return nil, err
		}
	}
	return w, nil
}

// OnChange registers a callback run after every successful reload.
func (w *Watcher) OnChange(fn func(*Config)) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.listeners = append(w.listeners, fn)
}

// Config returns the current configuration.
func (w *Watcher) Config() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.config
}

// Start begins watching until ctx ends or Stop is called.
func (w *Watcher) Start(ctx context.Context) {
	w.startOnce.Do(func() { go w.run(ctx) })
}

// Stop ends the watch and waits for the event loop. It is safe to call
// more than once, with or without Start.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.startOnce.Do(func() { close(w.doneCh) })
		<-w.doneCh
		_ = w.fsw.Close()
	})
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if !w.paths[filepath.Clean(ev.Name)] || ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.Debug("config.watch.event", "path", ev.Name, "op", ev.Op.String())
			timer.Reset(w.debounce)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("config.watch.error", "error", err)
		case <-timer.C:
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := w.loader()
	if err != nil {
		w.logger.Error("config.reload.error", "error", err)
		return
	}

	w.mu.Lock()
	w.config = cfg
	listeners := make([]func(*Config), len(w.listeners))
	copy(listeners, w.listeners)
	w.mu.Unlock()

	w.logger.Info("config.reload", "listeners", len(listeners))
	for _, fn := range listeners {
		fn(cfg)
	}
}

// WatchCLI loads configuration from args like LoadWithCLI and starts a
// watcher over the --config file and its profile overlay.
func WatchCLI(ctx context.Context, args []string, opts ...WatcherOption) (*Watcher, error) {
	cli, _, err := parseCLIOverrides(args)
	if err != nil {
		return nil, err
	}
	var paths []string
	if cli.path != "" {
		paths = append(paths, cli.path)
		if cli.profile != "" {
			paths = append(paths, ProfileConfigPath(cli.path, cli.profile))
		}
	}
	opts = append([]WatcherOption{WithLoader(func() (*Config, error) { return LoadWithCLI(args) })}, opts...)
	w, err := NewWatcher(paths, opts...)
	if err != nil {
		return nil, err
	}
	w.Start(ctx)
	return w, nil
}
