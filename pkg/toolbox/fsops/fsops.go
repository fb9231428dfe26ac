// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package fsops provides the file and folder directives.
package fsops

import (
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"os"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jllopis/oracle/internal/fsutil"
	"github.com/jllopis/oracle/pkg/toolbox"
)

// MaxReadBytes caps how much of a file read_file returns.
const MaxReadBytes = 64 * 1024

// FS implements the filesystem directives.
type FS struct {
	loc     *Locations
	locks   *fsutil.Locks
	started time.Time
}

// New creates the filesystem directives over cfg.
func New(cfg Config) (*FS, error) {
	loc, err := NewLocations(cfg)
	if err != nil {
		return nil, err
	}
	return &FS{loc: loc, locks: fsutil.NewLocks(), started: time.Now()}, nil
}

// Locations exposes the location resolver.
func (f *FS) Locations() *Locations { return f.loc }

// Register adds the filesystem directives to r.
func (f *FS) Register(r *toolbox.Registry) error {
	specs := []struct {
		spec    toolbox.Spec
		handler toolbox.Handler
	}{
		{toolbox.Spec{Name: "create_folder", MinArgs: 1, MaxArgs: 2,
			Usage:       `create_folder("name", "location")`,
			Description: "create a folder; location is optional (desktop, documents, downloads, a project, or \"<name> folder\")"}, f.createFolder},
		{toolbox.Spec{Name: "write_to_file", MinArgs: 2, MaxArgs: 3,
			Usage:       `write_to_file("path", "content", "location")`,
			Description: "create or replace a text file"}, f.writeFile},
		{toolbox.Spec{Name: "append_to_file", MinArgs: 2, MaxArgs: 3,
			Usage:       `append_to_file("path", "content", "location")`,
			Description: "add text to the end of a file"}, f.appendFile},
		{toolbox.Spec{Name: "read_file", MinArgs: 1, MaxArgs: 2,
			Usage:       `read_file("path", "location")`,
			Description: "read a text file"}, f.readFile},
		{toolbox.Spec{Name: "list_folder", MinArgs: 0, MaxArgs: 1,
			Usage:       `list_folder("location")`,
			Description: "list a folder"}, f.listFolder},
		{toolbox.Spec{Name: "delete_file", MinArgs: 1, MaxArgs: 2, Irreversible: true,
			Usage:       `delete_file("path", "location")`,
			Description: "delete a file"}, f.deleteFile},
		{toolbox.Spec{Name: "delete_folder", MinArgs: 1, MaxArgs: 2, Irreversible: true,
			Usage:       `delete_folder("name", "location")`,
			Description: "delete a folder and everything in it"}, f.deleteFolder},
		{toolbox.Spec{Name: "check_system_status", MinArgs: 0, MaxArgs: 0,
			Usage:       `check_system_status()`,
			Description: "report memory use and uptime of the agent"}, f.systemStatus},
	}
	for _, s := range specs {
		if err := r.Register(s.spec, s.handler); err != nil {
			return err
		}
	}
	return nil
}

func optional(args []string, i int) string {
	if i < len(args) {
		return args[i]
	}
	return ""
}

func (f *FS) createFolder(_ context.Context, args []string) toolbox.Result {
	path, err := f.loc.Path(args[0], optional(args, 1))
	if err != nil {
		return toolbox.FromError(err)
	}
	if info, err := os.Stat(path); err == nil {
		if !info.IsDir() {
			return toolbox.Failed("%s exists and is not a folder", path)
		}
		return toolbox.OK("Folder already exists: %s", path)
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return toolbox.Failed("could not create folder %s: %v", path, err)
	}
	return toolbox.OK("Created folder %s", path)
}

func (f *FS) writeFile(_ context.Context, args []string) toolbox.Result {
	path, err := f.loc.Path(args[0], optional(args, 2))
	if err != nil {
		return toolbox.FromError(err)
	}
	unlock := f.locks.Lock(path)
	defer unlock()
	if err := fsutil.WriteAtomic(path, []byte(args[1]), 0o644); err != nil {
		return toolbox.Failed("could not write %s: %v", path, err)
	}
	return toolbox.OK("Wrote %d bytes to %s", len(args[1]), path)
}

func (f *FS) appendFile(_ context.Context, args []string) toolbox.Result {
	path, err := f.loc.Path(args[0], optional(args, 2))
	if err != nil {
		return toolbox.FromError(err)
	}
	unlock := f.locks.Lock(path)
	defer unlock()
	existing, err := os.ReadFile(path)
	if err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return toolbox.Failed("could not read %s: %v", path, err)
	}
	data := append(existing, args[1]...)
	if err := fsutil.WriteAtomic(path, data, 0o644); err != nil {
		return toolbox.Failed("could not write %s: %v", path, err)
	}
	return toolbox.OK("Appended %d bytes to %s", len(args[1]), path)
}

func (f *FS) readFile(_ context.Context, args []string) toolbox.Result {
	path, err := f.loc.Path(args[0], optional(args, 1))
	if err != nil {
		return toolbox.FromError(err)
	}
	file, err := os.Open(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return toolbox.Failed("file not found: %s", path)
		}
		return toolbox.Failed("could not open %s: %v", path, err)
	}
	defer file.Close()
	data, err := io.ReadAll(io.LimitReader(file, MaxReadBytes+1))
	if err != nil {
		return toolbox.Failed("could not read %s: %v", path, err)
	}
	if len(data) > MaxReadBytes {
		return toolbox.OK("%s (first %d bytes):\n%s", path, MaxReadBytes, data[:MaxReadBytes])
	}
	return toolbox.OK("%s:\n%s", path, data)
}

func (f *FS) listFolder(_ context.Context, args []string) toolbox.Result {
	path, err := f.loc.Path("", optional(args, 0))
	if err != nil {
		return toolbox.FromError(err)
	}
	entries, err := os.ReadDir(path)
	if err != nil {
		if stderrors.Is(err, fs.ErrNotExist) {
			return toolbox.Failed("folder not found: %s", path)
		}
		return toolbox.Failed("could not list %s: %v", path, err)
	}
	if len(entries) == 0 {
		return toolbox.OK("%s is empty", path)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			name += "/"
		}
		names = append(names, name)
	}
	sort.Strings(names)
	return toolbox.OK("%s:\n%s", path, strings.Join(names, "\n"))
}

func (f *FS) deleteFile(_ context.Context, args []string) toolbox.Result {
	path, err := f.loc.Path(args[0], optional(args, 1))
	if err != nil {
		return toolbox.FromError(err)
	}
	unlock := f.locks.Lock(path)
	defer unlock()
	info, err := os.Lstat(path)
	if err != nil {
		return toolbox.Failed("file not found: %s", path)
	}
	if info.IsDir() {
		return toolbox.Failed("%s is a folder; use delete_folder", path)
	}
	if err := os.Remove(path); err != nil {
		return toolbox.Failed("could not delete %s: %v", path, err)
	}
	return toolbox.OK("Deleted file %s", path)
}

func (f *FS) deleteFolder(_ context.Context, args []string) toolbox.Result {
	path, err := f.loc.Path(args[0], optional(args, 1))
	if err != nil {
		return toolbox.FromError(err)
	}
	if f.loc.IsRoot(path) {
		return toolbox.Failed("refusing to delete %s: it is a top level folder", path)
	}
	info, err := os.Lstat(path)
	if err != nil {
		return toolbox.Failed("folder not found: %s", path)
	}
	if !info.IsDir() {
		return toolbox.Failed("%s is not a folder; use delete_file", path)
	}
	if err := os.RemoveAll(path); err != nil {
		return toolbox.Failed("could not delete %s: %v", path, err)
	}
	return toolbox.OK("Deleted folder %s", path)
}

func (f *FS) systemStatus(context.Context, []string) toolbox.Result {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return toolbox.OK(
		"Uptime %s, heap %s in use of %s reserved, %d goroutines, %d GC cycles, %d CPUs. Workspace: %s",
		time.Since(f.started).Round(time.Second),
		humanize.IBytes(ms.HeapInuse), humanize.IBytes(ms.Sys),
		runtime.NumGoroutine(), ms.NumGC, runtime.NumCPU(), f.loc.Workspace())
}

// Path is a helper for collaborators that need the resolved location of a
// file without running a directive.
func (f *FS) Path(name, location string) (string, error) {
	return f.loc.Path(name, location)
}
