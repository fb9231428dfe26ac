// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package savepoint packs Oracle's persisted state into a zip archive under
// the backups directory, so it can be moved to another machine.
package savepoint

import (
	"archive/zip"
	"context"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jllopis/oracle/pkg/errors"
)

// BackupDir is the directory, relative to the state dir, archives go to.
const BackupDir = "backups"

// DefaultEntries is what a savepoint holds, relative to the state dir.
var DefaultEntries = []string{"memory", "persona", "logs", "skills", "approvals.db"}

// Savepoint describes a written archive.
type Savepoint struct {
	Path    string
	Files   int
	Bytes   int64
	Skipped []string
	At      time.Time
}

// String summarizes the archive for the user.
func (s Savepoint) String() string {
	return s.Path + " (" + humanize.Bytes(uint64(s.Bytes)) + ", " + humanize.Comma(int64(s.Files)) + " files)"
}

// Options tunes Create.
type Options struct {
	// Entries overrides DefaultEntries.
	Entries []string
	// Extra are absolute paths archived under "extra/", such as the config file.
	Extra  []string
	Now    func() time.Time
	Logger *slog.Logger
}

// Create archives the state held in stateDir. Missing entries are skipped and
// reported. The archive is written to a temporary file and renamed into place.
func Create(ctx context.Context, stateDir string, opts Options) (Savepoint, error) {
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	entries := opts.Entries
	if entries == nil {
		entries = DefaultEntries
	}

	at := opts.Now()
	dir := filepath.Join(stateDir, BackupDir)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return Savepoint{}, errors.New(errors.CodeInternal, "create backup dir", err)
	}
	tmp, err := os.CreateTemp(dir, ".savepoint-*")
	if err != nil {
		return Savepoint{}, errors.New(errors.CodeInternal, "create backup file", err)
	}
	defer os.Remove(tmp.Name())

	sp := Savepoint{At: at, Path: filepath.Join(dir, "oracle_savepoint_"+at.Format("20060102_150405")+".zip")}
	zw := zip.NewWriter(tmp)
	for _, entry := range entries {
		src := filepath.Join(stateDir, entry)
		if _, err := os.Stat(src); err != nil {
			opts.Logger.Warn("savepoint.entry.missing", "entry", entry)
			sp.Skipped = append(sp.Skipped, entry)
			continue
		}
		if err := addTree(ctx, zw, src, filepath.ToSlash(entry), &sp); err != nil {
			_ = zw.Close()
			_ = tmp.Close()
			return Savepoint{}, err
		}
	}
	for _, extra := range opts.Extra {
		if _, err := os.Stat(extra); err != nil {
			sp.Skipped = append(sp.Skipped, extra)
			continue
		}
		if err := addTree(ctx, zw, extra, "extra/"+filepath.Base(extra), &sp); err != nil {
			_ = zw.Close()
			_ = tmp.Close()
			return Savepoint{}, err
		}
	}
	if err := zw.Close(); err != nil {
		_ = tmp.Close()
		return Savepoint{}, errors.New(errors.CodeInternal, "finish archive", err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return Savepoint{}, errors.New(errors.CodeInternal, "sync archive", err)
	}
	if err := tmp.Close(); err != nil {
		return Savepoint{}, errors.New(errors.CodeInternal, "close archive", err)
	}
	if err := os.Rename(tmp.Name(), sp.Path); err != nil {
		return Savepoint{}, errors.New(errors.CodeInternal, "move archive into place", err)
	}
	if info, err := os.Stat(sp.Path); err == nil {
		sp.Bytes = info.Size()
	}
	opts.Logger.Info("savepoint.created", "path", sp.Path, "files", sp.Files, "bytes", sp.Bytes)
	return sp, nil
}

func addTree(ctx context.Context, zw *zip.Writer, root, prefix string, sp *Savepoint) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return errors.New(errors.CodeInternal, "walk state", err).WithContext("path", path)
		}
		if err := ctx.Err(); err != nil {
			return errors.New(errors.CodeContextLost, "savepoint cancelled", err)
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return errors.New(errors.CodeInternal, "relative path", err)
		}
		name := prefix
		if rel != "." {
			name = prefix + "/" + filepath.ToSlash(rel)
		}
		if err := addFile(zw, path, name); err != nil {
			return err
		}
		sp.Files++
		return nil
	})
}

func addFile(zw *zip.Writer, path, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return errors.New(errors.CodeInternal, "open state file", err).WithContext("path", path)
	}
	defer f.Close()
	info, err := f.Stat()
	if err != nil {
		return errors.New(errors.CodeInternal, "stat state file", err).WithContext("path", path)
	}
	hdr, err := zip.FileInfoHeader(info)
	if err != nil {
		return errors.New(errors.CodeInternal, "zip header", err).WithContext("path", path)
	}
	hdr.Name = name
	hdr.Method = zip.Deflate
	w, err := zw.CreateHeader(hdr)
	if err != nil {
		return errors.New(errors.CodeInternal, "zip entry", err).WithContext("path", path)
	}
	if _, err := io.Copy(w, f); err != nil {
		return errors.New(errors.CodeInternal, "copy state file", err).WithContext("path", path)
	}
	return nil
}

// List returns existing savepoints in stateDir, newest first.
func List(stateDir string) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(stateDir, BackupDir))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.New(errors.CodeInternal, "read backup dir", err)
	}
	var out []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasPrefix(e.Name(), "oracle_savepoint_") && strings.HasSuffix(e.Name(), ".zip") {
			out = append(out, filepath.Join(stateDir, BackupDir, e.Name()))
		}
	}
	sort.Sort(sort.Reverse(sort.StringSlice(out)))
	return out, nil
}
