// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package fsutil

import (
	"os"
	"path/filepath"
	"sync"
	"testing"
)

func TestWriteAtomicReplaces(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.json")
	if err := WriteAtomic(path, []byte("one"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := WriteAtomic(path, []byte("two"), 0o600); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	got, err := os.ReadFile(path)
	if err != nil || string(got) != "two" {
		t.Fatalf("unexpected content %q (%v)", got, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temp files left behind: %v", entries)
	}
	info, _ := os.Stat(path)
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("unexpected perm %v", info.Mode().Perm())
	}
}

func TestLocksSerializeAndRelease(t *testing.T) {
	locks := NewLocks()
	counter := 0
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := locks.Lock("/tmp/x/../x/file")
			counter++
			unlock()
		}()
	}
	wg.Wait()
	if counter != 50 {
		t.Fatalf("expected 50 increments, got %d", counter)
	}
	if locks.Len() != 0 {
		t.Fatalf("expected lock table to drain, got %d", locks.Len())
	}
}
