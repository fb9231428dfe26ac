// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package memory

import (
	"encoding/json"
	"os"
	"sync"

	"github.com/jllopis/oracle/internal/fsutil"
	"github.com/jllopis/oracle/pkg/errors"
)

// Log is the durable, encrypted interaction log: a JSON array of ciphertext
// strings. Every append rewrites the file atomically.
type Log struct {
	path string

	mu      sync.Mutex
	entries []string
}

// OpenLog loads the log at path. A missing file is an empty log.
func OpenLog(path string) (*Log, error) {
	l := &Log{path: path}
	data, err := os.ReadFile(path)
	switch {
	case os.IsNotExist(err):
		return l, nil
	case err != nil:
		return nil, errors.New(errors.CodeMemoryError, "read memory log", err).WithContext("path", path)
	}
	if len(data) == 0 {
		return l, nil
	}
	if err := json.Unmarshal(data, &l.entries); err != nil {
		return nil, errors.New(errors.CodeMemoryError, "memory log is not a JSON array of strings", err).
			WithContext("path", path)
	}
	return l, nil
}

// Append persists one more ciphertext. On failure the in-memory view is
// unchanged.
func (l *Log) Append(ciphertext string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	next := make([]string, len(l.entries), len(l.entries)+1)
	copy(next, l.entries)
	next = append(next, ciphertext)
	data, err := json.Marshal(next)
	if err != nil {
		return errors.New(errors.CodeInternal, "encode memory log", err)
	}
	if err := fsutil.WriteAtomic(l.path, data, 0o600); err != nil {
		return errors.New(errors.CodePersistenceWarning, "write memory log", err).WithContext("path", l.path)
	}
	l.entries = next
	return nil
}

// Entries returns a copy of all ciphertexts in append order.
func (l *Log) Entries() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.entries...)
}

// Len returns the number of records.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Path returns the log file location.
func (l *Log) Path() string {
	return l.path
}
