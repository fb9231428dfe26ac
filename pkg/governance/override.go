// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"crypto/sha256"
	"crypto/subtle"
	stderrors "errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/jllopis/oracle/pkg/errors"
)

// PausedMessage is returned for every request while the override is engaged.
const PausedMessage = "Admin override is active. I am paused and will not act until it is released."

// Override is the admin kill switch. While engaged the agent answers every
// request with PausedMessage. The state survives restarts through a marker
// file; an empty path keeps it in memory only.
type Override struct {
	path    string
	pinHash [sha256.Size]byte
	hasPIN  bool

	mu     sync.Mutex
	active bool
}

// NewOverride creates an override switch guarded by pin. An empty pin leaves
// the switch unusable: Engage and Release always fail.
func NewOverride(path, pin string) *Override {
	o := &Override{path: path}
	if pin != "" {
		o.pinHash = sha256.Sum256([]byte(pin))
		o.hasPIN = true
	}
	return o
}

// Active reports whether the override is engaged.
func (o *Override) Active() bool {
	if o == nil {
		return false
	}
	if o.path == "" {
		o.mu.Lock()
		defer o.mu.Unlock()
		return o.active
	}
	_, err := os.Stat(o.path)
	return err == nil
}

// Engage pauses the agent.
func (o *Override) Engage(pin string) error {
	if err := o.check(pin); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = true
	if o.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(o.path), 0o700); err != nil {
		return errors.New(errors.CodeInternal, "create override dir", err)
	}
	stamp := []byte(time.Now().UTC().Format(time.RFC3339) + "\n")
	if err := os.WriteFile(o.path, stamp, 0o600); err != nil {
		return errors.New(errors.CodeInternal, "write override marker", err)
	}
	return nil
}

// Release resumes the agent.
func (o *Override) Release(pin string) error {
	if err := o.check(pin); err != nil {
		return err
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	o.active = false
	if o.path == "" {
		return nil
	}
	if err := os.Remove(o.path); err != nil && !stderrors.Is(err, fs.ErrNotExist) {
		return errors.New(errors.CodeInternal, "remove override marker", err)
	}
	return nil
}

func (o *Override) check(pin string) error {
	if !o.hasPIN {
		return errors.New(errors.CodeInvalidInput, "override PIN is not configured", nil)
	}
	got := sha256.Sum256([]byte(pin))
	if subtle.ConstantTimeCompare(got[:], o.pinHash[:]) != 1 {
		return errors.New(errors.CodeInvalidInput, "invalid override PIN", nil)
	}
	return nil
}
