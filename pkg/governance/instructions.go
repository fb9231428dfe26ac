// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/jllopis/oracle/pkg/errors"
)

// InstructionsFile is the operator instructions file looked up by default.
const InstructionsFile = "ORACLE.md"

// OperatorInstructions holds house rules appended to the system prompt.
type OperatorInstructions struct {
	Path     string
	Raw      string
	LoadedAt time.Time
}

// LoadInstructions searches for name starting at startDir and walking
// upwards. It returns nil without error when no file exists. An absolute name
// is read directly.
func LoadInstructions(startDir, name string) (*OperatorInstructions, error) {
	if strings.TrimSpace(name) == "" {
		name = InstructionsFile
	}
	if filepath.IsAbs(name) {
		return readInstructions(name)
	}
	if strings.TrimSpace(startDir) == "" {
		return nil, errors.New(errors.CodeInvalidInput, "startDir is required", nil)
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}
	for {
		candidate := filepath.Join(dir, name)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return readInstructions(candidate)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return nil, nil
}

func readInstructions(path string) (*OperatorInstructions, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return &OperatorInstructions{
		Path:     path,
		Raw:      strings.TrimSpace(string(raw)),
		LoadedAt: time.Now().UTC(),
	}, nil
}
