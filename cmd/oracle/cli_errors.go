// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"

	"github.com/jllopis/oracle/pkg/errors"
)

// CLIError wraps OracleError with a hint for the terminal.
type CLIError struct {
	*errors.OracleError
	Hint string
}

// NewCLIError creates a new CLI error.
func NewCLIError(oe *errors.OracleError, hint string) *CLIError {
	return &CLIError{OracleError: oe, Hint: hint}
}

// Error returns the message followed by the hint.
func (e *CLIError) Error() string {
	if e.OracleError == nil {
		return "unknown error"
	}
	msg := e.OracleError.Error()
	if e.Hint != "" {
		msg += "\n  Hint: " + e.Hint
	}
	return msg
}

// Unwrap exposes the OracleError.
func (e *CLIError) Unwrap() error {
	return e.OracleError
}

// PrintError writes the error to w.
func (e *CLIError) PrintError(w io.Writer, asJSON bool) {
	if asJSON {
		payload := map[string]any{"error": map[string]string{
			"code":    string(e.Code),
			"message": e.Message,
			"hint":    e.Hint,
		}}
		_ = json.NewEncoder(w).Encode(payload)
		return
	}
	fmt.Fprintf(w, "Error [%s]: %s\n", e.Code, e.Message)
	if e.Err != nil {
		fmt.Fprintf(w, "  Cause: %v\n", e.Err)
	}
	if e.Hint != "" {
		fmt.Fprintf(w, "  Hint: %s\n", e.Hint)
	}
}

func asCLIError(err error) *CLIError {
	var ce *CLIError
	if stderrors.As(err, &ce) {
		return ce
	}
	return NewCLIError(errors.AsOracleError(err), hintFor(errors.CodeOf(err)))
}

func hintFor(code errors.ErrorCode) string {
	switch code {
	case errors.CodeUnreachable:
		return "make sure the model server is running (ollama serve) and llm.base_url points at it"
	case errors.CodeMemoryError:
		return "the memory log may be encrypted with a different passphrase"
	case errors.CodeTimeout:
		return "raise llm.timeout_seconds or use a smaller model"
	}
	return ""
}

func wrapConfigError(err error, path string) *CLIError {
	oe := errors.New(errors.CodeInvalidInput, "could not load configuration", err)
	hint := "check the YAML syntax and --set key=value flags"
	if path != "" {
		oe = oe.WithContext("path", path)
		hint = fmt.Sprintf("check %s and --set key=value flags", path)
	}
	return NewCLIError(oe, hint)
}

func wrapStartupError(err error) *CLIError {
	oe := errors.AsOracleError(err)
	hint := hintFor(oe.Code)
	if oe.Code == errors.CodeInvalidInput && hint == "" {
		hint = "review the configuration; --set key=value overrides a single value"
	}
	return NewCLIError(oe, hint)
}
