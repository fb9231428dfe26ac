// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package errors provides the typed error taxonomy shared by every boundary of
// the agent: gateway, toolbox, memory and orchestrator.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
)

// ErrorCode classifies agent errors for rendering, retry and monitoring.
type ErrorCode string

const (
	// CodeUnreachable means the inference backend could not be contacted.
	// It is fatal for the current request and never triggers self-repair.
	CodeUnreachable ErrorCode = "UNREACHABLE"

	// CodeBadResponse means the backend answered with a payload that could not
	// be used. It is transient and retried at the gateway.
	CodeBadResponse ErrorCode = "BAD_RESPONSE"

	// CodeInvalidDirective means a directive named an unknown tool or had the
	// wrong arity. It is dropped silently.
	CodeInvalidDirective ErrorCode = "INVALID_DIRECTIVE"

	// CodeToolFailure indicates a tool handler reported a failure.
	CodeToolFailure ErrorCode = "TOOL_FAILURE"

	// CodePersistenceWarning indicates a memory write failed. Never user facing.
	CodePersistenceWarning ErrorCode = "PERSISTENCE_WARNING"

	// CodeInternal indicates an internal system error.
	CodeInternal ErrorCode = "INTERNAL_ERROR"

	// CodeInvalidInput indicates the input was invalid.
	CodeInvalidInput ErrorCode = "INVALID_INPUT"

	// CodeContextLost indicates the request context was cancelled.
	CodeContextLost ErrorCode = "CONTEXT_LOST"

	// CodeTimeout indicates an operation exceeded its time limit.
	CodeTimeout ErrorCode = "TIMEOUT"

	// CodeNotFound indicates a resource was not found.
	CodeNotFound ErrorCode = "NOT_FOUND"

	// CodeMemoryError indicates a memory subsystem error.
	CodeMemoryError ErrorCode = "MEMORY_ERROR"
)

// OracleError is a typed error with rich context for observability.
// It implements the error interface and can be unwrapped with errors.As().
type OracleError struct {
	Code        ErrorCode
	Message     string
	Err         error
	Context     map[string]interface{}
	Attributes  map[string]string
	Recoverable bool
}

// Error implements the error interface.
func (e *OracleError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap implements errors.Unwrap for error chain traversal.
func (e *OracleError) Unwrap() error {
	return e.Err
}

// MarshalJSON implements json.Marshaler for structured logging.
func (e *OracleError) MarshalJSON() ([]byte, error) {
	cause := ""
	if e.Err != nil {
		cause = e.Err.Error()
	}
	return json.Marshal(&struct {
		Message     string                 `json:"message"`
		Code        string                 `json:"code"`
		Err         string                 `json:"error,omitempty"`
		Recoverable bool                   `json:"recoverable"`
		Context     map[string]interface{} `json:"context,omitempty"`
	}{
		Message:     e.Error(),
		Code:        string(e.Code),
		Err:         cause,
		Recoverable: e.Recoverable,
		Context:     e.Context,
	})
}

// New creates a new OracleError with the given code, message, and cause.
func New(code ErrorCode, msg string, cause error) *OracleError {
	return &OracleError{
		Code:        code,
		Message:     msg,
		Err:         cause,
		Context:     make(map[string]interface{}),
		Attributes:  make(map[string]string),
		Recoverable: defaultRecoverable(code),
	}
}

// WithContext adds a key-value pair to the error context.
// Returns the error for method chaining.
func (e *OracleError) WithContext(key string, value interface{}) *OracleError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithAttribute adds a string attribute for OTEL traces.
func (e *OracleError) WithAttribute(key, value string) *OracleError {
	if e.Attributes == nil {
		e.Attributes = make(map[string]string)
	}
	e.Attributes[key] = value
	return e
}

// WithRecoverable sets whether the error can be recovered from.
func (e *OracleError) WithRecoverable(recoverable bool) *OracleError {
	e.Recoverable = recoverable
	return e
}

// RecoverableString returns "true" or "false" as a string for observability.
func (e *OracleError) RecoverableString() string {
	if e.Recoverable {
		return "true"
	}
	return "false"
}

// AsOracleError returns err as an OracleError, wrapping unknown errors as
// internal.
func AsOracleError(err error) *OracleError {
	if err == nil {
		return nil
	}
	var oe *OracleError
	if stderrors.As(err, &oe) {
		return oe
	}
	return New(CodeInternal, "wrapped error", err)
}

// CodeOf returns the code of the first OracleError in the chain, or the empty
// code when there is none.
func CodeOf(err error) ErrorCode {
	var oe *OracleError
	if stderrors.As(err, &oe) {
		return oe.Code
	}
	return ""
}

// IsCode reports whether any OracleError in the chain carries code.
func IsCode(err error, code ErrorCode) bool {
	for err != nil {
		var oe *OracleError
		if !stderrors.As(err, &oe) {
			return false
		}
		if oe.Code == code {
			return true
		}
		err = oe.Err
	}
	return false
}

func defaultRecoverable(code ErrorCode) bool {
	switch code {
	case CodeBadResponse, CodeTimeout:
		return true
	default:
		return false
	}
}
