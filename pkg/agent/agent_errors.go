// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package agent

import (
	"context"
	stderrors "errors"

	"github.com/jllopis/oracle/pkg/errors"
)

// WrapGatewayError wraps an inference failure. The code of an OracleError
// cause is kept so UNREACHABLE still short-circuits self-repair; context
// errors map to CONTEXT_LOST or TIMEOUT and anything else to BAD_RESPONSE.
func WrapGatewayError(err error, model string) *errors.OracleError {
	if err == nil {
		return nil
	}
	code := errors.CodeBadResponse
	switch {
	case errors.CodeOf(err) != "":
		code = errors.CodeOf(err)
	case stderrors.Is(err, context.DeadlineExceeded):
		code = errors.CodeTimeout
	case stderrors.Is(err, context.Canceled):
		code = errors.CodeContextLost
	}
	oe := errors.New(code, "inference failed", err).
		WithRecoverable(code != errors.CodeUnreachable && code != errors.CodeContextLost)
	if model != "" {
		oe = oe.WithContext("model", model).WithAttribute("llm.model", model)
	}
	return oe
}

// WrapToolError wraps a directive failure with appropriate context.
func WrapToolError(err error, directiveName, approvalID string) *errors.OracleError {
	if err == nil {
		return nil
	}
	oe := errors.New(errors.CodeToolFailure, "directive failed", err).
		WithContext("directive", directiveName).
		WithAttribute("tool.name", directiveName).
		WithRecoverable(true)
	if approvalID != "" {
		oe = oe.WithContext("approval_id", approvalID)
	}
	return oe
}

// WrapMemoryError wraps a memory system error with appropriate context.
// Persistence warnings keep their code.
func WrapMemoryError(err error, operation string) *errors.OracleError {
	if err == nil {
		return nil
	}
	code := errors.CodeMemoryError
	if errors.IsCode(err, errors.CodePersistenceWarning) {
		code = errors.CodePersistenceWarning
	}
	return errors.New(code, "memory operation failed", err).
		WithContext("operation", operation).
		WithAttribute("memory.operation", operation).
		WithRecoverable(true)
}
