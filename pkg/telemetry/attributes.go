// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package telemetry

import (
	"go.opentelemetry.io/otel/attribute"
)

// Span attribute keys shared by the agent, toolbox and memory packages.
const (
	// Request attributes
	AttrAgentName    = "oracle.agent.name"
	AttrRequestID    = "oracle.request.id"
	AttrRequestState = "oracle.request.state"
	AttrOutcome      = "oracle.request.outcome"
	AttrInputLength  = "oracle.request.input_length"

	// Context assembly
	AttrMemoryRetrieved = "oracle.memory.retrieved_count"
	AttrMemoryStored    = "oracle.memory.stored"
	AttrVisionAttached  = "oracle.vision.attached"

	// Directive attributes
	AttrDirectiveName   = "oracle.directive.name"
	AttrDirectiveArgs   = "oracle.directive.arg_count"
	AttrDirectiveStrict = "oracle.directive.strict"
	AttrToolStatus      = "oracle.tool.status"
	AttrToolMessage     = "oracle.tool.message"
	AttrApprovalID      = "oracle.approval.id"

	// LLM attributes
	AttrLLMModel      = "gen_ai.request.model"
	AttrLLMProvider   = "gen_ai.system"
	AttrLLMDurationMs = "gen_ai.duration_ms"
)

// RequestAttributes returns the attributes set on an agent request span.
func RequestAttributes(agentName, requestID string, inputLen int) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrRequestID, requestID),
		attribute.Int(AttrInputLength, inputLen),
	}
	if agentName != "" {
		attrs = append(attrs, attribute.String(AttrAgentName, agentName))
	}
	return attrs
}

// ContextAttributes describes what was gathered for the prompt.
func ContextAttributes(retrieved int, vision bool) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.Int(AttrMemoryRetrieved, retrieved),
		attribute.Bool(AttrVisionAttached, vision),
	}
}

// DirectiveAttributes describes an extracted directive and, once known, its
// outcome. The message is truncated to maxLen bytes (500 when maxLen <= 0).
func DirectiveAttributes(name string, argCount int, strict bool, status, message, approvalID string, maxLen int) []attribute.KeyValue {
	if maxLen <= 0 {
		maxLen = 500
	}
	attrs := []attribute.KeyValue{
		attribute.String(AttrDirectiveName, name),
		attribute.Int(AttrDirectiveArgs, argCount),
		attribute.Bool(AttrDirectiveStrict, strict),
	}
	if status != "" {
		attrs = append(attrs, attribute.String(AttrToolStatus, status))
	}
	if message != "" {
		if len(message) > maxLen {
			message = message[:maxLen] + "..."
		}
		attrs = append(attrs, attribute.String(AttrToolMessage, message))
	}
	if approvalID != "" {
		attrs = append(attrs, attribute.String(AttrApprovalID, approvalID))
	}
	return attrs
}

// LLMAttributes returns attributes for inference spans.
func LLMAttributes(model, provider string, durationMs float64) []attribute.KeyValue {
	attrs := []attribute.KeyValue{
		attribute.String(AttrLLMModel, model),
	}
	if provider != "" {
		attrs = append(attrs, attribute.String(AttrLLMProvider, provider))
	}
	if durationMs > 0 {
		attrs = append(attrs, attribute.Float64(AttrLLMDurationMs, durationMs))
	}
	return attrs
}
