// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"strings"
)

// Filter applies the toolbox allow and deny lists before a rule set.
//
// Order of evaluation:
//  1. a deny pattern match denies
//  2. a non-empty allow list without a match denies
//  3. the rules decide, allow when none match
type Filter struct {
	allow []string
	deny  []string
	rules PolicyEngine
}

// FilterOption configures a Filter.
type FilterOption func(*Filter)

// WithAllow restricts directives to those matching one of patterns.
func WithAllow(patterns ...string) FilterOption {
	return func(f *Filter) { f.allow = appendPatterns(f.allow, patterns) }
}

// WithDeny forbids directives matching any of patterns.
func WithDeny(patterns ...string) FilterOption {
	return func(f *Filter) { f.deny = appendPatterns(f.deny, patterns) }
}

// WithRules sets the engine consulted after the lists.
func WithRules(engine PolicyEngine) FilterOption {
	return func(f *Filter) { f.rules = engine }
}

// NewFilter builds a Filter. With no options every directive is allowed.
func NewFilter(opts ...FilterOption) *Filter {
	f := &Filter{}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// Evaluate implements PolicyEngine.
func (f *Filter) Evaluate(ctx context.Context, action Action) Decision {
	if matchAny(f.deny, action.Name) {
		return Decision{Effect: EffectDeny, Reason: "listed in toolbox.deny"}
	}
	if len(f.allow) > 0 && !matchAny(f.allow, action.Name) {
		return Decision{Effect: EffectDeny, Reason: "not listed in toolbox.allow"}
	}
	if f.rules != nil {
		return f.rules.Evaluate(ctx, action)
	}
	return Allow
}

func appendPatterns(dst, patterns []string) []string {
	for _, p := range patterns {
		if p = strings.TrimSpace(p); p != "" {
			dst = append(dst, p)
		}
	}
	return dst
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if globMatch(p, name) {
			return true
		}
	}
	return false
}

var (
	_ PolicyEngine = (*Filter)(nil)
	_ PolicyEngine = (*RuleSet)(nil)
)
