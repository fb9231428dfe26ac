// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package governance decides which directives may run, which must be staged
// for explicit user confirmation, and stores the staged approvals.
package governance

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/jllopis/oracle/pkg/config"
	"github.com/jllopis/oracle/pkg/errors"
)

// ActionType is the origin of a directive.
type ActionType string

const (
	ActionTool  ActionType = "tool"
	ActionSkill ActionType = "skill"
	ActionMCP   ActionType = "mcp"
)

// Action is the directive being judged.
type Action struct {
	Type         ActionType
	Name         string
	Irreversible bool
}

// Effect is what a matching rule does with a directive.
type Effect string

const (
	EffectAllow   Effect = "allow"
	EffectDeny    Effect = "deny"
	EffectConfirm Effect = "confirm"
)

// ParseEffect accepts allow, deny and confirm. "pending" is read as confirm.
func ParseEffect(s string) (Effect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "allow":
		return EffectAllow, nil
	case "deny":
		return EffectDeny, nil
	case "confirm", "pending":
		return EffectConfirm, nil
	}
	return "", errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown policy effect %q", s), nil)
}

// Decision is the outcome for one action.
type Decision struct {
	Effect Effect
	Reason string
	RuleID string
}

// Allow is the decision used when nothing matches.
var Allow = Decision{Effect: EffectAllow}

// IsDenied reports whether the directive must not run.
func (d Decision) IsDenied() bool { return d.Effect == EffectDeny }

// NeedsConfirmation reports whether the directive must be staged first.
func (d Decision) NeedsConfirmation() bool { return d.Effect == EffectConfirm }

// PolicyEngine evaluates actions.
type PolicyEngine interface {
	Evaluate(ctx context.Context, action Action) Decision
}

// Rule matches directives by origin, name glob and reversibility. Empty
// fields match everything.
type Rule struct {
	ID               string
	Effect           Effect
	Type             ActionType
	Name             string
	OnlyIrreversible bool
	Reason           string
}

func (r Rule) matches(a Action) bool {
	if r.Type != "" && r.Type != a.Type {
		return false
	}
	if r.OnlyIrreversible && !a.Irreversible {
		return false
	}
	return r.Name == "" || globMatch(r.Name, a.Name)
}

// RuleSet returns the decision of the first matching rule.
type RuleSet struct {
	rules []Rule
}

// NewRuleSet copies rules in evaluation order.
func NewRuleSet(rules ...Rule) *RuleSet {
	return &RuleSet{rules: append([]Rule(nil), rules...)}
}

// Len returns the number of rules.
func (r *RuleSet) Len() int { return len(r.rules) }

// Evaluate implements PolicyEngine.
func (r *RuleSet) Evaluate(_ context.Context, action Action) Decision {
	for _, rule := range r.rules {
		if rule.matches(action) {
			return Decision{Effect: rule.Effect, Reason: rule.Reason, RuleID: rule.ID}
		}
	}
	return Allow
}

// RuleSetFromConfig validates the configured rules. Rules without an id are
// numbered policy-1, policy-2 and so on by position.
func RuleSetFromConfig(cfg config.GovernanceConfig) (*RuleSet, error) {
	rules := make([]Rule, 0, len(cfg.Policies))
	for i, pc := range cfg.Policies {
		effect, err := ParseEffect(pc.Effect)
		if err != nil {
			return nil, errors.AsOracleError(err).WithContext("policy", i+1)
		}
		typ := ActionType(strings.ToLower(strings.TrimSpace(pc.Type)))
		switch typ {
		case "", ActionTool, ActionSkill, ActionMCP:
		default:
			return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("unknown policy type %q", pc.Type), nil).
				WithContext("policy", i+1)
		}
		if pc.Name != "" {
			if _, err := path.Match(pc.Name, ""); err != nil {
				return nil, errors.New(errors.CodeInvalidInput, fmt.Sprintf("bad name pattern %q", pc.Name), err).
					WithContext("policy", i+1)
			}
		}
		id := strings.TrimSpace(pc.ID)
		if id == "" {
			id = fmt.Sprintf("policy-%d", i+1)
		}
		rules = append(rules, Rule{
			ID:               id,
			Effect:           effect,
			Type:             typ,
			Name:             pc.Name,
			OnlyIrreversible: pc.Irreversible,
			Reason:           pc.Reason,
		})
	}
	return NewRuleSet(rules...), nil
}

func globMatch(pattern, name string) bool {
	if pattern == name {
		return true
	}
	ok, err := path.Match(pattern, name)
	return err == nil && ok
}
