// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package governance

import (
	"context"
	"testing"
)

func TestFilterEmptyAllowsEverything(t *testing.T) {
	if d := NewFilter().Evaluate(context.Background(), Action{Type: ActionTool, Name: "create_folder"}); d != Allow {
		t.Fatalf("expected allow, got %+v", d)
	}
}

func TestFilterOrder(t *testing.T) {
	f := NewFilter(
		WithAllow("create_folder", "read_*", "delete_file", " "),
		WithDeny("delete_*"),
		WithRules(NewRuleSet(Rule{ID: "confirm-reads", Effect: EffectConfirm, Name: "read_secret"})),
	)
	tests := []struct {
		name string
		tool string
		want Effect
	}{
		{"exact allow", "create_folder", EffectAllow},
		{"glob allow", "read_file", EffectAllow},
		{"rules after lists", "read_secret", EffectConfirm},
		{"not in allow list", "navigate_and_scrape", EffectDeny},
		{"deny wins over allow", "delete_file", EffectDeny},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := f.Evaluate(context.Background(), Action{Type: ActionTool, Name: tc.tool})
			if d.Effect != tc.want {
				t.Fatalf("%s: got %+v, want %s", tc.tool, d, tc.want)
			}
		})
	}
}
