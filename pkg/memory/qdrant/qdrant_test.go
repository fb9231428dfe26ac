// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package qdrant

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPayloadRoundTrip(t *testing.T) {
	in := map[string]interface{}{
		"text":  "User asked: hi | Agent replied: hello",
		"turn":  int64(3),
		"score": 0.5,
		"final": true,
	}
	got, ts := fromPayload(toPayload(in, 1700000000))
	if ts != 1700000000 {
		t.Fatalf("timestamp lost: %d", ts)
	}
	if diff := cmp.Diff(in, got); diff != "" {
		t.Fatalf("payload mismatch (-want +got):\n%s", diff)
	}
}

func TestToPayloadStringifiesUnknownKinds(t *testing.T) {
	p := toPayload(map[string]interface{}{"tags": []string{"a", "b"}}, 0)
	if got := p["tags"].GetStringValue(); got != "[a b]" {
		t.Fatalf("unexpected value %q", got)
	}
}
