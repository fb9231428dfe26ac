// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package toolbox

import (
	"regexp"
	"strings"
)

// Verdict is the user's answer to a staged directive.
type Verdict string

const (
	VerdictConfirm Verdict = "confirm"
	VerdictCancel  Verdict = "cancel"
)

var confirmationRe = regexp.MustCompile(`(?i)^\s*(confirm|cancel)\s+([A-Za-z0-9_-]+)\s*[.!]?\s*$`)

// ParseConfirmation recognizes the exact utterances "confirm <id>" and
// "cancel <id>". The keyword is case-insensitive, the id is returned as typed.
// Only user input may be passed here, never model output.
func ParseConfirmation(input string) (Verdict, string, bool) {
	m := confirmationRe.FindStringSubmatch(input)
	if m == nil {
		return "", "", false
	}
	return Verdict(strings.ToLower(m[1])), m[2], true
}
