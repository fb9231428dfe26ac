// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package directive

import "strings"

// parseArgs parses an argument list starting right after the opening
// parenthesis at s[i-1]. It returns the arguments and the index just past the
// closing parenthesis.
func parseArgs(s string, i int) ([]string, int, bool) {
	args := []string{}
	i = skipSpace(s, i)
	if i < len(s) && s[i] == ')' {
		return args, i + 1, true
	}
	for {
		i = skipSpace(s, i)
		if i >= len(s) {
			return nil, 0, false
		}

		arg, next, ok := parseArg(s, i)
		if !ok {
			return nil, 0, false
		}
		args = append(args, arg)
		i = next

		switch s[i] {
		case ',':
			i++
		case ')':
			return args, i + 1, true
		default:
			return nil, 0, false
		}
	}
}

// parseArg reads one argument at s[i]. On success s[next] is ',' or ')'.
// A quoted argument followed by stray text is re-read as a bare one.
func parseArg(s string, i int) (string, int, bool) {
	if c := s[i]; c == '"' || c == '\'' {
		if arg, next, ok := parseQuoted(s, i); ok {
			next = skipSpace(s, next)
			if next < len(s) && (s[next] == ',' || s[next] == ')') {
				return arg, next, true
			}
		}
	}
	return parseBare(s, i)
}

// parseQuoted reads a quoted string opened at s[i]. A backslash escapes the
// quote character, a backslash or a comma; any other backslash is literal.
func parseQuoted(s string, i int) (string, int, bool) {
	q := s[i]
	var b strings.Builder
	for j := i + 1; j < len(s); j++ {
		c := s[j]
		if c == '\\' && j+1 < len(s) {
			if n := s[j+1]; n == q || n == '\\' || n == ',' {
				b.WriteByte(n)
				j++
				continue
			}
			b.WriteByte(c)
			continue
		}
		if c == q {
			return b.String(), j + 1, true
		}
		b.WriteByte(c)
	}
	return "", 0, false
}

// parseBare reads up to the next top-level comma or closing parenthesis.
// Balanced parentheses inside a bare argument are kept.
func parseBare(s string, i int) (string, int, bool) {
	depth := 0
	for j := i; j < len(s); j++ {
		switch s[j] {
		case '(':
			depth++
		case ')':
			if depth == 0 {
				return strings.TrimSpace(s[i:j]), j, true
			}
			depth--
		case ',':
			if depth == 0 {
				return strings.TrimSpace(s[i:j]), j, true
			}
		}
	}
	return "", 0, false
}

func skipSpace(s string, i int) int {
	for i < len(s) && (s[i] == ' ' || s[i] == '\t' || s[i] == '\n' || s[i] == '\r') {
		i++
	}
	return i
}
