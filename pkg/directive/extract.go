// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package directive

import (
	"regexp"
	"strings"
)

var (
	markerRe = regexp.MustCompile(`(?i)(?:\[\s*cmd\s*\]\s*:?|\bcmd\s*:)\s*`)
	headRe   = regexp.MustCompile(`^([A-Za-z_][A-Za-z0-9_]*)\s*\(`)
	callRe   = regexp.MustCompile(`\b([A-Za-z_][A-Za-z0-9_]*)\s*\(`)

	blankLinesRe = regexp.MustCompile(`\n[ \t]*\n(?:[ \t]*\n)+`)
	spacesRe     = regexp.MustCompile(`[ \t]{2,}`)
)

// Extractor finds the first valid directive in model output.
type Extractor struct {
	catalog Catalog
}

// New returns an Extractor honoring the directives of catalog.
func New(catalog Catalog) *Extractor {
	return &Extractor{catalog: catalog}
}

type candidate struct {
	name       string
	args       []string
	start, end int
}

// Extract returns the first well-formed, known, arity-valid directive in
// output. Marker-introduced candidates are tried first; when none of them is
// valid, bare calls to known names are considered.
func (e *Extractor) Extract(output string) Result {
	return e.ExtractWithInput(output, "")
}

// ExtractWithInput is Extract with the user's request available to placeholder
// repair.
func (e *Extractor) ExtractWithInput(output, userInput string) Result {
	c, strict := e.strict(output)
	if c == nil {
		c = e.lenient(output)
	}
	if c == nil {
		return Result{Remaining: tidy(output)}
	}

	remaining := tidy(output[:c.start] + " " + output[c.end:])
	args, repaired := Repair(c.args, remaining, userInput)
	return Result{
		Directive: &Directive{Name: c.name, Args: args},
		Remaining: remaining,
		Strict:    strict,
		Repaired:  repaired,
	}
}

func (e *Extractor) strict(output string) (*candidate, bool) {
	for _, m := range markerRe.FindAllStringIndex(output, -1) {
		head := headRe.FindStringSubmatchIndex(output[m[1]:])
		if head == nil {
			continue
		}
		name := output[m[1]+head[2] : m[1]+head[3]]
		args, end, ok := parseArgs(output, m[1]+head[1])
		if !ok {
			continue
		}
		if canonical, valid := e.validate(name, len(args)); valid {
			return &candidate{name: canonical, args: args, start: m[0], end: end}, true
		}
	}
	return nil, false
}

func (e *Extractor) lenient(output string) *candidate {
	for _, m := range callRe.FindAllStringSubmatchIndex(output, -1) {
		name := output[m[2]:m[3]]
		if _, _, ok := e.lookup(name); !ok {
			continue
		}
		args, end, ok := parseArgs(output, m[1])
		if !ok {
			continue
		}
		if canonical, valid := e.validate(name, len(args)); valid {
			return &candidate{name: canonical, args: args, start: m[0], end: end}
		}
	}
	return nil
}

func (e *Extractor) validate(name string, n int) (string, bool) {
	canonical, arity, ok := e.lookup(name)
	if !ok {
		return "", false
	}
	if n < arity.Min || (arity.Max >= 0 && n > arity.Max) {
		return "", false
	}
	return canonical, true
}

// lookup matches name exactly, then case-insensitively.
func (e *Extractor) lookup(name string) (string, Arity, bool) {
	if e.catalog == nil {
		return "", Arity{}, false
	}
	if min, max, ok := e.catalog.Arity(name); ok {
		return name, Arity{Min: min, Max: max}, true
	}
	lower := strings.ToLower(name)
	if lower != name {
		if min, max, ok := e.catalog.Arity(lower); ok {
			return lower, Arity{Min: min, Max: max}, true
		}
	}
	return "", Arity{}, false
}

func tidy(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	s = blankLinesRe.ReplaceAllString(s, "\n\n")
	s = spacesRe.ReplaceAllString(s, " ")
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimSpace(l)
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}
