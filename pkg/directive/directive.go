// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package directive extracts tool invocations from free-form model output.
//
// The model is asked to emit directives as
//
//	[CMD] create_folder("Reports", "desktop")
//
// but the extractor tolerates missing markers, single quotes, bare arguments
// and placeholder arguments the model forgot to fill in.
package directive

import (
	"strings"
)

// Directive is a parsed tool invocation.
type Directive struct {
	Name string
	Args []string
}

// String renders the directive in its canonical marker form.
func (d Directive) String() string {
	return "[CMD] " + Format(d)
}

// Result is the outcome of an extraction.
type Result struct {
	// Directive is nil when the output contained no valid directive.
	Directive *Directive
	// Remaining is the output with the honored directive removed.
	Remaining string
	// Strict reports whether the directive was introduced by a marker.
	Strict bool
	// Repaired lists the indexes of arguments filled by placeholder repair.
	Repaired []int
}

// Found reports whether a directive was extracted.
func (r Result) Found() bool { return r.Directive != nil }

// Catalog describes the directives the extractor may honor.
type Catalog interface {
	// Arity returns the accepted argument range for name. A negative max means
	// unbounded.
	Arity(name string) (min, max int, ok bool)
	// Names returns every known directive name.
	Names() []string
}

// Arity is an accepted argument range.
type Arity struct {
	Min int
	Max int
}

// StaticCatalog is a Catalog backed by a map.
type StaticCatalog map[string]Arity

// Arity implements Catalog.
func (c StaticCatalog) Arity(name string) (int, int, bool) {
	a, ok := c[name]
	return a.Min, a.Max, ok
}

// Names implements Catalog.
func (c StaticCatalog) Names() []string {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	return names
}

// Format renders d as name("arg", ...) using double quotes, escaping the
// quote and backslash characters.
func Format(d Directive) string {
	var b strings.Builder
	b.WriteString(d.Name)
	b.WriteByte('(')
	for i, a := range d.Args {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('"')
		for j := 0; j < len(a); j++ {
			if a[j] == '"' || a[j] == '\\' {
				b.WriteByte('\\')
			}
			b.WriteByte(a[j])
		}
		b.WriteByte('"')
	}
	b.WriteByte(')')
	return b.String()
}
