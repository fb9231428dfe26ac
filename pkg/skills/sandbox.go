// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package skills

import (
	"context"
	"fmt"
	"go/parser"
	"go/token"
	"reflect"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/jllopis/oracle/pkg/errors"
	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
)

// EntryFunc is the function every skill source must define:
//
//	func Run(input string) (string, error)
const EntryFunc = "Run"

// DefaultAllowedImports are the standard library packages skills may use.
// Filesystem, process, network and unsafe packages are never exposed. time
// is left out: the yaegi v0.16 symbol table for it panics on Go 1.25.
var DefaultAllowedImports = []string{
	"bytes",
	"encoding/base64",
	"encoding/json",
	"errors",
	"fmt",
	"math",
	"path",
	"regexp",
	"sort",
	"strconv",
	"strings",
	"unicode",
	"unicode/utf8",
}

// Sandbox interprets skill sources with a restricted standard library.
type Sandbox struct {
	allowed map[string]bool
	symbols interp.Exports
}

// NewSandbox creates a sandbox exposing only the allowed import paths. An
// empty list uses DefaultAllowedImports.
func NewSandbox(allowed []string) *Sandbox {
	if len(allowed) == 0 {
		allowed = DefaultAllowedImports
	}
	s := &Sandbox{allowed: make(map[string]bool, len(allowed)), symbols: interp.Exports{}}
	for _, p := range allowed {
		s.allowed[strings.TrimSpace(p)] = true
	}
	for key, syms := range stdlib.Symbols {
		// Keys are "import/path/pkgname".
		i := strings.LastIndex(key, "/")
		if i < 0 {
			continue
		}
		if s.allowed[key[:i]] {
			s.symbols[key] = syms
		}
	}
	return s
}

// Allowed returns the sorted import allowlist.
func (s *Sandbox) Allowed() []string {
	out := make([]string, 0, len(s.allowed))
	for p := range s.allowed {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Validate parses code and checks its imports.
func (s *Sandbox) Validate(code string) error {
	code = wrapSource(code)
	f, err := parser.ParseFile(token.NewFileSet(), "skill.go", code, parser.ImportsOnly)
	if err != nil {
		return errors.New(errors.CodeInvalidInput, "skill source does not parse", err)
	}
	if f.Name.Name != "main" {
		return errors.New(errors.CodeInvalidInput, "skill source must be package main", nil)
	}
	var forbidden []string
	for _, imp := range f.Imports {
		p, _ := strconv.Unquote(imp.Path.Value)
		if !s.allowed[p] {
			forbidden = append(forbidden, p)
		}
	}
	if len(forbidden) > 0 {
		return errors.New(errors.CodeInvalidInput,
			fmt.Sprintf("imports not allowed in skills: %s (allowed: %s)",
				strings.Join(forbidden, ", "), strings.Join(s.Allowed(), ", ")), nil)
	}
	return nil
}

// Run interprets code and calls its Run function with input. The call is
// abandoned when ctx ends; the interpreter goroutine finishes on its own.
func (s *Sandbox) Run(ctx context.Context, code, input string) (string, error) {
	if err := s.Validate(code); err != nil {
		return "", err
	}
	type outcome struct {
		out string
		err error
	}
	done := make(chan outcome, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: errors.New(errors.CodeToolFailure, fmt.Sprintf("skill panicked: %v", r), nil)}
			}
		}()
		out, err := s.call(ctx, code, input)
		done <- outcome{out, err}
	}()
	select {
	case o := <-done:
		return o.out, o.err
	case <-ctx.Done():
		return "", errors.New(errors.CodeTimeout, "skill did not finish in time", ctx.Err())
	}
}

func (s *Sandbox) call(ctx context.Context, code, input string) (string, error) {
	i := interp.New(interp.Options{})
	if err := i.Use(s.symbols); err != nil {
		return "", errors.New(errors.CodeInternal, "load sandbox symbols", err)
	}
	if _, err := i.EvalWithContext(ctx, wrapSource(code)); err != nil {
		return "", errors.New(errors.CodeInvalidInput, "skill source does not compile", err)
	}
	v, err := i.EvalWithContext(ctx, "main."+EntryFunc)
	if err != nil {
		return "", errors.New(errors.CodeInvalidInput, "skill must define func Run(input string) (string, error)", err)
	}
	if v.Kind() != reflect.Func {
		return "", errors.New(errors.CodeInvalidInput, "Run is not a function", nil)
	}
	run, ok := v.Interface().(func(string) (string, error))
	if !ok {
		return "", errors.New(errors.CodeInvalidInput, "Run must have signature func(string) (string, error)", nil)
	}
	out, err := run(input)
	if err != nil {
		return "", errors.New(errors.CodeToolFailure, err.Error(), err)
	}
	return out, nil
}

func wrapSource(code string) string {
	if _, err := parser.ParseFile(token.NewFileSet(), "", code, parser.PackageClauseOnly); err == nil {
		return code
	}
	return "package main\n\n" + code
}

// TestRun runs code once with an empty input under timeout. It is the gate
// every new skill passes before it is installed.
func (s *Sandbox) TestRun(ctx context.Context, code string, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	_, err := s.Run(ctx, code, "")
	return err
}
