// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/governance"
	"github.com/jllopis/oracle/pkg/toolbox"
	"github.com/mark3labs/mcp-go/mcp"
)

// ToolSource lists and calls the tools of an MCP server.
type ToolSource interface {
	ListTools(ctx context.Context) ([]mcp.Tool, error)
	CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error)
}

// ImportOptions controls how remote tools become directives.
type ImportOptions struct {
	// Prefix is prepended to each directive name, joined by an underscore.
	Prefix string
	// Irreversible stages every imported directive for confirmation.
	Irreversible bool
}

var unsafeNameRe = regexp.MustCompile(`[^A-Za-z0-9_]+`)

// DirectiveName turns a remote tool name into a directive name.
func DirectiveName(prefix, tool string) string {
	name := strings.Trim(unsafeNameRe.ReplaceAllString(tool, "_"), "_")
	if prefix != "" {
		name = strings.Trim(unsafeNameRe.ReplaceAllString(prefix, "_"), "_") + "_" + name
	}
	if name == "" || (name[0] >= '0' && name[0] <= '9') {
		name = "mcp_" + name
	}
	return name
}

// Import registers every tool of src in r. Directive arguments are
// positional: required parameters first, in schema order, then optional
// ones alphabetically. It returns the registered directive names.
func Import(ctx context.Context, src ToolSource, r *toolbox.Registry, opts ImportOptions) ([]string, error) {
	tools, err := src.ListTools(ctx)
	if err != nil {
		return nil, errors.New(errors.CodeUnreachable, "list mcp tools", err)
	}
	names := make([]string, 0, len(tools))
	for _, tool := range tools {
		if tool.Name == "" {
			continue
		}
		params := parameterOrder(tool.InputSchema)
		name := DirectiveName(opts.Prefix, tool.Name)
		spec := toolbox.Spec{
			Name:         name,
			MinArgs:      requiredCount(tool.InputSchema),
			MaxArgs:      len(params),
			Usage:        usage(name, params),
			Description:  firstLine(tool.Description),
			Irreversible: opts.Irreversible,
			Kind:         governance.ActionMCP,
		}
		if err := r.Register(spec, remoteHandler(src, tool, params)); err != nil {
			return names, err
		}
		names = append(names, name)
	}
	return names, nil
}

func parameterOrder(schema mcp.ToolInputSchema) []string {
	seen := make(map[string]bool, len(schema.Properties))
	out := make([]string, 0, len(schema.Properties))
	for _, name := range schema.Required {
		if _, ok := schema.Properties[name]; ok && !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}
	var optional []string
	for name := range schema.Properties {
		if !seen[name] {
			optional = append(optional, name)
		}
	}
	sort.Strings(optional)
	return append(out, optional...)
}

func requiredCount(schema mcp.ToolInputSchema) int {
	n := 0
	for _, name := range schema.Required {
		if _, ok := schema.Properties[name]; ok {
			n++
		}
	}
	return n
}

func usage(name string, params []string) string {
	quoted := make([]string, len(params))
	for i, p := range params {
		quoted[i] = strconv.Quote(p)
	}
	return fmt.Sprintf("%s(%s)", name, strings.Join(quoted, ", "))
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSuffix(s, ".")
}

func remoteHandler(src ToolSource, tool mcp.Tool, params []string) toolbox.Handler {
	return func(ctx context.Context, args []string) toolbox.Result {
		call := make(map[string]any, len(args))
		for i, raw := range args {
			name := params[i]
			v, err := coerce(raw, propertyType(tool.InputSchema.Properties[name]))
			if err != nil {
				return toolbox.Failed("%s: %v", name, err)
			}
			call[name] = v
		}
		res, err := src.CallTool(ctx, tool.Name, call)
		if err != nil {
			return toolbox.Failed("mcp server did not answer: %v", err)
		}
		return resultToToolbox(res)
	}
}

func propertyType(prop any) string {
	m, ok := prop.(map[string]any)
	if !ok {
		return ""
	}
	t, _ := m["type"].(string)
	return t
}

func coerce(raw, kind string) (any, error) {
	switch kind {
	case "integer":
		n, err := strconv.ParseInt(strings.TrimSpace(raw), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("expected a whole number, got %q", raw)
		}
		return n, nil
	case "number":
		f, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
		if err != nil {
			return nil, fmt.Errorf("expected a number, got %q", raw)
		}
		return f, nil
	case "boolean":
		b, err := strconv.ParseBool(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("expected true or false, got %q", raw)
		}
		return b, nil
	case "array", "object":
		var v any
		if err := json.Unmarshal([]byte(raw), &v); err != nil {
			return nil, fmt.Errorf("expected JSON, got %q", raw)
		}
		return v, nil
	default:
		return raw, nil
	}
}

func resultToToolbox(res *mcp.CallToolResult) toolbox.Result {
	if res == nil {
		return toolbox.Failed("mcp server returned no result")
	}
	text := textContent(res.Content)
	if res.IsError {
		if text == "" {
			text = "the tool reported an error"
		}
		return toolbox.Failed("%s", text)
	}
	if text == "" && res.StructuredContent != nil {
		raw, err := json.Marshal(res.StructuredContent)
		if err == nil {
			text = string(raw)
		}
	}
	return toolbox.OK("%s", text)
}

func textContent(items []mcp.Content) string {
	var parts []string
	for _, item := range items {
		switch c := item.(type) {
		case mcp.TextContent:
			parts = append(parts, c.Text)
		case *mcp.TextContent:
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}
