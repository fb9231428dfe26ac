// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

// Package mcp bridges the toolbox and the Model Context Protocol. Bridge
// serves registered directives to local MCP clients over stdio; Import pulls
// the tools of external MCP servers into the toolbox.
package mcp

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/jllopis/oracle/pkg/directive"
	"github.com/jllopis/oracle/pkg/governance"
	"github.com/jllopis/oracle/pkg/toolbox"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// Toolbox is the directive registry the bridge exposes. It offers no way to
// confirm: staged directives are committed by the user through the chat or
// the approve command, never by the MCP caller.
type Toolbox interface {
	Names() []string
	Spec(name string) (toolbox.Spec, bool)
	Dispatch(ctx context.Context, d directive.Directive) toolbox.Result
}

// Pauser reports whether an administrator paused the agent.
type Pauser interface {
	Active() bool
}

// Bridge serves a toolbox as MCP tools.
type Bridge struct {
	tools     Toolbox
	override  Pauser
	mcpServer *server.MCPServer
	logger    *slog.Logger
}

// BridgeOption configures a Bridge.
type BridgeOption func(*Bridge)

// WithBridgeLogger sets the logger.
func WithBridgeLogger(l *slog.Logger) BridgeOption {
	return func(b *Bridge) { b.logger = l }
}

// WithOverride refuses every call while p reports the agent paused.
func WithOverride(p Pauser) BridgeOption {
	return func(b *Bridge) { b.override = p }
}

// NewBridge registers every directive of tools on a new MCP server.
func NewBridge(name, version string, tools Toolbox, opts ...BridgeOption) *Bridge {
	b := &Bridge{
		tools:     tools,
		mcpServer: server.NewMCPServer(name, version, server.WithToolCapabilities(false)),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, n := range tools.Names() {
		spec, ok := tools.Spec(n)
		if !ok {
			continue
		}
		b.mcpServer.AddTool(directiveTool(spec), b.dispatch(spec.Name))
	}
	return b
}

// Server returns the underlying MCP server.
func (b *Bridge) Server() *server.MCPServer {
	return b.mcpServer
}

// Serve speaks MCP over in and out until ctx ends or in is closed.
func (b *Bridge) Serve(ctx context.Context, in io.Reader, out io.Writer) error {
	return server.NewStdioServer(b.mcpServer).Listen(ctx, in, out)
}

// ServeStdio serves on the process standard streams.
func (b *Bridge) ServeStdio(ctx context.Context) error {
	return b.Serve(ctx, os.Stdin, os.Stdout)
}

func directiveTool(spec toolbox.Spec) mcp.Tool {
	desc := spec.Description
	if spec.Usage != "" {
		desc = fmt.Sprintf("%s. Usage: %s", desc, spec.Usage)
	}
	if spec.Irreversible {
		desc += ". Returns an approval id; the action runs only after the user approves it"
	}
	opts := []mcp.ToolOption{
		mcp.WithDescription(desc),
		mcp.WithArray("args",
			mcp.Description("positional arguments, in the order shown by the usage"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	}
	if spec.Irreversible {
		opts = append(opts, mcp.WithDestructiveHintAnnotation(true))
	}
	return mcp.NewTool(spec.Name, opts...)
}

func (b *Bridge) dispatch(name string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if b.override != nil && b.override.Active() {
			b.logger.Warn("mcp.call.paused", "directive", name)
			return mcp.NewToolResultError(governance.PausedMessage), nil
		}
		args, err := positionalArgs(req.GetArguments())
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		res := b.tools.Dispatch(ctx, directive.Directive{Name: name, Args: args})
		b.logger.Info("mcp.call", "directive", name, "status", res.Status)
		return toolResult(res), nil
	}
}

func positionalArgs(params map[string]any) ([]string, error) {
	raw, ok := params["args"]
	if !ok || raw == nil {
		return []string{}, nil
	}
	items, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("args must be an array of strings")
	}
	out := make([]string, 0, len(items))
	for _, item := range items {
		switch v := item.(type) {
		case string:
			out = append(out, v)
		case float64, bool:
			out = append(out, fmt.Sprint(v))
		default:
			return nil, fmt.Errorf("args must be an array of strings")
		}
	}
	return out, nil
}

func toolResult(res toolbox.Result) *mcp.CallToolResult {
	switch res.Status {
	case toolbox.StatusPending:
		return mcp.NewToolResultText(fmt.Sprintf("pending approval %s: %s waits for the user, who can run \"oracle approve %s\" or reply \"confirm %s\" in the chat",
			res.ApprovalID, res.Directive, res.ApprovalID, res.ApprovalID))
	case toolbox.StatusOK:
		return mcp.NewToolResultText(res.Message)
	default:
		return mcp.NewToolResultError(res.Message)
	}
}
