// Copyright 2026 © The Oracle Authors
// SPDX-License-Identifier: Apache-2.0

package mcp

import (
	"context"
	stderrors "errors"
	"sync"
	"time"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jllopis/oracle/pkg/errors"
	"github.com/jllopis/oracle/pkg/resilience"
)

const (
	clientName       = "oracle-client"
	clientVersion    = "0.1.0"
	handshakeTimeout = 10 * time.Second
	defaultTimeout   = 10 * time.Second
	defaultCacheTTL  = 30 * time.Second
)

// ClientOption customizes the client.
type ClientOption func(*Client)

// WithTimeout bounds every request. Zero keeps the default.
func WithTimeout(timeout time.Duration) ClientOption {
	return func(c *Client) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

// WithRetry replaces the retry policy for requests to the server.
func WithRetry(rc resilience.RetryConfig) ClientOption {
	return func(c *Client) { c.retry = rc }
}

// WithToolCacheTTL sets how long the tool list is reused. Zero disables it.
func WithToolCacheTTL(ttl time.Duration) ClientOption {
	return func(c *Client) {
		if ttl >= 0 {
			c.cacheTTL = ttl
		}
	}
}

// Client calls tools on an external MCP server. It satisfies ToolSource.
type Client struct {
	conn     client.MCPClient
	timeout  time.Duration
	retry    resilience.RetryConfig
	cacheTTL time.Duration

	mu       sync.Mutex
	tools    []mcp.Tool
	toolsExp time.Time
}

// NewClient wraps an initialized MCP connection.
func NewClient(conn client.MCPClient, opts ...ClientOption) *Client {
	c := &Client{
		conn:     conn,
		timeout:  defaultTimeout,
		retry:    defaultRetry(),
		cacheTTL: defaultCacheTTL,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// defaultRetry retries listing twice. Cancellation and deadlines are final.
func defaultRetry() resilience.RetryConfig {
	return resilience.DefaultRetryConfig().
		WithMaxAttempts(3).
		WithInitialDelay(200 * time.Millisecond).
		WithMaxDelay(2 * time.Second).
		WithIsRecoverable(func(err error) bool {
			return !stderrors.Is(err, context.Canceled) &&
				!stderrors.Is(err, context.DeadlineExceeded) &&
				errors.CodeOf(err) != errors.CodeTimeout
		})
}

// NewClientWithStdio starts command and performs the MCP handshake over its
// standard streams. env entries are KEY=VALUE pairs added to the child.
func NewClientWithStdio(ctx context.Context, command string, env, args []string, opts ...ClientOption) (*Client, error) {
	conn, err := client.NewStdioMCPClient(command, env, args...)
	if err != nil {
		return nil, errors.New(errors.CodeUnreachable, "start mcp server", err).
			WithContext("command", command)
	}
	if err := handshake(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, errors.New(errors.CodeUnreachable, "initialize mcp server", err).
			WithContext("command", command)
	}
	return NewClient(conn, opts...), nil
}

func handshake(ctx context.Context, conn client.MCPClient) error {
	req := mcp.InitializeRequest{}
	req.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	req.Params.ClientInfo = mcp.Implementation{Name: clientName, Version: clientVersion}
	return resilience.WithTimeout(ctx, resilience.TimeoutConfig{Duration: handshakeTimeout}, func(ctx context.Context) error {
		_, err := conn.Initialize(ctx, req)
		return err
	})
}

// ListTools returns the server's tools, reusing the last answer while it is
// fresh.
func (c *Client) ListTools(ctx context.Context) ([]mcp.Tool, error) {
	c.mu.Lock()
	if c.cacheTTL > 0 && c.tools != nil && time.Now().Before(c.toolsExp) {
		tools := append([]mcp.Tool(nil), c.tools...)
		c.mu.Unlock()
		return tools, nil
	}
	c.mu.Unlock()

	res, err := request(ctx, c, func(ctx context.Context) (*mcp.ListToolsResult, error) {
		return c.conn.ListTools(ctx, mcp.ListToolsRequest{})
	})
	if err != nil {
		return nil, err
	}
	if c.cacheTTL > 0 {
		c.mu.Lock()
		c.tools = append([]mcp.Tool(nil), res.Tools...)
		c.toolsExp = time.Now().Add(c.cacheTTL)
		c.mu.Unlock()
	}
	return res.Tools, nil
}

// CallTool runs one tool on the server. Calls are not retried: the tool may
// already have acted when the reply is lost.
func (c *Client) CallTool(ctx context.Context, name string, args map[string]any) (*mcp.CallToolResult, error) {
	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return resilience.WithTimeoutValue(ctx, resilience.TimeoutConfig{Duration: c.timeout},
		func(ctx context.Context) (*mcp.CallToolResult, error) {
			return c.conn.CallTool(ctx, req)
		})
}

// Close closes the connection and stops a stdio child.
func (c *Client) Close() error {
	return c.conn.Close()
}

// request applies the per-request timeout inside the retry policy.
func request[T any](ctx context.Context, c *Client, fn func(context.Context) (T, error)) (T, error) {
	return resilience.DoValue(ctx, c.retry, func(ctx context.Context) (T, error) {
		return resilience.WithTimeoutValue(ctx, resilience.TimeoutConfig{Duration: c.timeout}, fn)
	})
}

var _ ToolSource = (*Client)(nil)
