// Package tools wires tool transports into the kernel's executor.Invoker:
// per-call stdio processes, persistent JSON-RPC runners, and MCP servers.
// A Manager builds the routes from the project manifest.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/hashicorp/go-hclog"
	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/ormasoftchile/missionkit/pkg/kernel/executor"
)

// ClientName and ClientVersion identify missionkit in the MCP handshake.
var (
	ClientName    = "missionkit"
	ClientVersion = "0.1.0"
)

const defaultConnectMaxElapsed = 30 * time.Second

// Dialer opens an unstarted or started MCP client.
type Dialer func(ctx context.Context) (*client.Client, error)

// StdioDialer spawns command as an MCP server speaking over stdio.
func StdioDialer(command string, env []string, args ...string) Dialer {
	return func(context.Context) (*client.Client, error) {
		return client.NewStdioMCPClient(command, env, args...)
	}
}

// InProcessDialer connects to an MCP server running in this process.
func InProcessDialer(srv *server.MCPServer) Dialer {
	return func(context.Context) (*client.Client, error) {
		return client.NewInProcessClient(srv)
	}
}

// MCPOption configures an MCPInvoker.
type MCPOption func(*MCPInvoker)

// WithRetries bounds connection attempts after the first. Tool calls are
// never retried: a call that reached the server may have had effects.
func WithRetries(n int) MCPOption {
	return func(m *MCPInvoker) { m.retries = n }
}

// WithRemoteName calls the server tool name instead of the template's.
func WithRemoteName(name string) MCPOption {
	return func(m *MCPInvoker) { m.remote = name }
}

// WithLogger sets the invoker's logger.
func WithLogger(l hclog.Logger) MCPOption {
	return func(m *MCPInvoker) { m.log = l }
}

// MCPInvoker calls tools on an MCP server. The connection is opened on
// first use and reopened after the server goes away.
type MCPInvoker struct {
	dial    Dialer
	retries int
	remote  string
	log     hclog.Logger

	mu    sync.Mutex
	c     *client.Client
	tools map[string]bool // discovered tool names from tools/list
}

// NewMCPInvoker creates an invoker over dial.
func NewMCPInvoker(dial Dialer, opts ...MCPOption) *MCPInvoker {
	m := &MCPInvoker{dial: dial, retries: 3, log: hclog.NewNullLogger()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// connectLocked opens the connection with exponential backoff.
func (m *MCPInvoker) connectLocked(ctx context.Context) error {
	if m.c != nil {
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = defaultConnectMaxElapsed
	var policy backoff.BackOff = bo
	if m.retries >= 0 {
		policy = backoff.WithMaxRetries(bo, uint64(m.retries))
	}

	attempt := 0
	return backoff.Retry(func() error {
		attempt++
		c, err := m.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return backoff.Permanent(ctx.Err())
			}
			m.log.Warn("mcp connect failed", "attempt", attempt, "error", err)
			return err
		}
		m.c = c
		return nil
	}, backoff.WithContext(policy, ctx))
}

func (m *MCPInvoker) open(ctx context.Context) (*client.Client, error) {
	c, err := m.dial(ctx)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	if err := c.Start(ctx); err != nil {
		c.Close()
		return nil, fmt.Errorf("start: %w", err)
	}

	hello := mcp.InitializeRequest{}
	hello.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	hello.Params.ClientInfo = mcp.Implementation{Name: ClientName, Version: ClientVersion}
	info, err := c.Initialize(ctx, hello)
	if err != nil {
		c.Close()
		return nil, fmt.Errorf("initialize: %w", err)
	}

	// Discovery is advisory: tools may still be called by name.
	m.tools = make(map[string]bool)
	if list, err := c.ListTools(ctx, mcp.ListToolsRequest{}); err != nil {
		m.log.Warn("mcp tools/list failed", "error", err)
	} else {
		for _, t := range list.Tools {
			m.tools[t.Name] = true
		}
	}
	m.log.Debug("mcp connected", "server", info.ServerInfo.Name, "tools", len(m.tools))
	return c, nil
}

// Invoke calls the tool and converts the MCP result. Structured content
// that is a JSON object becomes the outputs; otherwise a text body that
// parses as a JSON object does; otherwise the text is returned as the
// "text" output.
func (m *MCPInvoker) Invoke(ctx context.Context, call executor.Call) (*executor.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.connectLocked(ctx); err != nil {
		return nil, fmt.Errorf("mcp connect for %s: %w", call.Tool, err)
	}

	name := call.Tool
	if m.remote != "" {
		name = m.remote
	}
	if len(m.tools) > 0 && !m.tools[name] {
		return nil, fmt.Errorf("mcp server does not offer tool %q", name)
	}

	req := mcp.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = call.Parameters

	res, err := m.c.CallTool(ctx, req)
	if err != nil {
		if ctx.Err() == nil {
			// Reconnect on the next call.
			m.c.Close()
			m.c = nil
		}
		return nil, fmt.Errorf("mcp tools/call %s: %w", name, err)
	}
	return convertResult(res), nil
}

func convertResult(res *mcp.CallToolResult) *executor.Result {
	var texts []string
	for _, c := range res.Content {
		if tc, ok := mcp.AsTextContent(c); ok {
			texts = append(texts, tc.Text)
		}
	}
	text := strings.Join(texts, "\n")

	if res.IsError {
		if text == "" {
			text = "mcp tool reported an error"
		}
		return &executor.Result{Status: executor.StatusFailure, Error: text}
	}

	out := &executor.Result{Status: executor.StatusSuccess}
	if obj, ok := res.StructuredContent.(map[string]any); ok {
		out.Outputs = obj
		return out
	}
	var obj map[string]any
	if err := json.Unmarshal([]byte(text), &obj); err == nil {
		out.Outputs = obj
		return out
	}
	out.Outputs = map[string]any{"text": text}
	return out
}

// Close shuts down the connection, if open.
func (m *MCPInvoker) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.c == nil {
		return nil
	}
	err := m.c.Close()
	m.c = nil
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
