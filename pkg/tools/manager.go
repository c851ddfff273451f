package tools

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/hashicorp/go-hclog"

	"github.com/ormasoftchile/missionkit/pkg/governance"
	"github.com/ormasoftchile/missionkit/pkg/kernel/executor"
)

// Transports.
const (
	TransportStdio = "stdio" // one process per call
	TransportRPC   = "rpc"   // persistent JSON-RPC runner
	TransportMCP   = "mcp"   // MCP server over stdio
)

// Config declares how one template tool is reached.
type Config struct {
	Transport  string            `yaml:"transport,omitempty"   json:"transport,omitempty"`
	Binary     string            `yaml:"binary"                json:"binary"`
	Args       []string          `yaml:"args,omitempty"        json:"args,omitempty"`
	Env        map[string]string `yaml:"env,omitempty"         json:"env,omitempty"`
	Dir        string            `yaml:"dir,omitempty"         json:"dir,omitempty"`
	RemoteName string            `yaml:"remote_name,omitempty" json:"remote_name,omitempty"`
	Retries    *int              `yaml:"retries,omitempty"     json:"retries,omitempty"`
}

// Manager routes tool calls to the transport configured for each tool,
// under the project's governance policy, and owns their processes.
type Manager struct {
	router *executor.Router
	names  []string
}

// NewManager builds routes for every configured tool. A nil gov applies no
// policy.
func NewManager(configs map[string]Config, gov *governance.Engine, log hclog.Logger) (*Manager, error) {
	if log == nil {
		log = hclog.NewNullLogger()
	}
	m := &Manager{router: executor.NewRouter()}
	names := make([]string, 0, len(configs))
	for name := range configs {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		inv, err := build(name, configs[name], gov, log.Named(name))
		if err != nil {
			m.router.Close()
			return nil, fmt.Errorf("tool %q: %w", name, err)
		}
		m.router.Handle(name, gov.Guard(inv))
		m.names = append(m.names, name)
	}
	return m, nil
}

func build(name string, cfg Config, gov *governance.Engine, log hclog.Logger) (executor.Invoker, error) {
	if cfg.Binary == "" {
		return nil, fmt.Errorf("binary is required")
	}
	if err := gov.CheckCommand(cfg.Binary); err != nil {
		return nil, err
	}
	env, err := envList(cfg.Env, gov)
	if err != nil {
		return nil, err
	}

	switch cfg.Transport {
	case "", TransportStdio:
		inv := &executor.StdioInvoker{Binary: cfg.Binary, Args: cfg.Args, Env: env, Dir: cfg.Dir}
		if gov.Restricted() {
			kept, blocked := gov.FilterEnvVars(append(os.Environ(), env...))
			if len(blocked) > 0 {
				log.Debug("blocked inherited environment variables", "names", blocked)
			}
			inv.Env = kept
			inv.Isolated = true
		}
		return inv, nil
	case TransportRPC:
		return executor.NewRPCInvoker(cfg.Binary, cfg.Args, env), nil
	case TransportMCP:
		opts := []MCPOption{WithLogger(log)}
		if cfg.Retries != nil {
			opts = append(opts, WithRetries(*cfg.Retries))
		}
		if cfg.RemoteName != "" {
			opts = append(opts, WithRemoteName(cfg.RemoteName))
		}
		return NewMCPInvoker(StdioDialer(cfg.Binary, env, cfg.Args...), opts...), nil
	default:
		return nil, fmt.Errorf("unknown transport %q: must be stdio, rpc, or mcp", cfg.Transport)
	}
}

// envList renders the configured variables as NAME=value entries,
// rejecting names the policy denies.
func envList(vars map[string]string, gov *governance.Engine) ([]string, error) {
	keys := make([]string, 0, len(vars))
	for k := range vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	env := make([]string, 0, len(keys))
	for _, k := range keys {
		if err := gov.CheckEnvVar(k); err != nil {
			return nil, err
		}
		env = append(env, k+"="+vars[k])
	}
	return env, nil
}

// Fallback routes tools without a configuration to inv.
func (m *Manager) Fallback(inv executor.Invoker) { m.router.Fallback(inv) }

// Tools returns the configured tool names, sorted.
func (m *Manager) Tools() []string { return append([]string(nil), m.names...) }

// Invoke dispatches call to its tool's transport.
func (m *Manager) Invoke(ctx context.Context, call executor.Call) (*executor.Result, error) {
	return m.router.Invoke(ctx, call)
}

// Close shuts down every persistent tool process.
func (m *Manager) Close() error { return m.router.Close() }
