package executor

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
)

// RPCInvoker talks to a long-lived tool runner via JSON-RPC 2.0 over stdio.
// The process is started on the first call and kept for the invoker's
// lifetime; calls are serialised.
type RPCInvoker struct {
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner
	mu      sync.Mutex
	nextID  atomic.Int64
	started bool
}

type jsonRPCRequest struct {
	JSONRPC string `json:"jsonrpc"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
	ID      int64  `json:"id"`
}

type jsonRPCResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *jsonRPCError   `json:"error,omitempty"`
	ID      int64           `json:"id"`
}

type jsonRPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// NewRPCInvoker creates an invoker for the given runner command.
func NewRPCInvoker(command string, args []string, env []string) *RPCInvoker {
	cmd := exec.Command(command, args...) //#nosec G204 -- runner command comes from the project manifest
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}
	return &RPCInvoker{cmd: cmd}
}

// Start spawns the runner process and sends the initialize handshake.
func (r *RPCInvoker) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.startLocked(ctx)
}

func (r *RPCInvoker) startLocked(ctx context.Context) error {
	if r.started {
		return nil
	}
	stdin, err := r.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := r.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	r.stdin = stdin
	r.scanner = bufio.NewScanner(stdout)
	r.scanner.Buffer(make([]byte, 1024*1024), 1024*1024)

	if err := r.cmd.Start(); err != nil {
		return fmt.Errorf("start runner: %w", err)
	}
	r.started = true

	if _, err := r.callLocked(ctx, "initialize", map[string]any{"protocol_version": "1"}); err != nil {
		r.cmd.Process.Kill()
		r.started = false
		return fmt.Errorf("initialize: %w", err)
	}
	return nil
}

// Invoke sends an invoke request to the runner.
func (r *RPCInvoker) Invoke(ctx context.Context, call Call) (*Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.startLocked(ctx); err != nil {
		return nil, err
	}
	resp, err := r.callLocked(ctx, "invoke", call)
	if err != nil {
		return nil, err
	}

	var result Result
	if err := json.Unmarshal(resp, &result); err != nil {
		return nil, fmt.Errorf("unmarshal invoke result: %w", err)
	}
	if result.Status == "" {
		result.Status = StatusSuccess
		if result.Error != "" {
			result.Status = StatusFailure
		}
	}
	return &result, nil
}

// Close sends a shutdown request and waits for the process to exit.
func (r *RPCInvoker) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.started {
		return nil
	}
	r.started = false
	_, _ = r.callLocked(context.Background(), "shutdown", map[string]any{})
	r.stdin.Close()
	if r.cmd.Process == nil {
		return nil
	}
	return r.cmd.Wait()
}

// callLocked sends a JSON-RPC request and reads the response. Must be called with mu held.
func (r *RPCInvoker) callLocked(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id := r.nextID.Add(1)
	req := jsonRPCRequest{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      id,
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	data = append(data, '\n')

	if _, err := r.stdin.Write(data); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	if !r.scanner.Scan() {
		if err := r.scanner.Err(); err != nil {
			return nil, fmt.Errorf("read response: %w", err)
		}
		return nil, fmt.Errorf("runner closed stdout")
	}

	var resp jsonRPCResponse
	if err := json.Unmarshal(r.scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.ID != id {
		return nil, fmt.Errorf("response id %d does not match request %d", resp.ID, id)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("runner error %d: %s", resp.Error.Code, resp.Error.Message)
	}
	return resp.Result, nil
}
