// Package executor defines the tool invocation collaborator: how a step's
// resolved parameters reach a tool and how its outputs come back.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/ormasoftchile/missionkit/pkg/kernel/eval"
)

// Status is a tool call's terminal signal.
type Status string

const (
	StatusSuccess Status = "success"
	StatusFailure Status = "failure"
)

// Call is one tool invocation.
type Call struct {
	Tool       string         `json:"tool"`
	StepID     string         `json:"step_id"`
	Parameters map[string]any `json:"parameters"`
}

// Result is what a tool returned.
type Result struct {
	Outputs  map[string]any `json:"outputs,omitempty"`
	Status   Status         `json:"status"`
	Error    string         `json:"error,omitempty"`
	ExitCode int            `json:"exit_code,omitempty"`
	Stderr   string         `json:"stderr,omitempty"`
}

// Failed reports whether the tool signalled failure.
func (r *Result) Failed() bool { return r.Status != StatusSuccess }

// Invoker runs tool calls. Implementations own timeouts and retries; the
// engine calls Invoke once per step run and blocks until it returns.
type Invoker interface {
	Invoke(ctx context.Context, call Call) (*Result, error)
}

// InvokerFunc adapts a function to Invoker.
type InvokerFunc func(ctx context.Context, call Call) (*Result, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, call Call) (*Result, error) { return f(ctx, call) }

// ErrNoInvoker is returned by Router for tools with no route.
var ErrNoInvoker = errors.New("no invoker registered for tool")

// Router dispatches calls by tool name.
type Router struct {
	mu       sync.RWMutex
	routes   map[string]Invoker
	fallback Invoker
}

// NewRouter creates an empty router.
func NewRouter() *Router {
	return &Router{routes: make(map[string]Invoker)}
}

// Handle routes calls for tool to inv.
func (r *Router) Handle(tool string, inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes[tool] = inv
}

// Fallback sets the invoker used for tools without a route.
func (r *Router) Fallback(inv Invoker) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fallback = inv
}

// Invoke dispatches call.
func (r *Router) Invoke(ctx context.Context, call Call) (*Result, error) {
	r.mu.RLock()
	inv, ok := r.routes[call.Tool]
	if !ok {
		inv = r.fallback
	}
	r.mu.RUnlock()
	if inv == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoInvoker, call.Tool)
	}
	return inv.Invoke(ctx, call)
}

// Close closes every routed invoker that holds resources.
func (r *Router) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errs []error
	seen := make(map[Invoker]bool)
	all := make([]Invoker, 0, len(r.routes)+1)
	for _, inv := range r.routes {
		all = append(all, inv)
	}
	if r.fallback != nil {
		all = append(all, r.fallback)
	}
	for _, inv := range all {
		c, ok := inv.(io.Closer)
		if !ok || seen[inv] {
			continue
		}
		seen[inv] = true
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// StdioInvoker runs a tool by spawning a process per call. The call is
// written to stdin as JSON; stdout is read back as either {"outputs": {...}}
// or a flat JSON object of outputs. A non-zero exit is a failed call.
type StdioInvoker struct {
	Binary string
	// Args may reference parameters as templates, e.g. "--query={{ .query }}".
	Args []string
	Env  []string
	Dir  string
	// Isolated makes Env the whole environment instead of extending the
	// inherited one.
	Isolated bool
}

// Invoke runs the process.
func (s *StdioInvoker) Invoke(ctx context.Context, call Call) (*Result, error) {
	if s.Binary == "" {
		return nil, fmt.Errorf("tool %s: stdio invoker has no binary", call.Tool)
	}
	args := make([]string, len(s.Args))
	for i, a := range s.Args {
		resolved, err := eval.Render(a, call.Parameters)
		if err != nil {
			return nil, fmt.Errorf("args[%d] template: %w", i, err)
		}
		args[i] = resolved
	}

	payload, err := json.Marshal(call)
	if err != nil {
		return nil, fmt.Errorf("marshal call: %w", err)
	}

	cmd := exec.CommandContext(ctx, s.Binary, args...) //#nosec G204 -- binary and args come from the project manifest
	cmd.Stdin = bytes.NewReader(payload)
	cmd.Dir = s.Dir
	switch {
	case s.Isolated:
		cmd.Env = append([]string{}, s.Env...)
	case len(s.Env) > 0:
		cmd.Env = append(os.Environ(), s.Env...)
	}
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	runErr := cmd.Run()
	result := &Result{
		Status: StatusSuccess,
		Stderr: normalizeLineEndings(stderr.String()),
	}
	if runErr != nil {
		var exitErr *exec.ExitError
		if !errors.As(runErr, &exitErr) {
			return nil, fmt.Errorf("exec %q: %w", s.Binary, runErr)
		}
		result.ExitCode = exitErr.ExitCode()
		result.Status = StatusFailure
		result.Error = strings.TrimSpace(result.Stderr)
		if result.Error == "" {
			result.Error = fmt.Sprintf("exit code %d", result.ExitCode)
		}
	}

	outputs, err := decodeOutputs(stdout.Bytes())
	if err != nil {
		if result.Failed() {
			return result, nil
		}
		return nil, fmt.Errorf("tool %s: %w", call.Tool, err)
	}
	result.Outputs = outputs
	return result, nil
}

func decodeOutputs(data []byte) (map[string]any, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return map[string]any{}, nil
	}
	var doc map[string]any
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode stdout: %w", err)
	}
	if inner, ok := doc["outputs"].(map[string]any); ok && len(doc) == 1 {
		return inner, nil
	}
	return doc, nil
}

// normalizeLineEndings replaces \r\n with \n for cross-platform consistency.
func normalizeLineEndings(s string) string {
	return strings.ReplaceAll(s, "\r\n", "\n")
}
