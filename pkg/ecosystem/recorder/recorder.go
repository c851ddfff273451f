// Package recorder captures live tool responses so a run can be replayed
// later as a scenario.
package recorder

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/missionkit/pkg/kernel/executor"
	"github.com/ormasoftchile/missionkit/pkg/kernel/replay"
)

// Recorder wraps an Invoker and captures every tool response, in call order,
// keyed by tool name.
type Recorder struct {
	inner executor.Invoker

	mu        sync.Mutex
	responses map[string][]replay.ToolResponse
	count     int
	secrets   []string // env var names whose values should be redacted
}

// New creates a recording wrapper around an existing invoker.
func New(inner executor.Invoker) *Recorder {
	return &Recorder{inner: inner, responses: make(map[string][]replay.ToolResponse)}
}

// SetSecrets configures secret env var names whose values are redacted in captured output.
func (r *Recorder) SetSecrets(envVars []string) {
	r.secrets = envVars
}

// Invoke delegates to the inner invoker and records the response. Transport
// errors are not recorded; replaying them would hide the failure.
func (r *Recorder) Invoke(ctx context.Context, call executor.Call) (*executor.Result, error) {
	result, err := r.inner.Invoke(ctx, call)
	if err != nil {
		return nil, err
	}

	captured := replay.ToolResponse{
		Error:   r.redact(result.Error),
		Outputs: r.redactMap(result.Outputs),
	}
	if result.Failed() {
		captured.Status = result.Status
	}
	r.mu.Lock()
	r.responses[call.Tool] = append(r.responses[call.Tool], captured)
	r.count++
	r.mu.Unlock()
	return result, nil
}

// Close closes the inner invoker when it holds resources.
func (r *Recorder) Close() error {
	if c, ok := r.inner.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Len returns the number of captured responses.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}

// Scenario builds a replay scenario from the captured responses.
func (r *Recorder) Scenario(inputs map[string]string) *replay.Scenario {
	r.mu.Lock()
	defer r.mu.Unlock()
	s := &replay.Scenario{ToolResponses: make(map[string][]replay.ToolResponse, len(r.responses))}
	if len(inputs) > 0 {
		s.Inputs = make(map[string]string, len(inputs))
		for k, v := range inputs {
			s.Inputs[k] = v
		}
	}
	for tool, resps := range r.responses {
		s.ToolResponses[tool] = append([]replay.ToolResponse(nil), resps...)
	}
	return s
}

// WriteScenario writes <dir>/scenario.yaml for later replay.
func (r *Recorder) WriteScenario(dir string, inputs map[string]string) (string, error) {
	data, err := yaml.Marshal(r.Scenario(inputs))
	if err != nil {
		return "", fmt.Errorf("marshal scenario: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scenario dir: %w", err)
	}
	path := filepath.Join(dir, "scenario.yaml")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write scenario: %w", err)
	}
	return path, nil
}

// redact replaces secret values with <REDACTED>.
func (r *Recorder) redact(s string) string {
	for _, envVar := range r.secrets {
		val := os.Getenv(envVar)
		if val != "" {
			s = strings.ReplaceAll(s, val, "<REDACTED>")
		}
	}
	return s
}

// redactMap redacts secret values in string outputs, recursing into objects.
func (r *Recorder) redactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		switch tv := v.(type) {
		case string:
			out[k] = r.redact(tv)
		case map[string]any:
			out[k] = r.redactMap(tv)
		default:
			out[k] = v
		}
	}
	return out
}
