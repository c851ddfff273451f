// Package replay provides scenario-based replay for mission runs. A scenario
// carries mission inputs and canned tool responses, so a template can be
// executed deterministically without calling live tools.
package replay

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/ormasoftchile/missionkit/pkg/kernel/executor"
)

// Scenario is the top-level replay scenario document.
type Scenario struct {
	// Inputs are mission variable values, parsed per declared schema.
	Inputs map[string]string `yaml:"inputs,omitempty" json:"inputs,omitempty"`

	// ToolResponses maps "tool:step_id" or "tool" keys to canned responses,
	// consumed in order.
	ToolResponses map[string][]ToolResponse `yaml:"tool_responses,omitempty" json:"tool_responses,omitempty"`
}

// ToolResponse is a single canned response.
type ToolResponse struct {
	Status  executor.Status `yaml:"status,omitempty"  json:"status,omitempty"`
	Error   string          `yaml:"error,omitempty"   json:"error,omitempty"`
	Outputs map[string]any  `yaml:"outputs,omitempty" json:"outputs,omitempty"`
	// Repeat keeps serving this response once the queue reaches it.
	Repeat bool `yaml:"repeat,omitempty" json:"repeat,omitempty"`
}

// LoadScenario loads a scenario from a YAML file.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read scenario: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var s Scenario
	if err := yaml.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("parse scenario: %w", err)
	}
	return &s, nil
}

// LoadScenarioDir loads a scenario from a directory containing scenario.yaml.
func LoadScenarioDir(dir string) (*Scenario, error) {
	return LoadScenario(filepath.Join(dir, "scenario.yaml"))
}

// LoadScenarioPath loads a scenario from a file or from a directory holding
// scenario.yaml.
func LoadScenarioPath(path string) (*Scenario, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat scenario: %w", err)
	}
	if info.IsDir() {
		return LoadScenarioDir(path)
	}
	return LoadScenario(path)
}

// Invoker implements executor.Invoker using canned scenario responses.
// A step-specific key ("tool:step_id") wins over the tool-wide key.
type Invoker struct {
	mu       sync.Mutex
	scenario *Scenario
	consumed map[string]int // next response index per key
	calls    []executor.Call
}

// NewInvoker creates a replay invoker from a scenario.
func NewInvoker(s *Scenario) *Invoker {
	if s == nil {
		s = &Scenario{}
	}
	return &Invoker{
		scenario: s,
		consumed: make(map[string]int),
	}
}

// Invoke returns the next canned response for the call's tool.
func (r *Invoker) Invoke(_ context.Context, call executor.Call) (*executor.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, call)

	key := call.Tool + ":" + call.StepID
	responses, ok := r.scenario.ToolResponses[key]
	if !ok {
		key = call.Tool
		responses, ok = r.scenario.ToolResponses[key]
		if !ok {
			return nil, fmt.Errorf("replay: no canned response for %s (step %s)", call.Tool, call.StepID)
		}
	}

	idx := r.consumed[key]
	if idx >= len(responses) {
		last := len(responses) - 1
		if last < 0 || !responses[last].Repeat {
			return nil, fmt.Errorf("replay: exhausted canned responses for %s (used %d)", key, len(responses))
		}
		idx = last
	}
	resp := responses[idx]
	r.consumed[key] = idx + 1

	result := &executor.Result{
		Status:  resp.Status,
		Error:   resp.Error,
		Outputs: make(map[string]any, len(resp.Outputs)),
	}
	if result.Status == "" {
		result.Status = executor.StatusSuccess
		if resp.Error != "" {
			result.Status = executor.StatusFailure
		}
	}
	for k, v := range resp.Outputs {
		result.Outputs[k] = v
	}
	return result, nil
}

// Calls returns the calls received so far.
func (r *Invoker) Calls() []executor.Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]executor.Call(nil), r.calls...)
}
