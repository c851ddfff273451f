// Package mcp exposes mission validation, replay runs and tests as MCP tools
// for AI agents.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/ormasoftchile/missionkit/pkg/diagram"
	"github.com/ormasoftchile/missionkit/pkg/kernel/engine"
	"github.com/ormasoftchile/missionkit/pkg/kernel/fault"
	"github.com/ormasoftchile/missionkit/pkg/kernel/replay"
	kschema "github.com/ormasoftchile/missionkit/pkg/kernel/schema"
	"github.com/ormasoftchile/missionkit/pkg/kernel/scope"
	ktesting "github.com/ormasoftchile/missionkit/pkg/kernel/testing"
	kvalidate "github.com/ormasoftchile/missionkit/pkg/kernel/validate"
	"github.com/ormasoftchile/missionkit/pkg/tui"
)

// HandleValidate implements the mission/validate MCP tool.
func HandleValidate(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return errorResult("path argument is required"), nil
	}

	tpl, errs := kvalidate.ValidateFile(path)
	if kvalidate.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	steps := len(tpl.Mission.Workflow.Steps())
	msg := fmt.Sprintf("✓ %s is valid (%d stages, %d steps)", tpl.Meta.Name, len(tpl.Mission.Workflow.Stages), steps)
	if w := kvalidate.Warnings(errs); len(w) > 0 {
		msg += "\n" + formatErrors(w)
	}
	return textResult(msg), nil
}

// HandleSchema implements the mission/schema MCP tool.
func HandleSchema(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	data, err := kschema.GenerateTemplateJSONSchema()
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(string(data)), nil
}

// HandleDescribe implements the mission/describe MCP tool: a markdown
// walkthrough of the template's tools, state and steps.
func HandleDescribe(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tpl, res := validTemplate(req)
	if res != nil {
		return res, nil
	}
	return textResult(tui.Describe(tpl)), nil
}

// HandleDiagram implements the mission/diagram MCP tool.
func HandleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	tpl, res := validTemplate(req)
	if res != nil {
		return res, nil
	}
	out, err := diagram.Generate(tpl, diagram.Format(req.GetString("format", string(diagram.FormatMermaid))))
	if err != nil {
		return errorResult(err.Error()), nil
	}
	return textResult(out), nil
}

func validTemplate(req mcp.CallToolRequest) (*kschema.Template, *mcp.CallToolResult) {
	path := req.GetString("path", "")
	if path == "" {
		return nil, errorResult("path argument is required")
	}
	tpl, errs := kvalidate.ValidateFile(path)
	if kvalidate.HasErrors(errs) {
		return nil, errorResult(formatErrors(errs))
	}
	return tpl, nil
}

// HandleRun implements the mission/run MCP tool. Runs are replay-only: tool
// responses come from the scenario.
func HandleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	scenarioDir := req.GetString("scenario", "")
	if scenarioDir == "" {
		return errorResult("scenario argument is required"), nil
	}

	tpl, errs := kvalidate.ValidateFile(path)
	if kvalidate.HasErrors(errs) {
		return errorResult(formatErrors(errs)), nil
	}
	scenario, err := replay.LoadScenarioDir(scenarioDir)
	if err != nil {
		return errorResult(err.Error()), nil
	}

	inputs := make(map[string]string, len(scenario.Inputs))
	for k, v := range scenario.Inputs {
		inputs[k] = v
	}
	if rawVars, ok := req.GetArguments()["vars"].(map[string]any); ok {
		for k, v := range rawVars {
			inputs[k] = fmt.Sprint(v)
		}
	}

	runID := "mcp-" + uuid.NewString()
	m, err := scope.Build(tpl, scope.WithMissionID(runID), scope.WithInputs(inputs))
	if err != nil {
		return errorResult(fmt.Sprintf("instantiate: %s", err)), nil
	}

	eng := engine.New(m, engine.RunConfig{RunID: runID, Invoker: replay.NewInvoker(scenario)})
	result := eng.Run(ctx)

	response := map[string]any{
		"mission_id":    runID,
		"status":        result.Status,
		"duration":      result.Duration.String(),
		"jump_count":    result.JumpCount,
		"visited_steps": eng.VisitedSteps,
		"outputs":       result.Outputs,
	}
	if result.Error != nil {
		response["error"] = result.Error.Error()
		response["error_kind"] = fault.KindOf(result.Error)
		response["failed_step"] = result.FailedStep
	}

	data, _ := json.MarshalIndent(response, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: result.Status != scope.StatusCompleted && result.Status != scope.StatusEnded,
	}, nil
}

// HandleTest implements the mission/test MCP tool.
func HandleTest(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	path := req.GetString("path", "")
	if path == "" {
		return errorResult("path argument is required"), nil
	}
	scenarioName := req.GetString("scenario", "")

	runner := &ktesting.Runner{Timeout: 30 * time.Second}

	var output *ktesting.TestOutput
	if scenarioName != "" {
		result, err := runner.RunScenario(ctx, path, scenarioName)
		if err != nil {
			return errorResult(fmt.Sprintf("run scenario: %s", err)), nil
		}
		output = &ktesting.TestOutput{
			Template:  result.TemplateName,
			Scenarios: []ktesting.TestResult{*result},
			Summary:   ktesting.TestSummary{Total: 1},
		}
		switch result.Status {
		case ktesting.StatusPassed:
			output.Summary.Passed = 1
		case ktesting.StatusFailed:
			output.Summary.Failed = 1
		case ktesting.StatusSkipped:
			output.Summary.Skipped = 1
		default:
			output.Summary.Errors = 1
		}
	} else {
		var err error
		output, err = runner.RunAll(ctx, path)
		if err != nil {
			return errorResult(fmt.Sprintf("run tests: %s", err)), nil
		}
		if output.Template == "" {
			output.Template = filepath.Base(path)
		}
	}

	data, _ := json.MarshalIndent(output, "", "  ")
	return &mcp.CallToolResult{
		Content: []mcp.Content{mcp.NewTextContent(string(data))},
		IsError: output.Summary.Failed > 0 || output.Summary.Errors > 0,
	}, nil
}

func formatErrors(errs []*kvalidate.ValidationError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(text),
		},
	}
}

func errorResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.NewTextContent(msg),
		},
		IsError: true,
	}
}
