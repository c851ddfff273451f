package mcp

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/client"
	"github.com/mark3labs/mcp-go/mcp"
)

var (
	templatePath = filepath.Join("..", "..", "kernel", "testing", "testdata", "summarise.yaml")
	scenarioDir  = filepath.Join("..", "..", "kernel", "testing", "testdata", "scenarios", "summarise")
)

func call(args map[string]any) mcp.CallToolRequest {
	req := mcp.CallToolRequest{}
	req.Params.Arguments = args
	return req
}

func text(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if len(res.Content) == 0 {
		t.Fatal("empty result content")
	}
	tc, ok := mcp.AsTextContent(res.Content[0])
	if !ok {
		t.Fatalf("content is %T, want text", res.Content[0])
	}
	return tc.Text
}

func TestHandleValidate_MissingPath(t *testing.T) {
	result, err := HandleValidate(context.Background(), call(map[string]any{}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected error for missing path")
	}
}

func TestHandleValidate(t *testing.T) {
	result, err := HandleValidate(context.Background(), call(map[string]any{"path": templatePath}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("unexpected error: %s", text(t, result))
	}
	if !strings.Contains(text(t, result), "summarise is valid") {
		t.Errorf("text = %q", text(t, result))
	}
}

func TestHandleValidate_Invalid(t *testing.T) {
	bad := filepath.Join("..", "..", "kernel", "validate", "testdata", "unknown_target.yaml")
	result, err := HandleValidate(context.Background(), call(map[string]any{"path": bad}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected validation failure")
	}
}

func TestHandleSchema(t *testing.T) {
	result, err := HandleSchema(context.Background(), call(nil))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Error("expected success for template schema")
	}
	var doc map[string]any
	if err := json.Unmarshal([]byte(text(t, result)), &doc); err != nil {
		t.Fatalf("schema is not JSON: %v", err)
	}
}

func TestHandleRun_Replay(t *testing.T) {
	result, err := HandleRun(context.Background(), call(map[string]any{
		"path":     templatePath,
		"scenario": filepath.Join(scenarioDir, "happy"),
	}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("run failed: %s", text(t, result))
	}
	var resp struct {
		Status  string         `json:"status"`
		Outputs map[string]any `json:"outputs"`
	}
	if err := json.Unmarshal([]byte(text(t, result)), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Status != "completed" {
		t.Errorf("status = %q", resp.Status)
	}
	if s, _ := resp.Outputs["final_summary"].(string); !strings.HasPrefix(s, "Go is") {
		t.Errorf("final_summary = %v", resp.Outputs["final_summary"])
	}
}

func TestHandleRun_ToolFailure(t *testing.T) {
	result, err := HandleRun(context.Background(), call(map[string]any{
		"path":     templatePath,
		"scenario": filepath.Join(scenarioDir, "tool-fails"),
	}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected failed run to be an error result")
	}
	if !strings.Contains(text(t, result), "tool_invocation_error") {
		t.Errorf("text = %q", text(t, result))
	}
}

func TestHandleRun_RequiresScenario(t *testing.T) {
	result, err := HandleRun(context.Background(), call(map[string]any{"path": templatePath}))
	if err != nil {
		t.Fatal(err)
	}
	if !result.IsError {
		t.Error("expected error without scenario")
	}
}

func TestHandleTest(t *testing.T) {
	result, err := HandleTest(context.Background(), call(map[string]any{"path": templatePath, "scenario": "happy"}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("test failed: %s", text(t, result))
	}
	if !strings.Contains(text(t, result), `"passed": 1`) {
		t.Errorf("text = %q", text(t, result))
	}
}

func TestHandleDescribe(t *testing.T) {
	result, err := HandleDescribe(context.Background(), call(map[string]any{"path": templatePath}))
	if err != nil {
		t.Fatal(err)
	}
	if result.IsError {
		t.Fatalf("describe failed: %s", text(t, result))
	}
	if !strings.Contains(text(t, result), "# summarise") {
		t.Errorf("text = %q", text(t, result))
	}
}

func TestHandleDiagram(t *testing.T) {
	result, err := HandleDiagram(context.Background(), call(map[string]any{"path": templatePath}))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(text(t, result), "flowchart TD") {
		t.Errorf("default format should be mermaid: %q", text(t, result))
	}

	result, _ = HandleDiagram(context.Background(), call(map[string]any{"path": templatePath, "format": "svg"}))
	if !result.IsError {
		t.Error("expected error for unknown format")
	}
}

func TestServer_ListsTools(t *testing.T) {
	c, err := client.NewInProcessClient(NewServer("test"))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Close()
	ctx := context.Background()
	if err := c.Start(ctx); err != nil {
		t.Fatal(err)
	}
	hello := mcp.InitializeRequest{}
	hello.Params.ProtocolVersion = mcp.LATEST_PROTOCOL_VERSION
	hello.Params.ClientInfo = mcp.Implementation{Name: "test", Version: "0"}
	if _, err := c.Initialize(ctx, hello); err != nil {
		t.Fatal(err)
	}
	tools, err := c.ListTools(ctx, mcp.ListToolsRequest{})
	if err != nil {
		t.Fatal(err)
	}
	names := make(map[string]bool)
	for _, tool := range tools.Tools {
		names[tool.Name] = true
	}
	for _, want := range []string{"mission/validate", "mission/run", "mission/test", "mission/schema", "mission/describe", "mission/diagram"} {
		if !names[want] {
			t.Errorf("tool %s not registered", want)
		}
	}
}
