package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// NewServer creates a new MCP server with the mission tools registered.
func NewServer(version string) *server.MCPServer {
	s := server.NewMCPServer(
		"missionkit",
		version,
		server.WithToolCapabilities(true),
	)

	s.AddTool(
		mcp.NewTool("mission/validate",
			mcp.WithDescription("Validate a mission template YAML or JSON file"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the mission template")),
		),
		HandleValidate,
	)

	s.AddTool(
		mcp.NewTool("mission/run",
			mcp.WithDescription("Run a mission template against a replay scenario. Tools are never called live."),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the mission template")),
			mcp.WithString("scenario", mcp.Required(), mcp.Description("Scenario directory containing scenario.yaml")),
			mcp.WithObject("vars", mcp.Description("Mission input values; override the scenario's inputs")),
		),
		HandleRun,
	)

	s.AddTool(
		mcp.NewTool("mission/test",
			mcp.WithDescription("Run scenario replay tests for a mission template"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the mission template")),
			mcp.WithString("scenario", mcp.Description("Run only the named scenario (optional)")),
		),
		HandleTest,
	)

	s.AddTool(
		mcp.NewTool("mission/describe",
			mcp.WithDescription("Describe a mission template as markdown: tools, state and steps"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the mission template")),
		),
		HandleDescribe,
	)

	s.AddTool(
		mcp.NewTool("mission/diagram",
			mcp.WithDescription("Render a mission template's control flow"),
			mcp.WithString("path", mcp.Required(), mcp.Description("Path to the mission template")),
			mcp.WithString("format", mcp.Description("mermaid (default) or ascii"), mcp.Enum("mermaid", "ascii")),
		),
		HandleDiagram,
	)

	s.AddTool(
		mcp.NewTool("mission/schema",
			mcp.WithDescription("Export the mission template JSON Schema"),
		),
		HandleSchema,
	)

	return s
}
