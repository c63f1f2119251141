// Package fleet exposes the agent fleet as MCP tools, so agents and
// operators can query it or report status without the HTTP API.
package fleet

import (
	"context"
	"log"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/agentshq/internal/app"
)

// ToolFilter decides which tools are exposed. *policy.Policy implements it.
type ToolFilter interface {
	IsToolEnabled(name string) bool
}

type handlerFunc = func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error)

// Register registers the enabled fleet tools with the mcp-go server.
// A nil filter enables everything.
func Register(s *server.MCPServer, svc *app.FleetService, logger *log.Logger, filter ToolFilter) {
	add := func(tool mcp.Tool, h handlerFunc) {
		if filter != nil && !filter.IsToolEnabled(tool.Name) {
			logger.Printf("MCP tool disabled: %s", tool.Name)
			return
		}
		s.AddTool(tool, h)
	}

	// Query tools (4)
	add(listAgentsTool(), listAgentsHandler(svc))
	add(getAgentTool(), getAgentHandler(svc))
	add(listMessagesTool(), listMessagesHandler(svc))
	add(listTransitionsTool(), listTransitionsHandler(svc))

	// Reporting (1)
	add(reportStatusTool(), reportStatusHandler(svc, logger))

	// Cleanup tools (3)
	add(cleanupOfflineAgentsTool(), cleanupHandler("offline agents", svc.RemoveOfflineAgents, logger))
	add(cleanupOfflineProjectsTool(), cleanupHandler("offline projects", svc.RemoveOfflineProjects, logger))
	add(resetFleetTool(), resetFleetHandler(svc, logger))
}

// InstructionsText is sent to MCP clients on initialize.
func InstructionsText() string {
	return `agentshq tracks a fleet of coding agents.

Use list_agents for an overview, get_agent for one agent's full record,
list_messages and list_transitions for history. Agents without a hook
integration can call report_status themselves; the first report must carry
agent_type. cleanup_offline_agents, cleanup_offline_projects and reset_fleet
remove agents and broadcast the new fleet to every subscriber.`
}
