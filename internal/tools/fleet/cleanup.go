package fleet

import (
	"context"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jaakkos/agentshq/internal/app"
)

func cleanupOfflineAgentsTool() mcp.Tool {
	return mcp.NewTool("cleanup_offline_agents",
		mcp.WithDescription("Remove every offline agent: record, identity, transitions and timers."),
	)
}

func cleanupOfflineProjectsTool() mcp.Tool {
	return mcp.NewTool("cleanup_offline_projects",
		mcp.WithDescription("Remove all agents of every project whose agents are all offline."),
	)
}

func cleanupHandler(what string, fn func() (int, error), logger *log.Logger) handlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		n, err := fn()
		if err != nil {
			return nil, err
		}
		logger.Printf("MCP: removed %d agent(s) (%s)", n, what)
		return mcp.NewToolResultText(fmt.Sprintf("Removed %d agent(s)", n)), nil
	}
}

func resetFleetTool() mcp.Tool {
	return mcp.NewTool("reset_fleet",
		mcp.WithDescription("Delete every agent record and clear identities, colors, transitions and messages."),
		mcp.WithBoolean("confirm", mcp.Required(), mcp.Description("Must be true")),
	)
}

func resetFleetHandler(svc *app.FleetService, logger *log.Logger) handlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		if confirm, _ := req.GetArguments()["confirm"].(bool); !confirm {
			return nil, fmt.Errorf("confirm must be true to reset the fleet")
		}
		n, err := svc.ResetAll()
		if err != nil {
			return nil, err
		}
		logger.Printf("MCP: fleet reset, %d record(s) deleted", n)
		return mcp.NewToolResultText(fmt.Sprintf("Fleet reset: %d record(s) deleted", n)), nil
	}
}
