package fleet

import (
	"context"
	"fmt"
	"log"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jaakkos/agentshq/internal/app"
	"github.com/jaakkos/agentshq/internal/domain"
)

func reportStatusTool() mcp.Tool {
	return mcp.NewTool("report_status",
		mcp.WithDescription("Report an agent's status, the same way hook integrations do over HTTP. Omitted fields keep their stored value; null clears current_task or current_tool."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent id")),
		mcp.WithString("status", mcp.Description("active, idle or offline")),
		mcp.WithString("agent_type", mcp.Description("Agent type; required on the first report of an agent")),
		mcp.WithString("cwd", mcp.Description("Working directory; its last path segment is the project")),
		mcp.WithString("session_id", mcp.Description("Session id")),
		mcp.WithString("current_task", mcp.Description("Task being worked on")),
		mcp.WithString("current_tool", mcp.Description("Tool being run")),
		mcp.WithString("hook_event", mcp.Description("PreToolUse, PostToolUse, PostToolUseFailure or another hook name")),
		mcp.WithString("completed_tool", mcp.Description("Name of the tool that just completed")),
		mcp.WithString("last_message", mcp.Description("Last message of the agent")),
	)
}

func reportStatusHandler(svc *app.FleetService, logger *log.Logger) handlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		agentID, err := requireString(args, "agent_id")
		if err != nil {
			return nil, err
		}

		patch := domain.StatusPatch{
			CurrentTask:       optionalField(args, "current_task"),
			CurrentTool:       optionalField(args, "current_tool"),
			AgentType:         optionalField(args, "agent_type"),
			Cwd:               optionalField(args, "cwd"),
			SessionID:         optionalField(args, "session_id"),
			HookEvent:         optionalField(args, "hook_event"),
			CompletedToolName: optionalField(args, "completed_tool"),
			LastMessage:       optionalField(args, "last_message"),
		}
		if s, ok := optionalField(args, "status").Get(); ok {
			if !domain.Status(s).Valid() {
				return nil, fmt.Errorf("invalid status %q (must be active, idle or offline)", s)
			}
			patch.Status = domain.Some(domain.Status(s))
		}

		res, err := svc.Ingest(agentID, patch)
		if err != nil {
			return nil, err
		}
		if res.Skipped {
			return mcp.NewToolResultText(fmt.Sprintf("Report for unknown agent '%s' skipped (agent_type required, not going offline)", agentID)), nil
		}
		if res.IsNew {
			logger.Printf("MCP: agent %s registered via report_status", agentID)
		}
		return mcp.NewToolResultText(fmt.Sprintf("Agent '%s' is %s (version %d)", agentID, res.State.Status, res.State.Version)), nil
	}
}
