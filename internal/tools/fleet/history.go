package fleet

import (
	"context"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jaakkos/agentshq/internal/app"
	"github.com/jaakkos/agentshq/internal/domain"
)

const defaultHistoryLimit = 20

func listMessagesTool() mcp.Tool {
	return mcp.NewTool("list_messages",
		mcp.WithDescription("List recent messages agents sent each other, newest last."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of messages (default: 20)")),
		mcp.WithString("agent_id", mcp.Description("Only messages sent by or to this agent (optional)")),
	)
}

func listMessagesHandler(svc *app.FleetService) handlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		limit := optionalInt(args, "limit", defaultHistoryLimit)
		agentID, _ := args["agent_id"].(string)

		var msgs []domain.AgentMessage
		for _, m := range svc.Messages() {
			if agentID == "" || m.FromID == agentID || m.ToID == agentID {
				msgs = append(msgs, m)
			}
		}
		if len(msgs) == 0 {
			return mcp.NewToolResultText("No messages."), nil
		}
		if len(msgs) > limit {
			msgs = msgs[len(msgs)-limit:]
		}

		var b strings.Builder
		fmt.Fprintf(&b, "=== Messages (%d) ===\n\n", len(msgs))
		for _, m := range msgs {
			fmt.Fprintf(&b, "[%s] %s -> %s (%s): %s\n", m.Time.Format("15:04:05"), m.FromID, m.ToID, m.Type, m.Summary)
			if m.Content != "" {
				fmt.Fprintf(&b, "    %s\n", m.Content)
			}
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}

func listTransitionsTool() mcp.Tool {
	return mcp.NewTool("list_transitions",
		mcp.WithDescription("List recent status transitions, newest last."),
		mcp.WithString("agent_id", mcp.Description("Only transitions of this agent (optional)")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of transitions (default: 20)")),
	)
}

func listTransitionsHandler(svc *app.FleetService) handlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		agentID, _ := args["agent_id"].(string)
		limit := optionalInt(args, "limit", defaultHistoryLimit)

		entries := svc.Transitions(agentID)
		if len(entries) == 0 {
			return mcp.NewToolResultText("No transitions."), nil
		}
		if len(entries) > limit {
			entries = entries[len(entries)-limit:]
		}

		var b strings.Builder
		fmt.Fprintf(&b, "=== Transitions (%d) ===\n\n", len(entries))
		for _, t := range entries {
			fmt.Fprintf(&b, "[%s] %s: %s -> %s", t.Time.Format("15:04:05"), t.AgentID, t.OldStatus, t.NewStatus)
			if tool := domain.Deref(t.Tool); tool != "" {
				fmt.Fprintf(&b, " tool=%s", tool)
			}
			if task := domain.Deref(t.Task); task != "" {
				fmt.Fprintf(&b, " task=%q", truncate(task, 60))
			}
			b.WriteString("\n")
		}
		return mcp.NewToolResultText(b.String()), nil
	}
}
