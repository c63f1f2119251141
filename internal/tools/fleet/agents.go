package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/jaakkos/agentshq/internal/app"
	"github.com/jaakkos/agentshq/internal/domain"
)

func listAgentsTool() mcp.Tool {
	return mcp.NewTool("list_agents",
		mcp.WithDescription("List tracked agents with their project, status, current tool and last activity."),
		mcp.WithString("project", mcp.Description("Only agents of this project (optional)")),
		mcp.WithString("status", mcp.Description("Only agents with this status: active, idle or offline (optional)")),
	)
}

func listAgentsHandler(svc *app.FleetService) handlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := req.GetArguments()
		project, _ := args["project"].(string)
		status, _ := args["status"].(string)
		if status != "" && !domain.Status(status).Valid() {
			return nil, fmt.Errorf("invalid status %q (must be active, idle or offline)", status)
		}

		states, err := svc.States()
		if err != nil {
			return nil, err
		}

		now := time.Now()
		var b strings.Builder
		n := 0
		for _, id := range svc.Identities() {
			if project != "" && id.Project != project {
				continue
			}
			rec := states[id.AgentID]
			st := domain.StatusOffline
			if rec != nil {
				st = rec.Status
			}
			if status != "" && string(st) != status {
				continue
			}
			n++
			fmt.Fprintf(&b, "  - %s [%s] project=%s status=%s", id.AgentID, id.AgentType, id.Project, st)
			if rec != nil {
				if tool := domain.Deref(rec.CurrentTool); tool != "" {
					fmt.Fprintf(&b, " tool=%s", tool)
				}
				if task := domain.Deref(rec.CurrentTask); task != "" {
					fmt.Fprintf(&b, " task=%q", truncate(task, 60))
				}
				fmt.Fprintf(&b, " last activity %s", relTime(rec.LastActivity, now))
			}
			b.WriteString("\n")
		}

		if n == 0 {
			return mcp.NewToolResultText("No agents tracked."), nil
		}
		return mcp.NewToolResultText(fmt.Sprintf("=== Agents (%d) ===\n\n%s", n, b.String())), nil
	}
}

func getAgentTool() mcp.Tool {
	return mcp.NewTool("get_agent",
		mcp.WithDescription("Get the full state record of one agent as JSON, including its event log and tool counts."),
		mcp.WithString("agent_id", mcp.Required(), mcp.Description("Agent id")),
	)
}

func getAgentHandler(svc *app.FleetService) handlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		agentID, err := requireString(req.GetArguments(), "agent_id")
		if err != nil {
			return nil, err
		}
		rec, err := svc.Agent(agentID)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			return nil, fmt.Errorf("agent %q not found", agentID)
		}
		data, err := json.MarshalIndent(rec, "", "  ")
		if err != nil {
			return nil, err
		}
		return mcp.NewToolResultText(string(data)), nil
	}
}

func relTime(t time.Time, now time.Time) string {
	if t.IsZero() {
		return "never"
	}
	d := now.Sub(t)
	switch {
	case d < time.Second:
		return "just now"
	case d < time.Minute:
		return fmt.Sprintf("%ds ago", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return t.Format("Jan 2 15:04")
	}
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max]) + "..."
}
