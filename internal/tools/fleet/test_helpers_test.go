package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/agentshq/internal/app"
	"github.com/jaakkos/agentshq/internal/policy"
	"github.com/jaakkos/agentshq/internal/repository/filestore"
)

// newTestService returns a fleet service backed by a file store in a temp dir.
func newTestService(t *testing.T) *app.FleetService {
	t.Helper()
	dir := t.TempDir()
	store, err := filestore.New(filepath.Join(dir, "agents"), filepath.Join(dir, "transitions.json"))
	if err != nil {
		t.Fatalf("filestore: %v", err)
	}
	svc := app.NewFleetService(store, policy.New(policy.DefaultConfig()), log.New(io.Discard, "", 0))
	if err := svc.Bootstrap(); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}
	return svc
}

// testServer creates a MCPServer with the fleet tools registered.
func testServer(svc *app.FleetService, filter ToolFilter) *server.MCPServer {
	s := server.NewMCPServer("test", "1.0.0")
	Register(s, svc, log.New(io.Discard, "", 0), filter)
	return s
}

// callTool calls a registered tool via the MCPServer's HandleMessage.
func callTool(t *testing.T, s *server.MCPServer, name string, args map[string]any) (*mcp.CallToolResult, error) {
	t.Helper()

	reqJSON, err := json.Marshal(map[string]any{
		"jsonrpc": "2.0",
		"id":      1,
		"method":  "tools/call",
		"params": map[string]any{
			"name":      name,
			"arguments": args,
		},
	})
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}

	respBytes, err := json.Marshal(s.HandleMessage(context.Background(), reqJSON))
	if err != nil {
		t.Fatalf("marshal response: %v", err)
	}

	var resp struct {
		Result json.RawMessage `json:"result"`
		Error  *struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(respBytes, &resp); err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	if resp.Error != nil {
		return nil, fmt.Errorf("RPC error %d: %s", resp.Error.Code, resp.Error.Message)
	}

	var result mcp.CallToolResult
	if err := json.Unmarshal(resp.Result, &result); err != nil {
		t.Fatalf("unmarshal result: %v", err)
	}
	return &result, nil
}

// resultText extracts the first text content from a CallToolResult.
func resultText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if result == nil {
		t.Fatal("result is nil")
	}
	for _, c := range result.Content {
		if tc, ok := c.(mcp.TextContent); ok {
			return tc.Text
		}
	}
	t.Fatal("no text content in result")
	return ""
}

// mustCall calls a tool and fails the test on an RPC error.
func mustCall(t *testing.T, s *server.MCPServer, name string, args map[string]any) string {
	t.Helper()
	result, err := callTool(t, s, name, args)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return resultText(t, result)
}
