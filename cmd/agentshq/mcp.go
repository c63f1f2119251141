package main

import (
	"fmt"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/spf13/cobra"

	"github.com/jaakkos/agentshq/internal/app"
	"github.com/jaakkos/agentshq/internal/policy"
	"github.com/jaakkos/agentshq/internal/repository"
)

// newMCPCmd serves the fleet tools over stdio for MCP clients that cannot
// reach the HTTP endpoint. It works on the store directly; a running server
// picks the writes up through its change watcher.
func newMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Serve the fleet MCP tools over stdio",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(setupLogger("off"))
			if err != nil {
				return err
			}
			pol := policy.New(cfg)

			// stdout carries the protocol; logs go to the file only.
			logger := setupLogger(pol.LogFile())
			backend, err := repository.NewStateStore(pol)
			if err != nil {
				return fmt.Errorf("state store: %w", err)
			}
			defer func() { _ = backend.Close() }()

			svc := app.NewFleetService(backend.Store, pol, logger)
			if err := svc.Bootstrap(); err != nil {
				logger.Printf("Warning: bootstrap: %v", err)
			}

			s := newMCPServer(svc, pol, logger)
			logger.Printf("MCP stdio server started (pid=%d)", os.Getpid())
			if err := server.NewStdioServer(s).Listen(cmd.Context(), os.Stdin, os.Stdout); err != nil {
				logger.Printf("Stdio server stopped: %v", err)
			}
			return nil
		},
	}
}
