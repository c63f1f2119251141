package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/jaakkos/agentshq/internal/api"
	"github.com/jaakkos/agentshq/internal/app"
	"github.com/jaakkos/agentshq/internal/hub"
	"github.com/jaakkos/agentshq/internal/policy"
	"github.com/jaakkos/agentshq/internal/repository"
	"github.com/jaakkos/agentshq/internal/tools/fleet"
)

func runServe(ctx context.Context) error {
	cfg, err := loadConfig(log.New(os.Stderr, logPrefix, log.LstdFlags|log.Lshortfile))
	if err != nil {
		return err
	}
	pol := policy.New(cfg)

	logger := setupLogger(pol.LogFile())
	logger.Println("Starting agentshq...")
	logger.Printf("Log file: %s", pol.LogFile())
	logger.Printf("State dir: %s (store=%s)", pol.StateDir(), pol.StoreBackend())

	backend, err := repository.NewStateStore(pol)
	if err != nil {
		logger.Fatalf("State store: %v", err)
	}
	defer func() {
		if err := backend.Close(); err != nil {
			logger.Printf("Warning: close state store: %v", err)
		}
	}()

	svc := app.NewFleetService(backend.Store, pol, logger)
	if err := svc.Bootstrap(); err != nil {
		logger.Printf("Warning: bootstrap: %v", err)
	}

	ctx, cancel := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	hb := hub.New(svc.SubscriberSnapshot, logger)
	svc.SetPublisher(hb)
	hubDone := make(chan struct{})
	go func() {
		hb.Run(ctx)
		close(hubDone)
	}()

	sweeper := app.NewSweeper(svc, logger,
		app.WithSweepInterval(pol.SweepInterval()),
		app.WithIdleAfter(pol.IdleAfter()),
		app.WithOfflineAfter(pol.OfflineAfter()),
	)
	go sweeper.Start(ctx)

	var watcher *app.Watcher
	if pol.WatchEnabled() {
		opts := append([]app.WatcherOption{
			app.WithDebounce(pol.WatchDebounce()),
			app.WithPollInterval(pol.WatchPollInterval()),
		}, backend.WatchOptions...)
		watcher = app.NewWatcher(backend.WatchDir, svc, logger, opts...)
		go watcher.Start(ctx)
	}

	mcpServer := newMCPServer(svc, pol, logger)
	shutdownHTTP, err := startHTTPServer(svc, hb, mcpServer, pol, logger)
	if err != nil {
		logger.Fatalf("HTTP server: %v", err)
	}

	<-ctx.Done()
	logger.Println("Shutting down...")

	shutdownHTTP()
	sweeper.Stop()
	if watcher != nil {
		watcher.Stop()
	}
	hb.Stop()
	<-hubDone

	logger.Println("Server stopped")
	return nil
}

func newMCPServer(svc *app.FleetService, pol *policy.Policy, logger *log.Logger) *server.MCPServer {
	hooks := &server.Hooks{}
	hooks.AddAfterCallTool(func(ctx context.Context, id any, message *mcp.CallToolRequest, result *mcp.CallToolResult) {
		if message != nil {
			logger.Printf("Calling tool: %s", message.Params.Name)
		}
	})
	hooks.AddBeforeInitialize(func(ctx context.Context, id any, message *mcp.InitializeRequest) {
		if message != nil {
			ci := message.Params.ClientInfo
			logger.Printf("MCP client: %s %s, Protocol: %s", ci.Name, ci.Version, message.Params.ProtocolVersion)
		}
	})

	s := server.NewMCPServer(
		"agentshq",
		Version,
		server.WithInstructions(fleet.InstructionsText()),
		server.WithHooks(hooks),
	)
	fleet.Register(s, svc, logger, pol)
	return s
}

// startHTTPServer starts the HTTP server in the background and returns a
// shutdown function. Uses net.Listen so port 0 picks a free port.
func startHTTPServer(svc *app.FleetService, hb *hub.Hub, mcpServer *server.MCPServer, pol *policy.Policy, logger *log.Logger) (func(), error) {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", pol.HTTPPort()))
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	actualPort := ln.Addr().(*net.TCPAddr).Port
	pol.SetBaseURL(fmt.Sprintf("http://localhost:%d", actualPort))
	baseURL := pol.BaseURL()

	logger.Printf("HTTP server on :%d", actualPort)
	logger.Printf("  Status reports:  POST %s/api/agent/{id}/status", baseURL)
	logger.Printf("  Subscribers:     %s/ws", baseURL)
	logger.Printf("  MCP:             %s/mcp", baseURL)

	handler := api.NewHandler(svc, hb, logger,
		api.WithPort(actualPort),
		api.WithMCPHandler(server.NewStreamableHTTPServer(mcpServer)),
	)
	httpServer := &http.Server{Handler: handler.Router(), ReadHeaderTimeout: 10 * time.Second}

	go func() {
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server error: %v", err)
		}
	}()

	return func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("HTTP shutdown error: %v", err)
		}
	}, nil
}
