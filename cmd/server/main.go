package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tabpilot-mcp-server/internal/browser"
	"tabpilot-mcp-server/internal/config"
	"tabpilot-mcp-server/internal/mangle"
	mcpserver "tabpilot-mcp-server/internal/mcp"
	"tabpilot-mcp-server/internal/recorder"
	"tabpilot-mcp-server/internal/tools"
)

func main() {
	configPath := flag.String("config", "", "Path to an explicit TabPilot config file (overrides the workspace config)")
	workspaceDir := flag.String("workspace-dir", "", "Use this directory as the workspace root instead of searching upwards")
	noWorkspace := flag.Bool("no-workspace", false, "Skip .tabpilot/ workspace discovery")
	initWorkspace := flag.Bool("init", false, "Create a .tabpilot/ workspace in the current directory and exit")
	ssePort := flag.Int("sse-port", 0, "Optional SSE port override (falls back to config)")
	flag.Parse()

	if *initWorkspace {
		cwd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to resolve working directory: %v", err)
		}
		if err := config.InitWorkspace(cwd); err != nil {
			log.Fatalf("failed to initialize workspace: %v", err)
		}
		fmt.Printf("Initialized TabPilot workspace in %s/%s\n", cwd, config.WorkspaceDirName)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, wsDir, err := config.LoadWithWorkspace(*configPath, config.WorkspaceOptions{
		Disable:     *noWorkspace,
		ExplicitDir: *workspaceDir,
	})
	if err != nil {
		// Before we can redirect logs, write to stderr as last resort
		log.Fatalf("failed to load config: %v", err)
	}
	if *ssePort != 0 {
		cfg.MCP.SSEPort = *ssePort
	}

	// Redirect logging to file for stdio mode (stderr interferes with MCP protocol)
	if cfg.MCP.SSEPort == 0 && cfg.Server.LogFile != "" {
		logFile, err := os.OpenFile(cfg.Server.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err == nil {
			log.SetOutput(logFile)
			defer logFile.Close()
		} else {
			log.SetOutput(io.Discard)
		}
	}
	if wsDir != "" {
		log.Printf("using workspace %s", wsDir)
	}

	a, err := build(cfg)
	if err != nil {
		log.Fatalf("failed to initialize server: %v", err)
	}
	defer a.close()

	if cfg.Browser.AutoStart {
		if err := a.sessions.Start(ctx); err != nil {
			log.Fatalf("failed to start browser: %v", err)
		}
	} else {
		log.Printf("browser auto-start disabled; the first tool call that needs a page connects")
	}

	var startErr error
	if cfg.MCP.SSEPort > 0 {
		log.Printf("starting TabPilot MCP SSE server on port %d", cfg.MCP.SSEPort)
		startErr = a.server.StartSSE(ctx, cfg.MCP.SSEPort)
	} else {
		log.Printf("starting TabPilot MCP stdio server")
		startErr = a.server.Start(ctx)
	}

	if startErr != nil && !errors.Is(startErr, context.Canceled) {
		log.Fatalf("server exited with error: %v", startErr)
	}
}

// app holds everything main wires together.
type app struct {
	server   *mcpserver.Server
	sessions *browser.SessionManager
	engine   *mangle.Engine
	recorder *recorder.Recorder
}

func build(cfg config.Config, opts ...browser.ManagerOption) (*app, error) {
	engine, err := mangle.NewEngine(cfg.Mangle)
	if err != nil {
		return nil, fmt.Errorf("initialize mangle engine: %w", err)
	}
	a := &app{engine: engine}

	dispatchOpts := tools.Options{
		NetworkIdleTimeout:   cfg.Tools.IdleTimeout(),
		NetworkIdleWindow:    cfg.Tools.IdleWindow(),
		PendingActionTimeout: cfg.Browser.ActionTimeout(),
	}
	if cfg.Recorder.Enable {
		rec, err := recorder.NewRecorder(cfg.Recorder.Dir, cfg.Recorder.GetMaxFiles())
		if err != nil {
			return nil, fmt.Errorf("initialize recorder: %w", err)
		}
		traceID, err := rec.Start(cfg.Server.Name)
		if err != nil {
			return nil, fmt.Errorf("start trace: %w", err)
		}
		log.Printf("recording tool calls to %s (trace %s)", rec.Path(), traceID)
		a.recorder = rec
		dispatchOpts.Tracer = rec
	}

	deps := tools.Deps{
		OutputDir: cfg.Tools.OutputDir,
		MaxWait:   cfg.Tools.MaxWaitDuration(),
	}
	if cfg.Mangle.Enable {
		deps.Facts = engine
	}
	registry, err := tools.NewRegistry(tools.All(deps), cfg.MCP.EnabledCapabilities())
	if err != nil {
		return nil, fmt.Errorf("build tool registry: %w", err)
	}

	opts = append([]browser.ManagerOption{browser.WithMaxNodes(cfg.Tools.MaxNodes())}, opts...)
	a.sessions = browser.NewSessionManager(cfg.Browser, engine, opts...)

	a.server, err = mcpserver.NewServer(cfg, a.sessions, engine, tools.NewDispatcher(registry, dispatchOpts))
	if err != nil {
		return nil, fmt.Errorf("initialize MCP server: %w", err)
	}
	log.Printf("registered %d tools (capabilities %v)", len(registry.Tools()), cfg.MCP.Capabilities)
	return a, nil
}

func (a *app) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.sessions.Shutdown(ctx); err != nil {
		log.Printf("browser shutdown: %v", err)
	}
	if a.recorder != nil {
		if err := a.recorder.Close(); err != nil {
			log.Printf("recorder close: %v", err)
		}
	}
}
