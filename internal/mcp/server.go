package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"time"

	"tabpilot-mcp-server/internal/browser"
	"tabpilot-mcp-server/internal/config"
	"tabpilot-mcp-server/internal/mangle"
	"tabpilot-mcp-server/internal/tools"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// stdioSessionID names the single Context used when the transport carries no
// client session.
const stdioSessionID = "stdio"

// unknownToolName is the unlisted tool that tools/call requests for names
// outside the registry are routed to, so they are answered with an error
// result from the dispatcher rather than a JSON-RPC error.
const unknownToolName = "tabpilot_unknown_tool"

// Server exposes the tool registry over MCP. Every client session gets its own
// browser Context.
type Server struct {
	cfg        config.Config
	sessions   *browser.SessionManager
	engine     *mangle.Engine
	dispatcher *tools.Dispatcher
	mcpServer  *mcpserver.MCPServer
}

// NewServer builds the MCP server and registers every tool of the dispatcher's
// registry. engine may be nil.
func NewServer(cfg config.Config, sessions *browser.SessionManager, engine *mangle.Engine, dispatcher *tools.Dispatcher) (*Server, error) {
	s := &Server{
		cfg:        cfg,
		sessions:   sessions,
		engine:     engine,
		dispatcher: dispatcher,
	}

	hooks := &mcpserver.Hooks{}
	hooks.AddOnUnregisterSession(func(ctx context.Context, session mcpserver.ClientSession) {
		s.closeSession(session.SessionID())
	})
	hooks.AddBeforeCallTool(s.routeUnknownTool)

	s.mcpServer = mcpserver.NewMCPServer(
		cfg.Server.Name,
		cfg.Server.Version,
		mcpserver.WithResourceCapabilities(true, true),
		mcpserver.WithToolCapabilities(true),
		mcpserver.WithLogging(),
		mcpserver.WithPromptCapabilities(false),
		mcpserver.WithRecovery(),
		mcpserver.WithHooks(hooks),
		mcpserver.WithToolFilter(hideUnknownTool),
	)

	for _, tool := range dispatcher.Registry().Tools() {
		if err := s.registerTool(tool); err != nil {
			return nil, err
		}
	}
	s.mcpServer.AddTool(
		mcp.NewTool(unknownToolName, mcp.WithDescription("Reports a call to a tool that is not registered")),
		s.handleUnknownTool,
	)
	s.registerAllResources()
	return s, nil
}

// Start serves MCP over stdio.
func (s *Server) Start(ctx context.Context) error {
	stdio := mcpserver.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// StartSSE serves MCP over HTTP with SSE until ctx is cancelled.
func (s *Server) StartSSE(ctx context.Context, port int) error {
	sseServer := mcpserver.NewSSEServer(s.mcpServer, mcpserver.WithBaseURL("http://localhost:"+strconv.Itoa(port)))

	httpServer := &http.Server{
		Addr:    ":" + strconv.Itoa(port),
		Handler: s.router(sseServer),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		log.Printf("SSE server shutting down gracefully...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) router(sse *mcpserver.SSEServer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/sse", sse.SSEHandler())
	r.Handle("/message", sse.MessageHandler())
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	payload := map[string]interface{}{
		"status":            "ok",
		"name":              s.cfg.Server.Name,
		"version":           s.cfg.Server.Version,
		"browser_connected": s.sessions.IsConnected(),
		"sessions":          len(s.sessions.List()),
		"tools":             len(s.dispatcher.Registry().Tools()),
	}
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Printf("health: encode response: %v", err)
	}
}

// ExecuteTool dispatches a call against sessionID outside the MCP transport.
func (s *Server) ExecuteTool(ctx context.Context, sessionID, name string, args map[string]interface{}) *tools.Result {
	return s.dispatcher.Dispatch(ctx, s.sessions.Context(sessionID), name, args)
}

func (s *Server) registerTool(tool tools.Tool) error {
	schema, err := json.Marshal(tool.InputSchema())
	if err != nil {
		return fmt.Errorf("tool %s: encode input schema: %w", tool.Name(), err)
	}
	mcpTool := mcp.NewToolWithRawSchema(tool.Name(), tool.Description(), schema)
	s.mcpServer.AddTool(mcpTool, s.handleCall(tool.Name()))
	return nil
}

func (s *Server) handleCall(name string) mcpserver.ToolHandlerFunc {
	return func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := request.GetArguments()
		if args == nil {
			args = map[string]interface{}{}
		}
		res := s.dispatcher.Dispatch(ctx, s.sessions.Context(sessionID(ctx)), name, args)
		return toCallToolResult(res), nil
	}
}

// routeUnknownTool rewrites a call to an unregistered name into a call to
// unknownToolName carrying the original name and arguments.
func (s *Server) routeUnknownTool(ctx context.Context, id any, request *mcp.CallToolRequest) {
	if _, ok := s.dispatcher.Registry().Lookup(request.Params.Name); ok {
		return
	}
	request.Params.Arguments = map[string]interface{}{
		"name":      request.Params.Name,
		"arguments": request.GetArguments(),
	}
	request.Params.Name = unknownToolName
}

func (s *Server) handleUnknownTool(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args := request.GetArguments()
	name, _ := args["name"].(string)
	callArgs, _ := args["arguments"].(map[string]interface{})
	res := s.dispatcher.Dispatch(ctx, s.sessions.Context(sessionID(ctx)), name, callArgs)
	return toCallToolResult(res), nil
}

func hideUnknownTool(ctx context.Context, listed []mcp.Tool) []mcp.Tool {
	out := make([]mcp.Tool, 0, len(listed))
	for _, tool := range listed {
		if tool.Name != unknownToolName {
			out = append(out, tool)
		}
	}
	return out
}

func toCallToolResult(res *tools.Result) *mcp.CallToolResult {
	content := []mcp.Content{mcp.NewTextContent(res.Text())}
	if img := res.Image(); img != nil && !res.IsError() {
		content = append(content, mcp.NewImageContent(base64.StdEncoding.EncodeToString(img.Data), img.MIMEType))
	}
	return &mcp.CallToolResult{Content: content, IsError: res.IsError()}
}

func sessionID(ctx context.Context) string {
	if cs := mcpserver.ClientSessionFromContext(ctx); cs != nil && cs.SessionID() != "" {
		return cs.SessionID()
	}
	return stdioSessionID
}

func (s *Server) closeSession(id string) {
	if id == "" {
		return
	}
	if _, ok := s.sessions.Lookup(id); !ok {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := s.sessions.CloseContext(ctx, id); err != nil {
		log.Printf("[session:%s] close on disconnect: %v", id, err)
	}
}
