package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"tabpilot-mcp-server/internal/mangle"

	"github.com/mark3labs/mcp-go/mcp"
)

const (
	resourceMIMEJSON = "application/json"

	defaultFactLimit = 25
	maxFactLimit     = 500
)

func (s *Server) registerAllResources() {
	s.mcpServer.AddResource(
		mcp.NewResource(
			"tabpilot://about",
			"TabPilot About",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Server info, enabled tools and usage notes."),
		),
		s.handleAboutResource,
	)

	s.mcpServer.AddResource(
		mcp.NewResource(
			"tabpilot://sessions",
			"Browser Sessions",
			mcp.WithMIMEType(resourceMIMEJSON),
			mcp.WithResourceDescription("Live and persisted browser sessions."),
		),
		s.handleSessionsResource,
	)

	s.mcpServer.AddResourceTemplate(
		mcp.NewResourceTemplate(
			"tabpilot://session/{sessionId}/facts{?predicate,limit,since}",
			"Session Facts",
			mcp.WithTemplateMIMEType(resourceMIMEJSON),
			mcp.WithTemplateDescription("Recent pipeline facts for a session, optionally filtered by predicate and by age (since=30s)."),
		),
		s.handleSessionFactsResource,
	)
}

func (s *Server) handleAboutResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	registry := s.dispatcher.Registry()
	names := make([]string, 0, len(registry.Tools()))
	for _, t := range registry.Tools() {
		names = append(names, t.Name())
	}
	payload := map[string]interface{}{
		"name":    s.cfg.Server.Name,
		"version": s.cfg.Server.Version,
		"tools":   names,
		"notes": []string{
			"Call browser_snapshot to get element refs such as s3e12; refs are bound to one snapshot generation.",
			"A ref one generation old is repaired automatically; older refs need a new snapshot.",
			"While a dialog or file chooser is open only the tool that handles it can run.",
		},
		"timestamp_ms": time.Now().UnixMilli(),
	}
	return jsonContents(request.Params.URI, payload)
}

func (s *Server) handleSessionsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return jsonContents(request.Params.URI, map[string]interface{}{
		"browser_connected": s.sessions.IsConnected(),
		"sessions":          s.sessions.List(),
	})
}

func (s *Server) handleSessionFactsResource(_ context.Context, request mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	if s.engine == nil || !s.engine.Ready() {
		return nil, fmt.Errorf("mangle engine unavailable")
	}

	sessionID := argString(request.Params.Arguments["sessionId"])
	if sessionID == "" {
		return nil, fmt.Errorf("missing sessionId")
	}
	predicate := argString(request.Params.Arguments["predicate"])
	limit := asInt(request.Params.Arguments["limit"])
	if limit <= 0 {
		limit = defaultFactLimit
	}
	if limit > maxFactLimit {
		limit = maxFactLimit
	}
	var since time.Time
	if raw := argString(request.Params.Arguments["since"]); raw != "" {
		age, err := time.ParseDuration(raw)
		if err != nil || age <= 0 {
			return nil, fmt.Errorf("invalid since %q: want a positive duration such as 30s", raw)
		}
		since = time.Now().Add(-age)
	}

	facts := selectRecentSessionFacts(s.engine, sessionID, predicate, since, limit)
	return jsonContents(request.Params.URI, map[string]interface{}{
		"session_id": sessionID,
		"predicate":  predicate,
		"since":      argString(request.Params.Arguments["since"]),
		"limit":      limit,
		"count":      len(facts),
		"facts":      facts,
	})
}

func jsonContents(uri string, payload interface{}) ([]mcp.ResourceContents, error) {
	text, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      uri,
			MIMEType: resourceMIMEJSON,
			Text:     string(text),
		},
	}, nil
}

// selectRecentSessionFacts returns up to limit of the newest facts of a
// session, oldest first. A non-zero since drops facts recorded before it.
func selectRecentSessionFacts(engine *mangle.Engine, sessionID, predicate string, since time.Time, limit int) []mangle.Fact {
	var source []mangle.Fact
	switch {
	case predicate == "" && since.IsZero():
		if facts := engine.SessionFacts(sessionID, limit); facts != nil {
			return facts
		}
		return []mangle.Fact{}
	case predicate == "":
		source = engine.SessionFacts(sessionID, 0)
	case !since.IsZero():
		source = engine.QueryTemporal(predicate, since, time.Time{})
	default:
		source = engine.FactsByPredicate(predicate)
	}

	out := make([]mangle.Fact, 0, limit)
	for i := len(source) - 1; i >= 0 && len(out) < limit; i-- {
		f := source[i]
		if len(f.Args) == 0 || fmt.Sprintf("%v", f.Args[0]) != sessionID {
			continue
		}
		if !since.IsZero() && !f.Timestamp.After(since) {
			continue
		}
		out = append(out, f)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func argString(v any) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	case []string:
		if len(value) == 0 {
			return ""
		}
		return value[0]
	default:
		return fmt.Sprintf("%v", value)
	}
}

func asInt(v any) int {
	switch value := v.(type) {
	case int:
		return value
	case float64:
		return int(value)
	case string:
		n, _ := strconv.Atoi(value)
		return n
	case []string:
		if len(value) == 0 {
			return 0
		}
		n, _ := strconv.Atoi(value[0])
		return n
	}
	return 0
}
