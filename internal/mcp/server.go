// Package mcp exposes the per-user knowledge graph over the Model Context
// Protocol so assistants can inspect and maintain what a reader already knows.
package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	mcpgo "github.com/mark3labs/mcp-go/mcp"
	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/ajitpratap0/openclaw-briefing/internal/knowledge"
	"github.com/ajitpratap0/openclaw-briefing/internal/models"
	"github.com/ajitpratap0/openclaw-briefing/internal/store"
)

const defaultListLimit = 50

// KnowledgeGraph is the slice of the knowledge engine the tools use.
type KnowledgeGraph interface {
	Check(ctx context.Context, userID, name string) (*knowledge.CheckResult, error)
	Entities(ctx context.Context, userID string) ([]models.KnowledgeEntity, error)
	Prune(ctx context.Context, userID string, dryRun bool) (*knowledge.PruneReport, error)
}

var _ KnowledgeGraph = (*knowledge.Engine)(nil)

// BriefingReader loads delivered briefings.
type BriefingReader interface {
	LatestBriefing(ctx context.Context, userID string) (*models.Briefing, error)
}

// Server wraps an MCPServer with the knowledge graph.
type Server struct {
	mcp       *mcpserver.MCPServer
	graph     KnowledgeGraph
	briefings BriefingReader
	logger    *slog.Logger
}

// NewServer creates a new MCP server. If graph or briefings are nil the
// corresponding tools return an error result instead of panicking.
func NewServer(graph KnowledgeGraph, briefings BriefingReader, logger *slog.Logger) *Server {
	s := &Server{graph: graph, briefings: briefings, logger: logger}

	mcpSrv := mcpserver.NewMCPServer(
		"openclaw-briefing",
		"1.0.0",
		mcpserver.WithToolCapabilities(true),
	)
	mcpSrv.AddTool(buildCheckTool(), s.handleCheck)
	mcpSrv.AddTool(buildListTool(), s.handleList)
	mcpSrv.AddTool(buildPruneTool(), s.handlePrune)
	mcpSrv.AddTool(buildLatestBriefingTool(), s.handleLatestBriefing)

	s.mcp = mcpSrv
	return s
}

// MCPServer returns the underlying mcp-go MCPServer for use with ServeStdio.
func (s *Server) MCPServer() *mcpserver.MCPServer {
	return s.mcp
}

// HandleCheck is the exported handler for the "check_knowledge_graph" tool.
func (s *Server) HandleCheck(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleCheck(ctx, req)
}

// HandleList is the exported handler for the "list_knowledge_entities" tool.
func (s *Server) HandleList(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleList(ctx, req)
}

// HandlePrune is the exported handler for the "prune_knowledge" tool.
func (s *Server) HandlePrune(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handlePrune(ctx, req)
}

// HandleLatestBriefing is the exported handler for the "latest_briefing" tool.
func (s *Server) HandleLatestBriefing(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	return s.handleLatestBriefing(ctx, req)
}

// --- helpers ---

// toolResultJSON marshals v to JSON and returns it as a tool text result.
func toolResultJSON(v any) (*mcpgo.CallToolResult, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("mcp: marshaling result: %w", err)
	}
	return mcpgo.NewToolResultText(string(b)), nil
}

func requiredString(req mcpgo.CallToolRequest, key string) (string, *mcpgo.CallToolResult) {
	v := strings.TrimSpace(req.GetString(key, ""))
	if v == "" {
		return "", mcpgo.NewToolResultErrorf("%s is required and must not be empty", key)
	}
	return v, nil
}

// --- tool definitions ---

func buildCheckTool() mcpgo.Tool {
	return mcpgo.NewTool("check_knowledge_graph",
		mcpgo.WithDescription("Check whether a reader already knows an entity. Returns known, confidence and entity type."),
		mcpgo.WithString("user_id", mcpgo.Required(), mcpgo.Description("Reader whose graph to search")),
		mcpgo.WithString("entity_name", mcpgo.Required(), mcpgo.Description("Company, person, concept or event name")),
	)
}

func buildListTool() mcpgo.Tool {
	return mcpgo.NewTool("list_knowledge_entities",
		mcpgo.WithDescription("List a reader's known entities, most confident first."),
		mcpgo.WithString("user_id", mcpgo.Required(), mcpgo.Description("Reader whose graph to list")),
		mcpgo.WithString("type", mcpgo.Description("Filter by entity type: company, person, concept, term, product, event, fact")),
		mcpgo.WithNumber("limit", mcpgo.Description("Maximum number of entities (default: 50)")),
	)
}

func buildPruneTool() mcpgo.Tool {
	return mcpgo.NewTool("prune_knowledge",
		mcpgo.WithDescription("Remove stale low-confidence entities from a reader's graph. Profile-exempt names are kept."),
		mcpgo.WithString("user_id", mcpgo.Required(), mcpgo.Description("Reader whose graph to prune")),
		mcpgo.WithBoolean("dry_run", mcpgo.Description("Report what would be pruned without deleting (default: true)")),
	)
}

func buildLatestBriefingTool() mcpgo.Tool {
	return mcpgo.NewTool("latest_briefing",
		mcpgo.WithDescription("Return the reader's most recent briefing with item reasons and sources."),
		mcpgo.WithString("user_id", mcpgo.Required(), mcpgo.Description("Reader whose briefing to load")),
	)
}

// --- tool handlers ---

func (s *Server) handleCheck(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.graph == nil {
		return mcpgo.NewToolResultError("knowledge graph is unavailable"), nil
	}
	userID, bad := requiredString(req, "user_id")
	if bad != nil {
		return bad, nil
	}
	name, bad := requiredString(req, "entity_name")
	if bad != nil {
		return bad, nil
	}
	res, err := s.graph.Check(ctx, userID, name)
	if err != nil {
		return mcpgo.NewToolResultErrorf("knowledge lookup failed: %s", err.Error()), nil
	}
	return toolResultJSON(res)
}

type entitySummary struct {
	ID         string            `json:"id"`
	Name       string            `json:"name"`
	Type       models.EntityType `json:"type"`
	Confidence float64           `json:"confidence"`
	Source     string            `json:"source,omitempty"`
}

func (s *Server) handleList(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.graph == nil {
		return mcpgo.NewToolResultError("knowledge graph is unavailable"), nil
	}
	userID, bad := requiredString(req, "user_id")
	if bad != nil {
		return bad, nil
	}
	typ := models.EntityType(req.GetString("type", ""))
	limit := req.GetInt("limit", defaultListLimit)
	if limit <= 0 {
		limit = defaultListLimit
	}

	entities, err := s.graph.Entities(ctx, userID)
	if err != nil {
		return mcpgo.NewToolResultErrorf("listing entities failed: %s", err.Error()), nil
	}
	out := make([]entitySummary, 0, len(entities))
	for i := range entities {
		e := entities[i]
		if typ != "" && e.Type != typ {
			continue
		}
		out = append(out, entitySummary{ID: e.ID, Name: e.Name, Type: e.Type, Confidence: e.Confidence, Source: e.Source})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].Name < out[j].Name
	})
	total := len(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return toolResultJSON(map[string]any{"entities": out, "total": total})
}

func (s *Server) handlePrune(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.graph == nil {
		return mcpgo.NewToolResultError("knowledge graph is unavailable"), nil
	}
	userID, bad := requiredString(req, "user_id")
	if bad != nil {
		return bad, nil
	}
	dryRun := req.GetBool("dry_run", true)
	report, err := s.graph.Prune(ctx, userID, dryRun)
	if err != nil {
		return mcpgo.NewToolResultErrorf("prune failed: %s", err.Error()), nil
	}
	s.logger.Info("mcp: prune_knowledge", "user_id", userID, "pruned", report.Pruned, "dry_run", dryRun)
	return toolResultJSON(report)
}

func (s *Server) handleLatestBriefing(ctx context.Context, req mcpgo.CallToolRequest) (*mcpgo.CallToolResult, error) {
	if s.briefings == nil {
		return mcpgo.NewToolResultError("briefing store is unavailable"), nil
	}
	userID, bad := requiredString(req, "user_id")
	if bad != nil {
		return bad, nil
	}
	b, err := s.briefings.LatestBriefing(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return mcpgo.NewToolResultErrorf("no briefing for %s", userID), nil
	}
	if err != nil {
		return mcpgo.NewToolResultErrorf("loading briefing failed: %s", err.Error()), nil
	}
	return toolResultJSON(b)
}
