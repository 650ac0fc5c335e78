// Package mcpserver exposes the memory service as MCP tools over stdio, so
// agent frontends can remember and recall without speaking the HTTP API.
package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/substratelabs/mnemo/memory"
)

// Server wraps the memory service behind MCP tool handlers.
type Server struct {
	service *memory.Service
	mcpSrv  *server.MCPServer
	logger  zerolog.Logger
}

// New creates an MCP server exposing the remember/recall/recent/forget tools.
func New(service *memory.Service, version string, logger zerolog.Logger) *Server {
	s := &Server{
		service: service,
		logger:  logger.With().Str("component", "mcp_server").Logger(),
	}

	s.mcpSrv = server.NewMCPServer(
		"mnemod",
		version,
		server.WithToolCapabilities(true),
	)

	s.mcpSrv.AddTool(mcp.NewTool("mnemo_remember",
		mcp.WithDescription("Durably store a fact in long-term memory."),
		mcp.WithString("content",
			mcp.Required(),
			mcp.Description("The fact to remember, as a self-contained sentence."),
		),
		mcp.WithString("tags",
			mcp.Description("Optional comma-separated tags."),
		),
	), s.handleRemember)

	s.mcpSrv.AddTool(mcp.NewTool("mnemo_recall",
		mcp.WithDescription("Search long-term memory. Hybrid lexical+semantic by default; exact phrase match on request."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("What to look for."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 10)."),
		),
		mcp.WithBoolean("exact",
			mcp.Description("Require the query to appear verbatim."),
		),
	), s.handleRecall)

	s.mcpSrv.AddTool(mcp.NewTool("mnemo_recent",
		mcp.WithDescription("List recently stored memories, newest first."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of results (default 20)."),
		),
		mcp.WithNumber("hours",
			mcp.Description("How far back to look (default 24)."),
		),
	), s.handleRecent)

	s.mcpSrv.AddTool(mcp.NewTool("mnemo_forget",
		mcp.WithDescription("Forget a memory by id. The memory is hidden, not destroyed."),
		mcp.WithNumber("id",
			mcp.Required(),
			mcp.Description("The memory id to forget."),
		),
	), s.handleForget)

	return s
}

// ServeStdio blocks serving MCP over stdin/stdout.
func (s *Server) ServeStdio() error {
	s.logger.Info().Msg("MCP server serving on stdio")
	return server.ServeStdio(s.mcpSrv)
}

func (s *Server) handleRemember(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := request.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var tags []string
	if raw := request.GetString("tags", ""); raw != "" {
		for _, tag := range strings.Split(raw, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				tags = append(tags, tag)
			}
		}
	}

	id, createdAt, err := s.service.Store(ctx, content, "", tags)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Remembered as memory %d at %s.", id, createdAt.Format("2006-01-02 15:04 UTC"))), nil
}

func (s *Server) handleRecall(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := request.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	results, err := s.service.Search(ctx, memory.SearchRequest{
		Query: query,
		Limit: int(request.GetFloat("limit", 10)),
		Exact: request.GetBool("exact", false),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(results) == 0 {
		return mcp.NewToolResultText("No matching memories."), nil
	}

	type hit struct {
		ID        int64   `json:"id"`
		Content   string  `json:"content"`
		Score     float64 `json:"score"`
		CreatedAt string  `json:"created_at"`
	}
	hits := make([]hit, 0, len(results))
	for _, res := range results {
		hits = append(hits, hit{
			ID:        res.Memory.ID,
			Content:   res.Memory.Content,
			Score:     res.Score,
			CreatedAt: res.Memory.Metadata.CreatedAt.Format("2006-01-02 15:04 UTC"),
		})
	}
	payload, err := json.Marshal(hits)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(payload)), nil
}

func (s *Server) handleRecent(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	limit := int(request.GetFloat("limit", 20))
	hours := int(request.GetFloat("hours", 24))
	if limit <= 0 {
		limit = 20
	}
	if hours <= 0 {
		hours = 24
	}

	items, err := s.service.Recent(ctx, limit, hours)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(items) == 0 {
		return mcp.NewToolResultText("No memories in that window."), nil
	}

	var sb strings.Builder
	for _, m := range items {
		fmt.Fprintf(&sb, "[%d] %s: %s\n", m.ID, m.Metadata.CreatedAt.Format("2006-01-02 15:04 UTC"), m.Content)
	}
	return mcp.NewToolResultText(sb.String()), nil
}

func (s *Server) handleForget(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := request.RequireFloat("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	if err := s.service.Forget(ctx, int64(id)); err != nil {
		if memory.IsNotFound(err) {
			return mcp.NewToolResultText(fmt.Sprintf("No active memory with id %d.", int64(id))), nil
		}
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(fmt.Sprintf("Memory %d forgotten.", int64(id))), nil
}
