package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/akarpov/earshot/internal/storage"
)

// MCPDeps holds dependencies for the MCP server.
type MCPDeps struct {
	Store  *storage.Store
	Ticker Ticker
}

// NewMCPServer creates an MCP server exposing the recap store and pipeline
// controls as tools and resources.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"earshot",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("earshot: conversation recaps generated from wearable transcript fragments."),
		server.WithRecovery(),
	)

	// Tools
	s.AddTool(
		mcp.NewTool("list_summaries",
			mcp.WithDescription("List the most recent conversation summaries (headline, bullet points, tag, fact checks)."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpListSummaries(deps),
	)

	s.AddTool(
		mcp.NewTool("backlog_status",
			mcp.WithDescription("Report pending fragment counts per user awaiting summarization."),
		),
		mcpBacklogStatus(deps),
	)

	s.AddTool(
		mcp.NewTool("trigger_summarization",
			mcp.WithDescription("Run a summarization tick now instead of waiting for the next scheduled one."),
		),
		mcpTriggerSummarization(deps),
	)

	// Resources
	s.AddResource(
		mcp.NewResource(
			"summaries://recent",
			"Recent Summaries",
			mcp.WithResourceDescription("Last 10 generated summaries (headlines only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpListSummaries(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", 10)
		if limit <= 0 {
			limit = 10
		}
		if limit > 50 {
			limit = 50
		}

		summaries, err := deps.Store.RecentSummaries(limit)
		if err != nil {
			return mcpError(fmt.Sprintf("listing summaries failed: %v", err)), nil
		}
		if len(summaries) == 0 {
			return mcpText("[]"), nil
		}

		b, err := json.Marshal(summaryViews(summaries))
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal summaries: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpBacklogStatus(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		byUser, err := deps.Store.BacklogByUser()
		if err != nil {
			return mcpError(fmt.Sprintf("counting backlog failed: %v", err)), nil
		}

		type backlogEntry struct {
			UserID  string `json:"user_id"`
			Pending int    `json:"pending"`
		}
		entries := make([]backlogEntry, len(byUser))
		total := 0
		for i, b := range byUser {
			entries[i] = backlogEntry{UserID: b.UserID, Pending: b.Pending}
			total += b.Pending
		}

		b, err := json.Marshal(map[string]any{
			"total_pending": total,
			"by_user":       entries,
		})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal backlog: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpTriggerSummarization(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		go deps.Ticker.RunSummarizationTick(context.WithoutCancel(ctx))
		return mcpText("Summarization tick started."), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		summaries, err := deps.Store.RecentSummaries(10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent summaries: %w", err)
		}

		type headlineView struct {
			ID        string `json:"id"`
			Headline  string `json:"headline"`
			Tag       string `json:"tag,omitempty"`
			Timestamp string `json:"timestamp"`
		}
		views := make([]headlineView, len(summaries))
		for i, s := range summaries {
			headline := s.Headline
			if utf8.RuneCountInString(headline) > 200 {
				runes := []rune(headline)
				headline = string(runes[:200]) + "..."
			}
			views[i] = headlineView{
				ID:        s.ID,
				Headline:  headline,
				Tag:       s.Tag,
				Timestamp: s.Timestamp.Format(time.RFC3339),
			}
		}

		b, err := json.Marshal(views)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal summaries: %w", err)
		}

		return []mcp.ResourceContents{
			mcp.TextResourceContents{
				URI:      req.Params.URI,
				MIMEType: "application/json",
				Text:     string(b),
			},
		}, nil
	}
}

func mcpText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: text},
		},
	}
}

func mcpError(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			mcp.TextContent{Type: "text", Text: msg},
		},
		IsError: true,
	}
}
