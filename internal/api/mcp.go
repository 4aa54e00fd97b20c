package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/kalambet/evaldeck/internal/rcache"
	"github.com/kalambet/evaldeck/internal/stats"
	"github.com/kalambet/evaldeck/internal/storage"
)

// MCPDeps holds dependencies for the MCP server. The stats service and cache
// are the same instances the HTTP layer uses, so both surfaces share one
// freshness window.
type MCPDeps struct {
	Store        *storage.Store
	Stats        *stats.Service
	Cache        *rcache.Cache
	DefaultOwner string
	StatsTTL     time.Duration
	RecentTTL    time.Duration
}

// NewMCPServer creates an MCP server with all evaldeck tools and resources registered.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"evaldeck",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithResourceCapabilities(false, true),
		server.WithInstructions("evaldeck: local store and dashboard for scored AI interaction evaluations."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool("record_eval",
			mcp.WithDescription("Record a scored AI interaction evaluation."),
			mcp.WithString("interaction_id", mcp.Description("Caller-supplied correlation key"), mcp.Required()),
			mcp.WithString("prompt", mcp.Description("The prompt that was evaluated"), mcp.Required()),
			mcp.WithString("response", mcp.Description("The model response that was evaluated"), mcp.Required()),
			mcp.WithNumber("score", mcp.Description("Quality score, 0-100"), mcp.Required()),
			mcp.WithNumber("latency_ms", mcp.Description("Response latency in milliseconds"), mcp.Required()),
		),
		mcpRecordEval(deps),
	)

	s.AddTool(
		mcp.NewTool("eval_stats",
			mcp.WithDescription("Aggregate evaluation statistics over a trailing window of days."),
			mcp.WithNumber("days", mcp.Description("Lookback window in days (default 7)")),
		),
		mcpEvalStats(deps),
	)

	s.AddTool(
		mcp.NewTool("recent_evals",
			mcp.WithDescription("List the most recently recorded evaluations, newest first."),
			mcp.WithNumber("limit", mcp.Description("Maximum number of results (default 10)")),
		),
		mcpRecentEvals(deps),
	)

	s.AddResource(
		mcp.NewResource(
			"evals://recent",
			"Recent Evaluations",
			mcp.WithResourceDescription("Last 10 recorded evaluations (summaries only)"),
			mcp.WithMIMEType("application/json"),
		),
		mcpResourceRecent(deps),
	)

	return s
}

func mcpRecordEval(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		interactionID, err := req.RequireString("interaction_id")
		if err != nil {
			return mcpError("interaction_id is required"), nil
		}
		prompt, err := req.RequireString("prompt")
		if err != nil {
			return mcpError("prompt is required"), nil
		}
		response, err := req.RequireString("response")
		if err != nil {
			return mcpError("response is required"), nil
		}
		score, err := req.RequireInt("score")
		if err != nil {
			return mcpError("score is required"), nil
		}
		latency, err := req.RequireInt("latency_ms")
		if err != nil {
			return mcpError("latency_ms is required"), nil
		}

		if score < 0 || score > 100 {
			return mcpError("score must be between 0 and 100"), nil
		}
		if latency < 0 {
			return mcpError("latency_ms must be non-negative"), nil
		}

		eval := storage.Evaluation{
			ID:            uuid.New().String(),
			OwnerID:       deps.DefaultOwner,
			InteractionID: interactionID,
			Prompt:        prompt,
			Response:      response,
			Score:         score,
			LatencyMs:     int64(latency),
			CreatedAt:     time.Now().UTC(),
		}
		if err := deps.Store.SaveEvaluation(eval); err != nil {
			return mcpError(fmt.Sprintf("failed to save evaluation: %v", err)), nil
		}

		invalidateOwner(deps.Cache, deps.DefaultOwner)

		return mcpText(fmt.Sprintf("Recorded evaluation %s", eval.ID)), nil
	}
}

func mcpEvalStats(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		days := req.GetInt("days", stats.DefaultWindowDays)
		if days <= 0 {
			return mcpError("days must be a positive integer"), nil
		}

		snap, _, err := rcache.Through(ctx, deps.Cache, statsCacheKey(deps.DefaultOwner, days), deps.StatsTTL,
			func(context.Context) (stats.Snapshot, error) {
				return deps.Stats.Window(deps.DefaultOwner, days)
			})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to compute stats: %v", err)), nil
		}

		b, err := json.Marshal(snap)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal stats: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpRecentEvals(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		limit := req.GetInt("limit", stats.DefaultRecentLimit)
		if limit <= 0 {
			return mcpError("limit must be a positive integer"), nil
		}
		if limit > 100 {
			limit = 100
		}

		evals, _, err := rcache.Through(ctx, deps.Cache, recentCacheKey(deps.DefaultOwner, limit), deps.RecentTTL,
			func(context.Context) ([]storage.Evaluation, error) {
				return deps.Stats.Recent(deps.DefaultOwner, limit)
			})
		if err != nil {
			return mcpError(fmt.Sprintf("failed to fetch recent evaluations: %v", err)), nil
		}

		if len(evals) == 0 {
			return mcpText("[]"), nil
		}
		b, err := json.Marshal(evals)
		if err != nil {
			return mcpError(fmt.Sprintf("failed to marshal evaluations: %v", err)), nil
		}
		return mcpText(string(b)), nil
	}
}

func mcpResourceRecent(deps MCPDeps) server.ResourceHandlerFunc {
	return func(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
		evals, err := deps.Store.Recent(deps.DefaultOwner, 10)
		if err != nil {
			return nil, fmt.Errorf("failed to get recent evaluations: %w", err)
		}

		type evalSummary struct {
			ID            string `json:"id"`
			InteractionID string `json:"interaction_id"`
			CreatedAt     string `json:"created_at"`
			Score         int    `json:"score"`
			LatencyMs     int64  `json:"latency_ms"`
			Prompt        string `json:"prompt"`
		}

		summaries := make([]evalSummary, len(evals))
		for i, e := range evals {
			prompt := e.Prompt
			if utf8.RuneCountInString(prompt) > 200 {
				runes := []rune(prompt)
				prompt = string(runes[:200]) + "..."
			}
			summaries[i] = evalSummary{
				ID:            e.ID,
				InteractionID: e.InteractionID,
				CreatedAt:     e.CreatedAt.Format(time.RFC3339),
				Score:         e.Score,
				LatencyMs:     e.LatencyMs,
				Prompt:        prompt,
			}
		}

		b, err := json.Marshal(summaries)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal evaluations: %w", err)
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
