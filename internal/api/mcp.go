package api

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/revq/revq/internal/answer"
	"github.com/revq/revq/internal/router"
	"github.com/revq/revq/internal/storage"
	"github.com/revq/revq/internal/tools"
)

// MCPValidator checks a routed decision against the tool schemas and the
// caller's category grants.
type MCPValidator interface {
	Validate(d router.Decision, user storage.User) (tools.Call, *tools.Rejection)
}

// MCPExecutor runs a validated call against the review corpus.
type MCPExecutor interface {
	Execute(ctx context.Context, call tools.Call, user storage.User) (tools.Result, error)
}

// MCPDeps holds dependencies for the MCP server. User is the service
// identity every MCP call runs as; its grants bound what the tools see.
type MCPDeps struct {
	User      storage.User
	Validator MCPValidator
	Executor  MCPExecutor
}

// NewMCPServer creates an MCP server exposing the review analytics tools.
// Calls skip the intent router; arguments arrive structured and go straight
// through validation and execution.
func NewMCPServer(deps MCPDeps) *server.MCPServer {
	s := server.NewMCPServer(
		"revq",
		"1.0.0",
		server.WithToolCapabilities(true),
		server.WithInstructions("revq — analytics over a categorized product review corpus."),
		server.WithRecovery(),
	)

	s.AddTool(
		mcp.NewTool(tools.ToolTopCategories,
			mcp.WithDescription("Rank product categories by review count, average rating, or NPS."),
			mcp.WithNumber("top_n", mcp.Description("How many categories to return")),
			mcp.WithString("metric", mcp.Description("Ranking metric: review_count, avg_rating, or nps")),
		),
		mcpTopCategories(deps),
	)

	s.AddTool(
		mcp.NewTool(tools.ToolRatingDistribution,
			mcp.WithDescription("Histogram of review ratings for one category."),
			mcp.WithString("category", mcp.Description("Category name"), mcp.Required()),
		),
		mcpSingleCategory(deps, tools.ToolRatingDistribution),
	)

	s.AddTool(
		mcp.NewTool(tools.ToolSentimentSummary,
			mcp.WithDescription("Sentiment breakdown and top complaint reasons for one category."),
			mcp.WithString("category", mcp.Description("Category name"), mcp.Required()),
			mcp.WithNumber("max_reviews", mcp.Description("How many reviews to analyze")),
		),
		mcpSentimentSummary(deps),
	)

	s.AddTool(
		mcp.NewTool(tools.ToolCompareCategories,
			mcp.WithDescription("Side-by-side metrics for two categories."),
			mcp.WithString("category_a", mcp.Description("First category"), mcp.Required()),
			mcp.WithString("category_b", mcp.Description("Second category"), mcp.Required()),
		),
		mcpCompareCategories(deps),
	)

	s.AddTool(
		mcp.NewTool(tools.ToolGeneralQuery,
			mcp.WithDescription("Corpus-level statistics: review counts, category list, or a single category's overview."),
			mcp.WithString("query_type", mcp.Description("One of summary_stats, count_categories, list_categories, category_info")),
			mcp.WithString("category", mcp.Description("Category name, required for category_info")),
		),
		mcpGeneralQuery(deps),
	)

	return s
}

func mcpTopCategories(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if n := req.GetInt("top_n", 0); n > 0 {
			args["top_n"] = n
		}
		if m := req.GetString("metric", ""); m != "" {
			args["metric"] = m
		}
		return runTool(ctx, deps, tools.ToolTopCategories, args)
	}
}

func mcpSingleCategory(deps MCPDeps, tool string) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		category, err := req.RequireString("category")
		if err != nil {
			return mcpError("category is required"), nil
		}
		return runTool(ctx, deps, tool, map[string]any{"category": category})
	}
}

func mcpSentimentSummary(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		category, err := req.RequireString("category")
		if err != nil {
			return mcpError("category is required"), nil
		}
		args := map[string]any{"category": category}
		if n := req.GetInt("max_reviews", 0); n > 0 {
			args["max_reviews"] = n
		}
		return runTool(ctx, deps, tools.ToolSentimentSummary, args)
	}
}

func mcpCompareCategories(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		a, err := req.RequireString("category_a")
		if err != nil {
			return mcpError("category_a is required"), nil
		}
		b, err := req.RequireString("category_b")
		if err != nil {
			return mcpError("category_b is required"), nil
		}
		return runTool(ctx, deps, tools.ToolCompareCategories, map[string]any{
			"category_a": a,
			"category_b": b,
		})
	}
}

func mcpGeneralQuery(deps MCPDeps) server.ToolHandlerFunc {
	return func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		args := map[string]any{}
		if qt := req.GetString("query_type", ""); qt != "" {
			args["query_type"] = qt
		}
		if c := req.GetString("category", ""); c != "" {
			args["category"] = c
		}
		return runTool(ctx, deps, tools.ToolGeneralQuery, args)
	}
}

// runTool validates and executes a structured call. Rejections surface as
// MCP tool errors instead of falling back: the caller chose the tool, so a
// substituted answer would only mislead.
func runTool(ctx context.Context, deps MCPDeps, tool string, args map[string]any) (*mcp.CallToolResult, error) {
	call, rej := deps.Validator.Validate(router.Decision{Tool: tool, Args: args, Confidence: 1}, deps.User)
	if rej != nil {
		return mcpError(fmt.Sprintf("%s: %s", rej.Reason, rej.Detail)), nil
	}

	result, err := deps.Executor.Execute(ctx, call, deps.User)
	if err != nil {
		return mcpError(fmt.Sprintf("execution failed: %v", err)), nil
	}

	b, err := json.Marshal(map[string]any{
		"result": result,
		"text":   answer.PlainText(call, result),
	})
	if err != nil {
		return mcpError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcpText(string(b)), nil
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
