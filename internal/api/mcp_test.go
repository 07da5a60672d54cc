package api

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/revq/revq/internal/router"
	"github.com/revq/revq/internal/storage"
	"github.com/revq/revq/internal/tools"
)

// --- mocks ---

type mockMCPValidator struct {
	rejection *tools.Rejection
	got       router.Decision
}

func (m *mockMCPValidator) Validate(d router.Decision, _ storage.User) (tools.Call, *tools.Rejection) {
	m.got = d
	if m.rejection != nil {
		return tools.Call{}, m.rejection
	}
	call := tools.Call{Tool: d.Tool}
	if c, ok := d.Args["category"].(string); ok {
		call.Args.Category = c
	}
	return call, nil
}

type mockMCPExecutor struct {
	result tools.Result
	err    error
	calls  int
}

func (m *mockMCPExecutor) Execute(_ context.Context, _ tools.Call, _ storage.User) (tools.Result, error) {
	m.calls++
	return m.result, m.err
}

// --- helpers ---

func newTestMCPDeps() (MCPDeps, *mockMCPValidator, *mockMCPExecutor) {
	validator := &mockMCPValidator{}
	executor := &mockMCPExecutor{result: tools.Result{Kind: tools.KindTopCategories}}
	deps := MCPDeps{
		User:      storage.User{ID: 3, Role: storage.RoleAnalyst, IsActive: true},
		Validator: validator,
		Executor:  executor,
	}
	return deps, validator, executor
}

func toolText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	if len(result.Content) == 0 {
		t.Fatal("no content in result")
	}
	tc, ok := result.Content[0].(mcp.TextContent)
	if !ok {
		t.Fatalf("expected TextContent, got %T", result.Content[0])
	}
	return tc.Text
}

func makeCallToolRequest(name string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

// --- tests ---

func TestMCPTool_TopCategories(t *testing.T) {
	deps, validator, executor := newTestMCPDeps()
	handler := mcpTopCategories(deps)

	req := makeCallToolRequest(tools.ToolTopCategories, map[string]any{
		"top_n":  10,
		"metric": "nps",
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	if validator.got.Tool != tools.ToolTopCategories {
		t.Errorf("validated tool = %q", validator.got.Tool)
	}
	if validator.got.Args["metric"] != "nps" {
		t.Errorf("metric arg = %v", validator.got.Args["metric"])
	}
	if executor.calls != 1 {
		t.Errorf("executor calls = %d", executor.calls)
	}

	var payload struct {
		Result tools.Result `json:"result"`
		Text   string       `json:"text"`
	}
	if err := json.Unmarshal([]byte(toolText(t, result)), &payload); err != nil {
		t.Fatalf("parsing payload: %v", err)
	}
	if payload.Result.Kind != tools.KindTopCategories {
		t.Errorf("result kind = %q", payload.Result.Kind)
	}
	if payload.Text == "" {
		t.Error("expected a rendered text alongside the result")
	}
}

func TestMCPTool_RequiredCategoryMissing(t *testing.T) {
	deps, validator, executor := newTestMCPDeps()
	handler := mcpSingleCategory(deps, tools.ToolRatingDistribution)

	req := makeCallToolRequest(tools.ToolRatingDistribution, map[string]any{})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for a missing category")
	}
	if validator.got.Tool != "" {
		t.Error("validator should not run without required args")
	}
	if executor.calls != 0 {
		t.Error("executor should not run without required args")
	}
}

func TestMCPTool_RejectionBecomesToolError(t *testing.T) {
	deps, _, executor := newTestMCPDeps()
	deps.Validator = &mockMCPValidator{rejection: &tools.Rejection{
		Reason: tools.ReasonAccessDenied,
		Detail: "category access denied",
	}}
	handler := mcpSingleCategory(deps, tools.ToolRatingDistribution)

	req := makeCallToolRequest(tools.ToolRatingDistribution, map[string]any{"category": "toys"})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for a rejected call")
	}
	text := toolText(t, result)
	if text != "access_denied: category access denied" {
		t.Errorf("error text = %q", text)
	}
	if executor.calls != 0 {
		t.Error("executor should not run for a rejected call")
	}
}

func TestMCPTool_ExecutionFailure(t *testing.T) {
	deps, _, executor := newTestMCPDeps()
	executor.err = errors.New("database unavailable")
	handler := mcpGeneralQuery(deps)

	req := makeCallToolRequest(tools.ToolGeneralQuery, map[string]any{"query_type": "summary_stats"})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result when execution fails")
	}
}

func TestMCPTool_CompareRequiresBothCategories(t *testing.T) {
	deps, validator, _ := newTestMCPDeps()
	handler := mcpCompareCategories(deps)

	req := makeCallToolRequest(tools.ToolCompareCategories, map[string]any{"category_a": "laptops"})
	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected an error result for a missing category_b")
	}

	req = makeCallToolRequest(tools.ToolCompareCategories, map[string]any{
		"category_a": "laptops",
		"category_b": "tablets",
	})
	result, err = handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if validator.got.Args["category_b"] != "tablets" {
		t.Errorf("category_b arg = %v", validator.got.Args["category_b"])
	}
}
