package api

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/kalambet/evaldeck/internal/rcache"
	"github.com/kalambet/evaldeck/internal/stats"
	"github.com/kalambet/evaldeck/internal/storage"
)

func newTestMCPDeps(t *testing.T) (MCPDeps, *storage.Store) {
	t.Helper()
	store, err := storage.Open(":memory:")
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	return MCPDeps{
		Store:        store,
		Stats:        stats.NewService(store),
		Cache:        rcache.New(),
		DefaultOwner: testOwner,
		StatsTTL:     15 * time.Second,
		RecentTTL:    10 * time.Second,
	}, store
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

func makeCallToolRequest(name string, args map[string]interface{}) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      name,
			Arguments: args,
		},
	}
}

func TestMCPTool_RecordEval(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpRecordEval(deps)

	req := makeCallToolRequest("record_eval", map[string]interface{}{
		"interaction_id": "int-001",
		"prompt":         "What is Go?",
		"response":       "A programming language.",
		"score":          88,
		"latency_ms":     450,
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	evals, err := store.Recent(testOwner, 10)
	if err != nil {
		t.Fatalf("Recent: %v", err)
	}
	if len(evals) != 1 {
		t.Fatalf("expected 1 stored evaluation, got %d", len(evals))
	}
	if evals[0].Score != 88 || evals[0].LatencyMs != 450 {
		t.Errorf("stored record mismatch: %+v", evals[0])
	}
}

func TestMCPTool_RecordEval_RejectsBadScore(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpRecordEval(deps)

	req := makeCallToolRequest("record_eval", map[string]interface{}{
		"interaction_id": "int-001",
		"prompt":         "p",
		"response":       "r",
		"score":          120,
		"latency_ms":     100,
	})

	result, err := handler(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for score out of range")
	}
}

func TestMCPTool_EvalStats(t *testing.T) {
	deps, store := newTestMCPDeps(t)
	handler := mcpEvalStats(deps)

	now := time.Now().UTC()
	for i, score := range []int{95, 82, 40} {
		e := storage.Evaluation{
			ID:            "eval-" + string(rune('a'+i)),
			OwnerID:       testOwner,
			InteractionID: "int-001",
			Prompt:        "p",
			Response:      "r",
			Score:         score,
			LatencyMs:     int64(300 * (i + 1)),
			CreatedAt:     now,
		}
		if err := store.SaveEvaluation(e); err != nil {
			t.Fatalf("SaveEvaluation: %v", err)
		}
	}

	result, err := handler(context.Background(), makeCallToolRequest("eval_stats", map[string]interface{}{"days": 7}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}

	var snap stats.Snapshot
	if err := json.Unmarshal([]byte(toolText(t, result)), &snap); err != nil {
		t.Fatalf("parsing snapshot: %v", err)
	}
	if snap.TotalEvals != 3 {
		t.Errorf("TotalEvals = %d, want 3", snap.TotalEvals)
	}
	if snap.AvgScore != 72.3 {
		t.Errorf("AvgScore = %v, want 72.3", snap.AvgScore)
	}
}

func TestMCPTool_EvalStats_RejectsBadDays(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpEvalStats(deps)

	result, err := handler(context.Background(), makeCallToolRequest("eval_stats", map[string]interface{}{"days": -1}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.IsError {
		t.Fatal("expected tool error for negative days")
	}
}

func TestMCPTool_RecentEvals_Empty(t *testing.T) {
	deps, _ := newTestMCPDeps(t)
	handler := mcpRecentEvals(deps)

	result, err := handler(context.Background(), makeCallToolRequest("recent_evals", nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.IsError {
		t.Fatalf("unexpected tool error: %s", toolText(t, result))
	}
	if text := toolText(t, result); text != "[]" {
		t.Errorf("expected empty array, got %s", text)
	}
}
