package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
	Auth   string
	Owner  string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
			Auth:   r.Header.Get("Authorization"),
			Owner:  r.Header.Get("X-Eval-Owner"),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":{"message":"not found","type":"not_found"}}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		token:      "test-token",
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestRecordRequest(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /evals/ingest": `{"data":{"id":"eval-123","score":85}}`,
	})

	client := ts.client()

	req := map[string]any{
		"interaction_id": "chat-042",
		"prompt":         "What is Go?",
		"response":       "A language.",
		"score":          85,
		"latency_ms":     420,
	}

	resp, err := client.post(ctx, "/evals/ingest", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result struct {
		Data map[string]any `json:"data"`
	}
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}

	if result.Data["id"] != "eval-123" {
		t.Errorf("id = %v, want eval-123", result.Data["id"])
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}

	r := ts.requests[0]
	if r.Method != "POST" {
		t.Errorf("method = %q, want POST", r.Method)
	}
	if r.Path != "/evals/ingest" {
		t.Errorf("path = %q, want /evals/ingest", r.Path)
	}
	if r.Auth != "Bearer test-token" {
		t.Errorf("auth = %q, want Bearer test-token", r.Auth)
	}

	var body map[string]any
	if err := json.Unmarshal([]byte(r.Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["interaction_id"] != "chat-042" {
		t.Errorf("body.interaction_id = %v, want chat-042", body["interaction_id"])
	}
}

func TestRecordCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"record"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestFetchStats(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /evals/stats": `{"data":{"totalEvals":3,"avgScore":72.3,"avgLatency":933,"successRate":66.7,"totalPiiRedacted":2,"dailyTrends":[],"scoreDistribution":{"excellent":1,"good":1,"fair":0,"poor":1}},"cached":true}`,
	})

	env, err := fetchStats(ctx, ts.client(), 7)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !env.Cached {
		t.Error("expected cached = true")
	}
	if env.Data.TotalEvals != 3 {
		t.Errorf("TotalEvals = %d, want 3", env.Data.TotalEvals)
	}
	if env.Data.AvgScore != 72.3 {
		t.Errorf("AvgScore = %v, want 72.3", env.Data.AvgScore)
	}
	if env.Data.ScoreDistribution.Excellent != 1 {
		t.Errorf("Excellent = %d, want 1", env.Data.ScoreDistribution.Excellent)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	if ts.requests[0].Path != "/evals/stats?days=7" {
		t.Errorf("path = %q, want /evals/stats?days=7", ts.requests[0].Path)
	}
}

func TestFetchRecent(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /evals/recent": `{"data":[{"id":"eval-1","interaction_id":"chat-1","prompt":"p","response":"r","score":90,"latency_ms":300,"created_at":"2026-08-27T10:00:00Z"}],"cached":false}`,
	})

	env, err := fetchRecent(ctx, ts.client(), 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if env.Cached {
		t.Error("expected cached = false")
	}
	if len(env.Data) != 1 {
		t.Fatalf("expected 1 evaluation, got %d", len(env.Data))
	}
	if env.Data[0].Score != 90 {
		t.Errorf("score = %d, want 90", env.Data[0].Score)
	}

	if ts.requests[0].Path != "/evals/recent?limit=5" {
		t.Errorf("path = %q, want /evals/recent?limit=5", ts.requests[0].Path)
	}
}

func TestDashboardFetchesBoth(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /evals/stats":  `{"data":{"totalEvals":0,"avgScore":0,"avgLatency":0,"successRate":0,"totalPiiRedacted":0,"dailyTrends":[],"scoreDistribution":{"excellent":0,"good":0,"fair":0,"poor":0}},"cached":false}`,
		"GET /evals/recent": `{"data":[],"cached":false}`,
	})

	client := ts.client()
	if _, err := fetchStats(ctx, client, 7); err != nil {
		t.Fatalf("fetchStats: %v", err)
	}
	if _, err := fetchRecent(ctx, client, 10); err != nil {
		t.Fatalf("fetchRecent: %v", err)
	}

	if len(ts.requests) != 2 {
		t.Fatalf("expected 2 requests, got %d", len(ts.requests))
	}
}

func TestOwnerHeaderSent(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /evals/stats": `{"data":{"totalEvals":0,"avgScore":0,"avgLatency":0,"successRate":0,"totalPiiRedacted":0,"dailyTrends":[],"scoreDistribution":{"excellent":0,"good":0,"fair":0,"poor":0}},"cached":false}`,
	})

	client := ts.client()
	client.owner = "team-a"

	if _, err := fetchStats(ctx, client, 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Owner != "team-a" {
		t.Errorf("owner header = %q, want team-a", ts.requests[0].Owner)
	}
}

func TestOwnerHeaderOmittedByDefault(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /evals/stats": `{"data":{"totalEvals":0,"avgScore":0,"avgLatency":0,"successRate":0,"totalPiiRedacted":0,"dailyTrends":[],"scoreDistribution":{"excellent":0,"good":0,"fair":0,"poor":0}},"cached":false}`,
	})

	if _, err := fetchStats(ctx, ts.client(), 7); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ts.requests[0].Owner != "" {
		t.Errorf("owner header = %q, want empty", ts.requests[0].Owner)
	}
}

func TestStatusHealthCheck(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /health": `{"status":"ok"}`,
	})

	resp, err := ts.client().get(ctx, "/health")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != 200 {
		t.Errorf("status code = %d, want 200", resp.StatusCode)
	}
}

func TestStatusServerStopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	_, err := ts.client().get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(401)
		w.Write([]byte(`{"error":{"message":"unauthorized","type":"auth_error"}}`))
	}))
	defer ts.Close()

	client := &apiClient{
		baseURL:    ts.URL,
		token:      "bad-token",
		httpClient: ts.Client(),
	}

	resp, err := client.get(ctx, "/evals/stats?days=7")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 401 response")
	}
	if !strings.Contains(err.Error(), "401") {
		t.Errorf("error = %q, want it to contain '401'", err.Error())
	}
}

func TestSeedScoreRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		s := seedScore()
		if s < 20 || s > 95 {
			t.Fatalf("seedScore() = %d, want within [20, 95]", s)
		}
	}
}

func TestSeedLatencyRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		l := seedLatency()
		if l < 200 || l >= 3000 {
			t.Fatalf("seedLatency() = %d, want within [200, 3000)", l)
		}
	}
}

func TestSeedFlagsValidJSON(t *testing.T) {
	for i := 0; i < 1000; i++ {
		f := seedFlags(seedScore())
		if f == "" {
			continue
		}
		var parsed map[string]any
		if err := json.Unmarshal([]byte(f), &parsed); err != nil {
			t.Fatalf("seedFlags produced invalid JSON %q: %v", f, err)
		}
	}
}

func TestSeedPiiTokensRange(t *testing.T) {
	for i := 0; i < 1000; i++ {
		n := seedPiiTokens()
		if n < 0 || n > 5 {
			t.Fatalf("seedPiiTokens() = %d, want within [0, 5]", n)
		}
	}
}
