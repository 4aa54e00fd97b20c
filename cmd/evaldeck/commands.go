package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/kalambet/evaldeck/internal/config"
	"github.com/kalambet/evaldeck/internal/stats"
	"github.com/kalambet/evaldeck/internal/storage"
)

type statsEnvelope struct {
	Data   stats.Snapshot `json:"data"`
	Cached bool           `json:"cached"`
}

type recentEnvelope struct {
	Data   []storage.Evaluation `json:"data"`
	Cached bool                 `json:"cached"`
}

func fetchStats(ctx context.Context, client *apiClient, days int) (statsEnvelope, error) {
	var env statsEnvelope
	resp, err := client.get(ctx, fmt.Sprintf("/evals/stats?days=%d", days))
	if err != nil {
		return env, err
	}
	err = decodeJSON(resp, &env)
	return env, err
}

func fetchRecent(ctx context.Context, client *apiClient, limit int) (recentEnvelope, error) {
	var env recentEnvelope
	resp, err := client.get(ctx, fmt.Sprintf("/evals/recent?limit=%d", limit))
	if err != nil {
		return env, err
	}
	err = decodeJSON(resp, &env)
	return env, err
}

// --- record ---

var recordCmd = &cobra.Command{
	Use:   "record",
	Short: "Record a scored AI interaction evaluation",
	Long: `Record a scored AI interaction evaluation.

Examples:
  evaldeck record --interaction chat-042 --prompt "What is Go?" --response "A language." --score 85 --latency 420
  evaldeck record --interaction chat-043 --prompt "..." --response "..." --score 30 --latency 2100 --flags '{"error":true}'`,
	RunE: func(cmd *cobra.Command, args []string) error {
		interaction, _ := cmd.Flags().GetString("interaction")
		prompt, _ := cmd.Flags().GetString("prompt")
		response, _ := cmd.Flags().GetString("response")
		score, _ := cmd.Flags().GetInt("score")
		latency, _ := cmd.Flags().GetInt64("latency")
		flags, _ := cmd.Flags().GetString("flags")

		if interaction == "" || prompt == "" || response == "" {
			return fmt.Errorf("--interaction, --prompt, and --response are required")
		}
		if !cmd.Flags().Changed("score") || !cmd.Flags().Changed("latency") {
			return fmt.Errorf("--score and --latency are required")
		}

		req := map[string]any{
			"interaction_id": interaction,
			"prompt":         prompt,
			"response":       response,
			"score":          score,
			"latency_ms":     latency,
		}
		if flags != "" {
			req["flags"] = json.RawMessage(flags)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.post(cmd.Context(), "/evals/ingest", req)
		if err != nil {
			return err
		}

		var result struct {
			Data map[string]any `json:"data"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		if result.Data["status"] == "sampled_out" {
			printWarning("Evaluation not recorded (sampled out by run policy)")
			return nil
		}

		printSuccess("Recorded evaluation %v", result.Data["id"])
		return nil
	},
}

func init() {
	recordCmd.Flags().String("interaction", "", "interaction id the evaluation belongs to")
	recordCmd.Flags().String("prompt", "", "prompt that was evaluated")
	recordCmd.Flags().String("response", "", "model response that was evaluated")
	recordCmd.Flags().Int("score", 0, "quality score, 0-100")
	recordCmd.Flags().Int64("latency", 0, "response latency in milliseconds")
	recordCmd.Flags().String("flags", "", "optional JSON flags object")
}

// --- stats ---

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show aggregated evaluation statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		env, err := fetchStats(cmd.Context(), client, days)
		if err != nil {
			return err
		}

		renderStats(env.Data, days, env.Cached)
		return nil
	},
}

func init() {
	statsCmd.Flags().Int("days", stats.DefaultWindowDays, "trailing window in days")
}

// --- recent ---

var recentCmd = &cobra.Command{
	Use:   "recent",
	Short: "List the most recent evaluations",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		env, err := fetchRecent(cmd.Context(), client, limit)
		if err != nil {
			return err
		}

		renderRecent(env.Data)
		return nil
	},
}

func init() {
	recentCmd.Flags().Int("limit", stats.DefaultRecentLimit, "maximum number of evaluations to list")
}

// --- dashboard ---

var dashboardCmd = &cobra.Command{
	Use:   "dashboard",
	Short: "Show statistics and recent evaluations together",
	RunE: func(cmd *cobra.Command, args []string) error {
		days, _ := cmd.Flags().GetInt("days")
		limit, _ := cmd.Flags().GetInt("limit")

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		var (
			statsEnv  statsEnvelope
			recentEnv recentEnvelope
		)
		g, ctx := errgroup.WithContext(cmd.Context())
		g.Go(func() error {
			var err error
			statsEnv, err = fetchStats(ctx, client, days)
			return err
		})
		g.Go(func() error {
			var err error
			recentEnv, err = fetchRecent(ctx, client, limit)
			return err
		})
		if err := g.Wait(); err != nil {
			return err
		}

		renderStats(statsEnv.Data, days, statsEnv.Cached)
		fmt.Println()
		renderRecent(recentEnv.Data)
		return nil
	},
}

func init() {
	dashboardCmd.Flags().Int("days", stats.DefaultWindowDays, "trailing window in days")
	dashboardCmd.Flags().Int("limit", stats.DefaultRecentLimit, "maximum number of recent evaluations")
}

func renderStats(snap stats.Snapshot, days int, cached bool) {
	header := fmt.Sprintf("Last %d days", days)
	if cached {
		header += " (cached)"
	}
	fmt.Println(colorize(colorBold, header))
	fmt.Printf("  Total evaluations:   %d\n", snap.TotalEvals)
	fmt.Printf("  Average score:       %.1f\n", snap.AvgScore)
	fmt.Printf("  Average latency:     %dms\n", snap.AvgLatency)
	fmt.Printf("  Success rate:        %.1f%%\n", snap.SuccessRate)
	fmt.Printf("  PII tokens redacted: %d\n", snap.TotalPiiRedacted)

	d := snap.ScoreDistribution
	fmt.Printf("  Distribution:        excellent %d / good %d / fair %d / poor %d\n",
		d.Excellent, d.Good, d.Fair, d.Poor)

	if len(snap.DailyTrends) > 0 {
		fmt.Println(colorize(colorBold, "  Daily trends:"))
		for _, t := range snap.DailyTrends {
			fmt.Printf("    %s  %3d evals  avg %.1f  %dms\n", t.Date, t.Count, t.AvgScore, t.AvgLatency)
		}
	}
}

func renderRecent(evals []storage.Evaluation) {
	if len(evals) == 0 {
		fmt.Println("No evaluations found.")
		return
	}

	for _, e := range evals {
		scoreColor := colorGreen
		if e.Score < 50 {
			scoreColor = colorRed
		} else if e.Score < 70 {
			scoreColor = colorYellow
		}

		prompt := e.Prompt
		if len(prompt) > 60 {
			prompt = prompt[:60] + "..."
		}

		fmt.Printf("%s  %s  %s  %5dms  %s\n",
			colorize(colorCyan, e.ID[:8]),
			e.CreatedAt.Format("2006-01-02 15:04"),
			colorize(scoreColor, fmt.Sprintf("%3d", e.Score)),
			e.LatencyMs,
			prompt,
		)
	}
}

// --- config ---

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Show or update configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		keys := config.ShowAll(cfg)
		for _, k := range keys {
			fmt.Printf("  %s = %s\n", colorize(colorBold, k.Key), k.Value)
		}
		return nil
	},
}

var configSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a configuration value",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		if err := config.SetKey(key, value); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

var policyCmd = &cobra.Command{
	Use:   "policy",
	Short: "Show or update the owner's evaluation policy",
}

var policyShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the owner's evaluation policy",
	RunE: func(cmd *cobra.Command, args []string) error {
		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.get(cmd.Context(), "/config")
		if err != nil {
			return err
		}

		var result struct {
			Data storage.UserConfig `json:"data"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		c := result.Data
		fmt.Printf("  %s = %s\n", colorize(colorBold, "run_policy"), c.RunPolicy)
		fmt.Printf("  %s = %d\n", colorize(colorBold, "sample_rate_pct"), c.SampleRatePct)
		fmt.Printf("  %s = %t\n", colorize(colorBold, "obfuscate_pii"), c.ObfuscatePii)
		fmt.Printf("  %s = %d\n", colorize(colorBold, "max_eval_per_day"), c.MaxEvalPerDay)
		return nil
	},
}

var policySetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set an evaluation policy field",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		key, value := args[0], args[1]

		body := map[string]any{}
		switch key {
		case "run_policy":
			body[key] = value
		case "obfuscate_pii":
			b, err := strconv.ParseBool(value)
			if err != nil {
				return fmt.Errorf("obfuscate_pii must be true or false")
			}
			body[key] = b
		case "sample_rate_pct", "max_eval_per_day":
			n, err := strconv.Atoi(value)
			if err != nil {
				return fmt.Errorf("%s must be an integer", key)
			}
			body[key] = n
		default:
			return fmt.Errorf("unknown policy key %q (valid: run_policy, sample_rate_pct, obfuscate_pii, max_eval_per_day)", key)
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		resp, err := client.put(cmd.Context(), "/config", body)
		if err != nil {
			return err
		}

		var result struct {
			Data storage.UserConfig `json:"data"`
		}
		if err := decodeJSON(resp, &result); err != nil {
			return err
		}

		printSuccess("Set %s = %s", key, value)
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configSetCmd)
	policyCmd.AddCommand(policyShowCmd)
	policyCmd.AddCommand(policySetCmd)
	configCmd.AddCommand(policyCmd)
}

// --- seed ---

var seedPrompts = []string{
	"What is the capital of France?",
	"Explain quantum computing in simple terms.",
	"Write a Python function to calculate fibonacci numbers.",
	"What are the benefits of regular exercise?",
	"Summarize the key points of climate change.",
	"How do I make chocolate chip cookies?",
	"What is the difference between React and Vue?",
	"Explain the concept of machine learning.",
	"What are the best practices for API design?",
	"How does photosynthesis work?",
}

var seedResponses = []string{
	"The capital of France is Paris, located in the north-central part of the country.",
	"Quantum computing uses qubits that can exist in multiple states simultaneously, allowing parallel processing at scales impossible for classical computers.",
	"def fibonacci(n):\n    if n <= 1:\n        return n\n    return fibonacci(n-1) + fibonacci(n-2)",
	"Regular exercise improves cardiovascular health, strengthens muscles, and boosts mental health.",
	"Climate change involves rising global temperatures, melting ice caps, and extreme weather events, primarily driven by greenhouse gas emissions.",
	"Mix butter, sugar, eggs, and vanilla. Add flour, baking soda, and salt. Fold in chocolate chips. Bake at 375F for 10-12 minutes.",
	"React uses a virtual DOM and JSX, while Vue has a template-based approach and is often considered easier to learn.",
	"Machine learning is a subset of AI where models learn from data patterns without explicit programming.",
	"Best practices include RESTful design, proper HTTP methods, versioning, authentication, rate limiting, and clear documentation.",
	"Photosynthesis converts light energy into chemical energy. Chlorophyll absorbs sunlight, producing glucose and oxygen from CO2 and water.",
}

// seedScore skews high: 5% failures, 10% marginal, 85% good.
func seedScore() int {
	r := rand.Float64()
	switch {
	case r < 0.05:
		return rand.Intn(41) + 20
	case r < 0.15:
		return rand.Intn(11) + 60
	default:
		return rand.Intn(26) + 70
	}
}

// seedLatency: 70% fast, 25% medium, 5% slow.
func seedLatency() int64 {
	r := rand.Float64()
	switch {
	case r < 0.7:
		return int64(rand.Intn(600) + 200)
	case r < 0.95:
		return int64(rand.Intn(700) + 800)
	default:
		return int64(rand.Intn(1500) + 1500)
	}
}

func seedFlags(score int) string {
	switch {
	case score < 50 && rand.Float64() < 0.5:
		return `{"error":true}`
	case score < 70 && rand.Float64() < 0.3:
		return `{"timeout":true}`
	case rand.Float64() < 0.1:
		return `{"warning":"slow_response"}`
	}
	return ""
}

func seedPiiTokens() int {
	r := rand.Float64()
	switch {
	case r < 0.8:
		return 0
	case r < 0.95:
		return rand.Intn(3) + 1
	default:
		return rand.Intn(3) + 3
	}
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Generate sample evaluations through the ingest endpoint",
	RunE: func(cmd *cobra.Command, args []string) error {
		count, _ := cmd.Flags().GetInt("count")
		if count < 1 {
			return fmt.Errorf("--count must be at least 1")
		}

		client, err := newAPIClient()
		if err != nil {
			return err
		}

		printStep("Seeding %d evaluations...", count)

		created, sampledOut := 0, 0
		for i := 0; i < count; i++ {
			idx := rand.Intn(len(seedPrompts))
			score := seedScore()

			req := map[string]any{
				"interaction_id":      fmt.Sprintf("seed-%06d", i+1),
				"prompt":              seedPrompts[idx],
				"response":            seedResponses[idx],
				"score":               score,
				"latency_ms":          seedLatency(),
				"pii_tokens_redacted": seedPiiTokens(),
			}
			if flags := seedFlags(score); flags != "" {
				req["flags"] = json.RawMessage(flags)
			}

			resp, err := client.post(cmd.Context(), "/evals/ingest", req)
			if err != nil {
				return err
			}

			var result struct {
				Data map[string]any `json:"data"`
			}
			if err := decodeJSON(resp, &result); err != nil {
				if strings.Contains(err.Error(), "429") {
					printWarning("Daily evaluation limit reached after %d records", created)
					break
				}
				return err
			}

			if result.Data["status"] == "sampled_out" {
				sampledOut++
			} else {
				created++
			}
		}

		printSuccess("Seeded %d evaluations (%d sampled out)", created, sampledOut)

		env, err := fetchStats(cmd.Context(), client, stats.DefaultWindowDays)
		if err != nil {
			return nil
		}
		fmt.Println()
		renderStats(env.Data, stats.DefaultWindowDays, env.Cached)
		return nil
	},
}

func init() {
	seedCmd.Flags().Int("count", 25, "number of sample evaluations to generate")
}
