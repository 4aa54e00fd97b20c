package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/evaldeck/internal/rcache"
	"github.com/kalambet/evaldeck/internal/redact"
	"github.com/kalambet/evaldeck/internal/stats"
	"github.com/kalambet/evaldeck/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// Deps holds everything the HTTP layer needs. The cache is constructed at
// process start and injected; handlers share it across requests.
type Deps struct {
	Store        *storage.Store
	Stats        *stats.Service
	Cache        *rcache.Cache
	Token        string
	DefaultOwner string
	StatsTTL     time.Duration
	RecentTTL    time.Duration

	// Sample returns a number in [0, 100) for run_policy "sampled" decisions.
	// Nil means math/rand; tests substitute a deterministic source.
	Sample func() int
}

func (d Deps) sample() int {
	if d.Sample != nil {
		return d.Sample()
	}
	return rand.Intn(100)
}

// NewHandler builds the evaldeck HTTP API. /health is open; everything else
// sits behind bearer auth and owner resolution.
func NewHandler(deps Deps) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(deps.Token))
		r.Use(OwnerFromHeader(deps.DefaultOwner))

		r.Post("/evals/ingest", handleIngest(deps))
		r.Get("/evals", handleListEvals(deps))
		r.Get("/evals/stats", handleStats(deps))
		r.Get("/evals/recent", handleRecent(deps))
		r.Get("/config", handleGetConfig(deps))
		r.Put("/config", handlePutConfig(deps))
	})

	return r
}

func statsCacheKey(owner string, days int) string {
	return fmt.Sprintf("stats:%s:%d", owner, days)
}

func recentCacheKey(owner string, limit int) string {
	return fmt.Sprintf("recent:%s:%d", owner, limit)
}

// invalidateOwner drops every cached read for the owner. Called after an
// ingest so the next stats/recent read recomputes.
func invalidateOwner(cache *rcache.Cache, owner string) {
	cache.InvalidateByPrefix("stats:" + owner + ":")
	cache.InvalidateByPrefix("recent:" + owner + ":")
}

type IngestRequest struct {
	InteractionID     string          `json:"interaction_id"`
	Prompt            *string         `json:"prompt"`
	Response          *string         `json:"response"`
	Score             *int            `json:"score"`
	LatencyMs         *int64          `json:"latency_ms"`
	Flags             json.RawMessage `json:"flags,omitempty"`
	PiiTokensRedacted int             `json:"pii_tokens_redacted"`
}

func handleIngest(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req IngestRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.InteractionID == "" || req.Prompt == nil || req.Response == nil || req.Score == nil || req.LatencyMs == nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error",
				"missing required fields: interaction_id, prompt, response, score, latency_ms")
			return
		}
		if *req.Score < 0 || *req.Score > 100 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "score must be between 0 and 100")
			return
		}
		if *req.LatencyMs < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "latency_ms must be a non-negative number")
			return
		}
		if req.PiiTokensRedacted < 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "pii_tokens_redacted must be non-negative")
			return
		}

		owner := Owner(r.Context())

		cfg, err := deps.Store.GetUserConfig(owner)
		if errors.Is(err, storage.ErrNotFound) {
			cfg = storage.DefaultUserConfig(owner)
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load owner config: %v", err)
			return
		}

		// Per-day cap counts records created since UTC midnight.
		midnight := time.Now().UTC().Truncate(24 * time.Hour)
		todayCount, err := deps.Store.CountEvaluationsSince(owner, midnight)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to check daily quota: %v", err)
			return
		}
		if todayCount >= cfg.MaxEvalPerDay {
			httpError(w, http.StatusTooManyRequests, "rate_limit_error",
				"daily evaluation limit reached (%d)", cfg.MaxEvalPerDay)
			return
		}

		if cfg.RunPolicy == "sampled" && deps.sample() >= cfg.SampleRatePct {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusAccepted)
			json.NewEncoder(w).Encode(map[string]any{"data": map[string]string{"status": "sampled_out"}})
			return
		}

		prompt := *req.Prompt
		response := *req.Response
		redacted := req.PiiTokensRedacted
		if cfg.ObfuscatePii {
			var n int
			prompt, n = redact.Tokens(prompt)
			redacted += n
			response, n = redact.Tokens(response)
			redacted += n
		}

		flags := ""
		if len(req.Flags) > 0 && string(req.Flags) != "null" {
			flags = string(req.Flags)
		}

		eval := storage.Evaluation{
			ID:                uuid.New().String(),
			OwnerID:           owner,
			InteractionID:     req.InteractionID,
			Prompt:            prompt,
			Response:          response,
			Score:             *req.Score,
			LatencyMs:         *req.LatencyMs,
			Flags:             flags,
			PiiTokensRedacted: redacted,
			CreatedAt:         time.Now().UTC(),
		}
		if err := deps.Store.SaveEvaluation(eval); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save evaluation: %v", err)
			return
		}

		invalidateOwner(deps.Cache, owner)

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]any{"data": eval})
	}
}

func handleListEvals(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		page := parseIntParam(r, "page", 1, 0)
		if page < 1 {
			page = 1
		}
		limit := parseIntParam(r, "limit", 20, 100)
		offset := (page - 1) * limit

		owner := Owner(r.Context())

		total, err := deps.Store.CountEvaluations(owner)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to count evaluations: %v", err)
			return
		}

		evals, err := deps.Store.ListEvaluations(owner, limit, offset)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to list evaluations: %v", err)
			return
		}
		if evals == nil {
			evals = []storage.Evaluation{}
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"data":       evals,
			"total":      total,
			"page":       page,
			"limit":      limit,
			"totalPages": int(math.Ceil(float64(total) / float64(limit))),
		})
	}
}

func handleStats(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		days := stats.DefaultWindowDays
		if raw := r.URL.Query().Get("days"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "days must be a positive integer")
				return
			}
			days = v
		}

		owner := Owner(r.Context())

		snap, cached, err := rcache.Through(r.Context(), deps.Cache, statsCacheKey(owner, days), deps.StatsTTL,
			func(context.Context) (stats.Snapshot, error) {
				return deps.Stats.Window(owner, days)
			})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to compute stats: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": snap, "cached": cached})
	}
}

func handleRecent(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := stats.DefaultRecentLimit
		if raw := r.URL.Query().Get("limit"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil || v <= 0 {
				httpError(w, http.StatusBadRequest, "invalid_request_error", "limit must be a positive integer")
				return
			}
			if v > 100 {
				v = 100
			}
			limit = v
		}

		owner := Owner(r.Context())

		evals, cached, err := rcache.Through(r.Context(), deps.Cache, recentCacheKey(owner, limit), deps.RecentTTL,
			func(context.Context) ([]storage.Evaluation, error) {
				result, err := deps.Stats.Recent(owner, limit)
				if err != nil {
					return nil, err
				}
				if result == nil {
					result = []storage.Evaluation{}
				}
				return result, nil
			})
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to fetch recent evaluations: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": evals, "cached": cached})
	}
}

func handleGetConfig(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner := Owner(r.Context())

		cfg, err := deps.Store.GetUserConfig(owner)
		if errors.Is(err, storage.ErrNotFound) {
			cfg = storage.DefaultUserConfig(owner)
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load config: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": cfg})
	}
}

type ConfigUpdateRequest struct {
	RunPolicy     *string `json:"run_policy"`
	SampleRatePct *int    `json:"sample_rate_pct"`
	ObfuscatePii  *bool   `json:"obfuscate_pii"`
	MaxEvalPerDay *int    `json:"max_eval_per_day"`
}

func handlePutConfig(deps Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
		defer r.Body.Close()

		var req ConfigUpdateRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
			return
		}

		if req.RunPolicy != nil && *req.RunPolicy != "always" && *req.RunPolicy != "sampled" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", `invalid run_policy: must be "always" or "sampled"`)
			return
		}
		if req.SampleRatePct != nil && (*req.SampleRatePct < 0 || *req.SampleRatePct > 100) {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "sample_rate_pct must be between 0 and 100")
			return
		}
		if req.MaxEvalPerDay != nil && *req.MaxEvalPerDay < 1 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "max_eval_per_day must be at least 1")
			return
		}

		owner := Owner(r.Context())

		cfg, err := deps.Store.GetUserConfig(owner)
		if errors.Is(err, storage.ErrNotFound) {
			cfg = storage.DefaultUserConfig(owner)
		} else if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to load config: %v", err)
			return
		}

		if req.RunPolicy != nil {
			cfg.RunPolicy = *req.RunPolicy
		}
		if req.SampleRatePct != nil {
			cfg.SampleRatePct = *req.SampleRatePct
		}
		if req.ObfuscatePii != nil {
			cfg.ObfuscatePii = *req.ObfuscatePii
		}
		if req.MaxEvalPerDay != nil {
			cfg.MaxEvalPerDay = *req.MaxEvalPerDay
		}

		if err := deps.Store.UpsertUserConfig(cfg); err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to save config: %v", err)
			return
		}

		updated, err := deps.Store.GetUserConfig(owner)
		if err != nil {
			httpError(w, http.StatusInternalServerError, "api_error", "failed to reload config: %v", err)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{"data": updated})
	}
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	msg := fmt.Sprintf(format, args...)
	json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]any{
			"message": msg,
			"type":    errType,
		},
	})
}
