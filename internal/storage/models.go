package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Evaluation is a single scored AI interaction. Records are append-only:
// once written they are never updated or deleted by this service.
type Evaluation struct {
	ID                string    `json:"id"`
	OwnerID           string    `json:"owner_id"`
	InteractionID     string    `json:"interaction_id"`
	Prompt            string    `json:"prompt"`
	Response          string    `json:"response"`
	Score             int       `json:"score"`
	LatencyMs         int64     `json:"latency_ms"`
	Flags             string    `json:"flags,omitempty"` // JSON object stored as text, "" when absent
	PiiTokensRedacted int       `json:"pii_tokens_redacted"`
	CreatedAt         time.Time `json:"created_at"`
}

// Default user config values, applied when an owner has no stored row.
const (
	DefaultRunPolicy     = "always"
	DefaultSampleRatePct = 10
	DefaultMaxEvalPerDay = 100
)

// UserConfig holds per-owner ingestion policy. Rows are created lazily:
// reads of a missing owner return DefaultUserConfig, and only an explicit
// update persists one.
type UserConfig struct {
	OwnerID       string    `json:"owner_id"`
	RunPolicy     string    `json:"run_policy"` // "always" or "sampled"
	SampleRatePct int       `json:"sample_rate_pct"`
	ObfuscatePii  bool      `json:"obfuscate_pii"`
	MaxEvalPerDay int       `json:"max_eval_per_day"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// DefaultUserConfig returns the config used for owners without a stored row.
func DefaultUserConfig(ownerID string) UserConfig {
	return UserConfig{
		OwnerID:       ownerID,
		RunPolicy:     DefaultRunPolicy,
		SampleRatePct: DefaultSampleRatePct,
		ObfuscatePii:  false,
		MaxEvalPerDay: DefaultMaxEvalPerDay,
	}
}
