// Package stats computes windowed aggregate metrics over evaluation records.
// Aggregation is pure: it performs no I/O, never mutates its input, and any
// number of calls may run concurrently.
package stats

import (
	"math"
	"sort"
	"time"

	"github.com/kalambet/evaldeck/internal/storage"
)

// Score thresholds for the distribution buckets and the success rate.
const (
	successThreshold   = 70
	excellentThreshold = 90
	fairThreshold      = 50
)

// Snapshot is the derived aggregate for one owner and one trailing window.
// It has no identity or lifecycle of its own; it exists only as a return
// value and as a cache payload.
type Snapshot struct {
	TotalEvals        int          `json:"totalEvals"`
	AvgScore          float64      `json:"avgScore"`
	AvgLatency        int64        `json:"avgLatency"`
	SuccessRate       float64      `json:"successRate"`
	TotalPiiRedacted  int          `json:"totalPiiRedacted"`
	DailyTrends       []DailyTrend `json:"dailyTrends"`
	ScoreDistribution Distribution `json:"scoreDistribution"`
}

// DailyTrend is the per-calendar-date (UTC) aggregate. Dates with no records
// are omitted from the trend sequence, not zero-filled.
type DailyTrend struct {
	Date       string  `json:"date"` // YYYY-MM-DD
	Count      int     `json:"count"`
	AvgScore   float64 `json:"avgScore"`
	AvgLatency int64   `json:"avgLatency"`
}

// Distribution buckets every record by score: excellent >= 90,
// 70 <= good < 90, 50 <= fair < 70, poor < 50. The buckets are mutually
// exclusive and exhaustive, so their counts always sum to TotalEvals.
type Distribution struct {
	Excellent int `json:"excellent"`
	Good      int `json:"good"`
	Fair      int `json:"fair"`
	Poor      int `json:"poor"`
}

// Aggregate computes a Snapshot from a window of evaluations. An empty window
// yields all-zero scalars, an empty trend sequence, and all-zero buckets,
// never an error. Score and latency sums are integer, so the result does not
// depend on input order.
func Aggregate(evals []storage.Evaluation) Snapshot {
	snap := Snapshot{
		TotalEvals:  len(evals),
		DailyTrends: []DailyTrend{},
	}

	if len(evals) == 0 {
		return snap
	}

	var scoreSum, piiSum int
	var latencySum int64
	var successes int

	type dayAccum struct {
		count      int
		scoreSum   int
		latencySum int64
	}
	days := make(map[string]*dayAccum)

	for _, e := range evals {
		scoreSum += e.Score
		latencySum += e.LatencyMs
		piiSum += e.PiiTokensRedacted
		if e.Score >= successThreshold {
			successes++
		}

		switch {
		case e.Score >= excellentThreshold:
			snap.ScoreDistribution.Excellent++
		case e.Score >= successThreshold:
			snap.ScoreDistribution.Good++
		case e.Score >= fairThreshold:
			snap.ScoreDistribution.Fair++
		default:
			snap.ScoreDistribution.Poor++
		}

		date := e.CreatedAt.UTC().Format(time.DateOnly)
		d := days[date]
		if d == nil {
			d = &dayAccum{}
			days[date] = d
		}
		d.count++
		d.scoreSum += e.Score
		d.latencySum += e.LatencyMs
	}

	n := len(evals)
	snap.AvgScore = round1(float64(scoreSum) / float64(n))
	snap.AvgLatency = roundInt(float64(latencySum) / float64(n))
	snap.SuccessRate = round1(float64(successes) / float64(n) * 100)
	snap.TotalPiiRedacted = piiSum

	dates := make([]string, 0, len(days))
	for date := range days {
		dates = append(dates, date)
	}
	sort.Strings(dates)

	for _, date := range dates {
		d := days[date]
		snap.DailyTrends = append(snap.DailyTrends, DailyTrend{
			Date:       date,
			Count:      d.count,
			AvgScore:   round1(float64(d.scoreSum) / float64(d.count)),
			AvgLatency: roundInt(float64(d.latencySum) / float64(d.count)),
		})
	}

	return snap
}

// round1 rounds to one decimal place, half away from zero.
func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// roundInt rounds to the nearest integer, half away from zero.
func roundInt(v float64) int64 {
	return int64(math.Round(v))
}
