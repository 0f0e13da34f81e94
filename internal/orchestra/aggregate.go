package orchestra

import (
	"math"
	"sort"
	"strings"

	"github.com/antonk9218/fl-bidder/internal/ai"
)

const divergenceNote = "[Note: scores diverged significantly across providers]"

// combineEnsemble reduces successful provider results deterministically:
// mean score clamped to [0,10], reason from the provider closest to the
// mean, median suggested bid, mean hours and rate.
func combineEnsemble(results []*ai.ScoreResult) *ai.ScoreResult {
	if len(results) == 1 {
		return results[0]
	}

	var scoreSum, hoursSum, rateSum float64
	minScore, maxScore := math.Inf(1), math.Inf(-1)
	bids := make([]float64, 0, len(results))

	for _, r := range results {
		scoreSum += r.Score
		hoursSum += r.EstimatedHours
		rateSum += r.HourlyRate
		minScore = math.Min(minScore, r.Score)
		maxScore = math.Max(maxScore, r.Score)
		if r.SuggestedBid > 0 {
			bids = append(bids, r.SuggestedBid)
		}
	}

	n := float64(len(results))
	avgScore := math.Max(0, math.Min(10, scoreSum/n))

	// Reason comes from the provider whose score sits closest to the
	// consensus, so the text matches the number we report.
	closest := results[0]
	for _, r := range results[1:] {
		if math.Abs(r.Score-avgScore) < math.Abs(closest.Score-avgScore) {
			closest = r
		}
	}

	reason := closest.Reason
	if maxScore-minScore > 3 {
		reason = strings.TrimSpace(reason + " " + divergenceNote)
	}

	providers := make([]string, 0, len(results))
	for _, r := range results {
		if r.Provider != "" {
			providers = append(providers, r.Provider)
		}
	}

	return &ai.ScoreResult{
		Score:          avgScore,
		Reason:         reason,
		SuggestedBid:   median(bids),
		EstimatedHours: hoursSum / n,
		HourlyRate:     rateSum / n,
		Provider:       strings.Join(providers, "+"),
		Raw:            closest.Raw,
	}
}

func median(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)

	mid := len(sorted) / 2
	if len(sorted)%2 == 1 {
		return sorted[mid]
	}
	return (sorted[mid-1] + sorted[mid]) / 2
}
