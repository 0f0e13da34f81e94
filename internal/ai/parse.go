package ai

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
)

const defaultReason = "No reason provided."

// ParseScoreResult decodes an LLM response into a ScoreResult. The JSON may
// be wrapped in a markdown fence or surrounded by prose; the first balanced
// object is extracted as a last resort. The score is clamped to [0,10].
func ParseScoreResult(raw string) (*ScoreResult, error) {
	cleaned := ExtractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse score response: %w", err)
	}

	score := coerceFloat(data["score"])
	if math.IsNaN(score) {
		return nil, fmt.Errorf("score response has no numeric score")
	}
	score = math.Max(0, math.Min(10, score))

	reason := coerceString(data["reason"])
	if reason == "" {
		reason = defaultReason
	}

	result := &ScoreResult{
		Score:          score,
		Reason:         reason,
		SuggestedBid:   coerceFloatOrZero(data["suggested_bid"]),
		EstimatedHours: coerceFloatOrZero(data["estimated_hours"]),
		HourlyRate:     coerceFloatOrZero(data["hourly_rate"]),
		Raw:            raw,
	}

	return result, nil
}

// ExtractJSON strips markdown fences and prose around a JSON object.
func ExtractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	raw = strings.TrimSpace(raw)

	if !strings.HasPrefix(raw, "{") {
		start := strings.Index(raw, "{")
		end := strings.LastIndex(raw, "}")
		if start != -1 && end > start {
			raw = raw[start : end+1]
		}
	}

	return strings.TrimSpace(raw)
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSpace(val)
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceFloatOrZero(v any) float64 {
	f := coerceFloat(v)
	if math.IsNaN(f) {
		return 0
	}
	return f
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}
