package ai

import "context"

// ScoreResult is a provider's structured assessment of a project.
type ScoreResult struct {
	Score          float64
	Reason         string
	SuggestedBid   float64 // USD
	EstimatedHours float64
	HourlyRate     float64 // USD
	Provider       string
	Raw            string
}

// Scorer evaluates a scoring payload against a system prompt and returns a
// structured result. Implementations wrap one LLM provider each.
type Scorer interface {
	Name() string
	Score(ctx context.Context, system, payload string) (*ScoreResult, error)
}

// Generator produces free-form text for a prompt. Used by the proposal
// generator through a priority-ordered provider chain.
type Generator interface {
	Name() string
	GenerateContent(ctx context.Context, prompt string) (string, error)
}
