package scoring

import (
	"strings"

	"github.com/antonk9218/fl-bidder/internal/freelancer"
)

const baseHours = 5.0

var (
	deliverableKeywords = []string{"deliverable", "milestone", "scope of work", "requirements", "specification"}
	acceptanceKeywords  = []string{"acceptance", "criteria", "definition of done", "must have", "must-have"}
	vagueKeywords       = []string{"guru", "ninja", "rockstar", "asap", "urgent", "easy money", "best price", "amazing"}
	smallTaskKeywords   = []string{"fix", "bug", "small", "tweak", "script", "update"}
	mlKeywords          = []string{"machine learning", "deep learning", "llm", "gpt", "openai", "classification", "nlp"}

	techKeywords = []string{
		"python", "golang", "go ", "javascript", "typescript", "react", "vue", "node",
		"django", "fastapi", "flask", "postgresql", "mysql", "mongodb", "redis",
		"docker", "kubernetes", "aws", "gcp", "api", "rest", "graphql", "webhook",
		"scraping", "selenium", "playwright", "telegram", "stripe", "oauth",
	}
)

// EstimateHours derives an effort estimate from title/description keyword
// heuristics, clamped into the configured hour range.
func (s *Scorer) EstimateHours(p *freelancer.Project) float64 {
	title := strings.ToLower(p.Title)
	combined := strings.ToLower(p.Text())

	hours := baseHours

	switch {
	case containsAny(title, []string{"mobile", "app", "ios", "android"}):
		hours += 80
	case containsAny(combined, []string{"mobile", "app", "ios", "android"}):
		hours += 40
	}

	switch {
	case containsAny(title, []string{"website", "full stack", "fullstack"}):
		hours += 40
	case strings.Contains(combined, "web"):
		hours += 20
	}

	if containsAny(title, []string{"api", "integration"}) {
		hours += 20
	}
	if containsAny(combined, []string{"scraping", "scraper", "crawler"}) {
		hours += 15
	}
	if containsAny(combined, []string{"automation", "bot"}) {
		hours += 20
	}

	switch {
	case containsAny(combined, []string{"multimodal", "agent"}):
		hours += 40
	case containsAny(combined, mlKeywords):
		hours += 30
	}

	if containsAny(combined, []string{"n8n", "workflow"}) {
		hours += 15
	}

	// Maintenance-style wording shrinks the estimate sharply.
	switch countMatches(combined, smallTaskKeywords) {
	case 0:
	case 1:
		hours *= 0.3
	case 2:
		hours *= 0.2
	default:
		hours *= 0.1
	}

	lo := s.cfg.MinHours
	if lo < 1 {
		lo = 1
	}
	hi := s.cfg.MaxHours
	if hi > 200 {
		hi = 200
	}

	return clamp(hours, lo, hi)
}
