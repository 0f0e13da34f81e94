package scoring

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/antonk9218/fl-bidder/internal/freelancer"

	"go.uber.org/zap"
)

// Weights distribute the six sub-scores into the total. They are expected
// to sum to 1.0; a mismatch is logged, not fatal.
type Weights struct {
	BudgetEfficiency float64 `mapstructure:"budget-efficiency"`
	Competition      float64 `mapstructure:"competition"`
	Clarity          float64 `mapstructure:"clarity"`
	Customer         float64 `mapstructure:"customer"`
	Tech             float64 `mapstructure:"tech"`
	Risk             float64 `mapstructure:"risk"`
}

// DefaultWeights is the balanced preset.
func DefaultWeights() Weights {
	return Weights{
		BudgetEfficiency: 0.15,
		Competition:      0.25,
		Clarity:          0.25,
		Customer:         0.20,
		Tech:             0.10,
		Risk:             0.05,
	}
}

// WinRateWeights emphasizes budget attractiveness and technical fit.
func WinRateWeights() Weights {
	return Weights{
		BudgetEfficiency: 0.35,
		Competition:      0.05,
		Clarity:          0.20,
		Customer:         0.15,
		Tech:             0.20,
		Risk:             0.05,
	}
}

// CompletionRateWeights emphasizes requirement clarity and client trust.
func CompletionRateWeights() Weights {
	return Weights{
		BudgetEfficiency: 0.15,
		Competition:      0.05,
		Clarity:          0.30,
		Customer:         0.20,
		Tech:             0.25,
		Risk:             0.05,
	}
}

func (w Weights) sum() float64 {
	return w.BudgetEfficiency + w.Competition + w.Clarity + w.Customer + w.Tech + w.Risk
}

// WeightsByPreset resolves a named preset, defaulting to the balanced set.
func WeightsByPreset(name string) Weights {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "win-rate":
		return WinRateWeights()
	case "completion-rate":
		return CompletionRateWeights()
	default:
		return DefaultWeights()
	}
}

// Config tunes the scorer.
type Config struct {
	Weights               Weights
	MinHours              float64
	MaxHours              float64
	HighRiskThreshold     float64
	RiskPenaltyMultiplier float64
	Skills                []string
}

// DefaultConfig returns a config with the balanced weight preset.
func DefaultConfig() Config {
	return Config{
		Weights:               DefaultWeights(),
		MinHours:              5,
		MaxHours:              200,
		HighRiskThreshold:     60,
		RiskPenaltyMultiplier: 0.5,
	}
}

// Breakdown holds the six sub-scores, each in [0,10].
type Breakdown struct {
	BudgetEfficiency float64
	Competition      float64
	Clarity          float64
	Customer         float64
	Tech             float64
	Risk             float64
}

// Result is the deterministic scoring outcome.
type Result struct {
	Score          float64
	Grade          string
	Reason         string
	Breakdown      Breakdown
	EstimatedHours float64
	HourlyRate     float64 // USD
}

type converter interface {
	ToUSD(amount float64, code string) (float64, bool)
}

// Scorer computes the 0-10 baseline score from locally available fields.
// Pure apart from the currency lookup; never touches the network.
type Scorer struct {
	cfg    Config
	conv   converter
	logger *zap.Logger
	now    func() time.Time
}

func New(cfg Config, conv converter, logger *zap.Logger) *Scorer {
	if cfg.MinHours <= 0 {
		cfg.MinHours = 5
	}
	if cfg.MaxHours <= 0 {
		cfg.MaxHours = 200
	}
	if cfg.HighRiskThreshold <= 0 {
		cfg.HighRiskThreshold = 60
	}
	if cfg.RiskPenaltyMultiplier <= 0 {
		cfg.RiskPenaltyMultiplier = 0.5
	}
	if cfg.Weights.sum() == 0 {
		cfg.Weights = DefaultWeights()
	}

	if sum := cfg.Weights.sum(); math.Abs(sum-1.0) > 1e-6 {
		logger.Warn("scoring weights do not sum to 1.0", zap.Float64("sum", sum))
	}

	return &Scorer{cfg: cfg, conv: conv, logger: logger, now: time.Now}
}

// Score evaluates the project snapshot.
func (s *Scorer) Score(p *freelancer.Project) *Result {
	hours := s.EstimateHours(p)

	budgetScore, rate := s.budgetEfficiency(p, hours)

	b := Breakdown{
		BudgetEfficiency: budgetScore,
		Competition:      s.competition(p),
		Clarity:          s.clarity(p),
		Customer:         s.customer(p),
		Tech:             s.techFit(p),
		Risk:             s.risk(p),
	}

	w := s.cfg.Weights
	total := b.BudgetEfficiency*w.BudgetEfficiency +
		b.Competition*w.Competition +
		b.Clarity*w.Clarity +
		b.Customer*w.Customer +
		b.Tech*w.Tech +
		b.Risk*w.Risk

	// High client risk suppresses the whole score, not just the risk
	// dimension: an attractive project from a risky client is still a
	// project we should not bid on.
	if p.ClientRiskScore != nil && *p.ClientRiskScore > s.cfg.HighRiskThreshold {
		total *= s.cfg.RiskPenaltyMultiplier
	}

	total = clamp(total, 0, 10)

	return &Result{
		Score:          total,
		Grade:          grade(total),
		Reason:         reason(total, b),
		Breakdown:      b,
		EstimatedHours: hours,
		HourlyRate:     rate,
	}
}

// budgetEfficiency maps the implied hourly rate onto a curve peaking in the
// $20-60/h sweet spot. High rates are penalized for low win probability,
// not inefficiency.
func (s *Scorer) budgetEfficiency(p *freelancer.Project, hours float64) (score, rate float64) {
	avgUSD, ok := s.conv.ToUSD(p.AvgBudget(), p.CurrencyCode)
	if !ok || hours <= 0 {
		return 5.0, 0
	}

	if p.Hourly() {
		rate = avgUSD
	} else {
		rate = avgUSD / hours
	}

	switch {
	case rate >= 80:
		score = math.Max(4.0, 6.0-(rate-80)/40*2)
	case rate >= 60:
		score = 6.0 + (80-rate)/20*2
	case rate >= 20:
		score = 8.0 + (rate-20)/40*2
	case rate >= 15:
		score = 6.0 + (rate-15)/5*2
	default:
		score = math.Max(0, rate/15*6)
	}

	return clamp(score, 0, 10), rate
}

// competition maps bid count into bands. Very few bidders on an open
// project usually means something is off with it.
func (s *Scorer) competition(p *freelancer.Project) float64 {
	var score float64
	switch {
	case p.BidCount <= 4:
		score = 2.0
	case p.BidCount <= 20:
		score = 10.0
	case p.BidCount <= 40:
		score = 6.0
	default:
		score = 2.0
	}

	if !p.SubmitDate.IsZero() && s.now().Sub(p.SubmitDate) < 24*time.Hour {
		score += 1.0
	}

	return clamp(score, 0, 10)
}

func (s *Scorer) clarity(p *freelancer.Project) float64 {
	text := strings.ToLower(p.Text())
	desc := p.Description
	if desc == "" {
		desc = p.PreviewDescription
	}

	var score float64

	if containsAny(text, deliverableKeywords) {
		score += 3.0
	}
	if containsAny(text, acceptanceKeywords) {
		score += 2.5
	}

	techHits := countMatches(text, techKeywords)
	score += math.Min(float64(techHits)*0.5, 2.5)

	vaguePenalty := math.Min(float64(countMatches(text, vagueKeywords))*0.5, 1.5)
	score += 1.5 - vaguePenalty

	switch {
	case len(desc) < 200:
		score -= 2.0
	case len(desc) > 1000 && techHits == 0:
		score -= 1.0
	default:
		score += 0.5
	}

	return clamp(score, 0, 10)
}

func (s *Scorer) customer(p *freelancer.Project) float64 {
	if p.Owner == nil {
		return 3.0
	}

	score := 7.0
	owner := p.Owner

	if !owner.PaymentVerified {
		score -= 5.0
	}
	if owner.JobsPosted > 0 && owner.HireRate() < 0.30 {
		score -= 3.0
	}
	if owner.JobsPosted == 0 {
		score -= 4.0
	}
	if owner.Online {
		score += 2.0
	}
	switch {
	case owner.Rating >= 4.5:
		score += 3.0
	case owner.Rating >= 4.0:
		score += 1.5
	}

	return clamp(score, 0, 10)
}

func (s *Scorer) techFit(p *freelancer.Project) float64 {
	if len(s.cfg.Skills) == 0 {
		return 0
	}

	text := strings.ToLower(p.Text())
	for _, skill := range p.Skills {
		text += " " + strings.ToLower(skill)
	}

	matched := 0
	for _, skill := range s.cfg.Skills {
		if strings.Contains(text, strings.ToLower(skill)) {
			matched++
		}
	}

	switch {
	case matched >= 3:
		return 10
	case matched == 2:
		return 7
	case matched == 1:
		return 4
	default:
		return 0
	}
}

// risk uses the external client risk score when supplied (0-100, higher is
// riskier), otherwise a trust-signal heuristic.
func (s *Scorer) risk(p *freelancer.Project) float64 {
	if p.ClientRiskScore != nil {
		return clamp((100-*p.ClientRiskScore)/10, 0, 10)
	}

	score := 7.0
	if p.Owner != nil {
		if p.Owner.EmailVerified {
			score += 1.5
		}
		if p.Owner.PaymentVerified {
			score += 1.5
		}
		switch {
		case p.Owner.JobsPosted == 0:
			score -= 3.0
		case p.Owner.JobsPosted < 5:
			score -= 1.0
		}
	}

	return clamp(score, 0, 10)
}

func grade(score float64) string {
	switch {
	case score >= 8:
		return "S"
	case score >= 6:
		return "A"
	case score >= 4:
		return "B"
	case score >= 2:
		return "C"
	default:
		return "D"
	}
}

func reason(total float64, b Breakdown) string {
	dims := []struct {
		name  string
		value float64
	}{
		{"budget efficiency", b.BudgetEfficiency},
		{"competition", b.Competition},
		{"requirement clarity", b.Clarity},
		{"customer trust", b.Customer},
		{"technical fit", b.Tech},
		{"risk", b.Risk},
	}

	best, worst := dims[0], dims[0]
	for _, d := range dims[1:] {
		if d.value > best.value {
			best = d
		}
		if d.value < worst.value {
			worst = d
		}
	}

	return fmt.Sprintf("grade %s (%.1f/10): strongest %s (%.1f), weakest %s (%.1f)",
		grade(total), total, best.name, best.value, worst.name, worst.value)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func countMatches(text string, keywords []string) int {
	count := 0
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			count++
		}
	}
	return count
}
