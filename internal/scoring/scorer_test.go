package scoring

import (
	"testing"
	"time"

	"github.com/antonk9218/fl-bidder/internal/freelancer"

	"go.uber.org/zap"
)

type stubConverter struct {
	rates map[string]float64
}

func (c *stubConverter) ToUSD(amount float64, code string) (float64, bool) {
	if code == "" || code == "USD" {
		return amount, true
	}
	rate, ok := c.rates[code]
	if !ok {
		return 0, false
	}
	return amount * rate, true
}

func usdConverter() *stubConverter {
	return &stubConverter{rates: map[string]float64{"INR": 0.012}}
}

func newTestScorer(t *testing.T) *Scorer {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Skills = []string{"python", "react", "api", "scraping", "automation"}

	return New(cfg, usdConverter(), zap.NewNop())
}

func goodFixture() *freelancer.Project {
	return &freelancer.Project{
		ID:    101,
		Title: "Build a web scraping service with API access",
		Description: "We need a scraping service built in Python with a REST api. " +
			"Deliverables: a deployed service, documentation, and tests. " +
			"Acceptance criteria: handles pagination, retries, and exports to CSV. " +
			"The data source is a public catalog updated daily.",
		Status:       "active",
		Type:         "fixed",
		CurrencyCode: "USD",
		BudgetMin:    100,
		BudgetMax:    300,
		BidCount:     10,
		Owner: &freelancer.Owner{
			PaymentVerified: true,
			EmailVerified:   true,
			JobsPosted:      10,
			JobsHired:       5,
			Rating:          4.6,
			Online:          true,
		},
	}
}

func TestScoreBounds(t *testing.T) {
	s := newTestScorer(t)
	risk := 95.0

	fixtures := []*freelancer.Project{
		goodFixture(),
		{ID: 1, Title: "x", Description: "short", CurrencyCode: "USD"},
		{ID: 2, Title: "Urgent fix asap", Description: "need guru ninja rockstar best price", BidCount: 70, CurrencyCode: "XXX"},
		{ID: 3, Title: "Mobile app for iOS and Android", Description: string(make([]byte, 1200)), BudgetMin: 50000, BudgetMax: 90000, CurrencyCode: "USD", BidCount: 3},
		{ID: 4, Title: "Hourly automation work", Type: "hourly", BudgetMin: 10, BudgetMax: 20, CurrencyCode: "USD", ClientRiskScore: &risk},
	}

	for _, p := range fixtures {
		result := s.Score(p)
		if result.Score < 0 || result.Score > 10 {
			t.Fatalf("project %d: score %v out of bounds", p.ID, result.Score)
		}

		subs := []float64{
			result.Breakdown.BudgetEfficiency,
			result.Breakdown.Competition,
			result.Breakdown.Clarity,
			result.Breakdown.Customer,
			result.Breakdown.Tech,
			result.Breakdown.Risk,
		}
		for i, sub := range subs {
			if sub < 0 || sub > 10 {
				t.Fatalf("project %d: sub-score %d = %v out of bounds", p.ID, i, sub)
			}
		}
	}
}

func TestGoodFixtureLandsInUpperBand(t *testing.T) {
	s := newTestScorer(t)

	result := s.Score(goodFixture())
	if result.Score < 6 || result.Score > 9 {
		t.Fatalf("score = %v, want within [6,9]", result.Score)
	}
	if result.Grade != "S" && result.Grade != "A" {
		t.Fatalf("grade = %s, want S or A", result.Grade)
	}
	if result.EstimatedHours <= 0 {
		t.Fatalf("estimated hours = %v, want > 0", result.EstimatedHours)
	}
}

func TestHighClientRiskSuppressesTotal(t *testing.T) {
	s := newTestScorer(t)

	baseline := s.Score(goodFixture())

	risky := goodFixture()
	riskScore := 80.0
	risky.ClientRiskScore = &riskScore

	result := s.Score(risky)
	if result.Score >= baseline.Score {
		t.Fatalf("risky score %v should be below baseline %v", result.Score, baseline.Score)
	}

	// The multiplier hits the total, not only the risk dimension.
	want := (baseline.Score - baseline.Breakdown.Risk*s.cfg.Weights.Risk + result.Breakdown.Risk*s.cfg.Weights.Risk) * s.cfg.RiskPenaltyMultiplier
	if diff := result.Score - want; diff > 1e-9 || diff < -1e-9 {
		t.Fatalf("risky score = %v, want %v", result.Score, want)
	}
}

func TestCompetitionBands(t *testing.T) {
	s := newTestScorer(t)

	tests := []struct {
		bids int
		want float64
	}{
		{2, 2.0},
		{10, 10.0},
		{30, 6.0},
		{60, 2.0},
	}

	for _, tt := range tests {
		p := &freelancer.Project{BidCount: tt.bids}
		if got := s.competition(p); got != tt.want {
			t.Fatalf("competition(%d bids) = %v, want %v", tt.bids, got, tt.want)
		}
	}

	fresh := &freelancer.Project{BidCount: 10, SubmitDate: time.Now().Add(-time.Hour)}
	if got := s.competition(fresh); got != 10 {
		t.Fatalf("fresh project competition = %v, want capped at 10", got)
	}

	freshMid := &freelancer.Project{BidCount: 30, SubmitDate: time.Now().Add(-time.Hour)}
	if got := s.competition(freshMid); got != 7 {
		t.Fatalf("fresh mid-band competition = %v, want 7", got)
	}
}

func TestEstimateHoursSmallTaskMultiplier(t *testing.T) {
	s := newTestScorer(t)

	big := &freelancer.Project{Title: "Build a mobile app for iOS", Description: "native app"}
	if got := s.EstimateHours(big); got != 85 {
		t.Fatalf("mobile title hours = %v, want 85", got)
	}

	small := &freelancer.Project{Title: "Fix small bug", Description: "one-line tweak in a script"}
	// Heavy small-task wording collapses to the configured minimum.
	if got := s.EstimateHours(small); got != s.cfg.MinHours {
		t.Fatalf("small task hours = %v, want %v", got, s.cfg.MinHours)
	}
}

func TestHourlyProjectUsesBudgetAsRate(t *testing.T) {
	s := newTestScorer(t)

	p := &freelancer.Project{
		Title:        "Hourly data entry automation",
		Description:  "ongoing automation work with python scripts",
		Type:         "hourly",
		CurrencyCode: "USD",
		BudgetMin:    30,
		BudgetMax:    50,
	}

	_, rate := s.budgetEfficiency(p, s.EstimateHours(p))
	if rate != 40 {
		t.Fatalf("hourly rate = %v, want 40 (avg budget)", rate)
	}
}

func TestUnknownCurrencyFallsBackToNeutral(t *testing.T) {
	s := newTestScorer(t)

	p := &freelancer.Project{CurrencyCode: "XXX", BudgetMin: 100, BudgetMax: 200}
	score, rate := s.budgetEfficiency(p, 10)
	if score != 5.0 || rate != 0 {
		t.Fatalf("unconvertible budget = (%v, %v), want (5.0, 0)", score, rate)
	}
}

func TestWeightsByPreset(t *testing.T) {
	if w := WeightsByPreset("win-rate"); w != WinRateWeights() {
		t.Fatal("win-rate preset mismatch")
	}
	if w := WeightsByPreset(""); w != DefaultWeights() {
		t.Fatal("default preset mismatch")
	}
}
