package orchestra

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antonk9218/fl-bidder/internal/ai"
	"github.com/antonk9218/fl-bidder/internal/freelancer"
	"github.com/antonk9218/fl-bidder/internal/scoring"

	"go.uber.org/zap"
)

type fakeProvider struct {
	name      string
	result    ai.ScoreResult
	err       error
	delay     time.Duration
	calls     atomic.Int32
	cancelled atomic.Bool
}

func (f *fakeProvider) Name() string { return f.name }

func (f *fakeProvider) Score(ctx context.Context, _, _ string) (*ai.ScoreResult, error) {
	f.calls.Add(1)

	if f.delay > 0 {
		select {
		case <-ctx.Done():
			f.cancelled.Store(true)
			return nil, ctx.Err()
		case <-time.After(f.delay):
		}
	}

	if f.err != nil {
		return nil, f.err
	}

	result := f.result
	result.Provider = f.name
	return &result, nil
}

type stubConverter struct{}

func (stubConverter) ToUSD(amount float64, code string) (float64, bool) {
	if code == "" || code == "USD" {
		return amount, true
	}
	return 0, false
}

type recordingStore struct {
	saved []*freelancer.Project
}

func (s *recordingStore) SaveScore(p *freelancer.Project) error {
	s.saved = append(s.saved, p)
	return nil
}

func testProject() *freelancer.Project {
	return &freelancer.Project{
		ID:           42,
		Title:        "Build a REST api integration",
		Description:  "Integrate a payment provider via REST api with webhook callbacks.",
		Type:         "fixed",
		CurrencyCode: "USD",
		BudgetMin:    100,
		BudgetMax:    300,
		BidCount:     10,
	}
}

func newTestOrchestrator(t *testing.T, cfg Config, providers ...ai.Scorer) (*Orchestrator, *recordingStore) {
	t.Helper()

	baseline := scoring.New(scoring.DefaultConfig(), stubConverter{}, zap.NewNop())
	store := &recordingStore{}
	cache := NewCache(t.TempDir(), time.Hour, zap.NewNop())

	return New(cfg, providers, baseline, stubConverter{}, cache, store, zap.NewNop()), store
}

func TestRaceReturnsFastestAndCancelsSlow(t *testing.T) {
	fast := &fakeProvider{name: "fast", delay: 10 * time.Millisecond, result: ai.ScoreResult{Score: 8.0, Reason: "fast"}}
	slow := &fakeProvider{name: "slow", delay: 500 * time.Millisecond, result: ai.ScoreResult{Score: 6.0, Reason: "slow"}}

	cfg := DefaultConfig()
	cfg.Strategy = StrategyRace
	o, _ := newTestOrchestrator(t, cfg, fast, slow)

	result, err := o.race(context.Background(), "{}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Score != 8.0 {
		t.Fatalf("race winner score = %v, want 8.0", result.Score)
	}
	if !slow.cancelled.Load() {
		t.Fatal("slow provider was not observed as cancelled")
	}
}

func TestRaceAllFailed(t *testing.T) {
	a := &fakeProvider{name: "a", err: errors.New("down")}
	b := &fakeProvider{name: "b", err: errors.New("down")}

	cfg := DefaultConfig()
	cfg.Strategy = StrategyRace
	o, _ := newTestOrchestrator(t, cfg, a, b)

	if _, err := o.race(context.Background(), "{}"); !errors.Is(err, errAllProvidersFailed) {
		t.Fatalf("error = %v, want errAllProvidersFailed", err)
	}
}

func TestEnsembleAveragesExactly(t *testing.T) {
	a := &fakeProvider{name: "a", result: ai.ScoreResult{Score: 6.0, Reason: "cautious", SuggestedBid: 200, EstimatedHours: 10, HourlyRate: 20}}
	b := &fakeProvider{name: "b", result: ai.ScoreResult{Score: 8.0, Reason: "keen", SuggestedBid: 280, EstimatedHours: 20, HourlyRate: 14}}

	o, _ := newTestOrchestrator(t, DefaultConfig(), a, b)

	result, err := o.ensemble(context.Background(), "{}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Score != 7.0 {
		t.Fatalf("ensemble score = %v, want exactly 7.0", result.Score)
	}
	if result.SuggestedBid != 240 {
		t.Fatalf("median suggested bid = %v, want 240", result.SuggestedBid)
	}
	if result.EstimatedHours != 15 {
		t.Fatalf("mean hours = %v, want 15", result.EstimatedHours)
	}
}

func TestEnsembleToleratesPartialFailure(t *testing.T) {
	ok := &fakeProvider{name: "ok", result: ai.ScoreResult{Score: 5.0, Reason: "fine"}}
	bad := &fakeProvider{name: "bad", err: errors.New("timeout")}

	o, _ := newTestOrchestrator(t, DefaultConfig(), ok, bad)

	result, err := o.ensemble(context.Background(), "{}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Score != 5.0 {
		t.Fatalf("score = %v, want 5.0 from the surviving provider", result.Score)
	}
}

func TestEnsembleDivergenceNote(t *testing.T) {
	low := &fakeProvider{name: "low", result: ai.ScoreResult{Score: 2.0, Reason: "weak"}}
	high := &fakeProvider{name: "high", result: ai.ScoreResult{Score: 9.0, Reason: "strong"}}

	o, _ := newTestOrchestrator(t, DefaultConfig(), low, high)

	result, err := o.ensemble(context.Background(), "{}")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !strings.Contains(result.Reason, divergenceNote) {
		t.Fatalf("reason %q lacks divergence note", result.Reason)
	}
}

func TestScoreOnePersistsAndCaches(t *testing.T) {
	provider := &fakeProvider{name: "solo", result: ai.ScoreResult{Score: 7.0, Reason: "good", SuggestedBid: 250, EstimatedHours: 20, HourlyRate: 10}}

	cfg := DefaultConfig()
	cfg.Strategy = StrategySingle
	o, store := newTestOrchestrator(t, cfg, provider)

	p := testProject()
	first, err := o.ScoreOne(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if p.AIScore != first.Score {
		t.Fatalf("project score = %v, want %v", p.AIScore, first.Score)
	}
	if len(store.saved) != 1 {
		t.Fatalf("saved %d times, want 1", len(store.saved))
	}

	// Second call must hit the cache, not the provider.
	second := testProject()
	if _, err := o.ScoreOne(context.Background(), second); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls := provider.calls.Load(); calls != 1 {
		t.Fatalf("provider called %d times, want 1", calls)
	}
	if second.AIScore != first.Score {
		t.Fatalf("cached score = %v, want %v", second.AIScore, first.Score)
	}
}

func TestScoreOneRetriesThenFails(t *testing.T) {
	provider := &fakeProvider{name: "flaky", err: errors.New("always down")}

	cfg := DefaultConfig()
	cfg.Strategy = StrategySingle
	cfg.MaxRetries = 1
	cfg.RetryDelay = time.Millisecond
	o, store := newTestOrchestrator(t, cfg, provider)

	p := testProject()
	if _, err := o.ScoreOne(context.Background(), p); err == nil {
		t.Fatal("expected error after exhausting retries")
	}

	if calls := provider.calls.Load(); calls != 2 {
		t.Fatalf("provider called %d times, want 2", calls)
	}
	// No partial state may be written for failed attempts.
	if len(store.saved) != 0 {
		t.Fatalf("saved %d times, want 0", len(store.saved))
	}
	if p.AIScore != 0 {
		t.Fatalf("project score = %v, want untouched 0", p.AIScore)
	}
}

func TestReconcileCorrectsNumbers(t *testing.T) {
	// Hours missing and suggested bid far above budget.
	provider := &fakeProvider{name: "wild", result: ai.ScoreResult{Score: 6.0, Reason: "r", SuggestedBid: 1000, EstimatedHours: 0, HourlyRate: 500}}

	cfg := DefaultConfig()
	cfg.Strategy = StrategySingle
	o, _ := newTestOrchestrator(t, cfg, provider)

	p := testProject()
	result, err := o.ScoreOne(context.Background(), p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.EstimatedHours <= 0 {
		t.Fatal("estimated hours not backfilled from baseline")
	}
	if result.SuggestedBid != 300 {
		t.Fatalf("suggested bid = %v, want clamped to 300", result.SuggestedBid)
	}
	if result.HourlyRate < 10 || result.HourlyRate > 200 {
		t.Fatalf("hourly rate = %v, want within [10,200]", result.HourlyRate)
	}
}

func TestScoreBatchSummary(t *testing.T) {
	good := &fakeProvider{name: "good", result: ai.ScoreResult{Score: 9.0, Reason: "great", EstimatedHours: 10}}

	cfg := DefaultConfig()
	cfg.Strategy = StrategySingle
	cfg.BatchSize = 2
	cfg.BatchDelay = time.Millisecond
	o, _ := newTestOrchestrator(t, cfg, good)

	projects := []*freelancer.Project{testProject(), testProject(), testProject()}
	projects[1].ID = 43
	projects[2].ID = 44

	summary := o.ScoreBatch(context.Background(), projects)
	if summary.Scored != 3 {
		t.Fatalf("scored = %d, want 3", summary.Scored)
	}
	if summary.Errors != 0 {
		t.Fatalf("errors = %d, want 0", summary.Errors)
	}
	if summary.TopScore == 0 || summary.TopID == 0 {
		t.Fatalf("top entry not recorded: %+v", summary)
	}
}
