// Package orchestra fans scoring requests out to the configured LLM
// providers, combines the results by strategy, and reconciles the numbers
// against locally computed ground truth.
package orchestra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	_ "embed"

	"github.com/antonk9218/fl-bidder/internal/ai"
	"github.com/antonk9218/fl-bidder/internal/freelancer"
	"github.com/antonk9218/fl-bidder/internal/scoring"
	"github.com/antonk9218/fl-bidder/internal/utils"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

//go:embed score_prompt.md
var defaultSystemPrompt string

const (
	StrategyEnsemble = "ensemble"
	StrategyRace     = "race"
	StrategySingle   = "single"
)

var errAllProvidersFailed = errors.New("all providers failed")

// Config tunes the orchestrator.
type Config struct {
	Strategy     string
	BatchSize    int
	BatchDelay   time.Duration
	MaxRetries   int
	RetryDelay   time.Duration
	CallTimeout  time.Duration
	Concurrency  int
	SystemPrompt string
}

// DefaultConfig mirrors the production defaults.
func DefaultConfig() Config {
	return Config{
		Strategy:    StrategyEnsemble,
		BatchSize:   5,
		BatchDelay:  500 * time.Millisecond,
		MaxRetries:  2,
		RetryDelay:  time.Second,
		CallTimeout: 30 * time.Second,
		Concurrency: 4,
	}
}

// Summary reports the outcome of a batch run.
type Summary struct {
	Scored   int
	Errors   int
	TopScore float64
	TopID    int64
}

type converter interface {
	ToUSD(amount float64, code string) (float64, bool)
}

// scoreStore persists successful scoring output onto the project record.
type scoreStore interface {
	SaveScore(p *freelancer.Project) error
}

// Orchestrator coordinates concurrent provider calls for one or many
// projects.
type Orchestrator struct {
	cfg       Config
	providers []ai.Scorer
	baseline  *scoring.Scorer
	conv      converter
	cache     *Cache
	store     scoreStore
	logger    *zap.Logger
}

// New wires an orchestrator. store may be nil when persistence is handled
// by the caller; providers must already be priority-ordered.
func New(cfg Config, providers []ai.Scorer, baseline *scoring.Scorer, conv converter, cache *Cache, store scoreStore, logger *zap.Logger) *Orchestrator {
	if cfg.Strategy == "" {
		cfg.Strategy = StrategyEnsemble
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 2
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 30 * time.Second
	}
	if strings.TrimSpace(cfg.SystemPrompt) == "" {
		cfg.SystemPrompt = defaultSystemPrompt
	}

	return &Orchestrator{
		cfg:       cfg,
		providers: providers,
		baseline:  baseline,
		conv:      conv,
		cache:     cache,
		store:     store,
		logger:    logger,
	}
}

// ScoreOne runs the full scoring attempt for a single project: cache
// check, fan-out, aggregation, retries, reconciliation, persistence.
func (o *Orchestrator) ScoreOne(ctx context.Context, p *freelancer.Project) (*ai.ScoreResult, error) {
	if len(o.providers) == 0 {
		return nil, errors.New("no scoring providers configured")
	}

	payload, err := o.normalizePayload(p)
	if err != nil {
		return nil, fmt.Errorf("build scoring payload: %w", err)
	}

	key := Key(payload, o.cfg.SystemPrompt)
	if o.cache != nil {
		if cached, ok := o.cache.Get(key); ok {
			o.logger.Debug("scoring cache hit", zap.Int64("project_id", p.ID))
			o.apply(p, cached)
			return cached, nil
		}
	}

	var result *ai.ScoreResult
	for attempt := 0; ; attempt++ {
		result, err = o.fanOut(ctx, payload)
		if err == nil {
			break
		}

		if attempt >= o.cfg.MaxRetries {
			return nil, err
		}

		o.logger.Warn("scoring fan-out failed, retrying",
			zap.Int64("project_id", p.ID),
			zap.Int("attempt", attempt+1),
			zap.Error(err),
		)
		if waitErr := utils.WaitFor(ctx, time.Duration(attempt+1)*o.cfg.RetryDelay); waitErr != nil {
			return nil, waitErr
		}
	}

	o.reconcile(p, result)
	o.apply(p, result)

	if o.store != nil {
		if err := o.store.SaveScore(p); err != nil {
			return nil, fmt.Errorf("persist score: %w", err)
		}
	}

	if o.cache != nil {
		o.cache.Set(key, result)
	}

	return result, nil
}

// ScoreBatch processes projects in fixed-size batches with a delay in
// between to smooth provider rate limits. A failing member never blocks
// the rest.
func (o *Orchestrator) ScoreBatch(ctx context.Context, projects []*freelancer.Project) Summary {
	summary := Summary{}
	var mu sync.Mutex

	for start := 0; start < len(projects); start += o.cfg.BatchSize {
		end := start + o.cfg.BatchSize
		if end > len(projects) {
			end = len(projects)
		}

		g, groupCtx := errgroup.WithContext(ctx)
		g.SetLimit(o.cfg.Concurrency)

		for _, p := range projects[start:end] {
			g.Go(func() error {
				result, err := o.ScoreOne(groupCtx, p)

				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					summary.Errors++
					o.logger.Warn("project left unscored",
						zap.Int64("project_id", p.ID),
						zap.Error(err),
					)
					return nil
				}

				summary.Scored++
				if result.Score > summary.TopScore {
					summary.TopScore = result.Score
					summary.TopID = p.ID
				}
				return nil
			})
		}

		// Members only report, never fail the group.
		_ = g.Wait()

		if end < len(projects) {
			if err := utils.WaitFor(ctx, o.cfg.BatchDelay); err != nil {
				break
			}
		}
	}

	return summary
}

func (o *Orchestrator) fanOut(ctx context.Context, payload string) (*ai.ScoreResult, error) {
	switch o.cfg.Strategy {
	case StrategyRace:
		return o.race(ctx, payload)
	case StrategySingle:
		return o.callProvider(ctx, o.providers[0], payload)
	default:
		return o.ensemble(ctx, payload)
	}
}

// ensemble waits for every provider, tolerating individual failures, and
// averages the successful results.
func (o *Orchestrator) ensemble(ctx context.Context, payload string) (*ai.ScoreResult, error) {
	results := make([]*ai.ScoreResult, len(o.providers))

	g, groupCtx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.Concurrency)

	for i, provider := range o.providers {
		g.Go(func() error {
			result, err := o.callProvider(groupCtx, provider, payload)
			if err != nil {
				o.logger.Warn("provider failed in ensemble",
					zap.String("provider", provider.Name()),
					zap.Error(err),
				)
				return nil
			}
			results[i] = result
			return nil
		})
	}
	_ = g.Wait()

	succeeded := make([]*ai.ScoreResult, 0, len(results))
	for _, r := range results {
		if r != nil {
			succeeded = append(succeeded, r)
		}
	}

	if len(succeeded) == 0 {
		return nil, errAllProvidersFailed
	}

	return combineEnsemble(succeeded), nil
}

// race returns the first successful result and cancels the rest. Every
// in-flight task is awaited before returning so no work outlives the call.
func (o *Orchestrator) race(ctx context.Context, payload string) (*ai.ScoreResult, error) {
	raceCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	type outcome struct {
		result *ai.ScoreResult
		err    error
	}

	outcomes := make(chan outcome, len(o.providers))
	var wg sync.WaitGroup

	for _, provider := range o.providers {
		wg.Add(1)
		go func(provider ai.Scorer) {
			defer wg.Done()
			result, err := o.callProvider(raceCtx, provider, payload)
			outcomes <- outcome{result: result, err: err}
		}(provider)
	}

	var winner *ai.ScoreResult
	for range o.providers {
		out := <-outcomes
		if out.err == nil && out.result != nil {
			winner = out.result
			break
		}
	}

	// Cancel the losers and wait for all of them to finish before
	// returning, so no goroutine keeps running after the caller moves on.
	cancel()
	wg.Wait()

	if winner == nil {
		return nil, errAllProvidersFailed
	}

	return winner, nil
}

func (o *Orchestrator) callProvider(ctx context.Context, provider ai.Scorer, payload string) (*ai.ScoreResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.cfg.CallTimeout)
	defer cancel()

	return provider.Score(callCtx, o.cfg.SystemPrompt, payload)
}

// scoringPayload is what providers see: budgets pre-converted to USD with
// the original currency preserved for context.
type scoringPayload struct {
	ID               int64    `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	Type             string   `json:"type"`
	BudgetMinimum    float64  `json:"budget_minimum"`
	BudgetMaximum    float64  `json:"budget_maximum"`
	CurrencyCode     string   `json:"currency_code"`
	OriginalCurrency string   `json:"original_currency,omitempty"`
	BidCount         int      `json:"bid_count"`
	Skills           []string `json:"skills,omitempty"`
}

func (o *Orchestrator) normalizePayload(p *freelancer.Project) (string, error) {
	payload := scoringPayload{
		ID:            p.ID,
		Title:         p.Title,
		Description:   p.Description,
		Type:          p.Type,
		BudgetMinimum: p.BudgetMin,
		BudgetMaximum: p.BudgetMax,
		CurrencyCode:  p.CurrencyCode,
		BidCount:      p.BidCount,
		Skills:        p.Skills,
	}

	if code := p.CurrencyCode; code != "" && code != "USD" {
		minUSD, okMin := o.conv.ToUSD(p.BudgetMin, code)
		maxUSD, okMax := o.conv.ToUSD(p.BudgetMax, code)
		if okMin && okMax {
			payload.BudgetMinimum = round2(minUSD)
			payload.BudgetMaximum = round2(maxUSD)
			payload.CurrencyCode = "USD"
			payload.OriginalCurrency = code
		} else {
			o.logger.Warn("scoring payload keeps native currency",
				zap.Int64("project_id", p.ID),
				zap.String("currency", code),
			)
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// reconcile rejects hallucinated numbers by recomputing the hourly rate
// from USD budget and corrected hours, then applies the bid sanity clamp
// and the newcomer profile adjustment.
func (o *Orchestrator) reconcile(p *freelancer.Project, result *ai.ScoreResult) {
	if result.EstimatedHours <= 0 && o.baseline != nil {
		result.EstimatedHours = o.baseline.EstimateHours(p)
		o.logger.Debug("estimated hours fell back to baseline",
			zap.Int64("project_id", p.ID),
			zap.Float64("hours", result.EstimatedHours),
		)
	}

	avgUSD, ok := o.conv.ToUSD(p.AvgBudget(), p.CurrencyCode)
	if ok {
		if p.Hourly() {
			calc := avgUSD
			if calc > 0 && math.Abs(result.HourlyRate-calc) > calc*0.5 {
				o.logger.Warn("overriding hallucinated hourly rate",
					zap.Int64("project_id", p.ID),
					zap.Float64("reported", result.HourlyRate),
					zap.Float64("recomputed", calc),
				)
				result.HourlyRate = round2(calc)
			}
		} else if result.EstimatedHours > 0 {
			calc := avgUSD / result.EstimatedHours
			clamped := math.Max(10, math.Min(200, calc))
			if clamped != calc {
				o.logger.Warn("clamping implied hourly rate",
					zap.Int64("project_id", p.ID),
					zap.Float64("implied", calc),
					zap.Float64("clamped", clamped),
				)
			}
			result.HourlyRate = round2(clamped)
		}

		maxUSD := avgUSD
		if p.BudgetMax > 0 {
			if converted, ok := o.conv.ToUSD(p.BudgetMax, p.CurrencyCode); ok {
				maxUSD = converted
			}
		}
		if maxUSD > 0 && result.SuggestedBid > maxUSD*1.2 {
			o.logger.Warn("clamping suggested bid to budget maximum",
				zap.Int64("project_id", p.ID),
				zap.Float64("suggested", result.SuggestedBid),
				zap.Float64("budget_max_usd", maxUSD),
			)
			result.SuggestedBid = round2(maxUSD)
		}
	}

	result.Score = adjustForNewcomer(result, avgUSD)
}

// adjustForNewcomer nudges the score toward projects a fresh profile can
// realistically win: small efforts and modest budgets up, whales down.
func adjustForNewcomer(result *ai.ScoreResult, avgBudgetUSD float64) float64 {
	score := result.Score

	switch {
	case result.EstimatedHours > 0 && result.EstimatedHours <= 25:
		score += 0.6
	case result.EstimatedHours > 0 && result.EstimatedHours <= 40:
		score += 0.2
	case result.EstimatedHours > 80:
		score -= 1.2
	}

	switch {
	case avgBudgetUSD > 0 && avgBudgetUSD <= 1500:
		score += 0.4
	case avgBudgetUSD > 0 && avgBudgetUSD <= 3000:
		score += 0.2
	case avgBudgetUSD > 7000:
		score -= 1.0
	}

	if result.HourlyRate > 0 && result.HourlyRate < 10 {
		score -= 0.8
	}

	return round2(math.Max(0, math.Min(10, score)))
}

// apply folds the result into the project record.
func (o *Orchestrator) apply(p *freelancer.Project, result *ai.ScoreResult) {
	p.AIScore = result.Score
	p.AIReason = result.Reason
	p.SuggestedBid = result.SuggestedBid
	p.EstimatedHours = result.EstimatedHours
	p.HourlyRate = result.HourlyRate
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
