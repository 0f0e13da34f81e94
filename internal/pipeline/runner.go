// Package pipeline drives one full pass over the marketplace: discover
// projects, filter, score, draft proposals, and optionally push the
// survivors through the bid gate.
package pipeline

import (
	"context"
	"fmt"

	"github.com/antonk9218/fl-bidder/internal/bidgate"
	"github.com/antonk9218/fl-bidder/internal/currency"
	"github.com/antonk9218/fl-bidder/internal/filtering"
	"github.com/antonk9218/fl-bidder/internal/freelancer"
	"github.com/antonk9218/fl-bidder/internal/orchestra"
	"github.com/antonk9218/fl-bidder/internal/proposal"
	"github.com/antonk9218/fl-bidder/internal/scoring"
	"github.com/antonk9218/fl-bidder/internal/storage"

	"go.uber.org/zap"
)

type marketplace interface {
	SearchProjects(params *freelancer.SearchParams) (*freelancer.Projects, error)
}

type pipelineStore interface {
	UpsertProject(p *freelancer.Project) error
	SaveScore(p *freelancer.Project) error
	UpdateProjectDraft(id int64, draft string, fallback bool) error
	ActiveBidForProject(projectID int64) (*storage.Bid, error)
	Candidates(minScore float64, limit int) ([]*freelancer.Project, error)
}

type refiner interface {
	ScoreBatch(ctx context.Context, projects []*freelancer.Project) orchestra.Summary
}

type drafter interface {
	Generate(ctx context.Context, p *freelancer.Project, expectedQuote float64) *proposal.GenResult
	Fallback(p *freelancer.Project) string
}

type submitter interface {
	Submit(ctx context.Context, req bidgate.Request) (*bidgate.Receipt, error)
}

type converter interface {
	ToUSD(amount float64, code string) (float64, bool)
	ToNative(usdAmount float64, code string) (float64, bool)
}

// Config tunes one pipeline pass.
type Config struct {
	Search       freelancer.SearchParams `mapstructure:"search"`
	MinScore     float64                 `mapstructure:"min-score"`
	MaxBids      int                     `mapstructure:"max-bids"`
	FixedOnly    bool                    `mapstructure:"fixed-only"`
	MinBudgetUSD float64                 `mapstructure:"min-budget-usd"`
	AutoBid      bool                    `mapstructure:"auto-bid"`
}

func DefaultConfig() Config {
	return Config{
		Search:    freelancer.SearchParams{Limit: 30},
		MinScore:  6.0,
		MaxBids:   3,
		FixedOnly: true,
	}
}

// Report summarizes one pass.
type Report struct {
	Found     int
	Filtered  int
	Scored    int
	Drafted   int
	Submitted int
	Rejected  int
	Errors    int
}

// RunOptions control the tail of the pass. Approve, when set, is asked
// with the final candidate list before any bid is submitted and may
// prune it in place.
type RunOptions struct {
	ScoreOnly bool
	Approve   func(candidates *freelancer.Projects) (bool, error)
}

// Runner wires the stages together.
type Runner struct {
	cfg       Config
	market    marketplace
	store     pipelineStore
	baseline  *scoring.Scorer
	refiner   refiner
	drafter   drafter
	submitter submitter
	conv      converter
	logger    *zap.Logger
}

func New(cfg Config, market marketplace, store pipelineStore, baseline *scoring.Scorer, refiner refiner, drafter drafter, submitter submitter, conv converter, logger *zap.Logger) *Runner {
	if cfg.MaxBids <= 0 {
		cfg.MaxBids = 3
	}

	return &Runner{
		cfg:       cfg,
		market:    market,
		store:     store,
		baseline:  baseline,
		refiner:   refiner,
		drafter:   drafter,
		submitter: submitter,
		conv:      conv,
		logger:    logger,
	}
}

// Run executes one pass. It always returns a report, also on partial
// failure, so the caller can log what was achieved.
func (r *Runner) Run(ctx context.Context, opts RunOptions) (*Report, error) {
	report := &Report{}

	projects, err := r.discover()
	if err != nil {
		return report, err
	}
	report.Found = len(projects)

	projects, err = r.prefilter(ctx, projects)
	if err != nil {
		return report, err
	}
	report.Filtered = len(projects)
	if len(projects) == 0 {
		r.logger.Info("no candidates survived filtering")
		return report, nil
	}

	report.Scored, report.Errors = r.score(ctx, projects)

	candidates, err := r.candidates(ctx, projects)
	if err != nil {
		return report, err
	}
	if opts.ScoreOnly || len(candidates) == 0 {
		return report, nil
	}

	report.Drafted = r.draft(ctx, candidates)

	if !r.cfg.AutoBid || r.submitter == nil {
		r.logger.Info("auto-bid disabled, stopping after drafts",
			zap.Int("candidates", len(candidates)),
		)
		return report, nil
	}

	if opts.Approve != nil {
		list := &freelancer.Projects{Items: candidates}
		ok, err := opts.Approve(list)
		if err != nil {
			return report, fmt.Errorf("confirmation: %w", err)
		}
		if !ok {
			r.logger.Info("submission not approved, stopping")
			return report, nil
		}
		candidates = list.Items
		if len(candidates) == 0 {
			r.logger.Info("every candidate was skipped, stopping")
			return report, nil
		}
	}

	report.Submitted, report.Rejected = r.submit(ctx, candidates)
	return report, nil
}

// discover searches the marketplace and refreshes the local rows.
func (r *Runner) discover() ([]*freelancer.Project, error) {
	found, err := r.market.SearchProjects(&r.cfg.Search)
	if err != nil {
		return nil, fmt.Errorf("searching projects: %w", err)
	}

	r.logger.Info("projects discovered", zap.Int("count", found.Len()))

	for _, p := range found.Items {
		if err := r.store.UpsertProject(p); err != nil {
			return nil, fmt.Errorf("storing project %d: %w", p.ID, err)
		}
	}

	return found.Items, nil
}

func (r *Runner) prefilter(ctx context.Context, projects []*freelancer.Project) ([]*freelancer.Project, error) {
	cfg := &filtering.Config{
		MinScore:     r.cfg.MinScore,
		FixedOnly:    r.cfg.FixedOnly,
		MinBudgetUSD: r.cfg.MinBudgetUSD,
	}
	deps := filtering.Deps{Store: r.store, Converter: r.conv, Logger: r.logger}
	steps := []filtering.Filter{
		filtering.NewBiddable(),
		filtering.NewProjectType(),
		filtering.NewBudgetFloor(),
		filtering.NewAlreadyBid(),
	}

	return filtering.Run(ctx, cfg, deps, steps, projects)
}

// score refines every candidate. Without LLM providers the deterministic
// baseline result is persisted instead.
func (r *Runner) score(ctx context.Context, projects []*freelancer.Project) (scored, errors int) {
	if r.refiner != nil {
		summary := r.refiner.ScoreBatch(ctx, projects)
		r.logger.Info("scoring pass finished",
			zap.Int("scored", summary.Scored),
			zap.Int("errors", summary.Errors),
			zap.Float64("top_score", summary.TopScore),
			zap.Int64("top_project", summary.TopID),
		)
		return summary.Scored, summary.Errors
	}

	for _, p := range projects {
		result := r.baseline.Score(p)
		p.AIScore = result.Score
		p.AIReason = result.Reason
		p.EstimatedHours = result.EstimatedHours
		p.HourlyRate = result.HourlyRate

		if err := r.store.SaveScore(p); err != nil {
			r.logger.Warn("could not persist baseline score", zap.Int64("project_id", p.ID), zap.Error(err))
			errors++
			continue
		}
		scored++
	}
	return scored, errors
}

// candidateLimit caps how many stored candidates from earlier passes are
// pulled back in each run.
const candidateLimit = 20

// candidates applies the score threshold to the freshly scored batch and
// merges in stored candidates from earlier passes that still qualify.
func (r *Runner) candidates(ctx context.Context, projects []*freelancer.Project) ([]*freelancer.Project, error) {
	cfg := &filtering.Config{MinScore: r.cfg.MinScore}
	deps := filtering.Deps{Store: r.store, Converter: r.conv, Logger: r.logger}

	kept, err := filtering.Run(ctx, cfg, deps, []filtering.Filter{filtering.NewScoreThreshold()}, projects)
	if err != nil {
		return nil, err
	}

	stored, err := r.store.Candidates(r.cfg.MinScore, candidateLimit)
	if err != nil {
		return nil, fmt.Errorf("loading stored candidates: %w", err)
	}

	seen := make(map[int64]bool, len(kept))
	for _, p := range kept {
		seen[p.ID] = true
	}
	for _, p := range stored {
		if !seen[p.ID] {
			kept = append(kept, p)
		}
	}

	return kept, nil
}

// draft fills in missing proposal drafts. A generation failure falls back
// to the deterministic template, which the bid gate will refuse to
// auto-submit.
func (r *Runner) draft(ctx context.Context, candidates []*freelancer.Project) int {
	drafted := 0
	for _, p := range candidates {
		if p.ProposalDraft != "" && !p.DraftFallback {
			continue
		}

		quote := r.expectedQuote(p)
		result := r.drafter.Generate(ctx, p, quote)
		if result.Success && result.Text != "" {
			if err := r.store.UpdateProjectDraft(p.ID, result.Text, false); err != nil {
				r.logger.Warn("could not persist draft", zap.Int64("project_id", p.ID), zap.Error(err))
				continue
			}
			p.ProposalDraft = result.Text
			p.DraftFallback = false
			drafted++
			continue
		}

		r.logger.Warn("proposal generation failed, using fallback template",
			zap.Int64("project_id", p.ID),
			zap.Int("attempts", result.Attempts),
			zap.Error(result.Err),
		)

		text := r.drafter.Fallback(p)
		if err := r.store.UpdateProjectDraft(p.ID, text, true); err != nil {
			r.logger.Warn("could not persist fallback draft", zap.Int64("project_id", p.ID), zap.Error(err))
			continue
		}
		p.ProposalDraft = text
		p.DraftFallback = true
	}
	return drafted
}

func (r *Runner) submit(ctx context.Context, candidates []*freelancer.Project) (submitted, rejected int) {
	for _, p := range candidates {
		if submitted >= r.cfg.MaxBids {
			r.logger.Info("bid limit reached", zap.Int("max_bids", r.cfg.MaxBids))
			break
		}

		receipt, err := r.submitter.Submit(ctx, bidgate.Request{ProjectID: p.ID})
		if err != nil {
			rejected++
			r.logger.Warn("bid rejected",
				zap.Int64("project_id", p.ID),
				zap.Error(err),
			)
			continue
		}

		submitted++
		r.logger.Info("bid placed",
			zap.Int64("project_id", p.ID),
			zap.Int64("bid_id", receipt.BidID),
			zap.Float64("amount", receipt.Amount),
			zap.String("status", receipt.Status),
		)
	}
	return submitted, rejected
}

// expectedQuote estimates the native amount a draft should mention, with
// the same defaults the bid gate applies later.
func (r *Runner) expectedQuote(p *freelancer.Project) float64 {
	if p.SuggestedBid > 0 {
		code := currency.NormalizeCode(p.CurrencyCode)
		if code == "USD" {
			return p.SuggestedBid
		}
		if native, ok := r.conv.ToNative(p.SuggestedBid, code); ok {
			return currency.Beautify(native)
		}
		return 0
	}

	switch {
	case p.BudgetMin > 0 && p.BudgetMax > 0:
		return p.BudgetMin + (p.BudgetMax-p.BudgetMin)*0.55
	case p.BudgetMax > 0:
		return 0.65 * p.BudgetMax
	case p.BudgetMin > 0:
		return 1.2 * p.BudgetMin
	default:
		return 0
	}
}
