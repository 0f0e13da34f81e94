package filtering

import (
	"context"
	"fmt"
	"strconv"

	"github.com/antonk9218/fl-bidder/internal/freelancer"

	"go.uber.org/zap"
)

type biddableFilter struct{}

// NewBiddable creates a filter that keeps only projects still open for bids.
func NewBiddable() Filter {
	return &biddableFilter{}
}

func (f *biddableFilter) Name() string { return "biddable" }

func (f *biddableFilter) Disable(string) {}

func (f *biddableFilter) IsEnabled() bool { return true }

func (f *biddableFilter) Validate(*Config) error { return nil }

func (f *biddableFilter) Apply(_ context.Context, deps Deps, projects []*freelancer.Project) ([]*freelancer.Project, Step, error) {
	initial := len(projects)
	kept := make([]*freelancer.Project, 0, initial)
	excluded := make([]int64, 0)

	for _, p := range projects {
		if p.Biddable() {
			kept = append(kept, p)
			continue
		}
		excluded = append(excluded, p.ID)
	}

	if deps.Logger != nil && len(excluded) > 0 {
		deps.Logger.Info("excluding projects no longer open for bidding",
			zap.Int64s("excluded_projects", excluded),
			zap.Int("projects_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(excluded), Left: len(kept)}, nil
}

func (f *biddableFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: true}
}

type projectTypeFilter struct {
	fixedOnly bool
}

// NewProjectType creates a filter that drops hourly projects when the
// pipeline is configured for fixed-price work only.
func NewProjectType() Filter {
	return &projectTypeFilter{}
}

func (f *projectTypeFilter) Name() string { return "project_type" }

func (f *projectTypeFilter) Disable(string) {}

func (f *projectTypeFilter) IsEnabled() bool { return true }

func (f *projectTypeFilter) Validate(cfg *Config) error {
	f.fixedOnly = cfg != nil && cfg.FixedOnly
	return nil
}

func (f *projectTypeFilter) Apply(_ context.Context, deps Deps, projects []*freelancer.Project) ([]*freelancer.Project, Step, error) {
	initial := len(projects)
	if !f.fixedOnly {
		return projects, Step{Initial: initial, Dropped: 0, Left: initial}, nil
	}

	kept := make([]*freelancer.Project, 0, initial)
	excluded := make([]int64, 0)
	for _, p := range projects {
		if p.Type == "fixed" {
			kept = append(kept, p)
			continue
		}
		excluded = append(excluded, p.ID)
	}

	if deps.Logger != nil && len(excluded) > 0 {
		deps.Logger.Info("excluding hourly projects",
			zap.Int64s("excluded_projects", excluded),
			zap.Int("projects_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(excluded), Left: len(kept)}, nil
}

func (f *projectTypeFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: true,
		Details: map[string]string{"fixed_only": strconv.FormatBool(f.fixedOnly)},
	}
}

type budgetFloorFilter struct {
	minUSD float64
}

// NewBudgetFloor creates a filter that drops projects whose maximum budget
// falls below a USD floor. A zero floor keeps everything.
func NewBudgetFloor() Filter {
	return &budgetFloorFilter{}
}

func (f *budgetFloorFilter) Name() string { return "budget_floor" }

func (f *budgetFloorFilter) Disable(string) {}

func (f *budgetFloorFilter) IsEnabled() bool { return true }

func (f *budgetFloorFilter) Validate(cfg *Config) error {
	f.minUSD = 0
	if cfg != nil {
		f.minUSD = cfg.MinBudgetUSD
	}
	return nil
}

func (f *budgetFloorFilter) Apply(_ context.Context, deps Deps, projects []*freelancer.Project) ([]*freelancer.Project, Step, error) {
	initial := len(projects)
	if f.minUSD <= 0 {
		return projects, Step{Initial: initial, Dropped: 0, Left: initial}, nil
	}
	if deps.Converter == nil {
		return nil, Step{}, fmt.Errorf("currency converter is required for the budget floor")
	}

	kept := make([]*freelancer.Project, 0, initial)
	excluded := make([]int64, 0)
	for _, p := range projects {
		ceiling := p.BudgetMax
		if ceiling <= 0 {
			// Open-ended budgets pass; the bid gate re-checks the amount.
			kept = append(kept, p)
			continue
		}

		usd, ok := deps.Converter.ToUSD(ceiling, p.CurrencyCode)
		if !ok {
			if deps.Logger != nil {
				deps.Logger.Warn("no exchange rate for budget floor check, keeping project",
					zap.Int64("project_id", p.ID),
					zap.String("currency", p.CurrencyCode),
				)
			}
			kept = append(kept, p)
			continue
		}

		if usd < f.minUSD {
			excluded = append(excluded, p.ID)
			continue
		}
		kept = append(kept, p)
	}

	if deps.Logger != nil && len(excluded) > 0 {
		deps.Logger.Info("excluding projects below the budget floor",
			zap.Float64("min_budget_usd", f.minUSD),
			zap.Int64s("excluded_projects", excluded),
			zap.Int("projects_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(excluded), Left: len(kept)}, nil
}

func (f *budgetFloorFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: true,
		Details: map[string]string{"min_budget_usd": fmt.Sprintf("%.2f", f.minUSD)},
	}
}

type alreadyBidFilter struct {
	disabled bool
	reason   string
}

// NewAlreadyBid creates a filter that removes projects already holding an
// active-like bid in the local store.
func NewAlreadyBid() Filter {
	return &alreadyBidFilter{}
}

func (f *alreadyBidFilter) Name() string { return "already_bid" }

func (f *alreadyBidFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *alreadyBidFilter) IsEnabled() bool { return !f.disabled }

func (f *alreadyBidFilter) Validate(*Config) error { return nil }

func (f *alreadyBidFilter) Apply(_ context.Context, deps Deps, projects []*freelancer.Project) ([]*freelancer.Project, Step, error) {
	initial := len(projects)
	if deps.Store == nil {
		return nil, Step{}, fmt.Errorf("store is required")
	}

	kept := make([]*freelancer.Project, 0, initial)
	excluded := make([]int64, 0)
	for _, p := range projects {
		existing, err := deps.Store.ActiveBidForProject(p.ID)
		if err != nil {
			return nil, Step{}, fmt.Errorf("looking up bids for %d: %w", p.ID, err)
		}
		if existing != nil {
			excluded = append(excluded, p.ID)
			continue
		}
		kept = append(kept, p)
	}

	if deps.Logger != nil && len(excluded) > 0 {
		deps.Logger.Info("excluding projects that already have a bid",
			zap.Int64s("excluded_projects", excluded),
			zap.Int("projects_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(excluded), Left: len(kept)}, nil
}

func (f *alreadyBidFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason}
}

type scoreThresholdFilter struct {
	minScore float64
}

// NewScoreThreshold creates a filter that keeps projects at or above the
// configured score. Unscored projects are dropped.
func NewScoreThreshold() Filter {
	return &scoreThresholdFilter{}
}

func (f *scoreThresholdFilter) Name() string { return "score_threshold" }

func (f *scoreThresholdFilter) Disable(string) {}

func (f *scoreThresholdFilter) IsEnabled() bool { return true }

func (f *scoreThresholdFilter) Validate(cfg *Config) error {
	f.minScore = 0
	if cfg != nil {
		f.minScore = cfg.MinScore
	}
	return nil
}

func (f *scoreThresholdFilter) Apply(_ context.Context, deps Deps, projects []*freelancer.Project) ([]*freelancer.Project, Step, error) {
	initial := len(projects)
	kept := make([]*freelancer.Project, 0, initial)
	excluded := make([]int64, 0)

	for _, p := range projects {
		if p.AIScore >= f.minScore && p.AIScore > 0 {
			kept = append(kept, p)
			continue
		}
		excluded = append(excluded, p.ID)
	}

	if deps.Logger != nil && len(excluded) > 0 {
		deps.Logger.Info("excluding projects below the score threshold",
			zap.Float64("min_score", f.minScore),
			zap.Int64s("excluded_projects", excluded),
			zap.Int("projects_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(excluded), Left: len(kept)}, nil
}

func (f *scoreThresholdFilter) Status() Status {
	return Status{
		Name:    f.Name(),
		Enabled: true,
		Details: map[string]string{"min_score": fmt.Sprintf("%.2f", f.minScore)},
	}
}
