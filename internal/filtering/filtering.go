// Package filtering narrows the candidate project list before the
// expensive stages run. Filters execute sequentially; each reports how
// many projects it dropped.
package filtering

import (
	"context"
	"fmt"

	"github.com/antonk9218/fl-bidder/internal/freelancer"
	"github.com/antonk9218/fl-bidder/internal/storage"

	"go.uber.org/zap"
)

// Filter represents a single filtering step applied to candidate projects.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate(cfg *Config) error
	Apply(ctx context.Context, deps Deps, projects []*freelancer.Project) ([]*freelancer.Project, Step, error)
}

// bidLookup is the slice of the store the filters need.
type bidLookup interface {
	ActiveBidForProject(projectID int64) (*storage.Bid, error)
}

// usdConverter resolves amounts for the budget floor.
type usdConverter interface {
	ToUSD(amount float64, code string) (float64, bool)
}

// Deps aggregates dependencies shared across all filtering steps.
type Deps struct {
	Store     bidLookup
	Converter usdConverter
	Logger    *zap.Logger
}

// Step describes the result of executing a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Config contains configuration settings consumed by the filters.
type Config struct {
	MinScore     float64 `mapstructure:"min-score"`
	FixedOnly    bool    `mapstructure:"fixed-only"`
	MinBudgetUSD float64 `mapstructure:"min-budget-usd"`
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

// statusProvider is implemented by filters that can supply detailed status information.
type statusProvider interface {
	Status() Status
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Run executes the supplied filters sequentially and returns the surviving projects.
func Run(ctx context.Context, cfg *Config, deps Deps, steps []Filter, projects []*freelancer.Project) ([]*freelancer.Project, error) {
	for _, step := range steps {
		if !step.IsEnabled() {
			continue
		}
		if err := step.Validate(cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	for _, step := range steps {
		if !step.IsEnabled() {
			if deps.Logger != nil {
				deps.Logger.Info("filter disabled", zap.String("name", step.Name()))
			}
			continue
		}

		next, info, err := step.Apply(ctx, deps, projects)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		if deps.Logger != nil {
			deps.Logger.Info("filter step",
				zap.String("name", step.Name()),
				zap.Int("initial", info.Initial),
				zap.Int("dropped", info.Dropped),
				zap.Int("left", info.Left),
			)
		}

		projects = next
	}

	return projects, nil
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}
