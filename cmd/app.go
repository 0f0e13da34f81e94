package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/antonk9218/fl-bidder/internal/ai"
	"github.com/antonk9218/fl-bidder/internal/ai/gemini"
	"github.com/antonk9218/fl-bidder/internal/ai/openai"
	"github.com/antonk9218/fl-bidder/internal/bidgate"
	"github.com/antonk9218/fl-bidder/internal/currency"
	"github.com/antonk9218/fl-bidder/internal/freelancer"
	"github.com/antonk9218/fl-bidder/internal/logger"
	"github.com/antonk9218/fl-bidder/internal/orchestra"
	"github.com/antonk9218/fl-bidder/internal/pipeline"
	"github.com/antonk9218/fl-bidder/internal/proposal"
	"github.com/antonk9218/fl-bidder/internal/scoring"
	"github.com/antonk9218/fl-bidder/internal/secrets"
	"github.com/antonk9218/fl-bidder/internal/storage"

	"go.uber.org/zap"
)

const defaultDataDir = "./data"

// appDeps holds everything a command needs, wired once from the config.
type appDeps struct {
	config    *Config
	store     *storage.Store
	market    *freelancer.Client
	converter *currency.Converter
	baseline  *scoring.Scorer
	orch      *orchestra.Orchestrator
	generator *proposal.Generator
	submitter *bidgate.Submitter
	runner    *pipeline.Runner
	logger    *zap.Logger
}

func buildApp(ctx context.Context, config *Config, log *zap.Logger) (*appDeps, error) {
	if config == nil {
		return nil, fmt.Errorf("config is required")
	}

	dataDir := config.DataDir
	if dataDir == "" {
		dataDir = defaultDataDir
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data dir %q: %w", dataDir, err)
	}

	token, err := resolveToken(config)
	if err != nil {
		return nil, err
	}

	market := freelancer.New(ctx, log, token)
	if config.UserAgent != "" {
		market.UserAgent = config.UserAgent
	}

	store, err := storage.Open(dataDir)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	converter := currency.New(dataDir, log)
	baseline := scoring.New(scoringConfig(config.Scoring), converter, log)

	scorers, generators := buildProviders(ctx, config.LLM, log)

	var orch *orchestra.Orchestrator
	if len(scorers) > 0 {
		orchCfg := orchestra.DefaultConfig()
		ttl := time.Hour
		if config.LLM != nil {
			if config.LLM.Strategy != "" {
				orchCfg.Strategy = config.LLM.Strategy
			}
			if config.LLM.CacheTTLMinutes > 0 {
				ttl = time.Duration(config.LLM.CacheTTLMinutes) * time.Minute
			}
		}
		cache := orchestra.NewCache(dataDir, ttl, log)
		orch = orchestra.New(orchCfg, scorers, baseline, converter, cache, store, log)
	} else {
		log.Warn("no LLM scoring providers configured, falling back to the deterministic scorer")
	}

	generator := proposal.New(proposalConfig(config.Proposal), generators, log)

	gateCfg := bidgate.DefaultConfig()
	if config.Bidding != nil {
		gateCfg.ValidateRemote = !config.Bidding.DisableRemoteCheck
		if config.Bidding.DefaultPeriod > 0 {
			gateCfg.DefaultPeriod = config.Bidding.DefaultPeriod
		}
	}
	submitter := bidgate.New(gateCfg, market, store, converter, generator, log)

	runCfg := pipeline.DefaultConfig()
	if config.Search != nil {
		runCfg.Search = *config.Search
	}
	if config.Scoring != nil && config.Scoring.MinScore > 0 {
		runCfg.MinScore = config.Scoring.MinScore
	}
	if config.Bidding != nil {
		runCfg.AutoBid = config.Bidding.Enabled
		runCfg.FixedOnly = config.Bidding.FixedOnly
		runCfg.MinBudgetUSD = config.Bidding.MinBudgetUSD
		if config.Bidding.MaxBids > 0 {
			runCfg.MaxBids = config.Bidding.MaxBids
		}
	}

	var runner *pipeline.Runner
	if orch != nil {
		runner = pipeline.New(runCfg, market, store, baseline, orch, generator, submitter, converter, log)
	} else {
		runner = pipeline.New(runCfg, market, store, baseline, nil, generator, submitter, converter, log)
	}

	return &appDeps{
		config:    config,
		store:     store,
		market:    market,
		converter: converter,
		baseline:  baseline,
		orch:      orch,
		generator: generator,
		submitter: submitter,
		runner:    runner,
		logger:    log,
	}, nil
}

func (a *appDeps) Close() {
	if a.store != nil {
		a.store.Close()
	}
}

// buildProviders constructs every configured LLM provider. A provider that
// fails to build is skipped with a warning; the rest keep working.
func buildProviders(ctx context.Context, cfg *LLMConfig, log *zap.Logger) ([]ai.Scorer, []ai.Generator) {
	var scorers []ai.Scorer
	var generators []ai.Generator

	if cfg == nil {
		return scorers, generators
	}

	if cfg.Gemini != nil && cfg.Gemini.APIKeyFile != "" {
		apiKey, err := secrets.Load(secrets.Source{
			Name: "gemini api key",
			File: cfg.Gemini.APIKeyFile,
		})
		if err != nil {
			log.Warn("disabling gemini provider", zap.Error(err))
		} else {
			genLogger := logger.WithCommonFields(log, "gemini", cfg.Gemini.Model)
			gen, err := gemini.NewGenerator(ctx, apiKey, cfg.Gemini.Model, cfg.Gemini.MaxRetries, genLogger)
			if err != nil {
				log.Warn("disabling gemini provider", zap.Error(err))
			} else {
				scorers = append(scorers, gemini.NewScorer(gen, genLogger, cfg.Gemini.MaxLogLength))
				generators = append(generators, gen)
			}
		}
	}

	for _, oc := range cfg.OpenAI {
		if oc == nil || oc.APIKeyFile == "" {
			continue
		}

		apiKey, err := secrets.Load(secrets.Source{
			Name: fmt.Sprintf("%s api key", providerName(oc)),
			File: oc.APIKeyFile,
		})
		if err != nil {
			log.Warn("disabling provider", zap.String("provider", providerName(oc)), zap.Error(err))
			continue
		}

		client, err := openai.New(openai.Options{
			Name:        oc.Name,
			APIKey:      apiKey,
			BaseURL:     oc.BaseURL,
			Model:       oc.Model,
			Temperature: oc.Temperature,
		}, logger.WithCommonFields(log, providerName(oc), oc.Model))
		if err != nil {
			log.Warn("disabling provider", zap.String("provider", providerName(oc)), zap.Error(err))
			continue
		}

		scorers = append(scorers, client)
		generators = append(generators, client)
	}

	return scorers, generators
}

func providerName(oc *OpenAIConfig) string {
	if oc.Name != "" {
		return oc.Name
	}
	return "openai"
}

func scoringConfig(cfg *ScoringConfig) scoring.Config {
	out := scoring.DefaultConfig()
	if cfg == nil {
		return out
	}
	if cfg.Preset != "" {
		out.Weights = scoring.WeightsByPreset(cfg.Preset)
	}
	if len(cfg.Skills) > 0 {
		out.Skills = cfg.Skills
	}
	return out
}

func proposalConfig(cfg *ProposalConfig) proposal.Config {
	out := proposal.DefaultConfig()
	if cfg == nil {
		return out
	}
	if cfg.MaxRetries > 0 {
		out.MaxRetries = cfg.MaxRetries
	}
	if cfg.MinLength > 0 {
		out.MinLength = cfg.MinLength
	}
	if cfg.MaxLength > 0 {
		out.MaxLength = cfg.MaxLength
	}
	if cfg.AllowFlawedFinal != nil {
		out.AllowFlawedFinal = *cfg.AllowFlawedFinal
	}
	return out
}
