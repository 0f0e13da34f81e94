package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"

	"github.com/antonk9218/fl-bidder/internal/freelancer"
	"github.com/antonk9218/fl-bidder/internal/logger"
	"github.com/antonk9218/fl-bidder/internal/pipeline"
	"github.com/antonk9218/fl-bidder/internal/secrets"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	PromptYes          = "Yes"
	PromptNo           = "No"
	PromptBack         = "back"
	PromptSkipProjects = "Skip selected projects"
	PromptDumpToFile   = "Dump candidates to file"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one full pass: search, score, draft proposals and bid",
	Run: func(cmd *cobra.Command, _ []string) {
		run(cmd)
	},
}

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before submitting bids")
}

// run is the main command for the cli.
func run(cmd *cobra.Command) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	logger.Info("starting the fl-bidder", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	deps, err := buildApp(ctx, config, logger)
	if err != nil {
		logger.Fatal("building the application", zap.Error(err))
	}
	defer deps.Close()

	opts := pipeline.RunOptions{}
	if cmd.Flag("auto-approve").Value.String() == "false" {
		opts.Approve = confirmSubmission(logger)
	}

	report, err := deps.runner.Run(ctx, opts)
	if err != nil {
		logger.Fatal("pipeline pass failed", zap.Error(err))
	}

	logger.Info("pipeline pass finished",
		zap.Int("found", report.Found),
		zap.Int("filtered", report.Filtered),
		zap.Int("scored", report.Scored),
		zap.Int("drafted", report.Drafted),
		zap.Int("submitted", report.Submitted),
		zap.Int("rejected", report.Rejected),
		zap.Int("errors", report.Errors),
	)
}

// confirmSubmission lists the candidates and asks before any bid goes
// out. The list can be trimmed or dumped to a file first.
func confirmSubmission(log *zap.Logger) func(*freelancer.Projects) (bool, error) {
	prompt := promptui.Select{
		Label: "Submit bids for these projects?",
		Items: []string{PromptYes, PromptNo, PromptSkipProjects, PromptDumpToFile},
	}

	return func(candidates *freelancer.Projects) (bool, error) {
		for {
			for _, p := range candidates.Items {
				log.Info("candidate",
					zap.Int64("project_id", p.ID),
					zap.String("title", p.Title),
					zap.Float64("score", p.AIScore),
					zap.Float64("suggested_bid", p.SuggestedBid),
					zap.String("currency", p.CurrencyCode),
				)
			}
			log.Info("current list of candidates", zap.Int("count", candidates.Len()))

			_, action, err := prompt.Run()
			if err != nil {
				return false, err
			}

			switch action {
			case PromptYes:
				return candidates.Len() > 0, nil
			case PromptNo:
				log.Info("not submitting", zap.String("reason", "got no from prompt"))
				return false, nil
			case PromptDumpToFile:
				filename, err := candidates.DumpToTmpFile()
				if err != nil {
					return false, fmt.Errorf("dump candidates to file: %w", err)
				}
				log.Info("dumping candidates to file", zap.String("filename", filename))
			case PromptSkipProjects:
				if err := skipProjects(log, candidates); err != nil {
					return false, err
				}
				if candidates.Len() == 0 {
					log.Info("not submitting", zap.String("reason", "no candidates left"))
					return false, nil
				}
			}
		}
	}
}

// skipProjects lets the operator drop candidates one by one.
func skipProjects(log *zap.Logger, candidates *freelancer.Projects) error {
	for candidates.Len() > 0 {
		items := make([]string, 0, candidates.Len())
		for _, p := range candidates.Items {
			items = append(items, fmt.Sprintf("%d %s / %.1f / %s", p.ID, p.Title, p.AIScore, p.CurrencyCode))
		}

		projectPrompt := promptui.Select{
			Label: "Choose a project to skip and press ENTER",
			Items: append(items, PromptBack),
		}

		_, selected, err := projectPrompt.Run()
		if err != nil {
			return err
		}
		if selected == PromptBack {
			return nil
		}

		id, err := strconv.ParseInt(strings.Split(selected, " ")[0], 10, 64)
		if err != nil {
			return fmt.Errorf("parsing project id from %q: %w", selected, err)
		}
		if candidates.FindByID(id) == nil {
			return fmt.Errorf("there is no such project id %d", id)
		}

		candidates.Exclude([]int64{id})
		log.Info("skipped the project", zap.Int64("project_id", id))
	}

	return nil
}

func resolveToken(config *Config) (string, error) {
	if config == nil {
		return "", errors.New("config is required")
	}

	tokenFile := strings.TrimSpace(config.TokenFile)
	if tokenFile == "" {
		tokenFile = strings.TrimSpace(viper.GetString("token-file"))
	}

	if tokenFile == "" {
		return "", errors.New("freelancer token file is not configured")
	}

	return secrets.Load(secrets.Source{
		Name: "freelancer token",
		File: tokenFile,
	})
}
