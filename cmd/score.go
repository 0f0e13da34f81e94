package cmd

import (
	"context"
	"log"

	"github.com/antonk9218/fl-bidder/internal/logger"
	"github.com/antonk9218/fl-bidder/internal/pipeline"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Search and score projects without drafting or bidding",
	Run: func(_ *cobra.Command, _ []string) {
		score()
	},
}

func init() {
	rootCmd.AddCommand(scoreCmd)
}

func score() {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}

	deps, err := buildApp(ctx, config, logger)
	if err != nil {
		logger.Fatal("building the application", zap.Error(err))
	}
	defer deps.Close()

	report, err := deps.runner.Run(ctx, pipeline.RunOptions{ScoreOnly: true})
	if err != nil {
		logger.Fatal("scoring pass failed", zap.Error(err))
	}

	logger.Info("scoring pass finished",
		zap.Int("found", report.Found),
		zap.Int("filtered", report.Filtered),
		zap.Int("scored", report.Scored),
		zap.Int("errors", report.Errors),
	)
}
