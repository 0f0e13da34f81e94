package cmd

import (
	"context"
	"errors"
	"log"
	"strconv"

	"github.com/antonk9218/fl-bidder/internal/bidgate"
	"github.com/antonk9218/fl-bidder/internal/logger"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var bidCmd = &cobra.Command{
	Use:   "bid <project-id>",
	Short: "Submit one gated bid for a project already in the local store",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		bid(cmd, args[0])
	},
}

func init() {
	rootCmd.AddCommand(bidCmd)

	bidCmd.Flags().Float64("amount", 0, "bid amount in the project's native currency (default derived from the stored score)")
	bidCmd.Flags().Int("period", 0, "delivery period in days (default derived from the estimated hours)")
}

func bid(cmd *cobra.Command, rawID string) {
	ctx := context.Background()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	projectID, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		logger.Fatal("parsing project id", zap.String("arg", rawID), zap.Error(err))
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

	amount, _ := cmd.Flags().GetFloat64("amount")
	period, _ := cmd.Flags().GetInt("period")

	receipt, err := deps.submitter.Submit(ctx, bidgate.Request{
		ProjectID: projectID,
		Amount:    amount,
		Period:    period,
	})
	if err != nil {
		var rejected *bidgate.RejectionError
		if errors.As(err, &rejected) {
			logger.Fatal("bid rejected",
				zap.Int64("project_id", projectID),
				zap.String("reason", rejected.Reason),
				zap.String("status", rejected.Status),
			)
		}
		logger.Fatal("submitting bid", zap.Int64("project_id", projectID), zap.Error(err))
	}

	logger.Info("bid submitted",
		zap.Int64("project_id", projectID),
		zap.Int64("bid_id", receipt.BidID),
		zap.Float64("amount", receipt.Amount),
		zap.Int("period_days", receipt.Period),
		zap.String("status", receipt.Status),
	)
}
