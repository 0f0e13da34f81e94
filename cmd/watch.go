package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/antonk9218/fl-bidder/internal/logger"
	"github.com/antonk9218/fl-bidder/internal/pipeline"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const defaultWatchEvery = "30m"

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Run the pipeline on a schedule until interrupted",
	Run: func(_ *cobra.Command, _ []string) {
		watch()
	},
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func watch() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	every := defaultWatchEvery
	if config.Watch != nil && config.Watch.Every != "" {
		every = config.Watch.Every
	}

	// Watch mode is unattended, so passes never wait on a prompt.
	var passMu sync.Mutex
	pass := func() {
		if !passMu.TryLock() {
			logger.Warn("previous pass still running, skipping this tick")
			return
		}
		defer passMu.Unlock()

		report, err := deps.runner.Run(ctx, pipeline.RunOptions{})
		if err != nil {
			logger.Error("pipeline pass failed", zap.Error(err))
			return
		}
		logger.Info("pipeline pass finished",
			zap.Int("found", report.Found),
			zap.Int("scored", report.Scored),
			zap.Int("submitted", report.Submitted),
			zap.Int("rejected", report.Rejected),
		)
	}

	c := cron.New()
	if _, err := c.AddFunc("@every "+every, pass); err != nil {
		logger.Fatal("registering the schedule", zap.String("every", every), zap.Error(err))
	}

	c.Start()
	logger.Info("watch started", zap.String("every", every))

	// Run immediately on startup so the first results do not wait for
	// the first tick.
	go pass()

	<-ctx.Done()

	stopCtx := c.Stop()
	<-stopCtx.Done()
	logger.Info("watch stopped")
}
