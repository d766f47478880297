package main

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/timeleak/timeleakd/internal/clock"
	"github.com/timeleak/timeleakd/internal/config"
	"github.com/timeleak/timeleakd/internal/syncer"
)

var syncTimeout time.Duration

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass and exit",
	Long:  `Run the sync sequence once: aggregate the trailing 24 hours, upload the snapshot, and record the run. Intended for debugging and cron-style setups without the agent.`,
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 2*time.Minute, "Overall timeout for the sync pass")
	rootCmd.AddCommand(syncCmd)
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	p, err := buildPipeline(cfg, clock.RealClock{}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
	defer cancel()

	outcome, err := p.runner.Run(ctx)
	if err != nil {
		return fmt.Errorf("sync failed (%s): %w", outcome, err)
	}

	switch outcome {
	case syncer.OutcomeCompleted:
		fmt.Println("Sync completed")
	case syncer.OutcomeSkippedNoData:
		fmt.Println("Sync skipped: usage below noise floor")
	case syncer.OutcomeNoUsageAccess:
		fmt.Println("Sync skipped: usage access not granted")
	case syncer.OutcomeNotAuthenticated:
		fmt.Println("Sync skipped: no signed-in user")
	default:
		fmt.Printf("Sync finished: %s\n", outcome)
	}

	return nil
}
