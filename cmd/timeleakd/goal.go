package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/timeleak/timeleakd/internal/clock"
	"github.com/timeleak/timeleakd/internal/config"
	"github.com/timeleak/timeleakd/internal/goal"
)

var goalCmd = &cobra.Command{
	Use:   "goal",
	Short: "Inspect or set the daily screen time goal",
}

var goalGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Show the effective goal and baseline",
	RunE:  runGoalGet,
}

var goalSetCmd = &cobra.Command{
	Use:   "set <duration>",
	Short: "Set the daily goal (e.g. 3h30m)",
	Args:  cobra.ExactArgs(1),
	RunE:  runGoalSet,
}

func init() {
	goalCmd.AddCommand(goalGetCmd)
	goalCmd.AddCommand(goalSetCmd)
	rootCmd.AddCommand(goalCmd)
}

func withGoalEngine(fn func(ctx context.Context, goals *goal.Engine) error) error {
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
	defer func() { _ = p.store.Close() }()

	return fn(context.Background(), p.goals)
}

func runGoalGet(cmd *cobra.Command, args []string) error {
	return withGoalEngine(func(ctx context.Context, goals *goal.Engine) error {
		g, err := goals.Goal(ctx)
		if err != nil {
			return fmt.Errorf("failed to read goal: %w", err)
		}
		fmt.Printf("Goal: %s\n", g)

		baseline, ok, err := goals.Baseline(ctx)
		if err != nil {
			return fmt.Errorf("failed to read baseline: %w", err)
		}
		if ok {
			fmt.Printf("Baseline: %s\n", baseline)
		} else {
			fmt.Println("Baseline: not captured yet")
		}
		return nil
	})
}

func runGoalSet(cmd *cobra.Command, args []string) error {
	d, err := time.ParseDuration(args[0])
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", args[0], err)
	}

	return withGoalEngine(func(ctx context.Context, goals *goal.Engine) error {
		if err := goals.SetGoal(ctx, d); err != nil {
			if errors.Is(err, goal.ErrGoalExceedsBaseline) {
				return fmt.Errorf("goal must not exceed the captured baseline: %w", err)
			}
			return err
		}
		fmt.Printf("Goal set to %s\n", d)
		return nil
	})
}
