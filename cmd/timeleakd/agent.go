package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/timeleak/timeleakd/internal/aggregate"
	"github.com/timeleak/timeleakd/internal/api"
	"github.com/timeleak/timeleakd/internal/clock"
	"github.com/timeleak/timeleakd/internal/config"
	"github.com/timeleak/timeleakd/internal/goal"
	"github.com/timeleak/timeleakd/internal/identity"
	"github.com/timeleak/timeleakd/internal/metrics"
	"github.com/timeleak/timeleakd/internal/reconcile"
	"github.com/timeleak/timeleakd/internal/sched"
	"github.com/timeleak/timeleakd/internal/storage"
	boltstore "github.com/timeleak/timeleakd/internal/storage/bolt"
	"github.com/timeleak/timeleakd/internal/storage/redis"
	"github.com/timeleak/timeleakd/internal/syncer"
	"github.com/timeleak/timeleakd/internal/systemd"
	"github.com/timeleak/timeleakd/internal/upload"
	"github.com/timeleak/timeleakd/internal/usagestats"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Start TimeLeak agent",
	Long:  `Start the TimeLeak agent with the local ingest/report API, the daily sync scheduler, and the metrics endpoint.`,
	RunE:  runAgent,
}

func init() {
	rootCmd.AddCommand(agentCmd)
}

// pipeline is the wired aggregation core shared by the agent and the
// one-shot sync command.
type pipeline struct {
	store      storage.Store
	provider   *usagestats.StoreProvider
	aggregator *aggregate.Aggregator
	goals      *goal.Engine
	ident      *identity.StateProvider
	runner     *syncer.Runner
	loc        *time.Location
}

func runAgent(cmd *cobra.Command, args []string) error {
	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)
	log.Logger = logger

	logger.Info().
		Str("version", version).
		Str("config", configPath).
		Msg("Starting TimeLeak agent")

	// Check for systemd socket activation
	sdListeners, err := systemd.GetListeners()
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to get systemd listeners")
	}
	if sdListeners.Activated {
		logger.Info().Msg("Running with systemd socket activation")
	}

	p, err := buildPipeline(cfg, clock.RealClock{}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := p.store.Close(); err != nil {
			logger.Error().Err(err).Msg("Failed to close storage")
		}
	}()

	logger.Info().
		Str("type", cfg.Storage.Type).
		Str("path", cfg.Storage.Path).
		Msg("Storage initialized")

	// Initialize the sync scheduler
	scheduler, err := sched.New(p.store.Work(), p.runner, clock.RealClock{}, sched.Config{
		TargetTime:  cfg.Sync.TargetTime,
		Location:    p.loc,
		BackoffBase: config.ParseDuration(cfg.Sync.BackoffBase, 15*time.Minute),
		MaxRetries:  cfg.Sync.MaxRetries,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize sync scheduler: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("failed to start sync scheduler: %w", err)
	}

	// Initialize the local API server
	handler := api.NewHandler(p.store, p.aggregator, p.goals, p.ident, scheduler, logger)
	router := api.NewRouter(handler, cfg.Server)

	apiAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.APIPort)
	apiServer := api.NewServer(apiAddr, router, logger)
	if sdListeners.Activated && sdListeners.API != nil {
		apiServer.SetListener(sdListeners.API)
	}
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}

	// Initialize the metrics server
	metricsAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.MetricsPort)
	metricsServer := metrics.NewServer(metricsAddr, logger)
	if sdListeners.Activated && sdListeners.Metrics != nil {
		metricsServer.SetListener(sdListeners.Metrics)
	}
	if err := metricsServer.Start(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	logger.Info().Msg("TimeLeak agent startup complete")
	logger.Info().Msgf("API: http://%s/api/v1", apiAddr)
	logger.Info().Msgf("Metrics: http://%s/metrics", metricsAddr)

	// Notify systemd that we're ready to serve requests
	if err := systemd.NotifyReady(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd ready notification")
	}

	// Wait for signals (shutdown or immediate sync)
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGHUP)

	for {
		sig := <-sigChan

		if sig == syscall.SIGHUP {
			logger.Info().Msg("SIGHUP received, triggering immediate sync...")
			scheduler.SyncNow()
			continue
		}

		logger.Info().Msg("Shutdown signal received, gracefully stopping...")
		break
	}

	// Notify systemd that we're stopping
	if err := systemd.NotifyStopping(); err != nil {
		logger.Warn().Err(err).Msg("Failed to send systemd stopping notification")
	}

	scheduler.Stop()

	if err := apiServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping API server")
	}
	if err := metricsServer.Stop(); err != nil {
		logger.Error().Err(err).Msg("Error stopping metrics server")
	}

	logger.Info().Msg("TimeLeak agent stopped")

	return nil
}

// buildPipeline wires the aggregation core on top of storage.
func buildPipeline(cfg *config.Config, clk clock.Clock, logger zerolog.Logger) (*pipeline, error) {
	store, err := openStorage(cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	loc := time.Local
	if cfg.Sync.Timezone != "" {
		loc, err = time.LoadLocation(cfg.Sync.Timezone)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to load sync timezone: %w", err)
		}
	}

	provider := usagestats.NewStoreProvider(store)

	reconciler := reconcile.New(reconcile.Config{
		LaunchDebounce: config.ParseDuration(cfg.Reconcile.LaunchDebounce, 2*time.Second),
		MaxSession:     config.ParseDuration(cfg.Reconcile.MaxSession, 4*time.Hour),
	}, logger)

	classifier := aggregate.NewClassifier(cfg.Classify.SocialMedia, cfg.Classify.Entertainment)

	aggregator := aggregate.New(
		provider,
		reconciler,
		classifier,
		clk,
		loc,
		config.ParseDuration(cfg.Reconcile.MaxDailyTotal, aggregate.MaxDailyScreenTime),
		logger,
	)

	goals := goal.New(
		store.State(),
		config.ParseDuration(cfg.Goal.Default, goal.DefaultFallbackGoal),
		cfg.Goal.BaselineRatio,
		logger,
	)

	ident := identity.NewStateProvider(store.State(), logger)

	sink := upload.NewHTTPSink(
		cfg.Upload.BaseURL,
		cfg.Upload.AuthToken,
		config.ParseDuration(cfg.Upload.Timeout, 30*time.Second),
		logger,
	)

	runner := syncer.New(syncer.Config{
		Provider:      provider,
		Aggregator:    aggregator,
		Goals:         goals,
		Identity:      ident,
		Sink:          sink,
		State:         store.State(),
		Usage:         store.Usage(),
		Clock:         clk,
		NoiseFloor:    config.ParseDuration(cfg.Sync.NoiseFloor, 60*time.Second),
		RetentionDays: cfg.Sync.RetentionDays,
	}, logger)

	return &pipeline{
		store:      store,
		provider:   provider,
		aggregator: aggregator,
		goals:      goals,
		ident:      ident,
		runner:     runner,
		loc:        loc,
	}, nil
}

func openStorage(cfg config.StorageConfig) (storage.Store, error) {
	switch cfg.Type {
	case "", "bolt":
		return boltstore.Open(cfg.Path)
	case "redis":
		return redis.Open(cfg.Redis)
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", cfg.Type)
	}
}

// setupLogger configures the logger based on configuration
func setupLogger(cfg config.LoggingConfig) zerolog.Logger {
	level := zerolog.InfoLevel
	switch cfg.Level {
	case "debug":
		level = zerolog.DebugLevel
	case "info":
		level = zerolog.InfoLevel
	case "warn":
		level = zerolog.WarnLevel
	case "error":
		level = zerolog.ErrorLevel
	}

	zerolog.SetGlobalLevel(level)

	// Console formatting is for interactive use; under systemd the
	// journal gets structured JSON regardless of the configured format.
	if cfg.Format == "text" && !systemd.IsSystemdService() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}

	// Default to JSON
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}
