// Package syncer implements the daily sync run sequence: aggregate the
// trailing day, upload it, and advance last-run bookkeeping.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/timeleak/timeleakd/internal/aggregate"
	"github.com/timeleak/timeleakd/internal/clock"
	"github.com/timeleak/timeleakd/internal/goal"
	"github.com/timeleak/timeleakd/internal/identity"
	"github.com/timeleak/timeleakd/internal/metrics"
	"github.com/timeleak/timeleakd/internal/storage"
	"github.com/timeleak/timeleakd/internal/upload"
	"github.com/timeleak/timeleakd/internal/usagestats"
)

// Outcome classifies how a sync run ended.
type Outcome string

const (
	// OutcomeCompleted means a snapshot was uploaded.
	OutcomeCompleted Outcome = "completed"
	// OutcomeSkippedNoData means usage was below the noise floor; the
	// run still counts as successful and advances last-run time.
	OutcomeSkippedNoData Outcome = "skipped_no_data"
	// OutcomeNoUsageAccess means collection permission is missing.
	// Terminal for this cycle, not retried.
	OutcomeNoUsageAccess Outcome = "no_usage_access"
	// OutcomeNotAuthenticated means nobody is signed in. Terminal for
	// this cycle, not retried.
	OutcomeNotAuthenticated Outcome = "not_authenticated"
	// OutcomeFailed means the run errored; the scheduler decides
	// whether to back off and retry.
	OutcomeFailed Outcome = "failed"
)

// Runner executes one sync pass.
type Runner struct {
	provider      usagestats.Provider
	aggregator    *aggregate.Aggregator
	goals         *goal.Engine
	ident         identity.Provider
	sink          upload.Sink
	state         storage.StateStore
	usage         storage.UsageStore
	clk           clock.Clock
	noiseFloor    time.Duration
	retentionDays int
	logger        zerolog.Logger
}

// Config wires a Runner.
type Config struct {
	Provider      usagestats.Provider
	Aggregator    *aggregate.Aggregator
	Goals         *goal.Engine
	Identity      identity.Provider
	Sink          upload.Sink
	State         storage.StateStore
	Usage         storage.UsageStore
	Clock         clock.Clock
	NoiseFloor    time.Duration
	RetentionDays int
}

// New creates a sync runner.
func New(cfg Config, logger zerolog.Logger) *Runner {
	if cfg.NoiseFloor <= 0 {
		cfg.NoiseFloor = 60 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.RealClock{}
	}
	return &Runner{
		provider:      cfg.Provider,
		aggregator:    cfg.Aggregator,
		goals:         cfg.Goals,
		ident:         cfg.Identity,
		sink:          cfg.Sink,
		state:         cfg.State,
		usage:         cfg.Usage,
		clk:           cfg.Clock,
		noiseFloor:    cfg.NoiseFloor,
		retentionDays: cfg.RetentionDays,
		logger:        logger.With().Str("component", "syncer").Logger(),
	}
}

// Run executes one sync pass: permission check, auth check, trailing
// 24h aggregation, noise-floor gate, upload, last-run bookkeeping,
// retention pruning. The returned error is non-nil only for
// OutcomeFailed; the scheduler inspects it for retryability.
func (r *Runner) Run(ctx context.Context) (outcome Outcome, err error) {
	began := time.Now()
	defer func() {
		metrics.SyncRunsTotal.WithLabelValues(string(outcome)).Inc()
		metrics.SyncDuration.Observe(time.Since(began).Seconds())
	}()

	hasAccess, err := r.provider.HasUsageAccess(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("syncer: check usage access: %w", err)
	}
	if !hasAccess {
		r.logger.Info().Msg("Usage access not granted, skipping sync")
		return OutcomeNoUsageAccess, nil
	}

	user, err := r.ident.CurrentUser(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("syncer: resolve user: %w", err)
	}
	if user == nil {
		r.logger.Info().Msg("No signed-in user, skipping sync")
		return OutcomeNotAuthenticated, nil
	}

	day, err := r.aggregator.TrailingDay(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("syncer: aggregate: %w", err)
	}
	if day == nil {
		return OutcomeNoUsageAccess, nil
	}

	// Backfill the baseline from the 30-day average once it becomes
	// available. CaptureBaseline is a no-op when one already exists.
	if avg, ok, avgErr := r.aggregator.ThirtyDayAverage(ctx); avgErr != nil {
		r.logger.Warn().Err(avgErr).Msg("Failed to compute 30-day average")
	} else if ok {
		if capErr := r.goals.CaptureBaseline(ctx, avg); capErr != nil {
			r.logger.Warn().Err(capErr).Msg("Failed to capture baseline")
		}
	}

	if day.TotalScreenTime <= r.noiseFloor {
		// Legitimately idle device. Recording last-run avoids a tight
		// retry loop.
		r.logger.Info().
			Dur("total", day.TotalScreenTime).
			Dur("noise_floor", r.noiseFloor).
			Msg("Usage below noise floor, skipping upload")
		r.recordLastRun(ctx)
		return OutcomeSkippedNoData, nil
	}

	goalTime, err := r.goals.Goal(ctx)
	if err != nil {
		return OutcomeFailed, fmt.Errorf("syncer: resolve goal: %w", err)
	}

	if err := r.sink.Upsert(ctx, *user, day, goalTime); err != nil {
		return OutcomeFailed, err
	}

	r.recordLastRun(ctx)
	r.prune(ctx)

	r.logger.Info().
		Str("date", day.Date).
		Dur("total", day.TotalScreenTime).
		Int("apps", len(day.TopApps)).
		Msg("Sync completed")
	return OutcomeCompleted, nil
}

// LastRun returns the time of the last successful or soft-skipped run.
// ok is false when no run has completed yet.
func (r *Runner) LastRun(ctx context.Context) (time.Time, bool, error) {
	ms, err := r.state.GetInt64(ctx, storage.KeyLastRunTime)
	if errors.Is(err, storage.ErrNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return time.UnixMilli(ms), true, nil
}

func (r *Runner) recordLastRun(ctx context.Context) {
	if err := r.state.PutInt64(ctx, storage.KeyLastRunTime, r.clk.Now().UnixMilli()); err != nil {
		r.logger.Error().Err(err).Msg("Failed to record last-run time")
	}
}

// prune drops usage records past the retention horizon. Old records
// only feed the 30-day average, so pruning failures are logged and
// otherwise ignored.
func (r *Runner) prune(ctx context.Context) {
	if r.retentionDays <= 0 || r.usage == nil {
		return
	}
	cutoff := r.clk.Now().Add(-time.Duration(r.retentionDays) * 24 * time.Hour)
	n, err := r.usage.DeleteBefore(ctx, cutoff)
	if err != nil {
		r.logger.Error().Err(err).Msg("Retention pruning failed")
		return
	}
	if n > 0 {
		metrics.RecordsPruned.Add(float64(n))
		r.logger.Info().Int("records", n).Time("cutoff", cutoff).Msg("Pruned old usage records")
	}
}
