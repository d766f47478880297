// Package sched owns the daily sync schedule: one persisted work item,
// re-armed after every run.
package sched

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/timeleak/timeleakd/internal/clock"
	"github.com/timeleak/timeleakd/internal/storage"
	"github.com/timeleak/timeleakd/internal/syncer"
	"github.com/timeleak/timeleakd/internal/upload"
)

// Slot names the single recurring sync work item. The work store keeps
// at most one item per slot, so re-arm races resolve to last-write-wins.
const Slot = "daily_sync"

// Runner executes one sync pass.
type Runner interface {
	Run(ctx context.Context) (syncer.Outcome, error)
}

// Config bounds scheduling behavior.
type Config struct {
	// TargetTime is the daily fire time in HH:MM form.
	TargetTime string
	// Location is where the target time is interpreted. Nil means the
	// system local zone.
	Location *time.Location
	// BackoffBase is the first retry delay; it doubles per attempt.
	BackoffBase time.Duration
	// MaxRetries bounds retry attempts before falling back to the next
	// daily target.
	MaxRetries int
}

// Status reports the schedule and the most recent run.
type Status struct {
	Pending     *storage.ScheduledWork
	LastOutcome syncer.Outcome
	LastError   string
	LastRunAt   time.Time
}

// Scheduler drives the daily sync. Exactly one work item exists for the
// slot at any time; every run, whatever its outcome, replaces it with
// the next occurrence before returning.
type Scheduler struct {
	work   storage.WorkStore
	runner Runner
	clk    clock.Clock
	logger zerolog.Logger

	targetHour   int
	targetMinute int
	loc          *time.Location
	backoffBase  time.Duration
	maxRetries   int

	stopChan  chan struct{}
	wakeChan  chan struct{}
	rearmChan chan struct{}
	stopOnce  sync.Once
	wg        sync.WaitGroup

	mu          sync.Mutex
	lastOutcome syncer.Outcome
	lastErr     error
	lastRunAt   time.Time
}

// New creates a scheduler.
func New(work storage.WorkStore, runner Runner, clk clock.Clock, cfg Config, logger zerolog.Logger) (*Scheduler, error) {
	if cfg.TargetTime == "" {
		cfg.TargetTime = "23:59"
	}
	parsed, err := time.Parse("15:04", cfg.TargetTime)
	if err != nil {
		return nil, fmt.Errorf("sched: parse target time: %w", err)
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 15 * time.Minute
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if clk == nil {
		clk = clock.RealClock{}
	}

	return &Scheduler{
		work:         work,
		runner:       runner,
		clk:          clk,
		logger:       logger.With().Str("component", "sched").Logger(),
		targetHour:   parsed.Hour(),
		targetMinute: parsed.Minute(),
		loc:          cfg.Location,
		backoffBase:  cfg.BackoffBase,
		maxRetries:   cfg.MaxRetries,
		stopChan:     make(chan struct{}),
		wakeChan:     make(chan struct{}, 1),
		rearmChan:    make(chan struct{}, 1),
	}, nil
}

// Start ensures a work item is enqueued and begins the fire loop.
func (s *Scheduler) Start(ctx context.Context) error {
	if err := s.ensureEnqueued(ctx); err != nil {
		return err
	}

	s.wg.Add(1)
	go s.run(ctx)
	s.logger.Info().
		Str("target", fmt.Sprintf("%02d:%02d", s.targetHour, s.targetMinute)).
		Msg("Sync scheduler started")
	return nil
}

// Stop halts the fire loop. An in-flight run finishes and re-arms.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() { close(s.stopChan) })
	s.wg.Wait()
	s.logger.Info().Msg("Sync scheduler stopped")
}

// SyncNow requests an immediate run. It returns false when a run is
// already pending on the wake channel.
func (s *Scheduler) SyncNow() bool {
	select {
	case s.wakeChan <- struct{}{}:
		return true
	default:
		return false
	}
}

// Reset cancels the enqueued work and re-initializes the schedule with
// a freshly computed target. Destructive replace: any in-flight run's
// eventual re-arm loses to whichever Replace lands last. The fire loop
// is nudged to recompute its wait so a previously armed timer (a
// pending backoff retry, say) does not fire at the old target.
func (s *Scheduler) Reset(ctx context.Context) error {
	now := s.clk.Now()
	if err := s.enqueue(ctx, s.nextTarget(now), 0); err != nil {
		return err
	}
	select {
	case s.rearmChan <- struct{}{}:
	default:
	}
	s.logger.Info().Msg("Sync schedule reset")
	return nil
}

// Status returns the pending work item and last-run information.
func (s *Scheduler) Status(ctx context.Context) (Status, error) {
	pending, err := s.work.Get(ctx, Slot)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return Status{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{
		Pending:     pending,
		LastOutcome: s.lastOutcome,
		LastRunAt:   s.lastRunAt,
	}
	if s.lastErr != nil {
		st.LastError = s.lastErr.Error()
	}
	return st, nil
}

func (s *Scheduler) run(ctx context.Context) {
	defer s.wg.Done()
	for {
		wait := s.waitDuration(ctx)
		s.logger.Info().Dur("wait", wait).Msg("Waiting for next sync fire")

		select {
		case <-time.After(wait):
			s.RunOnce(ctx)
		case <-s.wakeChan:
			s.logger.Info().Msg("Immediate sync requested")
			s.RunOnce(ctx)
		case <-s.rearmChan:
			// The persisted target changed under us; recompute the
			// wait without running.
			s.logger.Info().Msg("Schedule replaced, recomputing wait")
		case <-s.stopChan:
			return
		case <-ctx.Done():
			return
		}
	}
}

// waitDuration reads the persisted target so restarts and resets pick
// up where the stored schedule left off.
func (s *Scheduler) waitDuration(ctx context.Context) time.Duration {
	work, err := s.work.Get(ctx, Slot)
	if err != nil {
		if !errors.Is(err, storage.ErrNotFound) {
			s.logger.Error().Err(err).Msg("Failed to read scheduled work")
		}
		if err := s.ensureEnqueued(ctx); err != nil {
			s.logger.Error().Err(err).Msg("Failed to re-enqueue scheduled work")
			return time.Minute
		}
		work, err = s.work.Get(ctx, Slot)
		if err != nil {
			return time.Minute
		}
	}

	wait := work.TargetAt.Sub(s.clk.Now())
	if wait < 0 {
		wait = 0
	}
	return wait
}

// RunOnce executes one run sequence and re-arms the schedule. The
// re-arm is structurally guaranteed: it runs in a deferred step on
// every exit path, panics included. A missed re-arm would silently end
// all future syncs.
func (s *Scheduler) RunOnce(ctx context.Context) (outcome syncer.Outcome, err error) {
	attempt := 0
	if work, getErr := s.work.Get(ctx, Slot); getErr == nil {
		attempt = work.Attempt
	}

	s.markRunning(ctx, attempt)

	defer func() {
		if rec := recover(); rec != nil {
			outcome = syncer.OutcomeFailed
			err = fmt.Errorf("sched: run panicked: %v", rec)
			s.logger.Error().Interface("panic", rec).Msg("Recovered from panicked sync run")
		}
		s.rearm(ctx, outcome, err, attempt)
		s.recordRun(outcome, err)
	}()

	outcome, err = s.runner.Run(ctx)
	return outcome, err
}

// rearm replaces the work item with the next occurrence. Retryable
// failures back off exponentially within the same cycle; everything
// else rolls to the next daily target with the attempt counter reset.
func (s *Scheduler) rearm(ctx context.Context, outcome syncer.Outcome, runErr error, attempt int) {
	now := s.clk.Now()

	target := s.nextTarget(now)
	nextAttempt := 0

	if runErr != nil && upload.IsRetryable(runErr) && attempt < s.maxRetries {
		target = now.Add(s.backoff(attempt))
		nextAttempt = attempt + 1
		s.logger.Warn().
			Err(runErr).
			Int("attempt", nextAttempt).
			Time("retry_at", target).
			Msg("Sync failed, backing off")
	} else if runErr != nil {
		s.logger.Error().
			Err(runErr).
			Str("outcome", string(outcome)).
			Time("next_target", target).
			Msg("Sync failed, deferring to next daily target")
	}

	if err := s.enqueue(ctx, target, nextAttempt); err != nil {
		s.logger.Error().Err(err).Msg("Failed to re-arm sync schedule")
	}
}

func (s *Scheduler) backoff(attempt int) time.Duration {
	d := s.backoffBase
	for i := 0; i < attempt; i++ {
		d *= 2
	}
	return d
}

// nextTarget computes the next daily fire instant. It is recomputed
// fresh on every re-arm: wall-clock drift and DST transitions make a
// stored duration unsafe.
func (s *Scheduler) nextTarget(now time.Time) time.Time {
	local := now.In(s.loc)
	target := time.Date(local.Year(), local.Month(), local.Day(), s.targetHour, s.targetMinute, 0, 0, s.loc)
	if !target.After(local) {
		target = target.AddDate(0, 0, 1)
	}
	return target
}

func (s *Scheduler) ensureEnqueued(ctx context.Context) error {
	work, err := s.work.Get(ctx, Slot)
	if err == nil {
		// A stale running state means the process died mid-run; the
		// stored target may be long past, which fires immediately.
		if work.State == storage.WorkRunning {
			return s.enqueue(ctx, work.TargetAt, work.Attempt)
		}
		return nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return err
	}
	return s.enqueue(ctx, s.nextTarget(s.clk.Now()), 0)
}

func (s *Scheduler) enqueue(ctx context.Context, target time.Time, attempt int) error {
	return s.work.Replace(ctx, storage.ScheduledWork{
		Slot:       Slot,
		ID:         storage.NewID(),
		TargetAt:   target,
		State:      storage.WorkEnqueued,
		Attempt:    attempt,
		EnqueuedAt: s.clk.Now(),
	})
}

func (s *Scheduler) markRunning(ctx context.Context, attempt int) {
	err := s.work.Replace(ctx, storage.ScheduledWork{
		Slot:       Slot,
		ID:         storage.NewID(),
		TargetAt:   s.clk.Now(),
		State:      storage.WorkRunning,
		Attempt:    attempt,
		EnqueuedAt: s.clk.Now(),
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to mark work running")
	}
}

func (s *Scheduler) recordRun(outcome syncer.Outcome, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastOutcome = outcome
	s.lastErr = err
	s.lastRunAt = s.clk.Now()
}
