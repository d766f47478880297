// Package goal manages the user's daily screen time goal.
package goal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/timeleak/timeleakd/internal/storage"
)

// ErrGoalExceedsBaseline is returned when a requested goal is larger
// than the captured baseline. Goals represent reduction targets and
// may never exceed the baseline.
var ErrGoalExceedsBaseline = errors.New("goal: requested goal exceeds baseline")

// DefaultFallbackGoal applies when neither a goal nor a baseline has
// been recorded.
const DefaultFallbackGoal = 4*time.Hour + 30*time.Minute

// Band classifies goal progress for presentation.
type Band string

const (
	BandGood    Band = "good"
	BandWarning Band = "warning"
	BandOver    Band = "over"
)

// Progress describes current usage relative to the goal.
type Progress struct {
	Goal      time.Duration
	Used      time.Duration
	// Fraction is used/goal capped at 1.0.
	Fraction  float64
	Remaining time.Duration
	Over      time.Duration
	IsOver    bool
	Band      Band
}

// Engine derives and persists goal state.
type Engine struct {
	state         storage.StateStore
	fallback      time.Duration
	baselineRatio float64
	logger        zerolog.Logger
}

// New creates a goal engine. fallback and ratio come from config;
// zero values select the defaults.
func New(state storage.StateStore, fallback time.Duration, baselineRatio float64, logger zerolog.Logger) *Engine {
	if fallback <= 0 {
		fallback = DefaultFallbackGoal
	}
	if baselineRatio <= 0 || baselineRatio > 1 {
		baselineRatio = 0.9
	}
	return &Engine{
		state:         state,
		fallback:      fallback,
		baselineRatio: baselineRatio,
		logger:        logger.With().Str("component", "goal").Logger(),
	}
}

// Goal returns the persisted goal if one is set. Otherwise it derives
// a default from the baseline, or falls back to the fixed default when
// no baseline has been captured.
func (e *Engine) Goal(ctx context.Context) (time.Duration, error) {
	ms, err := e.state.GetInt64(ctx, storage.KeyGoalTime)
	if err == nil {
		return time.Duration(ms) * time.Millisecond, nil
	}
	if !errors.Is(err, storage.ErrNotFound) {
		return 0, err
	}

	baseline, ok, err := e.Baseline(ctx)
	if err != nil {
		return 0, err
	}
	if ok {
		return time.Duration(float64(baseline) * e.baselineRatio), nil
	}
	return e.fallback, nil
}

// SetGoal persists a new goal. It is rejected when it exceeds the
// captured baseline.
func (e *Engine) SetGoal(ctx context.Context, goal time.Duration) error {
	if goal <= 0 {
		return fmt.Errorf("goal: goal must be positive, got %v", goal)
	}

	baseline, ok, err := e.Baseline(ctx)
	if err != nil {
		return err
	}
	if ok && goal > baseline {
		return fmt.Errorf("%w: %v > %v", ErrGoalExceedsBaseline, goal, baseline)
	}

	if err := e.state.PutInt64(ctx, storage.KeyGoalTime, goal.Milliseconds()); err != nil {
		return err
	}
	e.logger.Info().Dur("goal", goal).Msg("Goal updated")
	return nil
}

// Baseline returns the captured baseline. ok is false when none has
// been captured yet.
func (e *Engine) Baseline(ctx context.Context) (baseline time.Duration, ok bool, err error) {
	set, err := e.state.GetBool(ctx, storage.KeyBaselineSet)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if !set {
		return 0, false, nil
	}

	ms, err := e.state.GetInt64(ctx, storage.KeyBaseline)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return time.Duration(ms) * time.Millisecond, true, nil
}

// CaptureBaseline records the baseline once. Subsequent calls are
// no-ops, so a backfilled capture cannot overwrite an earlier one.
func (e *Engine) CaptureBaseline(ctx context.Context, baseline time.Duration) error {
	if baseline <= 0 {
		return fmt.Errorf("goal: baseline must be positive, got %v", baseline)
	}

	_, ok, err := e.Baseline(ctx)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	if err := e.state.PutInt64(ctx, storage.KeyBaseline, baseline.Milliseconds()); err != nil {
		return err
	}
	if err := e.state.PutBool(ctx, storage.KeyBaselineSet, true); err != nil {
		return err
	}
	e.logger.Info().Dur("baseline", baseline).Msg("Baseline captured")
	return nil
}

// ProgressFor derives goal progress for the given usage.
func (e *Engine) ProgressFor(ctx context.Context, used time.Duration) (Progress, error) {
	goal, err := e.Goal(ctx)
	if err != nil {
		return Progress{}, err
	}
	return computeProgress(goal, used), nil
}

func computeProgress(goal, used time.Duration) Progress {
	p := Progress{Goal: goal, Used: used}

	fraction := float64(used) / float64(goal)
	if fraction > 1 {
		p.Fraction = 1
	} else {
		p.Fraction = fraction
	}

	if used > goal {
		p.IsOver = true
		p.Over = used - goal
		p.Band = BandOver
	} else {
		p.Remaining = goal - used
		if fraction < 0.8 {
			p.Band = BandGood
		} else {
			p.Band = BandWarning
		}
	}
	return p
}
