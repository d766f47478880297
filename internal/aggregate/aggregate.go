// Package aggregate turns raw usage data into daily per-app summaries.
package aggregate

import (
	"context"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/timeleak/timeleakd/internal/clock"
	"github.com/timeleak/timeleakd/internal/metrics"
	"github.com/timeleak/timeleakd/internal/reconcile"
	"github.com/timeleak/timeleakd/internal/usagestats"
)

const (
	// MaxDailyScreenTime is the hard cap on any daily total.
	MaxDailyScreenTime = 24 * time.Hour
	// TopAppsLimit bounds the per-app list in a snapshot.
	TopAppsLimit = 100
)

// AppUsage is the final per-app result for one day.
type AppUsage struct {
	PackageName  string
	AppName      string
	Category     Category
	UsageTime    time.Duration
	LastTimeUsed time.Time
	LaunchCount  int
}

// DailyUsage is an immutable snapshot of one day's usage. It is built
// once per aggregation run and superseded, never merged, by the next
// run's snapshot.
type DailyUsage struct {
	Date              string
	TotalScreenTime   time.Duration
	TopApps           []AppUsage
	SocialMediaTime   time.Duration
	EntertainmentTime time.Duration
}

// Aggregator builds daily usage snapshots from the usage provider.
type Aggregator struct {
	provider   usagestats.Provider
	reconciler *reconcile.Reconciler
	classifier *Classifier
	clk        clock.Clock
	loc        *time.Location
	maxDaily   time.Duration
	logger     zerolog.Logger
}

// New creates an aggregator. loc determines where calendar-day
// boundaries fall; windows are computed as UTC instants internally.
func New(provider usagestats.Provider, rec *reconcile.Reconciler, classifier *Classifier, clk clock.Clock, loc *time.Location, maxDaily time.Duration, logger zerolog.Logger) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	if maxDaily <= 0 || maxDaily > MaxDailyScreenTime {
		maxDaily = MaxDailyScreenTime
	}
	return &Aggregator{
		provider:   provider,
		reconciler: rec,
		classifier: classifier,
		clk:        clk,
		loc:        loc,
		maxDaily:   maxDaily,
		logger:     logger.With().Str("component", "aggregate").Logger(),
	}
}

// TrailingDay aggregates the trailing 24 hours ending now. The sync
// worker uses this window so a device asleep at midnight still reports
// a full day.
func (a *Aggregator) TrailingDay(ctx context.Context) (*DailyUsage, error) {
	now := a.clk.Now()
	return a.Aggregate(ctx, now.Add(-24*time.Hour), now)
}

// CalendarDay aggregates from local midnight to now, matching the
// dashboard's notion of "today".
func (a *Aggregator) CalendarDay(ctx context.Context) (*DailyUsage, error) {
	now := a.clk.Now()
	local := now.In(a.loc)
	midnight := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, a.loc)
	return a.Aggregate(ctx, midnight, now)
}

// Aggregate builds a snapshot for [start, end). It returns (nil, nil)
// when usage access has not been granted; callers must treat that as
// "no data", not an empty day.
func (a *Aggregator) Aggregate(ctx context.Context, start, end time.Time) (*DailyUsage, error) {
	began := time.Now()
	defer func() {
		metrics.AggregateDuration.WithLabelValues("day").Observe(time.Since(began).Seconds())
	}()

	hasAccess, err := a.provider.HasUsageAccess(ctx)
	if err != nil {
		return nil, err
	}
	if !hasAccess {
		a.logger.Info().Msg("Usage access not granted, skipping aggregation")
		return nil, nil
	}

	samples, err := a.provider.QueryIntervalStats(ctx, start, end)
	if err != nil {
		return nil, err
	}

	events, err := a.provider.QueryEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}
	reconciled := a.reconciler.Replay(events, start, end, a.clk.Now())

	apps := make([]AppUsage, 0, len(samples))
	for _, s := range samples {
		usage := s.TotalForeground
		if rt, ok := reconciled.UsageTimes[s.Package]; ok {
			// Replayed event time is authoritative over the coarse
			// interval stat.
			usage = rt
		}
		usage = a.clampUsage(s.Package, usage)

		if usage <= 0 {
			continue
		}
		if s.LastUsed.Before(start) || !s.LastUsed.Before(end) {
			continue
		}

		apps = append(apps, AppUsage{
			PackageName:  s.Package,
			AppName:      a.classifier.DisplayName(s.Package),
			Category:     a.classifier.Category(s.Package),
			UsageTime:    usage,
			LastTimeUsed: s.LastUsed,
			LaunchCount:  reconciled.LaunchCounts[s.Package],
		})
	}

	var total, social, entertainment time.Duration
	for _, app := range apps {
		total += app.UsageTime
		switch app.Category {
		case CategorySocialMedia:
			social += app.UsageTime
		case CategoryEntertainment:
			entertainment += app.UsageTime
		}
	}
	if total > a.maxDaily {
		a.logger.Warn().
			Dur("total", total).
			Dur("max", a.maxDaily).
			Msg("Clamping daily total to maximum")
		total = a.maxDaily
	}

	sort.SliceStable(apps, func(i, j int) bool {
		return apps[i].UsageTime > apps[j].UsageTime
	})
	if len(apps) > TopAppsLimit {
		apps = apps[:TopAppsLimit]
	}

	return &DailyUsage{
		Date:              end.In(a.loc).Format("2006-01-02"),
		TotalScreenTime:   total,
		TopApps:           apps,
		SocialMediaTime:   social,
		EntertainmentTime: entertainment,
	}, nil
}

// ThirtyDayAverage returns the average daily screen time over the
// trailing 30 days. ok is false when no data exists in the window.
func (a *Aggregator) ThirtyDayAverage(ctx context.Context) (avg time.Duration, ok bool, err error) {
	began := time.Now()
	defer func() {
		metrics.AggregateDuration.WithLabelValues("thirty_day").Observe(time.Since(began).Seconds())
	}()

	hasAccess, err := a.provider.HasUsageAccess(ctx)
	if err != nil || !hasAccess {
		return 0, false, err
	}

	now := a.clk.Now()
	samples, err := a.provider.QueryIntervalStats(ctx, now.Add(-30*24*time.Hour), now)
	if err != nil {
		return 0, false, err
	}

	dayTotals := make(map[string]time.Duration)
	for _, s := range samples {
		day := s.LastUsed.In(a.loc).Format("2006-01-02")
		dayTotals[day] += a.clampUsage(s.Package, s.TotalForeground)
	}
	if len(dayTotals) == 0 {
		return 0, false, nil
	}

	var sum time.Duration
	for _, total := range dayTotals {
		if total > a.maxDaily {
			total = a.maxDaily
		}
		sum += total
	}
	return sum / time.Duration(len(dayTotals)), true, nil
}

// clampUsage bounds a per-app value to [0, maxDaily]. Negative values
// come from OS clock or accounting anomalies and clamp to zero.
func (a *Aggregator) clampUsage(pkg string, d time.Duration) time.Duration {
	if d < 0 {
		metrics.NegativeUsageClamped.Inc()
		a.logger.Warn().
			Str("package", pkg).
			Dur("usage", d).
			Msg("Clamping negative usage to zero")
		return 0
	}
	if d > a.maxDaily {
		a.logger.Warn().
			Str("package", pkg).
			Dur("usage", d).
			Dur("max", a.maxDaily).
			Msg("Clamping per-app usage to daily maximum")
		return a.maxDaily
	}
	return d
}
