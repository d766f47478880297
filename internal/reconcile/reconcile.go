// Package reconcile rebuilds per-app foreground time and launch counts
// from raw foreground transition events.
//
// Interval stats reported by collectors are coarse and can double-count
// time around window edges; replaying the event stream gives exact
// per-window totals. Replay is fail-soft: it never returns an error and
// a panic mid-stream yields whatever was accumulated up to that point.
package reconcile

import (
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/timeleak/timeleakd/internal/metrics"
	"github.com/timeleak/timeleakd/internal/usagestats"
)

// Config bounds session reconstruction.
type Config struct {
	// LaunchDebounce collapses a resume shortly after a pause of the
	// same app into the prior launch.
	LaunchDebounce time.Duration
	// MaxSession caps a single session; anything longer is treated as
	// a missed pause event and clamped.
	MaxSession time.Duration
}

// DefaultConfig returns the production reconciliation bounds.
func DefaultConfig() Config {
	return Config{
		LaunchDebounce: 2 * time.Second,
		MaxSession:     4 * time.Hour,
	}
}

// Result holds per-package totals rebuilt from the event stream.
type Result struct {
	// UsageTimes is accumulated foreground time per package.
	UsageTimes map[string]time.Duration
	// LaunchCounts is debounced launch counts per package.
	LaunchCounts map[string]int
}

// Reconciler replays foreground events into per-app totals.
type Reconciler struct {
	cfg    Config
	logger zerolog.Logger
}

// New creates a reconciler with the given bounds.
func New(cfg Config, logger zerolog.Logger) *Reconciler {
	if cfg.LaunchDebounce <= 0 {
		cfg.LaunchDebounce = DefaultConfig().LaunchDebounce
	}
	if cfg.MaxSession <= 0 {
		cfg.MaxSession = DefaultConfig().MaxSession
	}
	return &Reconciler{
		cfg:    cfg,
		logger: logger.With().Str("component", "reconcile").Logger(),
	}
}

// session tracks one open foreground interval.
type session struct {
	start time.Time
}

// Replay walks events in chronological order and rebuilds foreground
// time and launch counts for [windowStart, windowEnd). Sessions still
// open when the stream ends are closed at min(now, windowEnd). Events
// outside the window are discarded.
func (r *Reconciler) Replay(events []usagestats.Event, windowStart, windowEnd, now time.Time) Result {
	result := Result{
		UsageTimes:   make(map[string]time.Duration),
		LaunchCounts: make(map[string]int),
	}

	open := make(map[string]session)
	lastResume := make(map[string]time.Time)

	defer func() {
		if rec := recover(); rec != nil {
			metrics.ReconcileRecoveries.Inc()
			r.logger.Error().
				Interface("panic", rec).
				Time("window_start", windowStart).
				Time("window_end", windowEnd).
				Msg("Recovered during event replay, returning partial totals")
		}
	}()

	// Collectors deliver events in order, but merged batches can
	// interleave. Sort only when needed.
	if !sort.SliceIsSorted(events, func(i, j int) bool {
		return events[i].At.Before(events[j].At)
	}) {
		sorted := make([]usagestats.Event, len(events))
		copy(sorted, events)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].At.Before(sorted[j].At)
		})
		events = sorted
	}

	for _, ev := range events {
		if ev.At.Before(windowStart) || !ev.At.Before(windowEnd) {
			metrics.EventsDiscarded.WithLabelValues("out_of_window").Inc()
			r.logger.Debug().
				Str("package", ev.Package).
				Time("at", ev.At).
				Msg("Discarding event outside window")
			continue
		}

		switch ev.Type {
		case usagestats.EventResumed:
			// A resume shortly after the previous resume is a rapid
			// app switch, not a new launch.
			if last, ok := lastResume[ev.Package]; !ok || ev.At.Sub(last) >= r.cfg.LaunchDebounce {
				result.LaunchCounts[ev.Package]++
			}
			lastResume[ev.Package] = ev.At
			open[ev.Package] = session{start: ev.At}

		case usagestats.EventPaused:
			sess, ok := open[ev.Package]
			if !ok {
				// Pause for a session that opened before the window.
				metrics.EventsDiscarded.WithLabelValues("unmatched_pause").Inc()
				continue
			}
			delete(open, ev.Package)
			if d := ev.At.Sub(sess.start); d > 0 {
				result.UsageTimes[ev.Package] += r.clampSession(ev.Package, d)
			}

		default:
			metrics.EventsDiscarded.WithLabelValues("unknown_type").Inc()
		}
	}

	// Apps still in the foreground when the stream ends.
	closeAt := now
	if windowEnd.Before(closeAt) {
		closeAt = windowEnd
	}
	for pkg, sess := range open {
		if !closeAt.After(sess.start) {
			continue
		}
		result.UsageTimes[pkg] += r.clampSession(pkg, closeAt.Sub(sess.start))
	}

	return result
}

func (r *Reconciler) clampSession(pkg string, d time.Duration) time.Duration {
	if d <= r.cfg.MaxSession {
		return d
	}
	metrics.SessionsClamped.Inc()
	r.logger.Warn().
		Str("package", pkg).
		Dur("session", d).
		Dur("max", r.cfg.MaxSession).
		Msg("Clamping session to per-session maximum")
	return r.cfg.MaxSession
}
