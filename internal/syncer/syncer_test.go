package syncer

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/timeleak/timeleakd/internal/aggregate"
	"github.com/timeleak/timeleakd/internal/clock"
	"github.com/timeleak/timeleakd/internal/goal"
	"github.com/timeleak/timeleakd/internal/identity"
	"github.com/timeleak/timeleakd/internal/reconcile"
	"github.com/timeleak/timeleakd/internal/storage"
	boltstore "github.com/timeleak/timeleakd/internal/storage/bolt"
	"github.com/timeleak/timeleakd/internal/upload"
	"github.com/timeleak/timeleakd/internal/usagestats"
)

var base = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeSink records uploads and can fail on demand.
type fakeSink struct {
	err     error
	uploads int
	lastDay *aggregate.DailyUsage
}

func (f *fakeSink) Upsert(_ context.Context, _ identity.User, day *aggregate.DailyUsage, _ time.Duration) error {
	if f.err != nil {
		return f.err
	}
	f.uploads++
	f.lastDay = day
	return nil
}

type fixture struct {
	runner *Runner
	store  storage.Store
	sink   *fakeSink
	clk    *clock.TestClock
}

func newFixture(t *testing.T, signedIn, hasAccess bool) *fixture {
	t.Helper()
	ctx := context.Background()

	store, err := boltstore.Open(filepath.Join(t.TempDir(), "timeleak.bolt"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if hasAccess {
		if err := store.State().PutBool(ctx, storage.KeyUsageAccess, true); err != nil {
			t.Fatalf("set usage access: %v", err)
		}
	}

	ident := identity.NewStateProvider(store.State(), zerolog.Nop())
	if signedIn {
		if err := ident.SetUser(ctx, identity.User{UID: "user-1"}); err != nil {
			t.Fatalf("set user: %v", err)
		}
	}

	clk := &clock.TestClock{CurrentTime: base}
	provider := usagestats.NewStoreProvider(store)
	rec := reconcile.New(reconcile.DefaultConfig(), zerolog.Nop())
	agg := aggregate.New(provider, rec, aggregate.NewClassifier(nil, nil), clk, time.UTC, aggregate.MaxDailyScreenTime, zerolog.Nop())
	goals := goal.New(store.State(), 0, 0, zerolog.Nop())
	sink := &fakeSink{}

	runner := New(Config{
		Provider:      provider,
		Aggregator:    agg,
		Goals:         goals,
		Identity:      ident,
		Sink:          sink,
		State:         store.State(),
		Usage:         store.Usage(),
		Clock:         clk,
		NoiseFloor:    60 * time.Second,
		RetentionDays: 35,
	}, zerolog.Nop())

	return &fixture{runner: runner, store: store, sink: sink, clk: clk}
}

func (f *fixture) addSession(t *testing.T, pkg string, start time.Time, d time.Duration) {
	t.Helper()
	ctx := context.Background()
	end := start.Add(d)
	if err := f.store.Usage().AddEvents(ctx, []storage.UsageEvent{
		{PackageName: pkg, Type: storage.EventResumed, Timestamp: start},
		{PackageName: pkg, Type: storage.EventPaused, Timestamp: end},
	}); err != nil {
		t.Fatalf("add events: %v", err)
	}
	if err := f.store.Usage().AddSamples(ctx, []storage.UsageSample{
		{PackageName: pkg, TotalTimeForegroundMs: d.Milliseconds(), LastTimeUsed: end},
	}); err != nil {
		t.Fatalf("add samples: %v", err)
	}
}

func TestRunCompleted(t *testing.T) {
	f := newFixture(t, true, true)
	f.addSession(t, "com.example.a", base.Add(-2*time.Hour), 30*time.Minute)

	outcome, err := f.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeCompleted {
		t.Fatalf("expected completed, got %s", outcome)
	}
	if f.sink.uploads != 1 {
		t.Errorf("expected 1 upload, got %d", f.sink.uploads)
	}
	if f.sink.lastDay.TotalScreenTime != 30*time.Minute {
		t.Errorf("expected 30m uploaded, got %v", f.sink.lastDay.TotalScreenTime)
	}

	last, ok, err := f.runner.LastRun(context.Background())
	if err != nil || !ok {
		t.Fatalf("LastRun: ok=%v err=%v", ok, err)
	}
	if !last.Equal(base) {
		t.Errorf("expected last run at %v, got %v", base, last)
	}
}

func TestRunNoUsageAccess(t *testing.T) {
	f := newFixture(t, true, false)

	outcome, err := f.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeNoUsageAccess {
		t.Fatalf("expected no_usage_access, got %s", outcome)
	}
	if f.sink.uploads != 0 {
		t.Errorf("expected no uploads, got %d", f.sink.uploads)
	}
}

func TestRunNotAuthenticated(t *testing.T) {
	f := newFixture(t, false, true)
	f.addSession(t, "com.example.a", base.Add(-2*time.Hour), 30*time.Minute)

	outcome, err := f.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeNotAuthenticated {
		t.Fatalf("expected not_authenticated, got %s", outcome)
	}
}

func TestRunSkipsBelowNoiseFloor(t *testing.T) {
	f := newFixture(t, true, true)
	f.addSession(t, "com.example.a", base.Add(-2*time.Hour), 30*time.Second)

	outcome, err := f.runner.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if outcome != OutcomeSkippedNoData {
		t.Fatalf("expected skipped_no_data, got %s", outcome)
	}
	if f.sink.uploads != 0 {
		t.Errorf("expected no uploads, got %d", f.sink.uploads)
	}

	// Soft skip still advances last-run bookkeeping.
	_, ok, err := f.runner.LastRun(context.Background())
	if err != nil {
		t.Fatalf("LastRun: %v", err)
	}
	if !ok {
		t.Error("expected last-run recorded after soft skip")
	}
}

func TestRunUploadFailurePropagates(t *testing.T) {
	f := newFixture(t, true, true)
	f.addSession(t, "com.example.a", base.Add(-2*time.Hour), 30*time.Minute)
	f.sink.err = &upload.RetryableError{Err: errors.New("backend down")}

	outcome, err := f.runner.Run(context.Background())
	if outcome != OutcomeFailed {
		t.Fatalf("expected failed, got %s", outcome)
	}
	if !upload.IsRetryable(err) {
		t.Errorf("expected retryable error, got %v", err)
	}

	// A failed run must not advance last-run time.
	_, ok, lrErr := f.runner.LastRun(context.Background())
	if lrErr != nil {
		t.Fatalf("LastRun: %v", lrErr)
	}
	if ok {
		t.Error("expected no last-run after failure")
	}
}

func TestRunBackfillsBaseline(t *testing.T) {
	f := newFixture(t, true, true)
	// Usage on two prior days plus today.
	f.addSession(t, "com.example.a", base.Add(-3*24*time.Hour), 2*time.Hour)
	f.addSession(t, "com.example.a", base.Add(-2*24*time.Hour), 4*time.Hour)
	f.addSession(t, "com.example.a", base.Add(-2*time.Hour), 30*time.Minute)

	if _, err := f.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	goals := goal.New(f.store.State(), 0, 0, zerolog.Nop())
	_, ok, err := goals.Baseline(context.Background())
	if err != nil {
		t.Fatalf("Baseline: %v", err)
	}
	if !ok {
		t.Error("expected baseline backfilled from 30-day average")
	}
}

func TestRunPrunesOldRecords(t *testing.T) {
	f := newFixture(t, true, true)
	f.addSession(t, "com.example.old", base.Add(-40*24*time.Hour), time.Hour)
	f.addSession(t, "com.example.a", base.Add(-2*time.Hour), 30*time.Minute)

	if _, err := f.runner.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	samples, err := f.store.Usage().QuerySamples(context.Background(), base.Add(-60*24*time.Hour), base.Add(-36*24*time.Hour))
	if err != nil {
		t.Fatalf("QuerySamples: %v", err)
	}
	if len(samples) != 0 {
		t.Errorf("expected old samples pruned, got %d", len(samples))
	}
}
