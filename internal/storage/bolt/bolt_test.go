package bolt

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/timeleak/timeleakd/internal/storage"
)

func TestUsageStoreEventWindowQuery(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	base := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	events := []storage.UsageEvent{
		{PackageName: "com.instagram.android", Type: storage.EventResumed, Timestamp: base.Add(-time.Hour)},
		{PackageName: "com.instagram.android", Type: storage.EventResumed, Timestamp: base},
		{PackageName: "com.instagram.android", Type: storage.EventPaused, Timestamp: base.Add(10 * time.Minute)},
		{PackageName: "com.spotify.music", Type: storage.EventResumed, Timestamp: base.Add(2 * time.Hour)},
	}

	if err := store.Usage().AddEvents(context.Background(), events); err != nil {
		t.Fatalf("add events: %v", err)
	}

	got, err := store.Usage().QueryEvents(context.Background(), base, base.Add(time.Hour))
	if err != nil {
		t.Fatalf("query events: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 events in window, got %d", len(got))
	}
	if !got[0].Timestamp.Before(got[1].Timestamp) {
		t.Fatalf("expected chronological order, got %v then %v", got[0].Timestamp, got[1].Timestamp)
	}
	if got[0].Type != storage.EventResumed || got[1].Type != storage.EventPaused {
		t.Fatalf("unexpected event types: %s, %s", got[0].Type, got[1].Type)
	}
}

func TestUsageStoreSampleUpsert(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	lastUsed := time.Date(2026, 3, 10, 21, 30, 0, 0, time.UTC)
	sample := storage.UsageSample{
		PackageName:           "com.google.android.youtube",
		TotalTimeForegroundMs: 600_000,
		LastTimeUsed:          lastUsed,
	}

	if err := store.Usage().AddSamples(context.Background(), []storage.UsageSample{sample}); err != nil {
		t.Fatalf("add sample: %v", err)
	}

	// Re-reporting the same package/instant replaces, never duplicates.
	sample.TotalTimeForegroundMs = 900_000
	if err := store.Usage().AddSamples(context.Background(), []storage.UsageSample{sample}); err != nil {
		t.Fatalf("re-add sample: %v", err)
	}

	got, err := store.Usage().QuerySamples(context.Background(), lastUsed.Add(-time.Minute), lastUsed.Add(time.Minute))
	if err != nil {
		t.Fatalf("query samples: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected 1 sample, got %d", len(got))
	}
	if got[0].TotalTimeForegroundMs != 900_000 {
		t.Fatalf("expected replaced foreground time 900000, got %d", got[0].TotalTimeForegroundMs)
	}
}

func TestUsageStoreDeleteBefore(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	base := time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)
	old := storage.UsageEvent{PackageName: "com.whatsapp", Type: storage.EventResumed, Timestamp: base.AddDate(0, 0, -100)}
	recent := storage.UsageEvent{PackageName: "com.whatsapp", Type: storage.EventResumed, Timestamp: base}

	if err := store.Usage().AddEvents(context.Background(), []storage.UsageEvent{old, recent}); err != nil {
		t.Fatalf("add events: %v", err)
	}

	deleted, err := store.Usage().DeleteBefore(context.Background(), base.AddDate(0, 0, -90))
	if err != nil {
		t.Fatalf("delete before: %v", err)
	}
	if deleted != 1 {
		t.Fatalf("expected 1 deleted record, got %d", deleted)
	}
}

func TestStateStoreRoundTrip(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	state := store.State()
	ctx := context.Background()

	if _, err := state.GetInt64(ctx, storage.KeyGoalTime); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for unset key, got %v", err)
	}

	if err := state.PutInt64(ctx, storage.KeyGoalTime, 9_000_000); err != nil {
		t.Fatalf("put goal: %v", err)
	}
	goal, err := state.GetInt64(ctx, storage.KeyGoalTime)
	if err != nil {
		t.Fatalf("get goal: %v", err)
	}
	if goal != 9_000_000 {
		t.Fatalf("expected goal 9000000, got %d", goal)
	}

	if err := state.PutBool(ctx, storage.KeyBaselineSet, true); err != nil {
		t.Fatalf("put bool: %v", err)
	}
	captured, err := state.GetBool(ctx, storage.KeyBaselineSet)
	if err != nil {
		t.Fatalf("get bool: %v", err)
	}
	if !captured {
		t.Fatal("expected baseline_captured to be true")
	}

	if err := state.Delete(ctx, storage.KeyGoalTime); err != nil {
		t.Fatalf("delete goal: %v", err)
	}
	if _, err := state.GetInt64(ctx, storage.KeyGoalTime); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestWorkStoreReplaceSemantics(t *testing.T) {
	store := openTestStore(t)
	defer func() { _ = store.Close() }()

	ctx := context.Background()
	work := store.Work()

	first := storage.ScheduledWork{
		Slot:       "daily_sync",
		ID:         storage.NewID(),
		TargetAt:   time.Date(2026, 3, 10, 23, 59, 0, 0, time.UTC),
		State:      storage.WorkEnqueued,
		EnqueuedAt: time.Now(),
	}
	if err := work.Replace(ctx, first); err != nil {
		t.Fatalf("enqueue first: %v", err)
	}

	second := first
	second.ID = storage.NewID()
	second.TargetAt = first.TargetAt.AddDate(0, 0, 1)
	second.Attempt = 0
	if err := work.Replace(ctx, second); err != nil {
		t.Fatalf("enqueue second: %v", err)
	}

	got, err := work.Get(ctx, "daily_sync")
	if err != nil {
		t.Fatalf("get work: %v", err)
	}
	if got.ID != second.ID {
		t.Fatalf("expected replacement work %s, got %s", second.ID, got.ID)
	}
	if !got.TargetAt.Equal(second.TargetAt) {
		t.Fatalf("expected target %v, got %v", second.TargetAt, got.TargetAt)
	}

	if err := work.Delete(ctx, "daily_sync"); err != nil {
		t.Fatalf("delete work: %v", err)
	}
	if _, err := work.Get(ctx, "daily_sync"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()

	path := filepath.Join(t.TempDir(), "timeleak.bolt")
	store, err := Open(path)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}
