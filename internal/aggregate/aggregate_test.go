package aggregate

import (
	"context"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/timeleak/timeleakd/internal/clock"
	"github.com/timeleak/timeleakd/internal/reconcile"
	"github.com/timeleak/timeleakd/internal/usagestats"
)

var base = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

// fakeProvider serves canned usage data.
type fakeProvider struct {
	samples   []usagestats.Sample
	events    []usagestats.Event
	hasAccess bool
}

func (f *fakeProvider) QueryIntervalStats(_ context.Context, start, end time.Time) ([]usagestats.Sample, error) {
	var out []usagestats.Sample
	for _, s := range f.samples {
		if !s.LastUsed.Before(start) && s.LastUsed.Before(end) {
			out = append(out, s)
		}
	}
	return out, nil
}

func (f *fakeProvider) QueryEvents(_ context.Context, start, end time.Time) ([]usagestats.Event, error) {
	var out []usagestats.Event
	for _, e := range f.events {
		if !e.At.Before(start) && e.At.Before(end) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeProvider) HasUsageAccess(context.Context) (bool, error) {
	return f.hasAccess, nil
}

func newTestAggregator(p usagestats.Provider, now time.Time) *Aggregator {
	rec := reconcile.New(reconcile.DefaultConfig(), zerolog.Nop())
	cls := NewClassifier(nil, nil)
	return New(p, rec, cls, &clock.TestClock{CurrentTime: now}, time.UTC, MaxDailyScreenTime, zerolog.Nop())
}

func TestAggregateNilWithoutUsageAccess(t *testing.T) {
	a := newTestAggregator(&fakeProvider{hasAccess: false}, base.Add(24*time.Hour))

	day, err := a.TrailingDay(context.Background())
	if err != nil {
		t.Fatalf("TrailingDay: %v", err)
	}
	if day != nil {
		t.Fatalf("expected nil snapshot without usage access, got %+v", day)
	}
}

func TestAggregateSingleSession(t *testing.T) {
	now := base.Add(24 * time.Hour)
	p := &fakeProvider{
		hasAccess: true,
		samples: []usagestats.Sample{
			{Package: "com.example.a", TotalForeground: 12 * time.Minute, LastUsed: base.Add(10 * time.Minute)},
		},
		events: []usagestats.Event{
			{Package: "com.example.a", Type: usagestats.EventResumed, At: base},
			{Package: "com.example.a", Type: usagestats.EventPaused, At: base.Add(10 * time.Minute)},
		},
	}
	a := newTestAggregator(p, now)

	day, err := a.TrailingDay(context.Background())
	if err != nil {
		t.Fatalf("TrailingDay: %v", err)
	}
	if day == nil {
		t.Fatal("expected a snapshot")
	}

	// Replayed event time wins over the 12m interval stat.
	if day.TotalScreenTime != 10*time.Minute {
		t.Errorf("expected total 10m, got %v", day.TotalScreenTime)
	}
	if len(day.TopApps) != 1 {
		t.Fatalf("expected one app, got %d", len(day.TopApps))
	}
	app := day.TopApps[0]
	if app.UsageTime != 10*time.Minute || app.LaunchCount != 1 {
		t.Errorf("unexpected app usage: %+v", app)
	}
	if day.SocialMediaTime != 0 {
		t.Errorf("expected no social media time, got %v", day.SocialMediaTime)
	}
}

func TestAggregateCategoryTotals(t *testing.T) {
	now := base.Add(24 * time.Hour)
	p := &fakeProvider{
		hasAccess: true,
		samples: []usagestats.Sample{
			{Package: "com.instagram.android", TotalForeground: time.Hour, LastUsed: base.Add(time.Hour)},
			{Package: "com.netflix.mediaclient", TotalForeground: 2 * time.Hour, LastUsed: base.Add(3 * time.Hour)},
			{Package: "com.example.tools", TotalForeground: 30 * time.Minute, LastUsed: base.Add(4 * time.Hour)},
		},
	}
	a := newTestAggregator(p, now)

	day, err := a.TrailingDay(context.Background())
	if err != nil {
		t.Fatalf("TrailingDay: %v", err)
	}

	if day.SocialMediaTime != time.Hour {
		t.Errorf("expected 1h social media, got %v", day.SocialMediaTime)
	}
	if day.EntertainmentTime != 2*time.Hour {
		t.Errorf("expected 2h entertainment, got %v", day.EntertainmentTime)
	}
	if day.TotalScreenTime != 3*time.Hour+30*time.Minute {
		t.Errorf("expected 3h30m total, got %v", day.TotalScreenTime)
	}
	// Sorted descending by usage.
	if day.TopApps[0].PackageName != "com.netflix.mediaclient" {
		t.Errorf("expected netflix first, got %s", day.TopApps[0].PackageName)
	}
}

func TestAggregateSkipsZeroAndOutOfWindow(t *testing.T) {
	now := base.Add(24 * time.Hour)
	p := &fakeProvider{
		hasAccess: true,
		samples: []usagestats.Sample{
			{Package: "com.example.zero", TotalForeground: 0, LastUsed: base.Add(time.Hour)},
			{Package: "com.example.negative", TotalForeground: -time.Minute, LastUsed: base.Add(time.Hour)},
			{Package: "com.example.ok", TotalForeground: time.Minute, LastUsed: base.Add(time.Hour)},
		},
	}
	a := newTestAggregator(p, now)

	day, err := a.TrailingDay(context.Background())
	if err != nil {
		t.Fatalf("TrailingDay: %v", err)
	}
	if len(day.TopApps) != 1 || day.TopApps[0].PackageName != "com.example.ok" {
		t.Errorf("expected only com.example.ok, got %+v", day.TopApps)
	}
}

func TestAggregateTopAppsCapKeepsCategoryTotals(t *testing.T) {
	now := base.Add(24 * time.Hour)
	p := &fakeProvider{hasAccess: true}
	// 150 apps, one of them social media ranked at the very bottom.
	for i := 0; i < 150; i++ {
		p.samples = append(p.samples, usagestats.Sample{
			Package:         fmt.Sprintf("com.example.app%03d", i),
			TotalForeground: time.Duration(150-i) * time.Minute,
			LastUsed:        base.Add(time.Hour),
		})
	}
	p.samples = append(p.samples, usagestats.Sample{
		Package:         "com.instagram.android",
		TotalForeground: 30 * time.Second,
		LastUsed:        base.Add(time.Hour),
	})
	a := newTestAggregator(p, now)

	day, err := a.TrailingDay(context.Background())
	if err != nil {
		t.Fatalf("TrailingDay: %v", err)
	}

	if len(day.TopApps) != TopAppsLimit {
		t.Errorf("expected %d top apps, got %d", TopAppsLimit, len(day.TopApps))
	}
	// Category totals cover the full app set, not just the top slice.
	if day.SocialMediaTime != 30*time.Second {
		t.Errorf("expected social media time from below the cutoff, got %v", day.SocialMediaTime)
	}
}

func TestAggregateWindowEquivalence(t *testing.T) {
	now := base.Add(24 * time.Hour)
	p := &fakeProvider{
		hasAccess: true,
		samples: []usagestats.Sample{
			{Package: "com.instagram.android", TotalForeground: time.Hour, LastUsed: base.Add(2 * time.Hour)},
			{Package: "com.example.tools", TotalForeground: 20 * time.Minute, LastUsed: base.Add(23 * time.Hour)},
		},
		events: []usagestats.Event{
			{Package: "com.instagram.android", Type: usagestats.EventResumed, At: base.Add(time.Hour)},
			{Package: "com.instagram.android", Type: usagestats.EventPaused, At: base.Add(2 * time.Hour)},
			// Still open at the window end; replay closes it there.
			{Package: "com.example.tools", Type: usagestats.EventResumed, At: base.Add(23 * time.Hour)},
		},
	}
	a := newTestAggregator(p, now)
	ctx := context.Background()

	// The same absolute window derived two ways: trailing 24h back from
	// now, and midnight-relative calendar bounds.
	trailing, err := a.Aggregate(ctx, now.Add(-24*time.Hour), now)
	if err != nil {
		t.Fatalf("trailing aggregate: %v", err)
	}
	midnight := time.Date(base.Year(), base.Month(), base.Day(), 0, 0, 0, 0, time.UTC)
	calendar, err := a.Aggregate(ctx, midnight, midnight.AddDate(0, 0, 1))
	if err != nil {
		t.Fatalf("calendar aggregate: %v", err)
	}

	if !reflect.DeepEqual(trailing, calendar) {
		t.Errorf("window expressions disagree:\ntrailing: %+v\ncalendar: %+v", trailing, calendar)
	}
}

func TestCalendarDayWindow(t *testing.T) {
	// Now is 08:00; a sample used yesterday must not appear.
	now := base.Add(8 * time.Hour)
	p := &fakeProvider{
		hasAccess: true,
		samples: []usagestats.Sample{
			{Package: "com.example.today", TotalForeground: time.Minute, LastUsed: base.Add(time.Hour)},
			{Package: "com.example.yesterday", TotalForeground: time.Hour, LastUsed: base.Add(-2 * time.Hour)},
		},
	}
	a := newTestAggregator(p, now)

	day, err := a.CalendarDay(context.Background())
	if err != nil {
		t.Fatalf("CalendarDay: %v", err)
	}
	if len(day.TopApps) != 1 || day.TopApps[0].PackageName != "com.example.today" {
		t.Errorf("expected only today's app, got %+v", day.TopApps)
	}
	if day.Date != "2026-03-10" {
		t.Errorf("expected date 2026-03-10, got %s", day.Date)
	}
}

func TestThirtyDayAverage(t *testing.T) {
	now := base
	p := &fakeProvider{hasAccess: true}
	// Two days with data: 2h and 4h.
	p.samples = []usagestats.Sample{
		{Package: "com.example.a", TotalForeground: 2 * time.Hour, LastUsed: base.Add(-2 * 24 * time.Hour)},
		{Package: "com.example.a", TotalForeground: 3 * time.Hour, LastUsed: base.Add(-5 * 24 * time.Hour)},
		{Package: "com.example.b", TotalForeground: time.Hour, LastUsed: base.Add(-5*24*time.Hour + time.Hour)},
	}
	a := newTestAggregator(p, now)

	avg, ok, err := a.ThirtyDayAverage(context.Background())
	if err != nil {
		t.Fatalf("ThirtyDayAverage: %v", err)
	}
	if !ok {
		t.Fatal("expected data in window")
	}
	if avg != 3*time.Hour {
		t.Errorf("expected 3h average, got %v", avg)
	}
}

func TestThirtyDayAverageNoData(t *testing.T) {
	a := newTestAggregator(&fakeProvider{hasAccess: true}, base)

	_, ok, err := a.ThirtyDayAverage(context.Background())
	if err != nil {
		t.Fatalf("ThirtyDayAverage: %v", err)
	}
	if ok {
		t.Fatal("expected no data")
	}
}

func TestDisplayNameDerivation(t *testing.T) {
	c := NewClassifier(nil, nil)

	cases := map[string]string{
		"com.instagram.android":      "Instagram",
		"com.facebook.katana":        "Facebook",
		"com.google.android.youtube": "YouTube",
		"com.example.notes":          "Notes",
	}
	for pkg, want := range cases {
		if got := c.DisplayName(pkg); got != want {
			t.Errorf("DisplayName(%s) = %s, want %s", pkg, got, want)
		}
	}
}

func TestClassifierConfigExtension(t *testing.T) {
	c := NewClassifier([]string{"com.example.chat"}, []string{"com.example.video"})

	if got := c.Category("com.example.chat"); got != CategorySocialMedia {
		t.Errorf("expected social media, got %s", got)
	}
	if got := c.Category("com.example.video"); got != CategoryEntertainment {
		t.Errorf("expected entertainment, got %s", got)
	}
	if got := c.Category("com.example.other"); got != CategoryOther {
		t.Errorf("expected other, got %s", got)
	}
}
