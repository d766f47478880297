package usagestats

import (
	"context"
	"errors"
	"time"

	"github.com/timeleak/timeleakd/internal/storage"
)

// StoreProvider serves usage data out of the local store.
type StoreProvider struct {
	usage storage.UsageStore
	state storage.StateStore
}

// NewStoreProvider creates a provider backed by the given store.
func NewStoreProvider(store storage.Store) *StoreProvider {
	return &StoreProvider{
		usage: store.Usage(),
		state: store.State(),
	}
}

// QueryIntervalStats returns per-app summaries whose last-used time
// falls in [start, end).
func (p *StoreProvider) QueryIntervalStats(ctx context.Context, start, end time.Time) ([]Sample, error) {
	raw, err := p.usage.QuerySamples(ctx, start, end)
	if err != nil {
		return nil, err
	}

	samples := make([]Sample, 0, len(raw))
	for _, s := range raw {
		samples = append(samples, Sample{
			Package:         s.PackageName,
			TotalVisible:    time.Duration(s.TotalTimeVisibleMs) * time.Millisecond,
			TotalForeground: time.Duration(s.TotalTimeForegroundMs) * time.Millisecond,
			LastUsed:        s.LastTimeUsed,
		})
	}
	return samples, nil
}

// QueryEvents returns foreground events in [start, end) in
// chronological order.
func (p *StoreProvider) QueryEvents(ctx context.Context, start, end time.Time) ([]Event, error) {
	raw, err := p.usage.QueryEvents(ctx, start, end)
	if err != nil {
		return nil, err
	}

	events := make([]Event, 0, len(raw))
	for _, e := range raw {
		events = append(events, Event{
			Package: e.PackageName,
			Type:    EventType(e.Type),
			At:      e.Timestamp,
		})
	}
	return events, nil
}

// HasUsageAccess reports whether collectors have permission to record
// usage. The flag is set by the ingest API; absence means no access.
func (p *StoreProvider) HasUsageAccess(ctx context.Context) (bool, error) {
	ok, err := p.state.GetBool(ctx, storage.KeyUsageAccess)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ok, nil
}
