// Package usagestats exposes per-app usage data collected on the device.
//
// Collectors push raw samples and foreground events into the local store
// through the ingest API; this package is the read side that the
// aggregation pipeline consumes.
package usagestats

import (
	"context"
	"time"
)

// Sample is an interval-stat style summary for one app.
type Sample struct {
	Package         string
	TotalVisible    time.Duration
	TotalForeground time.Duration
	LastUsed        time.Time
}

// EventType classifies a foreground transition.
type EventType string

const (
	// EventResumed marks an app moving to the foreground.
	EventResumed EventType = "resumed"
	// EventPaused marks an app leaving the foreground.
	EventPaused EventType = "paused"
)

// Event is a single foreground transition for one app.
type Event struct {
	Package string
	Type    EventType
	At      time.Time
}

// Provider serves usage data for a time window.
//
// QueryEvents returns events in chronological order for [start, end).
// HasUsageAccess reports whether usage collection is permitted; when it
// returns false callers must treat usage data as unavailable rather
// than empty.
type Provider interface {
	QueryIntervalStats(ctx context.Context, start, end time.Time) ([]Sample, error)
	QueryEvents(ctx context.Context, start, end time.Time) ([]Event, error)
	HasUsageAccess(ctx context.Context) (bool, error)
}
