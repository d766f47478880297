package storage

import "time"

// State keys written by the pipeline. Each key has a single writer: the
// sync run sequence owns last_run_time, the goal engine owns the goal and
// baseline keys, the identity flow owns uid/phone_number, ingest owns
// usage_access.
const (
	KeyLastRunTime    = "last_run_time"
	KeyGoalTime       = "goal_time_millis"
	KeyBaseline       = "baseline_screen_time_millis"
	KeyBaselineSet    = "baseline_captured"
	KeyUID            = "uid"
	KeyPhoneNumber    = "phone_number"
	KeyUsageAccess    = "usage_access"
)

// UsageSample is one collector-reported interval stat for a package over a
// query window.
type UsageSample struct {
	PackageName            string    `json:"package_name"`
	TotalTimeVisibleMs     int64     `json:"total_time_visible_ms"`
	TotalTimeForegroundMs  int64     `json:"total_time_in_foreground_ms"`
	LastTimeUsed           time.Time `json:"last_time_used"`
}

// EventType is a foreground/background transition kind.
type EventType string

const (
	EventResumed EventType = "resumed"
	EventPaused  EventType = "paused"
)

// Valid reports whether the event type is a known transition kind.
func (t EventType) Valid() bool {
	return t == EventResumed || t == EventPaused
}

// UsageEvent is one foreground/background transition record.
type UsageEvent struct {
	PackageName string    `json:"package_name"`
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
}

// WorkState describes the lifecycle of a scheduled sync work item.
type WorkState string

const (
	WorkEnqueued  WorkState = "enqueued"
	WorkRunning   WorkState = "running"
	WorkSucceeded WorkState = "succeeded"
	WorkFailed    WorkState = "failed"
	WorkCancelled WorkState = "cancelled"
)

// ScheduledWork is one persisted unit of deferred sync work. Exactly one
// live instance exists per slot; re-arming replaces the previous instance.
type ScheduledWork struct {
	Slot       string    `json:"slot"`
	ID         string    `json:"id"`
	TargetAt   time.Time `json:"target_at"`
	State      WorkState `json:"state"`
	Attempt    int       `json:"attempt"`
	EnqueuedAt time.Time `json:"enqueued_at"`
}
