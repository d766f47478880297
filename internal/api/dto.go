package api

import (
	"time"

	"github.com/timeleak/timeleakd/internal/aggregate"
	"github.com/timeleak/timeleakd/internal/goal"
	"github.com/timeleak/timeleakd/internal/storage"
)

// Ingest payload. Collectors report instants and durations in
// milliseconds.
type ingestRequest struct {
	DeviceID    string      `json:"deviceId"`
	Samples     []sampleDTO `json:"samples" binding:"omitempty,dive"`
	Events      []eventDTO  `json:"events" binding:"omitempty,dive"`
	UsageAccess *bool       `json:"usageAccess,omitempty"`
}

type sampleDTO struct {
	PackageName           string `json:"packageName" binding:"required"`
	TotalTimeVisibleMs    int64  `json:"totalTimeVisible"`
	TotalTimeForegroundMs int64  `json:"totalTimeInForeground"`
	LastTimeUsed          int64  `json:"lastTimeUsed" binding:"required"`
}

type eventDTO struct {
	PackageName string `json:"packageName" binding:"required"`
	Type        string `json:"type" binding:"required"`
	Timestamp   int64  `json:"timestamp" binding:"required"`
}

func (s sampleDTO) toRecord() storage.UsageSample {
	return storage.UsageSample{
		PackageName:           s.PackageName,
		TotalTimeVisibleMs:    s.TotalTimeVisibleMs,
		TotalTimeForegroundMs: s.TotalTimeForegroundMs,
		LastTimeUsed:          time.UnixMilli(s.LastTimeUsed),
	}
}

func (e eventDTO) toRecord() storage.UsageEvent {
	return storage.UsageEvent{
		PackageName: e.PackageName,
		Type:        storage.EventType(e.Type),
		Timestamp:   time.UnixMilli(e.Timestamp),
	}
}

// Report payload.
type appUsageDTO struct {
	PackageName  string `json:"packageName"`
	AppName      string `json:"appName"`
	Category     string `json:"category"`
	UsageTimeMs  int64  `json:"usageTime"`
	LastTimeUsed int64  `json:"lastTimeUsed"`
	LaunchCount  int    `json:"launchCount"`
}

type progressDTO struct {
	GoalMs      int64   `json:"goalTime"`
	UsedMs      int64   `json:"usedTime"`
	Fraction    float64 `json:"fraction"`
	RemainingMs int64   `json:"remainingTime"`
	OverMs      int64   `json:"overTime"`
	IsOver      bool    `json:"isOver"`
	Band        string  `json:"band"`
}

type reportResponse struct {
	Date                string        `json:"date"`
	TotalScreenTimeMs   int64         `json:"totalScreenTime"`
	SocialMediaTimeMs   int64         `json:"socialMediaTime"`
	EntertainmentTimeMs int64         `json:"entertainmentTime"`
	ThirtyDayAverageMs  int64         `json:"thirtyDayAverage,omitempty"`
	TopApps             []appUsageDTO `json:"topApps"`
	Progress            progressDTO   `json:"progress"`
}

func toReportResponse(day *aggregate.DailyUsage, p goal.Progress) reportResponse {
	apps := make([]appUsageDTO, 0, len(day.TopApps))
	for _, a := range day.TopApps {
		apps = append(apps, appUsageDTO{
			PackageName:  a.PackageName,
			AppName:      a.AppName,
			Category:     string(a.Category),
			UsageTimeMs:  a.UsageTime.Milliseconds(),
			LastTimeUsed: a.LastTimeUsed.UnixMilli(),
			LaunchCount:  a.LaunchCount,
		})
	}
	return reportResponse{
		Date:                day.Date,
		TotalScreenTimeMs:   day.TotalScreenTime.Milliseconds(),
		SocialMediaTimeMs:   day.SocialMediaTime.Milliseconds(),
		EntertainmentTimeMs: day.EntertainmentTime.Milliseconds(),
		TopApps:             apps,
		Progress: progressDTO{
			GoalMs:      p.Goal.Milliseconds(),
			UsedMs:      p.Used.Milliseconds(),
			Fraction:    p.Fraction,
			RemainingMs: p.Remaining.Milliseconds(),
			OverMs:      p.Over.Milliseconds(),
			IsOver:      p.IsOver,
			Band:        string(p.Band),
		},
	}
}

// Goal payload.
type goalResponse struct {
	GoalTimeMs  int64 `json:"goalTime"`
	BaselineMs  int64 `json:"baseline,omitempty"`
	HasBaseline bool  `json:"hasBaseline"`
}

type setGoalRequest struct {
	GoalTimeMs int64 `json:"goalTime" binding:"required"`
}

// Identity payload.
type identityRequest struct {
	UID         string `json:"uid" binding:"required"`
	PhoneNumber string `json:"phoneNumber"`
}

// Sync status payload.
type syncStatusResponse struct {
	Pending     *pendingWorkDTO `json:"pending,omitempty"`
	LastOutcome string          `json:"lastOutcome,omitempty"`
	LastError   string          `json:"lastError,omitempty"`
	LastRunAt   int64           `json:"lastRunAt,omitempty"`
}

type pendingWorkDTO struct {
	ID         string `json:"id"`
	State      string `json:"state"`
	TargetAt   int64  `json:"targetAt"`
	Attempt    int    `json:"attempt"`
	EnqueuedAt int64  `json:"enqueuedAt"`
}
