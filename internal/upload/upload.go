// Package upload pushes daily usage snapshots to the cloud backend.
package upload

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/timeleak/timeleakd/internal/aggregate"
	"github.com/timeleak/timeleakd/internal/identity"
	"github.com/timeleak/timeleakd/internal/metrics"
)

// RetryableError marks a failure the scheduler should back off and
// retry: transport errors and server-side failures. Client errors are
// terminal for the payload and wrapped as plain errors.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("upload: retryable: %v", e.Err)
}

func (e *RetryableError) Unwrap() error {
	return e.Err
}

// IsRetryable reports whether the scheduler should retry after err.
func IsRetryable(err error) bool {
	var re *RetryableError
	return errors.As(err, &re)
}

// Sink persists a daily snapshot for a user. Upsert is replace-style:
// re-running with the same user and date overwrites, never appends.
type Sink interface {
	Upsert(ctx context.Context, user identity.User, day *aggregate.DailyUsage, goal time.Duration) error
}

// Wire payload. Durations travel as milliseconds.
type appUsageDTO struct {
	PackageName  string `json:"packageName"`
	AppName      string `json:"appName"`
	Category     string `json:"category"`
	UsageTimeMs  int64  `json:"usageTime"`
	LastTimeUsed int64  `json:"lastTimeUsed"`
	LaunchCount  int    `json:"launchCount"`
}

type dailyUsageDTO struct {
	UserID            string        `json:"userId"`
	PhoneNumber       string        `json:"phoneNumber,omitempty"`
	Date              string        `json:"date"`
	TotalScreenTimeMs int64         `json:"totalScreenTime"`
	SocialMediaTimeMs int64         `json:"socialMediaTime"`
	EntertainmentMs   int64         `json:"entertainmentTime"`
	GoalTimeMs        int64         `json:"goalTime"`
	TopApps           []appUsageDTO `json:"topApps"`
}

// HTTPSink uploads snapshots with replace-style PUTs.
type HTTPSink struct {
	baseURL   string
	authToken string
	client    *http.Client
	logger    zerolog.Logger
}

// NewHTTPSink creates a sink for the given backend base URL.
func NewHTTPSink(baseURL, authToken string, timeout time.Duration, logger zerolog.Logger) *HTTPSink {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPSink{
		baseURL:   baseURL,
		authToken: authToken,
		client:    &http.Client{Timeout: timeout},
		logger:    logger.With().Str("component", "upload").Logger(),
	}
}

// Upsert PUTs the snapshot to the per-user daily-usage resource.
func (s *HTTPSink) Upsert(ctx context.Context, user identity.User, day *aggregate.DailyUsage, goal time.Duration) error {
	payload := toDTO(user, day, goal)

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("upload: marshal payload: %w", err)
	}

	url := fmt.Sprintf("%s/v1/users/%s/daily-usage", s.baseURL, user.UID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("upload: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.authToken != "" {
		req.Header.Set("Authorization", "Bearer "+s.authToken)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		metrics.UploadFailures.WithLabelValues("transport").Inc()
		return &RetryableError{Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		s.logger.Info().
			Str("uid", user.UID).
			Str("date", day.Date).
			Dur("total", day.TotalScreenTime).
			Msg("Uploaded daily usage")
		return nil
	case resp.StatusCode >= 500:
		metrics.UploadFailures.WithLabelValues("server").Inc()
		return &RetryableError{Err: fmt.Errorf("server returned %s", resp.Status)}
	default:
		metrics.UploadFailures.WithLabelValues("client").Inc()
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("upload: rejected with %s: %s", resp.Status, bytes.TrimSpace(msg))
	}
}

func toDTO(user identity.User, day *aggregate.DailyUsage, goal time.Duration) dailyUsageDTO {
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

	return dailyUsageDTO{
		UserID:            user.UID,
		PhoneNumber:       user.PhoneNumber,
		Date:              day.Date,
		TotalScreenTimeMs: day.TotalScreenTime.Milliseconds(),
		SocialMediaTimeMs: day.SocialMediaTime.Milliseconds(),
		EntertainmentMs:   day.EntertainmentTime.Milliseconds(),
		GoalTimeMs:        goal.Milliseconds(),
		TopApps:           apps,
	}
}
