package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/timeleak/timeleakd/internal/aggregate"
	"github.com/timeleak/timeleakd/internal/goal"
	"github.com/timeleak/timeleakd/internal/identity"
	"github.com/timeleak/timeleakd/internal/metrics"
	"github.com/timeleak/timeleakd/internal/sched"
	"github.com/timeleak/timeleakd/internal/storage"
)

// Handler serves the local HTTP API: usage ingest from collectors,
// today's report for the dashboard, goal and identity management, and
// sync control.
type Handler struct {
	store      storage.Store
	aggregator *aggregate.Aggregator
	goals      *goal.Engine
	ident      *identity.StateProvider
	scheduler  *sched.Scheduler
	logger     zerolog.Logger
}

// NewHandler wires the API handler.
func NewHandler(store storage.Store, aggregator *aggregate.Aggregator, goals *goal.Engine, ident *identity.StateProvider, scheduler *sched.Scheduler, logger zerolog.Logger) *Handler {
	return &Handler{
		store:      store,
		aggregator: aggregator,
		goals:      goals,
		ident:      ident,
		scheduler:  scheduler,
		logger:     logger.With().Str("component", "api").Logger(),
	}
}

// Ingest accepts a batch of usage samples and events from a collector.
func (h *Handler) Ingest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	samples := make([]storage.UsageSample, 0, len(req.Samples))
	for _, s := range req.Samples {
		samples = append(samples, s.toRecord())
	}

	events := make([]storage.UsageEvent, 0, len(req.Events))
	for _, e := range req.Events {
		rec := e.toRecord()
		if !rec.Type.Valid() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unknown event type: " + e.Type})
			return
		}
		events = append(events, rec)
	}

	ctx := c.Request.Context()
	if len(samples) > 0 {
		if err := h.store.Usage().AddSamples(ctx, samples); err != nil {
			h.logger.Error().Err(err).Msg("Failed to store samples")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store samples"})
			return
		}
		metrics.IngestEventsTotal.WithLabelValues("samples").Add(float64(len(samples)))
	}
	if len(events) > 0 {
		if err := h.store.Usage().AddEvents(ctx, events); err != nil {
			h.logger.Error().Err(err).Msg("Failed to store events")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store events"})
			return
		}
		metrics.IngestEventsTotal.WithLabelValues("events").Add(float64(len(events)))
	}

	// A collector reporting data implies the permission grant; it can
	// also revoke it explicitly.
	if req.UsageAccess != nil {
		if err := h.store.State().PutBool(ctx, storage.KeyUsageAccess, *req.UsageAccess); err != nil {
			h.logger.Error().Err(err).Msg("Failed to record usage access flag")
		}
	} else if len(samples) > 0 || len(events) > 0 {
		if err := h.store.State().PutBool(ctx, storage.KeyUsageAccess, true); err != nil {
			h.logger.Error().Err(err).Msg("Failed to record usage access flag")
		}
	}

	h.logger.Debug().
		Str("device", req.DeviceID).
		Int("samples", len(samples)).
		Int("events", len(events)).
		Msg("Ingested usage batch")

	c.JSON(http.StatusAccepted, gin.H{
		"samples": len(samples),
		"events":  len(events),
	})
}

// Report returns today's usage snapshot with goal progress. The
// window query parameter selects the calendar day (default) or the
// trailing 24 hours.
func (h *Handler) Report(c *gin.Context) {
	ctx := c.Request.Context()

	var day *aggregate.DailyUsage
	var err error
	switch window := c.DefaultQuery("window", "calendar"); window {
	case "calendar":
		day, err = h.aggregator.CalendarDay(ctx)
	case "trailing":
		day, err = h.aggregator.TrailingDay(ctx)
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown window: " + window})
		return
	}
	if err != nil {
		h.logger.Error().Err(err).Msg("Aggregation failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "aggregation failed"})
		return
	}
	if day == nil {
		c.JSON(http.StatusConflict, gin.H{"error": "usage access not granted"})
		return
	}

	progress, err := h.goals.ProgressFor(ctx, day.TotalScreenTime)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to compute goal progress")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to compute progress"})
		return
	}

	resp := toReportResponse(day, progress)
	if avg, ok, avgErr := h.aggregator.ThirtyDayAverage(ctx); avgErr != nil {
		h.logger.Warn().Err(avgErr).Msg("Failed to compute 30-day average")
	} else if ok {
		resp.ThirtyDayAverageMs = avg.Milliseconds()
	}

	c.JSON(http.StatusOK, resp)
}

// GetGoal returns the effective goal and baseline state.
func (h *Handler) GetGoal(c *gin.Context) {
	ctx := c.Request.Context()

	g, err := h.goals.Goal(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read goal"})
		return
	}
	baseline, hasBaseline, err := h.goals.Baseline(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read baseline"})
		return
	}

	c.JSON(http.StatusOK, goalResponse{
		GoalTimeMs:  g.Milliseconds(),
		BaselineMs:  baseline.Milliseconds(),
		HasBaseline: hasBaseline,
	})
}

// SetGoal updates the goal. Goals above the captured baseline are
// rejected with 422.
func (h *Handler) SetGoal(c *gin.Context) {
	var req setGoalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	err := h.goals.SetGoal(c.Request.Context(), time.Duration(req.GoalTimeMs)*time.Millisecond)
	if err != nil {
		if errors.Is(err, goal.ErrGoalExceedsBaseline) {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"goalTime": req.GoalTimeMs})
}

// SetIdentity caches the signed-in user. A fresh sign-in (no cached
// user, or a different one) triggers an immediate sync so the backend
// gets a snapshot right after authentication; refreshing the same
// identity does not.
func (h *Handler) SetIdentity(c *gin.Context) {
	var req identityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	ctx := c.Request.Context()
	previous, err := h.ident.CurrentUser(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read identity"})
		return
	}

	user := identity.User{UID: req.UID, PhoneNumber: req.PhoneNumber}
	if err := h.ident.SetUser(ctx, user); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to store identity"})
		return
	}

	if previous == nil || previous.UID != req.UID {
		h.logger.Info().Str("uid", req.UID).Msg("New sign-in, requesting immediate sync")
		h.scheduler.SyncNow()
	}

	c.JSON(http.StatusOK, gin.H{"uid": req.UID})
}

// ClearIdentity signs the user out.
func (h *Handler) ClearIdentity(c *gin.Context) {
	if err := h.ident.ClearUser(c.Request.Context()); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to clear identity"})
		return
	}
	c.Status(http.StatusNoContent)
}

// SyncNow requests an immediate sync run.
func (h *Handler) SyncNow(c *gin.Context) {
	if h.scheduler.SyncNow() {
		c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "already_pending"})
}

// SyncReset discards the current schedule, pending backoff retries
// included, and re-arms at the next daily target.
func (h *Handler) SyncReset(c *gin.Context) {
	if err := h.scheduler.Reset(c.Request.Context()); err != nil {
		h.logger.Error().Err(err).Msg("Failed to reset sync schedule")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to reset schedule"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "reset"})
}

// SyncStatus reports the pending schedule and the last run.
func (h *Handler) SyncStatus(c *gin.Context) {
	ctx := c.Request.Context()
	st, err := h.scheduler.Status(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to read status"})
		return
	}

	resp := syncStatusResponse{
		LastOutcome: string(st.LastOutcome),
		LastError:   st.LastError,
	}
	if !st.LastRunAt.IsZero() {
		resp.LastRunAt = st.LastRunAt.UnixMilli()
	} else if ms, stateErr := h.store.State().GetInt64(ctx, storage.KeyLastRunTime); stateErr == nil {
		// The scheduler's in-memory record is empty after a restart;
		// the run sequence persists the last completed run.
		resp.LastRunAt = ms
	} else if !errors.Is(stateErr, storage.ErrNotFound) {
		h.logger.Error().Err(stateErr).Msg("Failed to read persisted last run")
	}
	if st.Pending != nil {
		resp.Pending = &pendingWorkDTO{
			ID:         st.Pending.ID,
			State:      string(st.Pending.State),
			TargetAt:   st.Pending.TargetAt.UnixMilli(),
			Attempt:    st.Pending.Attempt,
			EnqueuedAt: st.Pending.EnqueuedAt.UnixMilli(),
		}
	}

	c.JSON(http.StatusOK, resp)
}
