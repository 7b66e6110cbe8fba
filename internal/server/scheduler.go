package server

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gorhill/cronexpr"
	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/reporter/internal/runtime"
	"github.com/mohammad-safakhou/reporter/internal/store"
	"github.com/mohammad-safakhou/reporter/repository/redis_repository"
)

const scheduleLockTTL = 2 * time.Minute

// Scheduler fires recurring report runs. Each tick it claims due
// schedules, generates a fresh outline for the stored topic and launches
// execution without the interactive approval loop.
type Scheduler struct {
	Store  *store.Store
	Cache  *redis_repository.RunCache
	Runner *Runner
	Stop   chan struct{}

	logger *log.Logger
}

func NewScheduler(st *store.Store, cache *redis_repository.RunCache, runner *Runner) *Scheduler {
	return &Scheduler{
		Store:  st,
		Cache:  cache,
		Runner: runner,
		Stop:   make(chan struct{}),
		logger: log.New(log.Writer(), "[SCHED] ", log.LstdFlags),
	}
}

func (s *Scheduler) Start() {
	ticker := time.NewTicker(1 * time.Minute)
	go func() {
		for {
			select {
			case <-s.Stop:
				ticker.Stop()
				return
			case <-ticker.C:
				s.tick()
			}
		}
	}()
}

func (s *Scheduler) tick() {
	ctx := context.Background()
	due, err := s.Store.ListDueSchedules(ctx, time.Now())
	if err != nil {
		s.logger.Printf("listing due schedules: %v", err)
		return
	}
	for _, sched := range due {
		// distributed lock to avoid duplicate runs across replicas
		if s.Cache != nil {
			ok, err := s.Cache.AcquireLock(ctx, sched.ID, scheduleLockTTL)
			if err != nil || !ok {
				continue
			}
		}
		s.fire(ctx, sched)
	}
}

func (s *Scheduler) fire(ctx context.Context, sched store.ScheduleRecord) {
	next, ok := NextRun(sched.Cron, time.Now())
	if !ok {
		s.logger.Printf("schedule %s has invalid cron %q, disabling", sched.ID, sched.Cron)
		_ = s.Store.SetScheduleEnabled(ctx, sched.ID, false)
		return
	}
	if err := s.Store.MarkScheduleRun(ctx, sched.ID, time.Now(), next); err != nil {
		s.logger.Printf("marking schedule %s: %v", sched.ID, err)
		return
	}

	runID, err := s.Store.CreateRun(ctx, sched.UserID, sched.Topic, store.RunStatusPlanning)
	if err != nil {
		s.logger.Printf("creating run for schedule %s: %v", sched.ID, err)
		return
	}
	s.logger.Printf("schedule %s fired run %s for %q", sched.ID, runID, sched.Topic)

	go func() {
		planCtx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		defer cancel()
		plan, err := s.Runner.Planner.GenerateInitialPlan(planCtx, sched.Topic, "", "")
		if err != nil {
			msg := err.Error()
			_ = s.Store.FinishRun(planCtx, runID, store.RunStatusFailed, &msg)
			s.logger.Printf("scheduled planning for run %s failed: %v", runID, err)
			return
		}
		s.Runner.Launch(runID, plan)
	}()
}

// NextRun computes when a cron expression fires next after base.
// Supports "@daily", "@hourly" and standard 5-field expressions.
func NextRun(cronSpec string, base time.Time) (time.Time, bool) {
	switch cronSpec {
	case "@daily":
		return base.Add(24 * time.Hour), true
	case "@hourly":
		return base.Add(time.Hour), true
	}
	expr, err := cronexpr.Parse(cronSpec)
	if err != nil {
		return time.Time{}, false
	}
	next := expr.Next(base)
	if next.IsZero() {
		return time.Time{}, false
	}
	return next, true
}

// SchedulesHandler manages recurring report registrations.
type SchedulesHandler struct {
	Store *store.Store
}

func (h *SchedulesHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
}

// Create a recurring schedule
//
//	@Summary	Create schedule
//	@Tags		schedules
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		ScheduleCreateRequest	true	"Schedule"
//	@Success	201		{object}	IDResponse
//	@Failure	400		{object}	HTTPError
//	@Router		/api/schedules [post]
func (h *SchedulesHandler) create(c echo.Context) error {
	userID := c.Get("user_id").(string)
	var req ScheduleCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Topic) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic required")
	}
	next, ok := NextRun(req.Cron, time.Now())
	if !ok {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid cron expression")
	}
	id, err := h.Store.CreateSchedule(c.Request().Context(), userID, req.Topic, req.Cron, next)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusCreated, IDResponse{ID: id})
}
