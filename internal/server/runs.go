package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/reporter/config"
	"github.com/mohammad-safakhou/reporter/internal/report"
	"github.com/mohammad-safakhou/reporter/internal/runtime"
	"github.com/mohammad-safakhou/reporter/internal/store"
	"github.com/mohammad-safakhou/reporter/internal/telemetry"
	"github.com/mohammad-safakhou/reporter/repository/redis_repository"
)

// Runner owns the lifecycle of report generation runs: it prepares
// approved plans, drives the engine in the background, publishes progress
// snapshots and persists the compiled report.
type Runner struct {
	Store   *store.Store
	Cache   *redis_repository.RunCache
	Planner *report.Planner
	Model   report.ModelProvider
	Search  report.Searcher
	Ranker  report.SnippetRanker
	Tele    *telemetry.Telemetry
	Cfg     *config.Config

	logger *log.Logger

	mu     sync.Mutex
	active map[string]*activeRun
}

type activeRun struct {
	cancel context.CancelFunc

	mu   sync.RWMutex
	snap report.ProgressSnapshot
}

func NewRunner(cfg *config.Config, st *store.Store, cache *redis_repository.RunCache, planner *report.Planner, model report.ModelProvider, search report.Searcher, ranker report.SnippetRanker, tele *telemetry.Telemetry) *Runner {
	return &Runner{
		Store:   st,
		Cache:   cache,
		Planner: planner,
		Model:   model,
		Search:  search,
		Ranker:  ranker,
		Tele:    tele,
		Cfg:     cfg,
		logger:  log.New(log.Writer(), "[RUNS] ", log.LstdFlags),
		active:  make(map[string]*activeRun),
	}
}

// Launch starts background execution of an approved plan for the run.
func (r *Runner) Launch(runID string, plan *report.Plan) {
	timeout := r.Cfg.General.DefaultTimeout
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	ar := &activeRun{cancel: cancel}
	r.mu.Lock()
	r.active[runID] = ar
	r.mu.Unlock()

	go func() {
		defer cancel()
		defer func() {
			r.mu.Lock()
			delete(r.active, runID)
			r.mu.Unlock()
		}()
		if err := r.execute(ctx, runID, plan, ar); err != nil {
			msg := err.Error()
			_ = r.Store.FinishRun(context.Background(), runID, store.RunStatusFailed, &msg)
			r.logger.Printf("run %s failed: %v", runID, err)
		}
	}()
}

func (r *Runner) execute(ctx context.Context, runID string, plan *report.Plan, ar *activeRun) error {
	prepared, err := r.Planner.PrepareForExecution(plan, report.ExecutionOptions{
		MaxConcurrentSections: r.Cfg.Engine.MaxConcurrentSections,
		MaxSearchQueries:      r.Cfg.Engine.MaxSearchQueries,
	})
	if err != nil {
		return fmt.Errorf("preparing plan: %w", err)
	}

	if err := r.Store.SetRunStatus(ctx, runID, store.RunStatusExecuting); err != nil {
		return fmt.Errorf("marking run executing: %w", err)
	}

	publish := func(snap report.ProgressSnapshot) {
		ar.mu.Lock()
		ar.snap = snap
		ar.mu.Unlock()
		if r.Cache != nil {
			if err := r.Cache.SaveSnapshot(context.Background(), runID, snap); err != nil {
				r.logger.Printf("progress snapshot for run %s not cached: %v", runID, err)
			}
		}
	}

	engine := report.NewEngine(r.Model, r.Search,
		report.WithSnippetRanker(r.Ranker),
		report.WithSnippetLimit(r.Cfg.Engine.SnippetLimit),
		report.WithTelemetry(r.Tele),
		report.WithProgress(r.Cfg.Engine.ProgressInterval, publish),
	)

	rep, err := engine.Execute(ctx, prepared)
	if err != nil {
		return fmt.Errorf("executing plan: %w", err)
	}

	data, err := json.Marshal(rep)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	md := RenderMarkdownReport(rep)
	// Persist with a fresh context: the run context may already be cancelled.
	saveCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := r.Store.SaveReport(saveCtx, runID, rep.Topic, data, md, rep.TokensUsed); err != nil {
		return fmt.Errorf("saving report: %w", err)
	}

	status := store.RunStatusSucceeded
	if ctx.Err() != nil {
		// Cancelled mid-run: the partial report above is still kept.
		status = store.RunStatusCanceled
	}
	return r.Store.FinishRun(saveCtx, runID, status, nil)
}

// Cancel stops an in-flight run. Returns false when the run is not active.
func (r *Runner) Cancel(runID string) bool {
	r.mu.Lock()
	ar, ok := r.active[runID]
	r.mu.Unlock()
	if !ok {
		return false
	}
	ar.cancel()
	return true
}

// Progress returns the latest snapshot for a run, preferring in-process
// state over the Redis cache.
func (r *Runner) Progress(ctx context.Context, runID string) (report.ProgressSnapshot, bool) {
	r.mu.Lock()
	ar, ok := r.active[runID]
	r.mu.Unlock()
	if ok {
		ar.mu.RLock()
		snap := ar.snap
		ar.mu.RUnlock()
		if snap.Total > 0 {
			return snap, true
		}
	}
	if r.Cache != nil {
		if snap, err := r.Cache.GetSnapshot(ctx, runID); err == nil {
			return snap, true
		}
	}
	return report.ProgressSnapshot{}, false
}

// RunsHandler exposes run creation, progress polling and report retrieval.
type RunsHandler struct {
	Store  *store.Store
	Runner *Runner
}

func (h *RunsHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:run_id", h.get)
	g.GET("/:run_id/progress", h.progress)
	g.GET("/:run_id/report", h.report)
	g.GET("/:run_id/markdown", h.markdown)
	g.POST("/:run_id/cancel", h.cancel)
}

// Create a run from an approved plan
//
//	@Summary	Start run
//	@Tags		runs
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		RunCreateRequest	true	"Run request"
//	@Success	202		{object}	IDResponse	"Run accepted"
//	@Failure	400		{object}	HTTPError
//	@Failure	404		{object}	HTTPError
//	@Failure	409		{object}	HTTPError
//	@Router		/api/runs [post]
func (h *RunsHandler) create(c echo.Context) error {
	ctx := c.Request().Context()
	userID := c.Get("user_id").(string)
	var req RunCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	rec, err := h.Store.GetPlan(ctx, req.PlanID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "plan not found")
	}
	if rec.UserID != userID {
		return echo.NewHTTPError(http.StatusForbidden, "plan does not belong to user")
	}
	if !rec.Approved {
		return echo.NewHTTPError(http.StatusConflict, "plan not approved")
	}
	var plan report.Plan
	if err := json.Unmarshal(rec.PlanJSON, &plan); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}

	runID, err := h.Store.CreateRun(ctx, userID, rec.Topic, store.RunStatusQueued)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Store.AttachRunPlan(ctx, runID, rec.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	h.Runner.Launch(runID, &plan)
	return c.JSON(http.StatusAccepted, IDResponse{ID: runID})
}

// List runs
//
//	@Summary	List runs
//	@Tags		runs
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Produce	json
//	@Success	200	{array}		store.RunRecord
//	@Failure	500	{object}	HTTPError
//	@Router		/api/runs [get]
func (h *RunsHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	items, err := h.Store.ListRuns(c.Request().Context(), userID, 0)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

// Get one run
//
//	@Summary	Get run
//	@Tags		runs
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Param		run_id	path	string	true	"Run ID"
//	@Produce	json
//	@Success	200	{object}	store.RunRecord
//	@Failure	404	{object}	HTTPError
//	@Router		/api/runs/{run_id} [get]
func (h *RunsHandler) get(c echo.Context) error {
	rec, err := h.ownedRun(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, rec)
}

// Poll run progress
//
//	@Summary	Run progress
//	@Tags		runs
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Param		run_id	path	string	true	"Run ID"
//	@Produce	json
//	@Success	200	{object}	report.ProgressSnapshot
//	@Failure	404	{object}	HTTPError
//	@Router		/api/runs/{run_id}/progress [get]
func (h *RunsHandler) progress(c echo.Context) error {
	rec, err := h.ownedRun(c)
	if err != nil {
		return err
	}
	snap, ok := h.Runner.Progress(c.Request().Context(), rec.ID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no progress recorded for run")
	}
	return c.JSON(http.StatusOK, snap)
}

// Fetch compiled report
//
//	@Summary	Run report
//	@Tags		runs
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Param		run_id	path	string	true	"Run ID"
//	@Produce	json
//	@Success	200	{object}	report.Report
//	@Failure	404	{object}	HTTPError
//	@Router		/api/runs/{run_id}/report [get]
func (h *RunsHandler) report(c echo.Context) error {
	rec, err := h.ownedRun(c)
	if err != nil {
		return err
	}
	rep, err := h.Store.GetReportByRun(c.Request().Context(), rec.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "report not available")
	}
	return c.JSONBlob(http.StatusOK, rep.ReportJSON)
}

// Fetch compiled report as markdown
//
//	@Summary	Run report markdown
//	@Tags		runs
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Param		run_id	path	string	true	"Run ID"
//	@Produce	json
//	@Success	200	{object}	MarkdownResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/runs/{run_id}/markdown [get]
func (h *RunsHandler) markdown(c echo.Context) error {
	rec, err := h.ownedRun(c)
	if err != nil {
		return err
	}
	rep, err := h.Store.GetReportByRun(c.Request().Context(), rec.ID)
	if err != nil {
		return echo.NewHTTPError(http.StatusNotFound, "report not available")
	}
	return c.JSON(http.StatusOK, MarkdownResponse{Markdown: rep.Markdown})
}

// Cancel an in-flight run
//
//	@Summary	Cancel run
//	@Tags		runs
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Param		run_id	path	string	true	"Run ID"
//	@Produce	json
//	@Success	202	{object}	IDResponse
//	@Failure	404	{object}	HTTPError
//	@Failure	409	{object}	HTTPError
//	@Router		/api/runs/{run_id}/cancel [post]
func (h *RunsHandler) cancel(c echo.Context) error {
	rec, err := h.ownedRun(c)
	if err != nil {
		return err
	}
	if !h.Runner.Cancel(rec.ID) {
		return echo.NewHTTPError(http.StatusConflict, "run is not active")
	}
	return c.JSON(http.StatusAccepted, IDResponse{ID: rec.ID})
}

func (h *RunsHandler) ownedRun(c echo.Context) (store.RunRecord, error) {
	userID := c.Get("user_id").(string)
	rec, err := h.Store.GetRun(c.Request().Context(), c.Param("run_id"))
	if err != nil {
		return store.RunRecord{}, echo.NewHTTPError(http.StatusNotFound, "run not found")
	}
	if rec.UserID != userID {
		return store.RunRecord{}, echo.NewHTTPError(http.StatusForbidden, "run does not belong to user")
	}
	return rec, nil
}
