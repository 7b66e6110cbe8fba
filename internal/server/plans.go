package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/reporter/internal/report"
	"github.com/mohammad-safakhou/reporter/internal/runtime"
	"github.com/mohammad-safakhou/reporter/internal/store"
)

// PlansHandler exposes the outline review loop: generate, revise with
// feedback, approve.
type PlansHandler struct {
	Store   *store.Store
	Planner *report.Planner
}

func (h *PlansHandler) Register(g *echo.Group, secret []byte) {
	g.Use(runtime.EchoAuthMiddleware(secret))
	g.POST("", h.create)
	g.GET("", h.list)
	g.GET("/:plan_id", h.get)
	g.POST("/:plan_id/revise", h.revise)
	g.POST("/:plan_id/approve", h.approve)
}

// Create a report outline for a topic
//
//	@Summary	Generate plan
//	@Tags		plans
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		PlanCreateRequest	true	"Plan request"
//	@Success	201		{object}	report.Plan
//	@Failure	400		{object}	HTTPError
//	@Failure	502		{object}	HTTPError
//	@Router		/api/plans [post]
func (h *PlansHandler) create(c echo.Context) error {
	userID := c.Get("user_id").(string)
	var req PlanCreateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Topic) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "topic required")
	}

	plan, err := h.Planner.GenerateInitialPlan(c.Request().Context(), req.Topic, req.Organization, req.Context)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	data, err := json.Marshal(plan)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	id, err := h.Store.CreatePlan(c.Request().Context(), userID, plan.Topic, data)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	plan.ID = id
	return c.JSON(http.StatusCreated, plan)
}

// List plans
//
//	@Summary	List plans
//	@Tags		plans
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Produce	json
//	@Success	200	{array}		store.PlanRecord
//	@Failure	500	{object}	HTTPError
//	@Router		/api/plans [get]
func (h *PlansHandler) list(c echo.Context) error {
	userID := c.Get("user_id").(string)
	items, err := h.Store.ListPlans(c.Request().Context(), userID)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, items)
}

// Get one plan
//
//	@Summary	Get plan
//	@Tags		plans
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Param		plan_id	path	string	true	"Plan ID"
//	@Produce	json
//	@Success	200	{object}	report.Plan
//	@Failure	404	{object}	HTTPError
//	@Router		/api/plans/{plan_id} [get]
func (h *PlansHandler) get(c echo.Context) error {
	userID := c.Get("user_id").(string)
	rec, plan, err := h.loadPlan(c, userID)
	if err != nil {
		return err
	}
	plan.ID = rec.ID
	return c.JSON(http.StatusOK, plan)
}

// Revise a plan with user feedback
//
//	@Summary	Revise plan
//	@Tags		plans
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Param		plan_id	path	string	true	"Plan ID"
//	@Accept		json
//	@Produce	json
//	@Param		payload	body		PlanReviseRequest	true	"Feedback"
//	@Success	200		{object}	report.Plan
//	@Failure	400		{object}	HTTPError
//	@Failure	404		{object}	HTTPError
//	@Failure	502		{object}	HTTPError
//	@Router		/api/plans/{plan_id}/revise [post]
func (h *PlansHandler) revise(c echo.Context) error {
	userID := c.Get("user_id").(string)
	var req PlanReviseRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Feedback) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "feedback required")
	}
	rec, plan, err := h.loadPlan(c, userID)
	if err != nil {
		return err
	}

	revised, err := h.Planner.ReviseWithFeedback(c.Request().Context(), plan, req.Feedback)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	}
	data, err := json.Marshal(revised)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	if err := h.Store.UpdatePlan(c.Request().Context(), rec.ID, revised.Revision, data); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	revised.ID = rec.ID
	return c.JSON(http.StatusOK, revised)
}

// Approve a plan for execution
//
//	@Summary	Approve plan
//	@Tags		plans
//	@Security	BearerAuth
//	@Security	CookieAuth
//	@Param		plan_id	path	string	true	"Plan ID"
//	@Produce	json
//	@Success	200	{object}	IDResponse
//	@Failure	404	{object}	HTTPError
//	@Router		/api/plans/{plan_id}/approve [post]
func (h *PlansHandler) approve(c echo.Context) error {
	userID := c.Get("user_id").(string)
	rec, _, err := h.loadPlan(c, userID)
	if err != nil {
		return err
	}
	if err := h.Store.ApprovePlan(c.Request().Context(), rec.ID); err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, IDResponse{ID: rec.ID})
}

func (h *PlansHandler) loadPlan(c echo.Context, userID string) (store.PlanRecord, *report.Plan, error) {
	rec, err := h.Store.GetPlan(c.Request().Context(), c.Param("plan_id"))
	if err != nil {
		return store.PlanRecord{}, nil, echo.NewHTTPError(http.StatusNotFound, "plan not found")
	}
	if rec.UserID != userID {
		return store.PlanRecord{}, nil, echo.NewHTTPError(http.StatusForbidden, "plan does not belong to user")
	}
	var plan report.Plan
	if err := json.Unmarshal(rec.PlanJSON, &plan); err != nil {
		return store.PlanRecord{}, nil, echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return rec, &plan, nil
}
