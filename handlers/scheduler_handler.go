package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/sms-dispatch/internal/scheduler"
	"github.com/onurcolak/sms-dispatch/pkg/response"
	"github.com/onurcolak/sms-dispatch/pkg/validator"
)

type sweepScheduler interface {
	StartWithParams(ctx context.Context, intervalMinutes, limit int) error
	Stop() error
	IsRunning() bool
	GetStatus() scheduler.SchedulerStatus
}

type SchedulerHandler struct {
	scheduler sweepScheduler
	ctx       context.Context
}

type StartSchedulerRequest struct {
	Interval *int `json:"interval,omitempty" validate:"omitempty,min=1"`
	Limit    *int `json:"limit,omitempty" validate:"omitempty,min=1,max=5000"`
}

// NewSchedulerHandler takes the process context so a scheduler started over HTTP
// outlives the request that started it.
func NewSchedulerHandler(sched sweepScheduler, ctx context.Context) *SchedulerHandler {
	return &SchedulerHandler{
		scheduler: sched,
		ctx:       ctx,
	}
}

// StartScheduler godoc
// @Summary Start the reconciliation sweep
// @Description Starts the periodic status reconciliation with optional interval (minutes) and limit
// @Tags scheduler
// @Accept json
// @Produce json
// @Param x-ops-api-key header string true "Ops API key"
// @Param request body StartSchedulerRequest false "Scheduler parameters (optional)"
// @Success 200 {object} response.SuccessResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/scheduler/start [post]
func (h *SchedulerHandler) StartScheduler(c echo.Context) error {
	if h.scheduler.IsRunning() {
		return response.OkWithMessage(c, "Scheduler is already running", h.scheduler.GetStatus())
	}

	var req StartSchedulerRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	var interval, limit int
	if req.Interval != nil {
		interval = *req.Interval
	}
	if req.Limit != nil {
		limit = *req.Limit
	}

	if err := h.scheduler.StartWithParams(h.ctx, interval, limit); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Scheduler started successfully", h.scheduler.GetStatus())
}

// StopScheduler godoc
// @Summary Stop the reconciliation sweep
// @Tags scheduler
// @Produce json
// @Param x-ops-api-key header string true "Ops API key"
// @Success 200 {object} response.SuccessResponse
// @Failure 500 {object} response.ErrorResponse
// @Router /api/v1/scheduler/stop [post]
func (h *SchedulerHandler) StopScheduler(c echo.Context) error {
	if !h.scheduler.IsRunning() {
		return response.OkWithMessage(c, "Scheduler is already stopped", h.scheduler.GetStatus())
	}

	if err := h.scheduler.Stop(); err != nil {
		return response.InternalServerError(c, err)
	}

	return response.OkWithMessage(c, "Scheduler stopped successfully", h.scheduler.GetStatus())
}

// GetSchedulerStatus godoc
// @Summary Get scheduler status
// @Tags scheduler
// @Produce json
// @Param x-ops-api-key header string true "Ops API key"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/scheduler/status [get]
func (h *SchedulerHandler) GetSchedulerStatus(c echo.Context) error {
	return response.Ok(c, h.scheduler.GetStatus())
}
