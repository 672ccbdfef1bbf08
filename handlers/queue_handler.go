package handlers

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/sms-dispatch/internal/queue"
	"github.com/onurcolak/sms-dispatch/internal/worker"
	"github.com/onurcolak/sms-dispatch/pkg/response"
)

type poolStatser interface {
	Stats() worker.PoolStats
}

type QueueHandler struct {
	queue queue.Queue
	pool  poolStatser
}

// NewQueueHandler builds the queue inspection handler. pool may be nil when this
// process runs no workers.
func NewQueueHandler(q queue.Queue, pool poolStatser) *QueueHandler {
	return &QueueHandler{queue: q, pool: pool}
}

type QueueStatsResponse struct {
	Queue   queue.Stats       `json:"queue"`
	Workers *worker.PoolStats `json:"workers,omitempty"`
}

// GetQueueStats godoc
// @Summary Queue depth
// @Tags queue
// @Produce json
// @Param x-ops-api-key header string true "Ops API key"
// @Success 200 {object} response.SuccessResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /api/v1/queue/stats [get]
func (h *QueueHandler) GetQueueStats(c echo.Context) error {
	stats, err := h.queue.Stats(c.Request().Context())
	if err != nil {
		if errors.Is(err, queue.ErrQueueUnavailable) {
			return response.ServiceUnavailable(c, err)
		}
		return response.InternalServerError(c, err)
	}

	resp := QueueStatsResponse{Queue: stats}
	if h.pool != nil {
		ps := h.pool.Stats()
		resp.Workers = &ps
	}

	return response.Ok(c, resp)
}

// RemoveJob godoc
// @Summary Remove a waiting job
// @Description Drops a job that no worker has picked up yet
// @Tags queue
// @Produce json
// @Param x-ops-api-key header string true "Ops API key"
// @Param id path string true "Job ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 409 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /api/v1/queue/jobs/{id} [delete]
func (h *QueueHandler) RemoveJob(c echo.Context) error {
	jobID := c.Param("id")
	if jobID == "" {
		return response.BadRequestWithMessage(c, "job id is required")
	}

	removed, err := h.queue.Remove(c.Request().Context(), jobID)
	if err != nil {
		switch {
		case errors.Is(err, queue.ErrJobNotFound):
			return response.NotFound(c, "Job not found")
		case errors.Is(err, queue.ErrQueueUnavailable):
			return response.ServiceUnavailable(c, err)
		}
		return response.InternalServerError(c, err)
	}
	if !removed {
		return response.Conflict(c, "Job is already running")
	}

	return response.OkWithMessage(c, "Job removed", map[string]string{"jobId": jobID})
}
