package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

type pinger interface {
	PingContext(ctx context.Context) error
}

type redisPinger interface {
	Ping(ctx context.Context) error
}

type queueAvailability interface {
	Available() bool
}

// HealthHandler handles health checks.
type HealthHandler struct {
	db           pinger
	redis        redisPinger
	queue        queueAvailability
	checkTimeout time.Duration
}

// NewHealthHandler builds the health handler. redis is nil when the memory backend
// or degraded mode is in use.
func NewHealthHandler(db pinger, redis redisPinger, q queueAvailability) *HealthHandler {
	return &HealthHandler{
		db:           db,
		redis:        redis,
		queue:        q,
		checkTimeout: 2 * time.Second,
	}
}

// Health returns overall status and component statuses (database and job queue).
// @Summary Health check
// @Description Returns overall status with database and queue backend results
// @Tags health
// @Produce json
// @Success 200 {object} map[string]any
// @Failure 503 {object} map[string]any
// @Router /health [get]
func (h *HealthHandler) Health(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), h.checkTimeout)
	defer cancel()

	overallStatus := "ok"
	code := http.StatusOK

	dbStatus := "up"
	if h.db == nil {
		dbStatus = "down"
	} else if err := h.db.PingContext(ctx); err != nil {
		dbStatus = "down"
	}
	if dbStatus == "down" {
		overallStatus = "down"
		code = http.StatusServiceUnavailable
	}

	queueStatus := "up"
	switch {
	case h.queue == nil || !h.queue.Available():
		queueStatus = "degraded"
	case h.redis != nil:
		if err := h.redis.Ping(ctx); err != nil {
			queueStatus = "down"
		}
	}
	if queueStatus != "up" && overallStatus == "ok" {
		overallStatus = "degraded"
	}

	return c.JSON(code, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().Format(time.RFC3339),
		"components": map[string]any{
			"database": map[string]any{
				"status": dbStatus,
			},
			"queue": map[string]any{
				"status": queueStatus,
			},
		},
	})
}
