package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/internal/queue"
	"github.com/onurcolak/sms-dispatch/pkg/response"
	"github.com/onurcolak/sms-dispatch/pkg/validator"
)

type campaignSubmitter interface {
	Submit(ctx context.Context, p domain.EnqueueCampaign) (domain.Job, error)
}

type campaignLookup interface {
	GetForOwner(ctx context.Context, id, ownerID int64) (*domain.Campaign, error)
}

type aggregateRecomputer interface {
	Recompute(ctx context.Context, campaignID int64) (*domain.CampaignStats, error)
}

type CampaignHandler struct {
	dispatch   campaignSubmitter
	campaigns  campaignLookup
	aggregates aggregateRecomputer
}

func NewCampaignHandler(dispatch campaignSubmitter, campaigns campaignLookup, aggregates aggregateRecomputer) *CampaignHandler {
	return &CampaignHandler{dispatch: dispatch, campaigns: campaigns, aggregates: aggregates}
}

type EnqueueCampaignRequest struct {
	OwnerID int64  `json:"ownerId" validate:"required,gt=0"`
	ListID  *int64 `json:"listId,omitempty" validate:"omitempty,gt=0"`
}

type EnqueueCampaignResponse struct {
	JobID      string `json:"jobId"`
	CampaignID int64  `json:"campaignId"`
}

// EnqueueCampaign godoc
// @Summary Start sending a campaign
// @Description Enqueues the job that materialises the campaign's messages and batches them
// @Tags campaigns
// @Accept json
// @Produce json
// @Param x-ops-api-key header string true "Ops API key"
// @Param id path int true "Campaign ID"
// @Param request body EnqueueCampaignRequest true "Owner and optional list"
// @Success 202 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/enqueue [post]
func (h *CampaignHandler) EnqueueCampaign(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	var req EnqueueCampaignRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	ctx := c.Request().Context()

	if _, err := h.campaigns.GetForOwner(ctx, id, req.OwnerID); err != nil {
		if errors.Is(err, domain.ErrCampaignNotFound) {
			return response.NotFound(c, "Campaign not found")
		}
		return response.InternalServerError(c, err)
	}

	job, err := h.dispatch.Submit(ctx, domain.EnqueueCampaign{CampaignID: id, OwnerID: req.OwnerID, ListID: req.ListID})
	if err != nil {
		if errors.Is(err, queue.ErrQueueUnavailable) {
			return response.ServiceUnavailable(c, err)
		}
		return response.InternalServerError(c, err)
	}

	return response.Accepted(c, "Campaign enqueued", EnqueueCampaignResponse{JobID: job.ID, CampaignID: id})
}

// GetCampaignStats godoc
// @Summary Campaign counters
// @Description Recomputes and returns the campaign's total/queued/sent/failed counters
// @Tags campaigns
// @Produce json
// @Param x-ops-api-key header string true "Ops API key"
// @Param id path int true "Campaign ID"
// @Param ownerId query int true "Owner ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/campaigns/{id}/stats [get]
func (h *CampaignHandler) GetCampaignStats(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	ownerID, err := strconv.ParseInt(c.QueryParam("ownerId"), 10, 64)
	if err != nil || ownerID <= 0 {
		return response.BadRequestWithMessage(c, "ownerId query parameter must be a positive integer")
	}

	ctx := c.Request().Context()

	if _, err := h.campaigns.GetForOwner(ctx, id, ownerID); err != nil {
		if errors.Is(err, domain.ErrCampaignNotFound) {
			return response.NotFound(c, "Campaign not found")
		}
		return response.InternalServerError(c, err)
	}

	stats, err := h.aggregates.Recompute(ctx, id)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, stats)
}

func parseIDParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid id %q", c.Param("id"))
	}
	return id, nil
}
