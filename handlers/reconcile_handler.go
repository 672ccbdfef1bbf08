package handlers

import (
	"context"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/internal/service"
	"github.com/onurcolak/sms-dispatch/pkg/response"
	"github.com/onurcolak/sms-dispatch/pkg/validator"
)

type statusRefresher interface {
	Refresh(ctx context.Context, p domain.RefreshStatuses) (service.ReconcileResult, error)
}

type ReconcileHandler struct {
	reconciler statusRefresher
}

func NewReconcileHandler(reconciler statusRefresher) *ReconcileHandler {
	return &ReconcileHandler{reconciler: reconciler}
}

type ReconcileRequest struct {
	OwnerID    *int64  `json:"ownerId,omitempty" validate:"omitempty,gt=0"`
	CampaignID *int64  `json:"campaignId,omitempty" validate:"omitempty,gt=0"`
	BulkID     *string `json:"bulkId,omitempty" validate:"omitempty,min=1,max=100"`
	Limit      int     `json:"limit,omitempty" validate:"omitempty,min=1,max=5000"`
}

// Reconcile godoc
// @Summary Refresh delivery statuses
// @Description Re-polls the provider for accepted messages in one scope and applies the result synchronously
// @Tags reconcile
// @Accept json
// @Produce json
// @Param x-ops-api-key header string true "Ops API key"
// @Param request body ReconcileRequest false "Scope: bulk id, campaign (with owner) or global"
// @Success 200 {object} response.SuccessResponse
// @Failure 400 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Router /api/v1/reconcile [post]
func (h *ReconcileHandler) Reconcile(c echo.Context) error {
	var req ReconcileRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	if req.CampaignID != nil && req.OwnerID == nil {
		return response.BadRequestWithMessage(c, "ownerId is required when campaignId is set")
	}

	result, err := h.reconciler.Refresh(c.Request().Context(), domain.RefreshStatuses{
		Limit:      req.Limit,
		OwnerID:    req.OwnerID,
		CampaignID: req.CampaignID,
		BulkID:     req.BulkID,
	})
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, result)
}
