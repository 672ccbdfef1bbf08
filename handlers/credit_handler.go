package handlers

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/pkg/response"
	"github.com/onurcolak/sms-dispatch/pkg/validator"
)

type creditBook interface {
	Balance(ctx context.Context, ownerID int64) (int64, error)
	Credit(ctx context.Context, ownerID, amount int64, reason string) (*domain.LedgerEntry, error)
	Refund(ctx context.Context, ownerID, amount int64, messageID int64, reason string) (*domain.LedgerEntry, error)
}

type messageLookup interface {
	Get(ctx context.Context, id int64) (*domain.Message, error)
}

type CreditHandler struct {
	credits  creditBook
	messages messageLookup
}

func NewCreditHandler(credits creditBook, messages messageLookup) *CreditHandler {
	return &CreditHandler{credits: credits, messages: messages}
}

type TopUpRequest struct {
	Amount int64  `json:"amount" validate:"required,gt=0,lte=1000000"`
	Reason string `json:"reason" validate:"required,max=255"`
}

type RefundRequest struct {
	MessageID int64  `json:"messageId" validate:"required,gt=0"`
	Reason    string `json:"reason" validate:"required,max=255"`
}

type BalanceResponse struct {
	OwnerID int64 `json:"ownerId"`
	Balance int64 `json:"balance"`
}

// GetBalance godoc
// @Summary Credit balance
// @Tags credits
// @Produce json
// @Param x-ops-api-key header string true "Ops API key"
// @Param ownerId path int true "Owner ID"
// @Success 200 {object} response.SuccessResponse
// @Router /api/v1/credits/{ownerId} [get]
func (h *CreditHandler) GetBalance(c echo.Context) error {
	ownerID, err := parseOwnerParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	balance, err := h.credits.Balance(c.Request().Context(), ownerID)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Ok(c, BalanceResponse{OwnerID: ownerID, Balance: balance})
}

// TopUp godoc
// @Summary Add credits
// @Description Credits an owner's wallet, e.g. after a manual purchase
// @Tags credits
// @Accept json
// @Produce json
// @Param x-ops-api-key header string true "Ops API key"
// @Param ownerId path int true "Owner ID"
// @Param request body TopUpRequest true "Amount and reason"
// @Success 201 {object} response.SuccessResponse
// @Failure 422 {object} response.ErrorResponse
// @Router /api/v1/credits/{ownerId}/topup [post]
func (h *CreditHandler) TopUp(c echo.Context) error {
	ownerID, err := parseOwnerParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	var req TopUpRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	entry, err := h.credits.Credit(c.Request().Context(), ownerID, req.Amount, req.Reason)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	return response.Created(c, "Credits added", entry)
}

// Refund godoc
// @Summary Refund one message
// @Description Returns one credit for a message of this owner. Repeating it is a no-op.
// @Tags credits
// @Accept json
// @Produce json
// @Param x-ops-api-key header string true "Ops API key"
// @Param ownerId path int true "Owner ID"
// @Param request body RefundRequest true "Message and reason"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Failure 422 {object} response.ErrorResponse
// @Router /api/v1/credits/{ownerId}/refund [post]
func (h *CreditHandler) Refund(c echo.Context) error {
	ownerID, err := parseOwnerParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	var req RefundRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	ctx := c.Request().Context()

	msg, err := h.messages.Get(ctx, req.MessageID)
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			return response.NotFound(c, "Message not found")
		}
		return response.InternalServerError(c, err)
	}
	if msg.OwnerID != ownerID {
		return response.NotFound(c, "Message not found")
	}

	entry, err := h.credits.Refund(ctx, ownerID, 1, msg.ID, req.Reason)
	if err != nil {
		return response.InternalServerError(c, err)
	}

	if entry.Duplicate {
		return response.OkWithMessage(c, "Message was already refunded", entry)
	}
	return response.OkWithMessage(c, "Message refunded", entry)
}

func parseOwnerParam(c echo.Context) (int64, error) {
	id, err := strconv.ParseInt(c.Param("ownerId"), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid owner id %q", c.Param("ownerId"))
	}
	return id, nil
}
