package handlers

import (
	"context"
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/pkg/response"
)

type messageFinder interface {
	Get(ctx context.Context, id int64) (*domain.Message, error)
	FindByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Message, error)
}

// MessageHandler lets operators inspect single messages, e.g. when a customer
// reports a delivery problem.
type MessageHandler struct {
	messages messageFinder
}

func NewMessageHandler(messages messageFinder) *MessageHandler {
	return &MessageHandler{messages: messages}
}

// GetMessage godoc
// @Summary Get a message
// @Tags messages
// @Produce json
// @Param x-ops-api-key header string true "Ops API key"
// @Param id path int true "Message ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/messages/{id} [get]
func (h *MessageHandler) GetMessage(c echo.Context) error {
	id, err := parseIDParam(c)
	if err != nil {
		return response.BadRequest(c, err)
	}

	msg, err := h.messages.Get(c.Request().Context(), id)
	return h.respond(c, msg, err)
}

// GetByProviderID godoc
// @Summary Find a message by provider id
// @Tags messages
// @Produce json
// @Param x-ops-api-key header string true "Ops API key"
// @Param providerMessageId path string true "Provider message ID"
// @Success 200 {object} response.SuccessResponse
// @Failure 404 {object} response.ErrorResponse
// @Router /api/v1/messages/provider/{providerMessageId} [get]
func (h *MessageHandler) GetByProviderID(c echo.Context) error {
	providerID := c.Param("providerMessageId")
	if providerID == "" {
		return response.BadRequestWithMessage(c, "providerMessageId is required")
	}

	msg, err := h.messages.FindByProviderMessageID(c.Request().Context(), providerID)
	return h.respond(c, msg, err)
}

func (h *MessageHandler) respond(c echo.Context, msg *domain.Message, err error) error {
	if err != nil {
		if errors.Is(err, domain.ErrMessageNotFound) {
			return response.NotFound(c, "Message not found")
		}
		return response.InternalServerError(c, err)
	}
	return response.Ok(c, msg)
}
