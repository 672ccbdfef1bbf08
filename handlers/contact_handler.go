package handlers

import (
	"errors"

	"github.com/labstack/echo/v4"

	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/internal/queue"
	"github.com/onurcolak/sms-dispatch/pkg/response"
	"github.com/onurcolak/sms-dispatch/pkg/validator"
)

type ContactHandler struct {
	queue       queue.Queue
	maxAttempts int
}

func NewContactHandler(q queue.Queue, maxAttempts int) *ContactHandler {
	return &ContactHandler{queue: q, maxAttempts: maxAttempts}
}

// ImportContactsRequest carries already-parsed rows. Rows are validated one by one by
// the import job, so a bad phone number does not reject the whole request.
type ImportContactsRequest struct {
	OwnerID  int64                 `json:"ownerId" validate:"required,gt=0"`
	ListID   *int64                `json:"listId,omitempty" validate:"omitempty,gt=0"`
	Contacts []domain.ContactInput `json:"contacts" validate:"required,min=1,max=10000"`
}

// ImportContacts godoc
// @Summary Import contacts
// @Description Enqueues an import of parsed contact rows for one owner, optionally into a list
// @Tags contacts
// @Accept json
// @Produce json
// @Param x-ops-api-key header string true "Ops API key"
// @Param request body ImportContactsRequest true "Contacts to import"
// @Success 202 {object} response.SuccessResponse
// @Failure 422 {object} response.ErrorResponse
// @Failure 503 {object} response.ErrorResponse
// @Router /api/v1/contacts/import [post]
func (h *ContactHandler) ImportContacts(c echo.Context) error {
	var req ImportContactsRequest
	if err := c.Bind(&req); err != nil {
		return response.BadRequest(c, err)
	}

	if err := c.Validate(&req); err != nil {
		return validator.HandleValidationError(c, err)
	}

	job, err := queue.Submit(c.Request().Context(), h.queue, domain.ImportContacts{
		OwnerID:  req.OwnerID,
		ListID:   req.ListID,
		Contacts: req.Contacts,
	}, h.maxAttempts)
	if err != nil {
		if errors.Is(err, queue.ErrQueueUnavailable) {
			return response.ServiceUnavailable(c, err)
		}
		return response.InternalServerError(c, err)
	}

	return response.Accepted(c, "Contact import enqueued", map[string]any{
		"jobId": job.ID,
		"rows":  len(req.Contacts),
	})
}
