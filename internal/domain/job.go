package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type JobKind string

const (
	JobSendMessage     JobKind = "send_message"
	JobSendBatch       JobKind = "send_batch"
	JobEnqueueCampaign JobKind = "enqueue_campaign"
	JobRefreshStatuses JobKind = "refresh_statuses"
	JobImportContacts  JobKind = "import_contacts"
)

// JobPayload is implemented by every job variant.
type JobPayload interface {
	Kind() JobKind
}

type SendMessage struct {
	MessageID int64 `json:"messageId"`
}

type SendBatch struct {
	CampaignID int64   `json:"campaignId"`
	OwnerID    int64   `json:"ownerId"`
	MessageIDs []int64 `json:"messageIds"`
}

type EnqueueCampaign struct {
	CampaignID int64  `json:"campaignId"`
	OwnerID    int64  `json:"ownerId"`
	ListID     *int64 `json:"listId,omitempty"`
}

// RefreshStatuses selects one reconciliation scope: bulk id, campaign, or a global sweep.
type RefreshStatuses struct {
	Limit      int     `json:"limit"`
	OwnerID    *int64  `json:"ownerId,omitempty"`
	CampaignID *int64  `json:"campaignId,omitempty"`
	BulkID     *string `json:"bulkId,omitempty"`
}

type ImportContacts struct {
	OwnerID  int64          `json:"ownerId"`
	ListID   *int64         `json:"listId,omitempty"`
	Contacts []ContactInput `json:"contacts"`
}

func (SendMessage) Kind() JobKind     { return JobSendMessage }
func (SendBatch) Kind() JobKind       { return JobSendBatch }
func (EnqueueCampaign) Kind() JobKind { return JobEnqueueCampaign }
func (RefreshStatuses) Kind() JobKind { return JobRefreshStatuses }
func (ImportContacts) Kind() JobKind  { return JobImportContacts }

// Job is the queue envelope around one payload.
type Job struct {
	ID          string          `json:"id"`
	Kind        JobKind         `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	Attempt     int             `json:"attempt"`
	MaxAttempts int             `json:"maxAttempts"`
	EnqueuedAt  time.Time       `json:"enqueuedAt"`
	LastError   string          `json:"lastError,omitempty"`
}

func NewJob(payload JobPayload, maxAttempts int) (Job, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Job{}, fmt.Errorf("failed to marshal %s payload: %w", payload.Kind(), err)
	}
	if maxAttempts <= 0 {
		maxAttempts = 1
	}

	return Job{
		ID:          uuid.NewString(),
		Kind:        payload.Kind(),
		Payload:     raw,
		MaxAttempts: maxAttempts,
		EnqueuedAt:  time.Now().UTC(),
	}, nil
}

// Decode returns the typed payload. Unknown kinds yield ErrUnknownJobKind.
func (j Job) Decode() (JobPayload, error) {
	var (
		payload JobPayload
		err     error
	)

	switch j.Kind {
	case JobSendMessage:
		var p SendMessage
		err = json.Unmarshal(j.Payload, &p)
		payload = p
	case JobSendBatch:
		var p SendBatch
		err = json.Unmarshal(j.Payload, &p)
		payload = p
	case JobEnqueueCampaign:
		var p EnqueueCampaign
		err = json.Unmarshal(j.Payload, &p)
		payload = p
	case JobRefreshStatuses:
		var p RefreshStatuses
		err = json.Unmarshal(j.Payload, &p)
		payload = p
	case JobImportContacts:
		var p ImportContacts
		err = json.Unmarshal(j.Payload, &p)
		payload = p
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownJobKind, j.Kind)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to decode %s payload: %w", j.Kind, err)
	}
	return payload, nil
}

// Exhausted reports whether the attempt just made was the last one allowed.
func (j Job) Exhausted() bool {
	return j.Attempt >= j.MaxAttempts
}
