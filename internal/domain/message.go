package domain

import "time"

type MessageStatus string

const (
	StatusQueued MessageStatus = "queued"
	StatusSent   MessageStatus = "sent"
	StatusFailed MessageStatus = "failed"
)

// allowedTransitions lists, per source status, the statuses it may move to.
// Terminal statuses have no outgoing edges.
var allowedTransitions = map[MessageStatus][]MessageStatus{
	StatusQueued: {StatusSent, StatusFailed},
	StatusSent:   nil,
	StatusFailed: nil,
}

func (s MessageStatus) Valid() bool {
	_, ok := allowedTransitions[s]
	return ok
}

func (s MessageStatus) IsTerminal() bool {
	return s == StatusSent || s == StatusFailed
}

// CanTransition reports whether a message in status from may be moved to status to.
// A same-status write is not a transition.
func CanTransition(from, to MessageStatus) bool {
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// SourcesFor returns every status from which target is reachable.
func SourcesFor(target MessageStatus) []MessageStatus {
	var sources []MessageStatus
	for from, nexts := range allowedTransitions {
		for _, next := range nexts {
			if next == target {
				sources = append(sources, from)
			}
		}
	}
	return sources
}

type Message struct {
	ID                int64         `db:"id" json:"id"`
	CampaignID        int64         `db:"campaign_id" json:"campaignId"`
	ContactID         int64         `db:"contact_id" json:"contactId"`
	OwnerID           int64         `db:"owner_id" json:"ownerId"`
	Text              string        `db:"text" json:"text"`
	Destination       string        `db:"destination" json:"destination"`
	ProviderMessageID *string       `db:"provider_message_id" json:"providerMessageId,omitempty"`
	BulkID            *string       `db:"bulk_id" json:"bulkId,omitempty"`
	Status            MessageStatus `db:"status" json:"status"`
	SentAt            *time.Time    `db:"sent_at" json:"sentAt,omitempty"`
	FailedAt          *time.Time    `db:"failed_at" json:"failedAt,omitempty"`
	RetryCount        int           `db:"retry_count" json:"retryCount"`
	Error             *string       `db:"error" json:"error,omitempty"`
	ClaimToken        *string       `db:"claim_token" json:"-"`
	ClaimedAt         *time.Time    `db:"claimed_at" json:"-"`
	CreatedAt         time.Time     `db:"created_at" json:"createdAt"`
	UpdatedAt         time.Time     `db:"updated_at" json:"updatedAt"`
}

func (m *Message) HasProviderID() bool {
	return m.ProviderMessageID != nil && *m.ProviderMessageID != ""
}

// StatusUpdate carries the side fields written together with a status change.
type StatusUpdate struct {
	At    time.Time
	Error string
}

// Acceptance records that the provider accepted a message.
type Acceptance struct {
	MessageID         int64
	ProviderMessageID string
	BulkID            string
}

// NewMessage is the insert shape for one campaign recipient.
type NewMessage struct {
	CampaignID  int64  `db:"campaign_id"`
	ContactID   int64  `db:"contact_id"`
	OwnerID     int64  `db:"owner_id"`
	Text        string `db:"text"`
	Destination string `db:"destination"`
}

// PendingFilter selects queued messages that already carry a provider id.
// Zero-valued pointers widen the scope; Limit <= 0 means no limit.
type PendingFilter struct {
	OwnerID    *int64
	CampaignID *int64
	BulkID     *string
	Limit      int
}
