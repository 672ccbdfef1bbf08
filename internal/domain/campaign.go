package domain

import "time"

type CampaignStatus string

const (
	CampaignDraft     CampaignStatus = "draft"
	CampaignScheduled CampaignStatus = "scheduled"
	CampaignSending   CampaignStatus = "sending"
	CampaignCompleted CampaignStatus = "completed"
)

type Campaign struct {
	ID          int64          `db:"id" json:"id"`
	OwnerID     int64          `db:"owner_id" json:"ownerId"`
	Name        string         `db:"name" json:"name"`
	Body        string         `db:"body" json:"body"`
	Status      CampaignStatus `db:"status" json:"status"`
	ListID      *int64         `db:"list_id" json:"listId,omitempty"`
	ScheduledAt *time.Time     `db:"scheduled_at" json:"scheduledAt,omitempty"`
	TotalCount  int64          `db:"total_count" json:"total"`
	QueuedCount int64          `db:"queued_count" json:"queued"`
	SentCount   int64          `db:"sent_count" json:"sent"`
	FailedCount int64          `db:"failed_count" json:"failed"`
	CreatedAt   time.Time      `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time      `db:"updated_at" json:"updatedAt"`
}

// CampaignStats are the derived per-status counters of a campaign.
type CampaignStats struct {
	Total  int64 `db:"total" json:"total"`
	Queued int64 `db:"queued" json:"queued"`
	Sent   int64 `db:"sent" json:"sent"`
	Failed int64 `db:"failed" json:"failed"`
}

// Contact is one resolved audience member.
type Contact struct {
	ID           int64  `db:"id" json:"id"`
	OwnerID      int64  `db:"owner_id" json:"ownerId"`
	Phone        string `db:"phone" json:"phone"`
	FirstName    string `db:"first_name" json:"firstName"`
	LastName     string `db:"last_name" json:"lastName"`
	Unsubscribed bool   `db:"unsubscribed" json:"unsubscribed"`
}

// AudienceFilter narrows the contacts a campaign is sent to.
type AudienceFilter struct {
	ListID *int64
}

type ContactInput struct {
	Phone     string `json:"phone" validate:"required,e164"`
	FirstName string `json:"firstName,omitempty" validate:"omitempty,max=100"`
	LastName  string `json:"lastName,omitempty" validate:"omitempty,max=100"`
}

type ImportResult struct {
	Imported int `json:"imported"`
	Updated  int `json:"updated"`
	Invalid  int `json:"invalid"`
}
