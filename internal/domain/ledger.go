package domain

import "time"

type EntryKind string

const (
	EntryDebit  EntryKind = "debit"
	EntryCredit EntryKind = "credit"
	EntryRefund EntryKind = "refund"
)

// LedgerEntry is one append-only balance movement of a tenant.
type LedgerEntry struct {
	ID            int64     `db:"id" json:"id"`
	OwnerID       int64     `db:"owner_id" json:"ownerId"`
	MessageID     *int64    `db:"message_id" json:"messageId,omitempty"`
	Kind          EntryKind `db:"kind" json:"kind"`
	Amount        int64     `db:"amount" json:"amount"`
	BalanceBefore int64     `db:"balance_before" json:"balanceBefore"`
	BalanceAfter  int64     `db:"balance_after" json:"balanceAfter"`
	Reason        string    `db:"reason" json:"reason"`
	CreatedAt     time.Time `db:"created_at" json:"createdAt"`

	// Duplicate is set when the entry already existed for the same message and kind.
	Duplicate bool `db:"-" json:"-"`
}

// DebitContext ties a debit to what it pays for.
type DebitContext struct {
	MessageID  *int64
	CampaignID *int64
	Reason     string
}
