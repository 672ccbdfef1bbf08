package service

import (
	"context"
	"fmt"
	"time"

	"github.com/onurcolak/sms-dispatch/internal/domain"
)

type messageRepository interface {
	CreateMany(ctx context.Context, msgs []domain.NewMessage) (int64, error)
	GetByID(ctx context.Context, id int64) (*domain.Message, error)
	FindByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Message, error)
	FindUnsubmittedIDs(ctx context.Context, campaignID int64, leaseCutoff time.Time) ([]int64, error)
	Claim(ctx context.Context, ids []int64, token string, claimedAt, leaseCutoff time.Time) ([]domain.Message, error)
	Reserve(ctx context.Context, ids []int64, token string, at, leaseCutoff time.Time) error
	Release(ctx context.Context, ids []int64, token string) error
	UpdateText(ctx context.Context, id int64, text string) error
	UpdateStatus(ctx context.Context, id int64, target domain.MessageStatus, upd domain.StatusUpdate) (bool, error)
	RecordAcceptance(ctx context.Context, acc domain.Acceptance, sentAt *time.Time) (bool, error)
	FailUnsubmitted(ctx context.Context, ids []int64, token string, leaseCutoff time.Time, upd domain.StatusUpdate) (int64, error)
	FailUnclaimedByCampaign(ctx context.Context, campaignID int64, leaseCutoff time.Time, upd domain.StatusUpdate) (int64, error)
	FindPending(ctx context.Context, filter domain.PendingFilter) ([]domain.Message, error)
}

// campaignToucher is told about every campaign whose messages changed.
type campaignToucher interface {
	Touch(campaignID int64)
}

// MessageStore is the only writer of message status. Every write that changes a row
// signals the campaign it belongs to.
type MessageStore struct {
	repo    messageRepository
	touched campaignToucher
	lease   time.Duration
	now     func() time.Time
}

func NewMessageStore(repo messageRepository, touched campaignToucher, claimLease time.Duration) *MessageStore {
	return &MessageStore{
		repo:    repo,
		touched: touched,
		lease:   claimLease,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *MessageStore) leaseCutoff() time.Time {
	return s.now().Add(-s.lease)
}

// Create inserts recipients of one campaign; existing (campaign, contact) pairs are kept as they are.
func (s *MessageStore) Create(ctx context.Context, campaignID int64, msgs []domain.NewMessage) (int64, error) {
	inserted, err := s.repo.CreateMany(ctx, msgs)
	if inserted > 0 {
		s.touched.Touch(campaignID)
	}
	return inserted, err
}

func (s *MessageStore) Get(ctx context.Context, id int64) (*domain.Message, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *MessageStore) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Message, error) {
	return s.repo.FindByProviderMessageID(ctx, providerMessageID)
}

func (s *MessageStore) UnsubmittedIDs(ctx context.Context, campaignID int64) ([]int64, error) {
	return s.repo.FindUnsubmittedIDs(ctx, campaignID, s.leaseCutoff())
}

// Claim reserves messages for the job identified by token.
func (s *MessageStore) Claim(ctx context.Context, ids []int64, token string) ([]domain.Message, error) {
	now := s.now()
	return s.repo.Claim(ctx, ids, token, now, now.Add(-s.lease))
}

// Reserve hands messages to a job that is about to be enqueued. The job's own Claim
// later succeeds on them, while enqueue retries and FailUnclaimed leave them alone.
func (s *MessageStore) Reserve(ctx context.Context, ids []int64, token string) error {
	now := s.now()
	return s.repo.Reserve(ctx, ids, token, now, now.Add(-s.lease))
}

// Release undoes Reserve for a job that never made it into the queue.
func (s *MessageStore) Release(ctx context.Context, ids []int64, token string) error {
	return s.repo.Release(ctx, ids, token)
}

func (s *MessageStore) UpdateText(ctx context.Context, id int64, text string) error {
	return s.repo.UpdateText(ctx, id, text)
}

// UpdateStatus applies target to msg if the transition table allows it from the stored
// status. It reports whether the row changed; a message that is already terminal is
// left untouched and reported as unchanged.
func (s *MessageStore) UpdateStatus(
	ctx context.Context,
	msg domain.Message,
	target domain.MessageStatus,
	upd domain.StatusUpdate,
) (bool, error) {
	if !target.IsTerminal() {
		return false, fmt.Errorf("%w: %s to %s", domain.ErrTransitionNotAllowed, msg.Status, target)
	}
	if msg.Status == target || msg.Status.IsTerminal() {
		return false, nil
	}

	if upd.At.IsZero() {
		upd.At = s.now()
	}

	changed, err := s.repo.UpdateStatus(ctx, msg.ID, target, upd)
	if err != nil {
		return false, err
	}
	if changed {
		s.touched.Touch(msg.CampaignID)
	}
	return changed, nil
}

// RecordAcceptance stores the provider ids of msg. With markSent the message becomes
// sent in the same write; otherwise it stays queued until reconciliation.
func (s *MessageStore) RecordAcceptance(ctx context.Context, msg domain.Message, acc domain.Acceptance, markSent bool) (bool, error) {
	var sentAt *time.Time
	if markSent {
		at := s.now()
		sentAt = &at
	}

	changed, err := s.repo.RecordAcceptance(ctx, acc, sentAt)
	if err != nil {
		return false, err
	}
	if changed {
		s.touched.Touch(msg.CampaignID)
	}
	return changed, nil
}

// FailUnsubmitted fails the messages of one job that never reached the provider.
func (s *MessageStore) FailUnsubmitted(ctx context.Context, campaignID int64, ids []int64, token, reason string) (int64, error) {
	n, err := s.repo.FailUnsubmitted(ctx, ids, token, s.leaseCutoff(), domain.StatusUpdate{At: s.now(), Error: reason})
	if n > 0 {
		s.touched.Touch(campaignID)
	}
	return n, err
}

// FailUnclaimed fails every queued message of a campaign that no live job holds.
func (s *MessageStore) FailUnclaimed(ctx context.Context, campaignID int64, reason string) (int64, error) {
	n, err := s.repo.FailUnclaimedByCampaign(ctx, campaignID, s.leaseCutoff(), domain.StatusUpdate{At: s.now(), Error: reason})
	if n > 0 {
		s.touched.Touch(campaignID)
	}
	return n, err
}

func (s *MessageStore) FindPendingByCampaign(ctx context.Context, ownerID, campaignID int64, limit int) ([]domain.Message, error) {
	return s.repo.FindPending(ctx, domain.PendingFilter{OwnerID: &ownerID, CampaignID: &campaignID, Limit: limit})
}

func (s *MessageStore) FindPendingGlobal(ctx context.Context, limit int) ([]domain.Message, error) {
	return s.repo.FindPending(ctx, domain.PendingFilter{Limit: limit})
}

func (s *MessageStore) FindPendingByBulk(ctx context.Context, bulkID string, ownerID *int64, limit int) ([]domain.Message, error) {
	return s.repo.FindPending(ctx, domain.PendingFilter{OwnerID: ownerID, BulkID: &bulkID, Limit: limit})
}
