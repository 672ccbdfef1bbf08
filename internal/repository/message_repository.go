package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/sms-dispatch/internal/domain"
)

const (
	messageColumns = `id, campaign_id, contact_id, owner_id, text, destination, provider_message_id, bulk_id,
		status, sent_at, failed_at, retry_count, error, claim_token, claimed_at, created_at, updated_at`

	insertChunkSize = 500
)

// MessageRepository handles database operations for messages.
type MessageRepository struct {
	db *sqlx.DB
}

func NewMessageRepository(db *sqlx.DB) *MessageRepository {
	return &MessageRepository{db: db}
}

// CreateMany inserts recipients, skipping any (campaign, contact) pair that already exists.
// It returns the number of rows actually inserted.
func (r *MessageRepository) CreateMany(ctx context.Context, msgs []domain.NewMessage) (int64, error) {
	query := `
		INSERT IGNORE INTO messages (campaign_id, contact_id, owner_id, text, destination, status)
		VALUES (:campaign_id, :contact_id, :owner_id, :text, :destination, 'queued')
	`

	var inserted int64
	for start := 0; start < len(msgs); start += insertChunkSize {
		end := min(start+insertChunkSize, len(msgs))

		result, err := r.db.NamedExecContext(ctx, query, msgs[start:end])
		if err != nil {
			return inserted, fmt.Errorf("failed to create messages: %w", err)
		}

		rows, err := result.RowsAffected()
		if err != nil {
			return inserted, fmt.Errorf("failed to get affected rows: %w", err)
		}
		inserted += rows
	}

	return inserted, nil
}

func (r *MessageRepository) GetByID(ctx context.Context, id int64) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE id = ?`

	var message domain.Message
	if err := r.db.GetContext(ctx, &message, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message: %w", err)
	}

	return &message, nil
}

func (r *MessageRepository) FindByProviderMessageID(ctx context.Context, providerMessageID string) (*domain.Message, error) {
	query := `SELECT ` + messageColumns + ` FROM messages WHERE provider_message_id = ?`

	var message domain.Message
	if err := r.db.GetContext(ctx, &message, query, providerMessageID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMessageNotFound
		}
		return nil, fmt.Errorf("failed to get message by provider id: %w", err)
	}

	return &message, nil
}

// FindUnsubmittedIDs returns queued messages of a campaign that were never accepted
// and are not held by a live claim, in insertion order.
func (r *MessageRepository) FindUnsubmittedIDs(ctx context.Context, campaignID int64, leaseCutoff time.Time) ([]int64, error) {
	query := `
		SELECT id
		FROM messages
		WHERE campaign_id = ?
		  AND status = 'queued'
		  AND provider_message_id IS NULL
		  AND (claim_token IS NULL OR claimed_at < ?)
		ORDER BY id ASC
	`

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query, campaignID, leaseCutoff); err != nil {
		return nil, fmt.Errorf("failed to get unsubmitted messages: %w", err)
	}

	return ids, nil
}

// Claim takes ownership of the given messages for one job. A message is claimable
// while it is queued, has no provider id, and is unclaimed, already held by the same
// token, or held by a claim older than leaseCutoff. claimedAt comes from the same
// clock as leaseCutoff. It returns the claimed rows.
func (r *MessageRepository) Claim(
	ctx context.Context,
	ids []int64,
	token string,
	claimedAt time.Time,
	leaseCutoff time.Time,
) ([]domain.Message, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	update, args, err := sqlx.In(`
		UPDATE messages
		SET claim_token = ?, claimed_at = ?, retry_count = retry_count + 1
		WHERE id IN (?)
		  AND status = 'queued'
		  AND provider_message_id IS NULL
		  AND (claim_token IS NULL OR claim_token = ? OR claimed_at < ?)
	`, token, claimedAt, ids, token, leaseCutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to build claim query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, r.db.Rebind(update), args...); err != nil {
		return nil, fmt.Errorf("failed to claim messages: %w", err)
	}

	query, args, err := sqlx.In(`
		SELECT `+messageColumns+`
		FROM messages
		WHERE id IN (?) AND claim_token = ? AND status = 'queued' AND provider_message_id IS NULL
		ORDER BY id ASC
	`, ids, token)
	if err != nil {
		return nil, fmt.Errorf("failed to build claimed query: %w", err)
	}

	var claimed []domain.Message
	if err := r.db.SelectContext(ctx, &claimed, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load claimed messages: %w", err)
	}

	return claimed, nil
}

// Reserve stamps the given messages with the token of the job that will send them,
// without counting a submission attempt. Messages held by another live claim are skipped.
func (r *MessageRepository) Reserve(ctx context.Context, ids []int64, token string, at, leaseCutoff time.Time) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`
		UPDATE messages
		SET claim_token = ?, claimed_at = ?
		WHERE id IN (?)
		  AND status = 'queued'
		  AND provider_message_id IS NULL
		  AND (claim_token IS NULL OR claim_token = ? OR claimed_at < ?)
	`, token, at, ids, token, leaseCutoff)
	if err != nil {
		return fmt.Errorf("failed to build reserve query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to reserve messages: %w", err)
	}
	return nil
}

// Release drops a reservation that token still holds on unsubmitted messages.
func (r *MessageRepository) Release(ctx context.Context, ids []int64, token string) error {
	if len(ids) == 0 {
		return nil
	}

	query, args, err := sqlx.In(`
		UPDATE messages
		SET claim_token = NULL, claimed_at = NULL
		WHERE id IN (?) AND claim_token = ? AND provider_message_id IS NULL
	`, ids, token)
	if err != nil {
		return fmt.Errorf("failed to build release query: %w", err)
	}

	if _, err := r.db.ExecContext(ctx, r.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("failed to release messages: %w", err)
	}
	return nil
}

// UpdateText rewrites the body of a message that has not been submitted yet.
func (r *MessageRepository) UpdateText(ctx context.Context, id int64, text string) error {
	query := `UPDATE messages SET text = ? WHERE id = ? AND provider_message_id IS NULL`

	if _, err := r.db.ExecContext(ctx, query, text, id); err != nil {
		return fmt.Errorf("failed to update message text: %w", err)
	}
	return nil
}

// UpdateStatus moves a message to target only if its current status is one of the
// allowed sources. changed is false when another writer got there first.
func (r *MessageRepository) UpdateStatus(
	ctx context.Context,
	id int64,
	target domain.MessageStatus,
	upd domain.StatusUpdate,
) (bool, error) {
	sources := domain.SourcesFor(target)
	if len(sources) == 0 {
		return false, fmt.Errorf("%w: to %s", domain.ErrTransitionNotAllowed, target)
	}

	var set string
	var setArgs []any
	switch target {
	case domain.StatusSent:
		set = "status = ?, sent_at = ?, claim_token = NULL, claimed_at = NULL"
		setArgs = []any{target, upd.At}
	case domain.StatusFailed:
		set = "status = ?, failed_at = ?, error = ?, claim_token = NULL, claimed_at = NULL"
		setArgs = []any{target, upd.At, nullableString(upd.Error)}
	default:
		return false, fmt.Errorf("%w: to %s", domain.ErrTransitionNotAllowed, target)
	}

	args := append(setArgs, id, sources)
	query, args, err := sqlx.In(`UPDATE messages SET `+set+` WHERE id = ? AND status IN (?)`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to build status update: %w", err)
	}

	return r.execChanged(ctx, r.db.Rebind(query), args, "failed to update message status")
}

// RecordAcceptance stores the provider linkage of a message. When sentAt is set the
// message is also moved to sent in the same write.
func (r *MessageRepository) RecordAcceptance(ctx context.Context, acc domain.Acceptance, sentAt *time.Time) (bool, error) {
	set := "provider_message_id = ?, bulk_id = ?, error = NULL, claim_token = NULL, claimed_at = NULL"
	args := []any{acc.ProviderMessageID, nullableString(acc.BulkID)}

	if sentAt != nil {
		set += ", status = ?, sent_at = ?"
		args = append(args, domain.StatusSent, *sentAt)
	}

	args = append(args, acc.MessageID, domain.SourcesFor(domain.StatusSent))
	query, args, err := sqlx.In(`
		UPDATE messages SET `+set+`
		WHERE id = ? AND status IN (?) AND provider_message_id IS NULL
	`, args...)
	if err != nil {
		return false, fmt.Errorf("failed to build acceptance update: %w", err)
	}

	return r.execChanged(ctx, r.db.Rebind(query), args, "failed to record acceptance")
}

// FailUnsubmitted fails the given messages that never reached the provider and are
// not held by another job's live claim.
func (r *MessageRepository) FailUnsubmitted(
	ctx context.Context,
	ids []int64,
	token string,
	leaseCutoff time.Time,
	upd domain.StatusUpdate,
) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	query, args, err := sqlx.In(`
		UPDATE messages
		SET status = 'failed', failed_at = ?, error = ?, claim_token = NULL, claimed_at = NULL
		WHERE id IN (?)
		  AND status = 'queued'
		  AND provider_message_id IS NULL
		  AND (claim_token IS NULL OR claim_token = ? OR claimed_at < ?)
	`, upd.At, nullableString(upd.Error), ids, token, leaseCutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to build fail query: %w", err)
	}

	return r.execCount(ctx, r.db.Rebind(query), args, "failed to fail unsubmitted messages")
}

// FailUnclaimedByCampaign fails every queued, unsubmitted and unclaimed message of a campaign.
func (r *MessageRepository) FailUnclaimedByCampaign(
	ctx context.Context,
	campaignID int64,
	leaseCutoff time.Time,
	upd domain.StatusUpdate,
) (int64, error) {
	query := `
		UPDATE messages
		SET status = 'failed', failed_at = ?, error = ?
		WHERE campaign_id = ?
		  AND status = 'queued'
		  AND provider_message_id IS NULL
		  AND (claim_token IS NULL OR claimed_at < ?)
	`

	return r.execCount(ctx, query, []any{upd.At, nullableString(upd.Error), campaignID, leaseCutoff},
		"failed to fail campaign messages")
}

// FindPending returns queued messages that already have a provider id, oldest first.
func (r *MessageRepository) FindPending(ctx context.Context, filter domain.PendingFilter) ([]domain.Message, error) {
	conditions := []string{"status = 'queued'", "provider_message_id IS NOT NULL"}
	var args []any

	if filter.OwnerID != nil {
		conditions = append(conditions, "owner_id = ?")
		args = append(args, *filter.OwnerID)
	}
	if filter.CampaignID != nil {
		conditions = append(conditions, "campaign_id = ?")
		args = append(args, *filter.CampaignID)
	}
	if filter.BulkID != nil {
		conditions = append(conditions, "bulk_id = ?")
		args = append(args, *filter.BulkID)
	}

	query := `SELECT ` + messageColumns + ` FROM messages WHERE ` + strings.Join(conditions, " AND ") +
		` ORDER BY created_at ASC, id ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	var messages []domain.Message
	if err := r.db.SelectContext(ctx, &messages, query, args...); err != nil {
		return nil, fmt.Errorf("failed to get pending messages: %w", err)
	}

	return messages, nil
}

func (r *MessageRepository) execChanged(ctx context.Context, query string, args []any, msg string) (bool, error) {
	rows, err := r.execCount(ctx, query, args, msg)
	return rows > 0, err
}

func (r *MessageRepository) execCount(ctx context.Context, query string, args []any, msg string) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", msg, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows, nil
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
