package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/sms-dispatch/internal/domain"
)

const campaignColumns = `id, owner_id, name, body, status, list_id, scheduled_at,
	total_count, queued_count, sent_count, failed_count, created_at, updated_at`

type CampaignRepository struct {
	db *sqlx.DB
}

func NewCampaignRepository(db *sqlx.DB) *CampaignRepository {
	return &CampaignRepository{db: db}
}

// GetForOwner loads a campaign only if it belongs to ownerID.
func (r *CampaignRepository) GetForOwner(ctx context.Context, id, ownerID int64) (*domain.Campaign, error) {
	query := `SELECT ` + campaignColumns + ` FROM campaigns WHERE id = ? AND owner_id = ?`

	var campaign domain.Campaign
	if err := r.db.GetContext(ctx, &campaign, query, id, ownerID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to get campaign: %w", err)
	}

	return &campaign, nil
}

// MarkSending moves a draft or scheduled campaign to sending. Re-running it on a
// campaign that is already sending is a no-op.
func (r *CampaignRepository) MarkSending(ctx context.Context, id int64) (bool, error) {
	query := `
		UPDATE campaigns
		SET status = 'sending', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status IN ('draft', 'scheduled')
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to mark campaign as sending: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get affected rows: %w", err)
	}

	return rows > 0, nil
}

// MarkCompleted closes a sending campaign that has nothing left to send.
func (r *CampaignRepository) MarkCompleted(ctx context.Context, id int64) error {
	query := `
		UPDATE campaigns
		SET status = 'completed', updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND status = 'sending'
	`

	if _, err := r.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("failed to mark campaign as completed: %w", err)
	}
	return nil
}

// RecomputeAggregates rewrites the campaign counters from the message rows in one
// statement and returns the stored result. MySQL evaluates single-table UPDATE
// assignments left to right, so the status CASE sees the fresh counters.
func (r *CampaignRepository) RecomputeAggregates(ctx context.Context, id int64) (*domain.CampaignStats, error) {
	update := `
		UPDATE campaigns
		SET total_count  = (SELECT COUNT(*) FROM messages WHERE campaign_id = ?),
		    queued_count = (SELECT COUNT(*) FROM messages WHERE campaign_id = ? AND status = 'queued'),
		    sent_count   = (SELECT COUNT(*) FROM messages WHERE campaign_id = ? AND status = 'sent'),
		    failed_count = (SELECT COUNT(*) FROM messages WHERE campaign_id = ? AND status = 'failed'),
		    status = CASE
		        WHEN status = 'sending' AND queued_count = 0 AND total_count > 0 THEN 'completed'
		        ELSE status
		    END,
		    updated_at = CURRENT_TIMESTAMP
		WHERE id = ?
	`

	if _, err := r.db.ExecContext(ctx, update, id, id, id, id, id); err != nil {
		return nil, fmt.Errorf("failed to recompute campaign aggregates: %w", err)
	}

	// Affected rows are 0 when nothing changed, so a missing campaign only shows up here.
	return r.GetStats(ctx, id)
}

// FindSendingIDs lists the campaigns currently in sending.
func (r *CampaignRepository) FindSendingIDs(ctx context.Context) ([]int64, error) {
	query := `SELECT id FROM campaigns WHERE status = 'sending' ORDER BY id ASC`

	var ids []int64
	if err := r.db.SelectContext(ctx, &ids, query); err != nil {
		return nil, fmt.Errorf("failed to list sending campaigns: %w", err)
	}

	return ids, nil
}

func (r *CampaignRepository) GetStats(ctx context.Context, id int64) (*domain.CampaignStats, error) {
	query := `
		SELECT total_count AS total, queued_count AS queued, sent_count AS sent, failed_count AS failed
		FROM campaigns
		WHERE id = ?
	`

	var stats domain.CampaignStats
	if err := r.db.GetContext(ctx, &stats, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCampaignNotFound
		}
		return nil, fmt.Errorf("failed to get campaign stats: %w", err)
	}

	return &stats, nil
}
