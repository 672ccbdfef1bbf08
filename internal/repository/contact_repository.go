package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/sms-dispatch/internal/domain"
)

type ContactRepository struct {
	db *sqlx.DB
}

func NewContactRepository(db *sqlx.DB) *ContactRepository {
	return &ContactRepository{db: db}
}

// ResolveAudience returns the subscribed contacts of an owner, optionally restricted
// to one list, ordered by contact id.
func (r *ContactRepository) ResolveAudience(ctx context.Context, ownerID int64, filter domain.AudienceFilter) ([]domain.Contact, error) {
	var (
		contacts []domain.Contact
		err      error
	)

	if filter.ListID != nil {
		query := `
			SELECT c.id, c.owner_id, c.phone, c.first_name, c.last_name, c.unsubscribed
			FROM contacts c
			JOIN list_members lm ON lm.contact_id = c.id
			WHERE c.owner_id = ? AND lm.list_id = ? AND c.unsubscribed = FALSE
			ORDER BY c.id ASC
		`
		err = r.db.SelectContext(ctx, &contacts, query, ownerID, *filter.ListID)
	} else {
		query := `
			SELECT id, owner_id, phone, first_name, last_name, unsubscribed
			FROM contacts
			WHERE owner_id = ? AND unsubscribed = FALSE
			ORDER BY id ASC
		`
		err = r.db.SelectContext(ctx, &contacts, query, ownerID)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to resolve audience: %w", err)
	}

	return contacts, nil
}

// Upsert inserts or refreshes contacts keyed by (owner, phone) and optionally adds
// them to a list, all in one transaction.
func (r *ContactRepository) Upsert(
	ctx context.Context,
	ownerID int64,
	listID *int64,
	contacts []domain.ContactInput,
) (imported, updated int, err error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	upsert := `
		INSERT INTO contacts (owner_id, phone, first_name, last_name)
		VALUES (?, ?, ?, ?)
		ON DUPLICATE KEY UPDATE
			first_name = VALUES(first_name),
			last_name = VALUES(last_name),
			id = LAST_INSERT_ID(id)
	`
	member := `INSERT IGNORE INTO list_members (list_id, contact_id) VALUES (?, ?)`

	for _, c := range contacts {
		result, err := tx.ExecContext(ctx, upsert, ownerID, c.Phone, c.FirstName, c.LastName)
		if err != nil {
			return 0, 0, fmt.Errorf("failed to upsert contact %s: %w", c.Phone, err)
		}

		// MySQL reports 1 for an insert and 2 (or 0 when unchanged) for an update.
		rows, err := result.RowsAffected()
		if err != nil {
			return 0, 0, fmt.Errorf("failed to get affected rows: %w", err)
		}
		if rows == 1 {
			imported++
		} else {
			updated++
		}

		if listID == nil {
			continue
		}

		contactID, err := result.LastInsertId()
		if err != nil {
			return 0, 0, fmt.Errorf("failed to get contact id: %w", err)
		}
		if _, err := tx.ExecContext(ctx, member, *listID, contactID); err != nil {
			return 0, 0, fmt.Errorf("failed to add contact to list: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("failed to commit contact import: %w", err)
	}

	return imported, updated, nil
}
