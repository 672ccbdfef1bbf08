package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/onurcolak/sms-dispatch/internal/domain"
)

const ledgerColumns = `id, owner_id, message_id, kind, amount, balance_before, balance_after, reason, created_at`

// CreditRepository owns the wallet balance and its append-only ledger. Every
// mutation runs in its own transaction holding the owner's wallet row lock, so
// callers must not invoke it from inside another open transaction.
type CreditRepository struct {
	db *sqlx.DB
}

func NewCreditRepository(db *sqlx.DB) *CreditRepository {
	return &CreditRepository{db: db}
}

// Debit removes amount from the owner's balance. A debit already recorded for the
// same message is returned with Duplicate set and nothing is changed.
func (r *CreditRepository) Debit(
	ctx context.Context,
	ownerID, amount int64,
	dc domain.DebitContext,
) (*domain.LedgerEntry, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var balance int64
	err = tx.GetContext(ctx, &balance, `SELECT balance FROM credit_wallets WHERE owner_id = ? FOR UPDATE`, ownerID)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		balance = 0
	case err != nil:
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}

	if dc.MessageID != nil {
		existing, err := findEntry(ctx, tx, *dc.MessageID, domain.EntryDebit)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			existing.Duplicate = true
			return existing, nil
		}
	}

	if balance < amount {
		return nil, &domain.InsufficientCreditsError{OwnerID: ownerID, Balance: balance, Requested: amount}
	}

	entry := &domain.LedgerEntry{
		OwnerID:       ownerID,
		MessageID:     dc.MessageID,
		Kind:          domain.EntryDebit,
		Amount:        amount,
		BalanceBefore: balance,
		BalanceAfter:  balance - amount,
		Reason:        dc.Reason,
		CreatedAt:     time.Now().UTC(),
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE credit_wallets SET balance = ?, updated_at = CURRENT_TIMESTAMP WHERE owner_id = ?`,
		entry.BalanceAfter, ownerID,
	); err != nil {
		return nil, fmt.Errorf("failed to update wallet: %w", err)
	}

	if err := insertEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit debit: %w", err)
	}

	return entry, nil
}

// Add tops up a balance with a credit or refund entry. Refunds tied to a message are
// recorded at most once per message.
func (r *CreditRepository) Add(
	ctx context.Context,
	ownerID, amount int64,
	kind domain.EntryKind,
	messageID *int64,
	reason string,
) (*domain.LedgerEntry, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO credit_wallets (owner_id, balance) VALUES (?, 0) ON DUPLICATE KEY UPDATE owner_id = owner_id`,
		ownerID,
	); err != nil {
		return nil, fmt.Errorf("failed to ensure wallet: %w", err)
	}

	var balance int64
	if err := tx.GetContext(ctx, &balance, `SELECT balance FROM credit_wallets WHERE owner_id = ? FOR UPDATE`, ownerID); err != nil {
		return nil, fmt.Errorf("failed to lock wallet: %w", err)
	}

	if messageID != nil {
		existing, err := findEntry(ctx, tx, *messageID, kind)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			existing.Duplicate = true
			return existing, nil
		}
	}

	entry := &domain.LedgerEntry{
		OwnerID:       ownerID,
		MessageID:     messageID,
		Kind:          kind,
		Amount:        amount,
		BalanceBefore: balance,
		BalanceAfter:  balance + amount,
		Reason:        reason,
		CreatedAt:     time.Now().UTC(),
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE credit_wallets SET balance = ?, updated_at = CURRENT_TIMESTAMP WHERE owner_id = ?`,
		entry.BalanceAfter, ownerID,
	); err != nil {
		return nil, fmt.Errorf("failed to update wallet: %w", err)
	}

	if err := insertEntry(ctx, tx, entry); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit %s: %w", kind, err)
	}

	return entry, nil
}

func (r *CreditRepository) Balance(ctx context.Context, ownerID int64) (int64, error) {
	var balance int64
	err := r.db.GetContext(ctx, &balance, `SELECT balance FROM credit_wallets WHERE owner_id = ?`, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return balance, nil
}

func findEntry(ctx context.Context, tx *sqlx.Tx, messageID int64, kind domain.EntryKind) (*domain.LedgerEntry, error) {
	var entry domain.LedgerEntry
	err := tx.GetContext(ctx, &entry,
		`SELECT `+ledgerColumns+` FROM credit_ledger WHERE message_id = ? AND kind = ?`,
		messageID, kind,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up ledger entry: %w", err)
	}
	return &entry, nil
}

func insertEntry(ctx context.Context, tx *sqlx.Tx, entry *domain.LedgerEntry) error {
	result, err := tx.ExecContext(ctx, `
		INSERT INTO credit_ledger (owner_id, message_id, kind, amount, balance_before, balance_after, reason, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.OwnerID, entry.MessageID, entry.Kind, entry.Amount, entry.BalanceBefore, entry.BalanceAfter, entry.Reason, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert ledger entry: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get ledger entry id: %w", err)
	}
	entry.ID = id
	return nil
}
