package service

import (
	"context"
	"fmt"

	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/pkg/logger"
)

type creditRepository interface {
	Debit(ctx context.Context, ownerID, amount int64, dc domain.DebitContext) (*domain.LedgerEntry, error)
	Add(ctx context.Context, ownerID, amount int64, kind domain.EntryKind, messageID *int64, reason string) (*domain.LedgerEntry, error)
	Balance(ctx context.Context, ownerID int64) (int64, error)
}

// CreditLedger is the per-tenant balance. Each call is its own transaction.
type CreditLedger struct {
	repo creditRepository
}

func NewCreditLedger(repo creditRepository) *CreditLedger {
	return &CreditLedger{repo: repo}
}

func (l *CreditLedger) Debit(ctx context.Context, ownerID, amount int64, dc domain.DebitContext) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("debit amount must be positive, got %d", amount)
	}

	entry, err := l.repo.Debit(ctx, ownerID, amount, dc)
	if err != nil {
		return nil, err
	}

	if entry.Duplicate {
		logger.Debugf("Debit for owner %d already recorded as entry %d", ownerID, entry.ID)
	}
	return entry, nil
}

func (l *CreditLedger) Credit(ctx context.Context, ownerID, amount int64, reason string) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	return l.repo.Add(ctx, ownerID, amount, domain.EntryCredit, nil, reason)
}

// Refund returns credit for one message. The send path never calls it, since a
// message that failed before acceptance was never debited.
func (l *CreditLedger) Refund(ctx context.Context, ownerID, amount int64, messageID int64, reason string) (*domain.LedgerEntry, error) {
	if amount <= 0 {
		return nil, fmt.Errorf("refund amount must be positive, got %d", amount)
	}
	return l.repo.Add(ctx, ownerID, amount, domain.EntryRefund, &messageID, reason)
}

func (l *CreditLedger) Balance(ctx context.Context, ownerID int64) (int64, error) {
	return l.repo.Balance(ctx, ownerID)
}
