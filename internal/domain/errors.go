package domain

import (
	"errors"
	"fmt"
)

var (
	ErrMessageNotFound      = errors.New("message not found")
	ErrCampaignNotFound     = errors.New("campaign not found")
	ErrTransitionNotAllowed = errors.New("status transition not allowed")
	ErrUnknownJobKind       = errors.New("unknown job kind")
	ErrInsufficientCredits  = errors.New("insufficient credits")
)

// InsufficientCreditsError is returned when a debit would take a balance below zero.
type InsufficientCreditsError struct {
	OwnerID   int64
	Balance   int64
	Requested int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits for owner %d: balance %d, requested %d", e.OwnerID, e.Balance, e.Requested)
}

func (e *InsufficientCreditsError) Unwrap() error { return ErrInsufficientCredits }

func IsInsufficientCredits(err error) bool {
	return errors.Is(err, ErrInsufficientCredits)
}
