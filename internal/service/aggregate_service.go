package service

import (
	"context"
	"sync"
	"time"

	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/pkg/logger"
)

type aggregateRepository interface {
	RecomputeAggregates(ctx context.Context, campaignID int64) (*domain.CampaignStats, error)
	FindSendingIDs(ctx context.Context) ([]int64, error)
}

// AggregateMaintainer recomputes campaign counters from message rows. Touches are
// collected and flushed after a short debounce, so a batch of status changes costs
// one recomputation per campaign.
type AggregateMaintainer struct {
	repo     aggregateRepository
	debounce time.Duration

	mu      sync.Mutex
	pending map[int64]struct{}
	signal  chan struct{}
}

func NewAggregateMaintainer(repo aggregateRepository, debounce time.Duration) *AggregateMaintainer {
	return &AggregateMaintainer{
		repo:     repo,
		debounce: debounce,
		pending:  make(map[int64]struct{}),
		signal:   make(chan struct{}, 1),
	}
}

// Touch marks a campaign for recomputation. It never blocks.
func (a *AggregateMaintainer) Touch(campaignID int64) {
	a.mu.Lock()
	a.pending[campaignID] = struct{}{}
	a.mu.Unlock()

	select {
	case a.signal <- struct{}{}:
	default:
	}
}

// Recompute rewrites one campaign's counters immediately.
func (a *AggregateMaintainer) Recompute(ctx context.Context, campaignID int64) (*domain.CampaignStats, error) {
	return a.repo.RecomputeAggregates(ctx, campaignID)
}

// RecomputeSending recomputes every campaign still in sending, whether touched or not.
// It returns how many were recomputed.
func (a *AggregateMaintainer) RecomputeSending(ctx context.Context) (int, error) {
	ids, err := a.repo.FindSendingIDs(ctx)
	if err != nil {
		return 0, err
	}

	done := 0
	for _, id := range ids {
		if _, err := a.repo.RecomputeAggregates(ctx, id); err != nil {
			logger.Errorf("Failed to recompute aggregates for sending campaign %d: %v", id, err)
			continue
		}
		done++
	}
	return done, nil
}

// Flush recomputes every touched campaign and clears the set.
func (a *AggregateMaintainer) Flush(ctx context.Context) {
	a.mu.Lock()
	ids := make([]int64, 0, len(a.pending))
	for id := range a.pending {
		ids = append(ids, id)
	}
	a.pending = make(map[int64]struct{})
	a.mu.Unlock()

	for _, id := range ids {
		stats, err := a.repo.RecomputeAggregates(ctx, id)
		if err != nil {
			logger.Errorf("Failed to recompute aggregates for campaign %d: %v", id, err)
			// Keep it for the next flush.
			a.mu.Lock()
			a.pending[id] = struct{}{}
			a.mu.Unlock()
			continue
		}
		logger.Debugf("Campaign %d aggregates: total=%d queued=%d sent=%d failed=%d",
			id, stats.Total, stats.Queued, stats.Sent, stats.Failed)
	}
}

// Run flushes touched campaigns until ctx is cancelled, then flushes once more.
func (a *AggregateMaintainer) Run(ctx context.Context) error {
	logger.Infof("Aggregate maintainer started (debounce %v)", a.debounce)

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			a.Flush(flushCtx)
			cancel()
			logger.Infof("Aggregate maintainer stopped")
			return nil
		case <-a.signal:
		}

		if a.debounce > 0 {
			t := time.NewTimer(a.debounce)
			select {
			case <-ctx.Done():
				t.Stop()
				continue
			case <-t.C:
			}
		}

		a.Flush(ctx)
	}
}
