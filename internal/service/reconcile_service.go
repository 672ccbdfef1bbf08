package service

import (
	"context"
	"fmt"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/internal/worker"
	"github.com/onurcolak/sms-dispatch/pkg/logger"
	"github.com/onurcolak/sms-dispatch/pkg/provider"
)

type statusFetcher interface {
	GetStatus(ctx context.Context, providerMessageID string) (*provider.DeliveryReport, error)
}

type ReconcileResult struct {
	Checked   int `json:"checked"`
	Updated   int `json:"updated"`
	Unchanged int `json:"unchanged"`
	Errors    int `json:"errors"`
}

// Reconciler re-polls the provider for messages that were accepted but are still
// queued, and applies the mapped status through the message store.
type Reconciler struct {
	store        *MessageStore
	provider     statusFetcher
	defaultLimit int
	parallelism  int

	// onGlobal sees the outcome of every global refresh job.
	onGlobal func(ReconcileResult, error)
}

func NewReconciler(store *MessageStore, fetcher statusFetcher, defaultLimit int) *Reconciler {
	return &Reconciler{
		store:        store,
		provider:     fetcher,
		defaultLimit: defaultLimit,
		parallelism:  4,
	}
}

// OnGlobalRefresh registers fn to receive the outcome of each global RefreshStatuses
// job, including attempts that fail and will be retried.
func (r *Reconciler) OnGlobalRefresh(fn func(ReconcileResult, error)) {
	r.onGlobal = fn
}

func (r *Reconciler) limit(l int) int {
	if l <= 0 {
		return r.defaultLimit
	}
	return l
}

func (r *Reconciler) RefreshCampaign(ctx context.Context, ownerID, campaignID int64, limit int) (ReconcileResult, error) {
	msgs, err := r.store.FindPendingByCampaign(ctx, ownerID, campaignID, r.limit(limit))
	if err != nil {
		return ReconcileResult{}, err
	}
	return r.apply(ctx, msgs), nil
}

// RefreshGlobal checks the oldest pending messages across every campaign.
func (r *Reconciler) RefreshGlobal(ctx context.Context, limit int) (ReconcileResult, error) {
	msgs, err := r.store.FindPendingGlobal(ctx, r.limit(limit))
	if err != nil {
		return ReconcileResult{}, err
	}
	return r.apply(ctx, msgs), nil
}

func (r *Reconciler) RefreshBulk(ctx context.Context, bulkID string, ownerID *int64, limit int) (ReconcileResult, error) {
	msgs, err := r.store.FindPendingByBulk(ctx, bulkID, ownerID, r.limit(limit))
	if err != nil {
		return ReconcileResult{}, err
	}
	return r.apply(ctx, msgs), nil
}

// Refresh picks the scope from p: bulk id first, then campaign, else global.
func (r *Reconciler) Refresh(ctx context.Context, p domain.RefreshStatuses) (ReconcileResult, error) {
	switch {
	case p.BulkID != nil:
		return r.RefreshBulk(ctx, *p.BulkID, p.OwnerID, p.Limit)
	case p.CampaignID != nil:
		if p.OwnerID == nil {
			return ReconcileResult{}, fmt.Errorf("campaign %d refresh requires an owner", *p.CampaignID)
		}
		return r.RefreshCampaign(ctx, *p.OwnerID, *p.CampaignID, p.Limit)
	default:
		return r.RefreshGlobal(ctx, p.Limit)
	}
}

// HandleJob runs a RefreshStatuses job. Lookup failures of single messages are only
// counted, so the job fails only when the pending set cannot be loaded.
func (r *Reconciler) HandleJob(ctx context.Context, job domain.Job, payload domain.JobPayload) error {
	p, ok := payload.(domain.RefreshStatuses)
	if !ok {
		return worker.Permanent(fmt.Errorf("unexpected payload %T", payload))
	}

	res, err := r.Refresh(ctx, p)
	if r.onGlobal != nil && p.BulkID == nil && p.CampaignID == nil {
		r.onGlobal(res, err)
	}
	if err != nil {
		if p.CampaignID != nil && p.OwnerID == nil {
			return worker.Permanent(err)
		}
		return err
	}

	logger.Infof("[job %s] Reconciled %d messages: %d updated, %d unchanged, %d errors",
		job.ID, res.Checked, res.Updated, res.Unchanged, res.Errors)
	return nil
}

type outcome int

const (
	outcomeUnchanged outcome = iota
	outcomeUpdated
	outcomeError
)

func (r *Reconciler) apply(ctx context.Context, msgs []domain.Message) ReconcileResult {
	var (
		mu  sync.Mutex
		res = ReconcileResult{Checked: len(msgs)}
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.parallelism)

	for _, msg := range msgs {
		g.Go(func() error {
			o := r.refreshOne(gctx, msg)

			mu.Lock()
			defer mu.Unlock()
			switch o {
			case outcomeUpdated:
				res.Updated++
			case outcomeUnchanged:
				res.Unchanged++
			default:
				res.Errors++
			}
			return nil
		})
	}
	_ = g.Wait()

	return res
}

func (r *Reconciler) refreshOne(ctx context.Context, msg domain.Message) outcome {
	if !msg.HasProviderID() {
		return outcomeUnchanged
	}

	report, err := r.provider.GetStatus(ctx, *msg.ProviderMessageID)
	if err != nil {
		if provider.IsNotFound(err) {
			logger.Warnf("Message %d (campaign %d): %v", msg.ID, msg.CampaignID, err)
		} else {
			logger.Errorf("Message %d (campaign %d): status lookup failed: %v", msg.ID, msg.CampaignID, err)
		}
		return outcomeError
	}

	target, final := provider.MapDeliveryState(report.DeliveryState)
	if !final {
		return outcomeUnchanged
	}

	upd := domain.StatusUpdate{At: report.UpdatedAt}
	if target == domain.StatusFailed {
		upd.Error = "provider reported " + report.DeliveryState
	}

	changed, err := r.store.UpdateStatus(ctx, msg, target, upd)
	if err != nil {
		logger.Errorf("Message %d (campaign %d): failed to apply %s: %v", msg.ID, msg.CampaignID, target, err)
		return outcomeError
	}
	if changed {
		return outcomeUpdated
	}
	return outcomeUnchanged
}
