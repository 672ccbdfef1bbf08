package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/onurcolak/sms-dispatch/environments"
	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/internal/queue"
	"github.com/onurcolak/sms-dispatch/internal/worker"
	"github.com/onurcolak/sms-dispatch/pkg/logger"
	"github.com/onurcolak/sms-dispatch/pkg/provider"
)

type campaignRepository interface {
	GetForOwner(ctx context.Context, id, ownerID int64) (*domain.Campaign, error)
	MarkSending(ctx context.Context, id int64) (bool, error)
	MarkCompleted(ctx context.Context, id int64) error
}

type audienceResolver interface {
	ResolveAudience(ctx context.Context, ownerID int64, filter domain.AudienceFilter) ([]domain.Contact, error)
}

type messageSender interface {
	SendSingle(ctx context.Context, msg provider.Outbound) (*provider.SendResult, error)
	SendBulk(ctx context.Context, msgs []provider.Outbound) (*provider.BulkResult, error)
}

type debitor interface {
	Debit(ctx context.Context, ownerID, amount int64, dc domain.DebitContext) (*domain.LedgerEntry, error)
}

type jobEnqueuer interface {
	Available() bool
	Enqueue(ctx context.Context, job domain.Job) error
}

// DispatchEngine turns a campaign into provider submissions: it materialises the
// recipients, splits them into batch jobs and sends each batch.
type DispatchEngine struct {
	campaigns   campaignRepository
	audience    audienceResolver
	store       *MessageStore
	sender      messageSender
	credits     debitor
	jobs        jobEnqueuer
	footer      *ComplianceFooter
	cfg         environments.DispatchConfig
	maxAttempts int
}

func NewDispatchEngine(
	campaigns campaignRepository,
	audience audienceResolver,
	store *MessageStore,
	sender messageSender,
	credits debitor,
	jobs jobEnqueuer,
	footer *ComplianceFooter,
	cfg environments.DispatchConfig,
	maxAttempts int,
) *DispatchEngine {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}

	return &DispatchEngine{
		campaigns:   campaigns,
		audience:    audience,
		store:       store,
		sender:      sender,
		credits:     credits,
		jobs:        jobs,
		footer:      footer,
		cfg:         cfg,
		maxAttempts: maxAttempts,
	}
}

// EnqueueCampaign creates the campaign's messages and one send job per batch. It is
// safe to run again: existing messages are kept and only unsubmitted, unclaimed ones
// are batched.
func (e *DispatchEngine) EnqueueCampaign(ctx context.Context, jobID string, p domain.EnqueueCampaign) error {
	campaign, err := e.campaigns.GetForOwner(ctx, p.CampaignID, p.OwnerID)
	if err != nil {
		if errors.Is(err, domain.ErrCampaignNotFound) {
			return worker.Permanent(fmt.Errorf("campaign %d of owner %d: %w", p.CampaignID, p.OwnerID, err))
		}
		return err
	}

	if campaign.Status == domain.CampaignCompleted {
		logger.Infof("[job %s] Campaign %d already completed, nothing to enqueue", jobID, campaign.ID)
		return nil
	}

	if _, err := e.campaigns.MarkSending(ctx, campaign.ID); err != nil {
		return err
	}

	filter := domain.AudienceFilter{ListID: p.ListID}
	if filter.ListID == nil {
		filter.ListID = campaign.ListID
	}

	contacts, err := e.audience.ResolveAudience(ctx, campaign.OwnerID, filter)
	if err != nil {
		return err
	}

	msgs := make([]domain.NewMessage, 0, len(contacts))
	for _, c := range contacts {
		text, err := e.footer.Apply(campaign.Body, c.ID, campaign.OwnerID, campaign.ID)
		if err != nil {
			return err
		}
		msgs = append(msgs, domain.NewMessage{
			CampaignID:  campaign.ID,
			ContactID:   c.ID,
			OwnerID:     campaign.OwnerID,
			Text:        text,
			Destination: c.Phone,
		})
	}

	inserted, err := e.store.Create(ctx, campaign.ID, msgs)
	if err != nil {
		return err
	}

	ids, err := e.store.UnsubmittedIDs(ctx, campaign.ID)
	if err != nil {
		return err
	}

	if len(contacts) == 0 && len(ids) == 0 {
		logger.Warnf("[job %s] Campaign %d has no recipients", jobID, campaign.ID)
		return e.campaigns.MarkCompleted(ctx, campaign.ID)
	}

	jobs := 0
	for _, batch := range partition(ids, e.cfg.BatchSize) {
		groups := [][]int64{batch}
		if e.cfg.ForceIndividual {
			groups = groups[:0]
			for _, id := range batch {
				groups = append(groups, []int64{id})
			}
		}

		for _, group := range groups {
			var payload domain.JobPayload = domain.SendBatch{CampaignID: campaign.ID, OwnerID: campaign.OwnerID, MessageIDs: group}
			if e.cfg.ForceIndividual {
				payload = domain.SendMessage{MessageID: group[0]}
			}

			job, err := domain.NewJob(payload, e.maxAttempts)
			if err != nil {
				return err
			}
			if err := e.store.Reserve(ctx, group, job.ID); err != nil {
				return err
			}
			if err := e.jobs.Enqueue(ctx, job); err != nil {
				if rerr := e.store.Release(ctx, group, job.ID); rerr != nil {
					logger.Errorf("[job %s] Failed to release %d messages of campaign %d: %v", jobID, len(group), campaign.ID, rerr)
				}
				return fmt.Errorf("failed to enqueue %s for campaign %d: %w", payload.Kind(), campaign.ID, err)
			}
			jobs++
		}
	}

	logger.Infof("[job %s] Campaign %d: %d recipients, %d new messages, %d unsubmitted in %d jobs",
		jobID, campaign.ID, len(contacts), inserted, len(ids), jobs)
	return nil
}

func (e *DispatchEngine) SendBatch(ctx context.Context, jobID string, p domain.SendBatch) error {
	return e.dispatch(ctx, jobID, p.MessageIDs)
}

func (e *DispatchEngine) SendMessage(ctx context.Context, jobID string, p domain.SendMessage) error {
	return e.dispatch(ctx, jobID, []int64{p.MessageID})
}

func (e *DispatchEngine) dispatch(ctx context.Context, jobID string, ids []int64) error {
	claimed, err := e.store.Claim(ctx, ids, jobID)
	if err != nil {
		return err
	}
	if len(claimed) == 0 {
		logger.Debugf("[job %s] Nothing left to send among %d messages", jobID, len(ids))
		return nil
	}

	outbound := make([]provider.Outbound, len(claimed))
	for i, m := range claimed {
		text, err := e.footer.Apply(m.Text, m.ContactID, m.OwnerID, m.CampaignID)
		if err != nil {
			return err
		}
		if text != m.Text {
			if err := e.store.UpdateText(ctx, m.ID, text); err != nil {
				return err
			}
			claimed[i].Text = text
		}
		outbound[i] = provider.Outbound{Destination: m.Destination, Text: text}
	}

	if e.cfg.ForceIndividual || len(claimed) == 1 {
		return e.sendIndividually(ctx, jobID, claimed, outbound)
	}
	return e.sendBulk(ctx, jobID, claimed, outbound)
}

func (e *DispatchEngine) sendBulk(ctx context.Context, jobID string, claimed []domain.Message, outbound []provider.Outbound) error {
	res, err := e.sender.SendBulk(ctx, outbound)
	if err == nil && len(res.Messages) != len(claimed) {
		err = &provider.ProtocolError{
			Op:     "send bulk",
			Reason: fmt.Sprintf("sent %d messages but response has %d entries", len(claimed), len(res.Messages)),
		}
	}
	if err != nil {
		if provider.IsRetryable(err) {
			logger.Warnf("[job %s] Bulk submit of %d messages failed: %v", jobID, len(claimed), err)
			return err
		}

		for _, m := range claimed {
			e.fail(ctx, jobID, m, err.Error())
		}
		return worker.Permanent(err)
	}

	var unrecorded *unrecordedError
	for i, entry := range res.Messages {
		msg := claimed[i]

		if entry.ProviderMessageID == "" {
			reason := entry.Error
			if reason == "" {
				reason = "provider returned no message id"
			}
			e.fail(ctx, jobID, msg, reason)
			continue
		}

		acc := domain.Acceptance{MessageID: msg.ID, ProviderMessageID: entry.ProviderMessageID, BulkID: res.BulkID}
		if err := e.accept(ctx, jobID, msg, acc); err != nil {
			unrecorded = unrecorded.add(acc, err)
		}
	}

	logger.Infof("[job %s] Bulk %s submitted with %d messages", jobID, res.BulkID, len(res.Messages))
	if unrecorded != nil {
		return worker.Permanent(unrecorded)
	}
	return nil
}

func (e *DispatchEngine) sendIndividually(ctx context.Context, jobID string, claimed []domain.Message, outbound []provider.Outbound) error {
	var retryErr error
	var unrecorded *unrecordedError

	for i, msg := range claimed {
		res, err := e.sender.SendSingle(ctx, outbound[i])
		if err != nil {
			if provider.IsRetryable(err) {
				logger.Warnf("[job %s] Message %d (campaign %d) not submitted: %v", jobID, msg.ID, msg.CampaignID, err)
				if retryErr == nil {
					retryErr = err
				}
				continue
			}
			e.fail(ctx, jobID, msg, err.Error())
			continue
		}

		acc := domain.Acceptance{MessageID: msg.ID, ProviderMessageID: res.ProviderMessageID}
		if err := e.accept(ctx, jobID, msg, acc); err != nil {
			unrecorded = unrecorded.add(acc, err)
		}
	}

	if unrecorded != nil {
		return worker.Permanent(unrecorded)
	}
	return retryErr
}

// unrecordedError collects messages the provider accepted whose acceptance could not
// be stored. The job must not be retried, since a retry would submit them again.
type unrecordedError struct {
	providerIDs map[int64]string
	err         error
}

func (e *unrecordedError) add(acc domain.Acceptance, err error) *unrecordedError {
	if e == nil {
		e = &unrecordedError{providerIDs: make(map[int64]string), err: err}
	}
	e.providerIDs[acc.MessageID] = acc.ProviderMessageID
	return e
}

func (e *unrecordedError) Error() string {
	return fmt.Sprintf("%d accepted messages not recorded: %v", len(e.providerIDs), e.err)
}

func (e *unrecordedError) Unwrap() error { return e.err }

// accept records the provider's acceptance and then debits exactly one credit. A
// failed debit is logged and never undoes the send. The error is only set when the
// acceptance itself could not be stored.
func (e *DispatchEngine) accept(ctx context.Context, jobID string, msg domain.Message, acc domain.Acceptance) error {
	changed, err := e.store.RecordAcceptance(ctx, msg, acc, !e.cfg.AwaitDelivery)
	if err != nil {
		logger.Errorf("[job %s] Message %d (campaign %d) accepted as %s but not recorded: %v",
			jobID, msg.ID, msg.CampaignID, acc.ProviderMessageID, err)
		return err
	}
	if !changed {
		logger.Warnf("[job %s] Message %d already recorded by another writer", jobID, msg.ID)
		return nil
	}

	messageID, campaignID := msg.ID, msg.CampaignID
	_, err = e.credits.Debit(ctx, msg.OwnerID, 1, domain.DebitContext{
		MessageID:  &messageID,
		CampaignID: &campaignID,
		Reason:     fmt.Sprintf("sms %d", msg.ID),
	})
	switch {
	case domain.IsInsufficientCredits(err):
		logger.Warnf("[job %s] Message %d sent without debit: %v", jobID, msg.ID, err)
	case err != nil:
		logger.Errorf("[job %s] Failed to debit message %d (campaign %d): %v", jobID, msg.ID, msg.CampaignID, err)
	}
	return nil
}

func (e *DispatchEngine) fail(ctx context.Context, jobID string, msg domain.Message, reason string) {
	if _, err := e.store.UpdateStatus(ctx, msg, domain.StatusFailed, domain.StatusUpdate{Error: reason}); err != nil {
		logger.Errorf("[job %s] Failed to mark message %d (campaign %d) as failed: %v", jobID, msg.ID, msg.CampaignID, err)
		return
	}
	logger.Warnf("[job %s] Message %d (campaign %d) failed: %s", jobID, msg.ID, msg.CampaignID, reason)
}

// FinalizeSend fails whatever a send job leaves unsubmitted once it gives up.
func (e *DispatchEngine) FinalizeSend(ctx context.Context, job domain.Job, payload domain.JobPayload, cause error) {
	var (
		campaignID int64
		ids        []int64
	)

	switch p := payload.(type) {
	case domain.SendBatch:
		campaignID, ids = p.CampaignID, p.MessageIDs
	case domain.SendMessage:
		msg, err := e.store.Get(ctx, p.MessageID)
		if err != nil {
			logger.Errorf("[job %s] Cannot finalize message %d: %v", job.ID, p.MessageID, err)
			return
		}
		campaignID, ids = msg.CampaignID, []int64{p.MessageID}
	default:
		return
	}

	var unrecorded *unrecordedError
	if errors.As(cause, &unrecorded) {
		ids = e.failUnrecorded(ctx, job.ID, campaignID, ids, unrecorded)
	}

	reason := fmt.Sprintf("send failed after %d attempts: %v", job.Attempt, cause)
	n, err := e.store.FailUnsubmitted(ctx, campaignID, ids, job.ID, reason)
	if err != nil {
		logger.Errorf("[job %s] Failed to finalize messages of campaign %d: %v", job.ID, campaignID, err)
		return
	}
	if n > 0 {
		logger.Warnf("[job %s] Marked %d messages of campaign %d as failed", job.ID, n, campaignID)
	}
}

// failUnrecorded fails the messages the provider accepted with their provider id in
// the error, so they can be matched by hand. It returns the ids left to finalize.
func (e *DispatchEngine) failUnrecorded(ctx context.Context, jobID string, campaignID int64, ids []int64, unrecorded *unrecordedError) []int64 {
	rest := make([]int64, 0, len(ids))
	for _, id := range ids {
		providerID, ok := unrecorded.providerIDs[id]
		if !ok {
			rest = append(rest, id)
			continue
		}

		reason := fmt.Sprintf("accepted by provider as %s but not recorded", providerID)
		if _, err := e.store.FailUnsubmitted(ctx, campaignID, []int64{id}, jobID, reason); err != nil {
			logger.Errorf("[job %s] Failed to finalize accepted message %d (provider id %s): %v", jobID, id, providerID, err)
		}
	}
	return rest
}

// FinalizeEnqueue fails the campaign's messages that no job will pick up.
func (e *DispatchEngine) FinalizeEnqueue(ctx context.Context, job domain.Job, payload domain.JobPayload, cause error) {
	p, ok := payload.(domain.EnqueueCampaign)
	if !ok || errors.Is(cause, domain.ErrCampaignNotFound) {
		return
	}

	reason := fmt.Sprintf("campaign enqueue failed after %d attempts: %v", job.Attempt, cause)
	n, err := e.store.FailUnclaimed(ctx, p.CampaignID, reason)
	if err != nil {
		logger.Errorf("[job %s] Failed to finalize campaign %d: %v", job.ID, p.CampaignID, err)
		return
	}
	if n > 0 {
		logger.Warnf("[job %s] Marked %d unsent messages of campaign %d as failed", job.ID, n, p.CampaignID)
	}
}

// Submit enqueues an EnqueueCampaign job for the ops API.
func (e *DispatchEngine) Submit(ctx context.Context, p domain.EnqueueCampaign) (domain.Job, error) {
	if !e.jobs.Available() {
		return domain.Job{}, queue.ErrQueueUnavailable
	}

	job, err := domain.NewJob(p, e.maxAttempts)
	if err != nil {
		return domain.Job{}, err
	}
	if err := e.jobs.Enqueue(ctx, job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func partition(ids []int64, size int) [][]int64 {
	var batches [][]int64
	for start := 0; start < len(ids); start += size {
		end := min(start+size, len(ids))
		batches = append(batches, ids[start:end])
	}
	return batches
}
