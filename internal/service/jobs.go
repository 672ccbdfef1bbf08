package service

import (
	"context"
	"fmt"

	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/internal/worker"
)

// RegisterJobs binds every job kind to the service that runs it.
func RegisterJobs(r *worker.Router, dispatch *DispatchEngine, reconciler *Reconciler, importer *ContactImporter) {
	r.Handle(domain.JobEnqueueCampaign, func(ctx context.Context, job domain.Job, payload domain.JobPayload) error {
		p, ok := payload.(domain.EnqueueCampaign)
		if !ok {
			return worker.Permanent(fmt.Errorf("unexpected payload %T", payload))
		}
		return dispatch.EnqueueCampaign(ctx, job.ID, p)
	}, dispatch.FinalizeEnqueue)

	r.Handle(domain.JobSendBatch, func(ctx context.Context, job domain.Job, payload domain.JobPayload) error {
		p, ok := payload.(domain.SendBatch)
		if !ok {
			return worker.Permanent(fmt.Errorf("unexpected payload %T", payload))
		}
		return dispatch.SendBatch(ctx, job.ID, p)
	}, dispatch.FinalizeSend)

	r.Handle(domain.JobSendMessage, func(ctx context.Context, job domain.Job, payload domain.JobPayload) error {
		p, ok := payload.(domain.SendMessage)
		if !ok {
			return worker.Permanent(fmt.Errorf("unexpected payload %T", payload))
		}
		return dispatch.SendMessage(ctx, job.ID, p)
	}, dispatch.FinalizeSend)

	r.Handle(domain.JobRefreshStatuses, reconciler.HandleJob, nil)
	r.Handle(domain.JobImportContacts, importer.HandleJob, nil)
}
