package service

import (
	"context"
	"fmt"

	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/internal/worker"
	"github.com/onurcolak/sms-dispatch/pkg/logger"
	"github.com/onurcolak/sms-dispatch/pkg/validator"
)

type contactUpserter interface {
	Upsert(ctx context.Context, ownerID int64, listID *int64, contacts []domain.ContactInput) (int, int, error)
}

type structValidator interface {
	Validate(i any) error
}

// ContactImporter stores already-parsed contact rows, dropping invalid phone numbers.
type ContactImporter struct {
	repo     contactUpserter
	validate structValidator
}

func NewContactImporter(repo contactUpserter, validate structValidator) *ContactImporter {
	return &ContactImporter{repo: repo, validate: validate}
}

func (i *ContactImporter) Import(ctx context.Context, p domain.ImportContacts) (domain.ImportResult, error) {
	var res domain.ImportResult

	valid := make([]domain.ContactInput, 0, len(p.Contacts))
	for n, c := range p.Contacts {
		c.Phone = validator.NormalizePhone(c.Phone)
		if err := i.validate.Validate(c); err != nil {
			logger.Debugf("Owner %d: skipping contact row %d: %v", p.OwnerID, n+1, err)
			res.Invalid++
			continue
		}
		valid = append(valid, c)
	}

	if len(valid) == 0 {
		return res, nil
	}

	imported, updated, err := i.repo.Upsert(ctx, p.OwnerID, p.ListID, valid)
	if err != nil {
		return res, err
	}
	res.Imported, res.Updated = imported, updated

	return res, nil
}

func (i *ContactImporter) HandleJob(ctx context.Context, job domain.Job, payload domain.JobPayload) error {
	p, ok := payload.(domain.ImportContacts)
	if !ok {
		return worker.Permanent(fmt.Errorf("unexpected payload %T", payload))
	}

	res, err := i.Import(ctx, p)
	if err != nil {
		return err
	}

	logger.Infof("[job %s] Owner %d contacts: %d imported, %d updated, %d invalid",
		job.ID, p.OwnerID, res.Imported, res.Updated, res.Invalid)
	return nil
}
