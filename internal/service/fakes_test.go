package service

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/pkg/provider"
)

//
// Test fakes shared by the service tests.
//

// memMessages mirrors the conditional writes of the MySQL repository.
type memMessages struct {
	mu     sync.Mutex
	nextID int64
	rows   map[int64]*domain.Message

	// acceptErr makes RecordAcceptance fail for the given message.
	acceptErr map[int64]error

	statusWrites int
}

func newMemMessages() *memMessages {
	return &memMessages{
		rows: make(map[int64]*domain.Message),
	}
}

func (r *memMessages) add(m domain.Message) *domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextID++
	m.ID = r.nextID
	if m.Status == "" {
		m.Status = domain.StatusQueued
	}
	r.rows[m.ID] = &m
	return &m
}

func (r *memMessages) get(id int64) domain.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *r.rows[id]
}

func (r *memMessages) sortedIDs() []int64 {
	ids := make([]int64, 0, len(r.rows))
	for id := range r.rows {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

func (r *memMessages) claimable(m *domain.Message, token string, cutoff time.Time) bool {
	if m.Status != domain.StatusQueued || m.HasProviderID() {
		return false
	}
	return m.ClaimToken == nil || *m.ClaimToken == token || (m.ClaimedAt != nil && m.ClaimedAt.Before(cutoff))
}

func (r *memMessages) CreateMany(_ context.Context, msgs []domain.NewMessage) (int64, error) {
	var inserted int64
	for _, nm := range msgs {
		r.mu.Lock()
		exists := false
		for _, m := range r.rows {
			if m.CampaignID == nm.CampaignID && m.ContactID == nm.ContactID {
				exists = true
				break
			}
		}
		r.mu.Unlock()
		if exists {
			continue
		}

		r.add(domain.Message{
			CampaignID:  nm.CampaignID,
			ContactID:   nm.ContactID,
			OwnerID:     nm.OwnerID,
			Text:        nm.Text,
			Destination: nm.Destination,
		})
		inserted++
	}
	return inserted, nil
}

func (r *memMessages) GetByID(_ context.Context, id int64) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.rows[id]
	if !ok {
		return nil, domain.ErrMessageNotFound
	}
	cp := *m
	return &cp, nil
}

func (r *memMessages) FindByProviderMessageID(_ context.Context, providerMessageID string) (*domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, m := range r.rows {
		if m.HasProviderID() && *m.ProviderMessageID == providerMessageID {
			cp := *m
			return &cp, nil
		}
	}
	return nil, domain.ErrMessageNotFound
}

func (r *memMessages) FindUnsubmittedIDs(_ context.Context, campaignID int64, cutoff time.Time) ([]int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var ids []int64
	for _, id := range r.sortedIDs() {
		m := r.rows[id]
		if m.CampaignID == campaignID && r.claimable(m, "", cutoff) {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (r *memMessages) Claim(_ context.Context, ids []int64, token string, now, cutoff time.Time) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var claimed []domain.Message
	for _, id := range ids {
		m, ok := r.rows[id]
		if !ok || !r.claimable(m, token, cutoff) {
			continue
		}
		tok, at := token, now
		m.ClaimToken, m.ClaimedAt = &tok, &at
		m.RetryCount++
		claimed = append(claimed, *m)
	}
	slices.SortFunc(claimed, func(a, b domain.Message) int { return int(a.ID - b.ID) })
	return claimed, nil
}

func (r *memMessages) Reserve(_ context.Context, ids []int64, token string, at, cutoff time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		m, ok := r.rows[id]
		if !ok || !r.claimable(m, token, cutoff) {
			continue
		}
		tok, ts := token, at
		m.ClaimToken, m.ClaimedAt = &tok, &ts
	}
	return nil
}

func (r *memMessages) Release(_ context.Context, ids []int64, token string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, id := range ids {
		m, ok := r.rows[id]
		if ok && m.ClaimToken != nil && *m.ClaimToken == token && !m.HasProviderID() {
			m.ClaimToken, m.ClaimedAt = nil, nil
		}
	}
	return nil
}

func (r *memMessages) UpdateText(_ context.Context, id int64, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if m, ok := r.rows[id]; ok && !m.HasProviderID() {
		m.Text = text
	}
	return nil
}

func (r *memMessages) UpdateStatus(_ context.Context, id int64, target domain.MessageStatus, upd domain.StatusUpdate) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.rows[id]
	if !ok || !domain.CanTransition(m.Status, target) {
		return false, nil
	}

	r.statusWrites++
	m.Status = target
	m.ClaimToken, m.ClaimedAt = nil, nil
	at := upd.At
	if target == domain.StatusSent {
		m.SentAt = &at
	} else {
		m.FailedAt = &at
		if upd.Error != "" {
			e := upd.Error
			m.Error = &e
		}
	}
	return true, nil
}

func (r *memMessages) RecordAcceptance(_ context.Context, acc domain.Acceptance, sentAt *time.Time) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.acceptErr[acc.MessageID]; err != nil {
		return false, err
	}

	m, ok := r.rows[acc.MessageID]
	if !ok || m.Status != domain.StatusQueued || m.HasProviderID() {
		return false, nil
	}

	pid := acc.ProviderMessageID
	m.ProviderMessageID = &pid
	if acc.BulkID != "" {
		bid := acc.BulkID
		m.BulkID = &bid
	}
	m.Error = nil
	m.ClaimToken, m.ClaimedAt = nil, nil
	if sentAt != nil {
		m.Status = domain.StatusSent
		m.SentAt = sentAt
	}
	return true, nil
}

func (r *memMessages) FailUnsubmitted(_ context.Context, ids []int64, token string, cutoff time.Time, upd domain.StatusUpdate) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, id := range ids {
		m, ok := r.rows[id]
		if !ok || !r.claimable(m, token, cutoff) {
			continue
		}
		r.failLocked(m, upd)
		n++
	}
	return n, nil
}

func (r *memMessages) FailUnclaimedByCampaign(_ context.Context, campaignID int64, cutoff time.Time, upd domain.StatusUpdate) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for _, m := range r.rows {
		if m.CampaignID != campaignID || !r.claimable(m, "", cutoff) {
			continue
		}
		r.failLocked(m, upd)
		n++
	}
	return n, nil
}

func (r *memMessages) failLocked(m *domain.Message, upd domain.StatusUpdate) {
	at, e := upd.At, upd.Error
	m.Status = domain.StatusFailed
	m.FailedAt = &at
	m.Error = &e
	m.ClaimToken, m.ClaimedAt = nil, nil
}

func (r *memMessages) FindPending(_ context.Context, f domain.PendingFilter) ([]domain.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out []domain.Message
	for _, id := range r.sortedIDs() {
		m := r.rows[id]
		switch {
		case m.Status != domain.StatusQueued || !m.HasProviderID():
			continue
		case f.OwnerID != nil && m.OwnerID != *f.OwnerID:
			continue
		case f.CampaignID != nil && m.CampaignID != *f.CampaignID:
			continue
		case f.BulkID != nil && (m.BulkID == nil || *m.BulkID != *f.BulkID):
			continue
		}
		out = append(out, *m)
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

// stats counts messages of one campaign by status.
func (r *memMessages) stats(campaignID int64) domain.CampaignStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	var s domain.CampaignStats
	for _, m := range r.rows {
		if m.CampaignID != campaignID {
			continue
		}
		s.Total++
		switch m.Status {
		case domain.StatusQueued:
			s.Queued++
		case domain.StatusSent:
			s.Sent++
		case domain.StatusFailed:
			s.Failed++
		}
	}
	return s
}

type touchRecorder struct {
	mu      sync.Mutex
	touched map[int64]int
}

func (t *touchRecorder) Touch(campaignID int64) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.touched == nil {
		t.touched = make(map[int64]int)
	}
	t.touched[campaignID]++
}

func (t *touchRecorder) count(campaignID int64) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.touched[campaignID]
}

type fakeCampaigns struct {
	campaigns map[int64]*domain.Campaign
	getErr    error
	completed []int64
}

func (f *fakeCampaigns) GetForOwner(_ context.Context, id, ownerID int64) (*domain.Campaign, error) {
	if f.getErr != nil {
		return nil, f.getErr
	}
	c, ok := f.campaigns[id]
	if !ok || c.OwnerID != ownerID {
		return nil, domain.ErrCampaignNotFound
	}
	cp := *c
	return &cp, nil
}

func (f *fakeCampaigns) MarkSending(_ context.Context, id int64) (bool, error) {
	c := f.campaigns[id]
	if c.Status == domain.CampaignSending || c.Status == domain.CampaignCompleted {
		return false, nil
	}
	c.Status = domain.CampaignSending
	return true, nil
}

func (f *fakeCampaigns) MarkCompleted(_ context.Context, id int64) error {
	f.campaigns[id].Status = domain.CampaignCompleted
	f.completed = append(f.completed, id)
	return nil
}

type fakeAudience struct {
	contacts []domain.Contact
}

func (f *fakeAudience) ResolveAudience(_ context.Context, ownerID int64, _ domain.AudienceFilter) ([]domain.Contact, error) {
	var out []domain.Contact
	for _, c := range f.contacts {
		if c.OwnerID == ownerID && !c.Unsubscribed {
			out = append(out, c)
		}
	}
	return out, nil
}

type fakeSender struct {
	mu sync.Mutex

	// bulk decides the reply to one bulk submission; nil accepts everything.
	bulk   func(call int, msgs []provider.Outbound) (*provider.BulkResult, error)
	single func(call int, msg provider.Outbound) (*provider.SendResult, error)

	bulkCalls   [][]provider.Outbound
	singleCalls []provider.Outbound
}

func (s *fakeSender) SendBulk(_ context.Context, msgs []provider.Outbound) (*provider.BulkResult, error) {
	s.mu.Lock()
	s.bulkCalls = append(s.bulkCalls, msgs)
	call := len(s.bulkCalls)
	s.mu.Unlock()

	if s.bulk != nil {
		return s.bulk(call, msgs)
	}
	return acceptAll(call, msgs), nil
}

func (s *fakeSender) SendSingle(_ context.Context, msg provider.Outbound) (*provider.SendResult, error) {
	s.mu.Lock()
	s.singleCalls = append(s.singleCalls, msg)
	call := len(s.singleCalls)
	s.mu.Unlock()

	if s.single != nil {
		return s.single(call, msg)
	}
	return &provider.SendResult{ProviderMessageID: fmt.Sprintf("single-%d", call)}, nil
}

func acceptAll(call int, msgs []provider.Outbound) *provider.BulkResult {
	res := &provider.BulkResult{BulkID: fmt.Sprintf("bulk-%d", call)}
	for i := range msgs {
		res.Messages = append(res.Messages, provider.BulkEntry{ProviderMessageID: fmt.Sprintf("p-%d-%d", call, i)})
	}
	return res
}

type fakeCredits struct {
	mu      sync.Mutex
	balance map[int64]int64
	debits  map[int64]int
	err     error
}

func newFakeCredits(owner, balance int64) *fakeCredits {
	return &fakeCredits{
		balance: map[int64]int64{owner: balance},
		debits:  make(map[int64]int),
	}
}

func (c *fakeCredits) Debit(_ context.Context, ownerID, amount int64, dc domain.DebitContext) (*domain.LedgerEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.err != nil {
		return nil, c.err
	}
	if c.debits[*dc.MessageID] > 0 {
		return &domain.LedgerEntry{Duplicate: true}, nil
	}
	if c.balance[ownerID] < amount {
		return nil, &domain.InsufficientCreditsError{OwnerID: ownerID, Balance: c.balance[ownerID], Requested: amount}
	}
	c.balance[ownerID] -= amount
	c.debits[*dc.MessageID]++
	return &domain.LedgerEntry{OwnerID: ownerID, Amount: amount, Kind: domain.EntryDebit, MessageID: dc.MessageID}, nil
}

type fakeJobs struct {
	unavailable bool
	jobs        []domain.Job

	// err is returned once okBeforeErr jobs have been accepted.
	err         error
	okBeforeErr int
}

func (q *fakeJobs) Available() bool { return !q.unavailable }

func (q *fakeJobs) Enqueue(_ context.Context, job domain.Job) error {
	if q.err != nil && len(q.jobs) >= q.okBeforeErr {
		return q.err
	}
	q.jobs = append(q.jobs, job)
	return nil
}

type fakeTokens struct{}

func (fakeTokens) GenerateUnsubscribeToken(contactID, ownerID, campaignID int64) (string, error) {
	return fmt.Sprintf("tok-%d-%d-%d", contactID, ownerID, campaignID), nil
}

type fakeStatuses struct {
	mu      sync.Mutex
	reports map[string]*provider.DeliveryReport
	errs    map[string]error
	calls   int
}

func (f *fakeStatuses) GetStatus(_ context.Context, providerMessageID string) (*provider.DeliveryReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls++
	if err, ok := f.errs[providerMessageID]; ok {
		return nil, err
	}
	if r, ok := f.reports[providerMessageID]; ok {
		return r, nil
	}
	return nil, &provider.NotFoundError{ProviderMessageID: providerMessageID}
}

func ptr[T any](v T) *T { return &v }
