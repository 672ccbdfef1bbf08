package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onurcolak/sms-dispatch/internal/domain"
)

func TestMessageStore_UpdateStatusNeverRegresses(t *testing.T) {
	ctx := context.Background()
	repo := newMemMessages()
	touched := &touchRecorder{}
	store := NewMessageStore(repo, touched, time.Minute)

	m := repo.add(domain.Message{CampaignID: testCampaign, OwnerID: testOwner})

	changed, err := store.UpdateStatus(ctx, *m, domain.StatusSent, domain.StatusUpdate{})
	if err != nil || !changed {
		t.Fatalf("expected queued -> sent to change the row, got changed=%v err=%v", changed, err)
	}

	// A stale snapshot still says queued; the stored row is already sent.
	changed, err = store.UpdateStatus(ctx, *m, domain.StatusFailed, domain.StatusUpdate{Error: "late report"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if changed {
		t.Fatalf("expected sent -> failed to be refused")
	}
	if got := repo.get(m.ID).Status; got != domain.StatusSent {
		t.Fatalf("expected status sent, got %s", got)
	}
	if touched.count(testCampaign) != 1 {
		t.Errorf("expected one touch, got %d", touched.count(testCampaign))
	}
}

func TestMessageStore_TerminalSnapshotSkipsWrite(t *testing.T) {
	repo := newMemMessages()
	store := NewMessageStore(repo, &touchRecorder{}, time.Minute)

	m := repo.add(domain.Message{CampaignID: testCampaign, Status: domain.StatusFailed})

	changed, err := store.UpdateStatus(context.Background(), *m, domain.StatusSent, domain.StatusUpdate{})
	if err != nil || changed {
		t.Fatalf("expected no-op, got changed=%v err=%v", changed, err)
	}
	if repo.statusWrites != 0 {
		t.Errorf("expected no repository write, got %d", repo.statusWrites)
	}
}

func TestMessageStore_RejectsQueuedTarget(t *testing.T) {
	repo := newMemMessages()
	store := NewMessageStore(repo, &touchRecorder{}, time.Minute)

	m := repo.add(domain.Message{CampaignID: testCampaign, Status: domain.StatusSent})

	_, err := store.UpdateStatus(context.Background(), *m, domain.StatusQueued, domain.StatusUpdate{})
	if !errors.Is(err, domain.ErrTransitionNotAllowed) {
		t.Fatalf("expected ErrTransitionNotAllowed, got %v", err)
	}
}

func TestMessageStore_ClaimExcludesOtherLiveClaims(t *testing.T) {
	ctx := context.Background()
	repo := newMemMessages()
	store := NewMessageStore(repo, &touchRecorder{}, time.Minute)

	a := repo.add(domain.Message{CampaignID: testCampaign})
	b := repo.add(domain.Message{CampaignID: testCampaign})

	first, err := store.Claim(ctx, []int64{a.ID, b.ID}, "job-a")
	if err != nil || len(first) != 2 {
		t.Fatalf("expected both claimed, got %d (err=%v)", len(first), err)
	}

	second, err := store.Claim(ctx, []int64{a.ID, b.ID}, "job-b")
	if err != nil || len(second) != 0 {
		t.Fatalf("expected nothing for a second job, got %d (err=%v)", len(second), err)
	}

	again, err := store.Claim(ctx, []int64{a.ID}, "job-a")
	if err != nil || len(again) != 1 {
		t.Fatalf("expected the holder to reclaim, got %d (err=%v)", len(again), err)
	}
	if again[0].RetryCount != 2 {
		t.Errorf("expected retry count 2, got %d", again[0].RetryCount)
	}
}

func TestMessageStore_ExpiredClaimCanBeTakenOver(t *testing.T) {
	ctx := context.Background()
	repo := newMemMessages()
	store := NewMessageStore(repo, &touchRecorder{}, time.Minute)

	m := repo.add(domain.Message{CampaignID: testCampaign})
	if _, err := store.Claim(ctx, []int64{m.ID}, "job-a"); err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	store.now = func() time.Time { return time.Now().UTC().Add(2 * time.Minute) }

	got, err := store.Claim(ctx, []int64{m.ID}, "job-b")
	if err != nil || len(got) != 1 {
		t.Fatalf("expected takeover of expired claim, got %d (err=%v)", len(got), err)
	}
}
