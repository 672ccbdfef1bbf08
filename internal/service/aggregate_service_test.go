package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onurcolak/sms-dispatch/internal/domain"
)

type countingAggregates struct {
	mu      sync.Mutex
	calls   map[int64]int
	fail    map[int64]bool
	sending []int64
}

func (r *countingAggregates) FindSendingIDs(context.Context) ([]int64, error) {
	return r.sending, nil
}

func (r *countingAggregates) RecomputeAggregates(_ context.Context, campaignID int64) (*domain.CampaignStats, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.calls == nil {
		r.calls = make(map[int64]int)
	}
	r.calls[campaignID]++
	if r.fail[campaignID] {
		return nil, errors.New("deadlock found")
	}
	return &domain.CampaignStats{}, nil
}

func (r *countingAggregates) count(campaignID int64) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls[campaignID]
}

func TestAggregateMaintainer_DebouncesTouches(t *testing.T) {
	repo := &countingAggregates{}
	a := NewAggregateMaintainer(repo, 20*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	for i := 0; i < 10; i++ {
		a.Touch(1)
	}
	a.Touch(2)

	deadline := time.Now().Add(2 * time.Second)
	for repo.count(1) == 0 || repo.count(2) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("aggregates were not recomputed in time")
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run returned error: %v", err)
	}

	if repo.count(1) != 1 {
		t.Errorf("expected one recomputation of campaign 1, got %d", repo.count(1))
	}
	if repo.count(2) != 1 {
		t.Errorf("expected one recomputation of campaign 2, got %d", repo.count(2))
	}
}

func TestAggregateMaintainer_FailedFlushIsRetried(t *testing.T) {
	repo := &countingAggregates{fail: map[int64]bool{1: true}}
	a := NewAggregateMaintainer(repo, 0)

	a.Touch(1)
	a.Flush(context.Background())

	repo.mu.Lock()
	repo.fail[1] = false
	repo.mu.Unlock()

	a.Flush(context.Background())
	if repo.count(1) != 2 {
		t.Fatalf("expected campaign 1 to be recomputed again, got %d calls", repo.count(1))
	}

	a.Flush(context.Background())
	if repo.count(1) != 2 {
		t.Errorf("expected no further recomputation once it succeeded, got %d", repo.count(1))
	}
}

func TestAggregateMaintainer_FlushesOnShutdown(t *testing.T) {
	repo := &countingAggregates{}
	a := NewAggregateMaintainer(repo, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Run(ctx) }()

	a.Touch(5)
	time.Sleep(10 * time.Millisecond)
	cancel()
	<-done

	if repo.count(5) != 1 {
		t.Fatalf("expected shutdown flush to recompute campaign 5, got %d", repo.count(5))
	}
}

func TestAggregateMaintainer_RecomputesUntouchedSendingCampaigns(t *testing.T) {
	// Nothing was touched, as after a restart that lost the pending set.
	repo := &countingAggregates{sending: []int64{3, 4, 7}, fail: map[int64]bool{4: true}}
	a := NewAggregateMaintainer(repo, time.Hour)

	n, err := a.RecomputeSending(context.Background())
	if err != nil {
		t.Fatalf("RecomputeSending returned error: %v", err)
	}
	if n != 2 {
		t.Errorf("expected 2 successful recomputations, got %d", n)
	}
	for _, id := range []int64{3, 4, 7} {
		if repo.count(id) != 1 {
			t.Errorf("expected campaign %d to be recomputed once, got %d", id, repo.count(id))
		}
	}
}
