package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/internal/queue"
	"github.com/onurcolak/sms-dispatch/pkg/provider"
)

type noLimit struct{}

func (noLimit) Wait(context.Context) error { return nil }

type recorder struct {
	mu        sync.Mutex
	calls     int
	finalized []error
}

func (r *recorder) handler(err error) HandlerFunc {
	return func(ctx context.Context, job domain.Job, payload domain.JobPayload) error {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.calls++
		return err
	}
}

func (r *recorder) finalizer(ctx context.Context, job domain.Job, payload domain.JobPayload, cause error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.finalized = append(r.finalized, cause)
}

func newTestPool(q queue.Queue, router *Router) *Pool {
	return NewPool(q, noLimit{}, router, Config{Concurrency: 1, PollInterval: 5 * time.Millisecond, ShutdownTimeout: time.Second})
}

func runOnce(t *testing.T, p *Pool, q *queue.MemoryQueue) bool {
	t.Helper()

	job, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("dequeue returned error: %v", err)
	}
	if job == nil {
		return false
	}
	p.process(context.Background(), *job)
	return true
}

func TestPool_RetryBoundary(t *testing.T) {
	q := queue.NewMemoryQueue(time.Minute)
	rec := &recorder{}
	router := NewRouter()
	router.Handle(domain.JobSendBatch, rec.handler(&provider.ServerError{Op: "send bulk", StatusCode: 500}), rec.finalizer)
	p := newTestPool(q, router)

	if _, err := queue.Submit(context.Background(), q, domain.SendBatch{CampaignID: 1}, 3); err != nil {
		t.Fatalf("submit returned error: %v", err)
	}

	// Two failures leave the job eligible for one more attempt.
	runOnce(t, p, q)
	runOnce(t, p, q)
	if len(rec.finalized) != 0 {
		t.Fatalf("job must not be finalized before its last attempt")
	}
	if stats, _ := q.Stats(context.Background()); stats.Delayed != 1 {
		t.Fatalf("expected the job to be waiting for its retry, got %+v", stats)
	}

	runOnce(t, p, q)
	if rec.calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", rec.calls)
	}
	if len(rec.finalized) != 1 {
		t.Fatalf("expected finalizer to run once, got %d", len(rec.finalized))
	}
	if failed := q.FailedJobs(); len(failed) != 1 || failed[0].Attempt != 3 {
		t.Fatalf("expected job in failed history after 3 attempts, got %+v", failed)
	}
	if runOnce(t, p, q) {
		t.Fatalf("expected no further attempts")
	}
}

func TestPool_NonRetryableFailsImmediately(t *testing.T) {
	cases := map[string]error{
		"client error":   &provider.ClientError{Op: "send", StatusCode: 400},
		"protocol error": &provider.ProtocolError{Op: "send bulk", Reason: "count mismatch"},
		"permanent":      Permanent(errors.New("campaign not found")),
	}

	for name, cause := range cases {
		t.Run(name, func(t *testing.T) {
			q := queue.NewMemoryQueue(time.Minute)
			rec := &recorder{}
			router := NewRouter()
			router.Handle(domain.JobSendMessage, rec.handler(cause), rec.finalizer)
			p := newTestPool(q, router)

			_, _ = queue.Submit(context.Background(), q, domain.SendMessage{MessageID: 1}, 5)
			runOnce(t, p, q)

			if rec.calls != 1 || len(rec.finalized) != 1 {
				t.Fatalf("expected one attempt and one finalize, got %d/%d", rec.calls, len(rec.finalized))
			}
			if len(q.FailedJobs()) != 1 {
				t.Fatalf("expected the job in failed history")
			}
		})
	}
}

func TestPool_UnknownKindIsSkipped(t *testing.T) {
	q := queue.NewMemoryQueue(time.Minute)
	p := newTestPool(q, NewRouter())

	_ = q.Enqueue(context.Background(), domain.Job{ID: "j-1", Kind: "reticulate_splines", Payload: []byte(`{}`), MaxAttempts: 5})
	runOnce(t, p, q)

	stats, _ := q.Stats(context.Background())
	if stats.Active != 0 || stats.Delayed != 0 || stats.Failed != 0 || stats.Waiting != 0 {
		t.Fatalf("expected unknown job to be acknowledged and dropped, got %+v", stats)
	}
}

func TestPool_RunDrainsInFlightJobs(t *testing.T) {
	q := queue.NewMemoryQueue(time.Minute)
	started := make(chan struct{})
	release := make(chan struct{})

	router := NewRouter()
	router.Handle(domain.JobSendMessage, func(ctx context.Context, job domain.Job, payload domain.JobPayload) error {
		close(started)
		<-release
		return nil
	}, nil)
	p := newTestPool(q, router)

	_, _ = queue.Submit(context.Background(), q, domain.SendMessage{MessageID: 1}, 5)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- p.Run(ctx) }()

	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatalf("job never started")
	}

	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("pool did not stop after drain")
	}

	stats, _ := q.Stats(context.Background())
	if stats.Active != 0 {
		t.Fatalf("expected drained job to be acknowledged, got %+v", stats)
	}
}

func TestBackoff(t *testing.T) {
	base := 3 * time.Second
	want := []time.Duration{3 * time.Second, 6 * time.Second, 12 * time.Second, 24 * time.Second}

	for i, w := range want {
		if got := Backoff(base, i+1); got != w {
			t.Errorf("Backoff(attempt %d) = %v, want %v", i+1, got, w)
		}
	}
}
