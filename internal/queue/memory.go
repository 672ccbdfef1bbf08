package queue

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/onurcolak/sms-dispatch/internal/domain"
)

// MemoryQueue keeps jobs inside one process. It backs tests and QUEUE_BACKEND=memory.
type MemoryQueue struct {
	mu      sync.Mutex
	lease   time.Duration
	now     func() time.Time
	jobs    map[string]domain.Job
	waiting []string
	active  map[string]time.Time
	delayed map[string]time.Time
	failed  []domain.Job
}

func NewMemoryQueue(lease time.Duration) *MemoryQueue {
	return &MemoryQueue{
		lease:   lease,
		now:     time.Now,
		jobs:    make(map[string]domain.Job),
		active:  make(map[string]time.Time),
		delayed: make(map[string]time.Time),
	}
}

func (q *MemoryQueue) Available() bool { return true }

func (q *MemoryQueue) Enqueue(_ context.Context, job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.jobs[job.ID] = job
	q.waiting = append(q.waiting, job.ID)
	return nil
}

func (q *MemoryQueue) Dequeue(_ context.Context) (*domain.Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	q.promoteDue(now)

	for len(q.waiting) > 0 {
		id := q.waiting[0]
		q.waiting = q.waiting[1:]

		job, ok := q.jobs[id]
		if !ok {
			continue
		}
		q.active[id] = now.Add(q.lease)
		return &job, nil
	}

	return nil, nil
}

// promoteDue moves delayed jobs whose time has come to the waiting list, earliest first.
func (q *MemoryQueue) promoteDue(now time.Time) {
	var due []string
	for id, at := range q.delayed {
		if !at.After(now) {
			due = append(due, id)
		}
	}
	slices.SortFunc(due, func(a, b string) int { return q.delayed[a].Compare(q.delayed[b]) })

	for _, id := range due {
		delete(q.delayed, id)
		q.waiting = append(q.waiting, id)
	}
}

func (q *MemoryQueue) Ack(_ context.Context, job domain.Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.active, job.ID)
	delete(q.jobs, job.ID)
	return nil
}

func (q *MemoryQueue) Retry(_ context.Context, job domain.Job, delay time.Duration, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.active, job.ID)
	q.jobs[job.ID] = withCause(job, cause)
	q.delayed[job.ID] = q.now().Add(delay)
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, job domain.Job, cause error) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	delete(q.active, job.ID)
	delete(q.jobs, job.ID)

	q.failed = append(q.failed, withCause(job, cause))
	if len(q.failed) > failedHistory {
		q.failed = q.failed[len(q.failed)-failedHistory:]
	}
	return nil
}

func (q *MemoryQueue) Remove(_ context.Context, jobID string) (bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, ok := q.jobs[jobID]; !ok {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}

	if _, ok := q.delayed[jobID]; ok {
		delete(q.delayed, jobID)
		delete(q.jobs, jobID)
		return true, nil
	}

	if i := slices.Index(q.waiting, jobID); i >= 0 {
		q.waiting = slices.Delete(q.waiting, i, i+1)
		delete(q.jobs, jobID)
		return true, nil
	}

	return false, nil
}

func (q *MemoryQueue) RequeueStale(_ context.Context) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := q.now()
	n := 0
	for id, deadline := range q.active {
		if deadline.Before(now) {
			delete(q.active, id)
			q.waiting = append(q.waiting, id)
			n++
		}
	}
	return n, nil
}

func (q *MemoryQueue) Stats(_ context.Context) (Stats, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	return Stats{
		Backend: "memory",
		Waiting: int64(len(q.waiting)),
		Active:  int64(len(q.active)),
		Delayed: int64(len(q.delayed)),
		Failed:  int64(len(q.failed)),
	}, nil
}

// FailedJobs returns a copy of the terminal failure history, oldest first.
func (q *MemoryQueue) FailedJobs() []domain.Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	return slices.Clone(q.failed)
}
