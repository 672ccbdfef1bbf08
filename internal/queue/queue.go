package queue

import (
	"context"
	"errors"
	"time"

	"github.com/onurcolak/sms-dispatch/internal/domain"
)

var (
	ErrQueueUnavailable = errors.New("job queue unavailable")
	ErrJobNotFound      = errors.New("job not found")
)

const failedHistory = 1000

// Queue is an at-least-once job queue shared by every worker process.
//
// A dequeued job is leased until Ack, Retry or Fail is called; a lease that runs
// out is handed back to the waiting list by RequeueStale.
type Queue interface {
	// Available is false when the backend could not be reached at startup.
	Available() bool
	Enqueue(ctx context.Context, job domain.Job) error
	// Dequeue returns nil, nil when nothing is due.
	Dequeue(ctx context.Context) (*domain.Job, error)
	Ack(ctx context.Context, job domain.Job) error
	Retry(ctx context.Context, job domain.Job, delay time.Duration, cause error) error
	Fail(ctx context.Context, job domain.Job, cause error) error
	// Remove drops a job that has not been picked up yet. It returns false for a
	// job that is running and ErrJobNotFound for one it does not know.
	Remove(ctx context.Context, jobID string) (bool, error)
	RequeueStale(ctx context.Context) (int, error)
	Stats(ctx context.Context) (Stats, error)
}

// Limiter blocks until one more unit of work may start.
type Limiter interface {
	Wait(ctx context.Context) error
}

type Stats struct {
	Backend string `json:"backend"`
	Waiting int64  `json:"waiting"`
	Active  int64  `json:"active"`
	Delayed int64  `json:"delayed"`
	Failed  int64  `json:"failed"`
}

// Submit wraps payload in a job envelope and enqueues it.
func Submit(ctx context.Context, q Queue, payload domain.JobPayload, maxAttempts int) (domain.Job, error) {
	if !q.Available() {
		return domain.Job{}, ErrQueueUnavailable
	}

	job, err := domain.NewJob(payload, maxAttempts)
	if err != nil {
		return domain.Job{}, err
	}

	if err := q.Enqueue(ctx, job); err != nil {
		return domain.Job{}, err
	}
	return job, nil
}

func withCause(job domain.Job, cause error) domain.Job {
	if cause != nil {
		job.LastError = cause.Error()
	}
	return job
}
