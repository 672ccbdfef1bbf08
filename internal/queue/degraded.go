package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/onurcolak/sms-dispatch/internal/domain"
)

// Degraded stands in for a queue backend that could not be reached. Callers are
// expected to check Available before relying on it.
type Degraded struct {
	reason error
}

func NewDegraded(reason error) *Degraded {
	return &Degraded{reason: reason}
}

func (d *Degraded) Available() bool { return false }

func (d *Degraded) err() error {
	if d.reason == nil {
		return ErrQueueUnavailable
	}
	return fmt.Errorf("%w: %v", ErrQueueUnavailable, d.reason)
}

func (d *Degraded) Enqueue(context.Context, domain.Job) error { return d.err() }

func (d *Degraded) Dequeue(context.Context) (*domain.Job, error) { return nil, d.err() }

func (d *Degraded) Ack(context.Context, domain.Job) error { return d.err() }

func (d *Degraded) Retry(context.Context, domain.Job, time.Duration, error) error { return d.err() }

func (d *Degraded) Fail(context.Context, domain.Job, error) error { return d.err() }

func (d *Degraded) Remove(context.Context, string) (bool, error) { return false, d.err() }

func (d *Degraded) RequeueStale(context.Context) (int, error) { return 0, d.err() }

func (d *Degraded) Stats(context.Context) (Stats, error) {
	return Stats{Backend: "degraded"}, d.err()
}
