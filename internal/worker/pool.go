package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/onurcolak/sms-dispatch/environments"
	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/internal/queue"
	"github.com/onurcolak/sms-dispatch/pkg/logger"
)

type Config struct {
	Concurrency     int
	BackoffBase     time.Duration
	PollInterval    time.Duration
	ShutdownTimeout time.Duration
}

func ConfigFrom(cfg environments.QueueConfig) Config {
	return Config{
		Concurrency:     cfg.Concurrency,
		BackoffBase:     cfg.BackoffBase,
		PollInterval:    cfg.PollInterval,
		ShutdownTimeout: cfg.ShutdownTimeout,
	}
}

// Pool runs a fixed number of workers against a shared queue.
type Pool struct {
	id      string
	queue   queue.Queue
	limiter queue.Limiter
	router  *Router
	cfg     Config

	processed atomic.Int64
	retried   atomic.Int64
	failed    atomic.Int64
}

func NewPool(q queue.Queue, limiter queue.Limiter, router *Router, cfg Config) *Pool {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 1
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 500 * time.Millisecond
	}

	return &Pool{
		id:      uuid.NewString()[:8],
		queue:   q,
		limiter: limiter,
		router:  router,
		cfg:     cfg,
	}
}

type PoolStats struct {
	Instance  string `json:"instance"`
	Processed int64  `json:"processed"`
	Retried   int64  `json:"retried"`
	Failed    int64  `json:"failed"`
}

func (p *Pool) Stats() PoolStats {
	return PoolStats{
		Instance:  p.id,
		Processed: p.processed.Load(),
		Retried:   p.retried.Load(),
		Failed:    p.failed.Load(),
	}
}

// Run pulls jobs until ctx is cancelled, then stops pulling and waits up to
// ShutdownTimeout for in-flight jobs. Jobs still running after that have their
// context cancelled and are left leased, so RequeueStale hands them out again.
func (p *Pool) Run(ctx context.Context) error {
	if !p.queue.Available() {
		return fmt.Errorf("worker pool %s: %w", p.id, queue.ErrQueueUnavailable)
	}

	jobCtx, cancelJobs := context.WithCancel(context.WithoutCancel(ctx))
	defer cancelJobs()

	logger.Infof("Worker pool %s starting with %d workers", p.id, p.cfg.Concurrency)

	var wg sync.WaitGroup
	for i := 0; i < p.cfg.Concurrency; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			p.loop(ctx, jobCtx, n)
		}(i + 1)
	}

	<-ctx.Done()
	logger.Infof("Worker pool %s draining in-flight jobs", p.id)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		logger.Infof("Worker pool %s stopped", p.id)
	case <-time.After(p.cfg.ShutdownTimeout):
		logger.Warnf("Worker pool %s drain timed out after %v, abandoning in-flight jobs", p.id, p.cfg.ShutdownTimeout)
		cancelJobs()
		<-done
	}

	return nil
}

func (p *Pool) loop(ctx, jobCtx context.Context, n int) {
	for {
		if ctx.Err() != nil {
			return
		}

		job, err := p.queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() == nil {
				logger.Errorf("Worker %s/%d: dequeue failed: %v", p.id, n, err)
			}
			p.sleep(ctx)
			continue
		}
		if job == nil {
			p.sleep(ctx)
			continue
		}

		if err := p.limiter.Wait(jobCtx); err != nil {
			logger.Warnf("Worker %s/%d: rate limiter aborted for job %s: %v", p.id, n, job.ID, err)
			continue
		}

		p.process(jobCtx, *job)
	}
}

func (p *Pool) sleep(ctx context.Context) {
	t := time.NewTimer(p.cfg.PollInterval)
	defer t.Stop()

	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// process runs one attempt of job and settles it with the queue.
func (p *Pool) process(ctx context.Context, job domain.Job) {
	job.Attempt++
	defer p.processed.Add(1)

	payload, err := job.Decode()
	if err != nil {
		if errors.Is(err, domain.ErrUnknownJobKind) {
			logger.Warnf("Skipping job %s: %v", job.ID, err)
			p.ack(ctx, job)
			return
		}
		logger.Errorf("Job %s has an undecodable payload: %v", job.ID, err)
		p.fail(ctx, job, err)
		return
	}

	rt, ok := p.router.lookup(job.Kind)
	if !ok {
		logger.Warnf("Skipping job %s: no handler for kind %s", job.ID, job.Kind)
		p.ack(ctx, job)
		return
	}

	start := time.Now()
	err = rt.handle(ctx, job, payload)
	if err == nil {
		logger.Debugf("Job %s (%s) done in %v on attempt %d", job.ID, job.Kind, time.Since(start), job.Attempt)
		p.ack(ctx, job)
		return
	}

	if ctx.Err() != nil {
		logger.Warnf("Job %s (%s) interrupted by shutdown: %v", job.ID, job.Kind, err)
		return
	}

	if Retryable(err) && !job.Exhausted() {
		delay := Backoff(p.cfg.BackoffBase, job.Attempt)
		logger.Warnf("Job %s (%s) attempt %d/%d failed, retrying in %v: %v",
			job.ID, job.Kind, job.Attempt, job.MaxAttempts, delay, err)

		if qerr := p.queue.Retry(ctx, job, delay, err); qerr != nil {
			logger.Errorf("Failed to schedule retry of job %s: %v", job.ID, qerr)
		}
		p.retried.Add(1)
		return
	}

	logger.Errorf("Job %s (%s) failed terminally on attempt %d/%d: %v",
		job.ID, job.Kind, job.Attempt, job.MaxAttempts, err)

	if rt.finalize != nil {
		rt.finalize(ctx, job, payload, err)
	}
	p.fail(ctx, job, err)
}

func (p *Pool) ack(ctx context.Context, job domain.Job) {
	if err := p.queue.Ack(ctx, job); err != nil {
		logger.Errorf("Failed to ack job %s: %v", job.ID, err)
	}
}

func (p *Pool) fail(ctx context.Context, job domain.Job, cause error) {
	p.failed.Add(1)
	if err := p.queue.Fail(ctx, job, cause); err != nil {
		logger.Errorf("Failed to move job %s to the failed list: %v", job.ID, err)
	}
}

// Backoff returns base * 2^(attempt-1).
func Backoff(base time.Duration, attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 16 {
		attempt = 16
	}
	return base * time.Duration(1<<(attempt-1))
}
