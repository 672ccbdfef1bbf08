package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/onurcolak/sms-dispatch/environments"
	"github.com/onurcolak/sms-dispatch/internal/domain"
	"github.com/onurcolak/sms-dispatch/internal/queue"
	"github.com/onurcolak/sms-dispatch/internal/service"
	"github.com/onurcolak/sms-dispatch/pkg/logger"
)

// statusRefresher runs a global reconciliation sweep in this process.
// It lets the scheduler fall back to inline sweeps when the queue is down.
type statusRefresher interface {
	RefreshGlobal(ctx context.Context, limit int) (service.ReconcileResult, error)
}

// sendingRecomputer rebuilds the counters of every campaign still sending, so a
// completion lost with an in-memory touch is picked up on the next sweep.
type sendingRecomputer interface {
	RecomputeSending(ctx context.Context) (int, error)
}

// Scheduler periodically hands a global reconciliation sweep to the worker pool and
// recovers jobs whose lease ran out.
type Scheduler struct {
	queue          queue.Queue
	refresher      statusRefresher
	aggregates     sendingRecomputer
	interval       time.Duration
	sweepLimit     int
	maxAttempts    int
	alertWebhook   string
	alertThreshold int
	alertClient    *resty.Client

	// Internal state
	running  bool
	stopChan chan struct{}
	doneChan chan struct{}
	mu       sync.RWMutex

	// Statistics
	lastRunAt       time.Time
	runsCount       int64
	jobsEnqueued    int64
	inlineRuns      int64
	messagesUpdated int64
	jobsRequeued    int64
	lastAlertSentAt time.Time

	consecutiveFailures int
}

func NewScheduler(
	q queue.Queue,
	refresher statusRefresher,
	aggregates sendingRecomputer,
	cfg environments.ReconcileConfig,
	maxAttempts int,
) *Scheduler {
	return &Scheduler{
		queue:          q,
		refresher:      refresher,
		aggregates:     aggregates,
		interval:       cfg.SweepInterval,
		sweepLimit:     cfg.SweepLimit,
		maxAttempts:    maxAttempts,
		alertWebhook:   cfg.AlertWebhookURL,
		alertThreshold: cfg.AlertThreshold,
		alertClient:    resty.New().SetTimeout(10 * time.Second),
	}
}

// StartWithParams overrides the sweep interval (minutes) and limit before starting.
// Zero values keep the configured ones.
func (s *Scheduler) StartWithParams(ctx context.Context, intervalMinutes, limit int) error {
	s.mu.Lock()
	if intervalMinutes > 0 {
		s.interval = time.Duration(intervalMinutes) * time.Minute
	}
	if limit > 0 {
		s.sweepLimit = limit
	}
	s.consecutiveFailures = 0
	s.mu.Unlock()

	return s.Start(ctx)
}

func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()

	if s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is already running")
		return nil
	}
	if s.interval <= 0 {
		s.mu.Unlock()
		return fmt.Errorf("sweep interval must be positive, got %v", s.interval)
	}

	s.running = true
	s.stopChan = make(chan struct{})
	s.doneChan = make(chan struct{})
	interval := s.interval
	s.mu.Unlock()

	logger.Infof("Starting reconciliation scheduler with interval: %v", interval)

	go s.run(ctx, interval)

	return nil
}

func (s *Scheduler) run(ctx context.Context, interval time.Duration) {
	defer close(s.doneChan)

	s.sweep(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.sweep(ctx)
			logger.Debugf("Next sweep in %v", interval)

		case <-s.stopChan:
			logger.Warnf("Scheduler received stop signal")
			return

		case <-ctx.Done():
			logger.Warnf("Scheduler context cancelled")
			s.mu.Lock()
			s.running = false
			s.mu.Unlock()
			return
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	s.mu.Lock()
	s.lastRunAt = time.Now()
	s.runsCount++
	runNumber := s.runsCount
	limit := s.sweepLimit
	s.mu.Unlock()

	if n, err := s.aggregates.RecomputeSending(ctx); err != nil {
		logger.Errorf("[Sweep #%d] Failed to recompute sending campaigns: %v", runNumber, err)
	} else if n > 0 {
		logger.Debugf("[Sweep #%d] Recomputed %d sending campaigns", runNumber, n)
	}

	if s.queue.Available() {
		requeued, err := s.queue.RequeueStale(ctx)
		if err != nil {
			logger.Errorf("[Sweep #%d] Failed to requeue stale jobs: %v", runNumber, err)
		} else if requeued > 0 {
			logger.Warnf("[Sweep #%d] Requeued %d jobs with expired leases", runNumber, requeued)
		}

		// The failure counter is fed by the job itself through RecordSweep.
		job, err := queue.Submit(ctx, s.queue, domain.RefreshStatuses{Limit: limit}, s.maxAttempts)
		if err == nil {
			s.mu.Lock()
			s.jobsEnqueued++
			s.jobsRequeued += int64(requeued)
			s.mu.Unlock()
			logger.Infof("[Sweep #%d] Enqueued reconciliation job %s (limit %d)", runNumber, job.ID, limit)
			return
		}
		logger.Errorf("[Sweep #%d] Failed to enqueue reconciliation job, sweeping inline: %v", runNumber, err)
	}

	res, err := s.refresher.RefreshGlobal(ctx, limit)

	s.mu.Lock()
	s.inlineRuns++
	s.mu.Unlock()

	s.recordOutcome(runNumber, res, err)
}

// RecordSweep counts the outcome of a global reconciliation that ran on a worker.
func (s *Scheduler) RecordSweep(res service.ReconcileResult, err error) {
	s.mu.RLock()
	runNumber := s.runsCount
	s.mu.RUnlock()

	s.recordOutcome(runNumber, res, err)
}

// recordOutcome resets the failure streak on a useful sweep and alerts once the
// streak reaches the threshold. A sweep where every lookup failed counts as failed.
func (s *Scheduler) recordOutcome(runNumber int64, res service.ReconcileResult, err error) {
	s.mu.Lock()
	s.messagesUpdated += int64(res.Updated)

	failed := err != nil || (res.Checked > 0 && res.Errors == res.Checked)
	if !failed {
		s.consecutiveFailures = 0
		s.mu.Unlock()
		logger.Infof("[Sweep #%d] Checked %d messages, %d updated, %d unchanged, %d errors",
			runNumber, res.Checked, res.Updated, res.Unchanged, res.Errors)
		return
	}

	s.consecutiveFailures++
	failures := s.consecutiveFailures
	alert := s.alertWebhook != "" && s.alertThreshold > 0 && failures >= s.alertThreshold
	s.mu.Unlock()

	if err != nil {
		logger.Errorf("[Sweep #%d] Sweep failed (consecutive: %d): %v", runNumber, failures, err)
	} else {
		logger.Warnf("[Sweep #%d] All %d provider lookups failed (consecutive: %d)", runNumber, res.Checked, failures)
	}

	if alert {
		go s.sendAlert(runNumber, failures, res)
	}
}

func (s *Scheduler) Stop() error {
	s.mu.Lock()

	if !s.running {
		s.mu.Unlock()
		logger.Warnf("Scheduler is not running")
		return nil
	}

	s.running = false
	stopChan := s.stopChan
	doneChan := s.doneChan
	s.mu.Unlock()

	close(stopChan)
	<-doneChan

	logger.Infof("Scheduler stopped")
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

func (s *Scheduler) GetStatus() SchedulerStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()

	status := SchedulerStatus{
		Running:             s.running,
		LastRunAt:           s.lastRunAt,
		RunsCount:           s.runsCount,
		JobsEnqueued:        s.jobsEnqueued,
		InlineRuns:          s.inlineRuns,
		MessagesUpdated:     s.messagesUpdated,
		JobsRequeued:        s.jobsRequeued,
		Interval:            s.interval,
		SweepLimit:          s.sweepLimit,
		ConsecutiveFailures: s.consecutiveFailures,
		LastAlertSentAt:     s.lastAlertSentAt,
	}

	if s.running && !s.lastRunAt.IsZero() {
		status.NextRunAt = s.lastRunAt.Add(s.interval)
	}

	return status
}

func (s *Scheduler) sendAlert(runNumber int64, failures int, res service.ReconcileResult) {
	payload := map[string]any{
		"alert":               "reconciliation_sweep_failing",
		"runNumber":           runNumber,
		"consecutiveFailures": failures,
		"checked":             res.Checked,
		"errors":              res.Errors,
		"timestamp":           time.Now().Format(time.RFC3339),
		"message":             fmt.Sprintf("Reconciliation sweep failed %d times in a row", failures),
	}

	resp, err := s.alertClient.R().
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(s.alertWebhook)
	if err != nil {
		logger.Errorf("Failed to send alert to webhook: %v", err)
		return
	}

	if resp.IsSuccess() {
		s.mu.Lock()
		s.lastAlertSentAt = time.Now()
		s.mu.Unlock()
		logger.Infof("Alert sent to %s (consecutive failures: %d)", s.alertWebhook, failures)
		return
	}
	logger.Warnf("Alert webhook returned status %d", resp.StatusCode())
}

type SchedulerStatus struct {
	Running             bool          `json:"running"`
	LastRunAt           time.Time     `json:"lastRunAt,omitempty"`
	NextRunAt           time.Time     `json:"nextRunAt,omitempty"`
	RunsCount           int64         `json:"runsCount"`
	JobsEnqueued        int64         `json:"jobsEnqueued"`
	InlineRuns          int64         `json:"inlineRuns"`
	MessagesUpdated     int64         `json:"messagesUpdated"`
	JobsRequeued        int64         `json:"jobsRequeued"`
	Interval            time.Duration `json:"interval"`
	SweepLimit          int           `json:"sweepLimit"`
	ConsecutiveFailures int           `json:"consecutiveFailures"`
	LastAlertSentAt     time.Time     `json:"lastAlertSentAt,omitempty"`
}
