package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"

	"github.com/onurcolak/sms-dispatch/internal/domain"
)

// Every state change touches more than one key, so each one is a script and runs
// atomically on the server regardless of how many worker processes share the queue.
var (
	enqueueScript = valkey.NewLuaScript(`
redis.call('SET', KEYS[2], ARGV[2])
redis.call('RPUSH', KEYS[1], ARGV[1])
return 1
`)

	// KEYS: waiting, active, delayed. ARGV: now ms, lease deadline ms, job key prefix.
	dequeueScript = valkey.NewLuaScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1], 'LIMIT', 0, 100)
for _, id in ipairs(due) do
  redis.call('ZREM', KEYS[3], id)
  redis.call('RPUSH', KEYS[1], id)
end
while true do
  local id = redis.call('LPOP', KEYS[1])
  if not id then
    return false
  end
  local body = redis.call('GET', ARGV[3] .. id)
  if body then
    redis.call('ZADD', KEYS[2], ARGV[2], id)
    return body
  end
end
`)

	// KEYS: active, job. ARGV: id.
	ackScript = valkey.NewLuaScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[2])
return 1
`)

	// KEYS: active, delayed, job. ARGV: id, run-at ms, envelope.
	retryScript = valkey.NewLuaScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('SET', KEYS[3], ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

	// KEYS: active, failed, job. ARGV: id, envelope, history size.
	failScript = valkey.NewLuaScript(`
redis.call('ZREM', KEYS[1], ARGV[1])
redis.call('DEL', KEYS[3])
redis.call('LPUSH', KEYS[2], ARGV[2])
redis.call('LTRIM', KEYS[2], 0, tonumber(ARGV[3]) - 1)
return 1
`)

	// KEYS: waiting, delayed, job. ARGV: id.
	removeScript = valkey.NewLuaScript(`
if redis.call('EXISTS', KEYS[3]) == 0 then
  return -1
end
local n = redis.call('LREM', KEYS[1], 0, ARGV[1]) + redis.call('ZREM', KEYS[2], ARGV[1])
if n > 0 then
  redis.call('DEL', KEYS[3])
end
return n
`)

	// KEYS: active, waiting. ARGV: now ms.
	requeueScript = valkey.NewLuaScript(`
local stale = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(stale) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('RPUSH', KEYS[2], id)
end
return #stale
`)
)

// ValkeyQueue is the shared queue backend used when several processes run workers.
type ValkeyQueue struct {
	client valkey.Client
	prefix string
	lease  time.Duration
}

func NewValkeyQueue(client valkey.Client, prefix string, lease time.Duration) *ValkeyQueue {
	return &ValkeyQueue{client: client, prefix: prefix, lease: lease}
}

func (q *ValkeyQueue) key(name string) string { return q.prefix + ":" + name }

func (q *ValkeyQueue) jobPrefix() string { return q.prefix + ":job:" }

func (q *ValkeyQueue) jobKey(id string) string { return q.jobPrefix() + id }

func (q *ValkeyQueue) Available() bool { return true }

func (q *ValkeyQueue) Enqueue(ctx context.Context, job domain.Job) error {
	body, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	keys := []string{q.key("waiting"), q.jobKey(job.ID)}
	if err := enqueueScript.Exec(ctx, q.client, keys, []string{job.ID, string(body)}).Error(); err != nil {
		return fmt.Errorf("failed to enqueue job %s: %w", job.ID, err)
	}
	return nil
}

func (q *ValkeyQueue) Dequeue(ctx context.Context) (*domain.Job, error) {
	now := time.Now()
	keys := []string{q.key("waiting"), q.key("active"), q.key("delayed")}
	args := []string{millis(now), millis(now.Add(q.lease)), q.jobPrefix()}

	body, err := dequeueScript.Exec(ctx, q.client, keys, args).ToString()
	if err != nil {
		if valkey.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to dequeue job: %w", err)
	}

	var job domain.Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return nil, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	return &job, nil
}

func (q *ValkeyQueue) Ack(ctx context.Context, job domain.Job) error {
	keys := []string{q.key("active"), q.jobKey(job.ID)}
	if err := ackScript.Exec(ctx, q.client, keys, []string{job.ID}).Error(); err != nil {
		return fmt.Errorf("failed to ack job %s: %w", job.ID, err)
	}
	return nil
}

func (q *ValkeyQueue) Retry(ctx context.Context, job domain.Job, delay time.Duration, cause error) error {
	body, err := json.Marshal(withCause(job, cause))
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	keys := []string{q.key("active"), q.key("delayed"), q.jobKey(job.ID)}
	args := []string{job.ID, millis(time.Now().Add(delay)), string(body)}
	if err := retryScript.Exec(ctx, q.client, keys, args).Error(); err != nil {
		return fmt.Errorf("failed to schedule retry of job %s: %w", job.ID, err)
	}
	return nil
}

func (q *ValkeyQueue) Fail(ctx context.Context, job domain.Job, cause error) error {
	body, err := json.Marshal(withCause(job, cause))
	if err != nil {
		return fmt.Errorf("failed to marshal job %s: %w", job.ID, err)
	}

	keys := []string{q.key("active"), q.key("failed"), q.jobKey(job.ID)}
	args := []string{job.ID, string(body), strconv.Itoa(failedHistory)}
	if err := failScript.Exec(ctx, q.client, keys, args).Error(); err != nil {
		return fmt.Errorf("failed to fail job %s: %w", job.ID, err)
	}
	return nil
}

func (q *ValkeyQueue) Remove(ctx context.Context, jobID string) (bool, error) {
	keys := []string{q.key("waiting"), q.key("delayed"), q.jobKey(jobID)}

	n, err := removeScript.Exec(ctx, q.client, keys, []string{jobID}).AsInt64()
	if err != nil {
		return false, fmt.Errorf("failed to remove job %s: %w", jobID, err)
	}
	if n < 0 {
		return false, fmt.Errorf("%w: %s", ErrJobNotFound, jobID)
	}
	return n > 0, nil
}

func (q *ValkeyQueue) RequeueStale(ctx context.Context) (int, error) {
	keys := []string{q.key("active"), q.key("waiting")}

	n, err := requeueScript.Exec(ctx, q.client, keys, []string{millis(time.Now())}).AsInt64()
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale jobs: %w", err)
	}
	return int(n), nil
}

func (q *ValkeyQueue) Stats(ctx context.Context) (Stats, error) {
	stats := Stats{Backend: "redis"}

	var err error
	if stats.Waiting, err = q.client.Do(ctx, q.client.B().Llen().Key(q.key("waiting")).Build()).AsInt64(); err != nil {
		return stats, fmt.Errorf("failed to count waiting jobs: %w", err)
	}
	if stats.Active, err = q.client.Do(ctx, q.client.B().Zcard().Key(q.key("active")).Build()).AsInt64(); err != nil {
		return stats, fmt.Errorf("failed to count active jobs: %w", err)
	}
	if stats.Delayed, err = q.client.Do(ctx, q.client.B().Zcard().Key(q.key("delayed")).Build()).AsInt64(); err != nil {
		return stats, fmt.Errorf("failed to count delayed jobs: %w", err)
	}
	if stats.Failed, err = q.client.Do(ctx, q.client.B().Llen().Key(q.key("failed")).Build()).AsInt64(); err != nil {
		return stats, fmt.Errorf("failed to count failed jobs: %w", err)
	}

	return stats, nil
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}
