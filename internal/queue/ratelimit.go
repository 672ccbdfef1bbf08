package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/valkey-io/valkey-go"
	"golang.org/x/time/rate"
)

// KEYS: counter. ARGV: window ms, max. Returns 0 when allowed, else ms until the window resets.
var windowScript = valkey.NewLuaScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
if n <= tonumber(ARGV[2]) then
  return 0
end
local ttl = redis.call('PTTL', KEYS[1])
if ttl < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
  ttl = tonumber(ARGV[1])
end
return ttl
`)

// WindowLimiter is a fixed-window counter shared by every process on the same server.
type WindowLimiter struct {
	client valkey.Client
	key    string
	limit  int
	window time.Duration
}

func NewWindowLimiter(client valkey.Client, prefix string, limit int, window time.Duration) *WindowLimiter {
	return &WindowLimiter{client: client, key: prefix + ":ratelimit", limit: limit, window: window}
}

func (l *WindowLimiter) Wait(ctx context.Context) error {
	args := []string{strconv.FormatInt(l.window.Milliseconds(), 10), strconv.Itoa(l.limit)}

	for {
		wait, err := windowScript.Exec(ctx, l.client, []string{l.key}, args).AsInt64()
		if err != nil {
			return fmt.Errorf("failed to check rate limit: %w", err)
		}
		if wait == 0 {
			return nil
		}

		timer := time.NewTimer(time.Duration(wait) * time.Millisecond)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// LocalLimiter spreads limit starts evenly over window within one process.
type LocalLimiter struct {
	limiter *rate.Limiter
}

func NewLocalLimiter(limit int, window time.Duration) *LocalLimiter {
	if limit <= 0 || window <= 0 {
		return &LocalLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	return &LocalLimiter{limiter: rate.NewLimiter(rate.Every(window/time.Duration(limit)), limit)}
}

func (l *LocalLimiter) Wait(ctx context.Context) error {
	return l.limiter.Wait(ctx)
}
