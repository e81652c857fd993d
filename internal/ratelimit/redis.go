package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

var tracer = otel.Tracer("coop.internal.ratelimit")

// reserveScript atomically checks all limits and records the send when they
// pass. It returns {1, 0} on success, {0, wait_ms} when the caller must wait
// and {0, -1} when the daily budget is spent.
var reserveScript = redis.NewScript(`
local window_key = KEYS[1]
local last_key = KEYS[2]
local daily_key = KEYS[3]
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local max = tonumber(ARGV[3])
local spacing = tonumber(ARGV[4])
local daily_max = tonumber(ARGV[5])
local minute = ARGV[6]
local member = ARGV[7]
local daily_ttl = tonumber(ARGV[8])

redis.call('ZREMRANGEBYSCORE', window_key, '-inf', now - window)

local last = tonumber(redis.call('GET', last_key) or '0')
if spacing > 0 and last > 0 and now - last < spacing then
  return {0, spacing - (now - last)}
end

if max > 0 then
  local count = redis.call('ZCARD', window_key)
  if count >= max then
    local oldest = redis.call('ZRANGE', window_key, 0, 0, 'WITHSCORES')
    local wait = tonumber(oldest[2]) + window - now
    if wait < 1 then wait = 1 end
    return {0, wait}
  end
end

if daily_max > 0 and redis.call('SISMEMBER', daily_key, minute) == 0 then
  if redis.call('SCARD', daily_key) >= daily_max then
    return {0, -1}
  end
end

redis.call('ZADD', window_key, ARGV[1], member)
redis.call('PEXPIRE', window_key, window)
local ttl = window
if spacing > ttl then ttl = spacing end
redis.call('SET', last_key, ARGV[1], 'PX', ttl)
redis.call('SADD', daily_key, minute)
redis.call('EXPIRE', daily_key, daily_ttl)
return {1, 0}
`)

// RedisLimiter shares limits across processes through Redis.
type RedisLimiter struct {
	client   redis.UniversalClient
	policy   Policy
	prefix   string
	logger   *logging.Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	observer WaitObserver
}

// RedisOption configures a RedisLimiter.
type RedisOption func(*RedisLimiter)

// WithKeyPrefix namespaces the Redis keys.
func WithKeyPrefix(prefix string) RedisOption {
	return func(l *RedisLimiter) {
		if prefix != "" {
			l.prefix = prefix
		}
	}
}

// WithRedisClock overrides the clock and sleeper, for tests.
func WithRedisClock(now func() time.Time, sleep func(context.Context, time.Duration) error) RedisOption {
	return func(l *RedisLimiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// WithRedisObserver records wait durations.
func WithRedisObserver(obs WaitObserver) RedisOption {
	return func(l *RedisLimiter) { l.observer = obs }
}

// NewRedisLimiter creates a limiter backed by client.
func NewRedisLimiter(client redis.UniversalClient, policy Policy, logger *logging.Logger, opts ...RedisOption) *RedisLimiter {
	if client == nil {
		panic("ratelimit: redis client cannot be nil")
	}
	if logger == nil {
		logger = logging.Default()
	}
	l := &RedisLimiter{
		client: client,
		policy: policy.normalized(),
		prefix: "ratelimit",
		logger: logger,
		now:    time.Now,
		sleep:  sleepCtx,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *RedisLimiter) keys(key string, now time.Time) []string {
	return []string{
		fmt.Sprintf("%s:%s:window", l.prefix, key),
		fmt.Sprintf("%s:%s:last", l.prefix, key),
		fmt.Sprintf("%s:%s:daily:%s", l.prefix, key, now.Format("20060102")),
	}
}

// Reserve attempts to take a slot without blocking. It returns how long the
// caller must wait before retrying, or zero when the slot was taken.
func (l *RedisLimiter) Reserve(ctx context.Context, key string) (time.Duration, error) {
	now := l.now()
	res, err := reserveScript.Run(ctx, l.client, l.keys(key, now),
		now.UnixMilli(),
		l.policy.Window.Milliseconds(),
		l.policy.MaxPerWindow,
		l.policy.MinSpacing.Milliseconds(),
		l.policy.MaxDailyMinutes,
		now.Format("1504"),
		strconv.FormatInt(now.UnixNano(), 10)+"-"+uuid.NewString(),
		int64((48 * time.Hour).Seconds()),
	).Int64Slice()
	if err != nil {
		return 0, fmt.Errorf("ratelimit: reserve %s: %w", key, err)
	}
	if len(res) != 2 {
		return 0, fmt.Errorf("ratelimit: reserve %s: unexpected reply %v", key, res)
	}
	switch {
	case res[0] == 1:
		return 0, nil
	case res[1] < 0:
		return untilNextDay(now), ErrDailyLimit
	default:
		return time.Duration(res[1]) * time.Millisecond, nil
	}
}

// Wait blocks until a slot for key is reserved.
func (l *RedisLimiter) Wait(ctx context.Context, key string) error {
	ctx, span := tracer.Start(ctx, "ratelimit.wait")
	defer span.End()
	span.SetAttributes(attribute.String("ratelimit.key", key))

	start := l.now()
	for {
		wait, err := l.Reserve(ctx, key)
		if err != nil {
			span.RecordError(err)
			return err
		}
		if wait == 0 {
			waited := l.now().Sub(start)
			span.SetAttributes(attribute.Int64("ratelimit.waited_ms", waited.Milliseconds()))
			if l.observer != nil {
				l.observer(key, waited)
			}
			return nil
		}
		if exceedsDeadline(ctx, l.now(), wait) {
			return fmt.Errorf("%w (key %s, wait %s)", ErrDeadline, key, wait)
		}
		l.logger.Debug("rate limit wait", "provider", key, "wait", wait.String())
		if err := l.sleep(ctx, wait); err != nil {
			return err
		}
	}
}

// Status reports the current usage of key.
func (l *RedisLimiter) Status(ctx context.Context, key string) (Status, error) {
	now := l.now()
	keys := l.keys(key, now)
	st := Status{Key: key, MaxPerWindow: l.policy.MaxPerWindow, MaxDailyMinutes: l.policy.MaxDailyMinutes}

	from := strconv.FormatInt(now.Add(-l.policy.Window).UnixMilli()+1, 10)
	count, err := l.client.ZCount(ctx, keys[0], from, "+inf").Result()
	if err != nil {
		return st, fmt.Errorf("ratelimit: status %s: %w", key, err)
	}
	st.WindowCount = int(count)

	minutes, err := l.client.SCard(ctx, keys[2]).Result()
	if err != nil {
		return st, fmt.Errorf("ratelimit: status %s: %w", key, err)
	}
	st.DailyActiveMinutes = int(minutes)

	last, err := l.client.Get(ctx, keys[1]).Int64()
	switch {
	case err == redis.Nil:
	case err != nil:
		return st, fmt.Errorf("ratelimit: status %s: %w", key, err)
	default:
		st.LastSend = time.UnixMilli(last)
	}
	return st, nil
}
