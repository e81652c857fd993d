package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/wolfman30/coop-chat-agent/pkg/logging"
)

// LocalLimiter enforces a Policy inside one process. The rolling window is
// approximated by a token bucket refilled at MaxPerWindow per Window.
type LocalLimiter struct {
	policy   Policy
	logger   *logging.Logger
	now      func() time.Time
	sleep    func(context.Context, time.Duration) error
	observer WaitObserver

	mu      sync.Mutex
	buckets map[string]*localBucket
}

type localBucket struct {
	window  *rate.Limiter
	spacing *rate.Limiter
	day     string
	minutes map[string]struct{}
	sends   []time.Time
}

// LocalOption configures a LocalLimiter.
type LocalOption func(*LocalLimiter)

// WithLocalClock overrides the clock and sleeper, for tests.
func WithLocalClock(now func() time.Time, sleep func(context.Context, time.Duration) error) LocalOption {
	return func(l *LocalLimiter) {
		if now != nil {
			l.now = now
		}
		if sleep != nil {
			l.sleep = sleep
		}
	}
}

// WithLocalObserver records wait durations.
func WithLocalObserver(obs WaitObserver) LocalOption {
	return func(l *LocalLimiter) { l.observer = obs }
}

func NewLocalLimiter(policy Policy, logger *logging.Logger, opts ...LocalOption) *LocalLimiter {
	if logger == nil {
		logger = logging.Default()
	}
	l := &LocalLimiter{
		policy:  policy.normalized(),
		logger:  logger,
		now:     time.Now,
		sleep:   sleepCtx,
		buckets: make(map[string]*localBucket),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func (l *LocalLimiter) bucket(key string) *localBucket {
	b, ok := l.buckets[key]
	if ok {
		return b
	}
	b = &localBucket{
		window:  rate.NewLimiter(rate.Inf, 0),
		spacing: rate.NewLimiter(rate.Inf, 0),
		minutes: make(map[string]struct{}),
	}
	if p := l.policy; p.MaxPerWindow > 0 {
		b.window = rate.NewLimiter(rate.Every(p.Window/time.Duration(p.MaxPerWindow)), p.MaxPerWindow)
	}
	if p := l.policy; p.MinSpacing > 0 {
		b.spacing = rate.NewLimiter(rate.Every(p.MinSpacing), 1)
	}
	l.buckets[key] = b
	return b
}

// Wait blocks until a slot for key is reserved.
func (l *LocalLimiter) Wait(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	now := l.now()
	b := l.bucket(key)
	if day := now.Format("20060102"); b.day != day {
		b.day = day
		b.minutes = make(map[string]struct{})
	}
	if limit := l.policy.MaxDailyMinutes; limit > 0 {
		if _, active := b.minutes[now.Format("1504")]; !active && len(b.minutes) >= limit {
			l.mu.Unlock()
			return ErrDailyLimit
		}
	}

	rw := b.window.ReserveN(now, 1)
	rs := b.spacing.ReserveN(now, 1)
	if !rw.OK() || !rs.OK() {
		rw.CancelAt(now)
		rs.CancelAt(now)
		l.mu.Unlock()
		return fmt.Errorf("ratelimit: %s cannot be satisfied", key)
	}
	delay := rw.DelayFrom(now)
	if d := rs.DelayFrom(now); d > delay {
		delay = d
	}
	if exceedsDeadline(ctx, now, delay) {
		rw.CancelAt(now)
		rs.CancelAt(now)
		l.mu.Unlock()
		return fmt.Errorf("%w (key %s, wait %s)", ErrDeadline, key, delay)
	}
	at := now.Add(delay)
	b.minutes[at.Format("1504")] = struct{}{}
	b.sends = append(pruneBefore(b.sends, at.Add(-l.policy.Window)), at)
	l.mu.Unlock()

	if delay > 0 {
		l.logger.Debug("rate limit wait", "provider", key, "wait", delay.String())
		if err := l.sleep(ctx, delay); err != nil {
			l.mu.Lock()
			rw.CancelAt(l.now())
			rs.CancelAt(l.now())
			l.mu.Unlock()
			return err
		}
	}
	if l.observer != nil {
		l.observer(key, delay)
	}
	return nil
}

// Status reports the current usage of key.
func (l *LocalLimiter) Status(_ context.Context, key string) (Status, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	st := Status{Key: key, MaxPerWindow: l.policy.MaxPerWindow, MaxDailyMinutes: l.policy.MaxDailyMinutes}
	b, ok := l.buckets[key]
	if !ok {
		return st, nil
	}
	recent := pruneBefore(b.sends, now.Add(-l.policy.Window))
	st.WindowCount = len(recent)
	if b.day == now.Format("20060102") {
		st.DailyActiveMinutes = len(b.minutes)
	}
	if n := len(b.sends); n > 0 {
		st.LastSend = b.sends[n-1]
	}
	return st, nil
}

func pruneBefore(ts []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(ts) && !ts[i].After(cutoff) {
		i++
	}
	return ts[i:]
}
