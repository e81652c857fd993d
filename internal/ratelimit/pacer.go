package ratelimit

import (
	"context"
	"math/rand/v2"
	"time"
)

// Pacer sleeps a random duration in [Min, Max] to make outbound traffic look
// human. The pause only blocks the calling send.
type Pacer struct {
	Min time.Duration
	Max time.Duration

	rand  func(n int64) int64
	sleep func(context.Context, time.Duration) error
}

func NewPacer(lo, hi time.Duration) *Pacer {
	if lo < 0 {
		lo = 0
	}
	if hi < lo {
		hi = lo
	}
	return &Pacer{Min: lo, Max: hi, rand: rand.Int64N, sleep: sleepCtx}
}

// WithSleeper replaces the sleeper, for tests.
func (p *Pacer) WithSleeper(sleep func(context.Context, time.Duration) error) *Pacer {
	if sleep != nil {
		p.sleep = sleep
	}
	return p
}

// Delay picks the next pause.
func (p *Pacer) Delay() time.Duration {
	if p == nil || p.Max <= 0 {
		return 0
	}
	span := int64(p.Max - p.Min)
	if span <= 0 {
		return p.Min
	}
	return p.Min + time.Duration(p.rand(span+1))
}

// Pause sleeps for a random delay and returns it.
func (p *Pacer) Pause(ctx context.Context) (time.Duration, error) {
	d := p.Delay()
	if d == 0 {
		return 0, ctx.Err()
	}
	if exceedsDeadline(ctx, time.Now(), d) {
		return 0, ErrDeadline
	}
	return d, p.sleep(ctx, d)
}
