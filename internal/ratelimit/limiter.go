// Package ratelimit paces outbound sends per provider.
//
// A Limiter blocks until the provider has capacity: at most MaxPerWindow
// sends in any rolling Window, at least MinSpacing between two consecutive
// sends, and no more than MaxDailyMinutes distinct active minutes per day.
// A wait that would outlive the caller's context deadline fails immediately
// instead of sleeping.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrDeadline is returned when the required wait exceeds the context deadline.
	ErrDeadline = errors.New("ratelimit: wait would exceed context deadline")
	// ErrDailyLimit is returned when the daily active-minutes budget is spent.
	ErrDailyLimit = errors.New("ratelimit: daily activity budget exhausted")
)

// Policy describes the limits enforced for one key.
type Policy struct {
	MaxPerWindow    int
	Window          time.Duration
	MinSpacing      time.Duration
	MaxDailyMinutes int
}

// DefaultWHAPIPolicy mirrors the vendor's recommended ceiling.
func DefaultWHAPIPolicy() Policy {
	return Policy{
		MaxPerWindow:    12,
		Window:          time.Minute,
		MinSpacing:      5 * time.Second,
		MaxDailyMinutes: 360,
	}
}

func (p Policy) normalized() Policy {
	if p.Window <= 0 {
		p.Window = time.Minute
	}
	if p.MaxPerWindow < 0 {
		p.MaxPerWindow = 0
	}
	if p.MinSpacing < 0 {
		p.MinSpacing = 0
	}
	if p.MaxDailyMinutes < 0 {
		p.MaxDailyMinutes = 0
	}
	return p
}

// Limiter reserves a send slot for key, blocking until one is available.
type Limiter interface {
	Wait(ctx context.Context, key string) error
}

// StatusReporter exposes usage for operators.
type StatusReporter interface {
	Status(ctx context.Context, key string) (Status, error)
}

// Status is a snapshot of a key's usage.
type Status struct {
	Key                string
	WindowCount        int
	MaxPerWindow       int
	DailyActiveMinutes int
	MaxDailyMinutes    int
	LastSend           time.Time
}

func (s Status) String() string {
	last := "never"
	if !s.LastSend.IsZero() {
		last = s.LastSend.Format(time.RFC3339)
	}
	return fmt.Sprintf("%s: window %d/%d, daily minutes %d/%d, last send %s",
		s.Key, s.WindowCount, s.MaxPerWindow, s.DailyActiveMinutes, s.MaxDailyMinutes, last)
}

// WaitObserver is notified of how long each successful Wait blocked.
type WaitObserver func(key string, waited time.Duration)

// Noop never blocks.
type Noop struct{}

func (Noop) Wait(ctx context.Context, _ string) error { return ctx.Err() }

// sleepCtx sleeps for d unless ctx ends first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// exceedsDeadline reports whether sleeping d from now overruns ctx.
func exceedsDeadline(ctx context.Context, now time.Time, d time.Duration) bool {
	deadline, ok := ctx.Deadline()
	return ok && now.Add(d).After(deadline)
}

func untilNextDay(now time.Time) time.Duration {
	y, m, d := now.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, now.Location()).Sub(now)
}
