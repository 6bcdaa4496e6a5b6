package clients

import (
	"context"
	"sync"
	"time"
)

// SleepFunc pauses for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Sleep is the default SleepFunc
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Pacer enforces a minimum gap between the completion of one request and the
// start of the next. Time spent processing the response counts toward the gap.
type Pacer struct {
	floor time.Duration
	now   func() time.Time
	sleep SleepFunc

	mu   sync.Mutex
	last time.Time
}

// NewPacer creates a pacer with the given floor. nil now or sleep fall back
// to the wall clock.
func NewPacer(floor time.Duration, now func() time.Time, sleep SleepFunc) *Pacer {
	if now == nil {
		now = time.Now
	}
	if sleep == nil {
		sleep = Sleep
	}
	return &Pacer{floor: floor, now: now, sleep: sleep}
}

// MarkCompleted records that a paced request just finished
func (p *Pacer) MarkCompleted() {
	p.mu.Lock()
	p.last = p.now()
	p.mu.Unlock()
}

// Remaining returns how long Wait would sleep right now
func (p *Pacer) Remaining() time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last.IsZero() || p.floor <= 0 {
		return 0
	}
	remaining := p.floor - p.now().Sub(p.last)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// Wait sleeps for the remainder of the floor since the last completion
func (p *Pacer) Wait(ctx context.Context) error {
	d := p.Remaining()
	if d <= 0 {
		return ctx.Err()
	}
	return p.sleep(ctx, d)
}
