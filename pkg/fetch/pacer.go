package fetch

import (
	"context"
	"sync"
	"time"
)

// Pacer enforces a fixed minimum spacing between request starts. It is
// deliberately not a token bucket: there is no burst allowance, every
// caller waits until the full spacing from the previous start has
// elapsed. A single Pacer may be shared by several fetchers, which
// serializes their combined request rate against one origin.
type Pacer struct {
	mu    sync.Mutex
	delay time.Duration
	next  time.Time

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error
}

// NewPacer returns a pacer with the given spacing. A zero or negative
// delay yields a pacer that never waits.
func NewPacer(delay time.Duration) *Pacer {
	return &Pacer{
		delay: delay,
		now:   time.Now,
		sleep: sleepContext,
	}
}

// Wait blocks until the spacing from the previous request start has
// elapsed, or the context is cancelled. Concurrent callers reserve
// slots in arrival order.
func (p *Pacer) Wait(ctx context.Context) error {
	if p == nil || p.delay <= 0 {
		return nil
	}

	p.mu.Lock()
	now := p.now()
	wait := p.next.Sub(now)
	if wait <= 0 {
		wait = 0
		p.next = now.Add(p.delay)
	} else {
		p.next = p.next.Add(p.delay)
	}
	p.mu.Unlock()

	if wait == 0 {
		return nil
	}
	return p.sleep(ctx, wait)
}

// sleepContext sleeps for d unless the context is cancelled first.
func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
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
