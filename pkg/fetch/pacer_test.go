package fetch

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock drives a Pacer deterministically: sleeping advances the
// clock instead of waiting.
type fakeClock struct {
	cur   time.Time
	waits []time.Duration
}

func (c *fakeClock) install(p *Pacer) {
	p.now = func() time.Time { return c.cur }
	p.sleep = func(_ context.Context, d time.Duration) error {
		c.waits = append(c.waits, d)
		c.cur = c.cur.Add(d)
		return nil
	}
}

func TestPacerFixedSpacing(t *testing.T) {
	p := NewPacer(50 * time.Millisecond)
	clock := &fakeClock{cur: time.Unix(0, 0)}
	clock.install(p)

	ctx := context.Background()

	// The first call passes immediately, every later back-to-back call
	// waits out the full spacing.
	require.NoError(t, p.Wait(ctx))
	require.NoError(t, p.Wait(ctx))
	require.NoError(t, p.Wait(ctx))

	assert.Equal(t, []time.Duration{50 * time.Millisecond, 50 * time.Millisecond}, clock.waits)
}

func TestPacerSlowCallerSkipsWait(t *testing.T) {
	p := NewPacer(50 * time.Millisecond)
	clock := &fakeClock{cur: time.Unix(0, 0)}
	clock.install(p)

	ctx := context.Background()

	require.NoError(t, p.Wait(ctx))

	// More than the spacing passed between requests on its own, so the
	// pacer has nothing left to enforce.
	clock.cur = clock.cur.Add(300 * time.Millisecond)
	require.NoError(t, p.Wait(ctx))

	assert.Empty(t, clock.waits)
}

func TestPacerZeroDelayNeverWaits(t *testing.T) {
	p := NewPacer(0)
	clock := &fakeClock{cur: time.Unix(0, 0)}
	clock.install(p)

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Wait(context.Background()))
	}
	assert.Empty(t, clock.waits)
}

func TestPacerNilIsNoop(t *testing.T) {
	var p *Pacer
	assert.NoError(t, p.Wait(context.Background()))
}

func TestPacerContextCancelled(t *testing.T) {
	p := NewPacer(time.Minute)

	ctx, cancel := context.WithCancel(context.Background())

	// Burn the free first slot, then cancel before the second one.
	require.NoError(t, p.Wait(ctx))
	cancel()

	err := p.Wait(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestPacerSharedAcrossGoroutines(t *testing.T) {
	const delay = 20 * time.Millisecond
	p := NewPacer(delay)

	var wg sync.WaitGroup
	start := time.Now()
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 2; j++ {
				assert.NoError(t, p.Wait(context.Background()))
			}
		}()
	}
	wg.Wait()

	// Four starts across two goroutines leave three enforced gaps.
	assert.GreaterOrEqual(t, time.Since(start), 3*delay-delay/2)
}
